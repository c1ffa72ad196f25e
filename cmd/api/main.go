package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelsud/webhook-outbox/config"
	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/marcelsud/webhook-outbox/delivery/memory"
	"github.com/marcelsud/webhook-outbox/delivery/postgres"
	deliveryredis "github.com/marcelsud/webhook-outbox/delivery/redis"
	"github.com/marcelsud/webhook-outbox/endpoints"
	"github.com/marcelsud/webhook-outbox/internal/http/chi"
	"github.com/marcelsud/webhook-outbox/metrics"
)

const TIMEOUT = 30 * time.Second

/*
 * As importações devem ser feitas apenas em uma direção: para baixo. O aplicativo (api, cli) importa camadas de negócios,
 * que importam a camada de armazenamento
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	repo, err := newRepository(ctx, cfg)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer repo.Close(ctx)

	loader := endpoints.NewLoader()
	if err := loader.Load(cfg.EndpointsFile); err != nil {
		fmt.Println(err)
		return
	}

	collector := metrics.NewStoreCollector(repo)
	exporter, err := metrics.NewOTelExporter(collector)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer exporter.Shutdown(ctx)

	executor := delivery.NewExecutor(repo, logger,
		delivery.WithClient(&http.Client{Timeout: cfg.RequestTimeout()}),
		delivery.WithRecorder(exporter),
	)
	dispatcher := delivery.NewDispatcher(repo, executor, loader, logger,
		delivery.WithWorkers(cfg.Workers),
		delivery.WithSweepInterval(cfg.SweepInterval()),
		delivery.WithClaimLease(cfg.ClaimLease()),
	)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if cfg.Retention() > 0 {
		go retentionLoop(ctx, repo, cfg.Retention(), logger)
	}

	s := delivery.NewService(repo, dispatcher.Enqueue)
	r := chi.DeliveryHandlers(ctx, s, dispatcher, exporter.ServeHTTP())
	http.Handle("/", r)
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      http.DefaultServeMux,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	fmt.Printf("Listening on port %s\n", cfg.Port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}
	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
}

func newRepository(ctx context.Context, cfg *config.Config) (delivery.Repository, error) {
	switch cfg.Storage {
	case "redis":
		return deliveryredis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "postgres":
		repo, err := postgres.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			repo.Close(ctx)
			return nil, err
		}
		return repo, nil
	default:
		return memory.NewRepository(), nil
	}
}

// retentionLoop purges terminal deliveries past the retention window
func retentionLoop(ctx context.Context, repo delivery.Repository, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := repo.PurgeOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Error("purging old deliveries", slog.String("error", err.Error()))
				continue
			}
			if purged > 0 {
				logger.Info("purged old deliveries", slog.Int("count", purged))
			}
		}
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}
