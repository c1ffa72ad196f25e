package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/marcelsud/webhook-outbox/config"
	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/marcelsud/webhook-outbox/delivery/memory"
	"github.com/marcelsud/webhook-outbox/endpoints"
)

// Triggers one event against the configured endpoints and waits for the
// first attempts to finish. Useful for smoke-testing an endpoints.yaml.
func main() {
	eventType := flag.String("event", "test.ping", "event type to trigger")
	data := flag.String("data", `{"message":"hello"}`, "event data as JSON")
	flag.Parse()

	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx := context.Background()

	if !json.Valid([]byte(*data)) {
		fmt.Println("data must be valid JSON")
		return
	}

	loader := endpoints.NewLoader()
	if err := loader.Load(cfg.EndpointsFile); err != nil {
		fmt.Println(err)
		return
	}

	repo := memory.NewRepository()
	defer repo.Close(ctx)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	executor := delivery.NewExecutor(repo, logger)
	dispatcher := delivery.NewDispatcher(repo, executor, loader, logger)

	created, err := dispatcher.TriggerEvent(ctx, *eventType, json.RawMessage(*data))
	if err != nil {
		fmt.Println(err)
		return
	}

	for _, d := range created {
		out, err := executor.Execute(ctx, d.ID)
		if err != nil {
			fmt.Println(err)
			continue
		}
		fmt.Printf("%s -> %s (%s)\n", out.WebhookID, out.Status, out.URL)
	}
}
