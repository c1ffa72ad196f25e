package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcelsud/webhook-outbox/delivery/payload"
	"github.com/marcelsud/webhook-outbox/delivery/signature"
	"github.com/marcelsud/webhook-outbox/endpoints"
)

// Target describes where a scheduled delivery should go. The dispatcher
// accepts explicit targets as well as endpoint fan-out via TriggerEvent.
type Target struct {
	WebhookID   string
	URL         string
	Secret      string
	HTTPMethod  string
	Headers     map[string]string
	MaxAttempts int
}

// ScheduleOptions tunes a single schedule call.
type ScheduleOptions struct {
	// Delay postpones the first attempt; zero means deliver immediately.
	Delay time.Duration
}

/* Dispatcher owns the delivery lifecycle outside a single attempt:
 * scheduling new deliveries, fanning events out to subscribed
 * endpoints, running the worker pool that executes attempts, and
 * sweeping due retries back into the queue.
 *
 * Queueing is best-effort: the buffered channel gives low latency for
 * fresh deliveries, and the periodic sweep picks up anything the
 * channel missed (full buffer, process restart, delayed schedules).
 */
type Dispatcher struct {
	repo      Repository
	executor  *Executor
	endpoints *endpoints.Loader
	logger    *slog.Logger
	now       func() time.Time

	workers       int
	sweepInterval time.Duration
	claimLease    time.Duration

	queue chan string
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// DispatcherOption configures optional Dispatcher settings.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithSweepInterval sets how often due retries are swept.
func WithSweepInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.sweepInterval = interval
		}
	}
}

// WithClaimLease sets how long a Delivering claim may stand before the
// sweeper releases it back to Retrying.
func WithClaimLease(lease time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if lease > 0 {
			d.claimLease = lease
		}
	}
}

// WithDispatcherClock replaces the time source, for tests.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher with dependency injection. The
// endpoint loader may be nil when only explicit-target scheduling is
// used.
func NewDispatcher(repo Repository, executor *Executor, loader *endpoints.Loader, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		repo:          repo,
		executor:      executor,
		endpoints:     loader,
		logger:        logger,
		now:           time.Now,
		workers:       4,
		sweepInterval: 15 * time.Second,
		claimLease:    2 * time.Minute,
		queue:         make(chan string, 1024),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

/* Schedule creates one delivery record for an event and queues it. The
 * envelope is serialized and signed exactly once here; every later
 * attempt re-sends the same bytes, so signatures stay valid across
 * retries.
 */
func (d *Dispatcher) Schedule(ctx context.Context, target Target, eventType string, data interface{}, opts ScheduleOptions) (Delivery, error) {
	if err := payload.ValidateEventType(eventType); err != nil {
		return Delivery{}, fmt.Errorf("validating event type: %w", err)
	}
	if _, err := url.ParseRequestURI(target.URL); err != nil {
		return Delivery{}, fmt.Errorf("validating target url: %w", err)
	}

	now := d.now()
	env, err := payload.New(eventType, now, data)
	if err != nil {
		return Delivery{}, fmt.Errorf("building envelope: %w", err)
	}
	body, err := env.Bytes()
	if err != nil {
		return Delivery{}, fmt.Errorf("serializing envelope: %w", err)
	}

	maxAttempts := target.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	record := Delivery{
		ID:          uuid.New().String(),
		WebhookID:   target.WebhookID,
		EventType:   eventType,
		EventData:   env.Data,
		URL:         target.URL,
		HTTPMethod:  target.HTTPMethod,
		Headers:     cloneMap(target.Headers),
		Payload:     body,
		Signature:   signature.Sign(body, target.Secret),
		Status:      Pending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		ScheduledAt: now.Add(opts.Delay),
	}

	if err := d.repo.Create(ctx, record); err != nil {
		return Delivery{}, fmt.Errorf("creating delivery: %w", err)
	}

	if opts.Delay <= 0 {
		d.Enqueue(record.ID)
	}

	d.logger.Info("delivery scheduled",
		slog.String("delivery_id", record.ID),
		slog.String("webhook_id", record.WebhookID),
		slog.String("event_type", eventType))

	return record, nil
}

/* TriggerEvent fans one event out to every active endpoint subscribed
 * to its type, creating an independent delivery per endpoint. A failure
 * creating one delivery does not roll back the others.
 */
func (d *Dispatcher) TriggerEvent(ctx context.Context, eventType string, data interface{}) ([]Delivery, error) {
	if d.endpoints == nil {
		return nil, errors.New("no endpoint loader configured")
	}
	if err := payload.ValidateEventType(eventType); err != nil {
		return nil, fmt.Errorf("validating event type: %w", err)
	}

	matched := d.endpoints.ForEvent(eventType)
	created := make([]Delivery, 0, len(matched))
	var errs []error

	for _, ep := range matched {
		record, err := d.Schedule(ctx, Target{
			WebhookID:   ep.WebhookID,
			URL:         ep.URL,
			Secret:      ep.Secret,
			HTTPMethod:  ep.HTTPMethod,
			Headers:     ep.Headers,
			MaxAttempts: ep.MaxAttempts,
		}, eventType, data, ScheduleOptions{})
		if err != nil {
			d.logger.Error("scheduling delivery for endpoint",
				slog.String("webhook_id", ep.WebhookID),
				slog.String("event_type", eventType),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("endpoint %s: %w", ep.WebhookID, err))
			continue
		}
		created = append(created, record)
	}

	return created, errors.Join(errs...)
}

// Enqueue hands a delivery id to the worker pool without blocking. A
// full queue is not an error: the sweep will pick the record up.
func (d *Dispatcher) Enqueue(id string) {
	select {
	case d.queue <- id:
	default:
		d.logger.Warn("delivery queue full, deferring to sweep",
			slog.String("delivery_id", id))
	}
}

/* SweepDueRetries releases expired claims and queues every delivery
 * whose retry or schedule time has arrived. Returns the number queued.
 */
func (d *Dispatcher) SweepDueRetries(ctx context.Context, limit int) (int, error) {
	now := d.now()

	released, err := d.repo.ReleaseStale(ctx, now.Add(-d.claimLease))
	if err != nil {
		return 0, fmt.Errorf("releasing stale claims: %w", err)
	}
	if released > 0 {
		d.logger.Warn("released stale delivery claims", slog.Int("count", released))
	}

	ids, err := d.repo.DueRetries(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("listing due retries: %w", err)
	}

	for _, id := range ids {
		d.Enqueue(id)
	}

	return len(ids), nil
}

// Start launches the worker pool and the sweep loop. It returns
// immediately; call Stop to drain and shut down.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.wg.Add(1)
	go d.sweeper(ctx)

	d.logger.Info("dispatcher started",
		slog.Int("workers", d.workers),
		slog.Duration("sweep_interval", d.sweepInterval))
}

// Stop shuts the dispatcher down and waits for in-flight attempts.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, n int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case id := <-d.queue:
			if _, err := d.executor.Execute(ctx, id); err != nil {
				// Lost claims are routine under concurrent workers
				if errors.Is(err, ErrNotDeliverable) {
					continue
				}
				d.logger.Error("executing delivery",
					slog.Int("worker", n),
					slog.String("delivery_id", id),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (d *Dispatcher) sweeper(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			if _, err := d.SweepDueRetries(ctx, cap(d.queue)); err != nil {
				d.logger.Error("sweeping due retries", slog.String("error", err.Error()))
			}
		}
	}
}
