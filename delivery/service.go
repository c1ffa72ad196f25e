package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

/* Service represents the admin business logic layer
 * Uses pointer semantics as it's an API, not data
 */

// ResendOptions tunes how a delivery is re-queued.
type ResendOptions struct {
	// Force re-queues even a delivered record.
	Force bool
	// ResetAttempts zeroes the attempt counter so the record gets a
	// full retry budget again.
	ResetAttempts bool
	// MaxAttempts overrides the record's attempt budget when non-nil.
	MaxAttempts *int
}

// ResendFailedFilter narrows a bulk resend. Zero values mean "no filter".
type ResendFailedFilter struct {
	WebhookID    string
	EventType    string
	CreatedSince time.Time
	Limit        int
	// ResetAttempts zeroes the attempt counter of every matched record.
	// Without it, records whose budget is spent are skipped.
	ResetAttempts bool
}

// ResendFailedResult reports how many failed deliveries matched the
// filter and which ones were actually re-queued.
type ResendFailedResult struct {
	Matched   int
	Scheduled []string
}

// UseCase defines the admin operations for delivery management
type UseCase interface {
	List(ctx context.Context, filter ListFilter) ([]Delivery, int, error)
	Get(ctx context.Context, id string) (Delivery, error)
	Logs(ctx context.Context, id string) ([]Attempt, error)
	Resend(ctx context.Context, id string, opts ResendOptions) (Delivery, error)
	ResendAllFailed(ctx context.Context, filter ResendFailedFilter) (ResendFailedResult, error)
	Cancel(ctx context.Context, id string) (Delivery, error)
	Stats(ctx context.Context, filter StatsFilter) (Stats, error)
}

type Service struct {
	Repo    Repository
	Enqueue func(id string)
	Now     func() time.Time
}

// updateRetries bounds the re-read loop when an admin mutation loses a
// snapshot race against a concurrent claim.
const updateRetries = 3

// NewService creates a new admin service with dependency injection.
// enqueue hands a delivery id to the dispatcher for immediate
// execution; it may be nil when no dispatcher is running, in which
// case resent deliveries wait for the retry sweep.
func NewService(repo Repository, enqueue func(id string)) *Service {
	return &Service{
		Repo:    repo,
		Enqueue: enqueue,
		Now:     time.Now,
	}
}

// List returns deliveries matching the filter plus the total count
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Delivery, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	items, total, err := s.Repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("listing deliveries: %w", err)
	}
	return items, total, nil
}

// Get returns a single delivery by id
func (s *Service) Get(ctx context.Context, id string) (Delivery, error) {
	d, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	return d, nil
}

// Logs returns the attempt history for a delivery
func (s *Service) Logs(ctx context.Context, id string) ([]Attempt, error) {
	if _, err := s.Repo.Get(ctx, id); err != nil {
		return nil, fmt.Errorf("getting delivery: %w", err)
	}
	logs, err := s.Repo.ListLogs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing delivery logs: %w", err)
	}
	return logs, nil
}

/* Resend re-queues a delivery for execution. Delivered records are
 * refused unless Force is set. Records whose attempt budget is spent
 * need ResetAttempts or a MaxAttempts override, otherwise the claim
 * guard would refuse every new attempt and the resend would be a no-op.
 */
func (s *Service) Resend(ctx context.Context, id string, opts ResendOptions) (Delivery, error) {
	var lastErr error
	for i := 0; i < updateRetries; i++ {
		d, err := s.Repo.Get(ctx, id)
		if err != nil {
			return Delivery{}, fmt.Errorf("getting delivery: %w", err)
		}
		prev := d.Snapshot()

		if d.Status == Delivered && !opts.Force {
			return Delivery{}, ErrAlreadyDelivered
		}
		if d.Status == Delivering {
			return Delivery{}, fmt.Errorf("%w: delivery attempt in flight", ErrInvalidState)
		}

		if opts.MaxAttempts != nil {
			if *opts.MaxAttempts <= 0 {
				return Delivery{}, fmt.Errorf("%w: max attempts must be positive", ErrInvalidState)
			}
			d.MaxAttempts = *opts.MaxAttempts
		}

		if opts.ResetAttempts {
			d.AttemptCount = 0
			d.Status = Pending
			d.LastResponseStatus = 0
			d.LastResponseBody = ""
			d.LastResponseHeaders = nil
			d.LastErrorMessage = ""
			d.LastAttemptedAt = nil
			d.DeliveredAt = nil
			d.NextRetryAt = nil
		} else {
			if d.AttemptCount >= d.MaxAttempts {
				return Delivery{}, fmt.Errorf("%w: attempts exhausted, reset required", ErrInvalidState)
			}
			d.Status = Retrying
			// Due immediately, so the retry sweep recovers the record
			// even when the enqueue below never reaches a worker
			retryAt := s.Now()
			d.NextRetryAt = &retryAt
		}

		if err := s.Repo.Update(ctx, d, prev); err != nil {
			if errors.Is(err, ErrStale) {
				lastErr = err
				continue
			}
			return Delivery{}, fmt.Errorf("updating delivery: %w", err)
		}

		if s.Enqueue != nil {
			s.Enqueue(d.ID)
		}

		return d, nil
	}
	return Delivery{}, fmt.Errorf("updating delivery: %w", lastErr)
}

/* ResendAllFailed re-queues Failed deliveries matching the filter.
 * Without ResetAttempts, records whose budget is spent are counted as
 * matched but skipped; an id racing into another state meanwhile is
 * skipped the same way.
 */
func (s *Service) ResendAllFailed(ctx context.Context, filter ResendFailedFilter) (ResendFailedResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	status := Failed
	items, _, err := s.Repo.List(ctx, ListFilter{
		Status:       &status,
		EventType:    filter.EventType,
		WebhookID:    filter.WebhookID,
		CreatedSince: filter.CreatedSince,
		Limit:        filter.Limit,
	})
	if err != nil {
		return ResendFailedResult{}, fmt.Errorf("listing failed deliveries: %w", err)
	}

	out := ResendFailedResult{
		Matched:   len(items),
		Scheduled: make([]string, 0, len(items)),
	}
	for _, d := range items {
		_, err := s.Resend(ctx, d.ID, ResendOptions{ResetAttempts: filter.ResetAttempts})
		if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrAlreadyDelivered) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("resending delivery %s: %w", d.ID, err)
		}
		out.Scheduled = append(out.Scheduled, d.ID)
	}

	return out, nil
}

/* Cancel stops further attempts for a delivery. Delivering records are
 * cancellable too: the in-flight attempt runs to completion, and if it
 * succeeds on the wire the record ends Delivered rather than Cancelled.
 */
func (s *Service) Cancel(ctx context.Context, id string) (Delivery, error) {
	var lastErr error
	for i := 0; i < updateRetries; i++ {
		d, err := s.Repo.Get(ctx, id)
		if err != nil {
			return Delivery{}, fmt.Errorf("getting delivery: %w", err)
		}
		prev := d.Snapshot()

		switch d.Status {
		case Delivered:
			return Delivery{}, ErrAlreadyDelivered
		case Failed, Cancelled:
			return Delivery{}, fmt.Errorf("%w: delivery already %s", ErrInvalidState, d.Status)
		}

		d.Status = Cancelled
		d.NextRetryAt = nil

		if err := s.Repo.Update(ctx, d, prev); err != nil {
			if errors.Is(err, ErrStale) {
				lastErr = err
				continue
			}
			return Delivery{}, fmt.Errorf("updating delivery: %w", err)
		}

		return d, nil
	}
	return Delivery{}, fmt.Errorf("updating delivery: %w", lastErr)
}

// Stats returns aggregated outcome counters and response-time figures
func (s *Service) Stats(ctx context.Context, filter StatsFilter) (Stats, error) {
	stats, err := s.Repo.Stats(ctx, filter)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregating delivery stats: %w", err)
	}
	return stats, nil
}
