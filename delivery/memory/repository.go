package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marcelsud/webhook-outbox/delivery"
)

/* Repository is an in-memory adapter used by tests and the zero-config
 * development mode. All state is guarded by one mutex; records are
 * cloned on the way in and out so callers never share memory with the
 * store.
 */
type Repository struct {
	mu         sync.Mutex
	deliveries map[string]delivery.Delivery
	logs       map[string][]delivery.Attempt
}

// NewRepository creates an empty in-memory repository
func NewRepository() *Repository {
	return &Repository{
		deliveries: make(map[string]delivery.Delivery),
		logs:       make(map[string][]delivery.Attempt),
	}
}

func (r *Repository) Create(_ context.Context, d delivery.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deliveries[d.ID] = d.Clone()
	return nil
}

func (r *Repository) Update(_ context.Context, d delivery.Delivery, prev delivery.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.deliveries[d.ID]
	if !ok {
		return delivery.ErrNotFound
	}
	if stored.Snapshot() != prev {
		return delivery.ErrStale
	}
	r.deliveries[d.ID] = d.Clone()
	return nil
}

func (r *Repository) Get(_ context.Context, id string) (delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deliveries[id]
	if !ok {
		return delivery.Delivery{}, delivery.ErrNotFound
	}
	return d.Clone(), nil
}

func (r *Repository) List(_ context.Context, filter delivery.ListFilter) ([]delivery.Delivery, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]delivery.Delivery, 0)
	for _, d := range r.deliveries {
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		if filter.EventType != "" && d.EventType != filter.EventType {
			continue
		}
		if filter.WebhookID != "" && d.WebhookID != filter.WebhookID {
			continue
		}
		if !filter.CreatedSince.IsZero() && d.CreatedAt.Before(filter.CreatedSince) {
			continue
		}
		matched = append(matched, d.Clone())
	}

	// Newest first, id as tie-breaker for deterministic paging
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return strings.Compare(matched[i].ID, matched[j].ID) < 0
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []delivery.Delivery{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	return matched, total, nil
}

func (r *Repository) ListLogs(_ context.Context, deliveryID string) ([]delivery.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logs := r.logs[deliveryID]
	out := make([]delivery.Attempt, len(logs))
	copy(out, logs)
	sort.Slice(out, func(i, j int) bool {
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out, nil
}

func (r *Repository) AppendLog(_ context.Context, a delivery.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logs[a.DeliveryID] = append(r.logs[a.DeliveryID], a)
	return nil
}

func (r *Repository) Stats(_ context.Context, filter delivery.StatsFilter) (delivery.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := delivery.Stats{StatusCounts: make(map[string]int)}
	var totalMs int64
	var delivered int

	for _, d := range r.deliveries {
		if filter.WebhookID != "" && d.WebhookID != filter.WebhookID {
			continue
		}
		if !filter.CreatedSince.IsZero() && d.CreatedAt.Before(filter.CreatedSince) {
			continue
		}
		stats.StatusCounts[d.Status.String()]++
		stats.TotalDeliveries++

		if d.Status == delivery.Delivered {
			for _, a := range r.logs[d.ID] {
				if a.ResponseStatus >= 200 && a.ResponseStatus < 300 {
					totalMs += a.ResponseTimeMs
					delivered++
				}
			}
		}
	}

	if delivered > 0 {
		stats.AvgResponseTimeMs = float64(totalMs) / float64(delivered)
	}

	return stats, nil
}

func (r *Repository) Claim(_ context.Context, id string, now time.Time) (delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deliveries[id]
	if !ok {
		return delivery.Delivery{}, delivery.ErrNotFound
	}
	if !d.IsDeliverable() {
		return delivery.Delivery{}, delivery.ErrNotDeliverable
	}

	d.Status = delivery.Delivering
	d.AttemptCount++
	attempted := now
	d.LastAttemptedAt = &attempted

	r.deliveries[id] = d
	return d.Clone(), nil
}

func (r *Repository) MarkDelivered(_ context.Context, id string, res delivery.Result, now time.Time) (delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deliveries[id]
	if !ok {
		return delivery.Delivery{}, delivery.ErrNotFound
	}

	// The wire delivery happened, so a concurrent cancel does not undo it
	d.Status = delivery.Delivered
	deliveredAt := now
	d.DeliveredAt = &deliveredAt
	d.LastResponseStatus = res.Status
	d.LastResponseBody = delivery.Truncate(res.Body, delivery.MaxSnapshotBodyBytes)
	d.LastResponseHeaders = res.Headers
	d.LastErrorMessage = ""
	d.NextRetryAt = nil

	r.deliveries[id] = d
	return d.Clone(), nil
}

func (r *Repository) MarkFailed(_ context.Context, id string, f delivery.Failure, _ time.Time) (delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deliveries[id]
	if !ok {
		return delivery.Delivery{}, delivery.ErrNotFound
	}

	d.LastErrorMessage = f.Message
	if f.Result != nil {
		d.LastResponseStatus = f.Result.Status
		d.LastResponseBody = delivery.Truncate(f.Result.Body, delivery.MaxSnapshotBodyBytes)
		d.LastResponseHeaders = f.Result.Headers
	}

	switch {
	case d.Status == delivery.Cancelled:
		// Cancelled while in flight: record the outcome, schedule nothing
		d.NextRetryAt = nil
	case f.NextRetryAt != nil:
		d.Status = delivery.Retrying
		d.NextRetryAt = f.NextRetryAt
	default:
		d.Status = delivery.Failed
		d.NextRetryAt = nil
	}

	r.deliveries[id] = d
	return d.Clone(), nil
}

func (r *Repository) DueRetries(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type due struct {
		id string
		at time.Time
	}
	candidates := make([]due, 0)

	for _, d := range r.deliveries {
		switch d.Status {
		case delivery.Retrying:
			if d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
				candidates = append(candidates, due{d.ID, *d.NextRetryAt})
			}
		case delivery.Pending:
			if !d.ScheduledAt.After(now) {
				candidates = append(candidates, due{d.ID, d.ScheduledAt})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].at.Before(candidates[j].at)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids, nil
}

func (r *Repository) ReleaseStale(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for id, d := range r.deliveries {
		if d.Status != delivery.Delivering {
			continue
		}
		if d.LastAttemptedAt == nil || d.LastAttemptedAt.After(olderThan) {
			continue
		}

		// Retry immediately: the claim time is already in the past
		d.Status = delivery.Retrying
		retryAt := *d.LastAttemptedAt
		d.NextRetryAt = &retryAt
		r.deliveries[id] = d
		released++
	}
	return released, nil
}

func (r *Repository) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for id, d := range r.deliveries {
		if !d.Status.IsFinal() || !d.CreatedAt.Before(cutoff) {
			continue
		}
		delete(r.deliveries, id)
		delete(r.logs, id)
		purged++
	}
	return purged, nil
}

func (r *Repository) Close(_ context.Context) error {
	return nil
}
