package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marcelsud/webhook-outbox/delivery"
)

/* Redis implementation of delivery.Repository
 * Uses Redis Hashes for delivery records, Lists for the append-only
 * attempt logs, and sorted sets as secondary indexes:
 *   deliveries:by_created  - all ids scored by creation time (listing)
 *   deliveries:due         - pending/retrying ids scored by due time
 *   deliveries:delivering  - claimed ids scored by claim time
 *   deliveries:status:{s}  - plain sets per status (filtering, stats)
 */

const (
	hashPrefix    = "delivery"              // Hash naming: delivery:{id}
	logSuffix     = "logs"                  // List naming: delivery:{id}:logs
	createdIndex  = "deliveries:by_created" // ZSET scored by created_at
	dueIndex      = "deliveries:due"        // ZSET scored by due time
	claimedIndex  = "deliveries:delivering" // ZSET scored by claim time
	statusPrefix  = "deliveries:status"     // Set naming: deliveries:status:{status}
	claimAttempts = 5                       // Optimistic retries for the claim transaction
)

type Repository struct {
	client *redis.Client
}

// NewRepository creates a new Redis repository
func NewRepository(addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Repository{
		client: client,
	}, nil
}

func hashKey(id string) string {
	return fmt.Sprintf("%s:%s", hashPrefix, id)
}

func logKey(id string) string {
	return fmt.Sprintf("%s:%s:%s", hashPrefix, id, logSuffix)
}

func statusKey(s delivery.Status) string {
	return fmt.Sprintf("%s:%s", statusPrefix, s.String())
}

func (r *Repository) Create(ctx context.Context, d delivery.Delivery) error {
	fields, err := flatten(d)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hashKey(d.ID), fields)
		pipe.ZAdd(ctx, createdIndex, redis.Z{Score: float64(d.CreatedAt.Unix()), Member: d.ID})
		pipe.SAdd(ctx, statusKey(d.Status), d.ID)
		if d.Status == delivery.Pending {
			pipe.ZAdd(ctx, dueIndex, redis.Z{Score: float64(d.ScheduledAt.Unix()), Member: d.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing delivery: %w", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, d delivery.Delivery, prev delivery.Snapshot) error {
	key := hashKey(d.ID)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := r.load(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if stored.Snapshot() != prev {
			return delivery.ErrStale
		}

		fields, err := flatten(d)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			reindex(ctx, pipe, stored, d)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// A writer slipped in between WATCH and EXEC, same outcome as
		// a failed snapshot check
		return delivery.ErrStale
	}
	if err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (delivery.Delivery, error) {
	return r.load(ctx, r.client, id)
}

func (r *Repository) List(ctx context.Context, filter delivery.ListFilter) ([]delivery.Delivery, int, error) {
	// Newest first from the creation index, then filter in memory. The
	// admin API pages over bounded windows so a full scan stays cheap.
	ids, err := r.client.ZRevRange(ctx, createdIndex, 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("listing deliveries: %w", err)
	}

	matched := make([]delivery.Delivery, 0)
	for _, id := range ids {
		d, err := r.load(ctx, r.client, id)
		if errors.Is(err, delivery.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
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
		matched = append(matched, d)
	}

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

func (r *Repository) ListLogs(ctx context.Context, deliveryID string) ([]delivery.Attempt, error) {
	raw, err := r.client.LRange(ctx, logKey(deliveryID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing delivery logs: %w", err)
	}

	attempts := make([]delivery.Attempt, 0, len(raw))
	for _, item := range raw {
		var a delivery.Attempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("unmarshaling attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

func (r *Repository) AppendLog(ctx context.Context, a delivery.Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling attempt: %w", err)
	}
	if err := r.client.RPush(ctx, logKey(a.DeliveryID), data).Err(); err != nil {
		return fmt.Errorf("appending attempt log: %w", err)
	}
	return nil
}

func (r *Repository) Stats(ctx context.Context, filter delivery.StatsFilter) (delivery.Stats, error) {
	stats := delivery.Stats{StatusCounts: make(map[string]int)}

	ids, err := r.client.ZRevRange(ctx, createdIndex, 0, -1).Result()
	if err != nil {
		return delivery.Stats{}, fmt.Errorf("aggregating stats: %w", err)
	}

	var totalMs int64
	var delivered int

	for _, id := range ids {
		d, err := r.load(ctx, r.client, id)
		if errors.Is(err, delivery.ErrNotFound) {
			continue
		}
		if err != nil {
			return delivery.Stats{}, err
		}
		if filter.WebhookID != "" && d.WebhookID != filter.WebhookID {
			continue
		}
		if !filter.CreatedSince.IsZero() && d.CreatedAt.Before(filter.CreatedSince) {
			continue
		}

		stats.StatusCounts[d.Status.String()]++
		stats.TotalDeliveries++

		if d.Status == delivery.Delivered {
			attempts, err := r.ListLogs(ctx, d.ID)
			if err != nil {
				return delivery.Stats{}, err
			}
			for _, a := range attempts {
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

/* Claim is an optimistic transaction: WATCH the hash, verify the record
 * is deliverable, then move it into delivering inside MULTI/EXEC. A
 * concurrent writer aborts the EXEC and we retry; losing the race to
 * another claimer surfaces as ErrNotDeliverable on the re-read.
 */
func (r *Repository) Claim(ctx context.Context, id string, now time.Time) (delivery.Delivery, error) {
	key := hashKey(id)
	var claimed delivery.Delivery

	for i := 0; i < claimAttempts; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			d, err := r.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if !d.IsDeliverable() {
				return delivery.ErrNotDeliverable
			}

			prev := d
			d.Status = delivery.Delivering
			d.AttemptCount++
			attempted := now
			d.LastAttemptedAt = &attempted

			fields, err := flatten(d)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fields)
				reindex(ctx, pipe, prev, d)
				return nil
			})
			if err != nil {
				return err
			}
			claimed = d
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return delivery.Delivery{}, err
		}
		return claimed, nil
	}

	return delivery.Delivery{}, delivery.ErrNotDeliverable
}

func (r *Repository) MarkDelivered(ctx context.Context, id string, res delivery.Result, now time.Time) (delivery.Delivery, error) {
	var out delivery.Delivery
	err := r.mutate(ctx, id, func(d *delivery.Delivery) {
		d.Status = delivery.Delivered
		deliveredAt := now
		d.DeliveredAt = &deliveredAt
		d.LastResponseStatus = res.Status
		d.LastResponseBody = delivery.Truncate(res.Body, delivery.MaxSnapshotBodyBytes)
		d.LastResponseHeaders = res.Headers
		d.LastErrorMessage = ""
		d.NextRetryAt = nil
		out = *d
	})
	return out, err
}

func (r *Repository) MarkFailed(ctx context.Context, id string, f delivery.Failure, _ time.Time) (delivery.Delivery, error) {
	var out delivery.Delivery
	err := r.mutate(ctx, id, func(d *delivery.Delivery) {
		d.LastErrorMessage = f.Message
		if f.Result != nil {
			d.LastResponseStatus = f.Result.Status
			d.LastResponseBody = delivery.Truncate(f.Result.Body, delivery.MaxSnapshotBodyBytes)
			d.LastResponseHeaders = f.Result.Headers
		}

		switch {
		case d.Status == delivery.Cancelled:
			d.NextRetryAt = nil
		case f.NextRetryAt != nil:
			d.Status = delivery.Retrying
			d.NextRetryAt = f.NextRetryAt
		default:
			d.Status = delivery.Failed
			d.NextRetryAt = nil
		}
		out = *d
	})
	return out, err
}

func (r *Repository) DueRetries(ctx context.Context, now time.Time, limit int) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}

	ids, err := r.client.ZRangeByScore(ctx, dueIndex, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("listing due retries: %w", err)
	}
	return ids, nil
}

func (r *Repository) ReleaseStale(ctx context.Context, olderThan time.Time) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, claimedIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", olderThan.Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("listing stale claims: %w", err)
	}

	released := 0
	for _, id := range ids {
		err := r.mutate(ctx, id, func(d *delivery.Delivery) {
			if d.Status != delivery.Delivering {
				return
			}
			d.Status = delivery.Retrying
			if d.LastAttemptedAt != nil {
				retryAt := *d.LastAttemptedAt
				d.NextRetryAt = &retryAt
			}
		})
		if errors.Is(err, delivery.ErrNotFound) {
			continue
		}
		if err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, createdIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.Unix()-1),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("listing purge candidates: %w", err)
	}

	purged := 0
	for _, id := range ids {
		d, err := r.load(ctx, r.client, id)
		if errors.Is(err, delivery.ErrNotFound) {
			continue
		}
		if err != nil {
			return purged, err
		}
		if !d.Status.IsFinal() {
			continue
		}

		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, hashKey(id), logKey(id))
			pipe.ZRem(ctx, createdIndex, id)
			pipe.ZRem(ctx, dueIndex, id)
			pipe.ZRem(ctx, claimedIndex, id)
			pipe.SRem(ctx, statusKey(d.Status), id)
			return nil
		})
		if err != nil {
			return purged, fmt.Errorf("purging delivery: %w", err)
		}
		purged++
	}
	return purged, nil
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations
func (r *Repository) GetClient() *redis.Client {
	return r.client
}

// mutate applies fn to a record inside a WATCH transaction and keeps
// the secondary indexes consistent with the status change.
func (r *Repository) mutate(ctx context.Context, id string, fn func(*delivery.Delivery)) error {
	key := hashKey(id)

	for i := 0; i < claimAttempts; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			d, err := r.load(ctx, tx, id)
			if err != nil {
				return err
			}
			prev := d
			fn(&d)

			fields, err := flatten(d)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fields)
				reindex(ctx, pipe, prev, d)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("mutating delivery %s: transaction retries exhausted", id)
}

// reindex moves a record between the status and scheduling indexes
// after its status or due time changed.
func reindex(ctx context.Context, pipe redis.Pipeliner, prev, next delivery.Delivery) {
	if prev.Status != next.Status {
		pipe.SRem(ctx, statusKey(prev.Status), next.ID)
		pipe.SAdd(ctx, statusKey(next.Status), next.ID)
	}

	switch next.Status {
	case delivery.Pending:
		pipe.ZAdd(ctx, dueIndex, redis.Z{Score: float64(next.ScheduledAt.Unix()), Member: next.ID})
		pipe.ZRem(ctx, claimedIndex, next.ID)
	case delivery.Retrying:
		if next.NextRetryAt != nil {
			pipe.ZAdd(ctx, dueIndex, redis.Z{Score: float64(next.NextRetryAt.Unix()), Member: next.ID})
		} else {
			pipe.ZRem(ctx, dueIndex, next.ID)
		}
		pipe.ZRem(ctx, claimedIndex, next.ID)
	case delivery.Delivering:
		pipe.ZRem(ctx, dueIndex, next.ID)
		if next.LastAttemptedAt != nil {
			pipe.ZAdd(ctx, claimedIndex, redis.Z{Score: float64(next.LastAttemptedAt.Unix()), Member: next.ID})
		}
	default:
		pipe.ZRem(ctx, dueIndex, next.ID)
		pipe.ZRem(ctx, claimedIndex, next.ID)
	}
}

// load reads and decodes one delivery hash. cmdable covers both the
// plain client and a transaction handle.
func (r *Repository) load(ctx context.Context, c redis.Cmdable, id string) (delivery.Delivery, error) {
	data, err := c.HGetAll(ctx, hashKey(id)).Result()
	if err != nil {
		return delivery.Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if len(data) == 0 {
		return delivery.Delivery{}, delivery.ErrNotFound
	}
	return unflatten(data)
}

// flatten converts a delivery into hash fields. Optional timestamps are
// stored as unix seconds with 0 meaning unset.
func flatten(d delivery.Delivery) (map[string]interface{}, error) {
	headersJSON, err := json.Marshal(d.Headers)
	if err != nil {
		return nil, fmt.Errorf("marshaling headers: %w", err)
	}
	respHeadersJSON, err := json.Marshal(d.LastResponseHeaders)
	if err != nil {
		return nil, fmt.Errorf("marshaling response headers: %w", err)
	}

	return map[string]interface{}{
		"id":                    d.ID,
		"webhook_id":            d.WebhookID,
		"event_type":            d.EventType,
		"event_data":            string(d.EventData),
		"url":                   d.URL,
		"http_method":           d.HTTPMethod,
		"headers":               string(headersJSON),
		"payload":               d.Payload,
		"signature":             d.Signature,
		"status":                d.Status.String(),
		"attempt_count":         d.AttemptCount,
		"max_attempts":          d.MaxAttempts,
		"last_response_status":  d.LastResponseStatus,
		"last_response_body":    d.LastResponseBody,
		"last_response_headers": string(respHeadersJSON),
		"last_error_message":    d.LastErrorMessage,
		"created_at":            d.CreatedAt.Unix(),
		"scheduled_at":          d.ScheduledAt.Unix(),
		"last_attempted_at":     unixOrZero(d.LastAttemptedAt),
		"delivered_at":          unixOrZero(d.DeliveredAt),
		"next_retry_at":         unixOrZero(d.NextRetryAt),
	}, nil
}

func unflatten(data map[string]string) (delivery.Delivery, error) {
	headers := make(map[string]string)
	if s, ok := data["headers"]; ok && s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &headers); err != nil {
			return delivery.Delivery{}, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}
	respHeaders := make(map[string]string)
	if s, ok := data["last_response_headers"]; ok && s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &respHeaders); err != nil {
			return delivery.Delivery{}, fmt.Errorf("unmarshaling response headers: %w", err)
		}
	}

	d := delivery.Delivery{
		ID:                  data["id"],
		WebhookID:           data["webhook_id"],
		EventType:           data["event_type"],
		EventData:           []byte(data["event_data"]),
		URL:                 data["url"],
		HTTPMethod:          data["http_method"],
		Headers:             headers,
		Payload:             []byte(data["payload"]),
		Signature:           data["signature"],
		Status:              delivery.NewStatus(data["status"]),
		AttemptCount:        int(parseInt64(data["attempt_count"])),
		MaxAttempts:         int(parseInt64(data["max_attempts"])),
		LastResponseStatus:  int(parseInt64(data["last_response_status"])),
		LastResponseBody:    data["last_response_body"],
		LastResponseHeaders: respHeaders,
		LastErrorMessage:    data["last_error_message"],
		CreatedAt:           time.Unix(parseInt64(data["created_at"]), 0),
		ScheduledAt:         time.Unix(parseInt64(data["scheduled_at"]), 0),
		LastAttemptedAt:     timeOrNil(parseInt64(data["last_attempted_at"])),
		DeliveredAt:         timeOrNil(parseInt64(data["delivered_at"])),
		NextRetryAt:         timeOrNil(parseInt64(data["next_retry_at"])),
	}
	return d, nil
}

// Helper functions

func parseInt64(s string) int64 {
	var result int64
	fmt.Sscanf(s, "%d", &result)
	return result
}

func unixOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func timeOrNil(unix int64) *time.Time {
	if unix == 0 {
		return nil
	}
	t := time.Unix(unix, 0)
	return &t
}
