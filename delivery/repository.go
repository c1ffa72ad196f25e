package delivery

import (
	"context"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status       *Status
	EventType    string
	WebhookID    string
	CreatedSince time.Time
	Limit        int
	Offset       int
}

// StatsFilter narrows Stats aggregation to a webhook and time window.
type StatsFilter struct {
	WebhookID    string
	CreatedSince time.Time
}

// Stats aggregates delivery outcomes over a time window. The average
// response time is computed only over attempts with a 2xx response.
type Stats struct {
	StatusCounts      map[string]int
	AvgResponseTimeMs float64
	TotalDeliveries   int
}

// Result captures an HTTP response snapshot from a single attempt.
type Result struct {
	Status  int
	Body    string
	Headers map[string]string
	Elapsed time.Duration
}

/* Failure describes the outcome of a failed attempt. Result is nil on
 * transport-level failures (no response received). NextRetryAt is nil
 * when the failure is terminal: attempts are exhausted and the record
 * ends Failed instead of Retrying.
 */
type Failure struct {
	Message     string
	Result      *Result
	NextRetryAt *time.Time
}

// Reader provides read operations for deliveries
type Reader interface {
	/* Context is always the first parameter in functions that do I/O
	 * This allows for cancellation, timeouts, and shared values
	 */
	Get(ctx context.Context, id string) (Delivery, error)
	// List returns matching deliveries ordered by creation time
	// descending, plus the total match count before pagination.
	List(ctx context.Context, filter ListFilter) ([]Delivery, int, error)
	// ListLogs returns the attempt log ordered by attempt number.
	ListLogs(ctx context.Context, deliveryID string) ([]Attempt, error)
	Stats(ctx context.Context, filter StatsFilter) (Stats, error)
}

// Writer provides write operations for deliveries
type Writer interface {
	Create(ctx context.Context, d Delivery) error
	/* Update replaces the mutable fields of an existing record. It is
	 * used by admin recovery operations only; the attempt path goes
	 * through Claimer so concurrent workers cannot double-send. The
	 * write applies only while the stored record still matches prev,
	 * otherwise ErrStale is returned and the caller re-reads.
	 */
	Update(ctx context.Context, d Delivery, prev Snapshot) error
	// AppendLog inserts one immutable attempt row.
	AppendLog(ctx context.Context, a Attempt) error
	/* PurgeOlderThan removes terminal deliveries created before cutoff
	 * together with their logs, returning the number of deliveries
	 * removed. Used by the retention sweep.
	 */
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

/* Claimer is the attempt-path state machine. Claim is an atomic
 * compare-and-swap: it moves a deliverable record into Delivering and
 * increments the attempt counter in one step, so two workers racing for
 * the same delivery id can never both execute an attempt.
 */
type Claimer interface {
	// Claim returns ErrNotDeliverable when the record is not in
	// Pending/Retrying or its attempts are exhausted.
	Claim(ctx context.Context, id string, now time.Time) (Delivery, error)
	// MarkDelivered finishes a claimed attempt successfully.
	MarkDelivered(ctx context.Context, id string, res Result, now time.Time) (Delivery, error)
	/* MarkFailed finishes a claimed attempt unsuccessfully. A record
	 * cancelled while the attempt was in flight stays Cancelled: the
	 * outcome fields are still recorded but no retry is scheduled.
	 */
	MarkFailed(ctx context.Context, id string, f Failure, now time.Time) (Delivery, error)
	/* DueRetries returns ids ready for execution: Retrying records whose
	 * next_retry_at has arrived plus Pending records whose scheduled_at
	 * has arrived (delayed schedules and crash recovery).
	 */
	DueRetries(ctx context.Context, now time.Time, limit int) ([]string, error)
	/* ReleaseStale moves Delivering records whose claim expired (worker
	 * died mid-attempt) back to Retrying so the sweeper picks them up.
	 */
	ReleaseStale(ctx context.Context, olderThan time.Time) (int, error)
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	Reader
	Writer
	Claimer
	Close(ctx context.Context) error
}
