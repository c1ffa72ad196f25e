package delivery

import (
	"encoding/json"
	"time"
)

/* Delivery represents one attempt-series to deliver a single event to a
 * single webhook endpoint. Uses value semantics as it represents data,
 * not behavior.
 */
type Delivery struct {
	ID        string
	WebhookID string

	// Event information captured at schedule time
	EventType string
	EventData json.RawMessage

	// Wire details. Payload is the exact byte string that was signed and
	// gets sent on every attempt; it is fixed at creation and never
	// re-serialized, so retries are byte-identical.
	URL        string
	HTTPMethod string
	Headers    map[string]string
	Payload    []byte
	Signature  string // "sha256=<hex>", empty for unsigned deliveries

	Status       Status
	AttemptCount int
	MaxAttempts  int

	// Snapshot of the most recent attempt outcome
	LastResponseStatus  int
	LastResponseBody    string
	LastResponseHeaders map[string]string
	LastErrorMessage    string

	CreatedAt       time.Time
	ScheduledAt     time.Time
	LastAttemptedAt *time.Time
	DeliveredAt     *time.Time
	NextRetryAt     *time.Time
}

// DefaultMaxAttempts is applied when a delivery is scheduled without an
// explicit attempt budget.
const DefaultMaxAttempts = 5

/* Snapshot pins the status and attempt count a record had when it was
 * read. Update applies a mutation only while the stored record still
 * matches the snapshot, so an admin write racing a claim cannot roll
 * back the claim's attempt bookkeeping.
 */
type Snapshot struct {
	Status       Status
	AttemptCount int
}

// Snapshot captures the fields Update checks its precondition against.
func (d Delivery) Snapshot() Snapshot {
	return Snapshot{Status: d.Status, AttemptCount: d.AttemptCount}
}

// IsDeliverable reports whether an attempt may be started for this
// delivery. It is the idempotent guard against stale or duplicate
// triggers: terminal records and exhausted records are never attempted.
func (d Delivery) IsDeliverable() bool {
	return (d.Status == Pending || d.Status == Retrying) && d.AttemptCount < d.MaxAttempts
}

// Clone returns a deep copy of the delivery. Adapters that hold records
// in memory return clones so callers cannot mutate stored state.
func (d Delivery) Clone() Delivery {
	c := d
	c.Payload = append([]byte(nil), d.Payload...)
	c.EventData = append(json.RawMessage(nil), d.EventData...)
	c.Headers = cloneMap(d.Headers)
	c.LastResponseHeaders = cloneMap(d.LastResponseHeaders)
	c.LastAttemptedAt = cloneTime(d.LastAttemptedAt)
	c.DeliveredAt = cloneTime(d.DeliveredAt)
	c.NextRetryAt = cloneTime(d.NextRetryAt)
	return c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
