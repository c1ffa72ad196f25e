package delivery

import "time"

// Body and error text captured on records and logs is truncated so a
// misbehaving receiver cannot bloat storage.
const (
	MaxLogBodyBytes      = 10000
	MaxSnapshotBodyBytes = 1000
	MaxErrorBodyBytes    = 500
)

/* Attempt is one HTTP call within a delivery's lifetime. Attempts are
 * append-only: a row is written exactly once per call and never mutated.
 */
type Attempt struct {
	ID            string
	DeliveryID    string
	AttemptNumber int // 1-based, monotonically increasing per delivery
	AttemptedAt   time.Time

	RequestHeaders map[string]string
	RequestPayload []byte

	// Response fields are zero-valued when no HTTP response was received
	ResponseStatus  int
	ResponseHeaders map[string]string
	ResponseBody    string
	ResponseTimeMs  int64

	// Error fields are populated only on failed attempts; ErrorType is
	// set only on transport-level failures (no response received).
	ErrorMessage string
	ErrorType    string
}

// Truncate caps s at max bytes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
