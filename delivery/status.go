package delivery

import "fmt"

/* Status represents the current state of a webhook delivery
 * Lifecycle: Pending -> Delivering -> Delivered/Retrying/Failed/Cancelled
 * Delivering is the in-progress claim marker: exactly one worker can move
 * a record into it at a time.
 */
type Status int

const (
	Pending Status = iota + 1
	Delivering
	Delivered
	Failed
	Retrying
	Cancelled
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Delivering:
		return "delivering"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	case Retrying:
		return "retrying"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string
func NewStatus(str string) Status {
	switch str {
	case "pending":
		return Pending
	case "delivering":
		return Delivering
	case "delivered":
		return Delivered
	case "failed":
		return Failed
	case "retrying":
		return Retrying
	case "cancelled":
		return Cancelled
	default:
		return Pending
	}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Pending || s > Cancelled {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state: no further
// automatic transition occurs from it.
func (s Status) IsFinal() bool {
	return s == Delivered || s == Failed || s == Cancelled
}
