package delivery

import "errors"

var (
	// ErrNotFound is returned when a delivery id does not exist.
	ErrNotFound = errors.New("delivery not found")

	// ErrNotDeliverable is returned by Claim when the record is not in a
	// deliverable state (terminal, exhausted, or already claimed).
	ErrNotDeliverable = errors.New("delivery not deliverable")

	// ErrAlreadyDelivered is returned by Resend on a delivered record
	// when force was not requested.
	ErrAlreadyDelivered = errors.New("delivery already delivered")

	// ErrInvalidState is returned by admin operations that are not legal
	// for the record's current status.
	ErrInvalidState = errors.New("invalid delivery state")

	// ErrStale is returned by Update when the record no longer matches
	// the snapshot it was read at, usually because a claim raced the
	// mutation. Callers re-read and retry.
	ErrStale = errors.New("delivery modified concurrently")
)
