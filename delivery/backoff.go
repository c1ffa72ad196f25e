package delivery

import "time"

// Backoff computes retry delays with exponential growth and a hard cap.
// No jitter is applied: retry times stay predictable and testable, and
// per-endpoint fan-out is small enough that synchronized retries are
// not a concern.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff yields delays of 60s, 120s, 240s, 480s, 960s, then
// caps every later delay at one hour.
var DefaultBackoff = Backoff{
	Base: 60 * time.Second,
	Max:  3600 * time.Second,
}

// NextDelay returns the delay before the next attempt given the number
// of attempts already made. Negative input is treated as zero.
func (b Backoff) NextDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := b.Base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
