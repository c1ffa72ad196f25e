package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the delivery system.
type Metrics struct {
	// StatusCounts maps status name to count of deliveries in that status
	StatusCounts map[string]int64 `json:"status_counts"`

	// QueueDepth is the number of deliveries waiting to be attempted
	// (pending plus due retries)
	QueueDepth int64 `json:"queue_depth"`

	// AvgResponseTimeMs is the average successful response time
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// Collector defines the interface for collecting metrics from the delivery system.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetStatusCounts returns the count of deliveries by status
	GetStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetQueueDepth returns the number of deliveries awaiting execution
	GetQueueDepth(ctx context.Context) (int64, error)
}
