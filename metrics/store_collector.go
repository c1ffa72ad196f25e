package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-outbox/delivery"
)

/* StoreCollector derives metrics from the delivery repository. It works
 * against any Repository implementation, so all storage backends get
 * the same metrics surface for free.
 */
type StoreCollector struct {
	repo delivery.Repository
	now  func() time.Time
}

// NewStoreCollector creates a collector backed by the repository
func NewStoreCollector(repo delivery.Repository) *StoreCollector {
	return &StoreCollector{
		repo: repo,
		now:  time.Now,
	}
}

// Collect gathers current metrics from the repository
func (c *StoreCollector) Collect(ctx context.Context) (Metrics, error) {
	statusCounts, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Metrics{}, err
	}

	depth, err := c.GetQueueDepth(ctx)
	if err != nil {
		return Metrics{}, err
	}

	stats, err := c.repo.Stats(ctx, delivery.StatsFilter{})
	if err != nil {
		return Metrics{}, fmt.Errorf("aggregating stats: %w", err)
	}

	return Metrics{
		StatusCounts:      statusCounts,
		QueueDepth:        depth,
		AvgResponseTimeMs: stats.AvgResponseTimeMs,
		Timestamp:         c.now(),
	}, nil
}

// GetStatusCounts returns the count of deliveries by status
func (c *StoreCollector) GetStatusCounts(ctx context.Context) (map[string]int64, error) {
	stats, err := c.repo.Stats(ctx, delivery.StatsFilter{})
	if err != nil {
		return nil, fmt.Errorf("aggregating status counts: %w", err)
	}

	counts := make(map[string]int64, len(stats.StatusCounts))
	for status, count := range stats.StatusCounts {
		counts[status] = int64(count)
	}
	return counts, nil
}

// GetQueueDepth returns pending deliveries plus retries already due
func (c *StoreCollector) GetQueueDepth(ctx context.Context) (int64, error) {
	ids, err := c.repo.DueRetries(ctx, c.now(), 0)
	if err != nil {
		return 0, fmt.Errorf("listing due deliveries: %w", err)
	}
	return int64(len(ids)), nil
}
