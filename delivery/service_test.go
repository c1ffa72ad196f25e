package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-outbox/delivery"
	"github.com/marcelsud/webhook-outbox/delivery/memory"
	"github.com/marcelsud/webhook-outbox/delivery/mocks"
)

func TestResend(t *testing.T) {
	ctx := context.Background()

	t.Run("success - failed delivery gets requeued", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		enqueued := make([]string, 0)
		service := delivery.NewService(repo, func(id string) { enqueued = append(enqueued, id) })

		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:           "delivery-123",
			Status:       delivery.Failed,
			AttemptCount: 2,
			MaxAttempts:  5,
		}, nil)
		repo.On("Update", ctx, delivery.MatchDelivery(func(d delivery.Delivery) bool {
			return d.Status == delivery.Retrying &&
				d.AttemptCount == 2 &&
				d.NextRetryAt != nil
		}), delivery.Snapshot{Status: delivery.Failed, AttemptCount: 2}).Return(nil)

		d, err := service.Resend(ctx, "delivery-123", delivery.ResendOptions{})

		require.NoError(t, err)
		assert.Equal(t, delivery.Retrying, d.Status)
		require.NotNil(t, d.NextRetryAt)
		assert.Equal(t, []string{"delivery-123"}, enqueued)
	})

	t.Run("resent delivery is visible to the retry sweep", func(t *testing.T) {
		// Real store, no enqueue target: the record must still become
		// due so the sweeper can pick it up on its own
		repo := memory.NewRepository()
		service := delivery.NewService(repo, nil)

		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		service.Now = func() time.Time { return now }

		require.NoError(t, repo.Create(ctx, delivery.Delivery{
			ID:           "delivery-123",
			Status:       delivery.Failed,
			AttemptCount: 2,
			MaxAttempts:  5,
			CreatedAt:    now.Add(-time.Hour),
			ScheduledAt:  now.Add(-time.Hour),
		}))

		out, err := service.Resend(ctx, "delivery-123", delivery.ResendOptions{})
		require.NoError(t, err)
		require.NotNil(t, out.NextRetryAt)
		assert.True(t, out.NextRetryAt.Equal(now))

		ids, err := repo.DueRetries(ctx, now, 100)
		require.NoError(t, err)
		assert.Contains(t, ids, "delivery-123")
	})

	t.Run("delivered without force is refused", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:     "delivery-123",
			Status: delivery.Delivered,
		}, nil)

		_, err := service.Resend(ctx, "delivery-123", delivery.ResendOptions{})

		require.ErrorIs(t, err, delivery.ErrAlreadyDelivered)
	})

	t.Run("delivered with force resets and requeues", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		deliveredAt := time.Now()
		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:                 "delivery-123",
			Status:             delivery.Delivered,
			AttemptCount:       1,
			MaxAttempts:        5,
			DeliveredAt:        &deliveredAt,
			LastResponseStatus: 200,
		}, nil)
		repo.On("Update", ctx, delivery.MatchDelivery(func(d delivery.Delivery) bool {
			return d.Status == delivery.Pending &&
				d.AttemptCount == 0 &&
				d.DeliveredAt == nil &&
				d.LastResponseStatus == 0
		}), delivery.Snapshot{Status: delivery.Delivered, AttemptCount: 1}).Return(nil)

		d, err := service.Resend(ctx, "delivery-123", delivery.ResendOptions{Force: true, ResetAttempts: true})

		require.NoError(t, err)
		assert.Equal(t, delivery.Pending, d.Status)
	})

	t.Run("exhausted without reset is refused", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:           "delivery-123",
			Status:       delivery.Failed,
			AttemptCount: 5,
			MaxAttempts:  5,
		}, nil)

		_, err := service.Resend(ctx, "delivery-123", delivery.ResendOptions{})

		require.ErrorIs(t, err, delivery.ErrInvalidState)
	})

	t.Run("exhausted with max attempts override", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:           "delivery-123",
			Status:       delivery.Failed,
			AttemptCount: 5,
			MaxAttempts:  5,
		}, nil)
		repo.On("Update", ctx, delivery.MatchDelivery(func(d delivery.Delivery) bool {
			return d.Status == delivery.Retrying && d.MaxAttempts == 10
		}), delivery.Snapshot{Status: delivery.Failed, AttemptCount: 5}).Return(nil)

		maxAttempts := 10
		d, err := service.Resend(ctx, "delivery-123", delivery.ResendOptions{MaxAttempts: &maxAttempts})

		require.NoError(t, err)
		assert.Equal(t, 10, d.MaxAttempts)
	})

	t.Run("in-flight delivery is refused", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:     "delivery-123",
			Status: delivery.Delivering,
		}, nil)

		_, err := service.Resend(ctx, "delivery-123", delivery.ResendOptions{})

		require.ErrorIs(t, err, delivery.ErrInvalidState)
	})

	t.Run("unknown id", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		repo.On("Get", ctx, "missing").Return(delivery.Delivery{}, delivery.ErrNotFound)

		_, err := service.Resend(ctx, "missing", delivery.ResendOptions{})

		require.ErrorIs(t, err, delivery.ErrNotFound)
	})
}

func TestResendAllFailed(t *testing.T) {
	ctx := context.Background()

	t.Run("resets every failed delivery", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		enqueued := make([]string, 0)
		service := delivery.NewService(repo, func(id string) { enqueued = append(enqueued, id) })

		failed := delivery.Failed
		repo.On("List", ctx, delivery.ListFilter{Status: &failed, Limit: 100}).Return([]delivery.Delivery{
			{ID: "d1", Status: delivery.Failed, AttemptCount: 5, MaxAttempts: 5},
			{ID: "d2", Status: delivery.Failed, AttemptCount: 3, MaxAttempts: 5},
		}, 2, nil)

		for _, id := range []string{"d1", "d2"} {
			id := id
			repo.On("Get", ctx, id).Return(delivery.Delivery{
				ID:           id,
				Status:       delivery.Failed,
				AttemptCount: 5,
				MaxAttempts:  5,
			}, nil)
		}
		repo.On("Update", ctx, delivery.MatchDelivery(func(d delivery.Delivery) bool {
			return d.Status == delivery.Pending && d.AttemptCount == 0
		}), delivery.Snapshot{Status: delivery.Failed, AttemptCount: 5}).Return(nil).Twice()

		out, err := service.ResendAllFailed(ctx, delivery.ResendFailedFilter{ResetAttempts: true})

		require.NoError(t, err)
		assert.Equal(t, 2, out.Matched)
		assert.Equal(t, []string{"d1", "d2"}, out.Scheduled)
		assert.Equal(t, []string{"d1", "d2"}, enqueued)
	})

	t.Run("filters are forwarded to the store", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		failed := delivery.Failed
		since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		repo.On("List", ctx, delivery.ListFilter{
			Status:       &failed,
			EventType:    "user.created",
			WebhookID:    "wh-1",
			CreatedSince: since,
			Limit:        10,
		}).Return([]delivery.Delivery{}, 0, nil)

		out, err := service.ResendAllFailed(ctx, delivery.ResendFailedFilter{
			WebhookID:     "wh-1",
			EventType:     "user.created",
			CreatedSince:  since,
			Limit:         10,
			ResetAttempts: true,
		})

		require.NoError(t, err)
		assert.Zero(t, out.Matched)
		assert.Empty(t, out.Scheduled)
	})

	t.Run("without reset, exhausted deliveries are skipped", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		failed := delivery.Failed
		repo.On("List", ctx, delivery.ListFilter{Status: &failed, Limit: 100}).Return([]delivery.Delivery{
			{ID: "d1", Status: delivery.Failed, AttemptCount: 5, MaxAttempts: 5},
			{ID: "d2", Status: delivery.Failed, AttemptCount: 3, MaxAttempts: 5},
		}, 2, nil)

		repo.On("Get", ctx, "d1").Return(delivery.Delivery{
			ID:           "d1",
			Status:       delivery.Failed,
			AttemptCount: 5,
			MaxAttempts:  5,
		}, nil)
		repo.On("Get", ctx, "d2").Return(delivery.Delivery{
			ID:           "d2",
			Status:       delivery.Failed,
			AttemptCount: 3,
			MaxAttempts:  5,
		}, nil)
		repo.On("Update", ctx, delivery.MatchDelivery(func(d delivery.Delivery) bool {
			return d.ID == "d2" && d.Status == delivery.Retrying && d.AttemptCount == 3
		}), delivery.Snapshot{Status: delivery.Failed, AttemptCount: 3}).Return(nil)

		out, err := service.ResendAllFailed(ctx, delivery.ResendFailedFilter{})

		require.NoError(t, err)
		assert.Equal(t, 2, out.Matched)
		assert.Equal(t, []string{"d2"}, out.Scheduled)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending delivery is cancelled", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		retryAt := time.Now().Add(time.Minute)
		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:          "delivery-123",
			Status:      delivery.Retrying,
			NextRetryAt: &retryAt,
		}, nil)
		repo.On("Update", ctx, delivery.MatchDelivery(func(d delivery.Delivery) bool {
			return d.Status == delivery.Cancelled && d.NextRetryAt == nil
		}), delivery.Snapshot{Status: delivery.Retrying}).Return(nil)

		d, err := service.Cancel(ctx, "delivery-123")

		require.NoError(t, err)
		assert.Equal(t, delivery.Cancelled, d.Status)
	})

	t.Run("re-reads after losing a race to a claim", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		attempted := time.Now()
		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:     "delivery-123",
			Status: delivery.Pending,
		}, nil).Once()
		repo.On("Update", ctx, delivery.MatchDelivery(func(d delivery.Delivery) bool {
			return d.Status == delivery.Cancelled && d.AttemptCount == 0
		}), delivery.Snapshot{Status: delivery.Pending}).Return(delivery.ErrStale).Once()

		// A worker claimed the record in between; the retry must keep
		// the claim's attempt bookkeeping
		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:              "delivery-123",
			Status:          delivery.Delivering,
			AttemptCount:    1,
			LastAttemptedAt: &attempted,
		}, nil).Once()
		repo.On("Update", ctx, delivery.MatchDelivery(func(d delivery.Delivery) bool {
			return d.Status == delivery.Cancelled && d.AttemptCount == 1
		}), delivery.Snapshot{Status: delivery.Delivering, AttemptCount: 1}).Return(nil).Once()

		d, err := service.Cancel(ctx, "delivery-123")

		require.NoError(t, err)
		assert.Equal(t, delivery.Cancelled, d.Status)
		assert.Equal(t, 1, d.AttemptCount)
	})

	t.Run("in-flight delivery is cancellable", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:     "delivery-123",
			Status: delivery.Delivering,
		}, nil)
		repo.On("Update", ctx, delivery.MatchDelivery(func(d delivery.Delivery) bool {
			return d.Status == delivery.Cancelled
		}), delivery.Snapshot{Status: delivery.Delivering}).Return(nil)

		_, err := service.Cancel(ctx, "delivery-123")

		require.NoError(t, err)
	})

	t.Run("delivered delivery is refused", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:     "delivery-123",
			Status: delivery.Delivered,
		}, nil)

		_, err := service.Cancel(ctx, "delivery-123")

		require.ErrorIs(t, err, delivery.ErrAlreadyDelivered)
	})

	t.Run("already terminal is refused", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{
			ID:     "delivery-123",
			Status: delivery.Cancelled,
		}, nil)

		_, err := service.Cancel(ctx, "delivery-123")

		require.ErrorIs(t, err, delivery.ErrInvalidState)
	})
}

func TestLogs(t *testing.T) {
	ctx := context.Background()

	t.Run("returns attempt history", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		repo.On("Get", ctx, "delivery-123").Return(delivery.Delivery{ID: "delivery-123"}, nil)
		repo.On("ListLogs", ctx, "delivery-123").Return([]delivery.Attempt{
			{DeliveryID: "delivery-123", AttemptNumber: 1},
			{DeliveryID: "delivery-123", AttemptNumber: 2},
		}, nil)

		logs, err := service.Logs(ctx, "delivery-123")

		require.NoError(t, err)
		assert.Len(t, logs, 2)
	})

	t.Run("unknown delivery", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		repo.On("Get", ctx, "missing").Return(delivery.Delivery{}, delivery.ErrNotFound)

		_, err := service.Logs(ctx, "missing")

		require.ErrorIs(t, err, delivery.ErrNotFound)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()

	t.Run("applies a default page size", func(t *testing.T) {
		repo := mocks.NewRepository(t)
		service := delivery.NewService(repo, nil)

		repo.On("List", ctx, delivery.ListFilter{Limit: 50}).Return([]delivery.Delivery{}, 0, nil)

		_, total, err := service.List(ctx, delivery.ListFilter{})

		require.NoError(t, err)
		assert.Zero(t, total)
	})
}
