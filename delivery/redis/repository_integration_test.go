//go:build integration

package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelsud/webhook-outbox/delivery"
)

func TestRepository_CreateGet_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("create and retrieve delivery", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		d := NewTestDelivery(t, 1)
		require.NoError(t, repo.Create(ctx, d))

		retrieved, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)

		assert.Equal(t, d.ID, retrieved.ID)
		assert.Equal(t, d.WebhookID, retrieved.WebhookID)
		assert.Equal(t, d.EventType, retrieved.EventType)
		assert.Equal(t, string(d.Payload), string(retrieved.Payload))
		assert.Equal(t, d.Signature, retrieved.Signature)
		assert.Equal(t, delivery.Pending, retrieved.Status)
		assert.Equal(t, d.MaxAttempts, retrieved.MaxAttempts)
		assert.Equal(t, "test", retrieved.Headers["X-Team"])
		assert.Nil(t, retrieved.NextRetryAt)
	})

	t.Run("unknown id", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		_, err := repo.Get(ctx, "missing")
		require.ErrorIs(t, err, delivery.ErrNotFound)
	})
}

func TestRepository_Claim_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("claim moves the record to delivering", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		d := NewTestDelivery(t, 1)
		require.NoError(t, repo.Create(ctx, d))

		claimed, err := repo.Claim(ctx, d.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, delivery.Delivering, claimed.Status)
		assert.Equal(t, 1, claimed.AttemptCount)
		assert.NotNil(t, claimed.LastAttemptedAt)

		// A second claim loses
		_, err = repo.Claim(ctx, d.ID, time.Now())
		require.ErrorIs(t, err, delivery.ErrNotDeliverable)
	})

	t.Run("concurrent claims yield exactly one winner", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		d := NewTestDelivery(t, 2)
		require.NoError(t, repo.Create(ctx, d))

		var winners int32
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.Claim(ctx, d.ID, time.Now()); err == nil {
					atomic.AddInt32(&winners, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), winners)

		final, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, final.AttemptCount)
	})
}

func TestRepository_Lifecycle_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("claim, fail with retry, become due, deliver", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		d := NewTestDelivery(t, 1)
		require.NoError(t, repo.Create(ctx, d))

		now := time.Now()
		_, err := repo.Claim(ctx, d.ID, now)
		require.NoError(t, err)

		retryAt := now.Add(-time.Second) // already due
		failed, err := repo.MarkFailed(ctx, d.ID, delivery.Failure{
			Message:     "HTTP 503: unavailable",
			NextRetryAt: &retryAt,
		}, now)
		require.NoError(t, err)
		assert.Equal(t, delivery.Retrying, failed.Status)

		ids, err := repo.DueRetries(ctx, now.Add(time.Second), 10)
		require.NoError(t, err)
		assert.Contains(t, ids, d.ID)

		_, err = repo.Claim(ctx, d.ID, now)
		require.NoError(t, err)

		delivered, err := repo.MarkDelivered(ctx, d.ID, delivery.Result{
			Status: 200,
			Body:   `{"ok":true}`,
		}, now)
		require.NoError(t, err)
		assert.Equal(t, delivery.Delivered, delivered.Status)
		assert.Equal(t, 2, delivered.AttemptCount)
		assert.NotNil(t, delivered.DeliveredAt)

		// Delivered records leave the due index
		ids, err = repo.DueRetries(ctx, now.Add(time.Hour), 10)
		require.NoError(t, err)
		assert.NotContains(t, ids, d.ID)
	})

	t.Run("stale claims are released", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		d := NewTestDelivery(t, 1)
		require.NoError(t, repo.Create(ctx, d))

		claimTime := time.Now().Add(-10 * time.Minute)
		_, err := repo.Claim(ctx, d.ID, claimTime)
		require.NoError(t, err)

		released, err := repo.ReleaseStale(ctx, time.Now().Add(-2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, released)

		got, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, delivery.Retrying, got.Status)
	})
}

func TestRepository_Logs_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("append and list attempt logs", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		d := NewTestDelivery(t, 1)
		require.NoError(t, repo.Create(ctx, d))

		require.NoError(t, repo.AppendLog(ctx, delivery.Attempt{
			ID:             "a1",
			DeliveryID:     d.ID,
			AttemptNumber:  1,
			AttemptedAt:    time.Now(),
			ResponseStatus: 503,
			ErrorMessage:   "HTTP 503: unavailable",
		}))
		require.NoError(t, repo.AppendLog(ctx, delivery.Attempt{
			ID:             "a2",
			DeliveryID:     d.ID,
			AttemptNumber:  2,
			AttemptedAt:    time.Now(),
			ResponseStatus: 200,
			ResponseTimeMs: 42,
		}))

		logs, err := repo.ListLogs(ctx, d.ID)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, 1, logs[0].AttemptNumber)
		assert.Equal(t, 2, logs[1].AttemptNumber)
		assert.Equal(t, int64(42), logs[1].ResponseTimeMs)
	})
}

func TestRepository_Purge_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("purges terminal deliveries and their logs", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo := CreateTestRepository(t, redisContainer.Addr)
		defer repo.Close(ctx)

		old := NewTestDelivery(t, 1)
		old.Status = delivery.Failed
		old.CreatedAt = time.Now().Add(-48 * time.Hour)
		require.NoError(t, repo.Create(ctx, old))
		require.NoError(t, repo.AppendLog(ctx, delivery.Attempt{
			ID: "a1", DeliveryID: old.ID, AttemptNumber: 1, AttemptedAt: time.Now(),
		}))

		fresh := NewTestDelivery(t, 2)
		require.NoError(t, repo.Create(ctx, fresh))

		purged, err := repo.PurgeOlderThan(ctx, time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, purged)

		_, err = repo.Get(ctx, old.ID)
		require.ErrorIs(t, err, delivery.ErrNotFound)

		_, err = repo.Get(ctx, fresh.ID)
		require.NoError(t, err)
	})
}
