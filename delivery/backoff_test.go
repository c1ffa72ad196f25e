package delivery_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marcelsud/webhook-outbox/delivery"
)

func TestBackoff_NextDelay(t *testing.T) {
	t.Run("doubles per attempt until the cap", func(t *testing.T) {
		b := delivery.DefaultBackoff

		assert.Equal(t, 60*time.Second, b.NextDelay(0))
		assert.Equal(t, 120*time.Second, b.NextDelay(1))
		assert.Equal(t, 240*time.Second, b.NextDelay(2))
		assert.Equal(t, 480*time.Second, b.NextDelay(3))
		assert.Equal(t, 960*time.Second, b.NextDelay(4))
		assert.Equal(t, 1920*time.Second, b.NextDelay(5))
	})

	t.Run("caps at the max", func(t *testing.T) {
		b := delivery.DefaultBackoff

		assert.Equal(t, 3600*time.Second, b.NextDelay(6))
		assert.Equal(t, 3600*time.Second, b.NextDelay(7))
		assert.Equal(t, 3600*time.Second, b.NextDelay(100))
	})

	t.Run("monotonically non-decreasing", func(t *testing.T) {
		b := delivery.DefaultBackoff

		prev := time.Duration(0)
		for n := 0; n < 64; n++ {
			d := b.NextDelay(n)
			assert.GreaterOrEqual(t, d, prev)
			assert.LessOrEqual(t, d, b.Max)
			prev = d
		}
	})

	t.Run("negative attempts treated as zero", func(t *testing.T) {
		b := delivery.DefaultBackoff

		assert.Equal(t, b.Base, b.NextDelay(-1))
	})

	t.Run("custom policy", func(t *testing.T) {
		b := delivery.Backoff{Base: time.Second, Max: 5 * time.Second}

		assert.Equal(t, 1*time.Second, b.NextDelay(0))
		assert.Equal(t, 2*time.Second, b.NextDelay(1))
		assert.Equal(t, 4*time.Second, b.NextDelay(2))
		assert.Equal(t, 5*time.Second, b.NextDelay(3))
	})
}
