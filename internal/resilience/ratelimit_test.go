package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	appErrors "sigilmem-backend/pkg/errors"
)

func TestLocalLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("RejectsBeyondPoints", func(t *testing.T) {
		l := NewLocalLimiter(LimitConfig{Points: 10, Duration: time.Second})
		for i := 0; i < 10; i++ {
			require.NoError(t, l.Allow(ctx, "client-a"))
		}
		err := l.Allow(ctx, "client-a")
		assert.True(t, appErrors.IsRateLimited(err))
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		l := NewLocalLimiter(LimitConfig{Points: 1, Duration: time.Second})
		require.NoError(t, l.Allow(ctx, "client-a"))
		require.NoError(t, l.Allow(ctx, "client-b"))
		assert.True(t, appErrors.IsRateLimited(l.Allow(ctx, "client-a")))
	})

	t.Run("WindowRollsOver", func(t *testing.T) {
		current := time.Now()
		l := NewLocalLimiter(LimitConfig{Points: 1, Duration: time.Minute})
		l.now = func() time.Time { return current }

		require.NoError(t, l.Allow(ctx, "client-a"))
		require.True(t, appErrors.IsRateLimited(l.Allow(ctx, "client-a")))

		current = current.Add(time.Minute)
		assert.NoError(t, l.Allow(ctx, "client-a"))
	})
}

func TestRedisLimiter(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(zaptest.NewLogger(t), client, "rl", LimitConfig{
		Points:   10,
		Duration: time.Second,
	})

	t.Run("RejectsBeyondPoints", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			require.NoError(t, l.Allow(ctx, "client-a"))
		}
		err := l.Allow(ctx, "client-a")
		assert.True(t, appErrors.IsRateLimited(err))
	})

	t.Run("WindowExpires", func(t *testing.T) {
		mr.FastForward(2 * time.Second)
		assert.NoError(t, l.Allow(ctx, "client-a"))
	})

	t.Run("SharedAcrossClients", func(t *testing.T) {
		other := NewRedisLimiter(zaptest.NewLogger(t), client, "rl", LimitConfig{
			Points:   10,
			Duration: time.Second,
		})
		mr.FastForward(2 * time.Second)
		for i := 0; i < 5; i++ {
			require.NoError(t, l.Allow(ctx, "client-b"))
		}
		for i := 0; i < 5; i++ {
			require.NoError(t, other.Allow(ctx, "client-b"))
		}
		assert.True(t, appErrors.IsRateLimited(l.Allow(ctx, "client-b")))
	})
}
