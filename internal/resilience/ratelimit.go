package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "sigilmem-backend/pkg/errors"
)

// LimitConfig is a fixed-window rate limit: Points operations per Duration.
type LimitConfig struct {
	Points   int64
	Duration time.Duration
}

// Limiter admits or rejects an operation for a client key.
type Limiter interface {
	// Allow consumes one point for key. It returns a rate-limited error
	// when the window's points are exhausted.
	Allow(ctx context.Context, key string) error
}

type windowState struct {
	start time.Time
	used  int64
}

// LocalLimiter is an in-process fixed-window limiter. Windows are tracked
// per key and roll over lazily on access.
type LocalLimiter struct {
	mu      sync.Mutex
	config  LimitConfig
	windows map[string]*windowState
	now     func() time.Time
}

var _ Limiter = (*LocalLimiter)(nil)

func NewLocalLimiter(config LimitConfig) *LocalLimiter {
	return &LocalLimiter{
		config:  config,
		windows: make(map[string]*windowState),
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.config.Duration {
		w = &windowState{start: now}
		l.windows[key] = w
	}
	if w.used >= l.config.Points {
		return appErrors.NewRateLimited(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	w.used++
	return nil
}

// RedisLimiter is a fixed-window limiter shared across processes. The
// counter key expires with the window, so rollover needs no sweeper.
type RedisLimiter struct {
	logger *zap.Logger
	client *redis.Client
	config LimitConfig
	prefix string
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(logger *zap.Logger, client *redis.Client, prefix string, config LimitConfig) *RedisLimiter {
	return &RedisLimiter{logger: logger, client: client, config: config, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) error {
	counterKey := l.prefix + ":" + key

	count, err := l.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return appErrors.NewInternal("incrementing rate counter", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, counterKey, l.config.Duration).Err(); err != nil {
			l.logger.Warn("setting rate counter expiry failed",
				zap.String("key", counterKey), zap.Error(err))
		}
	}
	if count > l.config.Points {
		return appErrors.NewRateLimited(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}
