package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sigilmem-backend/internal/observability"
	appErrors "sigilmem-backend/pkg/errors"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "test",
		FailureThreshold: 5,
		ResetTimeout:     50 * time.Millisecond,
		CallTimeout:      time.Second,
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(zaptest.NewLogger(t), nil, testBreakerConfig())
	ctx := context.Background()
	failing := errors.New("backend down")

	for i := 0; i < 5; i++ {
		err := b.Execute(ctx, func(context.Context) error { return failing })
		require.ErrorIs(t, err, failing)
	}

	err := b.Execute(ctx, func(context.Context) error {
		t.Fatal("call should not reach the backend while open")
		return nil
	})
	assert.True(t, appErrors.IsCircuitOpen(err))
	assert.Equal(t, "open", b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(zaptest.NewLogger(t), nil, testBreakerConfig())
	ctx := context.Background()
	failing := errors.New("backend down")

	for i := 0; i < 4; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return failing })
	}
	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))

	// Four more failures must not open it; the threshold is consecutive.
	for i := 0; i < 4; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return failing })
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	b := NewBreaker(zaptest.NewLogger(t), nil, testBreakerConfig())
	ctx := context.Background()
	failing := errors.New("backend down")

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return failing })
	}
	require.Equal(t, "open", b.State())

	time.Sleep(60 * time.Millisecond)

	t.Run("FailedTrialReopens", func(t *testing.T) {
		err := b.Execute(ctx, func(context.Context) error { return failing })
		require.ErrorIs(t, err, failing)
		assert.Equal(t, "open", b.State())
	})

	time.Sleep(60 * time.Millisecond)

	t.Run("SuccessfulTrialCloses", func(t *testing.T) {
		require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
		assert.Equal(t, "closed", b.State())
	})
}

func TestBreakerReportsStateGauge(t *testing.T) {
	collector := observability.NewCollector("test")
	b := NewBreaker(zaptest.NewLogger(t), collector, testBreakerConfig())
	ctx := context.Background()
	failing := errors.New("backend down")

	gauge := collector.BreakerState.WithLabelValues("test")
	require.Equal(t, float64(0), testutil.ToFloat64(gauge))

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return failing })
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(gauge))

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, float64(0), testutil.ToFloat64(gauge))
}

func TestBreakerCallTimeout(t *testing.T) {
	config := testBreakerConfig()
	config.CallTimeout = 20 * time.Millisecond
	b := NewBreaker(zaptest.NewLogger(t), nil, config)

	err := b.Execute(context.Background(), func(context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	assert.True(t, appErrors.IsTimeout(err))
}
