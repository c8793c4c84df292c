package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	appErrors "sigilmem-backend/pkg/errors"
)

// fakeBackend mirrors the storage contract in memory: incrementing against
// a newer window start resets the counter first.
type fakeBackend struct {
	used   map[string]int64
	window map[string]time.Time
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{used: make(map[string]int64), window: make(map[string]time.Time)}
}

func (f *fakeBackend) IncrementUsage(_ context.Context, clientID string, amount int64, windowStart time.Time) (int64, error) {
	if f.window[clientID].Before(windowStart) {
		f.used[clientID] = 0
		f.window[clientID] = windowStart
	}
	f.used[clientID] += amount
	return f.used[clientID], nil
}

func (f *fakeBackend) GetUsage(_ context.Context, clientID string) (int64, time.Time, error) {
	return f.used[clientID], f.window[clientID], nil
}

func (f *fakeBackend) ResetUsage(_ context.Context, clientID string) error {
	delete(f.used, clientID)
	delete(f.window, clientID)
	return nil
}

func newTestLedger(t *testing.T, limit int64) (*Ledger, *time.Time) {
	t.Helper()
	current := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	l := NewLedger(zaptest.NewLogger(t), newFakeBackend(), Config{Limit: limit, Window: time.Hour})
	l.now = func() time.Time { return current }
	return l, &current
}

func TestLedgerCharge(t *testing.T) {
	ctx := context.Background()

	t.Run("AllowsUpToLimit", func(t *testing.T) {
		l, _ := newTestLedger(t, 100)
		for i := 0; i < 100; i++ {
			require.NoError(t, l.Charge(ctx, "client-a", 1))
		}
		err := l.Charge(ctx, "client-a", 1)
		assert.True(t, appErrors.IsQuotaExceeded(err))
	})

	t.Run("NewWindowRestoresBudget", func(t *testing.T) {
		l, clock := newTestLedger(t, 2)
		require.NoError(t, l.Charge(ctx, "client-a", 2))
		require.True(t, appErrors.IsQuotaExceeded(l.Charge(ctx, "client-a", 1)))

		*clock = clock.Add(time.Hour)
		assert.NoError(t, l.Charge(ctx, "client-a", 1))
	})

	t.Run("ClientsAreIndependent", func(t *testing.T) {
		l, _ := newTestLedger(t, 1)
		require.NoError(t, l.Charge(ctx, "client-a", 1))
		assert.NoError(t, l.Charge(ctx, "client-b", 1))
	})

	t.Run("RejectedChargeStillCounts", func(t *testing.T) {
		l, _ := newTestLedger(t, 1)
		require.NoError(t, l.Charge(ctx, "client-a", 1))
		require.True(t, appErrors.IsQuotaExceeded(l.Charge(ctx, "client-a", 1)))

		remaining, err := l.Remaining(ctx, "client-a")
		require.NoError(t, err)
		assert.Equal(t, int64(0), remaining)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		l, _ := newTestLedger(t, 1)
		assert.True(t, appErrors.IsValidation(l.Charge(ctx, "", 1)))
		assert.True(t, appErrors.IsValidation(l.Charge(ctx, "client-a", 0)))
	})
}

func TestLedgerRemaining(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t, 10)

	remaining, err := l.Remaining(ctx, "client-a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), remaining)

	require.NoError(t, l.Charge(ctx, "client-a", 4))
	remaining, err = l.Remaining(ctx, "client-a")
	require.NoError(t, err)
	assert.Equal(t, int64(6), remaining)

	// A stale counter from the previous window is ignored.
	*clock = clock.Add(time.Hour)
	remaining, err = l.Remaining(ctx, "client-a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), remaining)
}

func TestLedgerUsage(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLedger(t, 2)

	used, err := l.Usage(ctx, "client-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)

	// Usage keeps counting past the limit while Remaining clamps at zero.
	require.NoError(t, l.Charge(ctx, "client-a", 2))
	require.True(t, appErrors.IsQuotaExceeded(l.Charge(ctx, "client-a", 3)))

	used, err = l.Usage(ctx, "client-a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), used)

	remaining, err := l.Remaining(ctx, "client-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	// A stale counter from the previous window reads as zero.
	*clock = clock.Add(time.Hour)
	used, err = l.Usage(ctx, "client-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)
}

func TestLedgerReset(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, 1)

	require.NoError(t, l.Charge(ctx, "client-a", 1))
	require.True(t, appErrors.IsQuotaExceeded(l.Charge(ctx, "client-a", 1)))

	require.NoError(t, l.Reset(ctx, "client-a"))
	assert.NoError(t, l.Charge(ctx, "client-a", 1))
}
