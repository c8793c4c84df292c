package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sigilmem-backend/internal/observability"
	"sigilmem-backend/internal/repository/memstore"
)

func newGCService(t *testing.T, cfg Config) *Service {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memstore.New()
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	svc, err := NewService(logger, store, nil, observability.NewCollector("test"), cfg)
	require.NoError(t, err)
	return svc
}

func TestCollectionCycleDrainsQueue(t *testing.T) {
	cfg := DefaultConfig("tenant-1", "auth-1")
	cfg.GCPassBudget = 100
	svc := newGCService(t, cfg)
	ctx := context.Background()

	total := 1000
	if testing.Short() {
		total = 100
	}
	for i := 0; i < total; i++ {
		_, err := svc.StoreRecord(ctx, fmt.Sprintf("stale record %d", i), "episodic", 1)
		require.NoError(t, err)
	}
	require.Equal(t, total, svc.QueueDepth())

	// Everything is past the age threshold and untouched.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	evicted := 0
	cycles := 0
	for svc.QueueDepth() > 0 {
		stats, err := svc.PerformCollectionCycle(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, stats.Scanned, cfg.GCPassBudget)
		evicted += stats.Evicted
		cycles++
		require.Less(t, cycles, total+1, "collection did not converge")
	}

	assert.Equal(t, total, evicted)
	assert.Equal(t, (total+cfg.GCPassBudget-1)/cfg.GCPassBudget, cycles)

	sp, err := svc.Partition(svcFirstSpiralID(svc))
	require.NoError(t, err)
	assert.Equal(t, 0, sp.NodeCount)
}

// svcFirstSpiralID returns any partition ID; the drain test uses a single
// partition.
func svcFirstSpiralID(s *Service) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.spirals {
		return id
	}
	return ""
}

func TestForcedEvictionAfterThreeSkips(t *testing.T) {
	cfg := DefaultConfig("tenant-1", "auth-1")
	svc := newGCService(t, cfg)
	ctx := context.Background()

	// The record stays younger than the age threshold for the whole test,
	// so it is never eligible and gets skipped each cycle.
	n, err := svc.StoreRecord(ctx, "young but doomed", "episodic", 1)
	require.NoError(t, err)

	for cycle := 1; cycle <= 2; cycle++ {
		stats, err := svc.PerformCollectionCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Skipped, "cycle %d", cycle)
		assert.Equal(t, 0, stats.Evicted+stats.ForcedEvicted, "cycle %d", cycle)
	}

	stats, err := svc.PerformCollectionCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ForcedEvicted)
	assert.Equal(t, 0, stats.Skipped)

	_, err = svc.Recall(ctx, n.Fingerprint.Signature)
	assert.Error(t, err)
}

func TestCollectionSparesAccessedRecords(t *testing.T) {
	cfg := DefaultConfig("tenant-1", "auth-1")
	cfg.GCMaxAccess = 2
	cfg.GCSkipThreshold = 100 // keep forced eviction out of this test
	svc := newGCService(t, cfg)
	ctx := context.Background()

	stale, err := svc.StoreRecord(ctx, "stale record", "episodic", 1)
	require.NoError(t, err)
	active, err := svc.StoreRecord(ctx, "active record", "episodic", 1)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Recall(ctx, active.Fingerprint.Signature)
		require.NoError(t, err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	stats, err := svc.PerformCollectionCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Evicted)
	_, err = svc.Recall(ctx, stale.Fingerprint.Signature)
	assert.Error(t, err)
	_, err = svc.Recall(ctx, active.Fingerprint.Signature)
	assert.NoError(t, err)
}

func TestCycleStatsPhases(t *testing.T) {
	cfg := DefaultConfig("tenant-1", "auth-1")
	svc := newGCService(t, cfg)

	stats, err := svc.PerformCollectionCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseScanning, PhaseEvaluating, PhaseEvicting}, stats.FinishedPhases)
	assert.Equal(t, 0, stats.Scanned)
}

func TestSetPassBudget(t *testing.T) {
	cfg := DefaultConfig("tenant-1", "auth-1")
	cfg.GCPassBudget = 100
	svc := newGCService(t, cfg)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := svc.StoreRecord(ctx, fmt.Sprintf("budgeted record %d", i), "episodic", 1)
		require.NoError(t, err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	svc.SetPassBudget(5)
	stats, err := svc.PerformCollectionCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Scanned)

	// Invalid budgets are ignored.
	svc.SetPassBudget(0)
	stats, err = svc.PerformCollectionCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Scanned)
}
