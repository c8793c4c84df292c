package breakerstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sigilmem-backend/internal/repository"
	"sigilmem-backend/internal/repository/memstore"
	"sigilmem-backend/internal/repository/storetest"
	"sigilmem-backend/internal/resilience"
	appErrors "sigilmem-backend/pkg/errors"
)

func testConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Name:             "store",
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
		CallTimeout:      time.Second,
	}
}

// failingStore errors on every call once broken.
type failingStore struct {
	repository.Store
	broken bool
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.broken {
		return nil, errors.New("backend unreachable")
	}
	return f.Store.Get(ctx, key)
}

func TestBreakerStoreConformance(t *testing.T) {
	// The decorator must be transparent against a healthy backend.
	storetest.RunSuite(t, func(t *testing.T) repository.Store {
		return Wrap(zaptest.NewLogger(t), nil, memstore.New(), testConfig())
	})
}

func TestBreakerStoreOpensOnRepeatedFailures(t *testing.T) {
	inner := &failingStore{Store: memstore.New(), broken: true}
	store := Wrap(zaptest.NewLogger(t), nil, inner, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Get(ctx, "some-key")
		require.Error(t, err)
		require.False(t, appErrors.IsCircuitOpen(err))
	}

	_, err := store.Get(ctx, "some-key")
	assert.True(t, appErrors.IsCircuitOpen(err))
}

func TestBreakerStoreNotFoundDoesNotTrip(t *testing.T) {
	store := Wrap(zaptest.NewLogger(t), nil, memstore.New(), testConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.Get(ctx, "missing-key")
		require.True(t, appErrors.IsNotFound(err))
	}

	// The breaker stayed closed through all the misses.
	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}
