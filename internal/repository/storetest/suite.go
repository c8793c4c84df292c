// Package storetest is the shared conformance suite for storage adapters.
// Every backend package runs RunSuite against its own implementation, so the
// contract invariants (tenant isolation above all) are enforced structurally
// rather than per-backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigilmem-backend/internal/repository"
	appErrors "sigilmem-backend/pkg/errors"
)

// Factory builds a fresh, initialized store for one subtest. Cleanup is the
// caller's job via t.Cleanup.
type Factory func(t *testing.T) repository.Store

// RunSuite runs the storage adapter conformance tests against the stores the
// factory produces.
func RunSuite(t *testing.T, newStore Factory) {
	t.Run("KVRoundTrip", func(t *testing.T) { testKVRoundTrip(t, newStore(t)) })
	t.Run("KVNotFound", func(t *testing.T) { testKVNotFound(t, newStore(t)) })
	t.Run("KVEmptyKey", func(t *testing.T) { testKVEmptyKey(t, newStore(t)) })
	t.Run("KeysPrefix", func(t *testing.T) { testKeysPrefix(t, newStore(t)) })
	t.Run("SigilRoundTrip", func(t *testing.T) { testSigilRoundTrip(t, newStore(t)) })
	t.Run("TenantIsolation", func(t *testing.T) { testTenantIsolation(t, newStore(t)) })
	t.Run("AuthHashMismatch", func(t *testing.T) { testAuthHashMismatch(t, newStore(t)) })
	t.Run("CountPerTenant", func(t *testing.T) { testCountPerTenant(t, newStore(t)) })
	t.Run("BatchMixedTenants", func(t *testing.T) { testBatchMixedTenants(t, newStore(t)) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, newStore(t)) })
}

func testKVRoundTrip(t *testing.T, store repository.Store) {
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "alpha", []byte("one")))
	require.NoError(t, store.Set(ctx, "alpha", []byte("two"))) // overwrite

	got, err := store.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)

	require.NoError(t, store.Delete(ctx, "alpha"))
	_, err = store.Get(ctx, "alpha")
	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err))
}

func testKVNotFound(t *testing.T, store repository.Store) {
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err))
}

func testKVEmptyKey(t *testing.T, store repository.Store) {
	ctx := context.Background()
	assert.True(t, appErrors.IsValidation(store.Set(ctx, "", []byte("x"))))
	_, err := store.Get(ctx, "")
	assert.True(t, appErrors.IsValidation(err))
}

func testKeysPrefix(t *testing.T, store repository.Store) {
	ctx := context.Background()
	for _, k := range []string{"cfg/a", "cfg/b", "other/c"} {
		require.NoError(t, store.Set(ctx, k, []byte("v")))
	}

	keys, err := store.Keys(ctx, "cfg/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cfg/a", "cfg/b"}, keys)
}

func testSigilRoundTrip(t *testing.T, store repository.Store) {
	ctx := context.Background()

	require.NoError(t, store.SetSigilRecord(ctx, "t1", "rec-1", "hash-a", []byte(`{"v":1}`)))
	require.NoError(t, store.SetSigilRecord(ctx, "t1", "rec-1", "hash-a", []byte(`{"v":2}`)))

	got, err := store.GetSigilRecord(ctx, "t1", "rec-1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got)

	records, err := store.AllSigilRecords(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "t1", records[0].TenantID)
	assert.Equal(t, "rec-1", records[0].ID)
	assert.Equal(t, []byte(`{"v":2}`), records[0].Data)
}

// testTenantIsolation verifies the core invariant: a record written under
// tenant T1 is answered as not-found for tenant T2, never as an error that
// leaks existence.
func testTenantIsolation(t *testing.T, store repository.Store) {
	ctx := context.Background()
	require.NoError(t, store.SetSigilRecord(ctx, "t1", "rec-1", "hash-a", []byte("secret")))

	_, err := store.GetSigilRecord(ctx, "t2", "rec-1", "hash-a")
	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err), "cross-tenant read must look like absence, got %v", err)

	records, err := store.AllSigilRecords(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func testAuthHashMismatch(t *testing.T, store repository.Store) {
	ctx := context.Background()
	require.NoError(t, store.SetSigilRecord(ctx, "t1", "rec-1", "hash-a", []byte("v")))

	_, err := store.GetSigilRecord(ctx, "t1", "rec-1", "hash-b")
	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err))
}

func testCountPerTenant(t *testing.T, store repository.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.SetSigilRecord(ctx, "t1", fmt.Sprintf("rec-%d", i), "h", []byte("v")))
	}
	require.NoError(t, store.SetSigilRecord(ctx, "t2", "rec-0", "h", []byte("v")))

	count1, err := store.CountSigilRecords(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, count1)

	count2, err := store.CountSigilRecords(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, 1, count2)

	count3, err := store.CountSigilRecords(ctx, "t3")
	require.NoError(t, err)
	assert.Zero(t, count3)
}

// testBatchMixedTenants verifies per-operation tenant scoping inside a batch.
func testBatchMixedTenants(t *testing.T, store repository.Store) {
	ctx := context.Background()
	require.NoError(t, store.SetSigilRecord(ctx, "t2", "stale", "h", []byte("old")))

	err := store.Batch(ctx, []repository.BatchOp{
		{Kind: repository.OpSet, TenantID: "t1", ID: "a", AuthHash: "h", Data: []byte("1")},
		{Kind: repository.OpSet, TenantID: "t2", ID: "b", AuthHash: "h", Data: []byte("2")},
		{Kind: repository.OpDelete, TenantID: "t2", ID: "stale", AuthHash: "h"},
	})
	require.NoError(t, err)

	got, err := store.GetSigilRecord(ctx, "t1", "a", "h")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	// t1 must not see t2's batch writes.
	_, err = store.GetSigilRecord(ctx, "t1", "b", "h")
	assert.True(t, appErrors.IsNotFound(err))

	_, err = store.GetSigilRecord(ctx, "t2", "stale", "h")
	assert.True(t, appErrors.IsNotFound(err))

	count1, err := store.CountSigilRecords(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, count1)
	count2, err := store.CountSigilRecords(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, 1, count2)
}

// testConcurrentWriters issues 100 parallel writes on independent keys; all
// must succeed and be independently retrievable.
func testConcurrentWriters(t *testing.T, store repository.Store) {
	ctx := context.Background()
	const writers = 100

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("rec-%03d", i)
			errs <- store.SetSigilRecord(ctx, "t1", id, "h", []byte(id))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := store.CountSigilRecords(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, writers, count)

	for i := 0; i < writers; i++ {
		id := fmt.Sprintf("rec-%03d", i)
		got, err := store.GetSigilRecord(ctx, "t1", id, "h")
		require.NoError(t, err)
		assert.Equal(t, []byte(id), got)
	}
}
