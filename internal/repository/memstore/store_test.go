package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sigilmem-backend/internal/repository"
	"sigilmem-backend/internal/repository/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunSuite(t, func(t *testing.T) repository.Store {
		store := New()
		require.NoError(t, store.Init(context.Background()))
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestCloseDiscardsData(t *testing.T) {
	ctx := context.Background()
	store := New()
	require.NoError(t, store.SetSigilRecord(ctx, "t1", "rec", "h", []byte("v")))
	require.NoError(t, store.Close())

	count, err := store.CountSigilRecords(ctx, "t1")
	require.NoError(t, err)
	require.Zero(t, count)
}
