package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreIndependent(t *testing.T) {
	// Two collectors must not share registries; duplicate registration
	// would panic here otherwise.
	a := NewCollector("sigilmem")
	b := NewCollector("sigilmem")

	a.RecordsStored.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(a.RecordsStored))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.RecordsStored))
}

func TestObserveStoreOperation(t *testing.T) {
	c := NewCollector("sigilmem")

	c.ObserveStoreOperation("get", 5*time.Millisecond, nil)
	c.ObserveStoreOperation("get", 5*time.Millisecond, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(c.StoreOperations.WithLabelValues("get", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.StoreOperations.WithLabelValues("get", "error")))
}

func TestRegistryServesMetrics(t *testing.T) {
	c := NewCollector("sigilmem")
	c.RecordsEvicted.WithLabelValues("true").Inc()

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if f.GetName() == "sigilmem_records_evicted_total" {
			found = true
		}
	}
	assert.True(t, found)
}
