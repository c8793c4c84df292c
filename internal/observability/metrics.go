// Package observability holds the Prometheus metrics for the memory
// service. Each Collector owns its registry, so tests and multiple
// worker instances never fight over global registration.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the application.
type Collector struct {
	registry *prometheus.Registry

	// Record lifecycle metrics
	RecordsStored  prometheus.Counter
	RecordsEvicted *prometheus.CounterVec
	LinksCreated   prometheus.Counter
	LinksRejected  *prometheus.CounterVec

	// Garbage collection metrics
	GCCycles     prometheus.Counter
	GCDuration   prometheus.Histogram
	GCBatchSize  prometheus.Histogram
	GCQueueDepth prometheus.Gauge

	// Resilience metrics
	BreakerState        *prometheus.GaugeVec
	RateLimitRejections prometheus.Counter
	QuotaRejections     prometheus.Counter

	// Storage metrics
	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		RecordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_stored_total",
			Help:      "Total number of records stored",
		}),
		RecordsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_evicted_total",
			Help:      "Total number of records evicted by garbage collection",
		}, []string{"forced"}),
		LinksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_created_total",
			Help:      "Total number of record links created",
		}),
		LinksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_rejected_total",
			Help:      "Total number of link attempts rejected",
		}, []string{"reason"}),

		GCCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_cycles_total",
			Help:      "Total number of garbage collection cycles",
		}),
		GCDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gc_cycle_duration_seconds",
			Help:      "Garbage collection cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		GCBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gc_batch_size",
			Help:      "Number of candidates examined per collection cycle",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		GCQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gc_queue_depth",
			Help:      "Current number of records queued for collection review",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"breaker"}),
		RateLimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of operations rejected by rate limiting",
		}),
		QuotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Total number of operations rejected by quota enforcement",
		}),

		StoreOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of storage backend operations",
		}, []string{"operation", "status"}),
		StoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Storage backend operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	c.registry.MustRegister(
		c.RecordsStored,
		c.RecordsEvicted,
		c.LinksCreated,
		c.LinksRejected,
		c.GCCycles,
		c.GCDuration,
		c.GCBatchSize,
		c.GCQueueDepth,
		c.BreakerState,
		c.RateLimitRejections,
		c.QuotaRejections,
		c.StoreOperations,
		c.StoreDuration,
	)
	return c
}

// Registry exposes the collector's registry for the metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// SetBreakerState records a named breaker's state as a gauge value:
// 0 closed, 1 half-open, 2 open.
func (c *Collector) SetBreakerState(name, state string) {
	var value float64
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	c.BreakerState.WithLabelValues(name).Set(value)
}

// ObserveStoreOperation records one backend call with its outcome.
func (c *Collector) ObserveStoreOperation(operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.StoreOperations.WithLabelValues(operation, status).Inc()
	c.StoreDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
