package memory

import (
	"container/heap"
	"context"
	"time"

	"go.uber.org/zap"

	"sigilmem-backend/internal/domain/node"
	"sigilmem-backend/internal/events"
	"sigilmem-backend/internal/repository"
)

// Phase is the collector's position in its cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseEvaluating
	PhaseEvicting
)

func (p Phase) String() string {
	switch p {
	case PhaseScanning:
		return "scanning"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseEvicting:
		return "evicting"
	default:
		return "idle"
	}
}

// CycleStats summarizes one collection cycle.
type CycleStats struct {
	Scanned        int
	Evicted        int
	ForcedEvicted  int
	Skipped        int
	QueueDepth     int
	Duration       time.Duration
	FinishedPhases []Phase
}

// candidate is a queued record under collection review.
type candidate struct {
	nodeID    string
	createdAt time.Time
	skipCount int
	index     int
}

// reviewQueue orders candidates oldest-first so long-lived records are
// reviewed before recent ones.
type reviewQueue []*candidate

func (q reviewQueue) Len() int { return len(q) }
func (q reviewQueue) Less(i, j int) bool {
	return q[i].createdAt.Before(q[j].createdAt)
}
func (q reviewQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *reviewQueue) Push(x interface{}) {
	c := x.(*candidate)
	c.index = len(*q)
	*q = append(*q, c)
}
func (q *reviewQueue) Pop() interface{} {
	old := *q
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return c
}

// collector is the adaptive garbage collector. It is owned by the service
// and always runs under the service mutex.
type collector struct {
	svc *Service

	passBudget    int
	minAge        time.Duration
	maxAccess     int64
	skipThreshold int

	phase Phase
	queue reviewQueue
}

func newCollector(svc *Service, passBudget int, minAge time.Duration, maxAccess int64, skipThreshold int) *collector {
	c := &collector{
		svc:           svc,
		passBudget:    passBudget,
		minAge:        minAge,
		maxAccess:     maxAccess,
		skipThreshold: skipThreshold,
		phase:         PhaseIdle,
	}
	heap.Init(&c.queue)
	return c
}

func (c *collector) enqueue(n *node.Node) {
	heap.Push(&c.queue, &candidate{nodeID: n.ID, createdAt: n.CreatedAt})
}

func (c *collector) queueDepth() int { return c.queue.Len() }

// SetPassBudget updates the per-cycle review budget, applied from config
// reloads.
func (s *Service) SetPassBudget(budget int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if budget > 0 {
		s.gc.passBudget = budget
	}
}

// QueueDepth reports how many records await collection review.
func (s *Service) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gc.queueDepth()
}

// PerformCollectionCycle runs one garbage collection cycle: it reviews up
// to min(queue depth, pass budget) candidates, evicts the eligible ones and
// re-queues the rest. A candidate skipped skipThreshold times is evicted
// regardless of eligibility. Per-record persistence errors are logged and
// the cycle continues.
func (s *Service) PerformCollectionCycle(ctx context.Context) (CycleStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	c := s.gc
	stats := CycleStats{}

	// Scanning: size the batch against the budget.
	c.phase = PhaseScanning
	stats.FinishedPhases = append(stats.FinishedPhases, PhaseScanning)
	batch := min(c.queue.Len(), c.passBudget)

	// Evaluating: pull the batch and decide each candidate's fate.
	c.phase = PhaseEvaluating
	now := s.now()
	var evict, forced, requeue []*candidate
	for i := 0; i < batch; i++ {
		cand := heap.Pop(&c.queue).(*candidate)
		n := s.lookup(cand.nodeID)
		if n == nil {
			// Already removed through another path; drop the entry.
			continue
		}
		stats.Scanned++

		eligible := n.Age(now) >= c.minAge && int64(n.AccessCount) <= c.maxAccess
		if eligible {
			evict = append(evict, cand)
			continue
		}

		cand.skipCount++
		if cand.skipCount >= c.skipThreshold {
			forced = append(forced, cand)
			continue
		}
		stats.Skipped++
		requeue = append(requeue, cand)
	}
	stats.FinishedPhases = append(stats.FinishedPhases, PhaseEvaluating)

	// Evicting: remove records, then restore the survivors to the queue.
	c.phase = PhaseEvicting
	for _, cand := range evict {
		if s.evictLocked(ctx, cand.nodeID, false) {
			stats.Evicted++
		}
	}
	for _, cand := range forced {
		if s.evictLocked(ctx, cand.nodeID, true) {
			stats.ForcedEvicted++
		}
	}
	for _, cand := range requeue {
		heap.Push(&c.queue, cand)
	}
	stats.FinishedPhases = append(stats.FinishedPhases, PhaseEvicting)

	c.phase = PhaseIdle
	stats.QueueDepth = c.queue.Len()
	stats.Duration = s.now().Sub(start)

	s.metrics.GCCycles.Inc()
	s.metrics.GCDuration.Observe(stats.Duration.Seconds())
	s.metrics.GCBatchSize.Observe(float64(batch))
	s.metrics.GCQueueDepth.Set(float64(stats.QueueDepth))

	s.logger.Debug("collection cycle finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("evicted", stats.Evicted),
		zap.Int("forced", stats.ForcedEvicted),
		zap.Int("skipped", stats.Skipped),
		zap.Int("queue_depth", stats.QueueDepth))
	return stats, nil
}

// evictLocked removes a record from its partition, the indexes and the
// backing store. Caller holds the mutex. Returns whether the record was
// removed from memory; persistence failures are logged, not fatal.
func (s *Service) evictLocked(ctx context.Context, nodeID string, forced bool) bool {
	spiralID, ok := s.nodeSpiral[nodeID]
	if !ok {
		return false
	}
	sp := s.spirals[spiralID]
	n := sp.Nodes[nodeID]
	if n == nil {
		return false
	}

	sp.RemoveNode(nodeID)
	delete(s.nodeSpiral, nodeID)
	delete(s.bySignature, n.Fingerprint.Signature)

	start := s.now()
	err := s.store.Batch(ctx, []repository.BatchOp{{
		Kind:     repository.OpDelete,
		TenantID: s.config.TenantID,
		ID:       nodeID,
		AuthHash: s.config.AuthHash,
	}})
	s.metrics.ObserveStoreOperation("delete_record", s.now().Sub(start), err)
	if err != nil {
		s.logger.Error("failed to delete evicted record from store",
			zap.String("record_id", nodeID), zap.Error(err))
	}

	label := "false"
	if forced {
		label = "true"
	}
	s.metrics.RecordsEvicted.WithLabelValues(label).Inc()
	s.publish(ctx, events.NewRecordEvicted(s.config.TenantID, nodeID, spiralID, forced))
	return true
}
