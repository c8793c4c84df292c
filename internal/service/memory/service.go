// Package memory implements the spiral partition store: the single write
// path for memory records, the bounded link graph and the adaptive garbage
// collector.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sigilmem-backend/internal/domain/node"
	"sigilmem-backend/internal/domain/sigil"
	"sigilmem-backend/internal/domain/spiral"
	"sigilmem-backend/internal/events"
	"sigilmem-backend/internal/observability"
	"sigilmem-backend/internal/repository"
	appErrors "sigilmem-backend/pkg/errors"
)

// Config tunes the store and its garbage collector.
type Config struct {
	TenantID string
	AuthHash string

	GCPassBudget    int
	GCMinAge        time.Duration
	GCMaxAccess     int64
	GCSkipThreshold int
}

// DefaultConfig returns production defaults for a tenant.
func DefaultConfig(tenantID, authHash string) Config {
	return Config{
		TenantID:        tenantID,
		AuthHash:        authHash,
		GCPassBudget:    100,
		GCMinAge:        time.Hour,
		GCMaxAccess:     2,
		GCSkipThreshold: 3,
	}
}

// Service is the partition store for one tenant. All public operations
// take the service mutex, so each operation is atomic with respect to the
// others; there is no cross-operation transaction.
type Service struct {
	logger  *zap.Logger
	store   repository.Store
	bus     *events.Bus
	metrics *observability.Collector
	config  Config

	mu          sync.Mutex
	spirals     map[string]*spiral.Spiral
	nodeSpiral  map[string]string // node ID -> owning spiral ID
	bySignature map[string]string // fingerprint signature -> node ID
	gc          *collector

	now func() time.Time
}

// NewService builds a store over the given adapter. Call Hydrate before
// serving to load previously persisted state.
func NewService(logger *zap.Logger, store repository.Store, bus *events.Bus, metrics *observability.Collector, config Config) (*Service, error) {
	if config.TenantID == "" || config.AuthHash == "" {
		return nil, appErrors.NewValidation("tenant id and auth hash are required")
	}
	s := &Service{
		logger:      logger,
		store:       store,
		bus:         bus,
		metrics:     metrics,
		config:      config,
		spirals:     make(map[string]*spiral.Spiral),
		nodeSpiral:  make(map[string]string),
		bySignature: make(map[string]string),
		now:         time.Now,
	}
	s.gc = newCollector(s, config.GCPassBudget, config.GCMinAge, config.GCMaxAccess, config.GCSkipThreshold)
	return s, nil
}

// GenerateFingerprint derives a fingerprint without storing anything.
func (s *Service) GenerateFingerprint(content string, contextTerms ...string) (sigil.Fingerprint, error) {
	return sigil.Generate(content, contextTerms...)
}

// CreatePartition allocates an empty spiral of the given type and depth.
func (s *Service) CreatePartition(ctx context.Context, spiralType string, depth int) (*spiral.Spiral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, err := spiral.New(spiralType, depth)
	if err != nil {
		return nil, err
	}
	s.spirals[sp.ID] = sp
	if err := s.persistSpiral(ctx, sp); err != nil {
		delete(s.spirals, sp.ID)
		return nil, err
	}

	s.metrics.GCQueueDepth.Set(float64(s.gc.queueDepth()))
	s.publish(ctx, events.NewPartitionCreated(s.config.TenantID, sp.ID, sp.Type, sp.Depth))
	s.logger.Info("partition created",
		zap.String("spiral_id", sp.ID),
		zap.String("type", sp.Type),
		zap.Int("depth", depth))
	return sp, nil
}

// StoreRecord fingerprints content and places it in a matching partition,
// creating one when none matches. Storing different content under an
// existing signature is a conflict; re-storing identical content returns
// the existing record.
func (s *Service) StoreRecord(ctx context.Context, content, recordType string, depth int, contextTerms ...string) (*node.Node, error) {
	fp, err := sigil.Generate(content, contextTerms...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.bySignature[fp.Signature]; ok {
		existing := s.lookup(existingID)
		if existing != nil && existing.Content == content {
			return existing, nil
		}
		return nil, appErrors.NewConflict(
			fmt.Sprintf("signature %s is already bound to different content", fp.Signature))
	}

	sp := s.findPartition(recordType, depth)
	if sp == nil {
		sp, err = spiral.New(recordType, depth)
		if err != nil {
			return nil, err
		}
		s.spirals[sp.ID] = sp
		if err := s.persistSpiral(ctx, sp); err != nil {
			delete(s.spirals, sp.ID)
			return nil, err
		}
		s.publish(ctx, events.NewPartitionCreated(s.config.TenantID, sp.ID, sp.Type, sp.Depth))
	}

	n := node.New(content, recordType, depth, fp)
	sp.AddNode(n)
	if err := s.persistNode(ctx, n); err != nil {
		sp.RemoveNode(n.ID)
		return nil, err
	}

	s.nodeSpiral[n.ID] = sp.ID
	s.bySignature[fp.Signature] = n.ID
	s.gc.enqueue(n)

	s.metrics.RecordsStored.Inc()
	s.metrics.GCQueueDepth.Set(float64(s.gc.queueDepth()))
	s.publish(ctx, events.NewRecordStored(s.config.TenantID, n.ID, fp.Signature, sp.ID))
	return n, nil
}

// Recall retrieves a record by its fingerprint signature and registers the
// access: the access counter is bumped and strength is restored to full.
func (s *Service) Recall(ctx context.Context, signature string) (*node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bySignature[signature]
	if !ok {
		return nil, appErrors.NewNotFound(fmt.Sprintf("no record for signature %s", signature))
	}
	n := s.lookup(id)
	if n == nil {
		return nil, appErrors.NewNotFound(fmt.Sprintf("no record for signature %s", signature))
	}
	// Touch only sticks if the record persists; otherwise the in-memory
	// state would disagree with what the caller was told.
	prevAccessed, prevCount, prevStrength := n.LastAccessed, n.AccessCount, n.Strength
	n.Touch(s.now())
	if err := s.persistNode(ctx, n); err != nil {
		n.LastAccessed, n.AccessCount, n.Strength = prevAccessed, prevCount, prevStrength
		return nil, err
	}
	return n, nil
}

// Record returns a record by ID without registering an access.
func (s *Service) Record(id string) (*node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.lookup(id)
	if n == nil {
		return nil, appErrors.NewNotFound(fmt.Sprintf("record %s not found", id))
	}
	return n, nil
}

// Hydrate loads all persisted partitions and records for the tenant,
// rebuilding the in-memory indexes and the collection queue.
func (s *Service) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.Keys(ctx, s.spiralKeyPrefix())
	if err != nil {
		return appErrors.NewInternal("listing partitions", err)
	}
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			return appErrors.NewInternal("loading partition", err)
		}
		var stored storedSpiral
		if err := json.Unmarshal(data, &stored); err != nil {
			return appErrors.NewInternal("decoding partition", err)
		}
		s.spirals[stored.ID] = stored.restore()
	}

	records, err := s.store.AllSigilRecords(ctx, s.config.TenantID)
	if err != nil {
		return appErrors.NewInternal("loading records", err)
	}
	for _, rec := range records {
		if rec.AuthHash != s.config.AuthHash {
			continue
		}
		var n node.Node
		if err := json.Unmarshal(rec.Data, &n); err != nil {
			s.logger.Warn("skipping undecodable record", zap.String("record_id", rec.ID), zap.Error(err))
			continue
		}
		sp, ok := s.spirals[n.SpiralID]
		if !ok {
			s.logger.Warn("record references missing partition",
				zap.String("record_id", n.ID), zap.String("spiral_id", n.SpiralID))
			continue
		}
		sp.Restore(&n)
		s.nodeSpiral[n.ID] = sp.ID
		s.bySignature[n.Fingerprint.Signature] = n.ID
		s.gc.enqueue(&n)
	}

	s.metrics.GCQueueDepth.Set(float64(s.gc.queueDepth()))
	s.logger.Info("store hydrated",
		zap.Int("partitions", len(s.spirals)),
		zap.Int("records", len(s.nodeSpiral)))
	return nil
}

// Partition returns a partition by ID.
func (s *Service) Partition(id string) (*spiral.Spiral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spirals[id]
	if !ok {
		return nil, appErrors.NewNotFound(fmt.Sprintf("partition %s not found", id))
	}
	return sp, nil
}

// lookup resolves a node ID to its record. Caller holds the mutex.
func (s *Service) lookup(id string) *node.Node {
	spiralID, ok := s.nodeSpiral[id]
	if !ok {
		return nil
	}
	sp, ok := s.spirals[spiralID]
	if !ok {
		return nil
	}
	return sp.Nodes[id]
}

// findPartition returns the first partition matching (type, depth), or nil.
// Caller holds the mutex.
func (s *Service) findPartition(recordType string, depth int) *spiral.Spiral {
	for _, sp := range s.spirals {
		if sp.Matches(recordType, depth) {
			return sp
		}
	}
	return nil
}

func (s *Service) spiralKeyPrefix() string {
	return "spiral/" + s.config.TenantID + "/"
}

// storedSpiral is the persisted partition shape: metadata and links only,
// records are stored separately.
type storedSpiral struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Template  string        `json:"template"`
	Depth     int           `json:"depth"`
	CreatedAt time.Time     `json:"created_at"`
	Links     []spiral.Link `json:"links,omitempty"`
}

func (ss storedSpiral) restore() *spiral.Spiral {
	return &spiral.Spiral{
		ID:          ss.ID,
		Type:        ss.Type,
		Template:    ss.Template,
		Depth:       ss.Depth,
		Nodes:       make(map[string]*node.Node),
		CreatedAt:   ss.CreatedAt,
		LastUpdated: ss.CreatedAt,
		Links:       ss.Links,
	}
}

// persistSpiral writes the partition metadata. Caller holds the mutex.
func (s *Service) persistSpiral(ctx context.Context, sp *spiral.Spiral) error {
	data, err := json.Marshal(storedSpiral{
		ID:        sp.ID,
		Type:      sp.Type,
		Template:  sp.Template,
		Depth:     sp.Depth,
		CreatedAt: sp.CreatedAt,
		Links:     sp.Links,
	})
	if err != nil {
		return appErrors.NewInternal("encoding partition", err)
	}
	start := s.now()
	err = s.store.Set(ctx, s.spiralKeyPrefix()+sp.ID, data)
	s.metrics.ObserveStoreOperation("set_partition", s.now().Sub(start), err)
	if err != nil {
		return appErrors.NewInternal("persisting partition", err)
	}
	return nil
}

// persistNode writes the record under the tenant address. Caller holds the
// mutex.
func (s *Service) persistNode(ctx context.Context, n *node.Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return appErrors.NewInternal("encoding record", err)
	}
	start := s.now()
	err = s.store.SetSigilRecord(ctx, s.config.TenantID, n.ID, s.config.AuthHash, data)
	s.metrics.ObserveStoreOperation("set_record", s.now().Sub(start), err)
	if err != nil {
		return appErrors.NewInternal("persisting record", err)
	}
	return nil
}

// publish sends an event, logging instead of failing the operation when the
// bus errors.
func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", event.EventType()), zap.Error(err))
	}
}
