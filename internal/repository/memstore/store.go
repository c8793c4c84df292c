// Package memstore provides the in-process storage adapter. It is the
// default for tests and ephemeral deployments; nothing survives a restart.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"sigilmem-backend/internal/repository"
)

// Store is an in-memory implementation of repository.Store, safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	kv     map[string][]byte
	sigils map[string]repository.Record // keyed by the flat sigil key
}

var _ repository.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		kv:     make(map[string][]byte),
		sigils: make(map[string]repository.Record),
	}
}

// Init is a no-op for the in-memory backend.
func (s *Store) Init(ctx context.Context) error { return nil }

// Close discards all stored data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv = make(map[string][]byte)
	s.sigils = make(map[string]repository.Record)
	return nil
}

// Get returns the value for key or a not-found error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := repository.ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.kv[key]
	if !ok {
		return nil, repository.ErrKeyNotFound(key)
	}
	return cloneBytes(value), nil
}

// Set stores value under key, overwriting any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := repository.ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = cloneBytes(value)
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := repository.ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

// Keys returns the sorted keys matching prefix. An empty prefix lists all.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0)
	for k := range s.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// SetSigilRecord stores a record under (tenantID, id, authHash).
func (s *Store) SetSigilRecord(ctx context.Context, tenantID, id, authHash string, data []byte) error {
	if err := repository.ValidateSigilAddress(tenantID, id, authHash); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSigilLocked(tenantID, id, authHash, data)
	return nil
}

func (s *Store) setSigilLocked(tenantID, id, authHash string, data []byte) {
	key := repository.SigilKey(tenantID, id, authHash)
	s.sigils[key] = repository.Record{
		TenantID:  tenantID,
		ID:        id,
		AuthHash:  authHash,
		Data:      cloneBytes(data),
		UpdatedAt: time.Now(),
	}
}

// GetSigilRecord returns the record data for the exact address, or not-found
// when the tenant or auth hash does not match.
func (s *Store) GetSigilRecord(ctx context.Context, tenantID, id, authHash string) ([]byte, error) {
	if err := repository.ValidateSigilAddress(tenantID, id, authHash); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sigils[repository.SigilKey(tenantID, id, authHash)]
	if !ok {
		return nil, repository.ErrRecordNotFound(tenantID, id)
	}
	return cloneBytes(rec.Data), nil
}

// AllSigilRecords returns every record of one tenant, ordered by record ID.
func (s *Store) AllSigilRecords(ctx context.Context, tenantID string) ([]repository.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]repository.Record, 0)
	for _, rec := range s.sigils {
		if rec.TenantID == tenantID {
			out := rec
			out.Data = cloneBytes(rec.Data)
			records = append(records, out)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// CountSigilRecords returns the number of records stored for one tenant.
func (s *Store) CountSigilRecords(ctx context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.sigils {
		if rec.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

// Batch applies the operations in order. Each operation keeps its own tenant
// scope.
func (s *Store) Batch(ctx context.Context, ops []repository.BatchOp) error {
	for _, op := range ops {
		if err := repository.ValidateSigilAddress(op.TenantID, op.ID, op.AuthHash); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		key := repository.SigilKey(op.TenantID, op.ID, op.AuthHash)
		switch op.Kind {
		case repository.OpSet:
			s.setSigilLocked(op.TenantID, op.ID, op.AuthHash, op.Data)
		case repository.OpDelete:
			delete(s.sigils, key)
		}
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
