// Package breakerstore decorates a storage adapter with a circuit breaker,
// used in front of networked backends (redis, dynamo) so a failing
// dependency degrades to fast CircuitOpen errors instead of piling up
// timeouts.
package breakerstore

import (
	"context"

	"go.uber.org/zap"

	"sigilmem-backend/internal/observability"
	"sigilmem-backend/internal/repository"
	"sigilmem-backend/internal/resilience"
)

// Store wraps an inner adapter; every call runs through the breaker.
type Store struct {
	inner   repository.Store
	breaker *resilience.Breaker
}

var _ repository.Store = (*Store)(nil)

// Wrap decorates inner with a breaker built from config. State transitions
// are exported through metrics when a collector is given.
func Wrap(logger *zap.Logger, metrics *observability.Collector, inner repository.Store, config resilience.BreakerConfig) *Store {
	return &Store{inner: inner, breaker: resilience.NewBreaker(logger, metrics, config)}
}

func (s *Store) Init(ctx context.Context) error {
	// Init runs outside the breaker: a failing boot should surface its
	// real error, not trip the breaker before serving starts.
	return s.inner.Init(ctx)
}

func (s *Store) Close() error { return s.inner.Close() }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		value, err = s.inner.Get(ctx, key)
		return err
	})
	return value, err
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.Set(ctx, key, value)
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.Delete(ctx, key)
	})
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		keys, err = s.inner.Keys(ctx, prefix)
		return err
	})
	return keys, err
}

func (s *Store) SetSigilRecord(ctx context.Context, tenantID, id, authHash string, data []byte) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.SetSigilRecord(ctx, tenantID, id, authHash, data)
	})
}

func (s *Store) GetSigilRecord(ctx context.Context, tenantID, id, authHash string) ([]byte, error) {
	var data []byte
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = s.inner.GetSigilRecord(ctx, tenantID, id, authHash)
		return err
	})
	return data, err
}

func (s *Store) AllSigilRecords(ctx context.Context, tenantID string) ([]repository.Record, error) {
	var records []repository.Record
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		records, err = s.inner.AllSigilRecords(ctx, tenantID)
		return err
	})
	return records, err
}

func (s *Store) CountSigilRecords(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.inner.CountSigilRecords(ctx, tenantID)
		return err
	})
	return count, err
}

func (s *Store) Batch(ctx context.Context, ops []repository.BatchOp) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.Batch(ctx, ops)
	})
}
