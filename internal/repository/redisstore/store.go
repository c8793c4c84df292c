// Package redisstore provides the networked key-value storage adapter backed
// by redis. Connecting over an unencrypted endpoint is a fatal configuration
// error unless the config explicitly allows it; the check runs at Init, never
// silently degrading.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sigilmem-backend/internal/repository"
	appErrors "sigilmem-backend/pkg/errors"
)

// Config selects the redis endpoint and its transport policy.
type Config struct {
	// URL is a redis connection URL; use the rediss scheme for TLS.
	URL string
	// AllowInsecure permits a non-TLS endpoint. Development only.
	AllowInsecure bool
}

// Store is a redis-backed implementation of repository.Store.
type Store struct {
	logger *zap.Logger
	cfg    Config
	client *redis.Client
}

var _ repository.Store = (*Store)(nil)

type storedRecord struct {
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a store for the configured endpoint. The connection is
// established by Init.
func New(logger *zap.Logger, cfg Config) *Store {
	return &Store{logger: logger, cfg: cfg}
}

// Init validates the transport, connects and pings the server.
func (s *Store) Init(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	opt, err := redis.ParseURL(s.cfg.URL)
	if err != nil {
		return appErrors.NewValidation(fmt.Sprintf("invalid redis URL: %v", err))
	}
	if opt.TLSConfig == nil && !s.cfg.AllowInsecure {
		return appErrors.NewInsecureTransport(
			"redis endpoint is not TLS; use rediss:// or set allow_insecure explicitly")
	}
	if opt.TLSConfig == nil {
		s.logger.Warn("redis transport is not encrypted; allowed by configuration")
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return appErrors.NewInternal("pinging redis", err)
	}
	s.client = client
	s.logger.Info("redis store connected", zap.String("addr", opt.Addr))
	return nil
}

// Close closes the client connection pool.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// kvKey namespaces generic keys away from sigil records.
func kvKey(key string) string { return "kv/" + key }

var matchEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`,
)

// escapeMatch quotes glob metacharacters so a SCAN MATCH pattern treats the
// prefix literally. Keys are allowed to contain characters like * and ?.
func escapeMatch(prefix string) string { return matchEscaper.Replace(prefix) }

// Get returns the value for key or a not-found error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := repository.ValidateKey(key); err != nil {
		return nil, err
	}
	value, err := s.client.Get(ctx, kvKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrKeyNotFound(key)
	}
	if err != nil {
		return nil, appErrors.NewInternal("redis get", err)
	}
	return value, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := repository.ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.Set(ctx, kvKey(key), value, 0).Err(); err != nil {
		return appErrors.NewInternal("redis set", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := repository.ValidateKey(key); err != nil {
		return err
	}
	if err := s.client.Del(ctx, kvKey(key)).Err(); err != nil {
		return appErrors.NewInternal("redis del", err)
	}
	return nil
}

// Keys scans for keys matching prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, escapeMatch(kvKey(prefix))+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len("kv/"):])
	}
	if err := iter.Err(); err != nil {
		return nil, appErrors.NewInternal("redis scan", err)
	}
	return keys, nil
}

// SetSigilRecord stores a record under its composite key.
func (s *Store) SetSigilRecord(ctx context.Context, tenantID, id, authHash string, data []byte) error {
	if err := repository.ValidateSigilAddress(tenantID, id, authHash); err != nil {
		return err
	}
	encoded, err := json.Marshal(storedRecord{Data: data, UpdatedAt: time.Now()})
	if err != nil {
		return appErrors.NewInternal("encoding record", err)
	}
	key := repository.SigilKey(tenantID, id, authHash)
	if err := s.client.Set(ctx, key, encoded, 0).Err(); err != nil {
		return appErrors.NewInternal("redis set record", err)
	}
	return nil
}

// GetSigilRecord returns record data or not-found on any address mismatch.
func (s *Store) GetSigilRecord(ctx context.Context, tenantID, id, authHash string) ([]byte, error) {
	if err := repository.ValidateSigilAddress(tenantID, id, authHash); err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, repository.SigilKey(tenantID, id, authHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrRecordNotFound(tenantID, id)
	}
	if err != nil {
		return nil, appErrors.NewInternal("redis get record", err)
	}
	var rec storedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, appErrors.NewInternal("decoding record", err)
	}
	return rec.Data, nil
}

// AllSigilRecords scans the tenant's key prefix and fetches each record.
func (s *Store) AllSigilRecords(ctx context.Context, tenantID string) ([]repository.Record, error) {
	keys, err := s.sigilKeys(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	records := make([]repository.Record, 0, len(keys))
	for _, key := range keys {
		raw, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and fetch
		}
		if err != nil {
			return nil, appErrors.NewInternal("redis get record", err)
		}
		var rec storedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, appErrors.NewInternal("decoding record", err)
		}
		_, id, authHash, ok := repository.ParseSigilKey(key)
		if !ok {
			continue
		}
		records = append(records, repository.Record{
			TenantID:  tenantID,
			ID:        id,
			AuthHash:  authHash,
			Data:      rec.Data,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	return records, nil
}

// CountSigilRecords counts the tenant's keys.
func (s *Store) CountSigilRecords(ctx context.Context, tenantID string) (int, error) {
	keys, err := s.sigilKeys(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Store) sigilKeys(ctx context.Context, tenantID string) ([]string, error) {
	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, escapeMatch(repository.SigilPrefix(tenantID))+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, appErrors.NewInternal("redis scan records", err)
	}
	return keys, nil
}

// Batch applies the operations through a single pipeline round trip.
func (s *Store) Batch(ctx context.Context, ops []repository.BatchOp) error {
	for _, op := range ops {
		if err := repository.ValidateSigilAddress(op.TenantID, op.ID, op.AuthHash); err != nil {
			return err
		}
	}
	pipe := s.client.TxPipeline()
	for _, op := range ops {
		key := repository.SigilKey(op.TenantID, op.ID, op.AuthHash)
		switch op.Kind {
		case repository.OpSet:
			encoded, err := json.Marshal(storedRecord{Data: op.Data, UpdatedAt: time.Now()})
			if err != nil {
				return appErrors.NewInternal("encoding record", err)
			}
			pipe.Set(ctx, key, encoded, 0)
		case repository.OpDelete:
			pipe.Del(ctx, key)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return appErrors.NewInternal("redis batch", err)
	}
	return nil
}
