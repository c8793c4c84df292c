// Package boltstore provides the embedded on-disk storage adapter backed by
// bbolt. It gives single-node durability and tolerates many concurrent
// writers on independent keys; bbolt serializes the write transactions.
package boltstore

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"sigilmem-backend/internal/repository"
	appErrors "sigilmem-backend/pkg/errors"
)

const (
	fileMode    = 0600
	openTimeout = 1 * time.Second
)

var (
	kvBucket    = []byte("kv")
	sigilBucket = []byte("sigils") // holds one nested bucket per tenant
)

// Store is a bbolt-backed implementation of repository.Store.
type Store struct {
	logger *zap.Logger
	path   string
	db     *bolt.DB
}

var _ repository.Store = (*Store)(nil)

// storedRecord is the on-disk encoding of one sigil record. Keys inside a
// tenant bucket are "<id>/<authHash>".
type storedRecord struct {
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a store for the database file at path. The file is opened by
// Init.
func New(logger *zap.Logger, path string) *Store {
	return &Store{logger: logger, path: path}
}

// Init opens the database file and creates the top-level buckets.
func (s *Store) Init(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	db, err := bolt.Open(s.path, fileMode, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return appErrors.NewInternal("opening bolt database", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(kvBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(sigilBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return appErrors.NewInternal("creating bolt buckets", err)
	}
	s.db = db
	s.logger.Info("bolt store opened", zap.String("path", s.path))
	return nil
}

// Close closes the database file.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Get returns the value for key or a not-found error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := repository.ValidateKey(key); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(kvBucket).Get([]byte(key))
		if v == nil {
			return repository.ErrKeyNotFound(key)
		}
		value = append([]byte(nil), v...)
		return nil
	})
	return value, err
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := repository.ValidateKey(key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), value)
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := repository.ValidateKey(key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(key))
	})
}

// Keys returns all keys matching prefix in byte order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(kvBucket).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// SetSigilRecord stores a record inside its tenant's nested bucket.
func (s *Store) SetSigilRecord(ctx context.Context, tenantID, id, authHash string, data []byte) error {
	if err := repository.ValidateSigilAddress(tenantID, id, authHash); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putSigil(tx, tenantID, id, authHash, data)
	})
}

func putSigil(tx *bolt.Tx, tenantID, id, authHash string, data []byte) error {
	tenant, err := tx.Bucket(sigilBucket).CreateBucketIfNotExists([]byte(tenantID))
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(storedRecord{Data: data, UpdatedAt: time.Now()})
	if err != nil {
		return err
	}
	return tenant.Put(recordKey(id, authHash), encoded)
}

func recordKey(id, authHash string) []byte {
	return []byte(id + "/" + authHash)
}

// GetSigilRecord returns the record data or not-found on any address
// mismatch.
func (s *Store) GetSigilRecord(ctx context.Context, tenantID, id, authHash string) ([]byte, error) {
	if err := repository.ValidateSigilAddress(tenantID, id, authHash); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		tenant := tx.Bucket(sigilBucket).Bucket([]byte(tenantID))
		if tenant == nil {
			return repository.ErrRecordNotFound(tenantID, id)
		}
		v := tenant.Get(recordKey(id, authHash))
		if v == nil {
			return repository.ErrRecordNotFound(tenantID, id)
		}
		var rec storedRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return appErrors.NewInternal("decoding stored record", err)
		}
		data = rec.Data
		return nil
	})
	return data, err
}

// AllSigilRecords returns every record in the tenant's bucket in key order.
func (s *Store) AllSigilRecords(ctx context.Context, tenantID string) ([]repository.Record, error) {
	records := make([]repository.Record, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		tenant := tx.Bucket(sigilBucket).Bucket([]byte(tenantID))
		if tenant == nil {
			return nil
		}
		return tenant.ForEach(func(k, v []byte) error {
			id, authHash, ok := splitRecordKey(k)
			if !ok {
				return nil
			}
			var rec storedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return appErrors.NewInternal("decoding stored record", err)
			}
			records = append(records, repository.Record{
				TenantID:  tenantID,
				ID:        id,
				AuthHash:  authHash,
				Data:      rec.Data,
				UpdatedAt: rec.UpdatedAt,
			})
			return nil
		})
	})
	return records, err
}

func splitRecordKey(k []byte) (id, authHash string, ok bool) {
	i := bytes.IndexByte(k, '/')
	if i < 0 {
		return "", "", false
	}
	return string(k[:i]), string(k[i+1:]), true
}

// CountSigilRecords returns the number of records in the tenant's bucket.
func (s *Store) CountSigilRecords(ctx context.Context, tenantID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		tenant := tx.Bucket(sigilBucket).Bucket([]byte(tenantID))
		if tenant == nil {
			return nil
		}
		count = tenant.Stats().KeyN
		return nil
	})
	return count, err
}

// Batch applies all operations in a single write transaction.
func (s *Store) Batch(ctx context.Context, ops []repository.BatchOp) error {
	for _, op := range ops {
		if err := repository.ValidateSigilAddress(op.TenantID, op.ID, op.AuthHash); err != nil {
			return err
		}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range ops {
			switch op.Kind {
			case repository.OpSet:
				if err := putSigil(tx, op.TenantID, op.ID, op.AuthHash, op.Data); err != nil {
					return err
				}
			case repository.OpDelete:
				tenant := tx.Bucket(sigilBucket).Bucket([]byte(op.TenantID))
				if tenant == nil {
					continue
				}
				if err := tenant.Delete(recordKey(op.ID, op.AuthHash)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
