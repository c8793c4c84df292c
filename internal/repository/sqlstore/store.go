// Package sqlstore provides the relational storage adapter backed by sqlite.
// Besides the common adapter contract it carries the quota ledger table and
// its atomic increment-and-check operation.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"sigilmem-backend/internal/repository"
	appErrors "sigilmem-backend/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	k TEXT PRIMARY KEY,
	v BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS sigil_records (
	tenant_id  TEXT NOT NULL,
	record_id  TEXT NOT NULL,
	auth_hash  TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, record_id, auth_hash)
);
CREATE TABLE IF NOT EXISTS quota_usage (
	client_id    TEXT PRIMARY KEY,
	used         INTEGER NOT NULL,
	window_start TIMESTAMP NOT NULL
);
`

// Store is a sqlite-backed implementation of repository.Store.
type Store struct {
	logger *zap.Logger
	dsn    string
	db     *sql.DB
}

var _ repository.Store = (*Store)(nil)

// New creates a store for the given sqlite DSN (a file path, or the sqlite3
// driver's file: syntax). The database is opened by Init.
func New(logger *zap.Logger, dsn string) *Store {
	return &Store{logger: logger, dsn: dsn}
}

// Init opens the database and applies the schema. sqlite allows a single
// writer, so the pool is capped at one connection and the driver serializes
// concurrent callers.
func (s *Store) Init(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite3", s.dsn)
	if err != nil {
		return appErrors.NewInternal("opening sqlite database", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return appErrors.NewInternal("applying sqlite schema", err)
	}
	s.db = db
	s.logger.Info("sqlite store opened", zap.String("dsn", s.dsn))
	return nil
}

// Close closes the database.
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
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv_entries WHERE k = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrKeyNotFound(key)
	}
	if err != nil {
		return nil, appErrors.NewInternal("sqlite get", err)
	}
	return value, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := repository.ValidateKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (k, v) VALUES (?, ?)
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v`, key, value)
	if err != nil {
		return appErrors.NewInternal("sqlite set", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := repository.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE k = ?`, key); err != nil {
		return appErrors.NewInternal("sqlite delete", err)
	}
	return nil
}

// Keys returns keys matching prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT k FROM kv_entries WHERE k LIKE ? || '%' ORDER BY k`, prefix)
	if err != nil {
		return nil, appErrors.NewInternal("sqlite keys", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, appErrors.NewInternal("sqlite keys scan", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SetSigilRecord upserts a record row.
func (s *Store) SetSigilRecord(ctx context.Context, tenantID, id, authHash string, data []byte) error {
	if err := repository.ValidateSigilAddress(tenantID, id, authHash); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sigil_records (tenant_id, record_id, auth_hash, data, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, record_id, auth_hash)
		 DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		tenantID, id, authHash, data, time.Now().UTC())
	if err != nil {
		return appErrors.NewInternal("sqlite set record", err)
	}
	return nil
}

// GetSigilRecord returns record data; every address mismatch is not-found.
func (s *Store) GetSigilRecord(ctx context.Context, tenantID, id, authHash string) ([]byte, error) {
	if err := repository.ValidateSigilAddress(tenantID, id, authHash); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sigil_records WHERE tenant_id = ? AND record_id = ? AND auth_hash = ?`,
		tenantID, id, authHash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrRecordNotFound(tenantID, id)
	}
	if err != nil {
		return nil, appErrors.NewInternal("sqlite get record", err)
	}
	return data, nil
}

// AllSigilRecords returns the tenant's records ordered by record ID.
func (s *Store) AllSigilRecords(ctx context.Context, tenantID string) ([]repository.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, auth_hash, data, updated_at FROM sigil_records
		 WHERE tenant_id = ? ORDER BY record_id`, tenantID)
	if err != nil {
		return nil, appErrors.NewInternal("sqlite list records", err)
	}
	defer rows.Close()

	records := make([]repository.Record, 0)
	for rows.Next() {
		rec := repository.Record{TenantID: tenantID}
		if err := rows.Scan(&rec.ID, &rec.AuthHash, &rec.Data, &rec.UpdatedAt); err != nil {
			return nil, appErrors.NewInternal("sqlite record scan", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountSigilRecords counts the tenant's rows.
func (s *Store) CountSigilRecords(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sigil_records WHERE tenant_id = ?`, tenantID).Scan(&count)
	if err != nil {
		return 0, appErrors.NewInternal("sqlite count records", err)
	}
	return count, nil
}

// Batch applies the operations in a single transaction.
func (s *Store) Batch(ctx context.Context, ops []repository.BatchOp) error {
	for _, op := range ops {
		if err := repository.ValidateSigilAddress(op.TenantID, op.ID, op.AuthHash); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return appErrors.NewInternal("sqlite begin batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		switch op.Kind {
		case repository.OpSet:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO sigil_records (tenant_id, record_id, auth_hash, data, updated_at)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(tenant_id, record_id, auth_hash)
				 DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
				op.TenantID, op.ID, op.AuthHash, op.Data, time.Now().UTC())
		case repository.OpDelete:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM sigil_records WHERE tenant_id = ? AND record_id = ? AND auth_hash = ?`,
				op.TenantID, op.ID, op.AuthHash)
		}
		if err != nil {
			return appErrors.NewInternal("sqlite batch op", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return appErrors.NewInternal("sqlite batch commit", err)
	}
	return nil
}
