package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	appErrors "sigilmem-backend/pkg/errors"
)

// Quota ledger persistence. The ledger's window rollover is lazy: the row
// keeps the window it was last written in, and an increment that arrives with
// a newer window start replaces the accumulated usage instead of adding to
// it. All of this happens inside one transaction so concurrent increments
// for the same client serialize correctly.

// IncrementUsage atomically adds amount to the client's usage within the
// given window and returns the resulting usage. A stored row from an older
// window is rolled over first.
func (s *Store) IncrementUsage(ctx context.Context, clientID string, amount int64, windowStart time.Time) (int64, error) {
	if clientID == "" {
		return 0, appErrors.NewValidation("client ID cannot be empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, appErrors.NewInternal("quota begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var used int64
	var stored time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT used, window_start FROM quota_usage WHERE client_id = ?`, clientID).
		Scan(&used, &stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		used = 0
	case err != nil:
		return 0, appErrors.NewInternal("quota read", err)
	case stored.Before(windowStart):
		used = 0 // window rolled over
	}

	used += amount
	_, err = tx.ExecContext(ctx,
		`INSERT INTO quota_usage (client_id, used, window_start) VALUES (?, ?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET used = excluded.used, window_start = excluded.window_start`,
		clientID, used, windowStart.UTC())
	if err != nil {
		return 0, appErrors.NewInternal("quota write", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, appErrors.NewInternal("quota commit", err)
	}
	return used, nil
}

// GetUsage returns the stored usage and its window start. A client without a
// row has zero usage.
func (s *Store) GetUsage(ctx context.Context, clientID string) (int64, time.Time, error) {
	var used int64
	var windowStart time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT used, window_start FROM quota_usage WHERE client_id = ?`, clientID).
		Scan(&used, &windowStart)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, appErrors.NewInternal("quota read", err)
	}
	return used, windowStart, nil
}

// ResetUsage zeroes the client's usage immediately.
func (s *Store) ResetUsage(ctx context.Context, clientID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM quota_usage WHERE client_id = ?`, clientID); err != nil {
		return appErrors.NewInternal("quota reset", err)
	}
	return nil
}
