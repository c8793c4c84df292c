// Package quota enforces per-client hourly usage budgets. Usage is
// persisted through a storage backend so restarts do not reset budgets.
package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "sigilmem-backend/pkg/errors"
)

// Backend persists usage counters. Rollover is lazy: IncrementUsage resets
// the counter when the stored window predates windowStart.
type Backend interface {
	IncrementUsage(ctx context.Context, clientID string, amount int64, windowStart time.Time) (int64, error)
	GetUsage(ctx context.Context, clientID string) (int64, time.Time, error)
	ResetUsage(ctx context.Context, clientID string) error
}

// Config holds the per-window budget.
type Config struct {
	Limit  int64
	Window time.Duration
}

// DefaultConfig is 1000 operations per hour.
func DefaultConfig() Config {
	return Config{Limit: 1000, Window: time.Hour}
}

// Ledger tracks usage against an hourly budget. Counting is applied before
// the limit check, so a rejected operation still registers demand.
type Ledger struct {
	logger  *zap.Logger
	backend Backend
	config  Config
	now     func() time.Time
}

func NewLedger(logger *zap.Logger, backend Backend, config Config) *Ledger {
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	return &Ledger{logger: logger, backend: backend, config: config, now: time.Now}
}

// windowStart truncates now to the current window boundary.
func (l *Ledger) windowStart() time.Time {
	return l.now().UTC().Truncate(l.config.Window)
}

// Charge records amount against clientID's current window and returns a
// quota-exceeded error when the window's budget is already consumed.
func (l *Ledger) Charge(ctx context.Context, clientID string, amount int64) error {
	if clientID == "" {
		return appErrors.NewValidation("client id is required")
	}
	if amount <= 0 {
		return appErrors.NewValidation("charge amount must be positive")
	}

	used, err := l.backend.IncrementUsage(ctx, clientID, amount, l.windowStart())
	if err != nil {
		return appErrors.NewInternal("recording quota usage", err)
	}
	if used > l.config.Limit {
		l.logger.Debug("quota exceeded",
			zap.String("client_id", clientID),
			zap.Int64("used", used),
			zap.Int64("limit", l.config.Limit))
		return appErrors.NewQuotaExceeded(
			fmt.Sprintf("client %s exceeded %d operations this window", clientID, l.config.Limit))
	}
	return nil
}

// Usage reports the amount consumed in the current window, including any
// overshoot past the limit. A stored counter from an earlier window counts
// as zero.
func (l *Ledger) Usage(ctx context.Context, clientID string) (int64, error) {
	used, storedWindow, err := l.backend.GetUsage(ctx, clientID)
	if err != nil {
		return 0, appErrors.NewInternal("reading quota usage", err)
	}
	if storedWindow.Before(l.windowStart()) {
		used = 0
	}
	return used, nil
}

// Remaining reports how much of the current window's budget is left. A
// stored counter from an earlier window counts as zero usage.
func (l *Ledger) Remaining(ctx context.Context, clientID string) (int64, error) {
	used, storedWindow, err := l.backend.GetUsage(ctx, clientID)
	if err != nil {
		return 0, appErrors.NewInternal("reading quota usage", err)
	}
	if storedWindow.Before(l.windowStart()) {
		used = 0
	}
	remaining := l.config.Limit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears clientID's usage, for administrative overrides.
func (l *Ledger) Reset(ctx context.Context, clientID string) error {
	if err := l.backend.ResetUsage(ctx, clientID); err != nil {
		return appErrors.NewInternal("resetting quota usage", err)
	}
	return nil
}
