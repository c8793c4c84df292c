// Package resilience wraps calls to networked backends with a circuit
// breaker and rate limiting.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"sigilmem-backend/internal/observability"
	appErrors "sigilmem-backend/pkg/errors"
)

// BreakerConfig controls when the breaker opens and when it probes again.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	ResetTimeout     time.Duration
	CallTimeout      time.Duration
}

// DefaultBreakerConfig matches production defaults: open after 5 consecutive
// failures, probe after 30 seconds, 5 second per-call timeout.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		CallTimeout:      5 * time.Second,
	}
}

// Breaker guards an operation against a failing dependency. While open it
// fails fast; after ResetTimeout it admits a single trial call, and one
// success closes it again.
type Breaker struct {
	logger *zap.Logger
	cb     *gobreaker.CircuitBreaker
	config BreakerConfig
}

// NewBreaker builds a breaker from config. FailureThreshold counts
// consecutive failures only; any success resets the count. A nil metrics
// collector disables state reporting.
func NewBreaker(logger *zap.Logger, metrics *observability.Collector, config BreakerConfig) *Breaker {
	b := &Breaker{logger: logger, config: config}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: 1,
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		// Caller errors are not dependency failures and must not trip
		// the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return appErrors.IsNotFound(err) || appErrors.IsValidation(err) || appErrors.IsConflict(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if metrics != nil {
				metrics.SetBreakerState(name, to.String())
			}
		},
	})
	if metrics != nil {
		metrics.SetBreakerState(config.Name, b.cb.State().String())
	}
	return b
}

// Execute runs fn through the breaker. A call that exceeds CallTimeout
// returns a timeout error and counts as a breaker failure. When the breaker
// is open the call is rejected without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		if b.config.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.config.CallTimeout)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() { done <- fn(callCtx) }()

		select {
		case err := <-done:
			return nil, err
		case <-callCtx.Done():
			return nil, appErrors.NewTimeout(b.config.Name + ": call timed out")
		}
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return appErrors.NewCircuitOpen(b.config.Name)
	}
	return err
}

// State reports the breaker's current state name.
func (b *Breaker) State() string { return b.cb.State().String() }
