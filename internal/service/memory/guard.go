package memory

import (
	"context"

	"sigilmem-backend/internal/domain/node"
	"sigilmem-backend/internal/observability"
	"sigilmem-backend/internal/quota"
	"sigilmem-backend/internal/resilience"
	appErrors "sigilmem-backend/pkg/errors"
)

// Guard fronts a Service with per-client rate limiting and quota
// enforcement. Embedding applications route caller operations through it;
// internal paths (hydration, garbage collection) bypass it.
type Guard struct {
	svc     *Service
	limiter resilience.Limiter
	ledger  *quota.Ledger
	metrics *observability.Collector
}

// NewGuard wraps svc. Either limiter or ledger may be nil to disable that
// check.
func NewGuard(svc *Service, limiter resilience.Limiter, ledger *quota.Ledger) *Guard {
	return &Guard{svc: svc, limiter: limiter, ledger: ledger, metrics: svc.metrics}
}

// admit applies the rate limit and quota checks for clientID.
func (g *Guard) admit(ctx context.Context, clientID string) error {
	if g.limiter != nil {
		if err := g.limiter.Allow(ctx, clientID); err != nil {
			if appErrors.IsRateLimited(err) {
				g.metrics.RateLimitRejections.Inc()
			}
			return err
		}
	}
	if g.ledger != nil {
		if err := g.ledger.Charge(ctx, clientID, 1); err != nil {
			if appErrors.IsQuotaExceeded(err) {
				g.metrics.QuotaRejections.Inc()
			}
			return err
		}
	}
	return nil
}

// StoreRecord admits the client and stores the record.
func (g *Guard) StoreRecord(ctx context.Context, clientID, content, recordType string, depth int, contextTerms ...string) (*node.Node, error) {
	if err := g.admit(ctx, clientID); err != nil {
		return nil, err
	}
	return g.svc.StoreRecord(ctx, content, recordType, depth, contextTerms...)
}

// Recall admits the client and recalls the record by signature.
func (g *Guard) Recall(ctx context.Context, clientID, signature string) (*node.Node, error) {
	if err := g.admit(ctx, clientID); err != nil {
		return nil, err
	}
	return g.svc.Recall(ctx, signature)
}

// AttemptLink admits the client and links the partitions.
func (g *Guard) AttemptLink(ctx context.Context, clientID, sourceID, targetID string, weight float64) error {
	if err := g.admit(ctx, clientID); err != nil {
		return err
	}
	return g.svc.AttemptLink(ctx, sourceID, targetID, weight)
}
