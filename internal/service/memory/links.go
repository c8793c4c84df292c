package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sigilmem-backend/internal/events"
	appErrors "sigilmem-backend/pkg/errors"
)

// AttemptLink adds a directed, weighted link from one partition to another.
// The check and the append happen under the store mutex, so the cap can
// never be exceeded by concurrent attempts. Links are one-way: linking a to
// b says nothing about b.
func (s *Service) AttemptLink(ctx context.Context, sourceID, targetID string, weight float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.spirals[sourceID]
	if !ok {
		return appErrors.NewNotFound(fmt.Sprintf("partition %s not found", sourceID))
	}
	if _, ok := s.spirals[targetID]; !ok {
		return appErrors.NewNotFound(fmt.Sprintf("partition %s not found", targetID))
	}

	if err := source.AttemptLink(targetID, weight); err != nil {
		reason := "invalid"
		switch {
		case appErrors.IsLinkCapacity(err):
			reason = "capacity"
		case appErrors.IsConflict(err):
			reason = "duplicate"
		}
		s.metrics.LinksRejected.WithLabelValues(reason).Inc()
		return err
	}

	if err := s.persistSpiral(ctx, source); err != nil {
		// Roll the link back so memory and store stay consistent.
		source.Links = source.Links[:len(source.Links)-1]
		return err
	}

	s.metrics.LinksCreated.Inc()
	s.publish(ctx, events.NewLinkCreated(s.config.TenantID, sourceID, targetID, weight))
	s.logger.Debug("link created",
		zap.String("source", sourceID),
		zap.String("target", targetID),
		zap.Float64("weight", weight))
	return nil
}
