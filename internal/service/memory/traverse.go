package memory

import (
	"context"
	"fmt"

	"sigilmem-backend/internal/domain/node"
	appErrors "sigilmem-backend/pkg/errors"
)

// Walker iterates over the records reachable from a starting record
// through its associations, breadth-first. The visit order is fixed when
// the walker is created; records evicted since then are skipped. Reset
// restarts the walk from the beginning.
type Walker struct {
	svc   *Service
	order []string
	pos   int
}

// TraverseAssociations returns a walker over the association closure of the
// record, starting with the record itself. The walk visits each record at
// most once, so association cycles always terminate.
func (s *Service) TraverseAssociations(id string) (*Walker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.lookup(id)
	if root == nil {
		return nil, appErrors.NewNotFound(fmt.Sprintf("record %s not found", id))
	}

	visited := map[string]bool{root.ID: true}
	order := []string{root.ID}
	frontier := []string{root.ID}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		n := s.lookup(current)
		if n == nil {
			continue
		}
		for _, assoc := range n.Associations {
			if visited[assoc] {
				continue
			}
			visited[assoc] = true
			if s.lookup(assoc) == nil {
				continue
			}
			order = append(order, assoc)
			frontier = append(frontier, assoc)
		}
	}

	return &Walker{svc: s, order: order}, nil
}

// Next returns the next reachable record, or false when the walk is done.
// Records evicted after the walker was created are skipped.
func (w *Walker) Next() (*node.Node, bool) {
	w.svc.mu.Lock()
	defer w.svc.mu.Unlock()

	for w.pos < len(w.order) {
		id := w.order[w.pos]
		w.pos++
		if n := w.svc.lookup(id); n != nil {
			return n, true
		}
	}
	return nil, false
}

// Reset restarts the walk from the first record.
func (w *Walker) Reset() { w.pos = 0 }

// Remaining reports how many positions the walker has left to visit.
func (w *Walker) Remaining() int { return len(w.order) - w.pos }

// Associate records a directed association between two records. Both
// records must exist; the updated source record is persisted.
func (s *Service) Associate(ctx context.Context, sourceID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source := s.lookup(sourceID)
	if source == nil {
		return appErrors.NewNotFound(fmt.Sprintf("record %s not found", sourceID))
	}
	if s.lookup(targetID) == nil {
		return appErrors.NewNotFound(fmt.Sprintf("record %s not found", targetID))
	}
	if sourceID == targetID {
		return appErrors.NewValidation("record cannot associate with itself")
	}
	source.Associate(targetID)
	return s.persistNode(ctx, source)
}
