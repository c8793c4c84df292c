// Package spiral defines the partition that groups memory records and
// participates in the bounded-degree inter-partition link graph.
package spiral

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"sigilmem-backend/internal/domain/node"
	appErrors "sigilmem-backend/pkg/errors"
)

// MaxLinks caps outgoing links per spiral. The cap keeps partition fan-out,
// and therefore traversal cost, constant; links are first-come first-served
// and never evicted.
const MaxLinks = 8

// templates maps a spiral type to the template used for node placement.
var templates = map[string]string{
	"episodic":   "fibonacci",
	"semantic":   "golden",
	"procedural": "logarithmic",
	"archetypal": "golden",
}

// Link is a directed, weighted edge to another spiral, owned by this spiral.
type Link struct {
	TargetID  string    `json:"target_id"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// Spiral owns a set of memory records and up to MaxLinks outgoing links.
type Spiral struct {
	ID             string                `json:"id"`
	Type           string                `json:"type"`
	Template       string                `json:"template"`
	Depth          int                   `json:"depth"`
	Nodes          map[string]*node.Node `json:"nodes"`
	NodeCount      int                   `json:"node_count"`
	CreatedAt      time.Time             `json:"created_at"`
	LastUpdated    time.Time             `json:"last_updated"`
	ResonanceField float64               `json:"resonance_field"`
	Links          []Link                `json:"links"`
	AlignmentScore float64               `json:"alignment_score"`
}

// New creates an empty spiral of the given type and depth.
func New(spiralType string, depth int) (*Spiral, error) {
	template, ok := templates[spiralType]
	if !ok {
		return nil, appErrors.NewValidation(fmt.Sprintf("unknown spiral type %q", spiralType))
	}
	if depth < 0 {
		return nil, appErrors.NewValidation("spiral depth cannot be negative")
	}

	now := time.Now()
	return &Spiral{
		ID:          uuid.New().String(),
		Type:        spiralType,
		Template:    template,
		Depth:       depth,
		Nodes:       make(map[string]*node.Node),
		CreatedAt:   now,
		LastUpdated: now,
	}, nil
}

// Matches reports whether this spiral is a placement candidate for a record
// of the given type and depth.
func (s *Spiral) Matches(nodeType string, depth int) bool {
	return s.Type == nodeType && s.Depth == depth
}

// AddNode inserts a record, assigns its spiral position and refreshes the
// partition aggregates.
func (s *Spiral) AddNode(n *node.Node) {
	n.SpiralID = s.ID
	n.Position = s.nextPosition()
	s.Nodes[n.ID] = n
	s.NodeCount = len(s.Nodes)
	s.LastUpdated = time.Now()
	s.recomputeField()
}

// Restore reinserts a previously persisted record, keeping its assigned
// position and spiral binding.
func (s *Spiral) Restore(n *node.Node) {
	s.Nodes[n.ID] = n
	s.NodeCount = len(s.Nodes)
	s.recomputeField()
}

// RemoveNode deletes a record by ID, returning whether it was present.
func (s *Spiral) RemoveNode(id string) bool {
	if _, ok := s.Nodes[id]; !ok {
		return false
	}
	delete(s.Nodes, id)
	s.NodeCount = len(s.Nodes)
	s.LastUpdated = time.Now()
	s.recomputeField()
	return true
}

// AttemptLink appends a directed link to the target spiral. At the cap the
// attempt is rejected without touching existing links; duplicate targets are
// rejected as conflicts.
func (s *Spiral) AttemptLink(targetID string, weight float64) error {
	if targetID == s.ID {
		return appErrors.NewValidation("spiral cannot link to itself")
	}
	for _, l := range s.Links {
		if l.TargetID == targetID {
			return appErrors.NewConflict(fmt.Sprintf("spiral %s already links to %s", s.ID, targetID))
		}
	}
	if len(s.Links) >= MaxLinks {
		return appErrors.NewLinkCapacity(fmt.Sprintf("spiral %s holds %d outgoing links", s.ID, MaxLinks))
	}

	s.Links = append(s.Links, Link{TargetID: targetID, Weight: weight, CreatedAt: time.Now()})
	s.LastUpdated = time.Now()
	return nil
}

// nextPosition places the next record along the spiral curve. The placement
// is presentation geometry only; correctness never depends on it.
func (s *Spiral) nextPosition() node.Position {
	i := float64(len(s.Nodes))
	angle := i * math.Pi * (3 - math.Sqrt(5)) // golden angle
	radius := math.Sqrt(i + 1)
	return node.Position{
		X: radius * math.Cos(angle),
		Y: radius * math.Sin(angle),
		Z: float64(s.Depth),
	}
}

// recomputeField refreshes the resonance field and alignment score from the
// member records' fingerprints.
func (s *Spiral) recomputeField() {
	if len(s.Nodes) == 0 {
		s.ResonanceField = 0
		s.AlignmentScore = 0
		return
	}
	var resonance, complexity float64
	for _, n := range s.Nodes {
		resonance += n.Fingerprint.Resonance
		complexity += n.Fingerprint.Complexity
	}
	count := float64(len(s.Nodes))
	s.ResonanceField = resonance / count
	s.AlignmentScore = 1 - math.Abs(resonance-complexity)/count
}
