// Package node defines the memory record stored inside a spiral partition.
package node

import (
	"math"
	"time"

	"github.com/google/uuid"

	"sigilmem-backend/internal/domain/sigil"
)

// Strength decay parameters. A record's strength halves every half-life of
// inactivity, never dropping below the floor; a recall resets it to full.
const (
	StrengthFloor     = 0.1
	StrengthHalfLife  = 90 * 24 * time.Hour
	InitialStrength   = 1.0
	InitialEvolutionP = 0.5
)

// Position locates a record inside its spiral's coordinate field.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Node is a single memory record. It is created by the spiral store's write
// path and destroyed only by the garbage collector.
type Node struct {
	ID                 string             `json:"id"`
	Content            string             `json:"content"`
	Type               string             `json:"type"`
	Depth              int                `json:"depth"`
	Fingerprint        sigil.Fingerprint  `json:"fingerprint"`
	SpiralID           string             `json:"spiral_id"`
	Position           Position           `json:"position"`
	Associations       []string           `json:"associations,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	LastAccessed       time.Time          `json:"last_accessed"`
	AccessCount        int                `json:"access_count"`
	Strength           float64            `json:"strength"`
	EvolutionPotential float64            `json:"evolution_potential"`
	Weights            map[string]float64 `json:"weights,omitempty"`
}

// New creates a record for the given content and fingerprint. The spiral ID
// and position are assigned when the store places the record.
func New(content, nodeType string, depth int, fp sigil.Fingerprint) *Node {
	now := time.Now()
	return &Node{
		ID:                 uuid.New().String(),
		Content:            content,
		Type:               nodeType,
		Depth:              depth,
		Fingerprint:        fp,
		CreatedAt:          now,
		LastAccessed:       now,
		Strength:           InitialStrength,
		EvolutionPotential: InitialEvolutionP,
		Weights:            map[string]float64{"recall": 1.0, "evolution": fp.Resonance},
	}
}

// Touch records a read access: bumps the access counter, moves the access
// timestamp forward and restores strength to full.
func (n *Node) Touch(now time.Time) {
	n.LastAccessed = now
	n.AccessCount++
	n.Strength = InitialStrength
}

// CurrentStrength returns the decayed strength at the given instant.
// Decay is exponential against time since last access with a hard floor, so
// stale records fade toward eviction but are never weighted to zero.
func (n *Node) CurrentStrength(now time.Time) float64 {
	idle := now.Sub(n.LastAccessed)
	if idle <= 0 {
		return n.Strength
	}
	decayed := n.Strength * math.Exp2(-float64(idle)/float64(StrengthHalfLife))
	return math.Max(StrengthFloor, decayed)
}

// Associate appends a directed association to another record. Duplicates and
// self references are ignored.
func (n *Node) Associate(targetID string) {
	if targetID == "" || targetID == n.ID {
		return
	}
	for _, id := range n.Associations {
		if id == targetID {
			return
		}
	}
	n.Associations = append(n.Associations, targetID)
}

// Age returns how long ago the record was created.
func (n *Node) Age(now time.Time) time.Duration {
	return now.Sub(n.CreatedAt)
}
