// Package sigil generates deterministic content fingerprints ("sigils").
// A fingerprint's signature is a collision-resistant digest of the input
// content and optional context; the remaining fields are descriptive
// metadata derived from the same bytes, useful for display and scoring but
// not security-relevant.
package sigil

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"
	"time"

	appErrors "sigilmem-backend/pkg/errors"
)

// geometries and energy patterns are fixed vocabularies indexed by digest
// bytes, so the same content always maps to the same descriptors.
var geometries = []string{
	"toroid", "helix", "lattice", "mobius", "fractal", "tetra", "vesica", "nested",
}

var energyPatterns = []string{
	"pulsing", "flowing", "spiraling", "radiating", "standing", "cascading",
}

// symbolTable is the glyph alphabet used for the symbolic rendering of a
// signature.
var symbolTable = []string{
	"◈", "◉", "◍", "◐", "◑", "◒", "◓", "◔", "◕", "⊕", "⊖", "⊗", "⊘", "⊙", "⊚", "⊛",
}

// Fingerprint is the immutable, content-derived identity of a stored record.
type Fingerprint struct {
	Signature     string             `json:"signature"`
	Symbols       []string           `json:"symbols"`
	ContentHash   string             `json:"content_hash"`
	Complexity    float64            `json:"complexity"`
	Resonance     float64            `json:"resonance"`
	Geometry      string             `json:"geometry"`
	EnergyPattern string             `json:"energy_pattern"`
	Meta          map[string]float64 `json:"meta,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Generate derives a fingerprint from content plus optional context strings.
// The same content and context always produce the same signature; empty or
// whitespace-only content is rejected.
func Generate(content string, context ...string) (Fingerprint, error) {
	if strings.TrimSpace(content) == "" {
		return Fingerprint{}, appErrors.NewValidation("fingerprint content cannot be empty")
	}

	contentSum := sha256.Sum256([]byte(content))

	// Signature binds content and context. Context parts are NUL-joined so
	// ("ab","c") and ("a","bc") cannot collide.
	h := sha256.New()
	h.Write([]byte(content))
	for _, c := range context {
		h.Write([]byte{0})
		h.Write([]byte(c))
	}
	sum := h.Sum(nil)

	return Fingerprint{
		Signature:     hex.EncodeToString(sum),
		Symbols:       deriveSymbols(sum),
		ContentHash:   hex.EncodeToString(contentSum[:]),
		Complexity:    shannonEntropy(content),
		Resonance:     unitInterval(sum[0:8]),
		Geometry:      geometries[int(sum[8])%len(geometries)],
		EnergyPattern: energyPatterns[int(sum[9])%len(energyPatterns)],
		Meta: map[string]float64{
			"harmonic":  unitInterval(sum[10:18]),
			"coherence": unitInterval(sum[16:24]),
			"density":   float64(len(content)),
		},
		CreatedAt: time.Now(),
	}, nil
}

// deriveSymbols renders the first digest bytes as glyphs.
func deriveSymbols(sum []byte) []string {
	symbols := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		symbols = append(symbols, symbolTable[int(sum[i])%len(symbolTable)])
	}
	return symbols
}

// unitInterval maps 8 digest bytes onto [0, 1).
func unitInterval(b []byte) float64 {
	v := binary.BigEndian.Uint64(b)
	return float64(v) / float64(math.MaxUint64)
}

// shannonEntropy returns the byte-level entropy of s normalized to [0, 1].
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	entropy := 0.0
	total := float64(len(s))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy / 8.0
}
