package sigil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "sigilmem-backend/pkg/errors"
)

func TestGenerate(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		a, err := Generate("the owl remembers", "session-1")
		require.NoError(t, err)
		b, err := Generate("the owl remembers", "session-1")
		require.NoError(t, err)

		assert.Equal(t, a.Signature, b.Signature)
		assert.Equal(t, a.ContentHash, b.ContentHash)
		assert.Equal(t, a.Symbols, b.Symbols)
		assert.Equal(t, a.Geometry, b.Geometry)
		assert.Equal(t, a.EnergyPattern, b.EnergyPattern)
		assert.Equal(t, a.Meta, b.Meta)
	})

	t.Run("ContextChangesSignature", func(t *testing.T) {
		a, err := Generate("the owl remembers")
		require.NoError(t, err)
		b, err := Generate("the owl remembers", "session-1")
		require.NoError(t, err)

		assert.NotEqual(t, a.Signature, b.Signature)
		// Content hash only covers content, so it stays stable.
		assert.Equal(t, a.ContentHash, b.ContentHash)
	})

	t.Run("ContextJoiningIsUnambiguous", func(t *testing.T) {
		a, err := Generate("x", "ab", "c")
		require.NoError(t, err)
		b, err := Generate("x", "a", "bc")
		require.NoError(t, err)
		assert.NotEqual(t, a.Signature, b.Signature)
	})

	t.Run("EmptyContentRejected", func(t *testing.T) {
		_, err := Generate("")
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))

		_, err = Generate("   \t\n")
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("MetadataBounds", func(t *testing.T) {
		fp, err := Generate("some moderately complex content 12345")
		require.NoError(t, err)

		assert.GreaterOrEqual(t, fp.Complexity, 0.0)
		assert.LessOrEqual(t, fp.Complexity, 1.0)
		assert.GreaterOrEqual(t, fp.Resonance, 0.0)
		assert.Less(t, fp.Resonance, 1.0)
		assert.Len(t, fp.Symbols, 6)
		assert.Contains(t, geometries, fp.Geometry)
		assert.Contains(t, energyPatterns, fp.EnergyPattern)
	})
}

// TestGenerateNoCollisions verifies signature uniqueness at scale. The full
// run covers 200k generations; -short scales it down.
func TestGenerateNoCollisions(t *testing.T) {
	n := 200_000
	if testing.Short() {
		n = 20_000
	}

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		fp, err := Generate(fmt.Sprintf("memory fragment #%d", i))
		require.NoError(t, err)
		if _, dup := seen[fp.Signature]; dup {
			t.Fatalf("signature collision at input %d", i)
		}
		seen[fp.Signature] = struct{}{}
	}
	assert.Len(t, seen, n)
}
