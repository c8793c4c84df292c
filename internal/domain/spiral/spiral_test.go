package spiral

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigilmem-backend/internal/domain/node"
	"sigilmem-backend/internal/domain/sigil"
	appErrors "sigilmem-backend/pkg/errors"
)

func newTestNode(t *testing.T, content string) *node.Node {
	t.Helper()
	fp, err := sigil.Generate(content)
	require.NoError(t, err)
	return node.New(content, "episodic", 1, fp)
}

func TestNew(t *testing.T) {
	t.Run("ValidType", func(t *testing.T) {
		s, err := New("episodic", 2)
		require.NoError(t, err)
		assert.Equal(t, "fibonacci", s.Template)
		assert.Equal(t, 2, s.Depth)
		assert.Zero(t, s.NodeCount)
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := New("quantum", 1)
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("NegativeDepth", func(t *testing.T) {
		_, err := New("episodic", -1)
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})
}

func TestAddRemoveNode(t *testing.T) {
	s, err := New("episodic", 1)
	require.NoError(t, err)

	n := newTestNode(t, "harbor at dusk")
	s.AddNode(n)

	assert.Equal(t, 1, s.NodeCount)
	assert.Equal(t, s.ID, n.SpiralID)
	assert.Greater(t, s.ResonanceField, 0.0)

	assert.True(t, s.RemoveNode(n.ID))
	assert.Equal(t, 0, s.NodeCount)
	assert.Zero(t, s.ResonanceField)

	assert.False(t, s.RemoveNode(n.ID))
}

// TestLinkCap verifies the bounded out-degree invariant: 10 attempts leave
// exactly 8 links and the first 8 targets are untouched.
func TestLinkCap(t *testing.T) {
	s, err := New("semantic", 0)
	require.NoError(t, err)

	accepted := make([]string, 0, MaxLinks)
	for i := 0; i < 10; i++ {
		target := fmt.Sprintf("spiral-%d", i)
		linkErr := s.AttemptLink(target, 0.5)
		if i < MaxLinks {
			require.NoError(t, linkErr, "attempt %d should be accepted", i)
			accepted = append(accepted, target)
		} else {
			require.Error(t, linkErr, "attempt %d should be rejected", i)
			assert.True(t, appErrors.IsLinkCapacity(linkErr))
		}
	}

	require.Len(t, s.Links, MaxLinks)
	for i, l := range s.Links {
		assert.Equal(t, accepted[i], l.TargetID, "existing link %d must not be replaced", i)
	}
}

func TestAttemptLinkRejections(t *testing.T) {
	s, err := New("semantic", 0)
	require.NoError(t, err)

	t.Run("SelfLink", func(t *testing.T) {
		linkErr := s.AttemptLink(s.ID, 1.0)
		require.Error(t, linkErr)
		assert.True(t, appErrors.IsValidation(linkErr))
	})

	t.Run("DuplicateTarget", func(t *testing.T) {
		require.NoError(t, s.AttemptLink("other", 1.0))
		linkErr := s.AttemptLink("other", 0.3)
		require.Error(t, linkErr)
		assert.True(t, appErrors.IsConflict(linkErr))
		require.Len(t, s.Links, 1)
		assert.Equal(t, 1.0, s.Links[0].Weight)
	})
}
