package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	src := newTestEngine(t)
	src.BuildGraph(append(cycleWithTail(), Edge{Source: "A", Target: "B", Weight: 0.3}), map[string]NodeAttributes{
		"A": {Emotion: 0.9},
		"D": {Recency: 0.2, BaseImportance: 0.4},
	})
	want, err := src.ComputeImportance()
	require.NoError(t, err)

	snap, err := src.Snapshot()
	require.NoError(t, err)
	require.NotNil(t, snap.Ranks)

	dst := newTestEngine(t)
	require.NoError(t, dst.Restore(snap))

	assert.Equal(t, src.NodeIDs(), dst.NodeIDs())
	assert.Equal(t, src.Edges(), dst.Edges())
	for id, p := range src.Personalization() {
		assert.InDelta(t, p, dst.Personalization()[id], 1e-12)
	}

	restored, err := dst.RankVector()
	require.NoError(t, err)
	for id, s := range want {
		assert.InDelta(t, s, restored[id], 1e-12)
	}

	// Recomputing on the restored graph reproduces the same scores.
	recomputed, err := dst.ComputeImportance()
	require.NoError(t, err)
	for id, s := range want {
		assert.InDelta(t, s, recomputed[id], 1e-9)
	}
}

func TestSnapshot_WithoutRanks(t *testing.T) {
	src := newTestEngine(t)
	src.BuildGraph(cycleWithTail(), nil)

	snap, err := src.Snapshot()
	require.NoError(t, err)
	assert.Nil(t, snap.Ranks)

	dst := newTestEngine(t)
	require.NoError(t, dst.Restore(snap))
	assert.True(t, dst.Built())
	assert.False(t, dst.Computed())
}

func TestRestore_RejectsInconsistentSnapshots(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
	}{
		{"duplicate node", Snapshot{NodeIDs: []string{"a", "a"}}},
		{"empty node", Snapshot{NodeIDs: []string{"a", ""}}},
		{"personalization missing node", Snapshot{
			NodeIDs:         []string{"a", "b"},
			Personalization: map[string]float64{"a": 1},
		}},
		{"negative personalization", Snapshot{
			NodeIDs:         []string{"a"},
			Personalization: map[string]float64{"a": -1},
		}},
		{"ranks missing node", Snapshot{
			NodeIDs: []string{"a", "b"},
			Ranks:   map[string]float64{"b": 1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			err := e.Restore(tt.snap)
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
			assert.False(t, e.Built(), "failed restore must not leave partial state")
		})
	}
}

func TestRestore_DropsEdgesToUnknownNodes(t *testing.T) {
	e := newTestEngine(t)
	err := e.Restore(Snapshot{
		NodeIDs: []string{"a", "b"},
		Edges: []Edge{
			{Source: "a", Target: "b", Weight: 1},
			{Source: "a", Target: "ghost", Weight: 1},
			{Source: "b", Target: "a", Weight: 0},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []Edge{{Source: "a", Target: "b", Weight: 1}}, e.Edges())

	scores, err := e.ComputeImportance()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sum(scores), 1e-6)
}
