package rank

import (
	"fmt"
	"math"
)

// Snapshot is the persistable state of a built Engine. Edges carry raw
// aggregated weights so that Restore reproduces the transition matrix exactly.
type Snapshot struct {
	NodeIDs         []string
	Edges           []Edge
	Personalization map[string]float64
	Ranks           map[string]float64 // nil when scores were never computed
}

// Snapshot captures the current graph, personalization and scores.
func (e *Engine) Snapshot() (Snapshot, error) {
	if !e.built {
		return Snapshot{}, ErrNotInitialized
	}
	snap := Snapshot{
		NodeIDs:         e.NodeIDs(),
		Edges:           e.Edges(),
		Personalization: e.Personalization(),
	}
	if e.r != nil {
		snap.Ranks = e.scoreMap()
	}
	return snap, nil
}

// Restore replaces the engine state with snap. The transition matrix is
// re-derived from the raw edges using this engine's Config; the stored
// personalization and ranks are taken as-is after renormalization. Edges that
// reference unknown nodes or carry invalid weights are dropped.
//
// A nil Personalization yields a uniform vector; nil Ranks leaves the engine in
// the graph-built state.
func (e *Engine) Restore(snap Snapshot) error {
	index := make(map[string]int, len(snap.NodeIDs))
	for i, id := range snap.NodeIDs {
		if id == "" {
			return fmt.Errorf("%w: empty node id at position %d", ErrInvalidSnapshot, i)
		}
		if _, dup := index[id]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidSnapshot, id)
		}
		index[id] = i
	}

	v, err := restoreVector(snap.NodeIDs, snap.Personalization, "personalization", true)
	if err != nil {
		return err
	}
	var r []float64
	if snap.Ranks != nil {
		if r, err = restoreVector(snap.NodeIDs, snap.Ranks, "ranks", false); err != nil {
			return err
		}
	}

	valid := make([]Edge, 0, len(snap.Edges))
	for _, edge := range snap.Edges {
		if validEdge(edge) {
			valid = append(valid, edge)
		}
	}

	e.setNodes(append([]string(nil), snap.NodeIDs...))
	e.raw = aggregate(valid, e.index)
	e.deriveTransitions(nil)
	e.v = v
	e.r = r
	return nil
}

// restoreVector orders values by ids and L1-normalizes them. A nil map yields a
// uniform vector when allowUniform is set.
func restoreVector(ids []string, values map[string]float64, name string, allowUniform bool) ([]float64, error) {
	n := len(ids)
	out := make([]float64, n)
	if n == 0 {
		return out, nil
	}
	if values == nil && allowUniform {
		for i := range out {
			out[i] = 1 / float64(n)
		}
		return out, nil
	}

	total := 0.0
	for i, id := range ids {
		x, ok := values[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s missing node %q", ErrInvalidSnapshot, name, id)
		}
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: %s for node %q is %v", ErrInvalidSnapshot, name, id, x)
		}
		out[i] = x
		total += x
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: %s sums to zero", ErrInvalidSnapshot, name)
	}
	for i := range out {
		out[i] /= total
	}
	return out, nil
}
