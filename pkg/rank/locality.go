package rank

import "math"

// LocalityClassifier decides whether an edge connects memories that are local
// to each other (same context, close in time). Local edges are amplified by
// Config.LocalWeightBoost when it is greater than 1.
type LocalityClassifier interface {
	// IsLocal reports whether the edge src -> dst is local. attrs is the
	// attribute map passed to BuildGraph and may be nil.
	IsLocal(src, dst string, attrs map[string]NodeAttributes) bool
}

// LocalityFunc adapts a function to LocalityClassifier.
type LocalityFunc func(src, dst string, attrs map[string]NodeAttributes) bool

// IsLocal calls f.
func (f LocalityFunc) IsLocal(src, dst string, attrs map[string]NodeAttributes) bool {
	return f(src, dst, attrs)
}

// AllLocal treats every edge as local.
type AllLocal struct{}

// IsLocal always returns true.
func (AllLocal) IsLocal(string, string, map[string]NodeAttributes) bool {
	return true
}

// TimeWindowLocality treats an edge as local when both endpoints have a known
// timestamp and those timestamps are at most Window seconds apart.
// Timestamps are typically taken from timeline events sharing the node IDs.
type TimeWindowLocality struct {
	Timestamps map[string]float64
	Window     float64
}

// IsLocal implements LocalityClassifier.
func (l TimeWindowLocality) IsLocal(src, dst string, _ map[string]NodeAttributes) bool {
	ts, ok := l.Timestamps[src]
	if !ok {
		return false
	}
	td, ok := l.Timestamps[dst]
	if !ok {
		return false
	}
	return math.Abs(ts-td) <= l.Window
}
