// Package rank computes personalized PageRank importance scores over a
// weighted association graph of memory identifiers.
//
// The Engine moves through three states: no graph, graph built (BuildGraph)
// and scores computed (ComputeImportance). Rebuilding the graph discards any
// computed scores. An Engine is not safe for concurrent use; BuildGraph and
// ComputeImportance mutate shared buffers in place.
package rank

import (
	"math"
	"sort"
)

// Edge is a directed association: recalling Source makes a transition to
// Target more likely, in proportion to Weight.
type Edge struct {
	Source string  `json:"src"`
	Target string  `json:"dst"`
	Weight float64 `json:"weight"`
}

// NodeAttributes are the per-node features that shape the personalization
// vector. Each value is clamped to [0,1] before use.
type NodeAttributes struct {
	Recency        float64 `json:"recency"`
	Emotion        float64 `json:"emotion"`
	Frequency      float64 `json:"frequency"`
	BaseImportance float64 `json:"base_importance"`
}

// Ranked is a node ID with its importance score.
type Ranked struct {
	NodeID string  `json:"node_id"`
	Score  float64 `json:"score"`
}

// BuildStats summarizes a BuildGraph call.
type BuildStats struct {
	Nodes         int // Nodes participating in the graph
	Edges         int // Distinct (source, target) pairs after aggregation
	DroppedEdges  int // Input edges discarded for a bad weight or empty endpoint
	DanglingNodes int // Nodes without outgoing edges
	BoostedEdges  int // Aggregated edges amplified by the locality boost
}

// Convergence describes the last power iteration.
type Convergence struct {
	Iterations int
	Delta      float64 // L1 change of the final iteration
	Converged  bool    // Delta fell below Config.Tol before MaxIter
}

type rawEdge struct {
	src, dst int
	weight   float64
}

type transition struct {
	to int
	p  float64
}

// Engine is the ranking engine.
type Engine struct {
	cfg      Config
	locality LocalityClassifier

	built    bool
	ids      []string       // index -> node id, sorted
	index    map[string]int // node id -> index
	raw      []rawEdge      // aggregated raw weights, sorted by (src, dst)
	columns  [][]transition // column-normalized outgoing transitions per source
	dangling []int          // sources with no outgoing weight
	v        []float64      // personalization vector
	r        []float64      // latest rank vector, nil until computed
	scratch  []float64
	conv     Convergence
}

// New creates an Engine. It fails fast on an invalid Config.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	locality := cfg.Locality
	if locality == nil {
		locality = AllLocal{}
	}
	return &Engine{cfg: cfg, locality: locality}, nil
}

// Config returns the configuration the Engine was created with.
func (e *Engine) Config() Config {
	return e.cfg
}

// BuildGraph replaces the graph with one built from edges and invalidates any
// computed scores.
//
// Only endpoints of valid edges become nodes. Edges with a non-positive or
// non-finite weight, or an empty endpoint, are dropped. Parallel edges are
// summed. attrs may be nil, in which case personalization is uniform.
func (e *Engine) BuildGraph(edges []Edge, attrs map[string]NodeAttributes) BuildStats {
	var stats BuildStats

	seen := make(map[string]struct{})
	valid := make([]Edge, 0, len(edges))
	for _, edge := range edges {
		if !validEdge(edge) {
			stats.DroppedEdges++
			continue
		}
		valid = append(valid, edge)
		seen[edge.Source] = struct{}{}
		seen[edge.Target] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	e.setNodes(ids)

	e.raw = aggregate(valid, e.index)
	stats.BoostedEdges = e.deriveTransitions(attrs)
	e.v = e.personalization(attrs)

	stats.Nodes = len(e.ids)
	stats.Edges = len(e.raw)
	stats.DanglingNodes = len(e.dangling)
	return stats
}

func (e *Engine) setNodes(ids []string) {
	e.ids = ids
	e.index = make(map[string]int, len(ids))
	for i, id := range ids {
		e.index[id] = i
	}
	e.built = true
	e.r = nil
	e.scratch = nil
	e.conv = Convergence{}
}

func validEdge(edge Edge) bool {
	if edge.Source == "" || edge.Target == "" {
		return false
	}
	return edge.Weight > 0 && !math.IsInf(edge.Weight, 0) && !math.IsNaN(edge.Weight)
}

// aggregate sums parallel edges whose endpoints are both in index.
func aggregate(edges []Edge, index map[string]int) []rawEdge {
	type key struct{ src, dst int }
	sums := make(map[key]float64, len(edges))
	for _, edge := range edges {
		src, ok := index[edge.Source]
		if !ok {
			continue
		}
		dst, ok := index[edge.Target]
		if !ok {
			continue
		}
		sums[key{src, dst}] += edge.Weight
	}

	raw := make([]rawEdge, 0, len(sums))
	for k, w := range sums {
		raw = append(raw, rawEdge{src: k.src, dst: k.dst, weight: w})
	}
	sort.Slice(raw, func(i, j int) bool {
		if raw[i].src != raw[j].src {
			return raw[i].src < raw[j].src
		}
		return raw[i].dst < raw[j].dst
	})
	return raw
}

// deriveTransitions applies the locality boost and column-normalizes the raw
// weights. It returns the number of boosted edges.
func (e *Engine) deriveTransitions(attrs map[string]NodeAttributes) int {
	n := len(e.ids)
	boosted := 0
	weights := make([]float64, len(e.raw))
	colSums := make([]float64, n)
	for i, re := range e.raw {
		w := re.weight
		if e.cfg.LocalWeightBoost > 1 && e.locality.IsLocal(e.ids[re.src], e.ids[re.dst], attrs) {
			w *= e.cfg.LocalWeightBoost
			boosted++
		}
		weights[i] = w
		colSums[re.src] += w
	}

	e.columns = make([][]transition, n)
	for i, re := range e.raw {
		e.columns[re.src] = append(e.columns[re.src], transition{to: re.dst, p: weights[i] / colSums[re.src]})
	}

	e.dangling = e.dangling[:0]
	for j := 0; j < n; j++ {
		if colSums[j] <= 0 {
			e.dangling = append(e.dangling, j)
		}
	}
	return boosted
}

// personalization builds the L1-normalized restart distribution.
func (e *Engine) personalization(attrs map[string]NodeAttributes) []float64 {
	n := len(e.ids)
	v := make([]float64, n)
	if n == 0 {
		return v
	}
	if attrs == nil {
		for i := range v {
			v[i] = 1 / float64(n)
		}
		return v
	}

	total := 0.0
	for i, id := range e.ids {
		score := 1.0
		if a, ok := attrs[id]; ok {
			score = e.cfg.RecencyWeight*clamp01(a.Recency) +
				e.cfg.EmotionWeight*clamp01(a.Emotion) +
				e.cfg.FrequencyWeight*clamp01(a.Frequency) +
				clamp01(a.BaseImportance)
			// Never give a node zero restart probability.
			if score <= 0 {
				score = 1
			}
		}
		v[i] = score
		total += score
	}
	for i := range v {
		v[i] /= total
	}
	return v
}

// ComputeImportance runs power iteration and returns the score of every node.
// Scores sum to 1. It returns ErrNotInitialized before the first BuildGraph.
func (e *Engine) ComputeImportance() (map[string]float64, error) {
	if !e.built {
		return nil, ErrNotInitialized
	}
	e.iterate()
	return e.scoreMap(), nil
}

func (e *Engine) iterate() {
	n := len(e.ids)
	if n == 0 {
		e.r = []float64{}
		e.conv = Convergence{Converged: true}
		return
	}

	r := make([]float64, n)
	for i := range r {
		r[i] = 1 / float64(n)
	}
	next := e.scratch
	if len(next) != n {
		next = make([]float64, n)
	}

	d := e.cfg.Damping
	conv := Convergence{}
	for iter := 1; iter <= e.cfg.MaxIter; iter++ {
		// Dangling columns are uniform, so their mass spreads evenly.
		danglingMass := 0.0
		for _, j := range e.dangling {
			danglingMass += r[j]
		}
		base := d * danglingMass / float64(n)
		for i := range next {
			next[i] = (1-d)*e.v[i] + base
		}
		for j, col := range e.columns {
			rj := r[j]
			if rj == 0 {
				continue
			}
			for _, t := range col {
				next[t.to] += d * t.p * rj
			}
		}

		delta := 0.0
		for i := range next {
			delta += math.Abs(next[i] - r[i])
		}
		r, next = next, r
		conv.Iterations = iter
		conv.Delta = delta
		if delta < e.cfg.Tol {
			conv.Converged = true
			break
		}
	}

	sum := 0.0
	for _, x := range r {
		sum += x
	}
	if sum > 0 {
		for i := range r {
			r[i] /= sum
		}
	}

	e.r = r
	e.scratch = next
	e.conv = conv
}

// Convergence reports the outcome of the last ComputeImportance.
func (e *Engine) Convergence() Convergence {
	return e.conv
}

// TopK returns the k highest-scoring nodes in descending score order, computing
// scores first when needed. Ties are broken by node ID order. k is clamped to
// [0, number of nodes].
func (e *Engine) TopK(k int) ([]Ranked, error) {
	if !e.built {
		return nil, ErrNotInitialized
	}
	if e.r == nil {
		e.iterate()
	}

	n := len(e.r)
	if k > n {
		k = n
	}
	if k <= 0 {
		return []Ranked{}, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return e.r[order[a]] > e.r[order[b]]
	})

	out := make([]Ranked, k)
	for i := 0; i < k; i++ {
		idx := order[i]
		out[i] = Ranked{NodeID: e.ids[idx], Score: e.r[idx]}
	}
	return out, nil
}

// RankVector returns the latest scores, computing them first when needed.
func (e *Engine) RankVector() (map[string]float64, error) {
	if !e.built {
		return nil, ErrNotInitialized
	}
	if e.r == nil {
		e.iterate()
	}
	return e.scoreMap(), nil
}

func (e *Engine) scoreMap() map[string]float64 {
	scores := make(map[string]float64, len(e.ids))
	for i, id := range e.ids {
		scores[id] = e.r[i]
	}
	return scores
}

// Built reports whether a graph has been built or restored.
func (e *Engine) Built() bool {
	return e.built
}

// Computed reports whether the current graph has scores.
func (e *Engine) Computed() bool {
	return e.r != nil
}

// NodeIDs returns the node IDs in index order.
func (e *Engine) NodeIDs() []string {
	return append([]string(nil), e.ids...)
}

// Edges returns the aggregated raw edge weights (before locality boost and
// normalization) ordered by source then target index.
func (e *Engine) Edges() []Edge {
	edges := make([]Edge, len(e.raw))
	for i, re := range e.raw {
		edges[i] = Edge{Source: e.ids[re.src], Target: e.ids[re.dst], Weight: re.weight}
	}
	return edges
}

// Personalization returns the normalized personalization vector keyed by node ID.
// It is nil before the first BuildGraph.
func (e *Engine) Personalization() map[string]float64 {
	if !e.built {
		return nil
	}
	v := make(map[string]float64, len(e.ids))
	for i, id := range e.ids {
		v[id] = e.v[i]
	}
	return v
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
