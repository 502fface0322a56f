// Package memrank ties a timeline store, a ranking engine and a persistence
// backend together behind one configured handle with logging, metrics and
// operation traces.
//
// A Memory is not safe for concurrent use; callers serialize access.
package memrank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dan-solli/memrank/pkg/metrics"
	"github.com/dan-solli/memrank/pkg/rank"
	"github.com/dan-solli/memrank/pkg/store"
	"github.com/dan-solli/memrank/pkg/timeline"
	"github.com/dan-solli/memrank/pkg/trace"
)

// Operation names used in metrics and traces.
const (
	OpAppend = "append"
	OpRank   = "rank"
	OpSave   = "save"
	OpLoad   = "load"
)

// backend is what Save and Load need from a persistence store.
type backend interface {
	store.EventStore
	store.GraphStore
}

// Memory is a timeline plus a ranking engine with optional persistence.
type Memory struct {
	cfg      Config
	timeline *timeline.Store
	engine   *rank.Engine
	backend  backend

	logger    *slog.Logger
	metrics   metrics.Collector
	exporter  trace.Exporter
	ownsTrace bool
	lastTrace *OperationTrace
}

// Option configures optional collaborators of a Memory.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	metrics  metrics.Collector
	exporter trace.Exporter
	locality rank.LocalityClassifier
	clock    func() time.Time
}

// WithLogger sets the structured logger. Nil keeps the discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics collector (default: metrics.NoopCollector).
func WithMetrics(c metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithTraceExporter overrides the exporter built from Config.Trace.
// The Memory does not close an exporter passed this way.
func WithTraceExporter(e trace.Exporter) Option {
	return func(o *options) { o.exporter = e }
}

// WithLocality sets the classifier that decides which edges get LocalWeightBoost.
func WithLocality(l rank.LocalityClassifier) Option {
	return func(o *options) { o.locality = l }
}

// WithClock sets the clock used for "now" decay scores.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New validates cfg and builds a Memory. When cfg.Storage.Path is set the
// backend is opened immediately; call Close to release it.
func New(cfg Config, opts ...Option) (*Memory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m := &Memory{
		cfg:     cfg,
		logger:  o.logger,
		metrics: o.metrics,
	}
	if m.logger == nil {
		m.logger = discardLogger()
	}
	if m.metrics == nil {
		m.metrics = metrics.NewNoopCollector()
	}

	var tlOpts []timeline.Option
	if o.clock != nil {
		tlOpts = append(tlOpts, timeline.WithClock(o.clock))
	}
	tl, err := timeline.New(cfg.Timeline, tlOpts...)
	if err != nil {
		return nil, err
	}
	m.timeline = tl

	rankCfg := cfg.Rank
	if o.locality != nil {
		rankCfg.Locality = o.locality
	}
	engine, err := rank.New(rankCfg)
	if err != nil {
		return nil, err
	}
	m.engine = engine

	if o.exporter != nil {
		m.exporter = o.exporter
	} else {
		exp, err := trace.NewFileExporter(cfg.Trace.Path,
			trace.WithMaxSize(cfg.Trace.MaxSizeBytes),
			trace.WithMaxRotatedFiles(cfg.Trace.MaxRotatedFiles))
		if err != nil {
			return nil, fmt.Errorf("open trace exporter: %w", err)
		}
		m.exporter = exp
		m.ownsTrace = true
	}

	if cfg.Storage.Path != "" {
		b, err := openBackend(cfg.Storage)
		if err != nil {
			m.closeExporter()
			return nil, err
		}
		m.backend = b
	}

	m.logger.Info("memrank initialized",
		"max_events", cfg.Timeline.MaxEvents,
		"half_life_s", cfg.Timeline.RecencyHalfLife,
		"damping", cfg.Rank.Damping,
		"max_iter", cfg.Rank.MaxIter,
		"storage_backend", cfg.Storage.Backend,
		"storage_enabled", m.backend != nil,
	)
	return m, nil
}

func openBackend(cfg StorageConfig) (backend, error) {
	switch cfg.Backend {
	case BackendSQLite:
		s, err := store.NewSQLiteStore(cfg.Path, store.WithDriver(cfg.Driver))
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewJSONStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open json storage: %w", err)
		}
		return s, nil
	}
}

// Timeline returns the underlying timeline store.
func (m *Memory) Timeline() *timeline.Store {
	return m.timeline
}

// Engine returns the underlying ranking engine.
func (m *Memory) Engine() *rank.Engine {
	return m.engine
}

// Config returns the configuration the Memory was built with.
func (m *Memory) Config() Config {
	return m.cfg
}

// LastTrace returns the trace of the most recent operation, or nil.
func (m *Memory) LastTrace() *OperationTrace {
	return m.lastTrace
}

// Append records one event and returns its ID.
func (m *Memory) Append(ctx context.Context, ev timeline.NewEvent) (string, error) {
	op := m.begin(OpAppend)

	before := m.timeline.Len()
	st := newSpanTimer("insert", op.trace)
	id, err := m.timeline.Append(ev)
	evicted := int64(before + 1 - m.timeline.Len())
	if err != nil {
		evicted = 0
	}
	st.finish(err, map[string]int64{"evicted": evicted})

	if err == nil {
		op.ids["eventId"] = id
		if evicted > 0 {
			m.logger.Debug("timeline at capacity, evicted oldest events", "evicted", evicted, "max_events", m.cfg.Timeline.MaxEvents)
		}
		m.reportTimelineSize(ctx)
	}
	m.end(ctx, op, err)
	return id, err
}

// Rank builds the graph from edges and attrs and computes importance scores.
// Edges the engine discards are reported in the trace and at debug level.
func (m *Memory) Rank(ctx context.Context, edges []rank.Edge, attrs map[string]rank.NodeAttributes) (map[string]float64, error) {
	op := m.begin(OpRank)
	if err := ctx.Err(); err != nil {
		m.end(ctx, op, err)
		return nil, err
	}

	st := newSpanTimer("build", op.trace)
	stats := m.engine.BuildGraph(edges, attrs)
	took := st.finish(nil, map[string]int64{
		"nodes":    int64(stats.Nodes),
		"edges":    int64(stats.Edges),
		"dropped":  int64(stats.DroppedEdges),
		"dangling": int64(stats.DanglingNodes),
		"boosted":  int64(stats.BoostedEdges),
	})
	m.metrics.RecordStage(ctx, OpRank, "build", took)
	if stats.DroppedEdges > 0 {
		m.logger.Debug("dropped invalid edges", "dropped", stats.DroppedEdges, "kept", stats.Edges)
	}

	st = newSpanTimer("compute", op.trace)
	scores, err := m.engine.ComputeImportance()
	conv := m.engine.Convergence()
	took = st.finish(err, map[string]int64{"iterations": int64(conv.Iterations)})
	m.metrics.RecordStage(ctx, OpRank, "compute", took)

	if err == nil {
		m.metrics.RecordConvergence(ctx, conv.Iterations, conv.Converged)
		m.metrics.SetSize(ctx, metrics.SizeNodes, int64(stats.Nodes))
		m.metrics.SetSize(ctx, metrics.SizeEdges, int64(stats.Edges))
		if !conv.Converged && stats.Nodes > 0 {
			m.logger.Warn("power iteration stopped before convergence",
				"iterations", conv.Iterations, "delta", conv.Delta, "tol", m.cfg.Rank.Tol)
		}
	}
	m.end(ctx, op, err)
	return scores, err
}

// TopK returns the k highest ranked nodes of the last Rank or Load.
func (m *Memory) TopK(k int) ([]rank.Ranked, error) {
	return m.engine.TopK(k)
}

// Save writes the timeline and, when a graph has been built, the engine
// snapshot to the configured backend.
func (m *Memory) Save(ctx context.Context) error {
	op := m.begin(OpSave)
	if m.backend == nil {
		m.end(ctx, op, ErrStorageDisabled)
		return ErrStorageDisabled
	}

	st := newSpanTimer("write-events", op.trace)
	n, err := store.SaveTimeline(ctx, m.backend, m.timeline)
	st.finish(err, map[string]int64{"events": int64(n)})
	if err != nil {
		err = fmt.Errorf("save timeline: %w", err)
		m.end(ctx, op, err)
		return err
	}

	if m.engine.Built() {
		st = newSpanTimer("write-graph", op.trace)
		err = store.SaveEngine(ctx, m.backend, m.engine)
		st.finish(err, map[string]int64{"nodes": int64(len(m.engine.NodeIDs()))})
		if err != nil {
			err = fmt.Errorf("save graph: %w", err)
		}
	}
	m.end(ctx, op, err)
	return err
}

// Load reads the timeline and the engine snapshot from the configured
// backend. A backend that has never been saved to is not an error for the
// graph; a missing timeline is reported as store.ErrNotFound.
func (m *Memory) Load(ctx context.Context, mode store.LoadMode) error {
	op := m.begin(OpLoad)
	if m.backend == nil {
		m.end(ctx, op, ErrStorageDisabled)
		return ErrStorageDisabled
	}

	st := newSpanTimer("read-events", op.trace)
	n, err := store.LoadTimeline(ctx, m.backend, m.timeline, mode)
	st.finish(err, map[string]int64{"events": int64(n)})
	if err != nil {
		err = fmt.Errorf("load timeline: %w", err)
		m.end(ctx, op, err)
		return err
	}
	m.reportTimelineSize(ctx)

	st = newSpanTimer("read-graph", op.trace)
	err = store.LoadEngine(ctx, m.backend, m.engine)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Debug("no persisted graph, keeping engine state")
		err = nil
	}
	st.finish(err, map[string]int64{"nodes": int64(len(m.engine.NodeIDs()))})
	if err != nil {
		err = fmt.Errorf("load graph: %w", err)
	}
	m.end(ctx, op, err)
	return err
}

// Close releases the storage backend and a trace exporter opened by New.
func (m *Memory) Close() error {
	var errs []error
	if m.backend != nil {
		errs = append(errs, m.backend.Close())
		m.backend = nil
	}
	errs = append(errs, m.closeExporter())
	return errors.Join(errs...)
}

func (m *Memory) closeExporter() error {
	if !m.ownsTrace || m.exporter == nil {
		return nil
	}
	m.ownsTrace = false
	return m.exporter.Close()
}

func (m *Memory) reportTimelineSize(ctx context.Context) {
	m.metrics.SetSize(ctx, metrics.SizeEvents, int64(m.timeline.Len()))
	m.metrics.SetSize(ctx, metrics.SizeEpisodes, int64(len(m.timeline.EpisodeIDs())))
}

// operation is the bookkeeping of one in-flight Memory call.
type operation struct {
	id    string
	start time.Time
	trace *OperationTrace
	ids   map[string]any
}

func (m *Memory) begin(name string) *operation {
	return &operation{
		id:    uuid.New().String(),
		start: time.Now(),
		trace: newTrace(name),
		ids:   map[string]any{},
	}
}

// end records metrics, exports the trace and logs failures.
func (m *Memory) end(ctx context.Context, op *operation, err error) {
	m.lastTrace = op.trace
	name := op.trace.Operation
	duration := time.Since(op.start)

	status := "success"
	if err != nil {
		status = "error"
		errType := ClassifyError(err)
		m.metrics.RecordError(ctx, name, errType)
		m.logger.Error("operation failed", "operation", name, "error_type", errType, "error", err)
	} else {
		m.logger.Debug("operation completed", "operation", name, "duration", duration)
	}
	m.metrics.RecordOperation(ctx, name, status, duration)

	rec := op.trace.record(op.id, op.start, err)
	rec.DurationMs = duration.Milliseconds()
	if len(op.ids) > 0 {
		rec.IDs = op.ids
	}
	if exportErr := m.exporter.Export(ctx, rec); exportErr != nil {
		m.logger.Warn("trace export failed", "operation", name, "error", exportErr)
	}
}
