// Package metrics records operation counts, stage durations, error classes and
// structure sizes for a memrank Memory.
package metrics

import (
	"context"
	"time"
)

// Collector is the interface for metrics collection.
// Implementations are the Prometheus-backed MetricsCollector and NoopCollector,
// which a Memory uses when no collector is configured.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, duration time.Duration)
	RecordStage(ctx context.Context, operation string, stage string, duration time.Duration)
	RecordError(ctx context.Context, operation string, errorType string)
	RecordConvergence(ctx context.Context, iterations int, converged bool)
	SetSize(ctx context.Context, kind string, count int64)
}

// Size kinds reported through SetSize.
const (
	SizeEvents   = "events"
	SizeEpisodes = "episodes"
	SizeNodes    = "nodes"
	SizeEdges    = "edges"
)
