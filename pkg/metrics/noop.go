package metrics

import (
	"context"
	"time"
)

// NoopCollector discards everything.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, duration time.Duration) {
}

func (n *NoopCollector) RecordStage(ctx context.Context, operation string, stage string, duration time.Duration) {
}

func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {
}

func (n *NoopCollector) RecordConvergence(ctx context.Context, iterations int, converged bool) {
}

func (n *NoopCollector) SetSize(ctx context.Context, kind string, count int64) {
}
