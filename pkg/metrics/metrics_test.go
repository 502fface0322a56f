package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollector_RecordOperation(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordOperation(ctx, "rank", "success", 12*time.Millisecond)
	collector.RecordOperation(ctx, "rank", "success", 8*time.Millisecond)
	collector.RecordOperation(ctx, "rank", "error", 1*time.Millisecond)
	collector.RecordOperation(ctx, "append", "success", 0)

	if got := testutil.CollectAndCount(collector.operationsTotal); got != 3 {
		t.Errorf("expected 3 metric series (rank/success, rank/error, append/success), got %d", got)
	}

	rankSuccess := testutil.ToFloat64(collector.operationsTotal.WithLabelValues("rank", "success"))
	if rankSuccess != 2 {
		t.Errorf("expected 2 rank/success operations, got %f", rankSuccess)
	}

	// Every operation also lands in the "total" stage of the duration histogram.
	if got := testutil.CollectAndCount(collector.operationDuration); got != 2 {
		t.Errorf("expected 2 duration series, got %d", got)
	}
}

func TestMetricsCollector_RecordStage(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordStage(ctx, "rank", "build", 3*time.Millisecond)
	collector.RecordStage(ctx, "rank", "compute", 40*time.Millisecond)
	collector.RecordStage(ctx, "rank", "compute", 35*time.Millisecond)

	if got := testutil.CollectAndCount(collector.operationDuration); got != 2 {
		t.Errorf("expected 2 histogram series, got %d", got)
	}
}

func TestMetricsCollector_RecordError(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordError(ctx, "load", "parse")
	collector.RecordError(ctx, "load", "parse")
	collector.RecordError(ctx, "append", "validation")

	parseErrors := testutil.ToFloat64(collector.errorsTotal.WithLabelValues("load", "parse"))
	if parseErrors != 2 {
		t.Errorf("expected 2 parse errors, got %f", parseErrors)
	}

	validationErrors := testutil.ToFloat64(collector.errorsTotal.WithLabelValues("append", "validation"))
	if validationErrors != 1 {
		t.Errorf("expected 1 validation error, got %f", validationErrors)
	}
}

func TestMetricsCollector_RecordConvergence(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordConvergence(ctx, 17, true)
	collector.RecordConvergence(ctx, 100, false)
	collector.RecordConvergence(ctx, 21, true)

	if got := testutil.CollectAndCount(collector.iterations); got != 2 {
		t.Errorf("expected converged=true and converged=false series, got %d", got)
	}
}

func TestMetricsCollector_SetSize(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.SetSize(ctx, SizeEvents, 42)
	collector.SetSize(ctx, SizeNodes, 150)

	events := testutil.ToFloat64(collector.size.WithLabelValues(SizeEvents))
	if events != 42 {
		t.Errorf("expected 42 events, got %f", events)
	}

	collector.SetSize(ctx, SizeEvents, 50)
	events = testutil.ToFloat64(collector.size.WithLabelValues(SizeEvents))
	if events != 50 {
		t.Errorf("expected 50 events after update, got %f", events)
	}
}

func TestMetricsCollector_Registry(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	// Metric families only appear in Gather once they have a series.
	collector.RecordOperation(ctx, "save", "success", 2*time.Millisecond)
	collector.RecordError(ctx, "save", "io")
	collector.RecordConvergence(ctx, 12, true)
	collector.SetSize(ctx, SizeEdges, 10)

	metricFamilies, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expectedFamilies := 5
	if len(metricFamilies) != expectedFamilies {
		t.Errorf("expected %d metric families, got %d", expectedFamilies, len(metricFamilies))
	}
}

// TestMetricsCollector_NoPayloadLeakage verifies metric labels never carry event content
func TestMetricsCollector_NoPayloadLeakage(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordOperation(ctx, "append", "success", 0)
	collector.RecordStage(ctx, "rank", "compute", 5*time.Millisecond)
	collector.RecordError(ctx, "rank", "precondition")

	metricFamilies, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	allowed := map[string]bool{
		"append": true, "rank": true, "compute": true, "total": true,
		"success": true, "precondition": true,
	}
	for _, mf := range metricFamilies {
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if !allowed[label.GetValue()] {
					t.Errorf("unexpected label value %q in %s", label.GetValue(), mf.GetName())
				}
			}
		}
	}
}

func TestNoopCollector_SatisfiesInterface(t *testing.T) {
	var c Collector = NewNoopCollector()
	c.RecordOperation(context.Background(), "append", "success", 1*time.Millisecond)
	c.SetSize(context.Background(), SizeEvents, 1)
}

func TestMetricsCollector_SubMillisecondStages(t *testing.T) {
	collector := NewCollector()
	ctx := context.Background()

	collector.RecordStage(ctx, "append", "insert", 300*time.Microsecond)
	collector.RecordStage(ctx, "append", "insert", 800*time.Microsecond)

	metricFamilies, err := collector.Registry().Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	if len(metricFamilies) != 1 {
		t.Fatalf("expected 1 metric family, got %d", len(metricFamilies))
	}
	h := metricFamilies[0].GetMetric()[0].GetHistogram()
	if got := h.GetSampleSum(); got < 0.0010 || got > 0.0012 {
		t.Errorf("expected sample sum of about 0.0011s, got %f", got)
	}
	// Bucket 0: le=0.0005, bucket 1: le=0.001.
	buckets := h.GetBucket()
	if buckets[0].GetCumulativeCount() != 1 || buckets[1].GetCumulativeCount() != 2 {
		t.Errorf("unexpected bucket counts: le=%g:%d le=%g:%d",
			buckets[0].GetUpperBound(), buckets[0].GetCumulativeCount(),
			buckets[1].GetUpperBound(), buckets[1].GetCumulativeCount())
	}
}
