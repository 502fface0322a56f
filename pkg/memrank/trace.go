package memrank

import (
	"time"

	"github.com/dan-solli/memrank/pkg/trace"
)

// OperationTrace captures timing data for one Memory operation.
type OperationTrace struct {
	Operation string `json:"operation"`

	// Spans contains timing data for each stage of the operation
	Spans []Span `json:"spans"`

	TotalDurationMs int64 `json:"totalDurationMs"`
}

// Span represents a single timed stage within an operation.
// Stage names are stable:
//   - "insert": timeline append
//   - "build": graph construction
//   - "compute": power iteration
//   - "write-events", "write-graph": persistence writes
//   - "read-events", "read-graph": persistence reads
type Span struct {
	Name string `json:"name"`

	DurationMs int64 `json:"durationMs"`

	OK bool `json:"ok"`

	// Error contains error message if OK is false (optional)
	Error string `json:"error,omitempty"`

	// ErrorType is ClassifyError of the span error
	ErrorType string `json:"errorType,omitempty"`

	// Counters provides additional numbers for the span (optional)
	Counters map[string]int64 `json:"counters,omitempty"`
}

func newTrace(operation string) *OperationTrace {
	return &OperationTrace{
		Operation: operation,
		Spans:     make([]Span, 0),
	}
}

func (t *OperationTrace) addSpan(span Span) {
	t.Spans = append(t.Spans, span)
	t.TotalDurationMs += span.DurationMs
}

// record converts the trace into an exportable record. Error strings are
// dropped in favour of their classification.
func (t *OperationTrace) record(operationID string, start time.Time, err error) *trace.TraceRecord {
	rec := &trace.TraceRecord{
		Timestamp:   start,
		OperationID: operationID,
		Operation:   t.Operation,
		DurationMs:  t.TotalDurationMs,
		Status:      "success",
		Spans:       make([]trace.SpanRecord, len(t.Spans)),
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorType = ClassifyError(err)
	}
	for i, s := range t.Spans {
		sr := trace.SpanRecord{
			Name:       s.Name,
			DurationMs: s.DurationMs,
			OK:         s.OK,
			ErrorType:  s.ErrorType,
			Counters:   s.Counters,
		}
		rec.Spans[i] = sr
	}
	return rec
}

// spanTimer is a helper for measuring span duration
type spanTimer struct {
	name  string
	start time.Time
	trace *OperationTrace
}

func newSpanTimer(name string, trace *OperationTrace) *spanTimer {
	return &spanTimer{
		name:  name,
		start: time.Now(),
		trace: trace,
	}
}

// finish completes the span and records it to the trace
func (st *spanTimer) finish(err error, counters map[string]int64) time.Duration {
	duration := time.Since(st.start)
	span := Span{
		Name:       st.name,
		DurationMs: duration.Milliseconds(),
		OK:         err == nil,
		Counters:   counters,
	}
	if err != nil {
		span.Error = err.Error()
		span.ErrorType = ClassifyError(err)
	}
	st.trace.addSpan(span)
	return duration
}
