package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector provides Prometheus metrics collection for memrank operations
type MetricsCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	iterations        *prometheus.HistogramVec
	size              *prometheus.GaugeVec
	registry          *prometheus.Registry
}

var _ Collector = (*MetricsCollector)(nil)

// NewCollector creates a new Prometheus metrics collector with its own registry
func NewCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memrank_operations_total",
			Help: "Total number of memrank operations by type and status",
		},
		[]string{"operation", "status"},
	)

	// Ranking a few thousand nodes takes milliseconds, so buckets start low.
	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memrank_operation_duration_seconds",
			Help:    "Duration of memrank operations by type and stage",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation", "stage"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memrank_errors_total",
			Help: "Total number of errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	iterations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memrank_pagerank_iterations",
			Help:    "Power iterations per importance computation",
			Buckets: []float64{5, 10, 20, 50, 100, 200, 500},
		},
		[]string{"converged"},
	)

	size := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memrank_size",
			Help: "Current number of events, episodes, nodes and edges",
		},
		[]string{"kind"},
	)

	registry.MustRegister(operationsTotal, operationDuration, errorsTotal, iterations, size)

	return &MetricsCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		iterations:        iterations,
		size:              size,
		registry:          registry,
	}
}

// RecordOperation records the completion of an operation
func (m *MetricsCollector) RecordOperation(ctx context.Context, operation string, status string, duration time.Duration) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation, "total").Observe(duration.Seconds())
}

// RecordStage records the duration of a specific stage within an operation
func (m *MetricsCollector) RecordStage(ctx context.Context, operation string, stage string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation, stage).Observe(duration.Seconds())
}

// RecordError records an error occurrence
func (m *MetricsCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordConvergence records how many iterations a ranking pass ran
func (m *MetricsCollector) RecordConvergence(ctx context.Context, iterations int, converged bool) {
	m.iterations.WithLabelValues(strconv.FormatBool(converged)).Observe(float64(iterations))
}

// SetSize sets the current count for one of the Size* kinds
func (m *MetricsCollector) SetSize(ctx context.Context, kind string, count int64) {
	m.size.WithLabelValues(kind).Set(float64(count))
}

// Registry returns the Prometheus registry for HTTP exposure
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}
