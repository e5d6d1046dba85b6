package persistence

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of a directory.
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Store metrics
	StoreCallsTotal   *prometheus.CounterVec
	StoreCallDuration *prometheus.HistogramVec

	// Policy metrics
	HookAborts         *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loom",
				Name:      "operations_total",
				Help:      "Total number of collection operations by outcome",
			},
			[]string{"collection", "operation", "outcome"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "loom",
				Name:      "operation_duration_seconds",
				Help:      "Collection operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"collection", "operation"},
		),
		StoreCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loom",
				Name:      "store_calls_total",
				Help:      "Total number of document store calls by outcome",
			},
			[]string{"collection", "call", "outcome"},
		),
		StoreCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "loom",
				Name:      "store_call_duration_seconds",
				Help:      "Document store call duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"collection", "call"},
		),
		HookAborts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loom",
				Name:      "hook_aborts_total",
				Help:      "Total number of hook phases aborted",
			},
			[]string{"collection", "phase"},
		),
		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loom",
				Name:      "validation_failures_total",
				Help:      "Total number of documents rejected by validation",
			},
			[]string{"collection"},
		),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveOperation records one collection operation.
func (m *Metrics) ObserveOperation(collection, operation string, ok bool, start time.Time) {
	m.OperationsTotal.WithLabelValues(collection, operation, outcome(ok)).Inc()
	m.OperationDuration.WithLabelValues(collection, operation).Observe(time.Since(start).Seconds())
}

// ObserveStoreCall records one document store call.
func (m *Metrics) ObserveStoreCall(collection, call string, err error, start time.Time) {
	m.StoreCallsTotal.WithLabelValues(collection, call, outcome(err == nil)).Inc()
	m.StoreCallDuration.WithLabelValues(collection, call).Observe(time.Since(start).Seconds())
}

// IncrementHookAborts records a hook phase that aborted.
func (m *Metrics) IncrementHookAborts(collection, phase string) {
	m.HookAborts.WithLabelValues(collection, phase).Inc()
}

// IncrementValidationFailures records a document rejected by validation.
func (m *Metrics) IncrementValidationFailures(collection string) {
	m.ValidationFailures.WithLabelValues(collection).Inc()
}
