// Package metrics provides Prometheus metrics for document persistence.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docshape"

// Collector holds the Prometheus metrics recorded by the store. A nil
// *Collector is valid and records nothing.
type Collector struct {
	// Operation metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Document metrics
	VersionConflicts   *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec

	// Index metrics
	IndexBuilds *prometheus.CounterVec
}

// New creates a collector registered with the default registerer.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of store operations by model, operation and result",
			},
			[]string{"model", "op", "result"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Store operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"model", "op"},
		),
		VersionConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_conflicts_total",
				Help:      "Total number of saves rejected by the revision check",
			},
			[]string{"model"},
		),
		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of saves rejected by validation",
			},
			[]string{"model"},
		),
		IndexBuilds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_builds_total",
				Help:      "Total number of index build attempts by kind and result",
			},
			[]string{"model", "kind", "result"},
		),
	}
}

// ObserveOperation records one finished operation.
func (c *Collector) ObserveOperation(model, op string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.Operations.WithLabelValues(model, op, result(err)).Inc()
	c.OperationDuration.WithLabelValues(model, op).Observe(time.Since(start).Seconds())
}

// VersionConflict records a rejected conditional write.
func (c *Collector) VersionConflict(model string) {
	if c == nil {
		return
	}
	c.VersionConflicts.WithLabelValues(model).Inc()
}

// ValidationFailure records a save rejected before reaching the table.
func (c *Collector) ValidationFailure(model string) {
	if c == nil {
		return
	}
	c.ValidationFailures.WithLabelValues(model).Inc()
}

// IndexBuild records one index build attempt.
func (c *Collector) IndexBuild(model, kind string, err error) {
	if c == nil {
		return
	}
	c.IndexBuilds.WithLabelValues(model, kind, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
