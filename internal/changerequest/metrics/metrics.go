// Package metrics holds Prometheus metrics for the change request engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"changeflow/internal/changerequest/models"
	dErrors "changeflow/pkg/domain-errors"
)

// Metrics holds the engine's Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Transitions       *prometheus.CounterVec
	Conflicts         prometheus.Counter
	Created           prometheus.Counter
}

// New creates and registers the engine metrics.
func New() *Metrics {
	return &Metrics{
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "changeflow_operations_total",
			Help: "Engine operations by name and outcome code",
		}, []string{"operation", "outcome"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "changeflow_operation_duration_seconds",
			Help:    "Engine operation latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "changeflow_stage_transitions_total",
			Help: "Stage transitions by source stage and resulting status",
		}, []string{"from_stage", "to_status"}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "changeflow_conflicts_total",
			Help: "Mutations aborted because the change request changed concurrently",
		}),
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "changeflow_change_requests_created_total",
			Help: "Total number of change requests created",
		}),
	}
}

// ObserveOperation records one finished operation. err decides the outcome label.
func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncTransition(from models.Stage, to models.Status) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(strconv.Itoa(int(from)), string(to)).Inc()
}

func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *Metrics) IncCreated() {
	if m == nil {
		return
	}
	m.Created.Inc()
}
