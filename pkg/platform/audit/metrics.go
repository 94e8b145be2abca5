package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for history recording.
type Metrics struct {
	Recorded        *prometheus.CounterVec
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
}

// NewMetrics creates and registers the history metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Recorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "changeflow_history_entries_total",
			Help: "Total number of change request history entries recorded by action",
		}, []string{"action", "category"}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "changeflow_history_persist_failures_total",
			Help: "Total number of history append failures (each aborted a state change)",
		}),
		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "changeflow_history_persist_duration_seconds",
			Help:    "Duration of history appends",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
	}
}

// IncRecorded counts a recorded entry.
func (m *Metrics) IncRecorded(action Action) {
	m.Recorded.WithLabelValues(string(action), string(action.Category())).Inc()
}

// IncPersistFailures increments the persist failures counter.
func (m *Metrics) IncPersistFailures() {
	m.PersistFailures.Inc()
}

// ObservePersistDuration records how long an append took.
func (m *Metrics) ObservePersistDuration(seconds float64) {
	m.PersistDuration.Observe(seconds)
}
