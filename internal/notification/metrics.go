package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for notification dispatch.
type Metrics struct {
	Dispatched       *prometheus.CounterVec
	Failures         *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	CircuitOpen      prometheus.Gauge
}

// NewMetrics creates and registers notification metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Dispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "changeflow_notifications_dispatched_total",
			Help: "Total number of notifications handed to the transport by kind",
		}, []string{"kind"}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "changeflow_notifications_failed_total",
			Help: "Total number of notifications that could not be delivered by kind",
		}, []string{"kind"}),
		DispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "changeflow_notification_dispatch_duration_seconds",
			Help:    "Duration of notification dispatch",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		CircuitOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "changeflow_notification_circuit_open",
			Help: "1 when the notification transport circuit is open",
		}),
	}
}

func (m *Metrics) IncDispatched(kind Kind) {
	if m == nil {
		return
	}
	m.Dispatched.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) IncFailure(kind Kind) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ObserveDispatch(seconds float64) {
	if m == nil {
		return
	}
	m.DispatchDuration.Observe(seconds)
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}
