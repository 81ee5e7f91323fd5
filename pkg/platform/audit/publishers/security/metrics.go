package security

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for security audit emission.
type Metrics struct {
	QueueDepth        prometheus.Gauge
	Flushed           prometheus.Counter
	Dropped           prometheus.Counter
	DroppedAfterRetry prometheus.Counter
	Retries           prometheus.Counter
	FlushDuration     prometheus.Histogram
}

// NewMetrics registers the security audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bruteguard_audit_queue_depth",
			Help: "Current number of security events in the buffer",
		}),
		Flushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bruteguard_audit_flushed_total",
			Help: "Total number of security audit events successfully flushed",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "bruteguard_audit_dropped_total",
			Help: "Total number of security audit events dropped due to buffer overflow",
		}),
		DroppedAfterRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "bruteguard_audit_dropped_after_retry_total",
			Help: "Total number of security audit events dropped after exhausting retries",
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "bruteguard_audit_retries_total",
			Help: "Total number of retry attempts for security audit events",
		}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bruteguard_audit_flush_duration_seconds",
			Help:    "Time taken to flush a batch of security audit events",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) IncFlushed() {
	m.Flushed.Inc()
}

func (m *Metrics) AddDropped(n int64) {
	m.Dropped.Add(float64(n))
}

func (m *Metrics) IncDroppedAfterRetry() {
	m.DroppedAfterRetry.Inc()
}

func (m *Metrics) IncRetries() {
	m.Retries.Inc()
}

func (m *Metrics) ObserveFlushDuration(durationSeconds float64) {
	m.FlushDuration.Observe(durationSeconds)
}
