package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the poll collectors shared by every coordinator of a
// process.
type Metrics struct {
	polls       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "coordinator",
			Name:      "polls_total",
			Help:      "Fetch cycles by endpoint and result.",
		}, []string{"endpoint", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pulse",
			Subsystem: "coordinator",
			Name:      "poll_duration_seconds",
			Help:      "Duration of fetch cycles, including rate-limit waits.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"endpoint"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pulse",
			Subsystem: "coordinator",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful fetch cycle.",
		}, []string{"endpoint"}),
	}

	for _, c := range []prometheus.Collector{m.polls, m.duration, m.lastSuccess} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(endpoint string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(endpoint).Observe(took.Seconds())
	if err != nil {
		m.polls.WithLabelValues(endpoint, "error").Inc()
		return
	}
	m.polls.WithLabelValues(endpoint, "success").Inc()
	m.lastSuccess.WithLabelValues(endpoint).SetToCurrentTime()
}
