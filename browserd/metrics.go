package browserd

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the browserd Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	sessionsActive prometheus.Gauge
	evicted        *prometheus.CounterVec
	requests       *prometheus.CounterVec
	capture        *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "browserd_sessions_active",
			Help: "Live stateful sessions.",
		}),
		evicted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "browserd_sessions_evicted_total",
			Help: "Sessions closed, by reason.",
		}, []string{"reason"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "browserd_requests_total",
			Help: "Service operations by outcome.",
		}, []string{"op", "outcome"}),
		capture: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "browserd_capture_seconds",
			Help:    "Wall time of successful captures.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"op"}),
	}
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) sessionClosed(reason string) {
	if m == nil {
		return
	}
	m.evicted.WithLabelValues(reason).Inc()
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, outcome(err)).Inc()
	if err == nil {
		m.capture.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
