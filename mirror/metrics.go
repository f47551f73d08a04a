package mirror

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the mirrord Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	refreshes *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	backoff   *prometheus.GaugeVec
	streams   prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_refresh_total",
			Help: "Site refreshes by outcome (ok, partial, failed, skipped).",
		}, []string{"site", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_refresh_seconds",
			Help:    "Adapter wall time per refresh.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"site"}),
		backoff: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mirror_backoff_seconds",
			Help: "Delay until the next scheduled refresh of a site.",
		}, []string{"site"}),
		streams: f.NewGauge(prometheus.GaugeOpts{
			Name: "mirror_stream_clients",
			Help: "Open snapshot websocket streams.",
		}),
	}
}

func (m *Metrics) refreshed(site, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(site, outcome).Inc()
	if outcome != outcomeSkipped {
		m.duration.WithLabelValues(site).Observe(d.Seconds())
	}
}

func (m *Metrics) scheduled(site string, delay time.Duration, _ int) {
	if m == nil {
		return
	}
	m.backoff.WithLabelValues(site).Set(delay.Seconds())
}

func (m *Metrics) streamDelta(n int) {
	if m == nil {
		return
	}
	m.streams.Add(float64(n))
}
