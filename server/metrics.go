package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one server on a private registry,
// so several servers (as in tests) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	RenderDuration prometheus.Histogram
	MemesSaved     prometheus.Counter
	SaveFailures   prometheus.Counter
	ShareOutcomes  *prometheus.CounterVec
	Sessions       prometheus.Gauge
}

// NewMetrics creates and registers the server collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent compositing captions onto an image",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		MemesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memes_saved_total",
			Help:      "Memes saved to the library",
		}),
		SaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meme_save_failures_total",
			Help:      "Saves rejected by the library",
		}),
		ShareOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "share_outcomes_total",
				Help:      "Completed share prompts by outcome",
			},
			[]string{"outcome"},
		),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Editing sessions currently open",
		}),
	}

	m.registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.RenderDuration,
		m.MemesSaved,
		m.SaveFailures,
		m.ShareOutcomes,
		m.Sessions,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
