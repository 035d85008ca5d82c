package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent
type Metrics struct {
	// Loop metrics
	TicksTotal   *prometheus.CounterVec
	TickDuration *prometheus.HistogramVec
	StepErrors   *prometheus.CounterVec

	// Output metrics
	PostsPublished  prometheus.Counter
	RepliesSent     prometheus.Counter
	MentionsFetched prometheus.Counter
	Branches        *prometheus.CounterVec

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// State gauges
	Watermark      prometheus.Gauge
	PersonaVersion *prometheus.GaugeVec

	EventsPublished *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			TicksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arcfork_ticks_total",
					Help: "Loop iterations by dispatched action",
				},
				[]string{"action"},
			),
			TickDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "arcfork_tick_duration_seconds",
					Help:    "Time spent in a dispatched action, excluding the sleep",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
				},
				[]string{"action"},
			),
			StepErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arcfork_step_errors_total",
					Help: "Failed steps by path and step",
				},
				[]string{"path", "step"},
			),
			PostsPublished: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "arcfork_posts_published_total",
					Help: "Original posts published",
				},
			),
			RepliesSent: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "arcfork_replies_sent_total",
					Help: "Replies sent to mentions",
				},
			),
			MentionsFetched: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "arcfork_mentions_fetched_total",
					Help: "Mentions returned by the social platform",
				},
			),
			Branches: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arcfork_persona_branches_total",
					Help: "Persona branch attempts by result",
				},
				[]string{"result"},
			),
			ProviderRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arcfork_provider_requests_total",
					Help: "Completion and embedding requests",
				},
				[]string{"kind", "success"},
			),
			ProviderLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "arcfork_provider_latency_seconds",
					Help:    "Completion and embedding latency in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"kind"},
			),
			Watermark: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "arcfork_mention_watermark",
					Help: "Highest mention id seen",
				},
			),
			PersonaVersion: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "arcfork_persona_version",
					Help: "Version of the running persona",
				},
				[]string{"persona"},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arcfork_events_published_total",
					Help: "Total number of events published",
				},
				[]string{"event_type"},
			),
		}
	})

	return sharedMetrics
}

// RecordProviderRequest records a completion or embedding call
func (m *Metrics) RecordProviderRequest(kind string, success bool, latency time.Duration) {
	successStr := "false"
	if success {
		successStr = "true"
	}
	m.ProviderRequests.WithLabelValues(kind, successStr).Inc()
	m.ProviderLatency.WithLabelValues(kind).Observe(latency.Seconds())
}

// RecordStepError records a failed step on a loop path
func (m *Metrics) RecordStepError(path, step string) {
	m.StepErrors.WithLabelValues(path, step).Inc()
}

// RecordTick records one dispatched action
func (m *Metrics) RecordTick(action string, duration time.Duration) {
	m.TicksTotal.WithLabelValues(action).Inc()
	m.TickDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
