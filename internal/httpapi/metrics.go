package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recurse_review"

// generationBuckets spans a fetch plus one model call; a thousand check-ins
// can keep the model busy for minutes.
var generationBuckets = []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320}

// Metrics is the /metrics registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	throttled   prometheus.Counter
	generations *prometheus.CounterVec
	genSeconds  *prometheus.HistogramVec
	shared      prometheus.Counter
	liveClients *prometheus.GaugeVec
	liveEvents  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API and page requests by route and status.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time to answer API and page requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "throttled_total",
			Help:      "Requests answered 429 by the per-client limiter.",
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journey",
			Name:      "generations_total",
			Help:      "Journey generations by outcome (ok or the failing error kind).",
		}, []string{"outcome"}),
		genSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "journey",
			Name:      "generation_duration_seconds",
			Help:      "Wall time from message fetch to stored journey.",
			Buckets:   generationBuckets,
		}, []string{"outcome"}),
		shared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journey",
			Name:      "generations_shared_total",
			Help:      "Generate calls answered by a run already in flight for the same name.",
		}),
		liveClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "clients",
			Help:      "Open journey update subscriptions.",
		}, []string{"transport"}),
		liveEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "events_total",
			Help:      "Journey updates pushed to subscribers, or dropped for a full buffer.",
		}, []string{"transport", "result"}),
	}
	m.registry.MustRegister(
		m.requests, m.latency, m.throttled,
		m.generations, m.genSeconds, m.shared,
		m.liveClients, m.liveEvents,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(dur.Seconds())
}

// ObservePipelineRun records one orchestrator call for pipeline.Observer.
func (m *Metrics) ObservePipelineRun(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome).Inc()
	m.genSeconds.WithLabelValues(outcome).Observe(dur.Seconds())
}

func (m *Metrics) IncThrottled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

func (m *Metrics) IncShared() {
	if m == nil {
		return
	}
	m.shared.Inc()
}

// TrackLiveClient counts a subscriber until the returned func is called.
func (m *Metrics) TrackLiveClient(transport string) func() {
	if m == nil {
		return func() {}
	}
	g := m.liveClients.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}

// LiveEvent records a fan-out attempt to one subscriber.
func (m *Metrics) LiveEvent(transport string, delivered bool) {
	if m == nil {
		return
	}
	result := "dropped"
	if delivered {
		result = "sent"
	}
	m.liveEvents.WithLabelValues(transport, result).Inc()
}
