package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the ingest service.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter

	upgradesTotal           *prometheus.CounterVec
	activeSessions          prometheus.Gauge
	evictionsTotal          prometheus.Counter
	transcoderExitsTotal    prometheus.Counter
	activationFailuresTotal prometheus.Counter
	ingestBytesTotal        prometheus.Counter
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaycast_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaycast_request_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	upgradesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaycast_upgrades_total",
		Help: "Total number of WebSocket upgrade attempts by outcome",
	}, []string{"outcome"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaycast_active_sessions",
		Help: "Number of live ingest sessions",
	})
	evictionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaycast_evictions_total",
		Help: "Total number of sessions evicted by the heartbeat sweep",
	})
	transcoderExitsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaycast_transcoder_exits_total",
		Help: "Total number of transcoder processes that exited while a session was live",
	})
	activationFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaycast_activation_failures_total",
		Help: "Total number of backend activation calls with a negative outcome",
	})
	ingestBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relaycast_ingest_bytes_total",
		Help: "Total number of media bytes forwarded to transcoders",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		upgradesTotal,
		activeSessions,
		evictionsTotal,
		transcoderExitsTotal,
		activationFailuresTotal,
		ingestBytesTotal,
	)

	return &Metrics{
		registry:                registry,
		requestsTotal:           requestsTotal,
		errorsTotal:             errorsTotal,
		upgradesTotal:           upgradesTotal,
		activeSessions:          activeSessions,
		evictionsTotal:          evictionsTotal,
		transcoderExitsTotal:    transcoderExitsTotal,
		activationFailuresTotal: activationFailuresTotal,
		ingestBytesTotal:        ingestBytesTotal,
	}
}

// ObserveUpgrade records the outcome of one upgrade attempt
// ("accepted", "unauthorized", "conflict", or "error").
func (m *Metrics) ObserveUpgrade(outcome string) {
	if m == nil {
		return
	}
	m.upgradesTotal.WithLabelValues(outcome).Inc()
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// SetActiveSessions overwrites the active session gauge, used to reconcile the
// gauge against the registry before a scrape.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// IncEviction counts a heartbeat-sweep eviction.
func (m *Metrics) IncEviction() {
	if m == nil {
		return
	}
	m.evictionsTotal.Inc()
}

// IncTranscoderExit counts a transcoder process exit observed by a session.
func (m *Metrics) IncTranscoderExit() {
	if m == nil {
		return
	}
	m.transcoderExitsTotal.Inc()
}

// IncActivationFailure counts a negative backend activation outcome.
func (m *Metrics) IncActivationFailure() {
	if m == nil {
		return
	}
	m.activationFailuresTotal.Inc()
}

// AddIngestBytes counts media bytes forwarded to a transcoder.
func (m *Metrics) AddIngestBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestBytesTotal.Add(float64(n))
}

func (m *Metrics) observeRequest(status int) {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
	if status >= 400 {
		m.errorsTotal.Inc()
	}
}

// Handler returns an http.Handler serving the Prometheus exposition format.
// updateGauges runs before each scrape so gauges can be reconciled against
// live state.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
