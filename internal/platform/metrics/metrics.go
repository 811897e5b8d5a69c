package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the CMCD dispatcher and
// the collector.
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	reportsTotal           prometheus.Counter
	starvationReportsTotal prometheus.Counter
	activeSessions         prometheus.Gauge
	decoratedRequestsTotal *prometheus.CounterVec
	derivationErrorsTotal  *prometheus.CounterVec
	stallsTotal            prometheus.Counter
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmcd_http_requests_total",
		Help: "Total number of HTTP requests received by the collector",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmcd_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	reportsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmcd_reports_total",
		Help: "Total number of CMCD payloads accepted by the collector",
	})
	starvationReportsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmcd_buffer_starvation_reports_total",
		Help: "Total number of CMCD payloads reporting buffer starvation",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cmcd_active_sessions",
		Help: "Number of collector sessions that are not ended",
	})
	decoratedRequestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmcd_decorated_requests_total",
		Help: "Total number of outgoing requests decorated with CMCD data",
	}, []string{"mode", "object_type"})
	derivationErrorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cmcd_derivation_errors_total",
		Help: "Total number of failures while deriving CMCD fields",
	}, []string{"category"})
	stallsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cmcd_playback_stalls_total",
		Help: "Total number of rebuffering events after playback started",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		reportsTotal,
		starvationReportsTotal,
		activeSessions,
		decoratedRequestsTotal,
		derivationErrorsTotal,
		stallsTotal,
	)

	return &Metrics{
		registry:               registry,
		requestsTotal:          requestsTotal,
		errorsTotal:            errorsTotal,
		reportsTotal:           reportsTotal,
		starvationReportsTotal: starvationReportsTotal,
		activeSessions:         activeSessions,
		decoratedRequestsTotal: decoratedRequestsTotal,
		derivationErrorsTotal:  derivationErrorsTotal,
		stallsTotal:            stallsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncReports increments the accepted CMCD payload counter.
func (m *Metrics) IncReports() {
	m.reportsTotal.Inc()
}

// IncStarvationReports increments the buffer starvation report counter.
func (m *Metrics) IncStarvationReports() {
	m.starvationReportsTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// IncDecorated counts a request decorated in the given delivery mode.
// objectType is empty for requests without an "ot" key.
func (m *Metrics) IncDecorated(mode, objectType string) {
	if objectType == "" {
		objectType = "none"
	}
	m.decoratedRequestsTotal.WithLabelValues(mode, objectType).Inc()
}

// IncDerivationErrors counts a derivation failure in category.
func (m *Metrics) IncDerivationErrors(category string) {
	m.derivationErrorsTotal.WithLabelValues(category).Inc()
}

// IncStalls counts a stall after playback started.
func (m *Metrics) IncStalls() {
	m.stallsTotal.Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
