// Package metrics provides Prometheus metrics for the dev server.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// gapBuckets cover the pause between two relayed chunks, from token-rate
// deltas up to a stalled stream.
var gapBuckets = []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 15, 30, 60}

// Metrics holds all Prometheus metric collectors for the dev server.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	RelayChunks   *prometheus.CounterVec
	RelayBytes    *prometheus.CounterVec
	RelayOutcomes *prometheus.CounterVec
	RelayChunkGap *prometheus.HistogramVec

	knownPrefixes []string
}

// New creates a Metrics instance with a custom registry and all collectors
// registered. apiPrefix and metricsPath are the configured proxy prefix and
// scrape path; both become path labels.
func New(apiPrefix, metricsPath string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaixu_devserver_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kaixu_devserver_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kaixu_devserver_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kaixu_devserver_upstream_request_duration_seconds",
			Help:    "Time until gateway response headers arrive, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaixu_devserver_upstream_responses_total",
			Help: "Total gateway responses by method and status code.",
		}, []string{"method", "status_code"}),

		RelayChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaixu_devserver_relay_chunks_total",
			Help: "Chunks relayed from the gateway to clients.",
		}, []string{"mode"}),

		RelayBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaixu_devserver_relay_bytes_total",
			Help: "Bytes relayed from the gateway to clients.",
		}, []string{"mode"}),

		RelayOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaixu_devserver_relay_outcomes_total",
			Help: "Finished relays by mode and termination reason.",
		}, []string{"mode", "outcome"}),

		RelayChunkGap: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kaixu_devserver_relay_chunk_gap_seconds",
			Help:    "Time between consecutive relayed chunks.",
			Buckets: gapBuckets,
		}, []string{"mode"}),

		knownPrefixes: []string{apiPrefix, "/healthz", "/proxy/status", metricsPath, "/admin", "/login"},
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RelayChunks,
		m.RelayBytes,
		m.RelayOutcomes,
		m.RelayChunkGap,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// NormalizePath returns a bounded path label for Prometheus metrics. Static
// files and unknown routes share the "other" label.
func (m *Metrics) NormalizePath(path string) string {
	for _, prefix := range m.knownPrefixes {
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
