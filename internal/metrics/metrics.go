// Package metrics provides Prometheus instrumentation for the service
// gateway. All collectors are registered by Init and exposed through
// Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts requests by route pattern, method and status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total HTTP requests processed",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration observes request latency in seconds by route pattern and method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// ActiveRequests tracks the number of in-flight forwarded requests.
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_requests",
			Help: "Number of requests currently waiting on a backend",
		},
	)

	// ForwardOutcomes counts forwarding results by backend and outcome kind.
	ForwardOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_forward_outcomes_total",
			Help: "Forwarding outcomes by backend and kind",
		},
		[]string{"backend", "outcome"},
	)

	// HealthProbeStatus is 1 when the last probe found the backend healthy,
	// 0 when unhealthy and -1 when unreachable.
	HealthProbeStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_health_probe_status",
			Help: "Last health probe result per backend (1 healthy, 0 unhealthy, -1 unreachable)",
		},
		[]string{"backend"},
	)

	// RateLimitHits counts rate limit rejections by path.
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
		[]string{"route"},
	)
)

// Collectors returns every gateway collector.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RequestDuration,
		ActiveRequests,
		ForwardOutcomes,
		HealthProbeStatus,
		RateLimitHits,
	}
}

// Init registers all collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(Collectors()...)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
