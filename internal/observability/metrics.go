package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenWeatherMap call rate by endpoint and outcome. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream latency per call. Watch for: p95 approaching the client timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Cache hits per operation (current, forecast).
	CacheHitsTotal *prometheus.CounterVec

	// Cache misses per operation; each miss is one upstream call.
	CacheMissesTotal *prometheus.CounterVec

	// Cache store failures by op (get, set). Treated as misses; requests still succeed.
	CacheStoreErrorsTotal *prometheus.CounterVec

	// Concurrent misses on the same key. Watch for: hot keys expiring under load.
	CacheStampedeTotal *prometheus.CounterVec

	// Gateway failures by operation and failure kind.
	GatewayErrorsTotal *prometheus.CounterVec

	// Startup cache warm outcomes (success, error).
	CacheWarmTotal *prometheus.CounterVec

	// Upstream circuit breaker transitions. Watch for: repeated closed -> open flapping.
	BreakerTransitionsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of fresh cache hits",
		},
		[]string{"operation"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses (absent or expired)",
		},
		[]string{"operation"},
	)
	CacheStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStoreErrorsTotal",
			Help: "Cache backend failures; treated as misses",
		},
		[]string{"op"},
	)
	CacheStampedeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeTotal",
			Help: "Cache misses that found another fetch for the same key already in progress",
		},
		[]string{"operation"},
	)
	GatewayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherGatewayErrorsTotal",
			Help: "Gateway operation failures by failure kind",
		},
		[]string{"operation", "kind"},
	)
	CacheWarmTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheWarmTotal",
			Help: "Cities fetched by the startup cache warm",
		},
		[]string{"result"},
	)
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamBreakerTransitionsTotal",
			Help: "OpenWeatherMap circuit breaker state changes",
		},
		[]string{"from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration,
		CacheHitsTotal, CacheMissesTotal, CacheStoreErrorsTotal, CacheStampedeTotal,
		GatewayErrorsTotal, CacheWarmTotal, BreakerTransitionsTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
