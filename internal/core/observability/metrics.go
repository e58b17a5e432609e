// Package observability holds the Prometheus collectors shared by the retrieval pipeline.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~80s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of OGC service calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	wfsPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfs_pages_total",
			Help: "WFS GetFeature pages by outcome (full, short, failed, capped).",
		},
		[]string{"outcome"},
	)

	wfsFeatures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfs_features_total",
			Help: "Features seen per cleaning stage.",
		},
		[]string{"stage"},
	)

	capabilityFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capabilities_failures_total",
			Help: "GetCapabilities lookups downgraded to an empty result.",
		},
		[]string{"lookup", "reason"},
	)

	layerCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_cache_results_total",
			Help: "Capability memo lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Redis operation latency by op and result.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

// Collectors lists the pipeline collectors so a private registry can expose them too.
// Build info is left out; metrics.Provider carries its own.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		wfsPages,
		wfsFeatures,
		capabilityFailures,
		layerCacheResults,
		cacheOpDuration,
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncWFSPage(outcome string) {
	wfsPages.WithLabelValues(outcome).Inc()
}

func AddFeatures(stage string, n int) {
	if n <= 0 {
		return
	}
	wfsFeatures.WithLabelValues(stage).Add(float64(n))
}

func IncCapabilityFailure(lookup, reason string) {
	capabilityFailures.WithLabelValues(lookup, reason).Inc()
}

func IncLayerCache(tier, outcome string) {
	layerCacheResults.WithLabelValues(tier, outcome).Inc()
}

// ObserveCacheOp records one redis round trip; result is "ok" or "error".
func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpDuration.WithLabelValues(op, result).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
