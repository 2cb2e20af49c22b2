// Package observability holds the process-wide Prometheus collectors for the
// engine and small helpers to record into them.
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
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Resource cache results by tier, policy and outcome.",
		},
		[]string{"tier", "policy", "outcome"},
	)

	cacheTiersPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_tiers_purged_total",
			Help: "Stale cache tiers deleted on activation.",
		},
	)

	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_store_op_total",
			Help: "Byte-store operations by backend, op and result.",
		},
		[]string{"backend", "op", "result"},
	)

	storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_store_op_duration_seconds",
			Help:    "Byte-store operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"backend", "op"},
	)

	retryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Retried operation attempts by operation and result.",
		},
		[]string{"op", "result"},
	)

	viewportDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewport_decisions_total",
			Help: "Viewport coordinator decisions.",
		},
		[]string{"decision"},
	)

	poiFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poi_fetch_duration_seconds",
			Help:    "Duration of viewport point-of-interest fetches.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"result"},
	)

	knownPoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poi_known_points",
			Help: "Points in the most recently committed point set.",
		},
	)

	declutterPoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "declutter_points_total",
			Help: "Declutter filter outcomes per point.",
		},
		[]string{"outcome"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncCacheResult(tier, policy, outcome string) {
	cacheResults.WithLabelValues(tier, policy, outcome).Inc()
}

func AddTiersPurged(n int) {
	if n > 0 {
		cacheTiersPurged.Add(float64(n))
	}
}

func ObserveStoreOp(backend, op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	storeOps.WithLabelValues(backend, op, res).Inc()
	storeOpDuration.WithLabelValues(backend, op).Observe(durationSeconds)
}

func IncRetryAttempt(op, result string) {
	if op == "" {
		op = "unnamed"
	}
	retryAttempts.WithLabelValues(op, result).Inc()
}

func IncViewportDecision(decision string) {
	viewportDecisions.WithLabelValues(decision).Inc()
}

func ObservePOIFetch(ok bool, durationSeconds float64, points int) {
	res := "ok"
	if !ok {
		res = "error"
	}
	poiFetchDuration.WithLabelValues(res).Observe(durationSeconds)
	knownPoints.Set(float64(points))
}

func AddDeclutter(kept, zoomFiltered, suppressed int) {
	if kept > 0 {
		declutterPoints.WithLabelValues("kept").Add(float64(kept))
	}
	if zoomFiltered > 0 {
		declutterPoints.WithLabelValues("zoom_filtered").Add(float64(zoomFiltered))
	}
	if suppressed > 0 {
		declutterPoints.WithLabelValues("suppressed").Add(float64(suppressed))
	}
}
