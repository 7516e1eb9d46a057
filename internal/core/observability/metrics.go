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

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	regionResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zonal_regions_total",
			Help: "Regions evaluated, by query kind and outcome.",
		},
		[]string{"query", "outcome"},
	)

	statsDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zonal_stats_duration_seconds",
			Help:    "Time spent computing statistics for one region.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"strategy"},
	)

	rastersLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zonal_rasters_loaded",
			Help: "Raster handles currently registered.",
		},
	)

	uploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zonal_upload_bytes",
			Help:    "Size of uploaded rasters in bytes.",
			Buckets: prometheus.ExponentialBuckets(64<<10, 4, 10), // 64KiB to ~16GiB
		},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache results by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Latency of cache backend operations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"op", "result"},
	)

	invalidationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Raster invalidation events by direction and result.",
		},
		[]string{"direction", "result"},
	)

	responseSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zonal_response_compose_seconds",
			Help:    "Time spent rendering a query response.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"hit_class", "format"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveRegion records one region outcome: computed, cached or outside.
func ObserveRegion(query, outcome string) {
	regionResults.WithLabelValues(query, outcome).Inc()
}

func ObserveStats(strategy string, durationSeconds float64) {
	statsDurationSeconds.WithLabelValues(strategy).Observe(durationSeconds)
}

func SetRastersLoaded(n int) {
	rastersLoaded.Set(float64(n))
}

func ObserveUpload(n int64) {
	uploadBytes.Observe(float64(n))
}

func IncCacheHit() {
	cacheResults.WithLabelValues("hit").Inc()
}

func IncCacheMiss() {
	cacheResults.WithLabelValues("miss").Inc()
}

// IncCacheSkip counts results that admission control kept out of the cache.
func IncCacheSkip() {
	cacheResults.WithLabelValues("skip").Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOpDurationSeconds.WithLabelValues(op, res).Observe(durationSeconds)
}

// IncInvalidation counts published or consumed invalidation events.
func IncInvalidation(direction, result string) {
	invalidationEvents.WithLabelValues(direction, result).Inc()
}

// ObserveResponse records how a query response was rendered and whether
// its results came from the cache.
func ObserveResponse(hitClass, format string, durationSeconds float64) {
	responseSeconds.WithLabelValues(hitClass, format).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
