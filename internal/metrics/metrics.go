// Package metrics exposes Prometheus collectors for the resolution service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal       *prometheus.CounterVec
	geocodeRequestsTotal   *prometheus.CounterVec
	llmRequestsTotal       *prometheus.CounterVec
	rateLimitDelaySeconds  *prometheus.HistogramVec
	activeResolutions      prometheus.Gauge
	clustersGeneratedTotal prometheus.Counter
	harvesterFetchesTotal  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyatlas_resolutions_total",
				Help: "Total location resolutions, labeled by tier and status.",
			},
			[]string{"tier", "status"},
		)

		geocodeRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyatlas_geocode_requests_total",
				Help: "Total geocoder provider calls, labeled by provider and status.",
			},
			[]string{"provider", "status"},
		)

		llmRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyatlas_llm_requests_total",
				Help: "Total LLM calls, labeled by operation and status.",
			},
			[]string{"operation", "status"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storyatlas_rate_limit_delay_seconds",
				Help:    "Histogram of delays introduced by rate limiters, labeled by service.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"service"},
		)

		activeResolutions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storyatlas_active_resolutions",
				Help: "Number of location resolutions currently in flight.",
			},
		)

		clustersGeneratedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storyatlas_clusters_generated_total",
				Help: "Total batch clusters generated and persisted.",
			},
		)

		harvesterFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyatlas_harvester_fetches_total",
				Help: "Total harvester URL fetches, labeled by cache outcome.",
			},
			[]string{"cache"},
		)
	})
}

// ObserveResolution records a completed resolution attempt.
func ObserveResolution(tier, status string) {
	Init()
	resolutionsTotal.WithLabelValues(tier, status).Inc()
}

// ObserveGeocode records one geocoder provider call.
func ObserveGeocode(provider, status string) {
	Init()
	geocodeRequestsTotal.WithLabelValues(provider, status).Inc()
}

// ObserveLLM records one LLM call.
func ObserveLLM(operation, status string) {
	Init()
	llmRequestsTotal.WithLabelValues(operation, status).Inc()
}

// ObserveRateLimitDelay records a delay introduced by a rate limiter.
func ObserveRateLimitDelay(service string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(service).Observe(d.Seconds())
}

// ResolutionStarted increments the in-flight resolution gauge.
func ResolutionStarted() {
	Init()
	activeResolutions.Inc()
}

// ResolutionFinished decrements the in-flight resolution gauge.
func ResolutionFinished() {
	Init()
	activeResolutions.Dec()
}

// ObserveClusterGenerated counts a persisted batch cluster.
func ObserveClusterGenerated() {
	Init()
	clustersGeneratedTotal.Inc()
}

// ObserveHarvesterFetch counts a harvester fetch with its cache outcome.
func ObserveHarvesterFetch(outcome string) {
	Init()
	harvesterFetchesTotal.WithLabelValues(outcome).Inc()
}
