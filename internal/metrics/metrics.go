// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheLookupsTotal    *prometheus.CounterVec
	cacheLoadsTotal      *prometheus.CounterVec
	lockContentionTotal  prometheus.Counter
	mutationsTotal       *prometheus.CounterVec
	eventsPublishedTotal *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec

	metricsOnce       sync.Once
	metricsRegistered bool
)

// Cache lookup outcomes.
const (
	OutcomeHit  = "hit"
	OutcomeMiss = "miss"
)

// Cache load modes.
const (
	LoadLocked   = "locked"   // loaded while holding the fill lock
	LoadDegraded = "degraded" // loaded without caching after contention or backend failure
	LoadStale    = "stale"    // loaded under the lock but discarded after an invalidation
)

// InitMetrics registers all collectors with the default registry. It is safe
// to call more than once. Until it is called every Record* function is a no-op.
func InitMetrics() {
	metricsOnce.Do(func() {
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confhub_cache_lookups_total",
				Help: "Cache lookups by outcome",
			},
			[]string{"outcome"},
		)

		cacheLoadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confhub_cache_loads_total",
				Help: "Backing-store loads triggered by cache misses",
			},
			[]string{"mode"},
		)

		lockContentionTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "confhub_cache_lock_contention_total",
				Help: "Fill-lock acquisition attempts that found the lock held",
			},
		)

		mutationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confhub_config_mutations_total",
				Help: "Committed config item mutations by change type",
			},
			[]string{"change_type"},
		)

		eventsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confhub_events_published_total",
				Help: "Change events handed to the transport by result",
			},
			[]string{"result"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confhub_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "status"},
		)

		metricsRegistered = true
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheLookup counts a cache lookup.
func RecordCacheLookup(outcome string) {
	if !metricsRegistered {
		return
	}
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheLoad counts a backing-store load.
func RecordCacheLoad(mode string) {
	if !metricsRegistered {
		return
	}
	cacheLoadsTotal.WithLabelValues(mode).Inc()
}

// RecordLockContention counts a failed fill-lock acquisition attempt.
func RecordLockContention() {
	if !metricsRegistered {
		return
	}
	lockContentionTotal.Inc()
}

// RecordMutation counts a committed mutation.
func RecordMutation(changeType string) {
	if !metricsRegistered {
		return
	}
	mutationsTotal.WithLabelValues(changeType).Inc()
}

// RecordEventPublished counts a publish attempt; result is "ok", "error" or "dropped".
func RecordEventPublished(result string) {
	if !metricsRegistered {
		return
	}
	eventsPublishedTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records the latency of one HTTP request.
func ObserveHTTPRequest(method, status string, seconds float64) {
	if !metricsRegistered {
		return
	}
	httpRequestDuration.WithLabelValues(method, status).Observe(seconds)
}
