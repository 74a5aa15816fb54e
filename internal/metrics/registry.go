// Package metrics exposes the prometheus instrumentation for the fetch
// client, the micro-cache, and the evaluation pipeline. The registry owns
// its prometheus.Registry so tests can build as many instances as they like
// without duplicate-registration panics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all derivwatch metrics.
type Registry struct {
	reg *prometheus.Registry

	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	CacheEvictions    prometheus.Counter
	SingleflightWaits prometheus.Counter

	FetchAttempts *prometheus.CounterVec
	FetchRetries  prometheus.Counter
	FetchLatency  prometheus.Histogram

	LayerLevels  *prometheus.CounterVec
	ScanDuration prometheus.Histogram
}

// NewRegistry creates a registry with all derivwatch collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derivwatch_cache_hits_total",
			Help: "Total number of micro-cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derivwatch_cache_misses_total",
			Help: "Total number of micro-cache misses",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derivwatch_cache_evictions_total",
			Help: "Total number of entries removed by TTL expiry or sweep",
		}),
		SingleflightWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derivwatch_singleflight_waits_total",
			Help: "Total number of callers that awaited an in-flight fetch instead of issuing their own",
		}),

		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivwatch_fetch_attempts_total",
			Help: "Total HTTP fetch attempts by outcome",
		}, []string{"outcome"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "derivwatch_fetch_retries_total",
			Help: "Total HTTP fetch retries",
		}),
		FetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "derivwatch_fetch_latency_seconds",
			Help:    "Latency of completed HTTP fetches including retries",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),

		LayerLevels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivwatch_layer_levels_total",
			Help: "Layer evaluation outcomes by layer and level",
		}, []string{"layer", "level"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "derivwatch_scan_duration_seconds",
			Help:    "Duration of full per-asset evaluation cycles",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
	}

	r.reg.MustRegister(
		r.CacheHits,
		r.CacheMisses,
		r.CacheEvictions,
		r.SingleflightWaits,
		r.FetchAttempts,
		r.FetchRetries,
		r.FetchLatency,
		r.LayerLevels,
		r.ScanDuration,
	)

	return r
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveFetch records one completed fetch. A nil registry is a no-op so
// instrumentation stays optional.
func (r *Registry) ObserveFetch(outcome string, attempts int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.FetchAttempts.WithLabelValues(outcome).Add(float64(attempts))
	if attempts > 1 {
		r.FetchRetries.Add(float64(attempts - 1))
	}
	r.FetchLatency.Observe(elapsed.Seconds())
}

// RecordCacheHit increments the hit counter. Nil-safe.
func (r *Registry) RecordCacheHit() {
	if r != nil {
		r.CacheHits.Inc()
	}
}

// RecordCacheMiss increments the miss counter. Nil-safe.
func (r *Registry) RecordCacheMiss() {
	if r != nil {
		r.CacheMisses.Inc()
	}
}

// RecordCacheEviction adds n expired entries. Nil-safe.
func (r *Registry) RecordCacheEviction(n int) {
	if r != nil && n > 0 {
		r.CacheEvictions.Add(float64(n))
	}
}

// RecordSingleflightWait counts a caller that coalesced onto an in-flight
// fetch. Nil-safe.
func (r *Registry) RecordSingleflightWait() {
	if r != nil {
		r.SingleflightWaits.Inc()
	}
}

// RecordLayerLevel counts one layer evaluation outcome. Nil-safe.
func (r *Registry) RecordLayerLevel(layer, level string) {
	if r != nil {
		r.LayerLevels.WithLabelValues(layer, level).Inc()
	}
}

// ObserveScan records the duration of one evaluation cycle. Nil-safe.
func (r *Registry) ObserveScan(elapsed time.Duration) {
	if r != nil {
		r.ScanDuration.Observe(elapsed.Seconds())
	}
}
