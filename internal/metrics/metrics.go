// Package metrics registers the proxy's Prometheus collectors, including
// per-method/cache-status and per-upstream breakdowns, and mirrors the
// headline counters into the plain-struct snapshot the /health JSON
// endpoint reports. The breakdowns are exposed on /metrics only.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector plus the atomic counters the /health
// endpoint reads directly (Prometheus vectors aren't cheap to read back
// synchronously on every health check, so the headline numbers are kept
// in plain int64s updated alongside the vectors).
type Metrics struct {
	CacheHits         *prometheus.CounterVec // status=hit|stale
	CacheMisses       prometheus.Counter
	TotalRequests     prometheus.Counter
	CoalescedRequests prometheus.Counter
	StaleServed       prometheus.Counter
	NegativeCacheHits prometheus.Counter
	LockContentions       prometheus.Counter
	UpstreamErrors        prometheus.Counter
	UpstreamAttemptErrors prometheus.Counter
	BreakerRejections     prometheus.Counter

	RequestsByMethodStatus *prometheus.CounterVec   // method,cache_status
	UpstreamDuration       *prometheus.HistogramVec // url

	cacheHits             int64
	cacheMisses           int64
	totalRequests         int64
	coalescedRequests     int64
	staleServed           int64
	negativeCacheHits     int64
	lockContentions       int64
	upstreamErrors        int64
	upstreamAttemptErrors int64
	breakerRejections     int64
}

// New constructs and registers every collector. registerer is typically
// prometheus.DefaultRegisterer; tests may pass a fresh
// prometheus.NewRegistry() to avoid collisions across runs.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_cache_hits_total",
			Help: "Cache hits by freshness",
		}, []string{"status"}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_cache_misses_total",
			Help: "Total cache misses",
		}),
		TotalRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_requests_total",
			Help: "Total JSON-RPC requests handled",
		}),
		CoalescedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_coalesced_requests_total",
			Help: "Requests that subscribed to an in-flight fetch instead of triggering their own",
		}),
		StaleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_stale_served_total",
			Help: "Responses served from a stale cache entry",
		}),
		NegativeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_negative_cache_hits_total",
			Help: "Requests short-circuited by a negative cache entry",
		}),
		LockContentions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_lock_contentions_total",
			Help: "Distributed lock acquisitions that failed after all retries, after which the fetch proceeds unlocked",
		}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_upstream_errors_total",
			Help: "Upstream calls that failed after exhausting retries/failover",
		}),
		UpstreamAttemptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_upstream_attempt_errors_total",
			Help: "Individual per-URL, per-retry attempts that failed, regardless of whether the overall call eventually succeeded elsewhere",
		}),
		BreakerRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_circuit_breaker_rejections_total",
			Help: "Calls rejected because the circuit breaker was open",
		}),
		RequestsByMethodStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_cache_requests_total",
			Help: "Requests by method and cache status",
		}, []string{"method", "cache_status"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpc_upstream_request_duration_seconds",
			Help:    "Upstream call latency by URL",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}, []string{"url"}),
	}

	registerer.MustRegister(
		m.CacheHits,
		m.CacheMisses,
		m.TotalRequests,
		m.CoalescedRequests,
		m.StaleServed,
		m.NegativeCacheHits,
		m.LockContentions,
		m.UpstreamErrors,
		m.UpstreamAttemptErrors,
		m.BreakerRejections,
		m.RequestsByMethodStatus,
		m.UpstreamDuration,
	)

	return m
}

func (m *Metrics) RecordRequest(method, cacheStatus string) {
	atomic.AddInt64(&m.totalRequests, 1)
	m.TotalRequests.Inc()
	m.RequestsByMethodStatus.WithLabelValues(method, cacheStatus).Inc()

	switch cacheStatus {
	case "hit":
		atomic.AddInt64(&m.cacheHits, 1)
		m.CacheHits.WithLabelValues("hit").Inc()
	case "stale":
		atomic.AddInt64(&m.cacheHits, 1)
		atomic.AddInt64(&m.staleServed, 1)
		m.CacheHits.WithLabelValues("stale").Inc()
		m.StaleServed.Inc()
	case "miss":
		atomic.AddInt64(&m.cacheMisses, 1)
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) RecordCoalesced() {
	atomic.AddInt64(&m.coalescedRequests, 1)
	m.CoalescedRequests.Inc()
}

func (m *Metrics) RecordNegativeHit() {
	atomic.AddInt64(&m.negativeCacheHits, 1)
	m.NegativeCacheHits.Inc()
}

func (m *Metrics) RecordLockContention() {
	atomic.AddInt64(&m.lockContentions, 1)
	m.LockContentions.Inc()
}

// RecordUpstreamError counts a logical upstream resolution failure: a
// call that failed after exhausting every URL and retry.
func (m *Metrics) RecordUpstreamError() {
	atomic.AddInt64(&m.upstreamErrors, 1)
	m.UpstreamErrors.Inc()
}

// RecordUpstreamAttemptError counts a single failed per-URL, per-retry
// attempt, independent of whether the call ultimately succeeded
// elsewhere.
func (m *Metrics) RecordUpstreamAttemptError() {
	atomic.AddInt64(&m.upstreamAttemptErrors, 1)
	m.UpstreamAttemptErrors.Inc()
}

func (m *Metrics) RecordBreakerRejection() {
	atomic.AddInt64(&m.breakerRejections, 1)
	m.BreakerRejections.Inc()
}

func (m *Metrics) ObserveUpstreamDuration(url string, seconds float64) {
	m.UpstreamDuration.WithLabelValues(url).Observe(seconds)
}

// Snapshot is the plain-struct shape embedded in the /health response's
// "metrics" field.
type Snapshot struct {
	CacheHits         int64   `json:"cacheHits"`
	CacheMisses       int64   `json:"cacheMisses"`
	TotalRequests     int64   `json:"totalRequests"`
	CacheHitRate      float64 `json:"cacheHitRate"`
	CoalescedRequests int64   `json:"coalescedRequests"`
	StaleServed       int64   `json:"staleServed"`
	NegativeCacheHits int64   `json:"negativeCacheHits"`
	LockContentions       int64 `json:"lockContentions"`
	UpstreamErrors        int64 `json:"upstreamErrors"`
	UpstreamAttemptErrors int64 `json:"upstreamAttemptErrors"`
	CircuitBreakerRejections int64 `json:"circuitBreakerRejections"`
}

// ResetSnapshot zeroes the plain atomic counters the /health JSON
// metrics object reports, for POST /cache/flush's "resets metrics"
// contract. The underlying Prometheus collectors are left
// untouched — Prometheus counters are monotonic by convention, and a
// client scraping across a flush should still see a consistent total,
// not a drop that looks like a crash-and-restart.
func (m *Metrics) ResetSnapshot() {
	atomic.StoreInt64(&m.cacheHits, 0)
	atomic.StoreInt64(&m.cacheMisses, 0)
	atomic.StoreInt64(&m.totalRequests, 0)
	atomic.StoreInt64(&m.coalescedRequests, 0)
	atomic.StoreInt64(&m.staleServed, 0)
	atomic.StoreInt64(&m.negativeCacheHits, 0)
	atomic.StoreInt64(&m.lockContentions, 0)
	atomic.StoreInt64(&m.upstreamErrors, 0)
	atomic.StoreInt64(&m.upstreamAttemptErrors, 0)
	atomic.StoreInt64(&m.breakerRejections, 0)
}

func (m *Metrics) Snapshot() Snapshot {
	hits := atomic.LoadInt64(&m.cacheHits)
	misses := atomic.LoadInt64(&m.cacheMisses)
	total := atomic.LoadInt64(&m.totalRequests)

	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}

	return Snapshot{
		CacheHits:                hits,
		CacheMisses:              misses,
		TotalRequests:            total,
		CacheHitRate:             rate,
		CoalescedRequests:        atomic.LoadInt64(&m.coalescedRequests),
		StaleServed:              atomic.LoadInt64(&m.staleServed),
		NegativeCacheHits:        atomic.LoadInt64(&m.negativeCacheHits),
		LockContentions:          atomic.LoadInt64(&m.lockContentions),
		UpstreamErrors:           atomic.LoadInt64(&m.upstreamErrors),
		UpstreamAttemptErrors:    atomic.LoadInt64(&m.upstreamAttemptErrors),
		CircuitBreakerRejections: atomic.LoadInt64(&m.breakerRejections),
	}
}
