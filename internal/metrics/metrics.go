// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Feed serving latency and cache efficiency
// - Candidate retrieval per source (timeouts, breaker state)
// - CDC bridge throughput, apply outcomes, poison quarantine
// - Background refreshers and retention sweeps

var (
	// Feed Serving Metrics
	FeedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Total number of feed page requests",
		},
		[]string{"served_from"}, // "cache", "live"
	)

	FeedRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_request_duration_seconds",
			Help:    "Feed assembly duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"served_from"},
	)

	FeedCandidatesFused = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_candidates_fused",
			Help:    "Number of candidates surviving fusion per live feed build",
			Buckets: []float64{0, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	FeedSeenSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_seen_suppressed_total",
			Help: "Total number of candidates dropped by the seen filter",
		},
	)

	// Candidate Source Metrics
	SourceQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "candidate_source_query_duration_seconds",
			Help:    "Duration of candidate source queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"}, // "follow", "trending", "affinity"
	)

	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candidate_source_errors_total",
			Help: "Total number of candidate source failures, degraded to empty lists",
		},
		[]string{"source", "reason"}, // reason: "timeout", "query", "breaker_open"
	)

	SourceBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "candidate_source_breaker_state",
			Help: "Per-source circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"keyspace"}, // "hot_content", "suggested_accounts", "feed", "seen"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses (absent, expired, or stale version)",
		},
		[]string{"keyspace"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"keyspace"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache evictions (TTL expiry or invalidation)",
		},
		[]string{"keyspace"},
	)

	CacheEpoch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_version_epoch",
			Help: "Current cache version epoch (increments on full invalidation)",
		},
	)

	// Bridge / Apply Metrics
	BridgeEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_published_total",
			Help: "Total number of change events republished to the stream",
		},
		[]string{"entity_type"},
	)

	BridgeEventsPoisoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_poisoned_total",
			Help: "Total number of events quarantined on the poison topic",
		},
		[]string{"entity_type", "reason"}, // reason: "validation", "apply_fatal"
	)

	ApplyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_apply_total",
			Help: "Total number of change events applied to the analytical store",
		},
		[]string{"entity_type", "operation"},
	)

	ApplyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_apply_errors_total",
			Help: "Total number of apply failures",
		},
		[]string{"entity_type", "kind"}, // kind: "transient", "fatal"
	)

	ApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "store_apply_duration_seconds",
			Help:    "Duration of single-event apply in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Refresher Metrics
	RefresherRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresher_runs_total",
			Help: "Total number of background refresher executions",
		},
		[]string{"refresher", "result"}, // result: "success", "error"
	)

	RefresherDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refresher_duration_seconds",
			Help:    "Duration of background refresher executions in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"refresher"},
	)

	RefresherLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "refresher_last_success_timestamp",
			Help: "Unix timestamp of the refresher's last successful run",
		},
		[]string{"refresher"},
	)

	// Retention Metrics
	RetentionRowsRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retention_rows_removed_total",
			Help: "Total number of rows removed by retention sweeps",
		},
	)

	RetentionSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retention_sweep_duration_seconds",
			Help:    "Duration of retention sweeps in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)
)

// RecordFeedRequest records one served feed page.
func RecordFeedRequest(servedFrom string, duration time.Duration) {
	FeedRequestsTotal.WithLabelValues(servedFrom).Inc()
	FeedRequestDuration.WithLabelValues(servedFrom).Observe(duration.Seconds())
}

// RecordSourceQuery records one candidate source query, successful or not.
func RecordSourceQuery(source string, duration time.Duration, reason string) {
	SourceQueryDuration.WithLabelValues(source).Observe(duration.Seconds())
	if reason != "" {
		SourceErrors.WithLabelValues(source, reason).Inc()
	}
}

// RecordApply records one apply attempt against the analytical store.
func RecordApply(entityType, operation string, duration time.Duration, errKind string) {
	ApplyDuration.Observe(duration.Seconds())
	if errKind != "" {
		ApplyErrors.WithLabelValues(entityType, errKind).Inc()
		return
	}
	ApplyTotal.WithLabelValues(entityType, operation).Inc()
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRefresherRun records one refresher execution.
func RecordRefresherRun(name string, duration time.Duration, err error) {
	RefresherDuration.WithLabelValues(name).Observe(duration.Seconds())
	if err != nil {
		RefresherRuns.WithLabelValues(name, "error").Inc()
		return
	}
	RefresherRuns.WithLabelValues(name, "success").Inc()
	RefresherLastSuccess.WithLabelValues(name).SetToCurrentTime()
}

// RecordRetentionSweep records one retention sweep.
func RecordRetentionSweep(rowsRemoved int64, duration time.Duration) {
	RetentionRowsRemoved.Add(float64(rowsRemoved))
	RetentionSweepDuration.Observe(duration.Seconds())
}
