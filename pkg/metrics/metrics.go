// Package metrics exposes the Prometheus instrumentation listed in
// SPEC_FULL.md §2's component table: episode lifecycle counters, circuit breaker state, cache
// hit rate, extraction queue depth, and pattern decay-sweep activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EpisodesStartedTotal counts episodes opened via StartEpisode.
	EpisodesStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "episodic_memory_episodes_started_total",
		Help: "Total number of episodes started.",
	})

	// EpisodesCompletedTotal counts episodes finalized via
	// CompleteEpisode, labeled by outcome kind.
	EpisodesCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "episodic_memory_episodes_completed_total",
		Help: "Total number of episodes completed, labeled by outcome.",
	}, []string{"outcome"})

	// EpisodeDuration observes wall-clock episode duration in seconds.
	EpisodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "episodic_memory_episode_duration_seconds",
		Help:    "Duration of completed episodes in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// RetrievalsTotal counts Retrieve calls, labeled by whether the
	// query-result cache served the request.
	RetrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "episodic_memory_retrievals_total",
		Help: "Total number of retrieval queries, labeled by cache outcome.",
	}, []string{"cache"})

	// RetrievalDuration observes retrieval latency in seconds.
	RetrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "episodic_memory_retrieval_duration_seconds",
		Help:    "Duration of retrieval queries in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// PatternsExtractedTotal counts patterns emitted by extraction,
	// labeled by pattern kind.
	PatternsExtractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "episodic_memory_patterns_extracted_total",
		Help: "Total number of patterns extracted, labeled by kind.",
	}, []string{"kind"})

	// PatternsMergedTotal counts deduplication merges.
	PatternsMergedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "episodic_memory_patterns_merged_total",
		Help: "Total number of patterns merged during deduplication.",
	})

	// ExtractionQueueDepth reports the current number of queued
	// extraction jobs.
	ExtractionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "episodic_memory_extraction_queue_depth",
		Help: "Current depth of the pattern extraction queue.",
	})

	// ExtractionFailuresTotal counts episodes for which extraction
	// produced an error (partial or total).
	ExtractionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "episodic_memory_extraction_failures_total",
		Help: "Total number of extraction jobs that encountered an error.",
	})

	// ExtractionWorkerPanicsTotal counts recovered worker panics.
	ExtractionWorkerPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "episodic_memory_extraction_worker_panics_total",
		Help: "Total number of panics recovered in extraction workers.",
	})

	// CircuitBreakerState reports the current state of a named circuit
	// breaker: 0=closed, 1=half-open, 2=open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "episodic_memory_circuit_breaker_state",
		Help: "Current circuit breaker state per operation (0=closed, 1=half-open, 2=open).",
	}, []string{"operation"})

	// CacheHitsTotal and CacheMissesTotal track the query-result cache
	// hit rate, labeled by tier (query_result, episode).
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "episodic_memory_cache_hits_total",
		Help: "Total number of cache hits, labeled by tier.",
	}, []string{"tier"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "episodic_memory_cache_misses_total",
		Help: "Total number of cache misses, labeled by tier.",
	}, []string{"tier"})

	// DecaySweepPatternsTotal counts patterns whose EWMA reward was
	// decayed in a single effectiveness decay sweep.
	DecaySweepPatternsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "episodic_memory_decay_sweep_patterns_total",
		Help: "Total number of pattern entries decayed across all sweeps.",
	})

	// RateLimitRejectionsTotal counts calls rejected by the per-caller
	// rate limiter.
	RateLimitRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "episodic_memory_rate_limit_rejections_total",
		Help: "Total number of calls rejected by the rate limiter.",
	})
)

// RecordEpisodeStarted increments the episode-started counter.
func RecordEpisodeStarted() {
	EpisodesStartedTotal.Inc()
}

// RecordEpisodeCompleted increments the episode-completed counter for
// outcome and observes duration.
func RecordEpisodeCompleted(outcome string, duration time.Duration) {
	EpisodesCompletedTotal.WithLabelValues(outcome).Inc()
	EpisodeDuration.Observe(duration.Seconds())
}

// RecordRetrieval increments the retrieval counter for the given cache
// outcome ("hit" or "miss") and observes latency.
func RecordRetrieval(cacheOutcome string, duration time.Duration) {
	RetrievalsTotal.WithLabelValues(cacheOutcome).Inc()
	RetrievalDuration.Observe(duration.Seconds())
}

// RecordPatternExtracted increments the patterns-extracted counter for
// kind.
func RecordPatternExtracted(kind string) {
	PatternsExtractedTotal.WithLabelValues(kind).Inc()
}

// RecordPatternMerged increments the patterns-merged counter.
func RecordPatternMerged() {
	PatternsMergedTotal.Inc()
}

// SetExtractionQueueDepth sets the current extraction queue depth
// gauge.
func SetExtractionQueueDepth(depth int) {
	ExtractionQueueDepth.Set(float64(depth))
}

// RecordExtractionFailure increments the extraction-failure counter.
func RecordExtractionFailure() {
	ExtractionFailuresTotal.Inc()
}

// RecordExtractionWorkerPanic increments the worker-panic counter.
func RecordExtractionWorkerPanic() {
	ExtractionWorkerPanicsTotal.Inc()
}

// breakerStateValue maps a circuit breaker state name to its gauge
// value, matching gobreaker's own state ordering.
func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// SetCircuitBreakerState sets the breaker state gauge for operation.
func SetCircuitBreakerState(operation, state string) {
	CircuitBreakerState.WithLabelValues(operation).Set(breakerStateValue(state))
}

// RecordCacheHit and RecordCacheMiss increment per-tier cache counters.
func RecordCacheHit(tier string) {
	CacheHitsTotal.WithLabelValues(tier).Inc()
}

func RecordCacheMiss(tier string) {
	CacheMissesTotal.WithLabelValues(tier).Inc()
}

// RecordDecaySweep adds the number of entries decayed in one sweep.
func RecordDecaySweep(count int) {
	DecaySweepPatternsTotal.Add(float64(count))
}

// RecordRateLimitRejection increments the rate-limit-rejection counter.
func RecordRateLimitRejection() {
	RateLimitRejectionsTotal.Inc()
}

// Timer measures elapsed wall-clock duration for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the duration since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordRetrieval observes the timer's elapsed duration as a retrieval
// latency sample for cacheOutcome.
func (t *Timer) RecordRetrieval(cacheOutcome string) {
	RecordRetrieval(cacheOutcome, t.Elapsed())
}

// RecordEpisodeCompleted observes the timer's elapsed duration as an
// episode-duration sample for outcome.
func (t *Timer) RecordEpisodeCompleted(outcome string) {
	RecordEpisodeCompleted(outcome, t.Elapsed())
}

// QueueMetrics adapts the package-level extraction counters to the
// pkg/extraction/queue.Metrics interface so Queue can be constructed
// with Prometheus-backed observation without that package importing
// pkg/metrics directly.
type QueueMetrics struct{}

func (QueueMetrics) ObserveQueueDepth(depth int) { SetExtractionQueueDepth(depth) }
func (QueueMetrics) IncPatternsEmitted(n int) {
	for i := 0; i < n; i++ {
		PatternsExtractedTotal.WithLabelValues("unclassified").Inc()
	}
}
func (QueueMetrics) IncPatternsMerged(n int)  { PatternsMergedTotal.Add(float64(n)) }
func (QueueMetrics) IncExtractionFailure()    { ExtractionFailuresTotal.Inc() }
func (QueueMetrics) IncWorkerPanic()          { ExtractionWorkerPanicsTotal.Inc() }

// RetrievalMetrics adapts the package-level retrieval counters to the
// pkg/retrieval.Metrics interface, keeping that package free of a direct
// dependency on Prometheus.
type RetrievalMetrics struct{}

func (RetrievalMetrics) RecordRetrieval(cacheOutcome string, duration time.Duration) {
	RecordRetrieval(cacheOutcome, duration)
	if cacheOutcome == "hit" {
		RecordCacheHit("query_result")
	} else {
		RecordCacheMiss("query_result")
	}
}
