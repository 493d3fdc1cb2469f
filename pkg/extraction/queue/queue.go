// Package queue implements the bounded extraction work queue and fixed
// worker pool: completed episodes are submitted non-blockingly, run
// through the four extractors concurrently, and the resulting patterns
// are deduplicated and handed to a sink.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/extraction"
	"github.com/jordigilh/episodic-memory/pkg/logging"
	"github.com/jordigilh/episodic-memory/pkg/pattern"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers and DefaultCapacity match SPEC_FULL.md §6's
// ExtractionConfig defaults.
const (
	DefaultWorkers  = 4
	DefaultCapacity = 10000
)

// Sink receives the deduplicated patterns extracted from one episode.
// Implementations are expected to persist them (e.g. pkg/memory's
// façade wires this to the Durable backend plus the spatiotemporal
// index and effectiveness tracker).
type Sink interface {
	AcceptPatterns(ctx context.Context, ep *episode.Episode, patterns []*pattern.Pattern) error
	AcceptHeuristics(ctx context.Context, ep *episode.Episode, heuristics []*pattern.Heuristic) error
}

// job is one unit of queued work: an episode awaiting extraction.
type job struct {
	ep *episode.Episode
}

// Metrics is the set of counters the queue updates as it works;
// pkg/metrics registers a Prometheus-backed implementation.
type Metrics interface {
	ObserveQueueDepth(depth int)
	IncPatternsEmitted(n int)
	IncPatternsMerged(n int)
	IncExtractionFailure()
	IncWorkerPanic()
}

// noopMetrics discards every observation, used when the caller does not
// wire a Metrics implementation.
type noopMetrics struct{}

func (noopMetrics) ObserveQueueDepth(int)    {}
func (noopMetrics) IncPatternsEmitted(int)   {}
func (noopMetrics) IncPatternsMerged(int)    {}
func (noopMetrics) IncExtractionFailure()    {}
func (noopMetrics) IncWorkerPanic()          {}

// Queue is a bounded-channel, fixed-size worker pool. Submit never
// blocks: a full queue rejects with apperrors.Backpressure. Workers that
// panic are recovered and replaced so one bad episode cannot take down
// the pool.
type Queue struct {
	jobs    chan job
	sink    Sink
	metrics Metrics
	logger  *logrus.Entry

	workers int
	wg      sync.WaitGroup

	stopped atomic.Bool
	done    chan struct{}
}

// Config configures a Queue; zero values fall back to the spec defaults.
type Config struct {
	Workers  int
	Capacity int
	Metrics  Metrics
	Logger   *logrus.Entry
}

// New constructs and starts a Queue of cfg.Workers goroutines draining a
// channel buffered to cfg.Capacity.
func New(cfg Config, sink Sink) *Queue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	q := &Queue{
		jobs:    make(chan job, capacity),
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		workers: workers,
		done:    make(chan struct{}),
	}
	q.start()
	return q
}

func (q *Queue) start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.runWorker(i)
	}
}

// runWorker drains jobs until the queue is closed, recovering from a
// panic in any single job and restarting its own loop rather than
// letting the pool shrink.
func (q *Queue) runWorker(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.processWithRecover(j)
		}
	}
}

func (q *Queue) processWithRecover(j job) {
	defer func() {
		if r := recover(); r != nil {
			q.metrics.IncWorkerPanic()
			q.logger.WithFields(logging.EpisodeFields("extract", j.ep.ID.String()).ToLogrus()).
				Errorf("extraction worker recovered from panic: %v", r)
		}
	}()
	q.process(j)
}

func (q *Queue) process(j job) {
	ctx := context.Background()
	fields := logging.EpisodeFields("extract", j.ep.ID.String())

	candidates, err := extractAll(j.ep)
	if err != nil {
		q.metrics.IncExtractionFailure()
		q.logger.WithFields(fields.Error(err).ToLogrus()).Warn("pattern extraction failed")
		return
	}
	q.metrics.IncPatternsEmitted(len(candidates))

	deduped, err := extraction.Deduplicate(candidates)
	if err != nil {
		q.metrics.IncExtractionFailure()
		q.logger.WithFields(fields.Error(err).ToLogrus()).Warn("pattern deduplication failed")
		return
	}
	if merged := len(candidates) - len(deduped); merged > 0 {
		q.metrics.IncPatternsMerged(merged)
	}

	if err := q.sink.AcceptPatterns(ctx, j.ep, deduped); err != nil {
		q.logger.WithFields(fields.Error(err).ToLogrus()).Warn("failed to persist extracted patterns")
	}

	heuristics, err := extraction.DeriveHeuristics(candidates)
	if err != nil {
		q.logger.WithFields(fields.Error(err).ToLogrus()).Warn("heuristic derivation failed")
		return
	}
	if len(heuristics) == 0 {
		return
	}
	if err := q.sink.AcceptHeuristics(ctx, j.ep, heuristics); err != nil {
		q.logger.WithFields(fields.Error(err).ToLogrus()).Warn("failed to persist derived heuristics")
	}
}

// extractAll runs the four extractors concurrently via errgroup and
// concatenates their outputs; one extractor's error does not cancel the
// others (partial extraction is preferred over none, per at-least-once
// semantics in DESIGN.md).
func extractAll(ep *episode.Episode) ([]*pattern.Pattern, error) {
	extractors := extraction.AllExtractors()
	results := make([][]*pattern.Pattern, len(extractors))

	var g errgroup.Group
	for i, ex := range extractors {
		i, ex := i, ex
		g.Go(func() error {
			out, err := ex.Extract(ep)
			if err != nil {
				return nil // nolint:nilerr -- the error is dropped; the other extractors' results are kept
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var all []*pattern.Pattern
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// Submit enqueues ep for extraction, failing with apperrors.Backpressure
// if the queue is at capacity.
func (q *Queue) Submit(ep *episode.Episode) error {
	if q.stopped.Load() {
		return apperrors.New(apperrors.TypeBackend, "extraction queue is stopped")
	}
	select {
	case q.jobs <- job{ep: ep}:
		q.metrics.ObserveQueueDepth(len(q.jobs))
		return nil
	default:
		return apperrors.Backpressure()
	}
}

// Depth reports the current number of queued, not-yet-processed jobs.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Stop signals every worker to exit once its current job finishes and
// waits for them to drain.
func (q *Queue) Stop() {
	if !q.stopped.CompareAndSwap(false, true) {
		return
	}
	close(q.done)
	close(q.jobs)
	q.wg.Wait()
}
