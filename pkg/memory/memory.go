// Package memory implements the façade exposed to callers:
// start/log/complete/delete/get/list episodes, hierarchical retrieval,
// administrative overrides, and health reporting, wiring together every
// lower-level package in this module.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/internal/config"
	"github.com/jordigilh/episodic-memory/pkg/codec"
	"github.com/jordigilh/episodic-memory/pkg/effectiveness"
	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/extraction/queue"
	"github.com/jordigilh/episodic-memory/pkg/index"
	"github.com/jordigilh/episodic-memory/pkg/logging"
	"github.com/jordigilh/episodic-memory/pkg/metrics"
	"github.com/jordigilh/episodic-memory/pkg/pattern"
	"github.com/jordigilh/episodic-memory/pkg/querycache"
	"github.com/jordigilh/episodic-memory/pkg/ratelimit"
	"github.com/jordigilh/episodic-memory/pkg/resilience"
	"github.com/jordigilh/episodic-memory/pkg/retrieval"
	"github.com/jordigilh/episodic-memory/pkg/reward"
	"github.com/jordigilh/episodic-memory/pkg/storage"
)

// Memory is the engine façade. Safe for concurrent use.
type Memory struct {
	cfg     *config.Config
	durable storage.Durable
	cache   storage.Cache

	breakers      *resilience.BreakerRegistry
	pool          *resilience.Pool[struct{}]
	limiter       *ratelimit.Limiter
	index         *index.Index
	queryCache    *querycache.Cache
	retriever     *retrieval.Retriever
	extraction    *queue.Queue
	effectiveness *effectiveness.Tracker
	logger        *logrus.Entry

	mu       sync.Mutex
	inflight map[uuid.UUID]*episode.Episode

	adminMu sync.Mutex
	audit   []AdminAuditEntry
}

// New constructs a Memory façade over the given durable and cache
// backends, wiring the extraction queue, retriever, rate limiter, and
// circuit breakers from cfg.
func New(cfg *config.Config, durable storage.Durable, cache storage.Cache) (*Memory, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if durable == nil {
		return nil, apperrors.InvalidInput("a durable backend is required")
	}

	logger := logrus.NewEntry(logrus.StandardLogger())

	m := &Memory{
		cfg:     cfg,
		durable: durable,
		cache:   cache,
		breakers: resilience.NewBreakerRegistry(resilience.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.OpenCooldown,
			MaxCooldown:      cfg.Breaker.MaxCooldown,
		}),
		pool: resilience.NewPool(cfg.Pool.Size, func(context.Context) (struct{}, error) {
			return struct{}{}, nil
		}, nil),
		limiter:       ratelimit.New(cfg.RateLimit.PerCallerPerSecond),
		index:         index.New(),
		queryCache:    querycache.New(cfg.Cache.QueryResultCap),
		effectiveness: effectiveness.New(),
		logger:        logger,
		inflight:      make(map[uuid.UUID]*episode.Episode),
	}

	m.retriever = retrieval.New(&durableEpisodeStore{durable: durable}, m.index, m.queryCache, retrieval.Config{
		LimitMax:                  cfg.Retrieval.LimitMax,
		DiversityLambda:           cfg.Retrieval.DiversityLambda,
		TemporalBiasWeight:        cfg.Retrieval.TemporalBiasWeight,
		EnableDiversity:           cfg.Retrieval.EnableDiversity,
		EnableSpatiotemporalIndex: cfg.Retrieval.EnableSpatiotemporalIndex,
		RecencyHalfLife:           cfg.Retrieval.RecencyHalfLife,
	}, logger).WithMetrics(metrics.RetrievalMetrics{})

	m.extraction = queue.New(queue.Config{
		Workers:  cfg.Extraction.Workers,
		Capacity: cfg.Extraction.QueueCapacity,
		Logger:   logger,
		Metrics:  metrics.QueueMetrics{},
	}, m)

	m.breakers.OnStateChange(func(change resilience.StateChange) {
		metrics.SetCircuitBreakerState(change.Operation, change.To.String())
	})

	return m, nil
}

// durableDo bounds concurrent durable-backend calls to cfg.Pool.Size
// before running fn through the per-operation circuit breaker: spec.md
// §4.2's connection pool is a capacity limiter in front of whatever
// backend is wired in (the Postgres driver keeps its own native
// connection pool; this is the façade-level admission control spec.md
// §5 describes pool handles guarding). Acquisition beyond capacity
// blocks up to cfg.Pool.AcquireTimeout before failing with Timeout.
func (m *Memory) durableDo(ctx context.Context, operation string, fn func(ctx context.Context) (any, error)) (any, error) {
	token, err := m.pool.Acquire(ctx, m.cfg.Pool.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	defer m.pool.Release(token)
	return m.breakers.Do(ctx, operation, fn)
}

// durableEpisodeStore adapts storage.Durable to retrieval.EpisodeStore.
type durableEpisodeStore struct {
	durable storage.Durable
}

func (d *durableEpisodeStore) GetEpisode(ctx context.Context, id uuid.UUID) (*episode.Episode, error) {
	return d.durable.GetEpisode(ctx, id)
}

func (d *durableEpisodeStore) ListEpisodes(ctx context.Context, filter storage.EpisodeFilter, limit, offset int) ([]*episode.Episode, error) {
	return d.durable.ListEpisodes(ctx, filter, limit, offset)
}

// StartEpisode validates and begins a new in-progress episode, staged
// in memory until CompleteEpisode commits it to durable storage.
func (m *Memory) StartEpisode(ctx context.Context, callerID, description string, taskCtx episode.TaskContext, tags []string) (*episode.Episode, error) {
	if err := m.limiter.Allow(callerID); err != nil {
		metrics.RecordRateLimitRejection()
		return nil, err
	}
	ep, err := episode.New(description, taskCtx, tags)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.inflight[ep.ID] = ep
	m.mu.Unlock()

	metrics.RecordEpisodeStarted()
	m.logger.WithFields(logging.EpisodeFields("start", ep.ID.String()).ToLogrus()).Info("episode started")
	return ep, nil
}

// LogStep appends a step to an in-progress episode.
func (m *Memory) LogStep(ctx context.Context, callerID string, episodeID uuid.UUID, step episode.ExecutionStep) error {
	if err := m.limiter.Allow(callerID); err != nil {
		metrics.RecordRateLimitRejection()
		return err
	}

	m.mu.Lock()
	ep, ok := m.inflight[episodeID]
	m.mu.Unlock()
	if !ok {
		return apperrors.NotFound(episodeID.String())
	}
	return ep.AppendStep(step)
}

// CompleteEpisode finalizes an in-progress episode with outcome,
// computes its reward and reflection, commits it to durable storage
// (with a best-effort cache populate), indexes it spatiotemporally, and
// submits it for pattern extraction.
func (m *Memory) CompleteEpisode(ctx context.Context, callerID string, episodeID uuid.UUID, outcome episode.TaskOutcome, baseline reward.Baseline) (*episode.Episode, error) {
	if err := m.limiter.Allow(callerID); err != nil {
		metrics.RecordRateLimitRejection()
		return nil, err
	}

	m.mu.Lock()
	ep, ok := m.inflight[episodeID]
	m.mu.Unlock()
	if !ok {
		return nil, apperrors.NotFound(episodeID.String())
	}

	if err := ep.Complete(outcome); err != nil {
		return nil, err
	}

	r := reward.Reward(ep, baseline)
	ep.Reward = &r
	ep.Reflection = reward.Reflect(ep)

	if err := m.commitEpisode(ctx, ep); err != nil {
		return nil, err
	}

	m.index.Insert(ep)
	m.queryCache.InvalidateDomain(ep.Context.Domain)
	metrics.RecordEpisodeCompleted(outcomeMetricLabel(outcome.Kind), ep.Duration())

	if err := m.extraction.Submit(ep); err != nil {
		m.logger.WithFields(logging.EpisodeFields("complete", ep.ID.String()).ToLogrus()).
			WithError(err).Warn("episode completed but extraction submission was rejected")
	}

	// ep stays in m.inflight (now complete) rather than being removed: a
	// second CompleteEpisode call must still find it and hit ep.Complete's
	// AlreadyComplete check, not fall through to NotFound.
	m.logger.WithFields(logging.EpisodeFields("complete", ep.ID.String()).ToLogrus()).Info("episode completed")
	return ep, nil
}

// DeleteEpisode removes an episode from durable storage, the cache
// tier, and the spatiotemporal index, invalidating any cached retrieval
// results for its domain.
func (m *Memory) DeleteEpisode(ctx context.Context, callerID string, episodeID uuid.UUID) error {
	if err := m.limiter.Allow(callerID); err != nil {
		metrics.RecordRateLimitRejection()
		return err
	}

	ep, err := m.durable.GetEpisode(ctx, episodeID)
	if err != nil {
		if apperrors.Is(err, apperrors.TypeNotFound) {
			m.mu.Lock()
			delete(m.inflight, episodeID)
			m.mu.Unlock()
			return nil
		}
		return err
	}

	if err := m.deleteEpisodeDurable(ctx, episodeID); err != nil {
		return err
	}

	m.index.Remove(episodeID)
	m.queryCache.InvalidateDomain(ep.Context.Domain)

	m.mu.Lock()
	delete(m.inflight, episodeID)
	m.mu.Unlock()

	return nil
}

// GetEpisode returns a completed or in-progress episode by id.
func (m *Memory) GetEpisode(ctx context.Context, episodeID uuid.UUID) (*episode.Episode, error) {
	m.mu.Lock()
	ep, ok := m.inflight[episodeID]
	m.mu.Unlock()
	if ok {
		return ep, nil
	}

	if m.cache != nil {
		if payload, hit, err := m.cache.Get(ctx, episodeCacheKey(episodeID)); err == nil && hit {
			if cached, decErr := codec.DecodeEpisode(payload); decErr == nil {
				metrics.RecordCacheHit("episode")
				return cached, nil
			}
		}
	}
	metrics.RecordCacheMiss("episode")

	var result *episode.Episode
	_, err := m.durableDo(ctx, "durable.get_episode", func(ctx context.Context) (any, error) {
		ep, err := m.durable.GetEpisode(ctx, episodeID)
		result = ep
		return nil, err
	})
	if err == nil && result != nil {
		m.cacheEpisodeBestEffort(ctx, result)
	}
	return result, err
}

// ListEpisodes returns episodes matching filter, optionally restricted
// to completed ones via filter.CompletedOnly (spec.md §6's
// list_episodes(limit?, offset?, completed_only?)).
func (m *Memory) ListEpisodes(ctx context.Context, filter storage.EpisodeFilter, limit, offset int) ([]*episode.Episode, error) {
	var result []*episode.Episode
	_, err := m.durableDo(ctx, "durable.list_episodes", func(ctx context.Context) (any, error) {
		eps, err := m.durable.ListEpisodes(ctx, filter, limit, offset)
		result = eps
		return nil, err
	})
	return result, err
}

// Retrieve executes a hierarchical retrieval query.
func (m *Memory) Retrieve(ctx context.Context, callerID string, q retrieval.Query) ([]retrieval.Result, error) {
	if err := m.limiter.Allow(callerID); err != nil {
		metrics.RecordRateLimitRejection()
		return nil, err
	}
	results, err := m.retriever.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		for _, pid := range r.Episode.PatternIDs {
			m.effectiveness.RecordRetrieval(pid)
		}
	}
	return results, nil
}

// AcceptPatterns implements queue.Sink: it is called by the extraction
// queue with the deduplicated patterns produced from one completed
// episode, and persists each one to durable storage.
func (m *Memory) AcceptPatterns(ctx context.Context, ep *episode.Episode, patterns []*pattern.Pattern) error {
	for _, p := range patterns {
		if err := m.commitPattern(ctx, p); err != nil {
			m.logger.WithFields(logging.PatternFields("persist", p.Kind.String(), p.ID.String()).ToLogrus()).
				WithError(err).Warn("failed to persist extracted pattern")
			continue
		}
		ep.PatternIDs = append(ep.PatternIDs, p.ID)
	}
	return nil
}

// AcceptHeuristics implements queue.Sink: it is called by the extraction
// queue with the heuristics derived from one completed episode's
// DecisionPoint and ErrorRecovery candidates, and persists each one.
func (m *Memory) AcceptHeuristics(ctx context.Context, ep *episode.Episode, heuristics []*pattern.Heuristic) error {
	for _, h := range heuristics {
		if err := m.commitHeuristic(ctx, h); err != nil {
			m.logger.WithFields(logging.EpisodeFields("persist_heuristic", ep.ID.String()).ToLogrus()).
				WithError(err).Warn("failed to persist derived heuristic")
			continue
		}
		ep.HeuristicIDs = append(ep.HeuristicIDs, h.ID)
	}
	return nil
}

// HealthReport is the SUPPLEMENTED FEATURES health detail: cache-tier
// occupancy and hit/miss counters, query-cache size, pool occupancy,
// extraction queue depth, tracked pattern count, and index size. It
// carries no circuit-breaker state.
type HealthReport struct {
	GeneratedAt       time.Time
	ExtractionQueueDepth int
	SpatiotemporalIndexSize int
	TrackedPatterns   int
	CacheStats        storage.CacheStats
	QueryCacheSize    int
	PoolStats         resilience.PoolStats
}

// Health reports the current operational state of every wired
// subsystem.
func (m *Memory) Health(ctx context.Context) (HealthReport, error) {
	report := HealthReport{
		GeneratedAt:             time.Now().UTC(),
		ExtractionQueueDepth:    m.extraction.Depth(),
		SpatiotemporalIndexSize: m.index.Len(),
		TrackedPatterns:         m.effectiveness.Len(),
		PoolStats:               m.pool.Stats(),
		QueryCacheSize:          m.queryCache.Len(),
	}
	if m.cache != nil {
		stats, err := m.cache.Stats(ctx)
		if err != nil {
			return report, err
		}
		report.CacheStats = stats
	}
	return report, nil
}

// Close stops background workers owned by this façade.
func (m *Memory) Close() {
	m.extraction.Stop()
}

// outcomeMetricLabel maps an outcome kind to the label value
// EpisodesCompletedTotal is partitioned by.
func outcomeMetricLabel(kind episode.OutcomeKind) string {
	switch kind {
	case episode.OutcomeSuccess:
		return "success"
	case episode.OutcomePartialSuccess:
		return "partial_success"
	case episode.OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}
