package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/index"
	"github.com/jordigilh/episodic-memory/pkg/logging"
	"github.com/jordigilh/episodic-memory/pkg/querycache"
	"github.com/jordigilh/episodic-memory/pkg/storage"
)

// EpisodeStore is the minimal read surface Retriever needs from the
// durable backend.
type EpisodeStore interface {
	GetEpisode(ctx context.Context, id uuid.UUID) (*episode.Episode, error)
	ListEpisodes(ctx context.Context, filter storage.EpisodeFilter, limit, offset int) ([]*episode.Episode, error)
}

// Metrics is the optional observation sink Retrieve reports cache
// outcome and latency to, mirroring the extraction queue's injected
// Metrics interface so this package never imports pkg/metrics directly.
type Metrics interface {
	RecordRetrieval(cacheOutcome string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordRetrieval(string, time.Duration) {}

// Config tunes a Retriever's scoring and diversification behavior,
// mirroring SPEC_FULL.md §6's RetrievalConfig.
type Config struct {
	LimitMax                  int
	DiversityLambda            float64
	TemporalBiasWeight         float64
	EnableDiversity            bool
	EnableSpatiotemporalIndex  bool
	RecencyHalfLife            time.Duration
}

// Retriever executes Query values against the spatiotemporal index (or
// a flat scan in degraded mode), scores candidates, diversifies the
// result with MMR, and caches the episode-id result list.
type Retriever struct {
	store   EpisodeStore
	index   *index.Index
	cache   *querycache.Cache
	cfg     Config
	tracer  trace.Tracer
	logger  *logrus.Entry
	metrics Metrics
}

// New constructs a Retriever. idx or cache may be nil: a nil index
// forces degraded-mode flat scan, a nil cache disables result caching.
func New(store EpisodeStore, idx *index.Index, cache *querycache.Cache, cfg Config, logger *logrus.Entry) *Retriever {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Retriever{
		store:   store,
		index:   idx,
		cache:   cache,
		cfg:     cfg,
		tracer:  otel.Tracer("episodic-memory/retrieval"),
		logger:  logger,
		metrics: noopMetrics{},
	}
}

// WithMetrics attaches an observation sink and returns the receiver for
// chaining at construction time.
func (r *Retriever) WithMetrics(m Metrics) *Retriever {
	if m != nil {
		r.metrics = m
	}
	return r
}

// Retrieve executes q and returns up to q.Limit scored results, most
// relevant and diverse first.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	fields := logging.RetrievalFields("retrieve", q.Domain, q.TaskType.String())
	start := time.Now()

	if r.cache != nil {
		key := querycache.NewCacheKey(q.Text, q.Domain, q.TaskType.String(), q.Limit)
		if ids, ok := r.cache.Get(key); ok {
			results, err := r.hydrate(ctx, ids)
			r.metrics.RecordRetrieval("hit", time.Since(start))
			return results, err
		}
	}

	candidateIDs, degraded := r.candidateIDs(ctx, q)
	if degraded {
		r.logger.WithFields(fields.Custom("degraded", true).ToLogrus()).
			Warn("spatiotemporal index unavailable, falling back to flat scan")
	}

	candidates := make([]*episode.Episode, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		ep, err := r.store.GetEpisode(ctx, id)
		if err != nil {
			continue
		}
		candidates = append(candidates, ep)
	}

	scored := r.scoreAll(candidates, q)
	results := r.selectResults(scored, q)

	if r.cache != nil {
		ids := make([]uuid.UUID, len(results))
		for i, res := range results {
			ids[i] = res.Episode.ID
		}
		key := querycache.NewCacheKey(q.Text, q.Domain, q.TaskType.String(), q.Limit)
		r.cache.Put(key, q.Domain, ids, 10*time.Minute)
	}

	r.metrics.RecordRetrieval("miss", time.Since(start))
	return results, nil
}

// candidateIDs returns the candidate episode ids for q, along with
// whether the degraded-mode flat scan path was used. Degraded mode is
// traced with a single span since it is the one path whose latency can
// surprise an operator.
func (r *Retriever) candidateIDs(ctx context.Context, q Query) ([]uuid.UUID, bool) {
	if r.cfg.EnableSpatiotemporalIndex && r.index != nil {
		return r.index.Query(index.Query{
			Domain:   q.Domain,
			TaskType: q.TaskType,
			Since:    q.Since,
			Until:    q.Until,
		}), false
	}

	_, span := r.tracer.Start(ctx, "retrieval.degraded_flat_scan",
		trace.WithAttributes(
			attribute.String("domain", q.Domain),
			attribute.String("task_type", q.TaskType.String()),
		))
	defer span.End()

	episodes, err := r.store.ListEpisodes(ctx, storage.EpisodeFilter{
		Domain:   q.Domain,
		TaskType: q.TaskType,
		Since:    q.Since,
		Until:    q.Until,
	}, 0, 0)
	if err != nil {
		span.RecordError(err)
		return nil, true
	}
	ids := make([]uuid.UUID, len(episodes))
	for i, ep := range episodes {
		ids[i] = ep.ID
	}
	return ids, true
}

func (r *Retriever) scoreAll(candidates []*episode.Episode, q Query) []Result {
	params := ScoreParams{RecencyHalfLife: r.cfg.RecencyHalfLife, TemporalBiasWeight: r.cfg.TemporalBiasWeight}
	out := make([]Result, 0, len(candidates))
	for _, ep := range candidates {
		out = append(out, Result{Episode: ep, Score: score(ep, q, params)})
	}
	return out
}

func (r *Retriever) selectResults(scored []Result, q Query) []Result {
	if !r.cfg.EnableDiversity {
		sort.SliceStable(scored, func(i, j int) bool { return rankLess(scored[j], scored[i]) })
		limit := q.Limit
		if limit <= 0 || limit > len(scored) {
			limit = len(scored)
		}
		return scored[:limit]
	}
	return diversify(scored, q.Limit, r.cfg.DiversityLambda)
}

func (r *Retriever) hydrate(ctx context.Context, ids []uuid.UUID) ([]Result, error) {
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		ep, err := r.store.GetEpisode(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, Result{Episode: ep, Score: 1.0})
	}
	return out, nil
}
