// Package storage defines the two backend contracts the Memory façade
// is built against: a transactional durable store and a bounded cache.
// Concrete implementations live in subpackages (memstore, postgres,
// rediscache); callers program against these interfaces only.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/pattern"
)

// EpisodeFilter narrows ListEpisodes and is applied conjunctively:
// every non-zero field further restricts the result set. CompletedOnly
// mirrors spec.md §6's list_episodes(..., completed_only?) parameter:
// false (the zero value) returns both in-progress and completed
// episodes, true restricts to episodes with both Outcome and EndTime set.
type EpisodeFilter struct {
	Domain        string
	TaskType      episode.TaskType
	Tags          []string
	Since         time.Time
	Until         time.Time
	CompletedOnly bool
}

// PatternFilter narrows QueryPatterns.
type PatternFilter struct {
	Kind          *pattern.Kind
	MinConfidence float64
}

// Tx scopes a sequence of mutating Durable calls to one transaction.
// Implementations must roll back automatically if neither Commit nor
// Rollback is called before the context is canceled.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Durable is the transactional backend of record for episodes,
// patterns, and embeddings. Every mutating operation is transactional
// per call unless issued against an explicit Tx obtained from BeginTx.
type Durable interface {
	BeginTx(ctx context.Context) (Tx, error)

	PutEpisode(ctx context.Context, tx Tx, ep *episode.Episode) error
	GetEpisode(ctx context.Context, id uuid.UUID) (*episode.Episode, error)
	ListEpisodes(ctx context.Context, filter EpisodeFilter, limit, offset int) ([]*episode.Episode, error)
	DeleteEpisode(ctx context.Context, id uuid.UUID) error

	PutPattern(ctx context.Context, tx Tx, p *pattern.Pattern) error
	QueryPatterns(ctx context.Context, filter PatternFilter) ([]*pattern.Pattern, error)
	DeletePattern(ctx context.Context, id uuid.UUID) error

	PutHeuristic(ctx context.Context, tx Tx, h *pattern.Heuristic) error
	QueryHeuristics(ctx context.Context, minConfidence float64) ([]*pattern.Heuristic, error)
	DeleteHeuristic(ctx context.Context, id uuid.UUID) error

	StoreEmbedding(ctx context.Context, tx Tx, key string, vector []float64) error
	// SearchSimilar returns up to k embedding keys whose cosine similarity
	// to vector meets or exceeds threshold, most similar first.
	SearchSimilar(ctx context.Context, vector []float64, k int, threshold float64) ([]SimilarityMatch, error)
}

// SimilarityMatch pairs an embedding key with its similarity score.
type SimilarityMatch struct {
	Key   string
	Score float64
}

// CacheStats reports point-in-time occupancy and hit-rate counters.
type CacheStats struct {
	Len     int
	Hits    int64
	Misses  int64
	Evicted int64
}

// Cache is the bounded, TTL+LRU-evicting key-value tier backing the
// query-result cache and the hot episode/pattern/embedding working set.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidatePrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	Stats(ctx context.Context) (CacheStats, error)
}
