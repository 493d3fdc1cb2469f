// Package memstore is an in-memory reference implementation of both
// storage.Durable and storage.Cache, used in tests and as the default
// backend when no external store is configured.
package memstore

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/mathutil"
	"github.com/jordigilh/episodic-memory/pkg/pattern"
	"github.com/jordigilh/episodic-memory/pkg/storage"
)

// Durable is an in-memory, mutex-guarded storage.Durable. BeginTx
// returns a no-op Tx since every mutation already applies atomically
// under the single store-wide lock; it exists to satisfy callers that
// expect to scope several writes together.
type Durable struct {
	mu         sync.RWMutex
	episodes   map[uuid.UUID]*episode.Episode
	patterns   map[uuid.UUID]*pattern.Pattern
	heuristics map[uuid.UUID]*pattern.Heuristic
	embeddings map[string][]float64
}

// New constructs an empty in-memory durable store.
func New() *Durable {
	return &Durable{
		episodes:   make(map[uuid.UUID]*episode.Episode),
		patterns:   make(map[uuid.UUID]*pattern.Pattern),
		heuristics: make(map[uuid.UUID]*pattern.Heuristic),
		embeddings: make(map[string][]float64),
	}
}

type noopTx struct{}

func (noopTx) Commit(ctx context.Context) error   { return nil }
func (noopTx) Rollback(ctx context.Context) error { return nil }

func (d *Durable) BeginTx(ctx context.Context) (storage.Tx, error) {
	return noopTx{}, nil
}

func (d *Durable) PutEpisode(ctx context.Context, tx storage.Tx, ep *episode.Episode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *ep
	d.episodes[ep.ID] = &cp
	return nil
}

func (d *Durable) GetEpisode(ctx context.Context, id uuid.UUID) (*episode.Episode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ep, ok := d.episodes[id]
	if !ok {
		return nil, apperrors.NotFound(id.String())
	}
	cp := *ep
	return &cp, nil
}

func (d *Durable) ListEpisodes(ctx context.Context, filter storage.EpisodeFilter, limit, offset int) ([]*episode.Episode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	matches := make([]*episode.Episode, 0, len(d.episodes))
	for _, ep := range d.episodes {
		if !matchesFilter(ep, filter) {
			continue
		}
		cp := *ep
		matches = append(matches, &cp)
	}
	sortEpisodesByStartTime(matches)

	if offset >= len(matches) {
		return []*episode.Episode{}, nil
	}
	end := len(matches)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matches[offset:end], nil
}

func matchesFilter(ep *episode.Episode, filter storage.EpisodeFilter) bool {
	if filter.CompletedOnly && !ep.IsComplete() {
		return false
	}
	if filter.Domain != "" && ep.Context.Domain != filter.Domain {
		return false
	}
	if filter.TaskType != episode.TaskTypeUnknown && ep.Context.TaskType != filter.TaskType {
		return false
	}
	if !filter.Since.IsZero() && ep.StartTime.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && ep.StartTime.After(filter.Until) {
		return false
	}
	for _, want := range filter.Tags {
		found := false
		for _, tag := range ep.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortEpisodesByStartTime(episodes []*episode.Episode) {
	for i := 1; i < len(episodes); i++ {
		for j := i; j > 0 && episodes[j].StartTime.Before(episodes[j-1].StartTime); j-- {
			episodes[j], episodes[j-1] = episodes[j-1], episodes[j]
		}
	}
}

func (d *Durable) DeleteEpisode(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.episodes[id]; !ok {
		return apperrors.NotFound(id.String())
	}
	delete(d.episodes, id)
	return nil
}

func (d *Durable) PutPattern(ctx context.Context, tx storage.Tx, p *pattern.Pattern) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *p
	d.patterns[p.ID] = &cp
	return nil
}

func (d *Durable) QueryPatterns(ctx context.Context, filter storage.PatternFilter) ([]*pattern.Pattern, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	matches := make([]*pattern.Pattern, 0, len(d.patterns))
	for _, p := range d.patterns {
		if filter.Kind != nil && p.Kind != *filter.Kind {
			continue
		}
		if p.Confidence < filter.MinConfidence {
			continue
		}
		cp := *p
		matches = append(matches, &cp)
	}
	return matches, nil
}

func (d *Durable) DeletePattern(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.patterns[id]; !ok {
		return apperrors.NotFound(id.String())
	}
	delete(d.patterns, id)
	return nil
}

func (d *Durable) PutHeuristic(ctx context.Context, tx storage.Tx, h *pattern.Heuristic) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *h
	d.heuristics[h.ID] = &cp
	return nil
}

func (d *Durable) QueryHeuristics(ctx context.Context, minConfidence float64) ([]*pattern.Heuristic, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	matches := make([]*pattern.Heuristic, 0, len(d.heuristics))
	for _, h := range d.heuristics {
		if h.Confidence < minConfidence {
			continue
		}
		cp := *h
		matches = append(matches, &cp)
	}
	return matches, nil
}

func (d *Durable) DeleteHeuristic(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.heuristics[id]; !ok {
		return apperrors.NotFound(id.String())
	}
	delete(d.heuristics, id)
	return nil
}

func (d *Durable) StoreEmbedding(ctx context.Context, tx storage.Tx, key string, vector []float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.embeddings[key] = append([]float64(nil), vector...)
	return nil
}

// SearchSimilar is a brute-force fallback: it scores every stored
// embedding by cosine similarity and returns the top k at or above
// threshold. A native vector index backend would replace this scan.
func (d *Durable) SearchSimilar(ctx context.Context, vector []float64, k int, threshold float64) ([]storage.SimilarityMatch, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	matches := make([]storage.SimilarityMatch, 0, len(d.embeddings))
	for key, vec := range d.embeddings {
		score := mathutil.CosineSimilarity(vector, vec)
		if score >= threshold {
			matches = append(matches, storage.SimilarityMatch{Key: key, Score: score})
		}
	}
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score > matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Cache is an in-memory, TTL+LRU-evicting storage.Cache bounded by a
// maximum entry count.
type Cache struct {
	mu       sync.Mutex
	maxLen   int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	hits     int64
	misses   int64
	evicted  int64
}

type cacheEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// NewCache constructs a bounded cache. maxLen <= 0 means unbounded.
func NewCache(maxLen int) *Cache {
	return &Cache{
		maxLen:  maxLen,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}
	entry := el.Value.(*cacheEntry)
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		c.removeElement(el)
		c.misses++
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	c.hits++
	return entry.value, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		el.Value.(*cacheEntry).expires = expires
		c.order.MoveToFront(el)
		return nil
	}

	el := c.order.PushFront(&cacheEntry{key: key, value: value, expires: expires})
	c.entries[key] = el

	if c.maxLen > 0 && len(c.entries) > c.maxLen {
		oldest := c.order.Back()
		if oldest != nil {
			c.removeElement(oldest)
			c.evicted++
		}
	}
	return nil
}

func (c *Cache) removeElement(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(el)
}

func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
	return nil
}

func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(el)
		}
	}
	return nil
}

func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

func (c *Cache) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), nil
}

func (c *Cache) Stats(ctx context.Context) (storage.CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return storage.CacheStats{
		Len:     len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		Evicted: c.evicted,
	}, nil
}

// Sweep removes all expired entries regardless of recency, a background
// complement to the lazy expiry-on-get already done in Get.
func (c *Cache) Sweep(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if !entry.expires.IsZero() && now.After(entry.expires) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}
