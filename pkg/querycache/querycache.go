// Package querycache implements a domain-partitioned LRU of retrieval
// outputs: a CacheKey-keyed LRU of episode id lists plus a
// domain -> set<CacheKey> index that makes invalidate_domain linear in
// the domain's own partition rather than the whole cache.
package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/episodic-memory/pkg/resilience/lru"
)

// largePartitionThreshold is the point past which invalidate_domain falls
// back to clearing the whole cache rather than walking a large partition
// one key at a time.
const largePartitionThreshold = 200

// CacheKey is the deterministic fingerprint of a retrieval query.
type CacheKey string

// NewCacheKey hashes the query's identity fields into a stable key.
func NewCacheKey(queryText, domain, taskType string, limit int) CacheKey {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", queryText, domain, taskType, limit)
	return CacheKey(hex.EncodeToString(h.Sum(nil)))
}

// Cache is the query-result cache: an LRU from CacheKey to the episode ids
// it retrieved, with an auxiliary domain index for targeted invalidation.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[CacheKey, []uuid.UUID]
	domain map[string]map[CacheKey]struct{}
}

// New constructs a Cache bounded to capacity entries.
func New(capacity int) *Cache {
	return &Cache{
		lru:    lru.New[CacheKey, []uuid.UUID](capacity),
		domain: make(map[string]map[CacheKey]struct{}),
	}
}

// Get returns the cached episode ids for key, if present and unexpired.
func (c *Cache) Get(key CacheKey) ([]uuid.UUID, bool) {
	return c.lru.Get(key)
}

// Put stores result under key and indexes it by domain for later targeted
// invalidation.
func (c *Cache) Put(key CacheKey, domain string, result []uuid.UUID, ttl time.Duration) {
	c.lru.Put(key, result, ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.domain[domain]
	if !ok {
		set = make(map[CacheKey]struct{})
		c.domain[domain] = set
	}
	set[key] = struct{}{}
}

// InvalidateAll clears the LRU and the domain index together.
func (c *Cache) InvalidateAll() {
	c.lru.Clear()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.domain = make(map[string]map[CacheKey]struct{})
}

// InvalidateDomain removes every cached entry whose query targeted domain.
// For a partition over largePartitionThreshold entries it falls back to
// InvalidateAll, trading precision for the read hot path never paying a
// linear-scan tax on a pathologically large domain.
func (c *Cache) InvalidateDomain(domain string) {
	c.mu.Lock()
	set, ok := c.domain[domain]
	if !ok {
		c.mu.Unlock()
		return
	}
	if len(set) > largePartitionThreshold {
		c.mu.Unlock()
		c.InvalidateAll()
		return
	}
	keys := make([]CacheKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	delete(c.domain, domain)
	c.mu.Unlock()

	for _, k := range keys {
		c.lru.Delete(k)
	}
}

// InvalidateKey evicts a single key, leaving any stale domain-index
// pointer to it harmless: a later lookup through that pointer just misses
// the LRU.
func (c *Cache) InvalidateKey(key CacheKey) {
	c.lru.Delete(key)
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	return c.lru.Len()
}
