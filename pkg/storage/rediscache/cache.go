package rediscache

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/pkg/storage"
)

// Cache is a storage.Cache backed by Redis. Values are opaque byte
// payloads (the codec package's compact binary encoding); TTL and
// LRU/LFU eviction past Redis's own maxmemory policy are delegated to
// the server, used when cache.path in configuration names a redis://
// URL rather than an in-process bounded LRU.
type Cache struct {
	client *Client

	hits    atomic.Int64
	misses  atomic.Int64
}

// New constructs a Redis-backed Cache from already-configured
// options.
func New(opts *redis.Options, logger *logrus.Entry) *Cache {
	return &Cache{client: NewClient(opts, logger)}
}

// Open parses a redis:// connection URL (the configured cache.path) and
// constructs a Cache.
func Open(url string, logger *logrus.Entry) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeInvalidInput, "invalid redis cache.path")
	}
	return New(opts, logger), nil
}

// Close releases the underlying connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) rdb(ctx context.Context) (*redis.Client, error) {
	if err := c.client.EnsureConnection(ctx); err != nil {
		return nil, apperrors.Backend(err, "redis cache unavailable")
	}
	return c.client.GetClient(), nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rdb, err := c.rdb(ctx)
	if err != nil {
		return nil, false, err
	}
	val, err := rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Backend(err, "redis GET failed")
	}
	c.hits.Add(1)
	return val, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rdb, err := c.rdb(ctx)
	if err != nil {
		return err
	}
	if err := rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.Backend(err, "redis SET failed")
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, key string) error {
	rdb, err := c.rdb(ctx)
	if err != nil {
		return err
	}
	if err := rdb.Del(ctx, key).Err(); err != nil {
		return apperrors.Backend(err, "redis DEL failed")
	}
	return nil
}

// InvalidatePrefix scans for keys matching prefix* and deletes them in
// batches, since Redis has no native prefix-delete primitive.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	rdb, err := c.rdb(ctx)
	if err != nil {
		return err
	}

	var cursor uint64
	pattern := prefix + "*"
	for {
		keys, next, err := rdb.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return apperrors.Backend(err, "redis SCAN failed")
		}
		if len(keys) > 0 {
			if err := rdb.Del(ctx, keys...).Err(); err != nil {
				return apperrors.Backend(err, "redis DEL failed")
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (c *Cache) Clear(ctx context.Context) error {
	rdb, err := c.rdb(ctx)
	if err != nil {
		return err
	}
	if err := rdb.FlushDB(ctx).Err(); err != nil {
		return apperrors.Backend(err, "redis FLUSHDB failed")
	}
	return nil
}

func (c *Cache) Len(ctx context.Context) (int, error) {
	rdb, err := c.rdb(ctx)
	if err != nil {
		return 0, err
	}
	n, err := rdb.DBSize(ctx).Result()
	if err != nil {
		return 0, apperrors.Backend(err, "redis DBSIZE failed")
	}
	return int(n), nil
}

func (c *Cache) Stats(ctx context.Context) (storage.CacheStats, error) {
	length, err := c.Len(ctx)
	if err != nil {
		return storage.CacheStats{}, err
	}
	return storage.CacheStats{
		Len:     length,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Evicted: c.evictedKeys(ctx),
	}, nil
}

// evictedKeys best-effort parses Redis's own INFO stats for the
// server-wide evicted_keys counter; a parse failure reports 0 rather
// than failing the whole Stats call.
func (c *Cache) evictedKeys(ctx context.Context) int64 {
	rdb, err := c.rdb(ctx)
	if err != nil {
		return 0
	}
	info, err := rdb.Info(ctx, "stats").Result()
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, "evicted_keys:") {
			n, err := strconv.ParseInt(strings.TrimPrefix(line, "evicted_keys:"), 10, 64)
			if err == nil {
				return n
			}
		}
	}
	return 0
}
