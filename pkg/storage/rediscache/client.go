// Package rediscache implements storage.Cache against Redis, a bounded,
// TTL+LRU-evicting key-value hot tier.
package rediscache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Client lazily connects to Redis on first use rather than at
// construction, so a host process can start even when the cache tier
// is temporarily unreachable and discover the outage on first
// operation instead of at boot. EnsureConnection uses a
// double-checked atomic flag so the common case (already connected)
// never takes the mutex.
type Client struct {
	opts      *redis.Options
	logger    *logrus.Entry
	mu        sync.Mutex
	rdb       *redis.Client
	connected atomic.Bool
}

// NewClient constructs a Client without connecting.
func NewClient(opts *redis.Options, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Client{opts: opts, logger: logger, rdb: redis.NewClient(opts)}
}

// EnsureConnection pings Redis once, establishing the connection on
// the first call and taking the fast (lock-free) path on every
// subsequent call once connected.
func (c *Client) EnsureConnection(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected.Load() {
		return nil
	}

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unavailable: %w", err)
	}
	c.connected.Store(true)
	return nil
}

// GetClient returns the underlying go-redis client for direct use.
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	c.connected.Store(false)
	return c.rdb.Close()
}
