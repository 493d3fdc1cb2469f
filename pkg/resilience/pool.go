package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
)

// PoolStats reports point-in-time occupancy for health checks and
// metrics: active/idle counts.
type PoolStats struct {
	Capacity  int
	InUse     int
	Idle      int
	WaitCount int64
}

// Pool is a semaphore-bounded pool of backend handles of type T.
// Acquire blocks past capacity until a handle is released or the
// context deadline expires.
type Pool[T any] struct {
	sem      *semaphore.Weighted
	capacity int
	factory  func(ctx context.Context) (T, error)
	close    func(T) error

	mu        sync.Mutex
	idle      []T
	inUse     int
	waitCount int64
}

// NewPool constructs a pool of the given capacity. factory lazily
// creates a new handle when the idle list is empty; close releases a
// handle's underlying resources when the pool is drained.
func NewPool[T any](capacity int, factory func(ctx context.Context) (T, error), closeFn func(T) error) *Pool[T] {
	return &Pool[T]{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		factory:  factory,
		close:    closeFn,
	}
}

// Acquire blocks until a handle is available or timeout elapses,
// failing with apperrors.Timeout on expiry.
func (p *Pool[T]) Acquire(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	deadline := time.Now().Add(timeout)
	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	p.mu.Lock()
	p.waitCount++
	p.mu.Unlock()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		return zero, apperrors.Timeout(deadline)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) > 0 {
		handle := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.inUse++
		return handle, nil
	}

	handle, err := p.factory(ctx)
	if err != nil {
		p.sem.Release(1)
		return zero, apperrors.Backend(err, "failed to create pooled connection")
	}
	p.inUse++
	return handle, nil
}

// Release returns handle to the idle list, making it available to the
// next Acquire call.
func (p *Pool[T]) Release(handle T) {
	p.mu.Lock()
	p.inUse--
	p.idle = append(p.idle, handle)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Stats reports current occupancy.
func (p *Pool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity:  p.capacity,
		InUse:     p.inUse,
		Idle:      len(p.idle),
		WaitCount: p.waitCount,
	}
}

// Drain closes every idle handle, used during shutdown.
func (p *Pool[T]) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lastErr error
	for _, handle := range p.idle {
		if p.close != nil {
			if err := p.close(handle); err != nil {
				lastErr = err
			}
		}
	}
	p.idle = nil
	return lastErr
}
