package resilience

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
)

// BreakerConfig governs the circuit breaker transition rules:
// failure_threshold consecutive failures trips Closed->Open; cooldown
// gates Open->HalfOpen; a HalfOpen failure reopens with exponential
// backoff capped at maxCooldown.
type BreakerConfig struct {
	FailureThreshold uint32
	Cooldown         time.Duration
	MaxCooldown      time.Duration
}

// DefaultBreakerConfig returns the documented defaults (threshold 5,
// cooldown 30s, backoff cap 5m).
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		MaxCooldown:      5 * time.Minute,
	}
}

// StateChange is published whenever a named operation's breaker
// transitions, for consumption by observability sinks.
type StateChange struct {
	Operation string
	From      gobreaker.State
	To        gobreaker.State
	At        time.Time
}

// opBreaker tracks one operation's current gobreaker instance plus the
// reopen count driving its next cooldown, since gobreaker fixes Timeout
// at construction and exponential backoff-on-reopen needs it to grow.
type opBreaker struct {
	current          *gobreaker.CircuitBreaker
	builtCooldown    time.Duration
	consecutiveOpens int
	nextCooldown     time.Duration
}

// BreakerRegistry holds one gobreaker.CircuitBreaker per named
// operation, each with its own independent state machine, and fans out
// state transitions to registered listeners.
type BreakerRegistry struct {
	mu        sync.Mutex
	config    BreakerConfig
	breakers  map[string]*opBreaker
	listeners []func(StateChange)
}

// NewBreakerRegistry constructs a registry sharing one config across
// every operation it lazily creates a breaker for.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config,
		breakers: make(map[string]*opBreaker),
	}
}

// OnStateChange registers a listener invoked on every breaker
// transition across every operation in this registry.
func (r *BreakerRegistry) OnStateChange(fn func(StateChange)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *BreakerRegistry) publish(change StateChange) {
	r.mu.Lock()
	listeners := append([]func(StateChange){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(change)
	}
}

func (r *BreakerRegistry) newBreaker(operation string, timeout time.Duration) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.handleTransition(name, from, to)
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// handleTransition grows the next cooldown on repeated Open transitions
// (capped at MaxCooldown) and resets it to the base Cooldown once the
// operation recovers to Closed; the grown timeout takes effect the next
// time this operation reopens, since an in-flight breaker's own Timeout
// cannot change after construction.
func (r *BreakerRegistry) handleTransition(operation string, from, to gobreaker.State) {
	r.mu.Lock()
	ob, ok := r.breakers[operation]
	if ok {
		switch to {
		case gobreaker.StateOpen:
			ob.consecutiveOpens++
			next := time.Duration(float64(r.config.Cooldown) * math.Pow(2, float64(ob.consecutiveOpens-1)))
			if next > r.config.MaxCooldown {
				next = r.config.MaxCooldown
			}
			ob.nextCooldown = next
		case gobreaker.StateClosed:
			ob.consecutiveOpens = 0
			ob.nextCooldown = r.config.Cooldown
		}
	}
	r.mu.Unlock()

	r.publish(StateChange{Operation: operation, From: from, To: to, At: time.Now().UTC()})
}

func (r *BreakerRegistry) breakerFor(operation string) *opBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ob, ok := r.breakers[operation]; ok {
		return ob
	}

	ob := &opBreaker{nextCooldown: r.config.Cooldown, builtCooldown: r.config.Cooldown}
	ob.current = r.newBreaker(operation, ob.nextCooldown)
	r.breakers[operation] = ob
	return ob
}

// Do executes fn through the named operation's breaker. A fast-fail
// while Open surfaces as apperrors.CircuitOpen. When a HalfOpen probe
// fails, the next breaker for this operation is rebuilt with the grown
// cooldown computed in handleTransition.
func (r *BreakerRegistry) Do(ctx context.Context, operation string, fn func(ctx context.Context) (any, error)) (any, error) {
	ob := r.breakerFor(operation)

	result, err := ob.current.Execute(func() (any, error) {
		return fn(ctx)
	})

	r.mu.Lock()
	if ob.current.State() == gobreaker.StateOpen && ob.builtCooldown != ob.nextCooldown {
		ob.current = r.newBreaker(operation, ob.nextCooldown)
		ob.builtCooldown = ob.nextCooldown
	}
	r.mu.Unlock()

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, apperrors.CircuitOpen(time.Now().Add(ob.nextCooldown))
	}
	return result, err
}

// State reports the current state of the named operation's breaker
// (StateClosed if none has been created yet).
func (r *BreakerRegistry) State(operation string) gobreaker.State {
	r.mu.Lock()
	ob, ok := r.breakers[operation]
	r.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return ob.current.State()
}
