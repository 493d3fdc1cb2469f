// Package resilience implements the retry, circuit breaker, and
// connection pool primitives the Memory façade wraps every backend call
// in.
package resilience

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
)

// RetryConfig controls exponential backoff with optional jitter.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultRetryConfig suits general backend calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// DatabaseRetryConfig allows more attempts with a gentler multiplier,
// suited to transient connection-pool contention.
func DatabaseRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      250 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 1.5,
		Jitter:            true,
	}
}

var retryableSubstrings = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"too many connections",
	"deadlock detected",
	"lock timeout",
	"serialization failure",
	"could not serialize access",
	"connection lost",
	"closed the connection",
	"broken pipe",
	"i/o timeout",
	"network is unreachable",
	"no route to host",
}

type retryableError struct {
	cause     error
	retryable bool
	context   string
}

func (e *retryableError) Error() string {
	return e.context + ": " + e.cause.Error()
}

func (e *retryableError) Unwrap() error { return e.cause }

// WrapRetryableError attaches an explicit retry decision to err,
// overriding the substring/sentinel heuristic IsRetryableError would
// otherwise apply. Returns nil for a nil err.
func WrapRetryableError(err error, retryable bool, context string) error {
	if err == nil {
		return nil
	}
	return &retryableError{cause: err, retryable: retryable, context: context}
}

// IsRetryableError classifies err as transient. context.Canceled is
// never retryable (the caller gave up); context.DeadlineExceeded,
// sql.ErrConnDone, and a small set of connection/timeout/contention
// substrings are.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var re *retryableError
	if errors.As(err, &re) {
		return re.retryable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range retryableSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// Operation is a unit of work a Retrier attempts, aware of its own
// attempt number for logging/telemetry.
type Operation func(ctx context.Context, attempt int) (any, error)

// Retrier executes an Operation with exponential backoff, retrying only
// errors IsRetryableError accepts.
type Retrier struct {
	config RetryConfig
	logger *logrus.Logger
}

// NewRetrier constructs a Retrier with the given config and logger.
func NewRetrier(config RetryConfig, logger *logrus.Logger) *Retrier {
	return &Retrier{config: config, logger: logger}
}

// NewDatabaseRetrier is a Retrier preconfigured with DatabaseRetryConfig.
func NewDatabaseRetrier(logger *logrus.Logger) *Retrier {
	return NewRetrier(DatabaseRetryConfig(), logger)
}

// Do runs operation, retrying on a retryable error until MaxAttempts is
// reached or ctx is canceled. Returns the last error when attempts are
// exhausted.
func (r *Retrier) Do(ctx context.Context, operation Operation) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		result, err := operation(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.backoffDelay(attempt)
		r.logger.WithField("attempt", attempt).WithField("delay", delay).Warn("retrying after transient error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, apperrors.Wrap(lastErr, apperrors.TypeBackend, "operation failed after retries")
}

func (r *Retrier) backoffDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	if capped := float64(r.config.MaxDelay); delay > capped {
		delay = capped
	}
	if r.config.Jitter {
		delay = delay * (0.5 + rand.Float64()*0.5)
	}
	return time.Duration(delay)
}

// RetryIfNeeded is a convenience wrapper for call sites that don't want
// to construct a Retrier, mirroring Do's semantics for a single config.
func RetryIfNeeded(ctx context.Context, config RetryConfig, logger *logrus.Logger, operation Operation) error {
	retrier := NewRetrier(config, logger)
	_, err := retrier.Do(ctx, operation)
	return err
}
