// Package ratelimit implements a per-caller sliding-window limiter:
// admission decisions lock only the keyed caller entry, not a global
// limiter lock.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
)

// callerWindow tracks one caller's admitted-request timestamps within the
// trailing one-second window.
type callerWindow struct {
	mu        sync.Mutex
	timestamps []time.Time
}

// Limiter is a sliding-window limiter keyed by caller id. Window entries
// older than one second are trimmed lazily on each Allow call.
type Limiter struct {
	cap int

	mu      sync.Mutex
	callers map[string]*callerWindow
}

// New constructs a Limiter admitting at most capPerSecond requests per
// caller within any trailing one-second window (spec default 10).
func New(capPerSecond int) *Limiter {
	return &Limiter{
		cap:     capPerSecond,
		callers: make(map[string]*callerWindow),
	}
}

func (l *Limiter) windowFor(callerID string) *callerWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.callers[callerID]
	if !ok {
		w = &callerWindow{}
		l.callers[callerID] = w
	}
	return w
}

// Allow admits a request from callerID, rejecting with apperrors.RateLimited
// (carrying a retry_after hint) once the window holds cap entries.
func (l *Limiter) Allow(callerID string) error {
	w := l.windowFor(callerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Second)

	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept

	if len(w.timestamps) >= l.cap {
		oldest := w.timestamps[0]
		retryAfter := oldest.Add(time.Second).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return apperrors.RateLimited(retryAfter)
	}

	w.timestamps = append(w.timestamps, now)
	return nil
}

// Reset clears a caller's window, used in tests and on administrative
// override.
func (l *Limiter) Reset(callerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.callers, callerID)
}
