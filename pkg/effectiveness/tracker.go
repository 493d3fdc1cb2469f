// Package effectiveness implements a per-pattern effectiveness tracker:
// a {retrievals, applications, successes, failures, ewma_reward} counter
// set per pattern, decayed over time and updated concurrently without a
// single global lock.
package effectiveness

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/episodic-memory/pkg/mathutil"
)

// decayAlpha is the EWMA smoothing factor applied to each new reward
// sample: the new sample carries this weight and the running average the
// rest, so the average moves toward recent rewards gradually.
const decayAlpha = 0.3

// Stats is one pattern's effectiveness counters, CBOR round-trip safe.
type Stats struct {
	PatternID   uuid.UUID `cbor:"pattern_id"`
	Retrievals  int64     `cbor:"retrievals"`
	Applications int64    `cbor:"applications"`
	Successes   int64     `cbor:"successes"`
	Failures    int64     `cbor:"failures"`
	EWMAReward  float64   `cbor:"ewma_reward"`
	LastUpdated time.Time `cbor:"last_updated"`
}

// SuccessRate returns successes/applications, or 0 with no applications
// recorded yet.
func (s Stats) SuccessRate() float64 {
	if s.Applications == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Applications)
}

// entry pairs one pattern's Stats with its own mutex, so updates to
// different patterns never contend.
type entry struct {
	mu    sync.Mutex
	stats Stats
}

// Tracker holds one entry per known pattern. A sync.Map backs the
// pattern-id -> entry lookup so reads of already-registered patterns
// never take a package-wide lock; only first-registration of a new
// pattern briefly contends.
type Tracker struct {
	entries sync.Map // uuid.UUID -> *entry
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

func (t *Tracker) entryFor(patternID uuid.UUID) *entry {
	if v, ok := t.entries.Load(patternID); ok {
		return v.(*entry)
	}
	e := &entry{stats: Stats{PatternID: patternID}}
	actual, _ := t.entries.LoadOrStore(patternID, e)
	return actual.(*entry)
}

// RecordRetrieval increments the retrieval counter for patternID.
func (t *Tracker) RecordRetrieval(patternID uuid.UUID) {
	e := t.entryFor(patternID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Retrievals++
	e.stats.LastUpdated = time.Now().UTC()
}

// RecordApplication records that a retrieved pattern was applied to a
// new episode and, once that episode's outcome is known, whether it
// succeeded, folding the resulting reward into the pattern's EWMA.
func (t *Tracker) RecordApplication(patternID uuid.UUID, succeeded bool, reward float64) {
	e := t.entryFor(patternID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Applications++
	if succeeded {
		e.stats.Successes++
	} else {
		e.stats.Failures++
	}
	if e.stats.Applications == 1 {
		e.stats.EWMAReward = reward
	} else {
		e.stats.EWMAReward = mathutil.EWMA(e.stats.EWMAReward, reward, decayAlpha)
	}
	e.stats.LastUpdated = time.Now().UTC()
}

// Get returns a snapshot of patternID's stats and whether it has ever
// been observed.
func (t *Tracker) Get(patternID uuid.UUID) (Stats, bool) {
	v, ok := t.entries.Load(patternID)
	if !ok {
		return Stats{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats, true
}

// Snapshot returns every tracked pattern's stats, for decay sweeps and
// health reporting.
func (t *Tracker) Snapshot() []Stats {
	var out []Stats
	t.entries.Range(func(_, v interface{}) bool {
		e := v.(*entry)
		e.mu.Lock()
		out = append(out, e.stats)
		e.mu.Unlock()
		return true
	})
	return out
}

// DecaySweep applies exponential time decay to each pattern's EWMA
// reward based on elapsed time since its last update, pulling stale
// patterns' effective reward toward zero without discarding their
// counters. Returns the number of patterns actually decayed (EWMA
// changed).
func (t *Tracker) DecaySweep(halfLife time.Duration) int {
	now := time.Now().UTC()
	decayed := 0
	t.entries.Range(func(_, v interface{}) bool {
		e := v.(*entry)
		e.mu.Lock()
		elapsed := now.Sub(e.stats.LastUpdated).Seconds()
		if elapsed > 0 && e.stats.EWMAReward != 0 {
			factor := mathutil.ExponentialDecay(elapsed, halfLife.Seconds())
			e.stats.EWMAReward *= factor
			decayed++
		}
		e.mu.Unlock()
		return true
	})
	return decayed
}

// Remove discards a pattern's tracked stats entirely.
func (t *Tracker) Remove(patternID uuid.UUID) {
	t.entries.Delete(patternID)
}

// Len reports the number of distinct patterns currently tracked.
func (t *Tracker) Len() int {
	n := 0
	t.entries.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
