package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/internal/config"
	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/pattern"
	"github.com/jordigilh/episodic-memory/pkg/storage"
)

// AdminAuditEntry records one administrative override, a SUPPLEMENTED
// FEATURE: operators adjusting pattern confidence or evicting cache
// entries leave a trail of who changed what and why.
type AdminAuditEntry struct {
	At        time.Time
	CallerID  string
	Action    string
	TargetID  string
	Detail    string
}

// Admin exposes operator-only overrides on a Memory instance. It is
// intentionally a thin wrapper rather than exported Memory methods, so
// call sites cannot reach admin actions without going through m.Admin().
type Admin struct {
	m *Memory
}

// Admin returns the administrative handle for m.
func (m *Memory) Admin() Admin {
	return Admin{m: m}
}

// SetPatternConfidence overrides a stored pattern's confidence, e.g. to
// manually demote a pattern effectiveness tracking has flagged as
// counterproductive. The override is recorded in the audit trail.
func (a Admin) SetPatternConfidence(ctx context.Context, callerID string, patternID uuid.UUID, confidence float64, reason string) error {
	if confidence < 0 || confidence > 1 {
		return apperrors.InvalidInput("confidence must be in [0,1]")
	}

	matches, err := a.m.durable.QueryPatterns(ctx, storage.PatternFilter{})
	if err != nil {
		return err
	}
	var target *pattern.Pattern
	for _, p := range matches {
		if p.ID == patternID {
			target = p
			break
		}
	}
	if target == nil {
		return apperrors.NotFound(patternID.String())
	}

	target.Confidence = confidence
	target.UpdatedAt = time.Now().UTC()
	if err := a.m.commitPattern(ctx, target); err != nil {
		return err
	}

	a.record(callerID, "set_pattern_confidence", patternID.String(), reason)
	return nil
}

// InvalidateCache removes a cached episode from the cache tier without
// touching durable storage, e.g. to force a re-read after an
// out-of-band fix. Distinct from the capacity-driven Evict below.
func (a Admin) InvalidateCache(ctx context.Context, callerID string, episodeID uuid.UUID, reason string) error {
	if a.m.cache == nil {
		return nil
	}
	if err := a.m.cache.Invalidate(ctx, episodeCacheKey(episodeID)); err != nil {
		return err
	}
	a.record(callerID, "invalidate_cache", episodeID.String(), reason)
	return nil
}

// Evict is the capacity manager: it selects up to count completed
// episodes by the configured EvictionPolicy and
// deletes them from both storage tiers, the spatiotemporal index, and
// the query-result cache, exactly as DeleteEpisode does for a single
// episode. Returns the ids of the episodes actually evicted.
func (a Admin) Evict(ctx context.Context, callerID string, count int, reason string) ([]uuid.UUID, error) {
	if count <= 0 {
		return nil, apperrors.InvalidInput("evict count must be greater than 0")
	}

	candidates, err := a.m.durable.ListEpisodes(ctx, storage.EpisodeFilter{}, 0, 0)
	if err != nil {
		return nil, err
	}
	victims := selectEvictionVictims(candidates, count, a.m.cfg.Eviction.Policy)

	evicted := make([]uuid.UUID, 0, len(victims))
	for _, ep := range victims {
		if err := a.m.deleteEpisodeDurable(ctx, ep.ID); err != nil {
			continue
		}
		a.m.index.Remove(ep.ID)
		a.m.queryCache.InvalidateDomain(ep.Context.Domain)

		a.m.mu.Lock()
		delete(a.m.inflight, ep.ID)
		a.m.mu.Unlock()

		evicted = append(evicted, ep.ID)
	}

	a.record(callerID, "evict", "", reason)
	return evicted, nil
}

// selectEvictionVictims orders candidates by policy (worst-to-keep
// first) and returns up to count of them.
func selectEvictionVictims(candidates []*episode.Episode, count int, policy config.EvictionPolicy) []*episode.Episode {
	ordered := append([]*episode.Episode(nil), candidates...)
	switch policy {
	case config.EvictionPolicyRelevanceWeighted:
		sort.SliceStable(ordered, func(i, j int) bool {
			return rewardOf(ordered[i]) < rewardOf(ordered[j])
		})
	default: // EvictionPolicyLRU and unset default to LRU.
		sort.SliceStable(ordered, func(i, j int) bool {
			return endTimeOf(ordered[i]).Before(endTimeOf(ordered[j]))
		})
	}
	if count > len(ordered) {
		count = len(ordered)
	}
	return ordered[:count]
}

func rewardOf(ep *episode.Episode) float64 {
	if ep.Reward == nil {
		return 0
	}
	return *ep.Reward
}

func endTimeOf(ep *episode.Episode) time.Time {
	if ep.EndTime == nil {
		return ep.StartTime
	}
	return *ep.EndTime
}

// AuditTrail returns a snapshot of every administrative action taken so
// far, oldest first.
func (a Admin) AuditTrail() []AdminAuditEntry {
	a.m.adminMu.Lock()
	defer a.m.adminMu.Unlock()
	out := make([]AdminAuditEntry, len(a.m.audit))
	copy(out, a.m.audit)
	return out
}

func (a Admin) record(callerID, action, targetID, detail string) {
	a.m.adminMu.Lock()
	defer a.m.adminMu.Unlock()
	a.m.audit = append(a.m.audit, AdminAuditEntry{
		At:       time.Now().UTC(),
		CallerID: callerID,
		Action:   action,
		TargetID: targetID,
		Detail:   detail,
	})
}
