package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/jordigilh/episodic-memory/pkg/codec"
	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/pattern"
)

// commitEpisode runs the two-phase write coordination SPEC_FULL.md §4.4
// calls for: durable storage is the system of record, so phase one
// prepares and commits there; phase two best-effort populates the
// cache tier as a read accelerator. A cache-phase failure is logged
// and swallowed rather than rolling back the already-committed durable
// write, since the cache is a derived view, never authoritative.
func (m *Memory) commitEpisode(ctx context.Context, ep *episode.Episode) error {
	_, err := m.durableDo(ctx, "durable.put_episode", func(ctx context.Context) (any, error) {
		tx, err := m.durable.BeginTx(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.durable.PutEpisode(ctx, tx, ep); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	m.cacheEpisodeBestEffort(ctx, ep)
	return nil
}

func (m *Memory) cacheEpisodeBestEffort(ctx context.Context, ep *episode.Episode) {
	if m.cache == nil {
		return
	}
	payload, err := codec.EncodeEpisode(ep)
	if err != nil {
		m.logger.WithError(err).Warn("failed to encode episode for cache tier")
		return
	}
	if err := m.cache.Put(ctx, episodeCacheKey(ep.ID), payload, 0); err != nil {
		m.logger.WithError(err).Warn("failed to populate cache tier after durable commit")
	}
}

// commitPattern mirrors commitEpisode for a single extracted pattern.
func (m *Memory) commitPattern(ctx context.Context, p *pattern.Pattern) error {
	_, err := m.durableDo(ctx, "durable.put_pattern", func(ctx context.Context) (any, error) {
		tx, err := m.durable.BeginTx(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.durable.PutPattern(ctx, tx, p); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		return nil, tx.Commit(ctx)
	})
	return err
}

// commitHeuristic mirrors commitEpisode for a single derived heuristic.
// Heuristics carry no cache-tier entry of their own: they are read back
// through QueryHeuristics, not a keyed lookup, so there is no best-effort
// cache-populate phase here.
func (m *Memory) commitHeuristic(ctx context.Context, h *pattern.Heuristic) error {
	_, err := m.durableDo(ctx, "durable.put_heuristic", func(ctx context.Context) (any, error) {
		tx, err := m.durable.BeginTx(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.durable.PutHeuristic(ctx, tx, h); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		return nil, tx.Commit(ctx)
	})
	return err
}

// deleteEpisodeDurable removes id from durable storage and invalidates
// any cached copy, in that order: invalidating the cache first would
// leave a stale window where a failed durable delete still serves a
// "deleted" episode from cache.
func (m *Memory) deleteEpisodeDurable(ctx context.Context, id uuid.UUID) error {
	_, err := m.durableDo(ctx, "durable.delete_episode", func(ctx context.Context) (any, error) {
		return nil, m.durable.DeleteEpisode(ctx, id)
	})
	if err != nil {
		return err
	}
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, episodeCacheKey(id)); err != nil {
			m.logger.WithError(err).Warn("failed to invalidate cache entry after durable delete")
		}
	}
	return nil
}

func episodeCacheKey(id uuid.UUID) string {
	return "episode:" + id.String()
}
