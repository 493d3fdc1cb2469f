package retrieval

import (
	"sort"
	"time"

	"github.com/jordigilh/episodic-memory/pkg/mathutil"
)

// defaultDiversityLambda matches SPEC_FULL.md §6's RetrievalConfig
// default: 0.7 weight on relevance, 0.3 on novelty.
const defaultDiversityLambda = 0.7

// diversify greedily selects up to limit results from scored by
// Maximal Marginal Relevance: each pick maximizes
// lambda*relevance - (1-lambda)*max_similarity_to_already_picked,
// trading pure relevance ranking for coverage across dissimilar
// episodes. A lambda of 1.0 degrades to plain top-k by score.
func diversify(scored []Result, limit int, lambda float64) []Result {
	if lambda <= 0 {
		lambda = defaultDiversityLambda
	}
	if limit <= 0 || limit >= len(scored) {
		limit = len(scored)
	}

	candidates := append([]Result(nil), scored...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return rankLess(candidates[j], candidates[i])
	})

	if lambda >= 1.0 || limit == 0 {
		if limit > len(candidates) {
			limit = len(candidates)
		}
		return candidates[:limit]
	}

	// MMR only diversifies within the top 2*limit by score, not the full
	// candidate pool: beyond that window a result is already too far down
	// the relevance ranking to be worth trading in for novelty.
	if pool := 2 * limit; pool < len(candidates) {
		candidates = candidates[:pool]
	}

	selected := make([]Result, 0, limit)
	remaining := candidates

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := 0
		bestScore := mmrScore(remaining[0], selected, lambda)
		for i := 1; i < len(remaining); i++ {
			s := mmrScore(remaining[i], selected, lambda)
			if s > bestScore {
				bestScore = s
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func mmrScore(candidate Result, selected []Result, lambda float64) float64 {
	if len(selected) == 0 {
		return candidate.Score
	}
	maxSim := 0.0
	for _, s := range selected {
		sim := similarity(candidate, s)
		if sim > maxSim {
			maxSim = sim
		}
	}
	return lambda*candidate.Score - (1-lambda)*maxSim
}

// similarity approximates episode-to-episode similarity via the Jaccard
// overlap of their tool sequences, the cheapest signal already computed
// during extraction and available on every completed episode.
func similarity(a, b Result) float64 {
	return mathutil.JaccardSimilarity(a.Episode.ToolSequence(), b.Episode.ToolSequence())
}

// rankLess implements the tie-breaking rule: score descending, then
// end_time descending (more recent first), then id lexicographically
// ascending.
func rankLess(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	aEnd, bEnd := endTimeOf(a), endTimeOf(b)
	if !aEnd.Equal(bEnd) {
		return aEnd.Before(bEnd)
	}
	return a.Episode.ID.String() > b.Episode.ID.String()
}

func endTimeOf(r Result) time.Time {
	if r.Episode.EndTime != nil {
		return *r.Episode.EndTime
	}
	return r.Episode.StartTime
}
