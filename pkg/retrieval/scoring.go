package retrieval

import (
	"time"

	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/mathutil"
)

// Scoring weights: text match, context match, and temporal recency sum
// to 1.0.
const (
	textMatchWeight    = 0.4
	contextMatchWeight = 0.3
	temporalWeight     = 0.3
)

// defaultRecencyHalfLife matches SPEC_FULL.md §6's RetrievalConfig
// default (14 days).
const defaultRecencyHalfLife = 14 * 24 * time.Hour

// defaultTemporalBiasWeight leaves the recency term unscaled when a
// Retriever's config doesn't set one.
const defaultTemporalBiasWeight = 1.0

// ScoreParams carries the tunables a Retriever threads through to score.
type ScoreParams struct {
	RecencyHalfLife    time.Duration
	TemporalBiasWeight float64
	Now                time.Time
}

// score computes a candidate episode's weighted relevance to q: a
// Jaccard text-match between tokenized query text and the episode's
// description and tags, a context-match term rewarding domain and task
// type agreement, and an exponentially decayed recency term optionally
// scaled by TemporalBiasWeight.
func score(ep *episode.Episode, q Query, params ScoreParams) float64 {
	textScore := textMatch(ep, q)
	contextScore := contextMatch(ep, q)
	recencyScore := recency(ep, params)

	biasWeight := params.TemporalBiasWeight
	if biasWeight <= 0 {
		biasWeight = defaultTemporalBiasWeight
	}

	return textMatchWeight*textScore + contextMatchWeight*contextScore + temporalWeight*biasWeight*recencyScore
}

func textMatch(ep *episode.Episode, q Query) float64 {
	queryTokens := tokenize(q.Text)
	if len(queryTokens) == 0 {
		return 0
	}
	docTokens := tokenize(ep.Description)
	for _, t := range ep.Tags {
		docTokens = append(docTokens, t)
	}
	return mathutil.JaccardSimilarity(queryTokens, docTokens)
}

func contextMatch(ep *episode.Episode, q Query) float64 {
	score := 0.0
	terms := 0.0

	if q.Domain != "" {
		terms++
		if ep.Context.Domain == q.Domain {
			score++
		}
	}
	if q.TaskType != episode.TaskTypeUnknown {
		terms++
		if ep.Context.TaskType == q.TaskType {
			score++
		}
	}
	if len(q.Tags) > 0 {
		terms++
		score += mathutil.JaccardSimilarity(q.Tags, ep.Tags)
	}

	if terms == 0 {
		return 1.0
	}
	return score / terms
}

func recency(ep *episode.Episode, params ScoreParams) float64 {
	reference := ep.StartTime
	if ep.EndTime != nil {
		reference = *ep.EndTime
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	halfLife := params.RecencyHalfLife
	if halfLife <= 0 {
		halfLife = defaultRecencyHalfLife
	}
	elapsed := now.Sub(reference).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return mathutil.ExponentialDecay(elapsed, halfLife.Seconds())
}
