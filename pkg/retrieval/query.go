// Package retrieval implements the hierarchical candidate selection,
// weighted scoring, and MMR diversification pipeline, with a
// degraded-mode flat scan fallback when the spatiotemporal index
// cannot narrow the candidate set.
package retrieval

import (
	"time"

	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/validation"
)

// Query is a validated retrieval request.
type Query struct {
	Text     string
	Domain   string
	TaskType episode.TaskType
	Tags     []string
	Limit    int
	Since    time.Time
	Until    time.Time
}

// NewQuery validates and constructs a Query. limitMax bounds Limit
// (RetrievalConfig.LimitMax); limit must be in [1, limitMax].
func NewQuery(text, domain string, taskType episode.TaskType, tags []string, limit, limitMax int) (Query, error) {
	if err := validation.ValidateQueryText(text); err != nil {
		return Query{}, err
	}
	if err := validation.ValidateLimit(limit, limitMax); err != nil {
		return Query{}, err
	}
	for _, t := range tags {
		if err := validation.ValidateTag(t); err != nil {
			return Query{}, err
		}
	}
	return Query{
		Text:     text,
		Domain:   domain,
		TaskType: taskType,
		Tags:     append([]string(nil), tags...),
		Limit:    limit,
	}, nil
}

// Result is one scored, retrieved episode.
type Result struct {
	Episode *episode.Episode
	Score   float64
}
