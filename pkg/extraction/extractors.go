// Package extraction implements the four pattern extractors and the
// similarity-based deduplicator that clusters their output, run
// concurrently per completed episode by the worker pool in
// pkg/extraction/queue.
package extraction

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/pattern"
)

// minToolSequenceLength is the shortest run of tools extraction treats
// as a candidate sequence pattern.
const minToolSequenceLength = 2

// minOccurrencesForHeuristic is the repeat count (within one episode's
// step list) before a sub-sequence is worth emitting as a pattern at
// all; extraction still emits frequency-1 candidates so the
// deduplicator's cross-episode clustering can raise their confidence
// over time.
const minOccurrencesForHeuristic = 1

// Extractor produces zero or more candidate patterns from one completed
// episode. Each of the four extractors below implements this.
type Extractor interface {
	Extract(ep *episode.Episode) ([]*pattern.Pattern, error)
}

// ToolSequenceExtractor emits a ToolSequence pattern for the episode's
// full ordered tool sequence, when it contains at least two distinct
// tool invocations.
type ToolSequenceExtractor struct{}

func (ToolSequenceExtractor) Extract(ep *episode.Episode) ([]*pattern.Pattern, error) {
	tools := ep.ToolSequence()
	if len(tools) < minToolSequenceLength {
		return nil, nil
	}
	confidence := initialConfidence(ep)
	p, err := pattern.NewToolSequence(tools, ep.Context.ContextSignature(), minOccurrencesForHeuristic, confidence)
	if err != nil {
		return nil, err
	}
	return []*pattern.Pattern{p}, nil
}

// DecisionPointExtractor emits a DecisionPoint pattern for each failed
// step immediately followed by a step using a different tool, treating
// the failed tool as a rejected alternative. The success rate is 1.0 when
// that next step succeeded and 0.0 otherwise.
type DecisionPointExtractor struct{}

func (DecisionPointExtractor) Extract(ep *episode.Episode) ([]*pattern.Pattern, error) {
	var out []*pattern.Pattern
	for i := 0; i < len(ep.Steps)-1; i++ {
		cur := ep.Steps[i]
		next := ep.Steps[i+1]
		if cur.Result == nil || cur.Result.Success {
			continue
		}
		if next.Tool == cur.Tool {
			continue
		}
		condition := fmt.Sprintf("%s failed with action %q", cur.Tool, cur.Action)
		successRate := 0.0
		if next.Result != nil && next.Result.Success {
			successRate = 1.0
		}
		p, err := pattern.NewDecisionPoint(condition, next.Tool, []string{cur.Tool}, successRate, initialConfidence(ep))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ErrorRecoveryExtractor emits an ErrorRecovery pattern whenever a run of
// failed steps is followed by a successful one. The recovery steps are
// the failed tools in order followed by the tool that succeeded.
type ErrorRecoveryExtractor struct{}

func (ErrorRecoveryExtractor) Extract(ep *episode.Episode) ([]*pattern.Pattern, error) {
	var out []*pattern.Pattern
	var failing []episode.ExecutionStep

	flush := func(recoveryStep episode.ExecutionStep) error {
		if len(failing) == 0 {
			return nil
		}
		signature := failing[0].Tool + ":" + strings.ToLower(strings.TrimSpace(failing[0].Result.Message))
		steps := make([]string, 0, len(failing)+1)
		for _, f := range failing {
			steps = append(steps, f.Tool)
		}
		steps = append(steps, recoveryStep.Tool)
		p, err := pattern.NewErrorRecovery(signature, steps, 1.0, initialConfidence(ep))
		if err != nil {
			return err
		}
		out = append(out, p)
		failing = nil
		return nil
	}

	for _, step := range ep.Steps {
		if step.Result == nil {
			continue
		}
		if !step.Result.Success {
			failing = append(failing, step)
			continue
		}
		if err := flush(step); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ContextPatternExtractor emits a ContextPattern summarizing the typical
// step sequence observed for the episode's context class (domain +
// task type + complexity).
type ContextPatternExtractor struct{}

func (ContextPatternExtractor) Extract(ep *episode.Episode) ([]*pattern.Pattern, error) {
	if len(ep.Steps) == 0 {
		return nil, nil
	}
	tools := ep.ToolSequence()
	p, err := pattern.NewContextPattern(ep.Context.ContextSignature(), tools, []uuid.UUID{ep.ID}, initialConfidence(ep))
	if err != nil {
		return nil, err
	}
	return []*pattern.Pattern{p}, nil
}

// initialConfidence seeds a freshly extracted pattern's confidence from
// the episode's outcome: a clean success seeds high confidence, a
// corrected success seeds moderate confidence, and a failure seeds low
// confidence. The deduplicator and effectiveness tracker refine this
// over subsequent observations.
func initialConfidence(ep *episode.Episode) float64 {
	if ep.Outcome == nil {
		return 0.3
	}
	switch ep.Outcome.Kind {
	case episode.OutcomeSuccess:
		if ep.FailedStepCount() == 0 {
			return 0.7
		}
		return 0.5
	case episode.OutcomePartialSuccess:
		return 0.4
	default:
		return 0.2
	}
}

// AllExtractors returns the four extractors in a stable order, suitable
// for fanning out concurrently per episode.
func AllExtractors() []Extractor {
	return []Extractor{
		ToolSequenceExtractor{},
		DecisionPointExtractor{},
		ErrorRecoveryExtractor{},
		ContextPatternExtractor{},
	}
}
