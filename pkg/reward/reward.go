// Package reward computes the deterministic scalar reward signal an
// episode's outcome earns, and generates the structured, display-only
// reflection attached to a completed episode.
package reward

import (
	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/mathutil"
)

// Baseline carries the comparison point Reward needs for the efficiency
// term. ExpectedDurationSeconds is optional: a zero value means no prior
// expectation exists for this context, and efficiency defaults to 1.0.
type Baseline struct {
	ExpectedDurationSeconds float64
}

// Reward computes a deterministic scalar reward for a completed episode
// by combining an efficiency term (actual vs. expected duration) and a
// quality term (outcome signal), per the Open Question #1 resolution in
// DESIGN.md. Returns 0 for an episode that is not yet complete.
func Reward(ep *episode.Episode, baseline Baseline) float64 {
	if !ep.IsComplete() {
		return 0
	}
	efficiency := efficiencyTerm(ep, baseline)
	quality := qualityTerm(ep)
	return EfficiencyWeight*efficiency + QualityWeight*quality
}

func efficiencyTerm(ep *episode.Episode, baseline Baseline) float64 {
	if baseline.ExpectedDurationSeconds <= 0 {
		return 1.0
	}
	actual := ep.Duration().Seconds()
	if actual <= 0 {
		return 1.0
	}
	return mathutil.Clamp(baseline.ExpectedDurationSeconds/actual, 0, 2)
}

func qualityTerm(ep *episode.Episode) float64 {
	signal := outcomeSignal(ep)
	return mathutil.Clamp(1+signal, 0, 2)
}

// outcomeSignal implements the three-way split from Open Question #1:
// a success with no failed steps is "clean", a success that needed
// corrective steps is neutral, and any non-success outcome is negative.
func outcomeSignal(ep *episode.Episode) float64 {
	if ep.Outcome == nil {
		return SignalFailure
	}
	switch ep.Outcome.Kind {
	case episode.OutcomeSuccess:
		if ep.FailedStepCount() == 0 {
			return SignalCleanSuccess
		}
		return SignalCorrectedSuccess
	case episode.OutcomePartialSuccess:
		return SignalCorrectedSuccess
	default:
		return SignalFailure
	}
}
