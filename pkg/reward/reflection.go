package reward

import (
	"fmt"
	"time"

	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/mathutil"
)

// Reflect generates a structured, display-only Reflection for a
// completed episode: successes worth repeating, improvements worth
// flagging, and insights about tool usage. Returns nil for an episode
// that is not yet complete.
func Reflect(ep *episode.Episode) *episode.Reflection {
	if !ep.IsComplete() {
		return nil
	}

	r := &episode.Reflection{
		GeneratedAt: time.Now().UTC(),
	}

	r.Successes = successes(ep)
	r.Improvements = improvements(ep)
	r.Insights = insights(ep)
	return r
}

func successes(ep *episode.Episode) []string {
	var out []string
	if ep.Outcome != nil && ep.Outcome.Kind == episode.OutcomeSuccess && ep.FailedStepCount() == 0 {
		out = append(out, "completed without any failed steps")
	}
	if len(ep.Steps) > 0 && len(ep.Steps) <= SingleToolPathMaxSteps {
		out = append(out, "resolved in a minimal number of steps")
	}
	return out
}

func improvements(ep *episode.Episode) []string {
	var out []string

	if b := bottleneckSteps(ep); len(b) > 0 {
		for _, s := range b {
			out = append(out, fmt.Sprintf("step %d (%s) took disproportionately long relative to the episode's average", s.Number, s.Tool))
		}
	}

	if redundant := redundantTools(ep); len(redundant) > 0 {
		for tool, count := range redundant {
			out = append(out, fmt.Sprintf("tool %q was invoked %d times, suggesting a missed shortcut or cached result", tool, count))
		}
	}

	if ep.Outcome != nil && ep.Outcome.Kind != episode.OutcomeSuccess {
		out = append(out, "outcome did not reach full success: "+ep.Outcome.Reason)
	}

	return out
}

func insights(ep *episode.Episode) []string {
	var out []string
	seq := ep.ToolSequence()
	if len(seq) > 0 {
		out = append(out, fmt.Sprintf("tool sequence: %v", seq))
	}
	if ep.FailedStepCount() > 0 {
		out = append(out, fmt.Sprintf("%d of %d steps failed before recovery", ep.FailedStepCount(), len(ep.Steps)))
	}
	return out
}

// bottleneckSteps returns steps whose latency exceeds
// BottleneckLatencyRatio times the episode's mean step latency.
func bottleneckSteps(ep *episode.Episode) []episode.ExecutionStep {
	if len(ep.Steps) == 0 {
		return nil
	}
	latencies := make([]float64, len(ep.Steps))
	for i, s := range ep.Steps {
		latencies[i] = float64(s.LatencyMs)
	}
	mean := mathutil.Mean(latencies)
	if mean <= 0 {
		return nil
	}
	var out []episode.ExecutionStep
	for _, s := range ep.Steps {
		if float64(s.LatencyMs) >= mean*BottleneckLatencyRatio {
			out = append(out, s)
		}
	}
	return out
}

// redundantTools returns tools invoked at least RedundancyMinRepeat
// times within the episode, keyed by tool name with their count.
func redundantTools(ep *episode.Episode) map[string]int {
	counts := make(map[string]int)
	for _, s := range ep.Steps {
		counts[s.Tool]++
	}
	out := make(map[string]int)
	for tool, n := range counts {
		if n >= RedundancyMinRepeat {
			out[tool] = n
		}
	}
	return out
}
