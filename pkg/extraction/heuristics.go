package extraction

import (
	"strings"

	"github.com/jordigilh/episodic-memory/pkg/pattern"
)

// DeriveHeuristics groups the extractors' raw candidate patterns (before
// deduplication collapses them into persisted representatives) by
// similarity key and folds each DecisionPoint or ErrorRecovery cluster
// into one condition-action Heuristic. Clusters whose mean confidence
// falls below pattern.HeuristicConfidenceFloor are dropped, mirroring
// Deduplicate's own confidence floor.
func DeriveHeuristics(candidates []*pattern.Pattern) ([]*pattern.Heuristic, error) {
	groups := make(map[string][]*pattern.Pattern)
	for _, p := range candidates {
		if p.Kind != pattern.KindDecisionPoint && p.Kind != pattern.KindErrorRecovery {
			continue
		}
		groups[p.SimilarityKey()] = append(groups[p.SimilarityKey()], p)
	}

	var out []*pattern.Heuristic
	for _, group := range groups {
		h, err := heuristicFromGroup(group)
		if err != nil {
			return nil, err
		}
		if h != nil {
			out = append(out, h)
		}
	}
	return out, nil
}

// heuristicFromGroup folds one similarity-key cluster into a Heuristic,
// or returns nil if the cluster's mean confidence doesn't clear
// pattern.HeuristicConfidenceFloor.
func heuristicFromGroup(group []*pattern.Pattern) (*pattern.Heuristic, error) {
	var condition, action string
	var confidenceSum float64
	for _, p := range group {
		confidenceSum += p.Confidence
		switch p.Kind {
		case pattern.KindDecisionPoint:
			condition = p.DecisionPoint.Condition
			action = p.DecisionPoint.ChosenAction
		case pattern.KindErrorRecovery:
			condition = p.ErrorRecovery.ErrorSignature
			action = strings.Join(p.ErrorRecovery.RecoverySteps, " then ")
		}
	}
	confidence := confidenceSum / float64(len(group))
	if confidence < pattern.HeuristicConfidenceFloor {
		return nil, nil
	}
	return pattern.NewHeuristic(condition, action, confidence, len(group))
}
