package extraction

import (
	"github.com/jordigilh/episodic-memory/pkg/pattern"
)

// clusterThreshold is the SimilarityScore at or above which two
// candidate patterns are merged into one rather than kept as separate
// patterns.
const clusterThreshold = 0.8

// minPersistConfidence is the confidence floor below which a merged
// pattern is discarded rather than persisted.
const minPersistConfidence = 0.7

// Deduplicate groups candidates by SimilarityKey, clusters within each
// group by pairwise SimilarityScore, and merges clustered patterns with
// MergeWith. Patterns whose final confidence falls below
// minPersistConfidence are dropped. The input order is not preserved;
// callers needing stability should sort the result themselves.
func Deduplicate(candidates []*pattern.Pattern) ([]*pattern.Pattern, error) {
	groups := make(map[string][]*pattern.Pattern)
	for _, p := range candidates {
		key := p.SimilarityKey()
		groups[key] = append(groups[key], p)
	}

	var out []*pattern.Pattern
	for _, group := range groups {
		clustered, err := clusterGroup(group)
		if err != nil {
			return nil, err
		}
		for _, p := range clustered {
			if p.Confidence < minPersistConfidence {
				continue
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// clusterGroup greedily merges patterns within a single SimilarityKey
// group whose pairwise SimilarityScore meets clusterThreshold, folding
// each newly merged pattern back into the working set so a chain of
// near-duplicates collapses to one representative.
func clusterGroup(group []*pattern.Pattern) ([]*pattern.Pattern, error) {
	working := append([]*pattern.Pattern(nil), group...)

	for {
		merged := false
		for i := 0; i < len(working); i++ {
			for j := i + 1; j < len(working); j++ {
				if working[i].SimilarityScore(working[j]) < clusterThreshold {
					continue
				}
				combined, err := working[i].MergeWith(working[j])
				if err != nil {
					return nil, err
				}
				working[i] = combined
				working = append(working[:j], working[j+1:]...)
				merged = true
				break
			}
			if merged {
				break
			}
		}
		if !merged {
			break
		}
	}
	return working, nil
}
