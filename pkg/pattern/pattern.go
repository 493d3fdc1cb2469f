// Package pattern implements the Pattern closed sum type: recurring
// structure extracted from episodes, clustered and merged by similarity
// rather than dispatched through an open interface hierarchy.
package pattern

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/pkg/mathutil"
)

// Kind tags which of the four variants a Pattern carries. The set is
// closed; extraction only ever produces one of these four.
type Kind int

const (
	KindToolSequence Kind = iota
	KindDecisionPoint
	KindErrorRecovery
	KindContextPattern
)

func (k Kind) String() string {
	switch k {
	case KindToolSequence:
		return "tool_sequence"
	case KindDecisionPoint:
		return "decision_point"
	case KindErrorRecovery:
		return "error_recovery"
	case KindContextPattern:
		return "context_pattern"
	default:
		return "unknown"
	}
}

// ConfidenceFloor is the threshold below which a deduplicated pattern is
// discarded rather than persisted (spec default 0.7).
const ConfidenceFloor = 0.7

// ToolSequenceData is a recurring ordered tool call sequence within a
// context class.
type ToolSequenceData struct {
	Tools       []string
	ContextHash string
	Frequency   int
}

// DecisionPointData is an observed branch decision with outcome.
type DecisionPointData struct {
	Condition    string
	ChosenAction string
	Alternatives []string
	SuccessRate  float64
}

// ErrorRecoveryData is a remedial step sequence keyed by an error
// signature (tool + normalized message).
type ErrorRecoveryData struct {
	ErrorSignature string
	RecoverySteps  []string
	SuccessRate    float64
}

// ContextPatternData is aggregate behavior associated with a context
// class (domain + task type + complexity).
type ContextPatternData struct {
	ContextSignature string
	TypicalSteps     []string
	Evidence         []uuid.UUID
}

// Pattern is the closed sum type over the four variants. Exactly one of
// the variant fields is non-nil, selected by Kind. Immutable once
// constructed except via MergeWith, which returns a new merged Pattern
// rather than mutating the receiver.
type Pattern struct {
	ID         uuid.UUID
	Kind       Kind
	Confidence float64
	CreatedAt  time.Time
	UpdatedAt  time.Time

	ToolSequence   *ToolSequenceData
	DecisionPoint  *DecisionPointData
	ErrorRecovery  *ErrorRecoveryData
	ContextPattern *ContextPatternData
}

func newBase(kind Kind, confidence float64) (*Pattern, error) {
	if confidence < 0 || confidence > 1 {
		return nil, apperrors.InvalidInputf("confidence %v must be in [0,1]", confidence)
	}
	now := time.Now().UTC()
	return &Pattern{
		ID:         uuid.New(),
		Kind:       kind,
		Confidence: confidence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NewToolSequence constructs a ToolSequence pattern. Rejects fewer than
// two tools (a sequence of one is not a sequence) or a zero frequency.
func NewToolSequence(tools []string, contextHash string, frequency int, confidence float64) (*Pattern, error) {
	if len(tools) < 2 {
		return nil, apperrors.InvalidInput("tool sequence must contain at least two tools")
	}
	if contextHash == "" {
		return nil, apperrors.InvalidInput("tool sequence requires a context hash")
	}
	if frequency < 1 {
		return nil, apperrors.InvalidInput("tool sequence frequency must be at least 1")
	}
	p, err := newBase(KindToolSequence, confidence)
	if err != nil {
		return nil, err
	}
	toolsCopy := append([]string(nil), tools...)
	p.ToolSequence = &ToolSequenceData{Tools: toolsCopy, ContextHash: contextHash, Frequency: frequency}
	return p, nil
}

// NewDecisionPoint constructs a DecisionPoint pattern.
func NewDecisionPoint(condition, chosenAction string, alternatives []string, successRate, confidence float64) (*Pattern, error) {
	if condition == "" {
		return nil, apperrors.InvalidInput("decision point requires a condition")
	}
	if chosenAction == "" {
		return nil, apperrors.InvalidInput("decision point requires a chosen action")
	}
	if successRate < 0 || successRate > 1 {
		return nil, apperrors.InvalidInputf("success rate %v must be in [0,1]", successRate)
	}
	p, err := newBase(KindDecisionPoint, confidence)
	if err != nil {
		return nil, err
	}
	p.DecisionPoint = &DecisionPointData{
		Condition:    condition,
		ChosenAction: chosenAction,
		Alternatives: append([]string(nil), alternatives...),
		SuccessRate:  successRate,
	}
	return p, nil
}

// NewErrorRecovery constructs an ErrorRecovery pattern.
func NewErrorRecovery(errorSignature string, recoverySteps []string, successRate, confidence float64) (*Pattern, error) {
	if errorSignature == "" {
		return nil, apperrors.InvalidInput("error recovery requires an error signature")
	}
	if len(recoverySteps) == 0 {
		return nil, apperrors.InvalidInput("error recovery requires at least one recovery step")
	}
	if successRate < 0 || successRate > 1 {
		return nil, apperrors.InvalidInputf("success rate %v must be in [0,1]", successRate)
	}
	p, err := newBase(KindErrorRecovery, confidence)
	if err != nil {
		return nil, err
	}
	p.ErrorRecovery = &ErrorRecoveryData{
		ErrorSignature: errorSignature,
		RecoverySteps:  append([]string(nil), recoverySteps...),
		SuccessRate:    successRate,
	}
	return p, nil
}

// NewContextPattern constructs a ContextPattern pattern.
func NewContextPattern(contextSignature string, typicalSteps []string, evidence []uuid.UUID, confidence float64) (*Pattern, error) {
	if contextSignature == "" {
		return nil, apperrors.InvalidInput("context pattern requires a context signature")
	}
	if len(evidence) == 0 {
		return nil, apperrors.InvalidInput("context pattern requires at least one evidence episode")
	}
	p, err := newBase(KindContextPattern, confidence)
	if err != nil {
		return nil, err
	}
	p.ContextPattern = &ContextPatternData{
		ContextSignature: contextSignature,
		TypicalSteps:     append([]string(nil), typicalSteps...),
		Evidence:         append([]uuid.UUID(nil), evidence...),
	}
	return p, nil
}

// SimilarityKey returns the stable bucketing string the deduplicator
// groups candidate patterns by before pairwise clustering.
func (p *Pattern) SimilarityKey() string {
	switch p.Kind {
	case KindToolSequence:
		return "tool_sequence|" + p.ToolSequence.ContextHash + "|" + strings.Join(p.ToolSequence.Tools, ">")
	case KindDecisionPoint:
		return "decision_point|" + p.DecisionPoint.Condition
	case KindErrorRecovery:
		return "error_recovery|" + p.ErrorRecovery.ErrorSignature
	case KindContextPattern:
		return "context_pattern|" + p.ContextPattern.ContextSignature
	default:
		return "unknown"
	}
}

// SimilarityScore is reflexive (1 with itself), symmetric, and zero
// across variants of different Kind.
func (p *Pattern) SimilarityScore(other *Pattern) float64 {
	if other == nil || p.Kind != other.Kind {
		return 0
	}
	switch p.Kind {
	case KindToolSequence:
		if p.ToolSequence.ContextHash != other.ToolSequence.ContextHash {
			return 0
		}
		return mathutil.JaccardSimilarity(p.ToolSequence.Tools, other.ToolSequence.Tools)
	case KindDecisionPoint:
		if p.DecisionPoint.Condition != other.DecisionPoint.Condition {
			return 0
		}
		return 1 - mathutil.Clamp(absFloat(p.DecisionPoint.SuccessRate-other.DecisionPoint.SuccessRate), 0, 1)
	case KindErrorRecovery:
		if p.ErrorRecovery.ErrorSignature != other.ErrorRecovery.ErrorSignature {
			return 0
		}
		return mathutil.JaccardSimilarity(p.ErrorRecovery.RecoverySteps, other.ErrorRecovery.RecoverySteps)
	case KindContextPattern:
		if p.ContextPattern.ContextSignature != other.ContextPattern.ContextSignature {
			return 0
		}
		return mathutil.JaccardSimilarity(p.ContextPattern.TypicalSteps, other.ContextPattern.TypicalSteps)
	default:
		return 0
	}
}

// MergeWith folds a duplicate of the same Kind into a new Pattern,
// averaging rates and unioning evidence. The receiver and other are left
// unmodified. Rejects merging patterns of different Kind.
func (p *Pattern) MergeWith(other *Pattern) (*Pattern, error) {
	if other == nil {
		return nil, apperrors.InvalidInput("cannot merge with a nil pattern")
	}
	if p.Kind != other.Kind {
		return nil, apperrors.InvalidInputf("cannot merge pattern kind %s with %s", p.Kind, other.Kind)
	}

	merged := &Pattern{
		ID:         p.ID,
		Kind:       p.Kind,
		Confidence: mathutil.Clamp((p.Confidence+other.Confidence)/2, 0, 1),
		CreatedAt:  earlier(p.CreatedAt, other.CreatedAt),
		UpdatedAt:  time.Now().UTC(),
	}

	switch p.Kind {
	case KindToolSequence:
		merged.ToolSequence = &ToolSequenceData{
			Tools:       p.ToolSequence.Tools,
			ContextHash: p.ToolSequence.ContextHash,
			Frequency:   p.ToolSequence.Frequency + other.ToolSequence.Frequency,
		}
	case KindDecisionPoint:
		merged.DecisionPoint = &DecisionPointData{
			Condition:    p.DecisionPoint.Condition,
			ChosenAction: p.DecisionPoint.ChosenAction,
			Alternatives: unionStrings(p.DecisionPoint.Alternatives, other.DecisionPoint.Alternatives),
			SuccessRate:  mathutil.Mean([]float64{p.DecisionPoint.SuccessRate, other.DecisionPoint.SuccessRate}),
		}
	case KindErrorRecovery:
		merged.ErrorRecovery = &ErrorRecoveryData{
			ErrorSignature: p.ErrorRecovery.ErrorSignature,
			RecoverySteps:  unionStrings(p.ErrorRecovery.RecoverySteps, other.ErrorRecovery.RecoverySteps),
			SuccessRate:    mathutil.Mean([]float64{p.ErrorRecovery.SuccessRate, other.ErrorRecovery.SuccessRate}),
		}
	case KindContextPattern:
		merged.ContextPattern = &ContextPatternData{
			ContextSignature: p.ContextPattern.ContextSignature,
			TypicalSteps:     unionStrings(p.ContextPattern.TypicalSteps, other.ContextPattern.TypicalSteps),
			Evidence:         unionUUIDs(p.ContextPattern.Evidence, other.ContextPattern.Evidence),
		}
	}

	return merged, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	result := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		result = append(result, s)
	}
	return result
}

func unionUUIDs(a, b []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(a)+len(b))
	result := make([]uuid.UUID, 0, len(a)+len(b))
	for _, id := range append(append([]uuid.UUID(nil), a...), b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].String() < result[j].String() })
	return result
}

// Heuristic is a condition-action rule derived from a cluster of
// patterns, pruned below HeuristicConfidenceFloor.
type Heuristic struct {
	ID                 uuid.UUID
	ConditionPredicate string
	ActionTemplate     string
	Confidence         float64
	EvidenceCount      int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HeuristicConfidenceFloor is the threshold below which a heuristic is
// pruned (spec default 0.6).
const HeuristicConfidenceFloor = 0.6

// NewHeuristic validates and constructs a Heuristic.
func NewHeuristic(conditionPredicate, actionTemplate string, confidence float64, evidenceCount int) (*Heuristic, error) {
	if conditionPredicate == "" {
		return nil, apperrors.InvalidInput("heuristic requires a condition predicate")
	}
	if actionTemplate == "" {
		return nil, apperrors.InvalidInput("heuristic requires an action template")
	}
	if confidence < 0 || confidence > 1 {
		return nil, apperrors.InvalidInputf("confidence %v must be in [0,1]", confidence)
	}
	if evidenceCount < 1 {
		return nil, apperrors.InvalidInput("heuristic requires at least one supporting episode")
	}
	now := time.Now().UTC()
	return &Heuristic{
		ID:                 uuid.New(),
		ConditionPredicate: conditionPredicate,
		ActionTemplate:     actionTemplate,
		Confidence:         confidence,
		EvidenceCount:      evidenceCount,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}
