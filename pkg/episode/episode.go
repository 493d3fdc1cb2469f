// Package episode defines the Episode and ExecutionStep types: records of a
// single agent task attempt and its step-by-step trace.
package episode

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/pkg/validation"
)

// Complexity classifies the declared difficulty of a task, feeding both the
// reward function's complexity factor and context-pattern bucketing.
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityModerate
	ComplexityComplex
	ComplexityExpert
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityModerate:
		return "moderate"
	case ComplexityComplex:
		return "complex"
	case ComplexityExpert:
		return "expert"
	default:
		return "unknown"
	}
}

// Weight returns the reward-function complexity multiplier (spec: Simple=1.0
// ... Expert=1.5).
func (c Complexity) Weight() float64 {
	switch c {
	case ComplexitySimple:
		return 1.0
	case ComplexityModerate:
		return 1.15
	case ComplexityComplex:
		return 1.3
	case ComplexityExpert:
		return 1.5
	default:
		return 1.0
	}
}

// TaskType enumerates the kind of task an episode performs.
type TaskType int

const (
	TaskTypeUnknown TaskType = iota
	TaskTypeDebugging
	TaskTypeFeatureImplementation
	TaskTypeRefactoring
	TaskTypeInvestigation
	TaskTypeRemediation
	TaskTypeReview
)

func (t TaskType) String() string {
	switch t {
	case TaskTypeDebugging:
		return "debugging"
	case TaskTypeFeatureImplementation:
		return "feature_implementation"
	case TaskTypeRefactoring:
		return "refactoring"
	case TaskTypeInvestigation:
		return "investigation"
	case TaskTypeRemediation:
		return "remediation"
	case TaskTypeReview:
		return "review"
	default:
		return "unknown"
	}
}

// TaskContext describes the situation an episode executed in.
type TaskContext struct {
	Domain     string
	TaskType   TaskType
	Language   string
	Framework  string
	Complexity Complexity
	Tags       []string
}

// ContextSignature returns the stable bucketing key used by context-pattern
// extraction and the spatiotemporal index's domain/task_type dimensions.
func (c TaskContext) ContextSignature() string {
	return c.Domain + "|" + c.TaskType.String() + "|" + c.Complexity.String()
}

// StepResult is a closed sum type: exactly one of Success or Error is set.
type StepResult struct {
	Success bool
	Output  string
	Message string
}

// ExecutionStep is one tool invocation within an episode. Immutable once
// appended.
type ExecutionStep struct {
	Number      int
	Tool        string
	Action      string
	Result      *StepResult
	LatencyMs   int64
	RecordedAt  time.Time
}

// OutcomeKind is the closed sum type tag for TaskOutcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomePartialSuccess
	OutcomeFailure
)

// TaskOutcome is the terminal result of an episode.
type TaskOutcome struct {
	Kind      OutcomeKind
	Verdict   string
	Artifacts []string
	Reason    string
}

// Reflection is a generated, display-only narrative about an episode.
type Reflection struct {
	Successes    []string
	Improvements []string
	Insights     []string
	GeneratedAt  time.Time
}

// Episode is a record of one agent task attempt.
type Episode struct {
	ID          uuid.UUID
	Description string
	Context     TaskContext
	StartTime   time.Time
	EndTime     *time.Time
	Steps       []ExecutionStep
	Outcome     *TaskOutcome
	Reward      *float64
	Reflection  *Reflection
	Tags        []string
	PatternIDs  []uuid.UUID
	HeuristicIDs []uuid.UUID
}

// New validates inputs and constructs a fresh, in-progress episode. Rejects
// with InvalidInput on malformed description, context, or tags.
func New(description string, ctx TaskContext, tags []string) (*Episode, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperrors.InvalidInput("task description must not be empty")
	}
	if ctx.Domain == "" {
		return nil, apperrors.InvalidInput("task context domain must not be empty")
	}

	normalized, err := normalizeTags(tags)
	if err != nil {
		return nil, err
	}

	return &Episode{
		ID:          uuid.New(),
		Description: description,
		Context:     ctx,
		StartTime:   time.Now().UTC(),
		Tags:        normalized,
	}, nil
}

// normalizeTags lower-cases, trims, deduplicates, and validates tags
// against the [a-z0-9][a-z0-9_-]{1,62} invariant (pkg/validation.ValidateTag),
// the same charset pkg/retrieval's query tags are checked against.
func normalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if err := validation.ValidateTag(t); err != nil {
			return nil, err
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		result = append(result, t)
	}
	return result, nil
}

// AppendStep appends an ExecutionStep, enforcing strictly increasing step
// numbers. Rejects with InvalidInput if the episode is already complete or
// the step number does not exceed the last one.
func (e *Episode) AppendStep(step ExecutionStep) error {
	if e.IsComplete() {
		return apperrors.InvalidInput("cannot log a step on a completed episode")
	}
	if len(e.Steps) > 0 && step.Number <= e.Steps[len(e.Steps)-1].Number {
		return apperrors.InvalidInputf("step number %d must exceed the previous step number %d", step.Number, e.Steps[len(e.Steps)-1].Number)
	}
	if step.RecordedAt.IsZero() {
		step.RecordedAt = time.Now().UTC()
	}
	e.Steps = append(e.Steps, step)
	return nil
}

// Complete finalizes the episode with a terminal outcome. Idempotent calls
// fail with AlreadyComplete.
func (e *Episode) Complete(outcome TaskOutcome) error {
	if e.IsComplete() {
		return apperrors.AlreadyComplete(e.ID.String())
	}
	now := time.Now().UTC()
	e.EndTime = &now
	e.Outcome = &outcome
	return nil
}

// IsComplete reports whether both Outcome and EndTime are present.
func (e *Episode) IsComplete() bool {
	return e.Outcome != nil && e.EndTime != nil
}

// Duration returns the wall-clock duration of a completed episode. Zero for
// an in-progress episode.
func (e *Episode) Duration() time.Duration {
	if !e.IsComplete() {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

// SuccessfulStepCount and FailedStepCount partition the completed steps;
// their sum equals len(Steps) for any episode with results recorded.

func (e *Episode) SuccessfulStepCount() int {
	n := 0
	for _, s := range e.Steps {
		if s.Result != nil && s.Result.Success {
			n++
		}
	}
	return n
}

func (e *Episode) FailedStepCount() int {
	n := 0
	for _, s := range e.Steps {
		if s.Result != nil && !s.Result.Success {
			n++
		}
	}
	return n
}

// ToolSequence returns the ordered list of tool names used, in step order.
func (e *Episode) ToolSequence() []string {
	steps := make([]ExecutionStep, len(e.Steps))
	copy(steps, e.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Number < steps[j].Number })
	tools := make([]string, len(steps))
	for i, s := range steps {
		tools[i] = s.Tool
	}
	return tools
}
