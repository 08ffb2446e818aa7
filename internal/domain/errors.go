package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidationFailed          = errors.New("validation failed")
	ErrInvalidStateTransition    = errors.New("invalid state transition")
	ErrPreviousComponentRequired = errors.New("previous component required")
	ErrConcurrencyConflict       = errors.New("concurrency conflict")
	ErrNotFound                  = errors.New("not found")

	ErrComponentNotFound = fmt.Errorf("component %w", ErrNotFound)
	ErrCycleNotFound     = fmt.Errorf("cycle %w", ErrNotFound)
	ErrSessionNotFound   = fmt.Errorf("session %w", ErrNotFound)

	// ErrCycleNotActive is returned for any mutation of a completed or
	// archived cycle. It also matches ErrInvalidStateTransition.
	ErrCycleNotActive error = &cycleStateError{}
)

type cycleStateError struct{}

func (*cycleStateError) Error() string { return "cycle is not active" }

func (*cycleStateError) Is(target error) bool { return target == ErrInvalidStateTransition }

// ValidationError describes an output rejected by the schema check or by a
// stage completion rule.
type ValidationError struct {
	Component ComponentType
	Rule      string
	Field     string
	Message   string
}

// Completion rule identifiers carried by ValidationError.Rule.
const (
	RuleSchema                 = "schema"
	RuleOutputRequired         = "output_required"
	RuleInsufficientOptions    = "insufficient_alternatives"
	RuleStatusQuoMissing       = "status_quo_missing"
	RuleDuplicateOption        = "duplicate_option"
	RuleDuplicateCriterion     = "duplicate_criterion"
	RuleDuplicateCell          = "duplicate_rating"
	RuleFundamentalObjective   = "fundamental_objective_required"
	RuleIncompleteTable        = "incomplete_consequences"
	RuleUnknownReference       = "unknown_reference"
	RuleRatingOutOfRange       = "rating_out_of_range"
	RuleDQElementCount         = "dq_element_count"
	RuleDQScoreOutOfRange      = "dq_score_out_of_range"
	RuleDecisionStatement      = "decision_statement_required"
	RuleRecommendationRequired = "selected_option_required"
)

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s output invalid (%s)", e.Component, e.Rule)
	if e.Field != "" {
		msg += " at " + e.Field
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// IsSchemaFailure reports whether the output failed the generic shape check
// rather than a completion rule.
func (e *ValidationError) IsSchemaFailure() bool { return e.Rule == RuleSchema }

type TransitionError struct {
	Component ComponentType
	From      ComponentStatus
	To        ComponentStatus
	Reason    string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid %s transition %s -> %s", e.Component, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

type PrerequisiteError struct {
	Component ComponentType
	Requires  ComponentType
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("%s requires %s to be started first", e.Component, e.Requires)
}

func (e *PrerequisiteError) Unwrap() error { return ErrPreviousComponentRequired }

type ConcurrencyError struct {
	Component ComponentType
	Expected  uint64
	Actual    uint64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s version conflict: expected %d, current %d", e.Component, e.Expected, e.Actual)
}

func (e *ConcurrencyError) Unwrap() error { return ErrConcurrencyConflict }
