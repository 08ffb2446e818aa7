package domain

import "fmt"

// ComponentType identifies one of the nine PrOACT stages. The order of
// componentOrder is the workflow order and never changes.
type ComponentType string

const (
	IssueRaising    ComponentType = "issue_raising"
	ProblemFrame    ComponentType = "problem_frame"
	Objectives      ComponentType = "objectives"
	Alternatives    ComponentType = "alternatives"
	Consequences    ComponentType = "consequences"
	Tradeoffs       ComponentType = "tradeoffs"
	Recommendation  ComponentType = "recommendation"
	DecisionQuality ComponentType = "decision_quality"
	NotesNextSteps  ComponentType = "notes_next_steps"
)

var componentOrder = [...]ComponentType{
	IssueRaising,
	ProblemFrame,
	Objectives,
	Alternatives,
	Consequences,
	Tradeoffs,
	Recommendation,
	DecisionQuality,
	NotesNextSteps,
}

// ComponentCount is the number of stages in every cycle.
const ComponentCount = len(componentOrder)

var componentNames = map[ComponentType]string{
	IssueRaising:    "Issue Raising",
	ProblemFrame:    "Problem Frame",
	Objectives:      "Objectives",
	Alternatives:    "Alternatives",
	Consequences:    "Consequences",
	Tradeoffs:       "Tradeoffs",
	Recommendation:  "Recommendation",
	DecisionQuality: "Decision Quality",
	NotesNextSteps:  "Notes & Next Steps",
}

// AllComponentTypes returns the stages in workflow order.
func AllComponentTypes() []ComponentType {
	out := make([]ComponentType, len(componentOrder))
	copy(out, componentOrder[:])
	return out
}

// ParseComponentType validates a stage identifier.
func ParseComponentType(s string) (ComponentType, error) {
	t := ComponentType(s)
	if !t.Valid() {
		return "", fmt.Errorf("invalid component type %q", s)
	}
	return t, nil
}

// Index returns the zero-based position of the stage, or -1 if unknown.
func (t ComponentType) Index() int {
	for i, c := range componentOrder {
		if c == t {
			return i
		}
	}
	return -1
}

func (t ComponentType) Valid() bool { return t.Index() >= 0 }

// Next returns the following stage; NotesNextSteps has none.
func (t ComponentType) Next() (ComponentType, bool) {
	i := t.Index()
	if i < 0 || i+1 >= len(componentOrder) {
		return "", false
	}
	return componentOrder[i+1], true
}

// Previous returns the preceding stage; IssueRaising has none.
func (t ComponentType) Previous() (ComponentType, bool) {
	i := t.Index()
	if i <= 0 {
		return "", false
	}
	return componentOrder[i-1], true
}

// Prerequisite is the stage that must be started before t can be.
func (t ComponentType) Prerequisite() (ComponentType, bool) {
	return t.Previous()
}

func (t ComponentType) IsBefore(other ComponentType) bool {
	i, j := t.Index(), other.Index()
	return i >= 0 && j >= 0 && i < j
}

func (t ComponentType) IsAfter(other ComponentType) bool {
	return other.IsBefore(t)
}

// DisplayName is the human label of the stage.
func (t ComponentType) DisplayName() string {
	if n, ok := componentNames[t]; ok {
		return n
	}
	return string(t)
}

// ComponentStatus is the lifecycle state of a single stage.
type ComponentStatus string

const (
	StatusNotStarted    ComponentStatus = "not_started"
	StatusInProgress    ComponentStatus = "in_progress"
	StatusComplete      ComponentStatus = "complete"
	StatusNeedsRevision ComponentStatus = "needs_revision"
)

var validComponentStatuses = map[ComponentStatus]bool{
	StatusNotStarted:    true,
	StatusInProgress:    true,
	StatusComplete:      true,
	StatusNeedsRevision: true,
}

// ParseComponentStatus validates a status string. Empty means NotStarted.
func ParseComponentStatus(s string) (ComponentStatus, error) {
	if s == "" {
		return StatusNotStarted, nil
	}
	st := ComponentStatus(s)
	if !validComponentStatuses[st] {
		return "", fmt.Errorf("invalid component status %q", s)
	}
	return st, nil
}

func (s ComponentStatus) IsStarted() bool { return s != StatusNotStarted && s != "" }

func (s ComponentStatus) AcceptsOutput() bool {
	return s == StatusInProgress || s == StatusNeedsRevision
}

func (s ComponentStatus) IsLocked() bool { return s == StatusComplete }

// CanTransitionTo reports whether moving from s to target is a legal edge.
func (s ComponentStatus) CanTransitionTo(target ComponentStatus) bool {
	if s == target {
		return validComponentStatuses[s]
	}
	switch s {
	case StatusNotStarted:
		return target == StatusInProgress
	case StatusInProgress:
		return target == StatusComplete || target == StatusNeedsRevision
	case StatusComplete:
		return target == StatusNeedsRevision
	case StatusNeedsRevision:
		return target == StatusInProgress || target == StatusComplete
	}
	return false
}

// CycleStatus is the lifecycle state of a cycle.
type CycleStatus string

const (
	CycleActive    CycleStatus = "active"
	CycleCompleted CycleStatus = "completed"
	CycleArchived  CycleStatus = "archived"
)

func ParseCycleStatus(s string) (CycleStatus, error) {
	switch st := CycleStatus(s); st {
	case CycleActive, CycleCompleted, CycleArchived:
		return st, nil
	}
	return "", fmt.Errorf("invalid cycle status %q", s)
}

// IsMutable reports whether components of the cycle may still change.
func (s CycleStatus) IsMutable() bool { return s == CycleActive }
