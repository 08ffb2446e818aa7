package domain

import (
	"errors"
	"fmt"
	"time"
)

// Component is one stage instance inside a Cycle.
type Component struct {
	Type        ComponentType   `json:"type"`
	Status      ComponentStatus `json:"status"`
	Output      Output          `json:"output,omitempty"`
	Version     uint64          `json:"version"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`

	persistedVersion uint64
	dirty            bool
}

// PersistedVersion is the version the component had when it was loaded from
// or last written to storage; 0 for components never persisted.
func (c Component) PersistedVersion() uint64 { return c.persistedVersion }

// Dirty reports whether the component changed since it was persisted.
func (c Component) Dirty() bool { return c.dirty }

func newComponent(t ComponentType, now time.Time) *Component {
	return &Component{Type: t, Status: StatusNotStarted, Version: 1, UpdatedAt: now, dirty: true}
}

func (c *Component) clone() (*Component, error) {
	out, err := cloneOutput(c.Output)
	if err != nil {
		return nil, err
	}
	cp := *c
	cp.Output = out
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	cp.persistedVersion = 0
	cp.dirty = true
	return &cp, nil
}

// Cycle is one attempt through the PrOACT stages. It always holds all nine
// components and is the only way to change them.
type Cycle struct {
	ID            string
	SessionID     string
	ParentCycleID *string
	BranchPoint   *ComponentType
	CreatedAt     time.Time
	UpdatedAt     time.Time

	status      CycleStatus
	currentStep ComponentType
	components  map[ComponentType]*Component
	events      []Event
	clock       func() time.Time
}

// NewCycle creates a cycle with every component NotStarted.
func NewCycle(sessionID string) *Cycle {
	return NewCycleWithClock(sessionID, nil)
}

// NewCycleWithClock is NewCycle with the clock used for every timestamp
// the cycle and its branches record. A nil clock uses the wall clock.
func NewCycleWithClock(sessionID string, clock func() time.Time) *Cycle {
	c := &Cycle{
		ID:          newID(),
		SessionID:   sessionID,
		status:      CycleActive,
		currentStep: IssueRaising,
		components:  make(map[ComponentType]*Component, ComponentCount),
		clock:       clock,
	}
	now := c.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	for _, t := range componentOrder {
		c.components[t] = newComponent(t, now)
	}
	c.record(Event{Type: EventCycleCreated, At: now})
	return c
}

func (c *Cycle) Status() CycleStatus { return c.status }

func (c *Cycle) CurrentStep() ComponentType { return c.currentStep }

func (c *Cycle) IsBranch() bool { return c.ParentCycleID != nil }

// Component returns a copy of the stage instance.
func (c *Cycle) Component(t ComponentType) (Component, error) {
	comp, err := c.component(t)
	if err != nil {
		return Component{}, err
	}
	return *comp, nil
}

// Components returns copies of all stage instances in workflow order.
// Outputs are shared with the cycle and must be treated as read-only.
func (c *Cycle) Components() []Component {
	out := make([]Component, 0, ComponentCount)
	for _, t := range componentOrder {
		out = append(out, *c.components[t])
	}
	return out
}

func (c *Cycle) component(t ComponentType) (*Component, error) {
	comp, ok := c.components[t]
	if !ok {
		return nil, fmt.Errorf("%s: %w", t, ErrComponentNotFound)
	}
	return comp, nil
}

func (c *Cycle) ensureActive() error {
	if !c.status.IsMutable() {
		return fmt.Errorf("cycle %s is %s: %w", c.ID, c.status, ErrCycleNotActive)
	}
	return nil
}

func (c *Cycle) checkPrerequisite(t ComponentType) error {
	prev, ok := t.Prerequisite()
	if !ok {
		return nil
	}
	if !c.components[prev].Status.IsStarted() {
		return &PrerequisiteError{Component: t, Requires: prev}
	}
	return nil
}

func (c *Cycle) setStatus(comp *Component, target ComponentStatus, reason string) error {
	if !comp.Status.CanTransitionTo(target) {
		return &TransitionError{Component: comp.Type, From: comp.Status, To: target, Reason: reason}
	}
	comp.Status = target
	return nil
}

func (c *Cycle) touch(now time.Time) { c.UpdatedAt = now }

// SetClock replaces the clock of a loaded cycle.
func (c *Cycle) SetClock(clock func() time.Time) { c.clock = clock }

func (c *Cycle) now() time.Time {
	if c.clock != nil {
		return c.clock().UTC()
	}
	return timeNow()
}

func (c *Cycle) record(e Event) {
	e.CycleID = c.ID
	e.SessionID = c.SessionID
	c.events = append(c.events, e)
}

// StartComponent moves a NotStarted stage to InProgress and makes it the
// current step.
func (c *Cycle) StartComponent(t ComponentType) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	comp, err := c.component(t)
	if err != nil {
		return err
	}
	if comp.Status != StatusNotStarted {
		return &TransitionError{Component: t, From: comp.Status, To: StatusInProgress, Reason: "component already started"}
	}
	if err := c.checkPrerequisite(t); err != nil {
		return err
	}
	if err := c.setStatus(comp, StatusInProgress, ""); err != nil {
		return err
	}
	now := c.now()
	comp.StartedAt = &now
	comp.UpdatedAt = now
	comp.dirty = true
	c.currentStep = t
	c.touch(now)
	c.record(Event{Type: EventComponentStarted, Component: t, Version: comp.Version, At: now})
	return nil
}

// CompleteComponent locks a stage. When out is nil the stored output is
// checked; otherwise out replaces it and counts as an output update. The
// cursor advances to the next stage, if any.
func (c *Cycle) CompleteComponent(t ComponentType, out Output, v Validator) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	comp, err := c.component(t)
	if err != nil {
		return err
	}
	if !comp.Status.AcceptsOutput() {
		return &TransitionError{Component: t, From: comp.Status, To: StatusComplete, Reason: "component does not accept output"}
	}
	candidate := out
	if candidate == nil {
		candidate = comp.Output
	}
	if err := checkShape(v, t, candidate); err != nil {
		return err
	}
	if err := checkCompletion(t, candidate); err != nil {
		return err
	}
	var stored Output
	if out != nil {
		if stored, err = cloneOutput(out); err != nil {
			return err
		}
	}
	if err := c.setStatus(comp, StatusComplete, ""); err != nil {
		return err
	}
	now := c.now()
	if stored != nil {
		comp.Output = stored
		comp.Version++
		c.record(Event{Type: EventComponentOutputUpdated, Component: t, Version: comp.Version, At: now})
	}
	comp.CompletedAt = &now
	comp.UpdatedAt = now
	comp.dirty = true
	if next, ok := t.Next(); ok {
		c.currentStep = next
	}
	c.touch(now)
	c.record(Event{Type: EventComponentCompleted, Component: t, Version: comp.Version, At: now})
	return nil
}

// UpdateComponentOutput replaces a stage output if expectedVersion matches
// the stored version, and returns the new version. A stale version leaves
// the cycle untouched.
func (c *Cycle) UpdateComponentOutput(t ComponentType, out Output, expectedVersion uint64, v Validator) (uint64, error) {
	if err := c.ensureActive(); err != nil {
		return 0, err
	}
	comp, err := c.component(t)
	if err != nil {
		return 0, err
	}
	if comp.Version != expectedVersion {
		return 0, &ConcurrencyError{Component: t, Expected: expectedVersion, Actual: comp.Version}
	}
	if !comp.Status.AcceptsOutput() {
		reason := "component not started"
		if comp.Status.IsLocked() {
			reason = "component is complete; request a revision first"
		}
		return 0, &TransitionError{Component: t, From: comp.Status, To: comp.Status, Reason: reason}
	}
	if err := checkShape(v, t, out); err != nil {
		return 0, err
	}
	stored, err := cloneOutput(out)
	if err != nil {
		return 0, err
	}
	now := c.now()
	comp.Output = stored
	comp.Version++
	comp.UpdatedAt = now
	comp.dirty = true
	c.touch(now)
	c.record(Event{Type: EventComponentOutputUpdated, Component: t, Version: comp.Version, At: now})
	return comp.Version, nil
}

// ReviseComponent reopens a completed stage as NeedsRevision.
func (c *Cycle) ReviseComponent(t ComponentType) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	comp, err := c.component(t)
	if err != nil {
		return err
	}
	if comp.Status != StatusComplete {
		return &TransitionError{Component: t, From: comp.Status, To: StatusNeedsRevision, Reason: "only complete components can be revised"}
	}
	if err := c.setStatus(comp, StatusNeedsRevision, ""); err != nil {
		return err
	}
	now := c.now()
	comp.UpdatedAt = now
	comp.dirty = true
	c.currentStep = t
	c.touch(now)
	c.record(Event{Type: EventComponentRevisionRequired, Component: t, Version: comp.Version, At: now})
	return nil
}

// NavigateTo moves the cursor without touching any component.
func (c *Cycle) NavigateTo(t ComponentType) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	comp, err := c.component(t)
	if err != nil {
		return err
	}
	if !comp.Status.IsStarted() {
		if err := c.checkPrerequisite(t); err != nil {
			return err
		}
	}
	c.currentStep = t
	c.touch(c.now())
	return nil
}

// BranchAt derives a new cycle that keeps everything up to bp and reopens
// bp itself for revision.
func (c *Cycle) BranchAt(bp ComponentType) (*Cycle, error) {
	if err := c.ensureActive(); err != nil {
		return nil, err
	}
	src, err := c.component(bp)
	if err != nil {
		return nil, err
	}
	if !src.Status.IsStarted() {
		return nil, &TransitionError{Component: bp, From: src.Status, To: StatusNeedsRevision, Reason: "cannot branch at a component that has not been started"}
	}
	now := c.now()
	parentID := c.ID
	point := bp
	child := &Cycle{
		ID:            newID(),
		SessionID:     c.SessionID,
		ParentCycleID: &parentID,
		BranchPoint:   &point,
		CreatedAt:     now,
		UpdatedAt:     now,
		status:        CycleActive,
		currentStep:   bp,
		components:    make(map[ComponentType]*Component, ComponentCount),
		clock:         c.clock,
	}
	for _, t := range componentOrder {
		switch {
		case t.IsBefore(bp):
			cp, err := c.components[t].clone()
			if err != nil {
				return nil, err
			}
			child.components[t] = cp
		case t == bp:
			cp, err := src.clone()
			if err != nil {
				return nil, err
			}
			if err := child.setStatus(cp, StatusNeedsRevision, "branch point"); err != nil {
				return nil, err
			}
			cp.CompletedAt = nil
			cp.UpdatedAt = now
			child.components[t] = cp
		default:
			child.components[t] = newComponent(t, now)
		}
	}
	child.record(Event{Type: EventCycleBranched, ParentCycleID: parentID, BranchPoint: bp, At: now})
	return child, nil
}

// Complete marks the cycle finished; it becomes immutable.
func (c *Cycle) Complete() error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	now := c.now()
	c.status = CycleCompleted
	c.touch(now)
	c.record(Event{Type: EventCycleCompleted, At: now})
	return nil
}

// Archive retires an active or completed cycle.
func (c *Cycle) Archive() error {
	if c.status == CycleArchived {
		return fmt.Errorf("cycle %s already archived: %w", c.ID, ErrInvalidStateTransition)
	}
	now := c.now()
	c.status = CycleArchived
	c.touch(now)
	c.record(Event{Type: EventCycleArchived, At: now})
	return nil
}

// Progress summarizes how far the cycle has come.
type Progress struct {
	Total       int           `json:"total"`
	Started     int           `json:"started"`
	Completed   int           `json:"completed"`
	Percent     int           `json:"percent"`
	CurrentStep ComponentType `json:"current_step"`
	NextStep    ComponentType `json:"next_step,omitempty"`
}

func (c *Cycle) Progress() Progress {
	p := Progress{Total: ComponentCount, CurrentStep: c.currentStep}
	for _, t := range componentOrder {
		comp := c.components[t]
		if comp.Status.IsStarted() {
			p.Started++
		}
		if comp.Status == StatusComplete {
			p.Completed++
		} else if p.NextStep == "" {
			p.NextStep = t
		}
	}
	p.Percent = p.Completed * 100 / p.Total
	return p
}

// TakeEvents returns the queued events and clears the queue.
func (c *Cycle) TakeEvents() []Event {
	evts := c.events
	c.events = nil
	return evts
}

// PendingEvents returns the number of queued events.
func (c *Cycle) PendingEvents() int { return len(c.events) }

// DirtyComponents lists components changed since the last persist.
func (c *Cycle) DirtyComponents() []Component {
	var out []Component
	for _, t := range componentOrder {
		if comp := c.components[t]; comp.dirty {
			out = append(out, *comp)
		}
	}
	return out
}

// MarkPersisted records that the current state has been written.
func (c *Cycle) MarkPersisted() {
	for _, comp := range c.components {
		comp.persistedVersion = comp.Version
		comp.dirty = false
	}
}

// Snapshot is the storage representation of a cycle.
type Snapshot struct {
	ID            string
	SessionID     string
	ParentCycleID *string
	BranchPoint   *ComponentType
	Status        CycleStatus
	CurrentStep   ComponentType
	Components    []Component
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (c *Cycle) Snapshot() Snapshot {
	return Snapshot{
		ID:            c.ID,
		SessionID:     c.SessionID,
		ParentCycleID: c.ParentCycleID,
		BranchPoint:   c.BranchPoint,
		Status:        c.status,
		CurrentStep:   c.currentStep,
		Components:    c.Components(),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// Rehydrate rebuilds a persisted cycle, rejecting snapshots that break the
// aggregate invariants.
func Rehydrate(s Snapshot) (*Cycle, error) {
	if s.ID == "" {
		return nil, errors.New("cycle id is required")
	}
	status, err := ParseCycleStatus(string(s.Status))
	if err != nil {
		return nil, err
	}
	if !s.CurrentStep.Valid() {
		return nil, fmt.Errorf("cycle %s: invalid current step %q", s.ID, s.CurrentStep)
	}
	if s.BranchPoint != nil && !s.BranchPoint.Valid() {
		return nil, fmt.Errorf("cycle %s: invalid branch point %q", s.ID, *s.BranchPoint)
	}
	if len(s.Components) != ComponentCount {
		return nil, fmt.Errorf("cycle %s: expected %d components, got %d", s.ID, ComponentCount, len(s.Components))
	}
	c := &Cycle{
		ID:            s.ID,
		SessionID:     s.SessionID,
		ParentCycleID: s.ParentCycleID,
		BranchPoint:   s.BranchPoint,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		status:        status,
		currentStep:   s.CurrentStep,
		components:    make(map[ComponentType]*Component, ComponentCount),
	}
	for _, comp := range s.Components {
		if !comp.Type.Valid() {
			return nil, fmt.Errorf("cycle %s: invalid component type %q", s.ID, comp.Type)
		}
		if _, dup := c.components[comp.Type]; dup {
			return nil, fmt.Errorf("cycle %s: duplicate component %s", s.ID, comp.Type)
		}
		if _, err := ParseComponentStatus(string(comp.Status)); err != nil {
			return nil, fmt.Errorf("cycle %s: %w", s.ID, err)
		}
		if comp.Version < 1 {
			return nil, fmt.Errorf("cycle %s: component %s has version %d", s.ID, comp.Type, comp.Version)
		}
		if comp.Output != nil && comp.Output.ComponentType() != comp.Type {
			return nil, fmt.Errorf("cycle %s: component %s holds %s output", s.ID, comp.Type, comp.Output.ComponentType())
		}
		cp := comp
		cp.persistedVersion = comp.Version
		cp.dirty = false
		c.components[comp.Type] = &cp
	}
	for _, t := range componentOrder {
		if !c.components[t].Status.IsStarted() {
			continue
		}
		if err := c.checkPrerequisite(t); err != nil {
			return nil, fmt.Errorf("cycle %s: %w", s.ID, err)
		}
	}
	return c, nil
}
