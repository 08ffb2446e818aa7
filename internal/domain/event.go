package domain

import "time"

// EventType names a domain event queued by a Cycle.
type EventType string

const (
	EventCycleCreated              EventType = "cycle.created"
	EventCycleBranched             EventType = "cycle.branched"
	EventComponentStarted          EventType = "component.started"
	EventComponentCompleted        EventType = "component.completed"
	EventComponentOutputUpdated    EventType = "component.output_updated"
	EventComponentRevisionRequired EventType = "component.revision_requested"
	EventCycleCompleted            EventType = "cycle.completed"
	EventCycleArchived             EventType = "cycle.archived"
)

// Event is a fact recorded by the aggregate. Events are queued on the Cycle
// and drained by the caller with TakeEvents once the cycle is persisted.
type Event struct {
	Type          EventType     `json:"type"`
	CycleID       string        `json:"cycle_id"`
	SessionID     string        `json:"session_id"`
	Component     ComponentType `json:"component,omitempty"`
	Version       uint64        `json:"version,omitempty"`
	ParentCycleID string        `json:"parent_cycle_id,omitempty"`
	BranchPoint   ComponentType `json:"branch_point,omitempty"`
	At            time.Time     `json:"at"`
}

// Payload returns the event-specific attributes for the event log.
func (e Event) Payload() map[string]any {
	p := map[string]any{}
	if e.Component != "" {
		p["component"] = string(e.Component)
	}
	if e.Version > 0 {
		p["version"] = e.Version
	}
	if e.ParentCycleID != "" {
		p["parent_cycle_id"] = e.ParentCycleID
	}
	if e.BranchPoint != "" {
		p["branch_point"] = string(e.BranchPoint)
	}
	return p
}
