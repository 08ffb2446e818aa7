package server

import (
	"encoding/json"
	"time"

	"proact/internal/analysis"
	"proact/internal/domain"
	"proact/internal/engine"
)

// Request payloads

type CreateSessionRequest struct {
	Title string `json:"title" minLength:"1" maxLength:"200"`
}

type BranchCycleRequest struct {
	BranchPoint string `json:"branch_point" enum:"issue_raising,problem_frame,objectives,alternatives,consequences,tradeoffs,recommendation,decision_quality,notes_next_steps"`
}

// CompleteComponentRequest carries an optional output. When absent the
// stored output is checked and locked.
type CompleteComponentRequest struct {
	Output map[string]any `json:"output,omitempty"`
}

type UpdateOutputRequest struct {
	Output          map[string]any `json:"output"`
	ExpectedVersion uint64         `json:"expected_version" minimum:"1"`
}

type NavigateRequest struct {
	Component string `json:"component" enum:"issue_raising,problem_frame,objectives,alternatives,consequences,tradeoffs,recommendation,decision_quality,notes_next_steps"`
}

// Responses

type SessionResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	OwnerID   string `json:"owner_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ComponentResponse struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Status      string `json:"status" enum:"not_started,in_progress,complete,needs_revision"`
	Version     uint64 `json:"version"`
	Output      any    `json:"output,omitempty"`
	StartedAt   string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt string `json:"completed_at,omitempty" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type CycleResponse struct {
	ID            string              `json:"id"`
	SessionID     string              `json:"session_id"`
	ParentCycleID string              `json:"parent_cycle_id,omitempty"`
	BranchPoint   string              `json:"branch_point,omitempty"`
	Status        string              `json:"status" enum:"active,completed,archived"`
	CurrentStep   string              `json:"current_step"`
	Progress      domain.Progress     `json:"progress"`
	Components    []ComponentResponse `json:"components"`
	CreatedAt     string              `json:"created_at" format:"date-time"`
	UpdatedAt     string              `json:"updated_at" format:"date-time"`
}

type OutputVersionResponse struct {
	Cycle   CycleResponse `json:"cycle"`
	Version uint64        `json:"version"`
}

type ReportResponse struct {
	CycleID             string               `json:"cycle_id"`
	ConsequencesVersion *uint64              `json:"consequences_version,omitempty"`
	Pugh                *analysis.PughResult `json:"pugh,omitempty"`
	DQVersion           *uint64              `json:"dq_version,omitempty"`
	DQ                  *analysis.DQResult   `json:"dq,omitempty"`
	Warnings            []string             `json:"warnings"`
}

type StoredReportResponse struct {
	RunID     string         `json:"run_id"`
	ActorID   string         `json:"actor_id"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	Stale     bool           `json:"stale"`
	Report    ReportResponse `json:"report"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Component string         `json:"component,omitempty"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

// Conversion helpers

func sessionResponse(s domain.Session) SessionResponse {
	return SessionResponse(s)
}

func mapSessions(items []domain.Session) []SessionResponse {
	out := make([]SessionResponse, 0, len(items))
	for _, s := range items {
		out = append(out, sessionResponse(s))
	}
	return out
}

func componentResponse(c domain.Component) ComponentResponse {
	return ComponentResponse{
		Type:        string(c.Type),
		Name:        c.Type.DisplayName(),
		Status:      string(c.Status),
		Version:     c.Version,
		Output:      c.Output,
		StartedAt:   formatTimePtr(c.StartedAt),
		CompletedAt: formatTimePtr(c.CompletedAt),
		UpdatedAt:   formatTime(c.UpdatedAt),
	}
}

func cycleResponse(c *domain.Cycle) CycleResponse {
	res := CycleResponse{
		ID:          c.ID,
		SessionID:   c.SessionID,
		Status:      string(c.Status()),
		CurrentStep: string(c.CurrentStep()),
		Progress:    c.Progress(),
		Components:  []ComponentResponse{},
		CreatedAt:   formatTime(c.CreatedAt),
		UpdatedAt:   formatTime(c.UpdatedAt),
	}
	if c.ParentCycleID != nil {
		res.ParentCycleID = *c.ParentCycleID
	}
	if c.BranchPoint != nil {
		res.BranchPoint = string(*c.BranchPoint)
	}
	for _, comp := range c.Components() {
		res.Components = append(res.Components, componentResponse(comp))
	}
	return res
}

func mapCycles(items []*domain.Cycle) []CycleResponse {
	out := make([]CycleResponse, 0, len(items))
	for _, c := range items {
		out = append(out, cycleResponse(c))
	}
	return out
}

func reportResponse(r engine.Report) ReportResponse {
	return ReportResponse{
		CycleID:             r.CycleID,
		ConsequencesVersion: r.ConsequencesVersion,
		Pugh:                r.Pugh,
		DQVersion:           r.DQVersion,
		DQ:                  r.DQ,
		Warnings:            nonNilSlice(r.Warnings),
	}
}

// isStale reports whether a stored report was computed from component
// versions that have since changed.
func isStale(r engine.Report, c *domain.Cycle) bool {
	differs := func(stored *uint64, t domain.ComponentType) bool {
		comp, err := c.Component(t)
		if err != nil {
			return false
		}
		if stored == nil {
			return comp.Output != nil
		}
		return *stored != comp.Version
	}
	return differs(r.ConsequencesVersion, domain.Consequences) || differs(r.DQVersion, domain.DecisionQuality)
}

func eventResponse(e domain.LogEvent) EventResponse {
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		SessionID: e.SessionID,
		CycleID:   e.CycleID,
		Component: e.Component,
		ActorID:   e.ActorID,
		Payload:   decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
