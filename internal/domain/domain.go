package domain

// Session owns a family of cycles (an original cycle and its branches).
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	OwnerID   string `json:"owner_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// LogEvent is a row of the persisted event log.
type LogEvent struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	CycleID   string `json:"cycle_id,omitempty"`
	Component string `json:"component,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

// AnalysisRun is a stored analysis result for one cycle, tagged with the
// component versions it was computed from.
type AnalysisRun struct {
	ID                  string  `json:"id"`
	CycleID             string  `json:"cycle_id"`
	ConsequencesVersion *uint64 `json:"consequences_version,omitempty"`
	DQVersion           *uint64 `json:"dq_version,omitempty"`
	ResultJSON          string  `json:"result_json"`
	ActorID             string  `json:"actor_id"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
}
