package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"proact/internal/domain"
)

// Analysis event types. Cycle events use domain.EventType values.
const (
	PughComputed      = "analysis.pugh_computed"
	DQComputed        = "analysis.dq_computed"
	TradeoffsComputed = "analysis.tradeoffs_computed"
	SessionCreated    = "session.created"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Record is one row to append to the event log.
type Record struct {
	Type      string
	SessionID string
	CycleID   string
	Component string
	ActorID   string
	Payload   EventPayload
	// At overrides the writer clock when set.
	At time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	at := rec.At
	if at.IsZero() {
		at = w.Now()
	}
	payload := rec.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,session_id,cycle_id,component,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		at.UTC().Format(time.RFC3339Nano), rec.Type, nullable(rec.SessionID), nullable(rec.CycleID), nullable(rec.Component), rec.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", rec.Type, err)
	}
	return nil
}

// AppendDomain persists events drained from a cycle, in order, inside the
// transaction that persisted the cycle.
func (w Writer) AppendDomain(ctx context.Context, tx *sql.Tx, actorID string, evts []domain.Event) error {
	for _, e := range evts {
		rec := Record{
			Type:      string(e.Type),
			SessionID: e.SessionID,
			CycleID:   e.CycleID,
			Component: string(e.Component),
			ActorID:   actorID,
			Payload:   EventPayload(e.Payload()),
			At:        e.At,
		}
		if err := w.Append(ctx, tx, rec); err != nil {
			return err
		}
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
