package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"proact/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// ErrNotFound is the domain sentinel so callers can match either.
var ErrNotFound = domain.ErrNotFound

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const tsLayout = time.RFC3339Nano

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func formatTSPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTS(*t)
}

func parseTS(v string) (time.Time, error) {
	return time.Parse(tsLayout, v)
}

func parseTSPtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTS(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableUintPtr(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

// Sessions

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions(id,title,owner_id,created_at) VALUES (?,?,?,?)`,
		s.ID, s.Title, nullable(s.OwnerID), s.CreatedAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var s domain.Session
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,COALESCE(owner_id,''),created_at FROM sessions WHERE id=?`, id).
		Scan(&s.ID, &s.Title, &s.OwnerID, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%s: %w", id, domain.ErrSessionNotFound)
	}
	return s, err
}

func (r Repo) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,COALESCE(owner_id,''),created_at FROM sessions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.Title, &s.OwnerID, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Cycles

// InsertCycle writes a new cycle and all of its components.
func (r Repo) InsertCycle(ctx context.Context, tx *sql.Tx, c *domain.Cycle) error {
	var bp any
	if c.BranchPoint != nil {
		bp = string(*c.BranchPoint)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO cycles(id,session_id,parent_cycle_id,branch_point,status,current_step,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.SessionID, nullableStringPtr(c.ParentCycleID), bp, string(c.Status()), string(c.CurrentStep()),
		formatTS(c.CreatedAt), formatTS(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	for _, comp := range c.Components() {
		output, err := domain.EncodeOutput(comp.Output)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO components(cycle_id,type,position,status,version,output_json,started_at,completed_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
			c.ID, string(comp.Type), comp.Type.Index(), string(comp.Status), int64(comp.Version), nullableBytes(output),
			formatTSPtr(comp.StartedAt), formatTSPtr(comp.CompletedAt), formatTS(comp.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert component %s: %w", comp.Type, err)
		}
	}
	return nil
}

// UpdateCycle writes the cycle row and every dirty component. Each
// component write is a compare-and-set on the version it was loaded with,
// so concurrent edits of different components never collide.
func (r Repo) UpdateCycle(ctx context.Context, tx *sql.Tx, c *domain.Cycle) error {
	res, err := tx.ExecContext(ctx, `UPDATE cycles SET status=?, current_step=?, updated_at=? WHERE id=?`,
		string(c.Status()), string(c.CurrentStep()), formatTS(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", c.ID, domain.ErrCycleNotFound)
	}
	for _, comp := range c.DirtyComponents() {
		output, err := domain.EncodeOutput(comp.Output)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE components SET status=?, version=?, output_json=?, started_at=?, completed_at=?, updated_at=?
WHERE cycle_id=? AND type=? AND version=?`,
			string(comp.Status), int64(comp.Version), nullableBytes(output), formatTSPtr(comp.StartedAt), formatTSPtr(comp.CompletedAt), formatTS(comp.UpdatedAt),
			c.ID, string(comp.Type), int64(comp.PersistedVersion()))
		if err != nil {
			return fmt.Errorf("update component %s: %w", comp.Type, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var actual int64
			if err := tx.QueryRowContext(ctx, `SELECT version FROM components WHERE cycle_id=? AND type=?`, c.ID, string(comp.Type)).Scan(&actual); err != nil {
				return fmt.Errorf("read component %s version: %w", comp.Type, err)
			}
			return &domain.ConcurrencyError{Component: comp.Type, Expected: comp.PersistedVersion(), Actual: uint64(actual)}
		}
	}
	return nil
}

func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

const cycleColumns = `id,session_id,parent_cycle_id,branch_point,status,current_step,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycleRow(row rowScanner) (domain.Snapshot, error) {
	var (
		s                domain.Snapshot
		parent, bp       sql.NullString
		status, step     string
		created, updated string
	)
	if err := row.Scan(&s.ID, &s.SessionID, &parent, &bp, &status, &step, &created, &updated); err != nil {
		return s, err
	}
	if parent.Valid {
		p := parent.String
		s.ParentCycleID = &p
	}
	if bp.Valid {
		t := domain.ComponentType(bp.String)
		s.BranchPoint = &t
	}
	s.Status = domain.CycleStatus(status)
	s.CurrentStep = domain.ComponentType(step)
	var err error
	if s.CreatedAt, err = parseTS(created); err != nil {
		return s, fmt.Errorf("cycle %s created_at: %w", s.ID, err)
	}
	if s.UpdatedAt, err = parseTS(updated); err != nil {
		return s, fmt.Errorf("cycle %s updated_at: %w", s.ID, err)
	}
	return s, nil
}

func scanComponent(row rowScanner) (string, domain.Component, error) {
	var (
		cycleID, typ, status string
		version              int64
		output, started      sql.NullString
		completed            sql.NullString
		updated              string
		comp                 domain.Component
	)
	if err := row.Scan(&cycleID, &typ, &status, &version, &output, &started, &completed, &updated); err != nil {
		return "", comp, err
	}
	comp.Type = domain.ComponentType(typ)
	comp.Status = domain.ComponentStatus(status)
	comp.Version = uint64(version)
	var err error
	if output.Valid && output.String != "" {
		if comp.Output, err = domain.DecodeOutput(comp.Type, []byte(output.String)); err != nil {
			return "", comp, fmt.Errorf("cycle %s component %s output: %w", cycleID, typ, err)
		}
	}
	if comp.StartedAt, err = parseTSPtr(started); err != nil {
		return "", comp, err
	}
	if comp.CompletedAt, err = parseTSPtr(completed); err != nil {
		return "", comp, err
	}
	if comp.UpdatedAt, err = parseTS(updated); err != nil {
		return "", comp, err
	}
	return cycleID, comp, nil
}

const componentColumns = `cycle_id,type,status,version,output_json,started_at,completed_at,updated_at`

func (r Repo) GetCycle(ctx context.Context, id string) (*domain.Cycle, error) {
	return getCycle(ctx, r.DB, id)
}

func (r Repo) GetCycleTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Cycle, error) {
	return getCycle(ctx, tx, id)
}

func getCycle(ctx context.Context, q querier, id string) (*domain.Cycle, error) {
	snap, err := scanCycleRow(q.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, domain.ErrCycleNotFound)
	}
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT `+componentColumns+` FROM components WHERE cycle_id=? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		_, comp, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		snap.Components = append(snap.Components, comp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return domain.Rehydrate(snap)
}

// ListCyclesBySession returns the session's cycles, oldest first.
func (r Repo) ListCyclesBySession(ctx context.Context, sessionID string) ([]*domain.Cycle, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE session_id=? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	var snaps []domain.Snapshot
	index := map[string]int{}
	for rows.Next() {
		snap, err := scanCycleRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[snap.ID] = len(snaps)
		snaps = append(snaps, snap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}

	crow, err := r.DB.QueryContext(ctx, `SELECT c.cycle_id,c.type,c.status,c.version,c.output_json,c.started_at,c.completed_at,c.updated_at
FROM components c JOIN cycles y ON y.id = c.cycle_id WHERE y.session_id=? ORDER BY c.cycle_id, c.position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer crow.Close()
	for crow.Next() {
		cycleID, comp, err := scanComponent(crow)
		if err != nil {
			return nil, err
		}
		if i, ok := index[cycleID]; ok {
			snaps[i].Components = append(snaps[i].Components, comp)
		}
	}
	if err := crow.Err(); err != nil {
		return nil, err
	}

	cycles := make([]*domain.Cycle, 0, len(snaps))
	for _, snap := range snaps {
		c, err := domain.Rehydrate(snap)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, nil
}

// Analysis runs

func (r Repo) InsertAnalysisRun(ctx context.Context, tx *sql.Tx, run domain.AnalysisRun) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO analysis_runs(id,cycle_id,consequences_version,dq_version,result_json,actor_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.CycleID, nullableUintPtr(run.ConsequencesVersion), nullableUintPtr(run.DQVersion), run.ResultJSON, run.ActorID, run.CreatedAt)
	return err
}

func (r Repo) LatestAnalysisRun(ctx context.Context, cycleID string) (domain.AnalysisRun, error) {
	var (
		run     domain.AnalysisRun
		cv, dqv sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,cycle_id,consequences_version,dq_version,result_json,actor_id,created_at FROM analysis_runs WHERE cycle_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1`, cycleID).
		Scan(&run.ID, &run.CycleID, &cv, &dqv, &run.ResultJSON, &run.ActorID, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return run, fmt.Errorf("analysis for cycle %s: %w", cycleID, ErrNotFound)
	}
	if err != nil {
		return run, err
	}
	if cv.Valid {
		v := uint64(cv.Int64)
		run.ConsequencesVersion = &v
	}
	if dqv.Valid {
		v := uint64(dqv.Int64)
		run.DQVersion = &v
	}
	return run, nil
}

// Events

type EventFilter struct {
	Limit     int
	Cursor    int64
	SessionID string
	CycleID   string
	Type      string
}

func (f EventFilter) where() (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.SessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, f.SessionID)
	}
	if f.CycleID != "" {
		clauses = append(clauses, "cycle_id=?")
		args = append(args, f.CycleID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

const eventColumns = `id,ts,type,COALESCE(session_id,''),COALESCE(cycle_id,''),COALESCE(component,''),actor_id,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.LogEvent, error) {
	defer rows.Close()
	var res []domain.LogEvent
	for rows.Next() {
		var e domain.LogEvent
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SessionID, &e.CycleID, &e.Component, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first; a positive cursor pages to
// events older than it.
func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.LogEvent, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	where, args := f.where()
	if f.Cursor > 0 {
		where += " AND id<?"
		args = append(args, f.Cursor)
	}
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM events %s ORDER BY id DESC LIMIT ?`, eventColumns, where), args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, f EventFilter) ([]domain.LogEvent, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	where, args := f.where()
	if f.Cursor > 0 {
		where += " AND id>?"
		args = append(args, f.Cursor)
	}
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM events %s ORDER BY id ASC LIMIT ?`, eventColumns, where), args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID, optionally within a session.
func (r Repo) LatestEventID(ctx context.Context, sessionID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id=?`
		args = append(args, sessionID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
