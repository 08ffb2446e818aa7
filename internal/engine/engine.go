package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"proact/internal/config"
	"proact/internal/domain"
	"proact/internal/events"
	"proact/internal/repo"
	"proact/internal/schema"
)

// OutputValidator checks stage outputs both as decoded values and as raw
// JSON payloads.
type OutputValidator interface {
	domain.Validator
	ValidateJSON(t domain.ComponentType, raw []byte) error
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Validator OutputValidator
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Validator: schema.New(),
		Logger:    slog.Default(),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) validator() domain.Validator {
	if e.Validator == nil {
		return domain.NopValidator
	}
	return e.Validator
}

// CreateSession starts a new decision session.
func (e Engine) CreateSession(ctx context.Context, title, actorID string) (domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Session{}, errors.New("title is required")
	}
	s := domain.Session{
		ID:        uuid.NewString(),
		Title:     title,
		OwnerID:   actorID,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Record{
		Type: events.SessionCreated, SessionID: s.ID, ActorID: actorID, At: e.now(),
		Payload: events.EventPayload{"title": s.Title},
	}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	e.logger().Debug("session created", "session_id", s.ID, "actor_id", actorID)
	return s, nil
}

func (e Engine) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return e.Repo.GetSession(ctx, id)
}

func (e Engine) ListSessions(ctx context.Context) ([]domain.Session, error) {
	return e.Repo.ListSessions(ctx)
}

// CreateCycle opens a fresh cycle in a session.
func (e Engine) CreateCycle(ctx context.Context, sessionID, actorID string) (*domain.Cycle, error) {
	if _, err := e.Repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	c := domain.NewCycleWithClock(sessionID, e.now)
	if err := e.insert(ctx, c, actorID); err != nil {
		return nil, err
	}
	e.logger().Debug("cycle created", "cycle_id", c.ID, "session_id", sessionID, "actor_id", actorID)
	return c, nil
}

// BranchCycle derives a new cycle from an existing one at a branch point.
// The source cycle is not modified.
func (e Engine) BranchCycle(ctx context.Context, cycleID string, branchPoint domain.ComponentType, actorID string) (*domain.Cycle, error) {
	parent, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	parent.SetClock(e.now)
	child, err := parent.BranchAt(branchPoint)
	if err != nil {
		return nil, err
	}
	if err := e.insert(ctx, child, actorID); err != nil {
		return nil, err
	}
	e.logger().Debug("cycle branched", "cycle_id", child.ID, "parent_cycle_id", parent.ID, "component", branchPoint, "actor_id", actorID)
	return child, nil
}

func (e Engine) insert(ctx context.Context, c *domain.Cycle, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCycle(ctx, tx, c); err != nil {
		return err
	}
	if err := e.Events.AppendDomain(ctx, tx, actorID, c.TakeEvents()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.MarkPersisted()
	return nil
}

// mutate loads a cycle inside a transaction, applies fn, and persists the
// changed components together with the events fn produced. Nothing is
// written when fn fails.
func (e Engine) mutate(ctx context.Context, op, cycleID, actorID string, fn func(c *domain.Cycle) error) (*domain.Cycle, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetCycleTx(ctx, tx, cycleID)
	if err != nil {
		return nil, err
	}
	c.SetClock(e.now)
	if err := fn(c); err != nil {
		return nil, err
	}
	evts := c.TakeEvents()
	if err := e.Repo.UpdateCycle(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := e.Events.AppendDomain(ctx, tx, actorID, evts); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	c.MarkPersisted()
	e.logger().Debug("cycle command committed", "op", op, "cycle_id", cycleID, "events", len(evts), "actor_id", actorID)
	return c, nil
}

func (e Engine) StartComponent(ctx context.Context, cycleID string, t domain.ComponentType, actorID string) (*domain.Cycle, error) {
	return e.mutate(ctx, "start_component", cycleID, actorID, func(c *domain.Cycle) error {
		return c.StartComponent(t)
	})
}

// DecodeOutput validates a raw payload against the stage schema and decodes
// it. An empty payload decodes to nil.
func (e Engine) DecodeOutput(t domain.ComponentType, raw json.RawMessage) (domain.Output, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%s: %w", t, domain.ErrComponentNotFound)
	}
	if e.Validator != nil {
		if err := e.Validator.ValidateJSON(t, raw); err != nil {
			return nil, err
		}
	}
	return domain.DecodeOutput(t, raw)
}

// CompleteComponent marks a stage complete. When raw is empty the stored
// output is used.
func (e Engine) CompleteComponent(ctx context.Context, cycleID string, t domain.ComponentType, raw json.RawMessage, actorID string) (*domain.Cycle, error) {
	out, err := e.DecodeOutput(t, raw)
	if err != nil {
		return nil, err
	}
	return e.mutate(ctx, "complete_component", cycleID, actorID, func(c *domain.Cycle) error {
		return c.CompleteComponent(t, out, e.validator())
	})
}

// UpdateComponentOutput replaces a stage output when expectedVersion is
// current and returns the new version.
func (e Engine) UpdateComponentOutput(ctx context.Context, cycleID string, t domain.ComponentType, raw json.RawMessage, expectedVersion uint64, actorID string) (*domain.Cycle, uint64, error) {
	out, decodeErr := e.DecodeOutput(t, raw)
	var version uint64
	c, err := e.mutate(ctx, "update_component_output", cycleID, actorID, func(c *domain.Cycle) error {
		if decodeErr != nil {
			// A nil output runs the state and version checks without
			// mutating, so a stale version is reported before a bad payload.
			if _, err := c.UpdateComponentOutput(t, nil, expectedVersion, domain.NopValidator); err != nil && !errors.Is(err, domain.ErrValidationFailed) {
				return err
			}
			return decodeErr
		}
		v, err := c.UpdateComponentOutput(t, out, expectedVersion, e.validator())
		version = v
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return c, version, nil
}

func (e Engine) ReviseComponent(ctx context.Context, cycleID string, t domain.ComponentType, actorID string) (*domain.Cycle, error) {
	return e.mutate(ctx, "revise_component", cycleID, actorID, func(c *domain.Cycle) error {
		return c.ReviseComponent(t)
	})
}

func (e Engine) NavigateTo(ctx context.Context, cycleID string, t domain.ComponentType, actorID string) (*domain.Cycle, error) {
	return e.mutate(ctx, "navigate", cycleID, actorID, func(c *domain.Cycle) error {
		return c.NavigateTo(t)
	})
}

func (e Engine) CompleteCycle(ctx context.Context, cycleID, actorID string) (*domain.Cycle, error) {
	return e.mutate(ctx, "complete_cycle", cycleID, actorID, func(c *domain.Cycle) error {
		return c.Complete()
	})
}

func (e Engine) ArchiveCycle(ctx context.Context, cycleID, actorID string) (*domain.Cycle, error) {
	return e.mutate(ctx, "archive_cycle", cycleID, actorID, func(c *domain.Cycle) error {
		return c.Archive()
	})
}

func (e Engine) GetCycle(ctx context.Context, id string) (*domain.Cycle, error) {
	return e.Repo.GetCycle(ctx, id)
}

func (e Engine) ListCycles(ctx context.Context, sessionID string) ([]*domain.Cycle, error) {
	if _, err := e.Repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.Repo.ListCyclesBySession(ctx, sessionID)
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter) ([]domain.LogEvent, error) {
	return e.Repo.LatestEvents(ctx, f)
}
