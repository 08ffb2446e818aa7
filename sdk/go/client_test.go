package proactsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proact/internal/config"
	"proact/internal/db"
	"proact/internal/engine"
	"proact/internal/migrate"
	"proact/internal/server"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("sdk"))
	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0", Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	token, err := server.SignToken("sdk-secret", "carol", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return New(srv.URL+"/v0", token)
}

func TestClientCycleFlow(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	s, err := c.CreateSession(ctx, "Which office")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if s.OwnerID != "carol" {
		t.Fatalf("expected owner carol, got %q", s.OwnerID)
	}
	cycle, err := c.CreateCycle(ctx, s.ID)
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	for _, stage := range []struct {
		name   string
		output map[string]any
	}{
		{"issue_raising", map[string]any{"potential_decisions": []string{"office"}}},
		{"problem_frame", map[string]any{"decision_statement": "Where should the team work from"}},
	} {
		if _, err := c.StartComponent(ctx, cycle.ID, stage.name); err != nil {
			t.Fatalf("start %s: %v", stage.name, err)
		}
		if _, err := c.CompleteComponent(ctx, cycle.ID, stage.name, stage.output); err != nil {
			t.Fatalf("complete %s: %v", stage.name, err)
		}
	}

	if _, err := c.StartComponent(ctx, cycle.ID, "objectives"); err != nil {
		t.Fatalf("start objectives: %v", err)
	}
	objectives := map[string]any{"fundamental": []map[string]any{{"id": "rent", "description": "Low rent"}}}
	updated, version, err := c.UpdateOutput(ctx, cycle.ID, "objectives", objectives, 1)
	if err != nil {
		t.Fatalf("update output: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected version 2, got %d", version)
	}
	if comp, ok := updated.Component("objectives"); !ok || comp.Status != "in_progress" {
		t.Fatalf("unexpected objectives component: %+v", comp)
	}
	_, _, err = c.UpdateOutput(ctx, cycle.ID, "objectives", objectives, 1)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	branch, err := c.BranchCycle(ctx, cycle.ID, "problem_frame")
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	if branch.ParentCycleID != cycle.ID {
		t.Fatalf("expected parent %s, got %s", cycle.ID, branch.ParentCycleID)
	}
	cycles, err := c.ListCycles(ctx, s.ID)
	if err != nil {
		t.Fatalf("list cycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(cycles))
	}

	rep, err := c.Analyze(ctx, cycle.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if rep.Pugh != nil || rep.DQ != nil {
		t.Fatalf("expected empty report, got %+v", rep)
	}

	page, err := c.Events(ctx, EventQuery{CycleID: cycle.ID, Limit: 2})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with a cursor, got %+v", page)
	}
	next, err := c.Events(ctx, EventQuery{CycleID: cycle.ID, Limit: 2, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("events page 2: %v", err)
	}
	if len(next.Items) == 0 || next.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("second page does not continue the first: %+v", next.Items)
	}
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.GetCycle(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}

	c.BearerToken = ""
	c.ActorID = "mallory"
	_, err = c.ListSessions(ctx)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without actor header support, got %v", err)
	}
}
