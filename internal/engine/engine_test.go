package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"proact/internal/config"
	"proact/internal/db"
	"proact/internal/domain"
	"proact/internal/engine"
	"proact/internal/events"
	"proact/internal/migrate"
	"proact/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Session domain.Session
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("test"))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	s, err := eng.CreateSession(ctx, "Where to live", "tester")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Session: s}
}

var stageOutputs = map[domain.ComponentType]string{
	domain.IssueRaising:    `{"potential_decisions":["move city"]}`,
	domain.ProblemFrame:    `{"decision_statement":"Choose where to live next year"}`,
	domain.Objectives:      `{"fundamental":[{"id":"cost","description":"Low living cost"},{"id":"commute","description":"Short commute"}]}`,
	domain.Alternatives:    `{"options":[{"id":"stay","name":"Stay"},{"id":"lisbon","name":"Lisbon"},{"id":"porto","name":"Porto"}],"status_quo_id":"stay"}`,
	domain.Consequences:    `{"options":["stay","lisbon","porto"],"criteria":["cost","commute"],"cells":[{"option_id":"stay","criterion_id":"cost","rating":0},{"option_id":"stay","criterion_id":"commute","rating":0},{"option_id":"lisbon","criterion_id":"cost","rating":2},{"option_id":"lisbon","criterion_id":"commute","rating":1},{"option_id":"porto","criterion_id":"cost","rating":-1},{"option_id":"porto","criterion_id":"commute","rating":-2}]}`,
	domain.Tradeoffs:       `{"notes":"lisbon dominates"}`,
	domain.Recommendation:  `{"selected_option_id":"lisbon","rationale":"best on both"}`,
	domain.DecisionQuality: `{"elements":[{"name":"Helpful Problem Frame","score":80},{"name":"Clear Objectives","score":60},{"name":"Creative Alternatives","score":90},{"name":"Reliable Consequence Information","score":70},{"name":"Logically Correct Reasoning","score":55},{"name":"Clear Tradeoffs","score":85},{"name":"Commitment to Follow Through","score":95}]}`,
	domain.NotesNextSteps:  `{"next_steps":[{"description":"Visit Lisbon"}]}`,
}

func (env testEnv) completeThrough(t *testing.T, cycleID string, last domain.ComponentType) {
	t.Helper()
	for _, ct := range domain.AllComponentTypes() {
		if ct.IsAfter(last) {
			return
		}
		if _, err := env.Engine.StartComponent(env.Ctx, cycleID, ct, "tester"); err != nil {
			t.Fatalf("start %s: %v", ct, err)
		}
		if _, err := env.Engine.CompleteComponent(env.Ctx, cycleID, ct, json.RawMessage(stageOutputs[ct]), "tester"); err != nil {
			t.Fatalf("complete %s: %v", ct, err)
		}
	}
}

func TestCycleLifecyclePersists(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	env.completeThrough(t, c.ID, domain.NotesNextSteps)

	if _, err := env.Engine.CompleteCycle(env.Ctx, c.ID, "tester"); err != nil {
		t.Fatalf("complete cycle: %v", err)
	}
	got, err := env.Engine.GetCycle(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get cycle: %v", err)
	}
	if got.Status() != domain.CycleCompleted {
		t.Fatalf("expected completed, got %s", got.Status())
	}
	if p := got.Progress(); p.Percent != 100 {
		t.Fatalf("expected 100%%, got %d", p.Percent)
	}
	if _, err := env.Engine.StartComponent(env.Ctx, c.ID, domain.IssueRaising, "tester"); !errors.Is(err, domain.ErrCycleNotActive) {
		t.Fatalf("expected cycle not active, got %v", err)
	}
	if _, err := env.Engine.ArchiveCycle(env.Ctx, c.ID, "tester"); err != nil {
		t.Fatalf("archive: %v", err)
	}
}

func TestStartComponentRequiresPrerequisite(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	_, err := env.Engine.StartComponent(env.Ctx, c.ID, domain.Objectives, "tester")
	if !errors.Is(err, domain.ErrPreviousComponentRequired) {
		t.Fatalf("expected previous component required, got %v", err)
	}
}

func TestCompleteComponentRejectsInvalidAlternatives(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	env.completeThrough(t, c.ID, domain.Objectives)
	if _, err := env.Engine.StartComponent(env.Ctx, c.ID, domain.Alternatives, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.CompleteComponent(env.Ctx, c.ID, domain.Alternatives,
		json.RawMessage(`{"options":[{"id":"a","name":"A"},{"id":"b","name":"B"}],"status_quo_id":"c"}`), "tester")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Rule != domain.RuleStatusQuoMissing {
		t.Fatalf("expected status quo rule, got %v", err)
	}
	got, _ := env.Engine.GetCycle(env.Ctx, c.ID)
	comp, _ := got.Component(domain.Alternatives)
	if comp.Status != domain.StatusInProgress || comp.Output != nil {
		t.Fatalf("failed completion must not persist: %+v", comp)
	}
}

func TestCompleteComponentRejectsSchemaViolation(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	if _, err := env.Engine.StartComponent(env.Ctx, c.ID, domain.IssueRaising, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.CompleteComponent(env.Ctx, c.ID, domain.IssueRaising, json.RawMessage(`{"potential_decisions":"not a list"}`), "tester")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || !ve.IsSchemaFailure() {
		t.Fatalf("expected schema failure, got %v", err)
	}
}

func TestUpdateComponentOutputVersioning(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	if _, err := env.Engine.StartComponent(env.Ctx, c.ID, domain.IssueRaising, "tester"); err != nil {
		t.Fatal(err)
	}
	_, v, err := env.Engine.UpdateComponentOutput(env.Ctx, c.ID, domain.IssueRaising, json.RawMessage(`{"uncertainties":["rent"]}`), 1, "tester")
	if err != nil || v != 2 {
		t.Fatalf("update: v=%d err=%v", v, err)
	}
	_, _, err = env.Engine.UpdateComponentOutput(env.Ctx, c.ID, domain.IssueRaising, json.RawMessage(`{"uncertainties":["stale"]}`), 1, "tester")
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// stale version wins over a malformed payload
	_, _, err = env.Engine.UpdateComponentOutput(env.Ctx, c.ID, domain.IssueRaising, json.RawMessage(`{"uncertainties":5}`), 1, "tester")
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict before schema error, got %v", err)
	}
	_, _, err = env.Engine.UpdateComponentOutput(env.Ctx, c.ID, domain.IssueRaising, json.RawMessage(`{"uncertainties":5}`), 2, "tester")
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}

	got, _ := env.Engine.GetCycle(env.Ctx, c.ID)
	comp, _ := got.Component(domain.IssueRaising)
	out := comp.Output.(domain.IssueRaisingOutput)
	if comp.Version != 2 || out.Uncertainties[0] != "rent" {
		t.Fatalf("unexpected stored component: %+v", comp)
	}
}

func TestBranchCycle(t *testing.T) {
	env := newTestEnv(t)
	parent, _ := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	env.completeThrough(t, parent.ID, domain.Alternatives)

	child, err := env.Engine.BranchCycle(env.Ctx, parent.ID, domain.Alternatives, "tester")
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	stored, err := env.Engine.GetCycle(env.Ctx, child.ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if stored.ParentCycleID == nil || *stored.ParentCycleID != parent.ID {
		t.Fatalf("parent not recorded")
	}
	alt, _ := stored.Component(domain.Alternatives)
	if alt.Status != domain.StatusNeedsRevision || alt.Output == nil {
		t.Fatalf("branch point: %+v", alt)
	}
	obj, _ := stored.Component(domain.Objectives)
	if obj.Status != domain.StatusComplete {
		t.Fatalf("objectives should be inherited complete, got %s", obj.Status)
	}
	cons, _ := stored.Component(domain.Consequences)
	if cons.Status != domain.StatusNotStarted {
		t.Fatalf("consequences should be fresh, got %s", cons.Status)
	}

	cycles, err := env.Engine.ListCycles(env.Ctx, env.Session.ID)
	if err != nil || len(cycles) != 2 {
		t.Fatalf("list cycles: %d %v", len(cycles), err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{CycleID: child.ID})
	if err != nil || len(evts) != 1 || evts[0].Type != string(domain.EventCycleBranched) {
		t.Fatalf("branch events: %+v %v", evts, err)
	}
}

func TestNavigateAndRevise(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	env.completeThrough(t, c.ID, domain.ProblemFrame)

	got, err := env.Engine.NavigateTo(env.Ctx, c.ID, domain.IssueRaising, "tester")
	if err != nil || got.CurrentStep() != domain.IssueRaising {
		t.Fatalf("navigate: %v", err)
	}
	got, err = env.Engine.ReviseComponent(env.Ctx, c.ID, domain.IssueRaising, "tester")
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	comp, _ := got.Component(domain.IssueRaising)
	if comp.Status != domain.StatusNeedsRevision {
		t.Fatalf("expected needs_revision, got %s", comp.Status)
	}
	if _, err := env.Engine.CompleteComponent(env.Ctx, c.ID, domain.IssueRaising, nil, "tester"); err != nil {
		t.Fatalf("re-complete with stored output: %v", err)
	}
}

func TestAnalyzeStoresRunAndEvents(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	env.completeThrough(t, c.ID, domain.DecisionQuality)

	rep, err := env.Engine.Analyze(env.Ctx, c.ID, "tester")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if rep.Pugh == nil || rep.Pugh.TopAlternative != "lisbon" {
		t.Fatalf("unexpected pugh result: %+v", rep.Pugh)
	}
	if rep.Pugh.Scores["lisbon"] != 3 || rep.Pugh.Scores["porto"] != -3 {
		t.Fatalf("scores: %+v", rep.Pugh.Scores)
	}
	if len(rep.Pugh.Dominated) != 2 {
		t.Fatalf("dominated: %+v", rep.Pugh.Dominated)
	}
	if rep.DQ == nil || rep.DQ.Overall != 55 {
		t.Fatalf("dq: %+v", rep.DQ)
	}
	if len(rep.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", rep.Warnings)
	}

	latest, run, err := env.Engine.LatestAnalysis(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("latest analysis: %v", err)
	}
	if latest.DQ == nil || latest.DQ.Overall != 55 || run.ActorID != "tester" {
		t.Fatalf("stored run: %+v", run)
	}
	for _, typ := range []string{events.PughComputed, events.TradeoffsComputed, events.DQComputed} {
		evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{CycleID: c.ID, Type: typ})
		if err != nil || len(evts) != 1 {
			t.Fatalf("%s events: %d %v", typ, len(evts), err)
		}
	}
}

func TestAnalyzeWarnsOnDominatedRecommendation(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	env.completeThrough(t, c.ID, domain.Tradeoffs)
	if _, err := env.Engine.StartComponent(env.Ctx, c.ID, domain.Recommendation, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.UpdateComponentOutput(env.Ctx, c.ID, domain.Recommendation, json.RawMessage(`{"selected_option_id":"porto"}`), 1, "tester"); err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.Analyze(env.Ctx, c.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", rep.Warnings)
	}
	if rep.DQ != nil {
		t.Fatalf("dq should be absent before the stage has output")
	}
}

func TestAnalyzeSessionComparesBranches(t *testing.T) {
	env := newTestEnv(t)
	parent, _ := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	env.completeThrough(t, parent.ID, domain.Consequences)
	child, err := env.Engine.BranchCycle(env.Ctx, parent.ID, domain.Consequences, "tester")
	if err != nil {
		t.Fatal(err)
	}
	alt := `{"options":["stay","lisbon","porto"],"criteria":["cost","commute"],"cells":[{"option_id":"stay","criterion_id":"cost","rating":0},{"option_id":"stay","criterion_id":"commute","rating":0},{"option_id":"lisbon","criterion_id":"cost","rating":1},{"option_id":"lisbon","criterion_id":"commute","rating":-1},{"option_id":"porto","criterion_id":"cost","rating":-1},{"option_id":"porto","criterion_id":"commute","rating":1}]}`
	comp, _ := child.Component(domain.Consequences)
	if _, _, err := env.Engine.UpdateComponentOutput(env.Ctx, child.ID, domain.Consequences, json.RawMessage(alt), comp.Version, "tester"); err != nil {
		t.Fatal(err)
	}

	reports, err := env.Engine.AnalyzeSession(env.Ctx, env.Session.ID)
	if err != nil {
		t.Fatalf("analyze session: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	byID := map[string]engine.Report{}
	for _, r := range reports {
		byID[r.CycleID] = r
	}
	if byID[parent.ID].Pugh.TopAlternative != "lisbon" {
		t.Fatalf("parent top: %+v", byID[parent.ID].Pugh)
	}
	if top := byID[child.ID].Pugh.TopAlternative; top != "" {
		t.Fatalf("branch should have no clear winner, got %q", top)
	}
}

func TestCreateCycleUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateCycle(env.Ctx, "missing", "tester")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEngineClockStampsCyclesAndEvents(t *testing.T) {
	env := newTestEnv(t)
	frozen := env.Engine.Now()
	c, err := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	if err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	if !c.CreatedAt.Equal(frozen) {
		t.Fatalf("created at %s, want %s", c.CreatedAt, frozen)
	}
	if _, err := env.Engine.StartComponent(env.Ctx, c.ID, domain.IssueRaising, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	branch, err := env.Engine.BranchCycle(env.Ctx, c.ID, domain.IssueRaising, "tester")
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	if !branch.CreatedAt.Equal(frozen) {
		t.Fatalf("branch created at %s, want %s", branch.CreatedAt, frozen)
	}

	got, err := env.Engine.GetCycle(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get cycle: %v", err)
	}
	comp, _ := got.Component(domain.IssueRaising)
	if comp.StartedAt == nil || !comp.StartedAt.Equal(frozen) || !got.UpdatedAt.Equal(frozen) {
		t.Fatalf("component not stamped with engine clock: started=%v updated=%s", comp.StartedAt, got.UpdatedAt)
	}

	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{SessionID: env.Session.ID})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(evts) == 0 {
		t.Fatal("expected events")
	}
	for _, evt := range evts {
		ts, err := time.Parse(time.RFC3339Nano, evt.TS)
		if err != nil || !ts.Equal(frozen) {
			t.Fatalf("event %s at %q, want %s", evt.Type, evt.TS, frozen)
		}
	}
}

func TestAnalyzeTagsRunWithCurrentVersions(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.Engine.CreateCycle(env.Ctx, env.Session.ID, "tester")
	env.completeThrough(t, c.ID, domain.Consequences)

	currentVersion := func() uint64 {
		t.Helper()
		got, err := env.Engine.GetCycle(env.Ctx, c.ID)
		if err != nil {
			t.Fatalf("get cycle: %v", err)
		}
		comp, _ := got.Component(domain.Consequences)
		return comp.Version
	}

	if _, err := env.Engine.Analyze(env.Ctx, c.ID, "tester"); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	_, run, err := env.Engine.LatestAnalysis(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("latest analysis: %v", err)
	}
	if run.ConsequencesVersion == nil || *run.ConsequencesVersion != currentVersion() {
		t.Fatalf("run tagged %v, component at %d", run.ConsequencesVersion, currentVersion())
	}

	if _, err := env.Engine.ReviseComponent(env.Ctx, c.ID, domain.Consequences, "tester"); err != nil {
		t.Fatalf("revise: %v", err)
	}
	before := currentVersion()
	if _, _, err := env.Engine.UpdateComponentOutput(env.Ctx, c.ID, domain.Consequences, json.RawMessage(stageOutputs[domain.Consequences]), before, "tester"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.Engine.Analyze(env.Ctx, c.ID, "tester"); err != nil {
		t.Fatalf("analyze again: %v", err)
	}
	_, run, err = env.Engine.LatestAnalysis(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("latest analysis: %v", err)
	}
	if run.ConsequencesVersion == nil || *run.ConsequencesVersion != before+1 {
		t.Fatalf("run tagged %v, want %d", run.ConsequencesVersion, before+1)
	}
}
