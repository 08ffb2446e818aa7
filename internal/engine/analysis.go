package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"proact/internal/analysis"
	"proact/internal/domain"
	"proact/internal/events"
)

// Report is the analysis of one cycle. Pugh is nil until the consequences
// stage has output; DQ is nil until the decision quality stage has output.
type Report struct {
	CycleID             string               `json:"cycle_id"`
	ConsequencesVersion *uint64              `json:"consequences_version,omitempty"`
	Pugh                *analysis.PughResult `json:"pugh,omitempty"`
	DQVersion           *uint64              `json:"dq_version,omitempty"`
	DQ                  *analysis.DQResult   `json:"dq,omitempty"`
	Warnings            []string             `json:"warnings,omitempty"`
}

// Evaluate computes a report for a loaded cycle. It does not touch storage.
func Evaluate(c *domain.Cycle) Report {
	rep := Report{CycleID: c.ID, Warnings: []string{}}

	if comp, err := c.Component(domain.Consequences); err == nil {
		if out, ok := comp.Output.(domain.ConsequencesOutput); ok {
			v := comp.Version
			res := analysis.Analyze(analysis.FromConsequences(out))
			rep.ConsequencesVersion = &v
			rep.Pugh = &res
			if comp.Status != domain.StatusComplete {
				rep.Warnings = append(rep.Warnings, "consequences table is not complete yet")
			}
		}
	}
	if comp, err := c.Component(domain.DecisionQuality); err == nil {
		if out, ok := comp.Output.(domain.DecisionQualityOutput); ok {
			v := comp.Version
			res := analysis.AssessQuality(analysis.ElementsFrom(out))
			rep.DQVersion = &v
			rep.DQ = &res
		}
	}
	if comp, err := c.Component(domain.Recommendation); err == nil && rep.Pugh != nil {
		if out, ok := comp.Output.(domain.RecommendationOutput); ok && out.SelectedOptionID != "" {
			for _, d := range rep.Pugh.Dominated {
				if d.OptionID == out.SelectedOptionID {
					rep.Warnings = append(rep.Warnings, fmt.Sprintf("recommended option %s is dominated by %s", d.OptionID, d.DominatedBy))
				}
			}
		}
	}
	return rep
}

// Analyze evaluates a cycle, stores the result as the latest analysis run
// and records analysis events.
func (e Engine) Analyze(ctx context.Context, cycleID, actorID string) (Report, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Report{}, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetCycleTx(ctx, tx, cycleID)
	if err != nil {
		return Report{}, err
	}
	rep := Evaluate(c)
	data, err := json.Marshal(rep)
	if err != nil {
		return Report{}, err
	}
	run := domain.AnalysisRun{
		ID:                  uuid.NewString(),
		CycleID:             c.ID,
		ConsequencesVersion: rep.ConsequencesVersion,
		DQVersion:           rep.DQVersion,
		ResultJSON:          string(data),
		ActorID:             actorID,
		CreatedAt:           e.now().UTC().Format(time.RFC3339Nano),
	}

	if err := e.Repo.InsertAnalysisRun(ctx, tx, run); err != nil {
		return Report{}, fmt.Errorf("insert analysis run: %w", err)
	}
	base := events.Record{SessionID: c.SessionID, CycleID: c.ID, ActorID: actorID, At: e.now()}
	if rep.Pugh != nil {
		pugh := base
		pugh.Type = events.PughComputed
		pugh.Component = string(domain.Consequences)
		pugh.Payload = events.EventPayload{
			"run_id":    run.ID,
			"version":   *rep.ConsequencesVersion,
			"top":       rep.Pugh.TopAlternative,
			"dominated": len(rep.Pugh.Dominated),
		}
		tradeoffs := base
		tradeoffs.Type = events.TradeoffsComputed
		tradeoffs.Component = string(domain.Tradeoffs)
		tradeoffs.Payload = events.EventPayload{"run_id": run.ID, "tensions": len(rep.Pugh.Tensions)}
		for _, rec := range []events.Record{pugh, tradeoffs} {
			if err := e.Events.Append(ctx, tx, rec); err != nil {
				return Report{}, err
			}
		}
	}
	if rep.DQ != nil {
		dq := base
		dq.Type = events.DQComputed
		dq.Component = string(domain.DecisionQuality)
		dq.Payload = events.EventPayload{"run_id": run.ID, "version": *rep.DQVersion, "overall": rep.DQ.Overall}
		if err := e.Events.Append(ctx, tx, dq); err != nil {
			return Report{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Report{}, err
	}
	e.logger().Debug("cycle analyzed", "cycle_id", c.ID, "run_id", run.ID, "actor_id", actorID)
	return rep, nil
}

// LatestAnalysis returns the most recent stored report for a cycle.
func (e Engine) LatestAnalysis(ctx context.Context, cycleID string) (Report, domain.AnalysisRun, error) {
	run, err := e.Repo.LatestAnalysisRun(ctx, cycleID)
	if err != nil {
		return Report{}, run, err
	}
	var rep Report
	if err := json.Unmarshal([]byte(run.ResultJSON), &rep); err != nil {
		return Report{}, run, fmt.Errorf("decode analysis run %s: %w", run.ID, err)
	}
	return rep, run, nil
}

// AnalyzeSession evaluates every cycle of a session concurrently, which is
// how branches are compared. Results keep the cycle order and nothing is
// stored.
func (e Engine) AnalyzeSession(ctx context.Context, sessionID string) ([]Report, error) {
	cycles, err := e.ListCycles(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, len(cycles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, c := range cycles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = Evaluate(c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
