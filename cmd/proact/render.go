package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"proact/internal/analysis"
	"proact/internal/domain"
	"proact/internal/engine"
)

var (
	colorSuccess = lipgloss.Color("#00D787")
	colorError   = lipgloss.Color("#FF5F87")
	colorWarning = lipgloss.Color("#FFAF00")
	colorInfo    = lipgloss.Color("#5FAFFF")
	colorMuted   = lipgloss.Color("#888888")
)

var (
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleError   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	styleInfo    = lipgloss.NewStyle().Foreground(colorInfo)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	styleTitle   = lipgloss.NewStyle().Foreground(colorInfo).Bold(true)

	styleBarFilled = lipgloss.NewStyle().Foreground(colorSuccess)
	styleBarEmpty  = lipgloss.NewStyle().Foreground(colorMuted)
)

func componentBadge(s domain.ComponentStatus) string {
	switch s {
	case domain.StatusComplete:
		return styleSuccess.Render("● complete")
	case domain.StatusInProgress:
		return styleInfo.Render("◐ in progress")
	case domain.StatusNeedsRevision:
		return styleWarning.Render("↺ needs revision")
	default:
		return styleMuted.Render("○ not started")
	}
}

func cycleBadge(s domain.CycleStatus) string {
	switch s {
	case domain.CycleCompleted:
		return styleSuccess.Render(string(s))
	case domain.CycleArchived:
		return styleMuted.Render(string(s))
	default:
		return styleInfo.Render(string(s))
	}
}

func progressBar(p domain.Progress, width int) string {
	filled := p.Completed * width / p.Total
	return styleBarFilled.Render(strings.Repeat("█", filled)) +
		styleBarEmpty.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %d/%d (%d%%)", p.Completed, p.Total, p.Percent)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

type cycleJSON struct {
	ID            string                `json:"id"`
	SessionID     string                `json:"session_id"`
	ParentCycleID *string               `json:"parent_cycle_id,omitempty"`
	BranchPoint   *domain.ComponentType `json:"branch_point,omitempty"`
	Status        domain.CycleStatus    `json:"status"`
	CurrentStep   domain.ComponentType  `json:"current_step"`
	Progress      domain.Progress       `json:"progress"`
	Components    []domain.Component    `json:"components"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// cycleView flattens a cycle for --json output.
func cycleView(c *domain.Cycle) cycleJSON {
	s := c.Snapshot()
	return cycleJSON{
		ID:            s.ID,
		SessionID:     s.SessionID,
		ParentCycleID: s.ParentCycleID,
		BranchPoint:   s.BranchPoint,
		Status:        s.Status,
		CurrentStep:   s.CurrentStep,
		Progress:      c.Progress(),
		Components:    s.Components,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func renderSessions(w io.Writer, sessions []domain.Session) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Title", "Owner", "Created"})
	for _, s := range sessions {
		created := s.CreatedAt
		if t, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
			created = ago(t)
		}
		tw.AppendRow(table.Row{s.ID, s.Title, s.OwnerID, created})
	}
	tw.Render()
}

func renderCycles(w io.Writer, cycles []*domain.Cycle) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Parent", "Branch point", "Status", "Step", "Progress", "Updated"})
	for _, c := range cycles {
		parent, point := "", ""
		if c.ParentCycleID != nil {
			parent = *c.ParentCycleID
		}
		if c.BranchPoint != nil {
			point = c.BranchPoint.DisplayName()
		}
		p := c.Progress()
		tw.AppendRow(table.Row{c.ID, parent, point, cycleBadge(c.Status()), c.CurrentStep().DisplayName(), fmt.Sprintf("%d%%", p.Percent), ago(c.UpdatedAt)})
	}
	tw.Render()
}

func renderCycle(w io.Writer, c *domain.Cycle) {
	fmt.Fprintf(w, "%s %s  %s\n", styleTitle.Render("Cycle"), c.ID, cycleBadge(c.Status()))
	if c.IsBranch() {
		fmt.Fprintf(w, "%s branched from %s at %s\n", styleMuted.Render("↳"), *c.ParentCycleID, c.BranchPoint.DisplayName())
	}
	fmt.Fprintln(w, progressBar(c.Progress(), 27))

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "Stage", "Status", "Version", "Updated", ""})
	for i, comp := range c.Components() {
		marker := ""
		if comp.Type == c.CurrentStep() {
			marker = styleInfo.Render("◀ current")
		}
		tw.AppendRow(table.Row{i + 1, comp.Type.DisplayName(), componentBadge(comp.Status), comp.Version, ago(comp.UpdatedAt), marker})
	}
	tw.Render()
}

func renderReport(w io.Writer, c *domain.Cycle, rep engine.Report) {
	for _, warn := range rep.Warnings {
		fmt.Fprintln(w, styleWarning.Render("! "+warn))
	}
	if rep.Pugh == nil {
		fmt.Fprintln(w, styleMuted.Render("No consequences table yet."))
	} else {
		renderPugh(w, c, *rep.Pugh)
	}
	if rep.DQ == nil {
		fmt.Fprintln(w, styleMuted.Render("No decision quality scores yet."))
		return
	}
	renderDQ(w, *rep.DQ)
}

func renderPugh(w io.Writer, c *domain.Cycle, res analysis.PughResult) {
	fmt.Fprintln(w, styleTitle.Render("Pugh matrix"))
	var t analysis.Table
	if comp, err := c.Component(domain.Consequences); err == nil {
		if out, ok := comp.Output.(domain.ConsequencesOutput); ok {
			t = analysis.FromConsequences(out)
		}
	}
	header := table.Row{"Option"}
	for _, crit := range t.Criteria {
		header = append(header, crit)
	}
	header = append(header, "Score", "Rank")
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(header)
	for _, r := range res.Ranking {
		row := table.Row{r.OptionID}
		if r.OptionID == res.TopAlternative {
			row[0] = styleSuccess.Render(r.OptionID + " ★")
		}
		for _, crit := range t.Criteria {
			if v, ok := t.Rating(r.OptionID, crit); ok {
				row = append(row, fmt.Sprintf("%+d", v))
			} else {
				row = append(row, styleMuted.Render("·"))
			}
		}
		row = append(row, r.Score, r.Rank)
		tw.AppendRow(row)
	}
	tw.Render()

	for _, d := range res.Dominated {
		fmt.Fprintf(w, "%s %s\n", styleError.Render("✗ dominated:"), d.Explanation)
	}
	if len(res.IrrelevantObjectives) > 0 {
		fmt.Fprintf(w, "%s %s\n", styleMuted.Render("irrelevant objectives:"), strings.Join(res.IrrelevantObjectives, ", "))
	}
	for _, tn := range res.Tensions {
		fmt.Fprintf(w, "%s %s gains on %s, loses on %s\n", styleInfo.Render("⇄"), tn.OptionID, listOrNone(tn.Gains), listOrNone(tn.Losses))
	}
}

func renderDQ(w io.Writer, res analysis.DQResult) {
	fmt.Fprintf(w, "%s %d/100\n", styleTitle.Render("Decision quality"), res.Overall)
	if res.Weakest != nil {
		fmt.Fprintf(w, "weakest element: %s (%d)\n", res.Weakest.Name, res.Weakest.Score)
	}
	if len(res.Improvements) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Element", "Score", "Priority", "Suggestion"})
	for _, imp := range res.Improvements {
		tw.AppendRow(table.Row{imp.Element, imp.Score, priorityBadge(imp.Priority), imp.Suggestion})
	}
	tw.Render()
}

func priorityBadge(p analysis.Priority) string {
	switch p {
	case analysis.PriorityCritical:
		return styleError.Render(string(p))
	case analysis.PriorityHigh:
		return styleWarning.Render(string(p))
	default:
		return styleMuted.Render(string(p))
	}
}

func renderComparison(w io.Writer, reports []engine.Report) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Cycle", "Top alternative", "Dominated", "DQ", "Warnings"})
	for _, r := range reports {
		top, dominated, dq := "", "", ""
		if r.Pugh != nil {
			top = r.Pugh.TopAlternative
			if top == "" {
				top = styleMuted.Render("no clear winner")
			}
			dominated = fmt.Sprint(len(r.Pugh.Dominated))
		}
		if r.DQ != nil {
			dq = fmt.Sprint(r.DQ.Overall)
		}
		tw.AppendRow(table.Row{r.CycleID, top, dominated, dq, len(r.Warnings)})
	}
	tw.Render()
}

func renderEvents(w io.Writer, events []domain.LogEvent) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "When", "Type", "Cycle", "Component", "Actor"})
	for _, evt := range events {
		when := evt.TS
		if t, err := time.Parse(time.RFC3339Nano, evt.TS); err == nil {
			when = ago(t)
		}
		tw.AppendRow(table.Row{evt.ID, when, evt.Type, evt.CycleID, evt.Component, evt.ActorID})
	}
	tw.Render()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "nothing"
	}
	return strings.Join(items, ", ")
}
