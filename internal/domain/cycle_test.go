package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	timeNow = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	seq := 0
	newID = func() string {
		seq++
		return fmt.Sprintf("cycle-%d", seq)
	}
}

func sampleOutput(t ComponentType) Output {
	switch t {
	case IssueRaising:
		return IssueRaisingOutput{PotentialDecisions: []string{"Where to live"}, Uncertainties: []string{"job offer"}}
	case ProblemFrame:
		return ProblemFrameOutput{DecisionStatement: "Choose a city to move to", DecisionMaker: "me"}
	case Objectives:
		return ObjectivesOutput{Fundamental: []Objective{{ID: "cost", Description: "Keep living costs low"}}}
	case Alternatives:
		return AlternativesOutput{
			Options:     []Option{{ID: "stay", Name: "Stay"}, {ID: "lisbon", Name: "Lisbon"}},
			StatusQuoID: "stay",
		}
	case Consequences:
		return ConsequencesOutput{
			Options:  []string{"stay", "lisbon"},
			Criteria: []string{"cost"},
			Cells: []ConsequenceCell{
				{OptionID: "stay", CriterionID: "cost", Rating: 0},
				{OptionID: "lisbon", CriterionID: "cost", Rating: 1},
			},
		}
	case Tradeoffs:
		return TradeoffsOutput{Notes: "lisbon wins on cost"}
	case Recommendation:
		return RecommendationOutput{SelectedOptionID: "lisbon", Rationale: "cheaper"}
	case DecisionQuality:
		els := make([]DQElementScore, DQElementCount)
		for i := range els {
			els[i] = DQElementScore{Name: fmt.Sprintf("element-%d", i), Score: 80}
		}
		return DecisionQualityOutput{Elements: els}
	case NotesNextSteps:
		return NotesNextStepsOutput{NextSteps: []NextStep{{Description: "Call a realtor"}}}
	}
	return nil
}

// completeThrough starts and completes every stage up to and including last.
func completeThrough(t *testing.T, c *Cycle, last ComponentType) {
	t.Helper()
	for _, ct := range AllComponentTypes() {
		if ct.IsAfter(last) {
			return
		}
		require.NoError(t, c.StartComponent(ct), "start %s", ct)
		require.NoError(t, c.CompleteComponent(ct, sampleOutput(ct), NopValidator), "complete %s", ct)
	}
}

func TestNewCycle_HasAllComponentsNotStarted(t *testing.T) {
	c := NewCycle("session-1")

	assert.Equal(t, CycleActive, c.Status())
	assert.Equal(t, IssueRaising, c.CurrentStep())
	assert.Equal(t, "session-1", c.SessionID)
	assert.False(t, c.IsBranch())

	comps := c.Components()
	require.Len(t, comps, ComponentCount)
	for i, comp := range comps {
		assert.Equal(t, AllComponentTypes()[i], comp.Type)
		assert.Equal(t, StatusNotStarted, comp.Status)
		assert.Equal(t, uint64(1), comp.Version)
		assert.Nil(t, comp.Output)
		assert.True(t, comp.Dirty())
	}

	evts := c.TakeEvents()
	require.Len(t, evts, 1)
	assert.Equal(t, EventCycleCreated, evts[0].Type)
	assert.Equal(t, c.ID, evts[0].CycleID)
}

func TestStartComponent_FirstStageHasNoPrerequisite(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))

	comp, err := c.Component(IssueRaising)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, comp.Status)
	assert.NotNil(t, comp.StartedAt)
}

func TestStartComponent_RequiresPreviousStarted(t *testing.T) {
	c := NewCycle("s")
	err := c.StartComponent(Objectives)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPreviousComponentRequired)

	var pe *PrerequisiteError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ProblemFrame, pe.Requires)

	comp, _ := c.Component(Objectives)
	assert.Equal(t, StatusNotStarted, comp.Status)
}

func TestStartComponent_PrerequisiteOnlyNeedsToBeStarted(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))
	require.NoError(t, c.StartComponent(ProblemFrame))
	assert.Equal(t, ProblemFrame, c.CurrentStep())
}

func TestStartComponent_AlreadyStarted(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))
	err := c.StartComponent(IssueRaising)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestStartComponent_UnknownComponent(t *testing.T) {
	c := NewCycle("s")
	err := c.StartComponent(ComponentType("bogus"))
	assert.ErrorIs(t, err, ErrComponentNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteComponent_AdvancesCurrentStep(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))
	require.NoError(t, c.CompleteComponent(IssueRaising, sampleOutput(IssueRaising), NopValidator))

	comp, _ := c.Component(IssueRaising)
	assert.Equal(t, StatusComplete, comp.Status)
	assert.Equal(t, uint64(2), comp.Version)
	assert.Equal(t, ProblemFrame, c.CurrentStep())
}

func TestCompleteComponent_LastStageKeepsCursor(t *testing.T) {
	c := NewCycle("s")
	completeThrough(t, c, NotesNextSteps)
	assert.Equal(t, NotesNextSteps, c.CurrentStep())
	assert.Equal(t, 100, c.Progress().Percent)
}

func TestCompleteComponent_UsesStoredOutput(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))
	_, err := c.UpdateComponentOutput(IssueRaising, sampleOutput(IssueRaising), 1, NopValidator)
	require.NoError(t, err)

	require.NoError(t, c.CompleteComponent(IssueRaising, nil, NopValidator))
	comp, _ := c.Component(IssueRaising)
	assert.Equal(t, uint64(2), comp.Version, "completing with the stored output does not bump the version")
}

func TestCompleteComponent_RequiresOutput(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))

	err := c.CompleteComponent(IssueRaising, nil, NopValidator)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, RuleOutputRequired, ve.Rule)
}

func TestCompleteComponent_NotStarted(t *testing.T) {
	c := NewCycle("s")
	err := c.CompleteComponent(IssueRaising, sampleOutput(IssueRaising), NopValidator)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestCompleteComponent_SchemaFailure(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))
	reject := ValidatorFunc(func(ComponentType, Output) error { return errors.New("potential_decisions: expected array") })

	err := c.CompleteComponent(IssueRaising, sampleOutput(IssueRaising), reject)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.IsSchemaFailure())
	assert.ErrorIs(t, err, ErrValidationFailed)

	comp, _ := c.Component(IssueRaising)
	assert.Equal(t, StatusInProgress, comp.Status)
}

func TestCompleteComponent_WrongOutputType(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))
	err := c.CompleteComponent(IssueRaising, sampleOutput(ProblemFrame), NopValidator)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, RuleSchema, ve.Rule)
}

func startThrough(t *testing.T, c *Cycle, target ComponentType) {
	t.Helper()
	completeThrough(t, c, mustPrev(target))
	require.NoError(t, c.StartComponent(target))
}

func mustPrev(t ComponentType) ComponentType {
	p, _ := t.Previous()
	return p
}

func TestCompleteComponent_AlternativesRules(t *testing.T) {
	tests := []struct {
		name string
		out  AlternativesOutput
		rule string
	}{
		{"one option", AlternativesOutput{Options: []Option{{ID: "a", Name: "A"}}, StatusQuoID: "a"}, RuleInsufficientOptions},
		{"no status quo", AlternativesOutput{Options: []Option{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}}, RuleStatusQuoMissing},
		{"status quo not listed", AlternativesOutput{Options: []Option{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}, StatusQuoID: "c"}, RuleStatusQuoMissing},
		{"duplicate ids", AlternativesOutput{Options: []Option{{ID: "a", Name: "A"}, {ID: "a", Name: "B"}}, StatusQuoID: "a"}, RuleDuplicateOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCycle("s")
			startThrough(t, c, Alternatives)
			err := c.CompleteComponent(Alternatives, tt.out, NopValidator)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.rule, ve.Rule)
		})
	}
}

func TestCompleteComponent_ObjectivesNeedFundamental(t *testing.T) {
	c := NewCycle("s")
	startThrough(t, c, Objectives)
	err := c.CompleteComponent(Objectives, ObjectivesOutput{Means: []Objective{{ID: "m", Description: "means"}}}, NopValidator)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, RuleFundamentalObjective, ve.Rule)
}

func TestCompleteComponent_ConsequencesRules(t *testing.T) {
	base := func() ConsequencesOutput {
		return ConsequencesOutput{
			Options:  []string{"a", "b"},
			Criteria: []string{"x", "y"},
			Cells: []ConsequenceCell{
				{OptionID: "a", CriterionID: "x", Rating: 1},
				{OptionID: "a", CriterionID: "y", Rating: 0},
				{OptionID: "b", CriterionID: "x", Rating: -1},
				{OptionID: "b", CriterionID: "y", Rating: 2},
			},
		}
	}
	missing := base()
	missing.Cells = missing.Cells[:3]
	outOfRange := base()
	outOfRange.Cells[0].Rating = 3
	unknown := base()
	unknown.Cells[1].CriterionID = "z"
	dupOption := base()
	dupOption.Options = []string{"a", "b", "a"}
	dupCriterion := base()
	dupCriterion.Criteria = []string{"x", "y", "x"}
	dupCell := base()
	dupCell.Cells = append(dupCell.Cells, ConsequenceCell{OptionID: "a", CriterionID: "x", Rating: -2})

	tests := []struct {
		name string
		out  ConsequencesOutput
		rule string
	}{
		{"missing cell", missing, RuleIncompleteTable},
		{"rating out of range", outOfRange, RuleRatingOutOfRange},
		{"unknown criterion", unknown, RuleUnknownReference},
		{"empty table", ConsequencesOutput{}, RuleIncompleteTable},
		{"repeated option", dupOption, RuleDuplicateOption},
		{"repeated criterion", dupCriterion, RuleDuplicateCriterion},
		{"option rated twice", dupCell, RuleDuplicateCell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCycle("s")
			startThrough(t, c, Consequences)
			err := c.CompleteComponent(Consequences, tt.out, NopValidator)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.rule, ve.Rule)
		})
	}

	t.Run("dense table completes", func(t *testing.T) {
		c := NewCycle("s")
		startThrough(t, c, Consequences)
		assert.NoError(t, c.CompleteComponent(Consequences, base(), NopValidator))
	})
}

func TestCompleteComponent_DecisionQualityNeedsSevenElements(t *testing.T) {
	c := NewCycle("s")
	startThrough(t, c, DecisionQuality)

	err := c.CompleteComponent(DecisionQuality, DecisionQualityOutput{Elements: []DQElementScore{{Name: "only", Score: 50}}}, NopValidator)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, RuleDQElementCount, ve.Rule)

	require.NoError(t, c.CompleteComponent(DecisionQuality, sampleOutput(DecisionQuality), NopValidator))
}

func TestUpdateComponentOutput_VersionsIncreaseByOne(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))

	expected := uint64(1)
	for i := 0; i < 5; i++ {
		out := IssueRaisingOutput{PotentialDecisions: []string{fmt.Sprintf("draft %d", i)}}
		v, err := c.UpdateComponentOutput(IssueRaising, out, expected, NopValidator)
		require.NoError(t, err)
		assert.Equal(t, expected+1, v)
		expected = v
	}
	comp, _ := c.Component(IssueRaising)
	assert.Equal(t, uint64(6), comp.Version)
}

func TestUpdateComponentOutput_StaleVersionLeavesStateUnchanged(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))
	first := IssueRaisingOutput{PotentialDecisions: []string{"first"}}
	_, err := c.UpdateComponentOutput(IssueRaising, first, 1, NopValidator)
	require.NoError(t, err)
	c.TakeEvents()

	_, err = c.UpdateComponentOutput(IssueRaising, IssueRaisingOutput{PotentialDecisions: []string{"stale"}}, 1, NopValidator)
	require.ErrorIs(t, err, ErrConcurrencyConflict)
	var ce *ConcurrencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(1), ce.Expected)
	assert.Equal(t, uint64(2), ce.Actual)

	comp, _ := c.Component(IssueRaising)
	assert.Equal(t, uint64(2), comp.Version)
	assert.Equal(t, first, comp.Output)
	assert.Empty(t, c.TakeEvents())
}

func TestUpdateComponentOutput_ComponentsVersionIndependently(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))
	require.NoError(t, c.StartComponent(ProblemFrame))

	_, err := c.UpdateComponentOutput(IssueRaising, sampleOutput(IssueRaising), 1, NopValidator)
	require.NoError(t, err)
	v, err := c.UpdateComponentOutput(ProblemFrame, sampleOutput(ProblemFrame), 1, NopValidator)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestUpdateComponentOutput_CompleteComponentIsLocked(t *testing.T) {
	c := NewCycle("s")
	completeThrough(t, c, IssueRaising)
	comp, _ := c.Component(IssueRaising)

	_, err := c.UpdateComponentOutput(IssueRaising, sampleOutput(IssueRaising), comp.Version, NopValidator)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	require.NoError(t, c.ReviseComponent(IssueRaising))
	v, err := c.UpdateComponentOutput(IssueRaising, sampleOutput(IssueRaising), comp.Version, NopValidator)
	require.NoError(t, err)
	assert.Equal(t, comp.Version+1, v)
}

func TestUpdateComponentOutput_StoresCopy(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))
	out := IssueRaisingOutput{PotentialDecisions: []string{"original"}}
	_, err := c.UpdateComponentOutput(IssueRaising, out, 1, NopValidator)
	require.NoError(t, err)

	out.PotentialDecisions[0] = "mutated"
	comp, _ := c.Component(IssueRaising)
	assert.Equal(t, "original", comp.Output.(IssueRaisingOutput).PotentialDecisions[0])
}

func TestReviseComponent_OnlyFromComplete(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))
	assert.ErrorIs(t, c.ReviseComponent(IssueRaising), ErrInvalidStateTransition)

	require.NoError(t, c.CompleteComponent(IssueRaising, sampleOutput(IssueRaising), NopValidator))
	require.NoError(t, c.ReviseComponent(IssueRaising))
	comp, _ := c.Component(IssueRaising)
	assert.Equal(t, StatusNeedsRevision, comp.Status)
	assert.Equal(t, IssueRaising, c.CurrentStep())
}

func TestNavigateTo(t *testing.T) {
	c := NewCycle("s")
	completeThrough(t, c, ProblemFrame)
	c.TakeEvents()

	require.NoError(t, c.NavigateTo(IssueRaising))
	assert.Equal(t, IssueRaising, c.CurrentStep())

	// prerequisite started, target not started
	require.NoError(t, c.NavigateTo(Objectives))
	assert.Equal(t, Objectives, c.CurrentStep())

	err := c.NavigateTo(Alternatives)
	assert.ErrorIs(t, err, ErrPreviousComponentRequired)
	assert.Equal(t, Objectives, c.CurrentStep())

	for _, comp := range c.Components() {
		if comp.Type == Objectives {
			assert.Equal(t, StatusNotStarted, comp.Status)
		}
	}
	assert.Empty(t, c.TakeEvents())
}

func TestBranchAt_InheritsThroughBranchPoint(t *testing.T) {
	parent := NewCycle("s")
	completeThrough(t, parent, Alternatives)

	child, err := parent.BranchAt(Alternatives)
	require.NoError(t, err)

	require.NotNil(t, child.ParentCycleID)
	assert.Equal(t, parent.ID, *child.ParentCycleID)
	require.NotNil(t, child.BranchPoint)
	assert.Equal(t, Alternatives, *child.BranchPoint)
	assert.Equal(t, Alternatives, child.CurrentStep())
	assert.Equal(t, CycleActive, child.Status())
	assert.NotEqual(t, parent.ID, child.ID)
	assert.True(t, child.IsBranch())

	for _, comp := range child.Components() {
		src, _ := parent.Component(comp.Type)
		switch {
		case comp.Type.IsBefore(Alternatives):
			assert.Equal(t, StatusComplete, comp.Status, comp.Type)
			assert.Equal(t, src.Output, comp.Output, comp.Type)
			assert.Equal(t, src.Version, comp.Version, comp.Type)
		case comp.Type == Alternatives:
			assert.Equal(t, StatusNeedsRevision, comp.Status)
			assert.Equal(t, src.Output, comp.Output)
			assert.Equal(t, src.Version, comp.Version)
		default:
			assert.Equal(t, StatusNotStarted, comp.Status, comp.Type)
			assert.Equal(t, uint64(1), comp.Version, comp.Type)
			assert.Nil(t, comp.Output, comp.Type)
		}
	}

	evts := child.TakeEvents()
	require.Len(t, evts, 1)
	assert.Equal(t, EventCycleBranched, evts[0].Type)
	assert.Equal(t, parent.ID, evts[0].ParentCycleID)
}

func TestBranchAt_DeepCopiesOutputs(t *testing.T) {
	parent := NewCycle("s")
	completeThrough(t, parent, Alternatives)
	child, err := parent.BranchAt(Alternatives)
	require.NoError(t, err)

	v, err := child.UpdateComponentOutput(Alternatives, AlternativesOutput{
		Options:     []Option{{ID: "x", Name: "X"}, {ID: "y", Name: "Y"}},
		StatusQuoID: "x",
	}, mustVersion(t, child, Alternatives), NopValidator)
	require.NoError(t, err)
	assert.Greater(t, v, uint64(1))

	src, _ := parent.Component(Alternatives)
	assert.Equal(t, "stay", src.Output.(AlternativesOutput).StatusQuoID)
	assert.Equal(t, StatusComplete, src.Status)
}

func mustVersion(t *testing.T, c *Cycle, ct ComponentType) uint64 {
	t.Helper()
	comp, err := c.Component(ct)
	require.NoError(t, err)
	return comp.Version
}

func TestBranchAt_InProgressBranchPoint(t *testing.T) {
	parent := NewCycle("s")
	startThrough(t, parent, Objectives)

	child, err := parent.BranchAt(Objectives)
	require.NoError(t, err)
	comp, _ := child.Component(Objectives)
	assert.Equal(t, StatusNeedsRevision, comp.Status)
}

func TestBranchAt_RequiresStartedBranchPoint(t *testing.T) {
	parent := NewCycle("s")
	completeThrough(t, parent, ProblemFrame)

	_, err := parent.BranchAt(Consequences)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestBranchAt_RequiresActiveCycle(t *testing.T) {
	parent := NewCycle("s")
	completeThrough(t, parent, IssueRaising)
	require.NoError(t, parent.Archive())

	_, err := parent.BranchAt(IssueRaising)
	assert.ErrorIs(t, err, ErrCycleNotActive)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestCompletedCycleIsImmutable(t *testing.T) {
	c := NewCycle("s")
	completeThrough(t, c, ProblemFrame)
	require.NoError(t, c.Complete())
	c.TakeEvents()

	assert.ErrorIs(t, c.StartComponent(Objectives), ErrCycleNotActive)
	_, err := c.UpdateComponentOutput(ProblemFrame, sampleOutput(ProblemFrame), 2, NopValidator)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.ErrorIs(t, c.CompleteComponent(ProblemFrame, nil, NopValidator), ErrCycleNotActive)
	assert.ErrorIs(t, c.NavigateTo(IssueRaising), ErrCycleNotActive)
	assert.ErrorIs(t, c.ReviseComponent(IssueRaising), ErrCycleNotActive)
	assert.ErrorIs(t, c.Complete(), ErrCycleNotActive)
	assert.Empty(t, c.TakeEvents())

	require.NoError(t, c.Archive())
	assert.Equal(t, CycleArchived, c.Status())
	assert.ErrorIs(t, c.Archive(), ErrInvalidStateTransition)
}

func TestTakeEvents_DrainsQueue(t *testing.T) {
	c := NewCycle("s")
	require.NoError(t, c.StartComponent(IssueRaising))
	_, err := c.UpdateComponentOutput(IssueRaising, sampleOutput(IssueRaising), 1, NopValidator)
	require.NoError(t, err)
	require.NoError(t, c.CompleteComponent(IssueRaising, nil, NopValidator))

	assert.Equal(t, 4, c.PendingEvents())
	evts := c.TakeEvents()
	types := make([]EventType, 0, len(evts))
	for _, e := range evts {
		types = append(types, e.Type)
		assert.Equal(t, c.ID, e.CycleID)
		assert.Equal(t, "s", e.SessionID)
	}
	assert.Equal(t, []EventType{EventCycleCreated, EventComponentStarted, EventComponentOutputUpdated, EventComponentCompleted}, types)
	assert.Equal(t, uint64(2), evts[2].Version)
	assert.Zero(t, c.PendingEvents())
}

func TestProgress(t *testing.T) {
	c := NewCycle("s")
	completeThrough(t, c, Objectives)
	require.NoError(t, c.StartComponent(Alternatives))

	p := c.Progress()
	assert.Equal(t, 9, p.Total)
	assert.Equal(t, 4, p.Started)
	assert.Equal(t, 3, p.Completed)
	assert.Equal(t, 33, p.Percent)
	assert.Equal(t, Alternatives, p.NextStep)
	assert.Equal(t, Alternatives, p.CurrentStep)
}

func TestSnapshotRehydrateRoundTrip(t *testing.T) {
	c := NewCycle("s")
	completeThrough(t, c, Objectives)

	back, err := Rehydrate(c.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, c.Components()[2].Output, back.Components()[2].Output)
	assert.Equal(t, c.CurrentStep(), back.CurrentStep())
	for _, comp := range back.Components() {
		assert.False(t, comp.Dirty())
		assert.Equal(t, comp.Version, comp.PersistedVersion())
	}
	assert.Zero(t, back.PendingEvents())
}

func TestRehydrate_RejectsBrokenSnapshots(t *testing.T) {
	good := NewCycle("s").Snapshot()

	partial := good
	partial.Components = good.Components[:8]
	_, err := Rehydrate(partial)
	assert.Error(t, err)

	dup := good
	dup.Components = append([]Component{}, good.Components...)
	dup.Components[8] = dup.Components[0]
	_, err = Rehydrate(dup)
	assert.Error(t, err)

	badStep := good
	badStep.CurrentStep = "nowhere"
	_, err = Rehydrate(badStep)
	assert.Error(t, err)

	orphan := good
	orphan.Components = append([]Component{}, good.Components...)
	orphan.Components[3].Status = StatusInProgress
	_, err = Rehydrate(orphan)
	assert.ErrorIs(t, err, ErrPreviousComponentRequired)
}

func TestMarkPersisted_ClearsDirtyState(t *testing.T) {
	c := NewCycle("s")
	c.MarkPersisted()
	assert.Empty(t, c.DirtyComponents())

	require.NoError(t, c.StartComponent(IssueRaising))
	dirty := c.DirtyComponents()
	require.Len(t, dirty, 1)
	assert.Equal(t, IssueRaising, dirty[0].Type)
	assert.Equal(t, uint64(1), dirty[0].PersistedVersion())
}
