package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Output is the structured result of one stage. The set of implementations
// is closed: one struct per ComponentType.
type Output interface {
	ComponentType() ComponentType
	isOutput()
}

type IssueRaisingOutput struct {
	PotentialDecisions []string `json:"potential_decisions,omitempty"`
	Objectives         []string `json:"objectives,omitempty"`
	Uncertainties      []string `json:"uncertainties,omitempty"`
	Considerations     []string `json:"considerations,omitempty"`
}

type Stakeholder struct {
	Name string `json:"name" minLength:"1"`
	Role string `json:"role,omitempty"`
}

type ProblemFrameOutput struct {
	DecisionStatement string        `json:"decision_statement,omitempty" maxLength:"2000"`
	DecisionMaker     string        `json:"decision_maker,omitempty"`
	Scope             string        `json:"scope,omitempty"`
	Deadline          string        `json:"deadline,omitempty"`
	Constraints       []string      `json:"constraints,omitempty"`
	Stakeholders      []Stakeholder `json:"stakeholders,omitempty"`
	// Decision hierarchy: what is settled, what is decided now, what waits.
	AlreadyMade []string `json:"already_made,omitempty"`
	Focal       []string `json:"focal,omitempty"`
	Deferred    []string `json:"deferred,omitempty"`
}

type Objective struct {
	ID          string `json:"id" minLength:"1"`
	Description string `json:"description" minLength:"1"`
	Measure     string `json:"measure,omitempty"`
}

type ObjectivesOutput struct {
	Fundamental []Objective `json:"fundamental,omitempty"`
	Means       []Objective `json:"means,omitempty"`
}

type Option struct {
	ID          string `json:"id" minLength:"1"`
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
}

type AlternativesOutput struct {
	Options     []Option `json:"options,omitempty"`
	StatusQuoID string   `json:"status_quo_id,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// OptionIDs returns option ids in declaration order.
func (o AlternativesOutput) OptionIDs() []string {
	ids := make([]string, 0, len(o.Options))
	for _, opt := range o.Options {
		ids = append(ids, opt.ID)
	}
	return ids
}

// ConsequenceCell rates one option against one criterion relative to the
// status quo: -2 much worse .. +2 much better.
type ConsequenceCell struct {
	OptionID    string `json:"option_id" minLength:"1"`
	CriterionID string `json:"criterion_id" minLength:"1"`
	Rating      int    `json:"rating" minimum:"-2" maximum:"2"`
	Rationale   string `json:"rationale,omitempty"`
}

type ConsequencesOutput struct {
	Options  []string          `json:"options,omitempty"`
	Criteria []string          `json:"criteria,omitempty"`
	Cells    []ConsequenceCell `json:"cells,omitempty"`
}

type TradeoffNote struct {
	OptionID string   `json:"option_id" minLength:"1"`
	Gains    []string `json:"gains,omitempty"`
	Losses   []string `json:"losses,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

type TradeoffsOutput struct {
	DominatedOptions     []string       `json:"dominated_options,omitempty"`
	IrrelevantObjectives []string       `json:"irrelevant_objectives,omitempty"`
	Tensions             []TradeoffNote `json:"tensions,omitempty"`
	Notes                string         `json:"notes,omitempty"`
}

type RecommendationOutput struct {
	SelectedOptionID  string   `json:"selected_option_id,omitempty"`
	Rationale         string   `json:"rationale,omitempty"`
	KeyConsiderations []string `json:"key_considerations,omitempty"`
	Caveats           []string `json:"caveats,omitempty"`
}

type DQElementScore struct {
	Name      string `json:"name" minLength:"1"`
	Score     int    `json:"score" minimum:"0" maximum:"100"`
	Rationale string `json:"rationale,omitempty"`
}

type DecisionQualityOutput struct {
	Elements []DQElementScore `json:"elements,omitempty"`
}

type NextStep struct {
	Description string `json:"description" minLength:"1"`
	Owner       string `json:"owner,omitempty"`
	Due         string `json:"due,omitempty"`
}

type NotesNextStepsOutput struct {
	Notes         []string   `json:"notes,omitempty"`
	OpenQuestions []string   `json:"open_questions,omitempty"`
	NextSteps     []NextStep `json:"next_steps,omitempty"`
}

func (IssueRaisingOutput) ComponentType() ComponentType    { return IssueRaising }
func (ProblemFrameOutput) ComponentType() ComponentType    { return ProblemFrame }
func (ObjectivesOutput) ComponentType() ComponentType      { return Objectives }
func (AlternativesOutput) ComponentType() ComponentType    { return Alternatives }
func (ConsequencesOutput) ComponentType() ComponentType    { return Consequences }
func (TradeoffsOutput) ComponentType() ComponentType       { return Tradeoffs }
func (RecommendationOutput) ComponentType() ComponentType  { return Recommendation }
func (DecisionQualityOutput) ComponentType() ComponentType { return DecisionQuality }
func (NotesNextStepsOutput) ComponentType() ComponentType  { return NotesNextSteps }

func (IssueRaisingOutput) isOutput()    {}
func (ProblemFrameOutput) isOutput()    {}
func (ObjectivesOutput) isOutput()      {}
func (AlternativesOutput) isOutput()    {}
func (ConsequencesOutput) isOutput()    {}
func (TradeoffsOutput) isOutput()       {}
func (RecommendationOutput) isOutput()  {}
func (DecisionQualityOutput) isOutput() {}
func (NotesNextStepsOutput) isOutput()  {}

// EmptyOutput returns the zero output value for a stage.
func EmptyOutput(t ComponentType) (Output, error) {
	switch t {
	case IssueRaising:
		return IssueRaisingOutput{}, nil
	case ProblemFrame:
		return ProblemFrameOutput{}, nil
	case Objectives:
		return ObjectivesOutput{}, nil
	case Alternatives:
		return AlternativesOutput{}, nil
	case Consequences:
		return ConsequencesOutput{}, nil
	case Tradeoffs:
		return TradeoffsOutput{}, nil
	case Recommendation:
		return RecommendationOutput{}, nil
	case DecisionQuality:
		return DecisionQualityOutput{}, nil
	case NotesNextSteps:
		return NotesNextStepsOutput{}, nil
	}
	return nil, fmt.Errorf("invalid component type %q", t)
}

// DecodeOutput parses a JSON payload into the output type of stage t.
// Unknown fields are rejected.
func DecodeOutput(t ComponentType, data []byte) (Output, error) {
	switch t {
	case IssueRaising:
		return decodeInto[IssueRaisingOutput](t, data)
	case ProblemFrame:
		return decodeInto[ProblemFrameOutput](t, data)
	case Objectives:
		return decodeInto[ObjectivesOutput](t, data)
	case Alternatives:
		return decodeInto[AlternativesOutput](t, data)
	case Consequences:
		return decodeInto[ConsequencesOutput](t, data)
	case Tradeoffs:
		return decodeInto[TradeoffsOutput](t, data)
	case Recommendation:
		return decodeInto[RecommendationOutput](t, data)
	case DecisionQuality:
		return decodeInto[DecisionQualityOutput](t, data)
	case NotesNextSteps:
		return decodeInto[NotesNextStepsOutput](t, data)
	}
	return nil, fmt.Errorf("invalid component type %q", t)
}

func decodeInto[T Output](t ComponentType, data []byte) (Output, error) {
	var out T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, &ValidationError{Component: t, Rule: RuleSchema, Message: err.Error()}
	}
	return out, nil
}

// EncodeOutput serializes an output; a nil output encodes as nil.
func EncodeOutput(out Output) ([]byte, error) {
	if out == nil {
		return nil, nil
	}
	return json.Marshal(out)
}

// cloneOutput returns a deep copy sharing no slices with out.
func cloneOutput(out Output) (Output, error) {
	if out == nil {
		return nil, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("clone %s output: %w", out.ComponentType(), err)
	}
	return DecodeOutput(out.ComponentType(), data)
}
