package domain

import "fmt"

// DQElementCount is the number of scored elements in a decision quality
// self-assessment.
const DQElementCount = 7

// Validator checks the generic shape of a stage output. Stage completion
// rules are evaluated by the Cycle itself.
type Validator interface {
	ValidateOutput(t ComponentType, out Output) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(t ComponentType, out Output) error

func (f ValidatorFunc) ValidateOutput(t ComponentType, out Output) error { return f(t, out) }

// NopValidator accepts every output.
var NopValidator Validator = ValidatorFunc(func(ComponentType, Output) error { return nil })

func checkShape(v Validator, t ComponentType, out Output) error {
	if out == nil {
		return &ValidationError{Component: t, Rule: RuleOutputRequired, Message: "output is required"}
	}
	if out.ComponentType() != t {
		return &ValidationError{Component: t, Rule: RuleSchema, Message: fmt.Sprintf("output belongs to %s", out.ComponentType())}
	}
	if v == nil {
		return nil
	}
	if err := v.ValidateOutput(t, out); err != nil {
		if _, ok := err.(*ValidationError); ok {
			return err
		}
		return &ValidationError{Component: t, Rule: RuleSchema, Message: err.Error()}
	}
	return nil
}

// checkCompletion applies the stage-specific rules an output must satisfy
// before the stage can be marked complete.
func checkCompletion(t ComponentType, out Output) error {
	switch o := out.(type) {
	case IssueRaisingOutput, TradeoffsOutput, NotesNextStepsOutput:
		return nil
	case ProblemFrameOutput:
		if o.DecisionStatement == "" {
			return &ValidationError{Component: t, Rule: RuleDecisionStatement, Field: "decision_statement", Message: "decision statement is required"}
		}
	case ObjectivesOutput:
		if len(o.Fundamental) == 0 {
			return &ValidationError{Component: t, Rule: RuleFundamentalObjective, Field: "fundamental", Message: "at least one fundamental objective is required"}
		}
	case AlternativesOutput:
		return checkAlternatives(o)
	case ConsequencesOutput:
		return checkConsequences(o)
	case RecommendationOutput:
		if o.SelectedOptionID == "" {
			return &ValidationError{Component: t, Rule: RuleRecommendationRequired, Field: "selected_option_id", Message: "a selected option is required"}
		}
	case DecisionQualityOutput:
		return checkDecisionQuality(o)
	default:
		return &ValidationError{Component: t, Rule: RuleSchema, Message: fmt.Sprintf("unsupported output %T", out)}
	}
	return nil
}

func checkAlternatives(o AlternativesOutput) error {
	if len(o.Options) < 2 {
		return &ValidationError{Component: Alternatives, Rule: RuleInsufficientOptions, Field: "options",
			Message: fmt.Sprintf("at least 2 options are required, got %d", len(o.Options))}
	}
	seen := make(map[string]bool, len(o.Options))
	for i, opt := range o.Options {
		if seen[opt.ID] {
			return &ValidationError{Component: Alternatives, Rule: RuleDuplicateOption, Field: fmt.Sprintf("options[%d].id", i),
				Message: fmt.Sprintf("option %q declared twice", opt.ID)}
		}
		seen[opt.ID] = true
	}
	if o.StatusQuoID == "" {
		return &ValidationError{Component: Alternatives, Rule: RuleStatusQuoMissing, Field: "status_quo_id", Message: "a status quo option is required"}
	}
	if !seen[o.StatusQuoID] {
		return &ValidationError{Component: Alternatives, Rule: RuleStatusQuoMissing, Field: "status_quo_id",
			Message: fmt.Sprintf("status quo %q is not one of the options", o.StatusQuoID)}
	}
	return nil
}

func checkConsequences(o ConsequencesOutput) error {
	if len(o.Options) == 0 || len(o.Criteria) == 0 {
		return &ValidationError{Component: Consequences, Rule: RuleIncompleteTable, Field: "options",
			Message: "at least one option and one criterion are required"}
	}
	options := make(map[string]bool, len(o.Options))
	for i, id := range o.Options {
		if options[id] {
			return &ValidationError{Component: Consequences, Rule: RuleDuplicateOption, Field: fmt.Sprintf("options[%d]", i),
				Message: fmt.Sprintf("option %q listed twice", id)}
		}
		options[id] = true
	}
	criteria := make(map[string]bool, len(o.Criteria))
	for i, id := range o.Criteria {
		if criteria[id] {
			return &ValidationError{Component: Consequences, Rule: RuleDuplicateCriterion, Field: fmt.Sprintf("criteria[%d]", i),
				Message: fmt.Sprintf("criterion %q listed twice", id)}
		}
		criteria[id] = true
	}
	present := make(map[[2]string]bool, len(o.Cells))
	for i, c := range o.Cells {
		field := fmt.Sprintf("cells[%d]", i)
		if !options[c.OptionID] {
			return &ValidationError{Component: Consequences, Rule: RuleUnknownReference, Field: field + ".option_id",
				Message: fmt.Sprintf("unknown option %q", c.OptionID)}
		}
		if !criteria[c.CriterionID] {
			return &ValidationError{Component: Consequences, Rule: RuleUnknownReference, Field: field + ".criterion_id",
				Message: fmt.Sprintf("unknown criterion %q", c.CriterionID)}
		}
		if c.Rating < -2 || c.Rating > 2 {
			return &ValidationError{Component: Consequences, Rule: RuleRatingOutOfRange, Field: field + ".rating",
				Message: fmt.Sprintf("rating %d outside -2..2", c.Rating)}
		}
		key := [2]string{c.OptionID, c.CriterionID}
		if present[key] {
			return &ValidationError{Component: Consequences, Rule: RuleDuplicateCell, Field: field,
				Message: fmt.Sprintf("option %q rated twice on criterion %q", c.OptionID, c.CriterionID)}
		}
		present[key] = true
	}
	for _, opt := range o.Options {
		for _, crit := range o.Criteria {
			if !present[[2]string{opt, crit}] {
				return &ValidationError{Component: Consequences, Rule: RuleIncompleteTable, Field: "cells",
					Message: fmt.Sprintf("missing rating for option %q on criterion %q", opt, crit)}
			}
		}
	}
	return nil
}

func checkDecisionQuality(o DecisionQualityOutput) error {
	if len(o.Elements) != DQElementCount {
		return &ValidationError{Component: DecisionQuality, Rule: RuleDQElementCount, Field: "elements",
			Message: fmt.Sprintf("exactly %d elements are required, got %d", DQElementCount, len(o.Elements))}
	}
	for i, el := range o.Elements {
		if el.Score < 0 || el.Score > 100 {
			return &ValidationError{Component: DecisionQuality, Rule: RuleDQScoreOutOfRange, Field: fmt.Sprintf("elements[%d].score", i),
				Message: fmt.Sprintf("score %d outside 0..100", el.Score)}
		}
	}
	return nil
}
