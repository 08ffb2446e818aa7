// Package analysis holds the pure calculations run over a cycle's
// consequences table and decision quality self-assessment.
package analysis

import "proact/internal/domain"

// Rating compares an option with the status quo on one criterion:
// -2 much worse, 0 same, +2 much better.
type Rating int

// Table is a Pugh matrix. Options and Criteria fix the iteration order;
// Ratings is keyed by option then criterion and may be sparse.
type Table struct {
	Options  []string
	Criteria []string
	Ratings  map[string]map[string]Rating
}

// Rating returns the rating of option on criterion and whether the cell
// exists.
func (t Table) Rating(option, criterion string) (Rating, bool) {
	row, ok := t.Ratings[option]
	if !ok {
		return 0, false
	}
	r, ok := row[criterion]
	return r, ok
}

// value is the rating used for scoring and dominance: missing cells count
// as the status quo.
func (t Table) value(option, criterion string) Rating {
	r, _ := t.Rating(option, criterion)
	return r
}

// Set stores a rating, allocating rows as needed.
func (t *Table) Set(option, criterion string, r Rating) {
	if t.Ratings == nil {
		t.Ratings = map[string]map[string]Rating{}
	}
	row, ok := t.Ratings[option]
	if !ok {
		row = map[string]Rating{}
		t.Ratings[option] = row
	}
	row[criterion] = r
}

// FromConsequences builds a table from a consequences stage output.
// Repeated options, criteria and cells keep their first occurrence.
func FromConsequences(out domain.ConsequencesOutput) Table {
	t := Table{
		Options:  uniq(out.Options),
		Criteria: uniq(out.Criteria),
		Ratings:  make(map[string]map[string]Rating, len(out.Options)),
	}
	for _, c := range out.Cells {
		if _, ok := t.Rating(c.OptionID, c.CriterionID); ok {
			continue
		}
		t.Set(c.OptionID, c.CriterionID, Rating(c.Rating))
	}
	return t
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ElementsFrom converts a decision quality stage output.
func ElementsFrom(out domain.DecisionQualityOutput) []DQElement {
	els := make([]DQElement, 0, len(out.Elements))
	for _, e := range out.Elements {
		els = append(els, DQElement{Name: e.Name, Score: e.Score})
	}
	return els
}
