package analysis

import (
	"fmt"
	"sort"
	"strings"
)

// Dominated records an option that another option beats or matches on
// every criterion.
type Dominated struct {
	OptionID    string   `json:"option_id"`
	DominatedBy string   `json:"dominated_by"`
	BetterOn    []string `json:"better_on"`
	Explanation string   `json:"explanation"`
}

// Ranked is one row of the ranking. Equal scores share a rank.
type Ranked struct {
	OptionID string `json:"option_id"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// PughResult bundles every Pugh calculation for one table.
type PughResult struct {
	Scores               map[string]int `json:"scores"`
	Ranking              []Ranked       `json:"ranking"`
	Dominated            []Dominated    `json:"dominated"`
	IrrelevantObjectives []string       `json:"irrelevant_objectives"`
	TopAlternative       string         `json:"top_alternative,omitempty"`
	Tensions             []Tension      `json:"tensions"`
}

// ComputeScores sums each option's ratings across the criteria.
func ComputeScores(t Table) map[string]int {
	scores := make(map[string]int, len(t.Options))
	for _, opt := range t.Options {
		total := 0
		for _, crit := range t.Criteria {
			total += int(t.value(opt, crit))
		}
		scores[opt] = total
	}
	return scores
}

// Dominates reports whether a is at least as good as b on every criterion
// and strictly better on at least one.
func Dominates(t Table, a, b string) bool {
	_, ok := betterOn(t, a, b)
	return ok
}

// betterOn returns the criteria where a beats b, and false if b beats a
// anywhere or they tie everywhere.
func betterOn(t Table, a, b string) ([]string, bool) {
	if a == b {
		return nil, false
	}
	var better []string
	for _, crit := range t.Criteria {
		ra, rb := t.value(a, crit), t.value(b, crit)
		if ra < rb {
			return nil, false
		}
		if ra > rb {
			better = append(better, crit)
		}
	}
	return better, len(better) > 0
}

// FindDominated lists dominated options in table order, each with the
// first dominator in table order.
func FindDominated(t Table) []Dominated {
	var out []Dominated
	for _, b := range t.Options {
		for _, a := range t.Options {
			better, ok := betterOn(t, a, b)
			if !ok {
				continue
			}
			out = append(out, Dominated{
				OptionID:    b,
				DominatedBy: a,
				BetterOn:    better,
				Explanation: fmt.Sprintf("%s is no worse than %s on every criterion and better on %s", a, b, strings.Join(better, ", ")),
			})
			break
		}
	}
	return out
}

// FindIrrelevantObjectives lists criteria on which every rated option has
// the same rating. Criteria with fewer than two rated options are skipped.
func FindIrrelevantObjectives(t Table) []string {
	var out []string
	for _, crit := range t.Criteria {
		var first Rating
		present := 0
		same := true
		for _, opt := range t.Options {
			r, ok := t.Rating(opt, crit)
			if !ok {
				continue
			}
			if present == 0 {
				first = r
			} else if r != first {
				same = false
				break
			}
			present++
		}
		if same && present >= 2 {
			out = append(out, crit)
		}
	}
	return out
}

// RankAlternatives orders options by score, highest first. Ties keep table
// order and share a rank (1, 1, 3).
func RankAlternatives(t Table) []Ranked {
	scores := ComputeScores(t)
	ranked := make([]Ranked, 0, len(t.Options))
	for _, opt := range t.Options {
		ranked = append(ranked, Ranked{OptionID: opt, Score: scores[opt]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	for i := range ranked {
		if i > 0 && ranked[i].Score == ranked[i-1].Score {
			ranked[i].Rank = ranked[i-1].Rank
		} else {
			ranked[i].Rank = i + 1
		}
	}
	return ranked
}

// FindTopAlternative returns the best option only when it strictly leads.
func FindTopAlternative(t Table) (string, bool) {
	ranked := RankAlternatives(t)
	switch {
	case len(ranked) == 0:
		return "", false
	case len(ranked) == 1:
		return ranked[0].OptionID, true
	case ranked[0].Score > ranked[1].Score:
		return ranked[0].OptionID, true
	}
	return "", false
}

// Analyze runs every Pugh calculation plus the tension analysis.
func Analyze(t Table) PughResult {
	dominated := FindDominated(t)
	top, _ := FindTopAlternative(t)
	return PughResult{
		Scores:               ComputeScores(t),
		Ranking:              RankAlternatives(t),
		Dominated:            dominated,
		IrrelevantObjectives: FindIrrelevantObjectives(t),
		TopAlternative:       top,
		Tensions:             AnalyzeTensions(t, dominated),
	}
}
