package analysis

// DQElement is one scored element of a decision quality assessment.
type DQElement struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ImprovementThreshold is the score below which an element gets a
// suggestion.
const ImprovementThreshold = 70

type Improvement struct {
	Element    string   `json:"element"`
	Score      int      `json:"score"`
	Priority   Priority `json:"priority"`
	Suggestion string   `json:"suggestion"`
}

type DQResult struct {
	Overall      int           `json:"overall"`
	Weakest      *DQElement    `json:"weakest,omitempty"`
	Improvements []Improvement `json:"improvements"`
}

var standardDQ = []struct {
	name       string
	suggestion string
}{
	{"Helpful Problem Frame", "Revisit the decision statement and scope; confirm what is already decided and what is deferred."},
	{"Clear Objectives", "Separate fundamental from means objectives and give each a way to measure it."},
	{"Creative Alternatives", "Generate at least one genuinely different option beyond the obvious ones."},
	{"Reliable Consequence Information", "Fill the weakest cells of the consequences table with evidence rather than guesses."},
	{"Logically Correct Reasoning", "Check that dominated options were dropped and that the ranking follows from the ratings."},
	{"Clear Tradeoffs", "Write down what you give up with the preferred option and confirm you accept it."},
	{"Commitment to Follow Through", "Name concrete next steps with an owner and a date."},
}

// StandardDQElements returns the seven canonical element names in order.
func StandardDQElements() []string {
	names := make([]string, len(standardDQ))
	for i, el := range standardDQ {
		names[i] = el.name
	}
	return names
}

// ComputeOverall is the weakest-link score: the minimum element score, or 0
// for no elements.
func ComputeOverall(elements []DQElement) int {
	weakest, ok := IdentifyWeakest(elements)
	if !ok {
		return 0
	}
	return weakest.Score
}

// IdentifyWeakest returns the lowest scoring element; among equal scores
// the first one wins.
func IdentifyWeakest(elements []DQElement) (DQElement, bool) {
	if len(elements) == 0 {
		return DQElement{}, false
	}
	weakest := elements[0]
	for _, el := range elements[1:] {
		if el.Score < weakest.Score {
			weakest = el
		}
	}
	return weakest, true
}

// PriorityFor buckets a score.
func PriorityFor(score int) Priority {
	switch {
	case score <= 30:
		return PriorityCritical
	case score <= 50:
		return PriorityHigh
	case score <= 70:
		return PriorityMedium
	}
	return PriorityLow
}

// SuggestImprovements lists every element scoring below the threshold, in
// input order.
func SuggestImprovements(elements []DQElement) []Improvement {
	out := []Improvement{}
	for _, el := range elements {
		if el.Score >= ImprovementThreshold {
			continue
		}
		out = append(out, Improvement{
			Element:    el.Name,
			Score:      el.Score,
			Priority:   PriorityFor(el.Score),
			Suggestion: suggestionFor(el.Name),
		})
	}
	return out
}

func suggestionFor(name string) string {
	for _, el := range standardDQ {
		if el.name == name {
			return el.suggestion
		}
	}
	return "Strengthen " + name + " before committing to the decision."
}

// AssessQuality bundles overall score, weakest element and suggestions.
func AssessQuality(elements []DQElement) DQResult {
	res := DQResult{Overall: ComputeOverall(elements), Improvements: SuggestImprovements(elements)}
	if w, ok := IdentifyWeakest(elements); ok {
		res.Weakest = &w
	}
	return res
}
