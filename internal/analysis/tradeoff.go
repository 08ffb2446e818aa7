package analysis

// Tension lists, for a non-dominated option, the criteria where it beats
// at least one peer and those where at least one peer beats it.
type Tension struct {
	OptionID string   `json:"option_id"`
	Gains    []string `json:"gains"`
	Losses   []string `json:"losses"`
}

// AnalyzeTensions compares the surviving options pairwise. Dominated
// options are excluded both as subjects and as peers.
func AnalyzeTensions(t Table, dominated []Dominated) []Tension {
	excluded := make(map[string]bool, len(dominated))
	for _, d := range dominated {
		excluded[d.OptionID] = true
	}
	var survivors []string
	for _, opt := range t.Options {
		if !excluded[opt] {
			survivors = append(survivors, opt)
		}
	}

	tensions := make([]Tension, 0, len(survivors))
	for _, opt := range survivors {
		ts := Tension{OptionID: opt, Gains: []string{}, Losses: []string{}}
		for _, crit := range t.Criteria {
			mine := t.value(opt, crit)
			gain, loss := false, false
			for _, peer := range survivors {
				if peer == opt {
					continue
				}
				theirs := t.value(peer, crit)
				if mine > theirs {
					gain = true
				}
				if mine < theirs {
					loss = true
				}
			}
			if gain {
				ts.Gains = append(ts.Gains, crit)
			}
			if loss {
				ts.Losses = append(ts.Losses, crit)
			}
		}
		tensions = append(tensions, ts)
	}
	return tensions
}
