package records

// Summary is the pipeline status report for a table.
type Summary struct {
	Total      int            `json:"total"`
	ByState    map[string]int `json:"by_state"`
	Eligible   map[Stage]int  `json:"eligible"`
	Unresolved int            `json:"unresolved_names"`
	SendErrors int            `json:"send_errors"`
	Progress   float64        `json:"progress"` // share of records in a terminal state
	Issues     []Issue        `json:"issues,omitempty"`
}

// Summarize counts records per state and per eligible stage.
func (t Table) Summarize() *Summary {
	s := &Summary{
		Total:    len(t),
		ByState:  make(map[string]int),
		Eligible: make(map[Stage]int),
	}
	terminal := 0
	for _, r := range t {
		st := r.State()
		s.ByState[st]++
		if st == "sent" || st == "skipped" {
			terminal++
		}
		for _, stage := range Stages {
			if Eligible(r, stage) {
				s.Eligible[stage]++
			}
		}
		if !r.NameResolved() {
			s.Unresolved++
		}
		if r.LastSendError != "" {
			s.SendErrors++
		}
	}
	if s.Total > 0 {
		s.Progress = clamp(float64(terminal)/float64(s.Total), 0, 1)
	}
	s.Issues = t.Validate()
	return s
}

func clamp(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
