package records

// ResetScoring clears the scoring outcome of every scored record so the score
// stage runs again. Generated messages are invalidated too, since they were
// composed from the old outcome. Fetch fields and send history are kept, and
// sent records are never touched. Returns the affected URLs in order.
func (t Table) ResetScoring() []string {
	var affected []string
	for _, r := range t.Records() {
		if r.ScoringDecision == DecisionNone || r.Sent() {
			continue
		}
		r.TotalScore = nil
		r.ScoringDecision = DecisionNone
		r.ExclusionReason = ""
		r.MessageGenerated = false
		r.MessageGeneratedAt = nil
		affected = append(affected, r.ProfileURL)
	}
	return affected
}

// ResetMessages clears the generated-message marker of every unsent record.
func (t Table) ResetMessages() []string {
	var affected []string
	for _, r := range t.Records() {
		if !r.MessageGenerated || r.Sent() {
			continue
		}
		r.MessageGenerated = false
		r.MessageGeneratedAt = nil
		affected = append(affected, r.ProfileURL)
	}
	return affected
}

// CountReset reports how many records a reset of stage would touch without
// changing anything.
func (t Table) CountReset(stage Stage) int {
	n := 0
	for _, r := range t {
		if r.Sent() {
			continue
		}
		switch stage {
		case StageScore:
			if r.ScoringDecision != DecisionNone {
				n++
			}
		case StageMessage:
			if r.MessageGenerated {
				n++
			}
		}
	}
	return n
}
