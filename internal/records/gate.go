package records

import (
	"fmt"
	"time"
)

// Eligible reports whether r satisfies the precondition for stage. Given the
// record invariants at most one stage is eligible at a time.
func Eligible(r *ProfileRecord, stage Stage) bool {
	switch stage {
	case StageFetch:
		return !r.ProfileFetched
	case StageScore:
		return r.ProfileFetched && r.ScoringDecision == DecisionNone
	case StageMessage:
		return r.ScoringDecision == DecisionSend && !r.MessageGenerated
	case StageSend:
		return r.MessageGenerated && r.MessageSentStatus != SendSent
	}
	return false
}

// Eligible returns the records eligible for stage, ordered by profile URL.
func (t Table) Eligible(stage Stage) []*ProfileRecord {
	var out []*ProfileRecord
	for _, r := range t.Records() {
		if Eligible(r, stage) {
			out = append(out, r)
		}
	}
	return out
}

// TransitionWarning describes a stage completion applied to a record that was
// not eligible for that stage. It is not fatal; callers log it for review.
type TransitionWarning struct {
	ProfileURL string
	Stage      Stage
	State      string
	Applied    bool
}

func (w *TransitionWarning) String() string {
	verb := "applied anyway"
	if !w.Applied {
		verb = "ignored"
	}
	return fmt.Sprintf("%s completion on %s in state %q (%s)", w.Stage, w.ProfileURL, w.State, verb)
}

func (t Table) check(url string, stage Stage) (*ProfileRecord, *TransitionWarning, error) {
	r, err := t.Get(url)
	if err != nil {
		return nil, nil, err
	}
	if Eligible(r, stage) {
		return r, nil, nil
	}
	return r, &TransitionWarning{ProfileURL: url, Stage: stage, State: r.State(), Applied: true}, nil
}

// MarkFetched records a completed profile fetch.
func (t Table) MarkFetched(url string, at time.Time) (*TransitionWarning, error) {
	r, warn, err := t.check(url, StageFetch)
	if err != nil {
		return nil, err
	}
	apply(r, FetchUpdate(url, at))
	return warn, nil
}

// MarkScored writes the score and decision together. The reason is kept only
// for skip decisions.
func (t Table) MarkScored(url string, score float64, decision Decision, reason string) (*TransitionWarning, error) {
	u, err := ScoreUpdate(url, score, decision, reason)
	if err != nil {
		return nil, err
	}
	r, warn, err := t.check(url, StageScore)
	if err != nil {
		return nil, err
	}
	apply(r, u)
	return warn, nil
}

// MarkMessaged records that an outreach message was generated and stored.
func (t Table) MarkMessaged(url string, at time.Time) (*TransitionWarning, error) {
	r, warn, err := t.check(url, StageMessage)
	if err != nil {
		return nil, err
	}
	apply(r, MessageUpdate(url, at))
	return warn, nil
}

// MarkSent records the outcome of a send attempt. A record that is already
// sent never changes; a record without a generated message cannot become sent.
func (t Table) MarkSent(url string, status SendStatus, errText string, at time.Time) (*TransitionWarning, error) {
	if status == SendNone {
		return nil, fmt.Errorf("%w: empty send status for %s", ErrInvalidUpdate, url)
	}
	if _, err := ParseSendStatus(string(status)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	r, warn, err := t.check(url, StageSend)
	if err != nil {
		return nil, err
	}
	if r.Sent() {
		warn.Applied = false
		return warn, nil
	}
	if status == SendSent && !r.MessageGenerated {
		return nil, fmt.Errorf("%w: cannot mark %s sent", ErrMissingMessage, url)
	}
	apply(r, SendUpdate(url, status, errText, at))
	return warn, nil
}
