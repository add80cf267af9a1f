package records

import (
	"fmt"
	"time"
)

// PlaceholderName is written by scrapers when a profile's display name could
// not be resolved yet.
const PlaceholderName = "Unknown"

// Stage identifies a pipeline step that owns a subset of record fields.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageScore   Stage = "score"
	StageMessage Stage = "message"
	StageSend    Stage = "send"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageFetch, StageScore, StageMessage, StageSend}

func (s Stage) String() string { return string(s) }

// ParseStage converts a CLI argument into a Stage.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q (want fetch, score, message or send)", s)
}

// Decision is the scoring outcome
type Decision string

const (
	DecisionNone Decision = ""
	DecisionSend Decision = "send"
	DecisionSkip Decision = "skip"
)

// ParseDecision accepts the persisted form; the empty string means unset.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionNone, DecisionSend, DecisionSkip:
		return Decision(s), nil
	}
	return DecisionNone, fmt.Errorf("invalid scoring decision %q", s)
}

// SendStatus is the outcome of the last send attempt
type SendStatus string

const (
	SendNone    SendStatus = ""
	SendSent    SendStatus = "sent"
	SendFailed  SendStatus = "failed"
	SendPending SendStatus = "pending"
)

// ParseSendStatus accepts the persisted form; the empty string means unset.
func ParseSendStatus(s string) (SendStatus, error) {
	switch SendStatus(s) {
	case SendNone, SendSent, SendFailed, SendPending:
		return SendStatus(s), nil
	}
	return SendNone, fmt.Errorf("invalid message sent status %q", s)
}

// ProfileRecord is one row of the profiles master table.
type ProfileRecord struct {
	ProfileURL         string     `json:"profile_url"`
	Name               string     `json:"name"`
	ConnectedDate      *time.Time `json:"connected_date"` // date only
	ProfileFetched     bool       `json:"profile_fetched"`
	ProfileFetchedAt   *time.Time `json:"profile_fetched_at"`
	TotalScore         *float64   `json:"total_score"`
	ScoringDecision    Decision   `json:"scoring_decision"`
	ExclusionReason    string     `json:"exclusion_reason"` // only when decision = skip
	MessageGenerated   bool       `json:"message_generated"`
	MessageGeneratedAt *time.Time `json:"message_generated_at"`
	MessageSentStatus  SendStatus `json:"message_sent_status"`
	MessageSentAt      *time.Time `json:"message_sent_at"`
	LastSendError      string     `json:"last_send_error"`
}

// NameResolved reports whether the display name is a real name.
func (r *ProfileRecord) NameResolved() bool {
	return r.Name != "" && r.Name != PlaceholderName
}

// Sent reports whether the record reached the terminal state.
func (r *ProfileRecord) Sent() bool {
	return r.MessageSentStatus == SendSent
}

// State names the furthest pipeline state the record has reached.
func (r *ProfileRecord) State() string {
	switch {
	case r.Sent():
		return "sent"
	case r.MessageGenerated:
		return "messaged"
	case r.ScoringDecision == DecisionSkip:
		return "skipped"
	case r.ScoringDecision == DecisionSend:
		return "scored"
	case r.ProfileFetched:
		return "fetched"
	default:
		return "new"
	}
}

// Clone returns a deep copy so callers can hand records to collaborators
// without sharing pointer fields with the table.
func (r *ProfileRecord) Clone() ProfileRecord {
	c := *r
	c.ConnectedDate = cloneTime(r.ConnectedDate)
	c.ProfileFetchedAt = cloneTime(r.ProfileFetchedAt)
	c.MessageGeneratedAt = cloneTime(r.MessageGeneratedAt)
	c.MessageSentAt = cloneTime(r.MessageSentAt)
	if r.TotalScore != nil {
		v := *r.TotalScore
		c.TotalScore = &v
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Ptr returns a pointer to the given value. Useful for optional struct fields.
func Ptr[T any](v T) *T {
	return &v
}
