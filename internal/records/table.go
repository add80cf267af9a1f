package records

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidUpdate  = errors.New("invalid update")
	ErrMissingMessage = errors.New("message not generated")
)

// Table is the in-memory profiles master, keyed by profile URL.
type Table map[string]*ProfileRecord

// NewTable returns an empty table.
func NewTable() Table {
	return make(Table)
}

// Get returns the record for url, or ErrRecordNotFound.
func (t Table) Get(url string) (*ProfileRecord, error) {
	r, ok := t[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, url)
	}
	return r, nil
}

// URLs returns every key in ascending order.
func (t Table) URLs() []string {
	urls := make([]string, 0, len(t))
	for u := range t {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Records returns the records ordered by profile URL.
func (t Table) Records() []*ProfileRecord {
	out := make([]*ProfileRecord, 0, len(t))
	for _, u := range t.URLs() {
		out = append(out, t[u])
	}
	return out
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	c := make(Table, len(t))
	for u, r := range t {
		rc := r.Clone()
		c[u] = &rc
	}
	return c
}

// Equal reports whether two tables hold the same records.
func (t Table) Equal(o Table) bool {
	if len(t) != len(o) {
		return false
	}
	for u, r := range t {
		or, ok := o[u]
		if !ok || !r.Equal(or) {
			return false
		}
	}
	return true
}

// Equal compares every field, following pointers.
func (r *ProfileRecord) Equal(o *ProfileRecord) bool {
	return r.ProfileURL == o.ProfileURL &&
		r.Name == o.Name &&
		timeEqual(r.ConnectedDate, o.ConnectedDate) &&
		r.ProfileFetched == o.ProfileFetched &&
		timeEqual(r.ProfileFetchedAt, o.ProfileFetchedAt) &&
		floatEqual(r.TotalScore, o.TotalScore) &&
		r.ScoringDecision == o.ScoringDecision &&
		r.ExclusionReason == o.ExclusionReason &&
		r.MessageGenerated == o.MessageGenerated &&
		timeEqual(r.MessageGeneratedAt, o.MessageGeneratedAt) &&
		r.MessageSentStatus == o.MessageSentStatus &&
		timeEqual(r.MessageSentAt, o.MessageSentAt) &&
		r.LastSendError == o.LastSendError
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func floatEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// CleanupPlaceholders removes rows whose name was never resolved and that
// made no progress past discovery. Returns the removed URLs in order.
func (t Table) CleanupPlaceholders() []string {
	var removed []string
	for _, u := range t.URLs() {
		r := t[u]
		if r.NameResolved() || r.progressed() {
			continue
		}
		delete(t, u)
		removed = append(removed, u)
	}
	return removed
}

// progressed reports whether any stage after discovery touched the record.
func (r *ProfileRecord) progressed() bool {
	return r.ProfileFetched || r.ScoringDecision != DecisionNone || r.TotalScore != nil ||
		r.MessageGenerated || r.MessageSentStatus != SendNone
}

// Issue is a violated record invariant found by Validate.
type Issue struct {
	ProfileURL string `json:"profile_url"`
	Problem    string `json:"problem"`
}

// Validate checks every record against the table invariants.
func (t Table) Validate() []Issue {
	var issues []Issue
	add := func(u, p string) { issues = append(issues, Issue{ProfileURL: u, Problem: p}) }
	for _, u := range t.URLs() {
		r := t[u]
		if r.ProfileURL != u {
			add(u, fmt.Sprintf("keyed under %q but profile_url is %q", u, r.ProfileURL))
		}
		if r.ScoringDecision != DecisionNone && r.TotalScore == nil {
			add(u, "scoring_decision set without total_score")
		}
		if r.TotalScore != nil && r.ScoringDecision == DecisionNone {
			add(u, "total_score set without scoring_decision")
		}
		if r.ScoringDecision == DecisionSkip && r.ExclusionReason == "" {
			add(u, "skip decision without exclusion_reason")
		}
		if r.ExclusionReason != "" && r.ScoringDecision != DecisionSkip {
			add(u, "exclusion_reason set but decision is not skip")
		}
		if r.Sent() && !r.MessageGenerated {
			add(u, "sent without a generated message")
		}
		if r.MessageGenerated && r.ScoringDecision != DecisionSend && !r.Sent() {
			add(u, "message generated but decision is not send")
		}
		if r.ScoringDecision != DecisionNone && !r.ProfileFetched {
			add(u, "scored before profile was fetched")
		}
	}
	return issues
}
