package records

import (
	"fmt"
	"strings"
	"time"
)

// Update is a partial record carrying only the fields owned by the stage that
// produced it. Nil fields are absent and never overwrite the stored value.
type Update struct {
	ProfileURL         string
	Name               *string
	ConnectedDate      *time.Time
	ProfileFetched     *bool
	ProfileFetchedAt   *time.Time
	TotalScore         *float64
	ScoringDecision    *Decision
	ExclusionReason    *string
	MessageGenerated   *bool
	MessageGeneratedAt *time.Time
	MessageSentStatus  *SendStatus
	MessageSentAt      *time.Time
	LastSendError      *string
}

// DiscoveryUpdate is produced by search and connection-list scrapes. An
// unresolved name is dropped so it cannot clobber a name resolved earlier.
func DiscoveryUpdate(url, name string, connected *time.Time) Update {
	u := Update{ProfileURL: NormalizeURL(url)}
	name = strings.TrimSpace(name)
	if name != "" && name != PlaceholderName {
		u.Name = &name
	}
	if connected != nil {
		d := truncateDay(*connected)
		u.ConnectedDate = &d
	}
	return u
}

// FetchUpdate marks a profile as fetched.
func FetchUpdate(url string, at time.Time) Update {
	return Update{
		ProfileURL:       url,
		ProfileFetched:   Ptr(true),
		ProfileFetchedAt: Ptr(at),
	}
}

// ScoreUpdate writes score, decision and exclusion reason as one unit.
func ScoreUpdate(url string, score float64, decision Decision, reason string) (Update, error) {
	if decision != DecisionSend && decision != DecisionSkip {
		return Update{}, fmt.Errorf("%w: decision %q for %s", ErrInvalidUpdate, decision, url)
	}
	reason = strings.TrimSpace(reason)
	if decision == DecisionSend {
		reason = ""
	} else if reason == "" {
		reason = "excluded by scorer"
	}
	return Update{
		ProfileURL:      url,
		TotalScore:      Ptr(score),
		ScoringDecision: Ptr(decision),
		ExclusionReason: Ptr(reason),
	}, nil
}

// MessageUpdate marks a message as generated.
func MessageUpdate(url string, at time.Time) Update {
	return Update{
		ProfileURL:         url,
		MessageGenerated:   Ptr(true),
		MessageGeneratedAt: Ptr(at),
	}
}

// SendUpdate records a send attempt. The error text is cleared on success.
func SendUpdate(url string, status SendStatus, errText string, at time.Time) Update {
	u := Update{
		ProfileURL:        url,
		MessageSentStatus: Ptr(status),
	}
	switch status {
	case SendSent:
		u.MessageSentAt = Ptr(at)
		u.LastSendError = Ptr("")
	case SendFailed:
		u.LastSendError = Ptr(errText)
	}
	return u
}

// MergeStats counts what a merge did.
type MergeStats struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Protected int `json:"protected"` // updates refused to keep sent records consistent
}

// Merge applies updates in order, creating records for unseen URLs. The
// batch is validated up front so a bad update leaves the table untouched.
// Replaying the same batch yields the same table.
func (t Table) Merge(updates ...Update) (MergeStats, error) {
	var stats MergeStats
	for i, u := range updates {
		if err := u.validate(); err != nil {
			return stats, fmt.Errorf("update %d: %w", i, err)
		}
	}
	for _, u := range updates {
		r, ok := t[u.ProfileURL]
		if !ok {
			r = &ProfileRecord{ProfileURL: u.ProfileURL}
			t[u.ProfileURL] = r
			stats.Created++
			if apply(r, u) {
				stats.Protected++
			}
			continue
		}
		before := r.Clone()
		if apply(r, u) {
			stats.Protected++
		}
		if r.Equal(&before) {
			stats.Unchanged++
		} else {
			stats.Updated++
		}
	}
	return stats, nil
}

func (u *Update) validate() error {
	if strings.TrimSpace(u.ProfileURL) == "" {
		return fmt.Errorf("%w: empty profile_url", ErrInvalidUpdate)
	}
	if u.ScoringDecision != nil {
		if _, err := ParseDecision(string(*u.ScoringDecision)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
		}
	}
	if u.MessageSentStatus != nil {
		if _, err := ParseSendStatus(string(*u.MessageSentStatus)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
		}
	}
	return nil
}

// apply overwrites every present field. It reports true when a change was
// refused: a sent record never leaves sent or loses its generated message,
// and no record becomes sent without one.
func apply(r *ProfileRecord, u Update) (protected bool) {
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.ConnectedDate != nil {
		r.ConnectedDate = Ptr(*u.ConnectedDate)
	}
	if u.ProfileFetched != nil {
		r.ProfileFetched = *u.ProfileFetched
	}
	if u.ProfileFetchedAt != nil {
		r.ProfileFetchedAt = Ptr(*u.ProfileFetchedAt)
	}
	if u.TotalScore != nil {
		r.TotalScore = Ptr(*u.TotalScore)
	}
	if u.ScoringDecision != nil {
		r.ScoringDecision = *u.ScoringDecision
	}
	if u.ExclusionReason != nil {
		r.ExclusionReason = *u.ExclusionReason
	}
	if u.MessageGenerated != nil {
		if r.Sent() && !*u.MessageGenerated {
			protected = true
		} else {
			r.MessageGenerated = *u.MessageGenerated
		}
	}
	if u.MessageGeneratedAt != nil {
		r.MessageGeneratedAt = Ptr(*u.MessageGeneratedAt)
	}

	if u.MessageSentStatus != nil {
		next := *u.MessageSentStatus
		if r.Sent() && next != SendSent {
			return true
		}
		if next == SendSent && !r.MessageGenerated {
			return true
		}
	}
	if u.MessageSentStatus != nil {
		r.MessageSentStatus = *u.MessageSentStatus
	}
	if u.MessageSentAt != nil {
		r.MessageSentAt = Ptr(*u.MessageSentAt)
	}
	if u.LastSendError != nil {
		r.LastSendError = *u.LastSendError
	}
	return protected
}

// NormalizeURL trims whitespace, query strings and trailing slashes so the
// same profile scraped from different pages maps to one key.
func NormalizeURL(url string) string {
	url = strings.TrimSpace(url)
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return strings.TrimRight(url, "/")
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
