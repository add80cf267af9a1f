package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"outreach/pipeline/internal/records"
)

// Columns is the fixed profiles master schema, in persisted order.
var Columns = []string{
	"profile_url",
	"name",
	"connected_date",
	"profile_fetched",
	"profile_fetched_at",
	"total_score",
	"scoring_decision",
	"exclusion_reason",
	"message_generated",
	"message_generated_at",
	"message_sent_status",
	"message_sent_at",
	"last_send_error",
}

const dateLayout = "2006-01-02"

// timestamp layouts accepted on load; the first one is written.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func encodeRecord(r *records.ProfileRecord) []string {
	return []string{
		r.ProfileURL,
		r.Name,
		formatDate(r.ConnectedDate),
		strconv.FormatBool(r.ProfileFetched),
		formatTime(r.ProfileFetchedAt),
		formatScore(r.TotalScore),
		string(r.ScoringDecision),
		r.ExclusionReason,
		strconv.FormatBool(r.MessageGenerated),
		formatTime(r.MessageGeneratedAt),
		string(r.MessageSentStatus),
		formatTime(r.MessageSentAt),
		r.LastSendError,
	}
}

// headerIndex maps each known column to its position and rejects unknown or
// missing columns.
func headerIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if _, dup := idx[h]; dup {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		idx[h] = i
	}
	for h := range idx {
		if !knownColumn(h) {
			return nil, fmt.Errorf("unknown column %q", h)
		}
	}
	for _, c := range Columns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}
	return idx, nil
}

func knownColumn(c string) bool {
	for _, k := range Columns {
		if k == c {
			return true
		}
	}
	return false
}

// decodeRecord parses one row addressed through idx.
func decodeRecord(row []string, idx map[string]int) (*records.ProfileRecord, error) {
	get := func(c string) string { return strings.TrimSpace(row[idx[c]]) }

	r := &records.ProfileRecord{
		ProfileURL:      get("profile_url"),
		Name:            get("name"),
		ExclusionReason: get("exclusion_reason"),
		LastSendError:   get("last_send_error"),
	}
	if r.ProfileURL == "" {
		return nil, fmt.Errorf("empty profile_url")
	}

	var err error
	if r.ConnectedDate, err = parseDate(get("connected_date")); err != nil {
		return nil, fmt.Errorf("connected_date: %w", err)
	}
	if r.ProfileFetched, err = parseBool(get("profile_fetched")); err != nil {
		return nil, fmt.Errorf("profile_fetched: %w", err)
	}
	if r.ProfileFetchedAt, err = parseTime(get("profile_fetched_at")); err != nil {
		return nil, fmt.Errorf("profile_fetched_at: %w", err)
	}
	if r.TotalScore, err = parseScore(get("total_score")); err != nil {
		return nil, fmt.Errorf("total_score: %w", err)
	}
	if r.ScoringDecision, err = records.ParseDecision(get("scoring_decision")); err != nil {
		return nil, err
	}
	if r.MessageGenerated, err = parseBool(get("message_generated")); err != nil {
		return nil, fmt.Errorf("message_generated: %w", err)
	}
	if r.MessageGeneratedAt, err = parseTime(get("message_generated_at")); err != nil {
		return nil, fmt.Errorf("message_generated_at: %w", err)
	}
	if r.MessageSentStatus, err = records.ParseSendStatus(get("message_sent_status")); err != nil {
		return nil, err
	}
	if r.MessageSentAt, err = parseTime(get("message_sent_at")); err != nil {
		return nil, fmt.Errorf("message_sent_at: %w", err)
	}
	return r, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayouts[0])
}

func formatScore(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return &t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func parseScore(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
