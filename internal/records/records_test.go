package records

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func eligibleStages(r *ProfileRecord) []Stage {
	var out []Stage
	for _, s := range Stages {
		if Eligible(r, s) {
			out = append(out, s)
		}
	}
	return out
}

func TestScenario_FullLifecycle(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Merge(DiscoveryUpdate("u1", "Alice", nil)); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	r := tbl["u1"]
	if !Eligible(r, StageFetch) {
		t.Fatal("new record should be eligible for fetch")
	}

	if _, err := tbl.MarkFetched("u1", t0); err != nil {
		t.Fatalf("MarkFetched: %v", err)
	}
	if Eligible(r, StageFetch) || !Eligible(r, StageScore) {
		t.Fatalf("after fetch: eligible = %v, want [score]", eligibleStages(r))
	}

	if _, err := tbl.MarkScored("u1", 7.5, DecisionSend, "good fit"); err != nil {
		t.Fatalf("MarkScored: %v", err)
	}
	if !Eligible(r, StageMessage) {
		t.Fatalf("after score: eligible = %v, want [message]", eligibleStages(r))
	}
	if r.ExclusionReason != "" {
		t.Errorf("send decision kept exclusion reason %q", r.ExclusionReason)
	}

	if _, err := tbl.MarkMessaged("u1", t0); err != nil {
		t.Fatalf("MarkMessaged: %v", err)
	}
	if !Eligible(r, StageSend) {
		t.Fatalf("after message: eligible = %v, want [send]", eligibleStages(r))
	}

	warn, err := tbl.MarkSent("u1", SendSent, "", t0)
	if err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if warn != nil {
		t.Errorf("unexpected warning: %s", warn)
	}
	if got := eligibleStages(r); len(got) != 0 {
		t.Errorf("after send: eligible = %v, want none", got)
	}
	if r.State() != "sent" {
		t.Errorf("state = %q, want sent", r.State())
	}
}

func TestEligibilityPartition(t *testing.T) {
	decisions := []Decision{DecisionNone, DecisionSend, DecisionSkip}
	statuses := []SendStatus{SendNone, SendSent, SendFailed, SendPending}
	for _, fetched := range []bool{false, true} {
		for _, d := range decisions {
			for _, gen := range []bool{false, true} {
				for _, st := range statuses {
					r := &ProfileRecord{
						ProfileURL:        "u",
						ProfileFetched:    fetched,
						ScoringDecision:   d,
						MessageGenerated:  gen,
						MessageSentStatus: st,
					}
					if d != DecisionNone {
						r.TotalScore = Ptr(1.0)
					}
					if d == DecisionSkip {
						r.ExclusionReason = "x"
					}
					tbl := Table{"u": r}
					if len(tbl.Validate()) > 0 {
						continue
					}
					if got := eligibleStages(r); len(got) > 1 {
						t.Errorf("fetched=%v decision=%q generated=%v status=%q: eligible for %v",
							fetched, d, gen, st, got)
					}
				}
			}
		}
	}
}

func TestMerge_CreatesAndUpdatesInPlace(t *testing.T) {
	tbl := NewTable()
	stats, err := tbl.Merge(
		DiscoveryUpdate("https://www.linkedin.com/in/alice/", "Alice", nil),
		DiscoveryUpdate("https://www.linkedin.com/in/alice?trk=x", "Alice A.", nil),
		DiscoveryUpdate("https://www.linkedin.com/in/bob", "Bob", nil),
	)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(tbl) != 2 {
		t.Fatalf("len = %d, want 2: %v", len(tbl), tbl.URLs())
	}
	if stats.Created != 2 || stats.Updated != 1 {
		t.Errorf("stats = %+v, want created=2 updated=1", stats)
	}
	if got := tbl["https://www.linkedin.com/in/alice"].Name; got != "Alice A." {
		t.Errorf("name = %q, want last write", got)
	}
}

func TestMerge_Uniqueness(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 50; i++ {
		u := fmt.Sprintf("u%d", i%7)
		if _, err := tbl.Merge(DiscoveryUpdate(u, fmt.Sprintf("n%d", i), nil)); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}
	if len(tbl) != 7 {
		t.Fatalf("len = %d, want 7", len(tbl))
	}
	for k, r := range tbl {
		if k != r.ProfileURL {
			t.Errorf("key %q holds record %q", k, r.ProfileURL)
		}
	}
}

func TestMerge_Idempotent(t *testing.T) {
	score, _ := ScoreUpdate("u2", 3, DecisionSkip, "not a fit")
	batch := []Update{
		DiscoveryUpdate("u1", "Alice", Ptr(t0)),
		FetchUpdate("u1", t0),
		DiscoveryUpdate("u2", "Bob", nil),
		FetchUpdate("u2", t0),
		score,
		SendUpdate("u3", SendFailed, "timeout", t0),
	}

	once := NewTable()
	if _, err := once.Merge(batch...); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	twice := once.Clone()
	stats, err := twice.Merge(batch...)
	if err != nil {
		t.Fatalf("Merge replay: %v", err)
	}
	if !once.Equal(twice) {
		t.Error("replaying the batch changed the table")
	}
	if stats.Created != 0 || stats.Updated != 0 {
		t.Errorf("replay stats = %+v, want only unchanged", stats)
	}
}

func TestMerge_AbsentFieldsUntouched(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u1", "Alice", Ptr(t0)), FetchUpdate("u1", t0))

	score, _ := ScoreUpdate("u1", 8, DecisionSend, "")
	if _, err := tbl.Merge(score); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	r := tbl["u1"]
	if !r.ProfileFetched || r.ProfileFetchedAt == nil {
		t.Error("score update cleared fetch fields")
	}
	if r.MessageSentStatus != SendNone {
		t.Errorf("score update changed send status to %q", r.MessageSentStatus)
	}
	if r.Name != "Alice" || r.ConnectedDate == nil {
		t.Error("score update cleared discovery fields")
	}
}

func TestMerge_PlaceholderDoesNotClobberName(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u1", "Alice", nil))
	tbl.Merge(DiscoveryUpdate("u1", PlaceholderName, nil))
	if got := tbl["u1"].Name; got != "Alice" {
		t.Errorf("name = %q, want Alice", got)
	}

	tbl.Merge(DiscoveryUpdate("u2", PlaceholderName, nil))
	if tbl["u2"].NameResolved() {
		t.Error("placeholder-only record should be unresolved")
	}
}

func TestMerge_InvalidBatchLeavesTableUntouched(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u1", "Alice", nil))
	before := tbl.Clone()

	bad := Update{ProfileURL: "u1", ScoringDecision: Ptr(Decision("maybe"))}
	_, err := tbl.Merge(DiscoveryUpdate("u2", "Bob", nil), bad)
	if !errors.Is(err, ErrInvalidUpdate) {
		t.Fatalf("err = %v, want ErrInvalidUpdate", err)
	}
	if !tbl.Equal(before) {
		t.Error("failed batch partially applied")
	}

	if _, err := tbl.Merge(Update{ProfileURL: "  "}); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("empty url: err = %v, want ErrInvalidUpdate", err)
	}
}

func sentRecord(tbl Table, url string) {
	tbl.Merge(DiscoveryUpdate(url, "Sent Person", nil), FetchUpdate(url, t0))
	tbl.MarkScored(url, 9, DecisionSend, "")
	tbl.MarkMessaged(url, t0)
	tbl.MarkSent(url, SendSent, "", t0)
}

func TestTerminalSentState(t *testing.T) {
	tbl := NewTable()
	sentRecord(tbl, "u1")

	stats, err := tbl.Merge(SendUpdate("u1", SendFailed, "boom", t0.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if stats.Protected != 1 {
		t.Errorf("protected = %d, want 1", stats.Protected)
	}

	warn, err := tbl.MarkSent("u1", SendPending, "", t0)
	if err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if warn == nil || warn.Applied {
		t.Errorf("warn = %v, want non-applied warning", warn)
	}

	if n := len(tbl.ResetScoring()); n != 0 {
		t.Errorf("ResetScoring touched %d sent records", n)
	}
	if n := len(tbl.ResetMessages()); n != 0 {
		t.Errorf("ResetMessages touched %d sent records", n)
	}

	stats, err = tbl.Merge(Update{ProfileURL: "u1", MessageGenerated: Ptr(false)})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if stats.Protected != 1 {
		t.Errorf("clearing message_generated on a sent record: protected = %d, want 1", stats.Protected)
	}

	r := tbl["u1"]
	if r.MessageSentStatus != SendSent || r.LastSendError != "" {
		t.Errorf("sent record changed: status=%q err=%q", r.MessageSentStatus, r.LastSendError)
	}
	if !r.MessageGenerated {
		t.Error("sent record lost message_generated")
	}
}

func TestMerge_SentRequiresGeneratedMessage(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u2", "Bob", nil), FetchUpdate("u2", t0))

	stats, err := tbl.Merge(
		SendUpdate("u1", SendSent, "", t0),
		SendUpdate("u2", SendSent, "", t0),
	)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if stats.Protected != 2 {
		t.Errorf("protected = %d, want 2", stats.Protected)
	}
	for _, u := range []string{"u1", "u2"} {
		r := tbl[u]
		if r.Sent() || r.MessageSentAt != nil {
			t.Errorf("%s became sent without a generated message", u)
		}
	}
	if issues := tbl.Validate(); len(issues) != 0 {
		t.Errorf("issues = %v", issues)
	}

	// Generated and sent in one update is consistent.
	stats, _ = tbl.Merge(Update{
		ProfileURL:        "u2",
		MessageGenerated:  Ptr(true),
		MessageSentStatus: Ptr(SendSent),
	})
	if stats.Protected != 0 || !tbl["u2"].Sent() {
		t.Errorf("combined update refused: stats=%+v", stats)
	}
}

func TestMarkSent_RequiresGeneratedMessage(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u1", "Alice", nil))

	_, err := tbl.MarkSent("u1", SendSent, "", t0)
	if !errors.Is(err, ErrMissingMessage) {
		t.Fatalf("err = %v, want ErrMissingMessage", err)
	}
	if tbl["u1"].MessageSentStatus != SendNone {
		t.Error("refused send still changed the record")
	}

	warn, err := tbl.MarkSent("u1", SendFailed, "no message", t0)
	if err != nil {
		t.Fatalf("MarkSent failed status: %v", err)
	}
	if warn == nil || !warn.Applied {
		t.Errorf("warn = %v, want applied warning", warn)
	}
	if tbl["u1"].LastSendError != "no message" {
		t.Errorf("last_send_error = %q", tbl["u1"].LastSendError)
	}
}

func TestMarkSent_SuccessClearsError(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u1", "Alice", nil), FetchUpdate("u1", t0))
	tbl.MarkScored("u1", 9, DecisionSend, "")
	tbl.MarkMessaged("u1", t0)
	tbl.MarkSent("u1", SendFailed, "rate limited", t0)
	if !Eligible(tbl["u1"], StageSend) {
		t.Fatal("failed send should stay eligible for retry")
	}
	if _, err := tbl.MarkSent("u1", SendSent, "", t0); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if tbl["u1"].LastSendError != "" {
		t.Errorf("last_send_error = %q, want cleared", tbl["u1"].LastSendError)
	}
	if tbl["u1"].MessageSentAt == nil {
		t.Error("message_sent_at not set")
	}
}

func TestMark_Errors(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.MarkFetched("missing", t0); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("MarkFetched: err = %v, want ErrRecordNotFound", err)
	}
	if _, err := tbl.MarkScored("missing", 1, DecisionSend, ""); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("MarkScored: err = %v, want ErrRecordNotFound", err)
	}
	tbl.Merge(DiscoveryUpdate("u1", "Alice", nil))
	if _, err := tbl.MarkScored("u1", 1, DecisionNone, ""); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("MarkScored empty decision: err = %v, want ErrInvalidUpdate", err)
	}
	if _, err := tbl.MarkSent("u1", SendStatus("bounced"), "", t0); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("MarkSent bad status: err = %v, want ErrInvalidUpdate", err)
	}
}

func TestMarkScored_IneligibleStillApplies(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u1", "Alice", nil))
	warn, err := tbl.MarkScored("u1", 2, DecisionSkip, "")
	if err != nil {
		t.Fatalf("MarkScored: %v", err)
	}
	if warn == nil || warn.Stage != StageScore || warn.State != "new" {
		t.Fatalf("warn = %+v, want score warning in state new", warn)
	}
	r := tbl["u1"]
	if r.ScoringDecision != DecisionSkip || r.ExclusionReason == "" {
		t.Errorf("decision=%q reason=%q, want skip with default reason", r.ScoringDecision, r.ExclusionReason)
	}
}

func TestFieldOwnership_ScoreStage(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u1", "Alice", nil), FetchUpdate("u1", t0))
	tbl.Merge(SendUpdate("u1", SendFailed, "prior", t0))
	before := tbl["u1"].Clone()

	tbl.MarkScored("u1", 4, DecisionSkip, "junior")
	after := tbl["u1"]
	if after.ProfileFetched != before.ProfileFetched {
		t.Error("score stage changed profile_fetched")
	}
	if after.MessageSentStatus != before.MessageSentStatus {
		t.Error("score stage changed message_sent_status")
	}
}

func TestResetScoring_Cascade(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u1", "Alice", nil), FetchUpdate("u1", t0))
	tbl.MarkScored("u1", 8, DecisionSend, "")
	tbl.MarkMessaged("u1", t0)
	tbl.Merge(DiscoveryUpdate("u2", "Bob", nil), FetchUpdate("u2", t0))
	tbl.MarkScored("u2", 1, DecisionSkip, "recruiter")
	tbl.Merge(DiscoveryUpdate("u3", "Carol", nil))
	sentRecord(tbl, "u4")

	affected := tbl.ResetScoring()
	if len(affected) != 2 || affected[0] != "u1" || affected[1] != "u2" {
		t.Fatalf("affected = %v, want [u1 u2]", affected)
	}
	r := tbl["u1"]
	if r.ScoringDecision != DecisionNone || r.TotalScore != nil {
		t.Error("scoring fields not cleared")
	}
	if r.MessageGenerated || r.MessageGeneratedAt != nil {
		t.Error("message fields not invalidated")
	}
	if !r.ProfileFetched {
		t.Error("profile_fetched cleared")
	}
	if tbl["u2"].ExclusionReason != "" {
		t.Error("exclusion_reason not cleared")
	}
	if !Eligible(r, StageScore) || !Eligible(tbl["u2"], StageScore) {
		t.Error("reset records should be eligible for score again")
	}
}

func TestResetScoring_NothingToDo(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u1", "Alice", nil), FetchUpdate("u1", t0))
	before := tbl.Clone()
	if n := tbl.CountReset(StageScore); n != 0 {
		t.Errorf("CountReset = %d, want 0", n)
	}
	if got := tbl.ResetScoring(); len(got) != 0 {
		t.Errorf("ResetScoring = %v, want none", got)
	}
	if !tbl.Equal(before) {
		t.Error("empty reset changed the table")
	}
}

func TestResetMessages_OnlyMessageFields(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u1", "Alice", nil), FetchUpdate("u1", t0))
	tbl.MarkScored("u1", 8, DecisionSend, "")
	tbl.MarkMessaged("u1", t0)
	tbl.MarkSent("u1", SendFailed, "timeout", t0)

	if got := tbl.ResetMessages(); len(got) != 1 {
		t.Fatalf("ResetMessages = %v, want [u1]", got)
	}
	r := tbl["u1"]
	if r.MessageGenerated {
		t.Error("message_generated not cleared")
	}
	if r.ScoringDecision != DecisionSend || r.TotalScore == nil {
		t.Error("scoring touched by message reset")
	}
	if r.MessageSentStatus != SendFailed || r.LastSendError != "timeout" {
		t.Error("send fields touched by message reset")
	}
}

func TestCleanupPlaceholders(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(
		DiscoveryUpdate("u1", "Alice", nil),
		DiscoveryUpdate("u2", PlaceholderName, nil),
		Update{ProfileURL: "u3", Name: Ptr(PlaceholderName)},
	)
	sentRecord(tbl, "u4")
	tbl["u4"].Name = PlaceholderName

	tbl.Merge(Update{ProfileURL: "u5"}, FetchUpdate("u5", t0))
	tbl.Merge(Update{ProfileURL: "u6"}, FetchUpdate("u6", t0))
	tbl.MarkScored("u6", 12, DecisionSkip, "recruiter")
	tbl.Merge(Update{ProfileURL: "u7"}, FetchUpdate("u7", t0))
	tbl.MarkScored("u7", 90, DecisionSend, "")
	tbl.MarkMessaged("u7", t0)
	if tbl["u7"].State() != "messaged" || tbl["u7"].NameResolved() {
		t.Fatalf("u7 setup: state=%s name=%q", tbl["u7"].State(), tbl["u7"].Name)
	}

	removed := tbl.CleanupPlaceholders()
	if len(removed) != 2 || removed[0] != "u2" || removed[1] != "u3" {
		t.Fatalf("removed = %v, want [u2 u3]", removed)
	}
	for _, u := range []string{"u4", "u5", "u6", "u7"} {
		if _, ok := tbl[u]; !ok {
			t.Errorf("record %s with progress past discovery removed", u)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://www.linkedin.com/in/alice/", "https://www.linkedin.com/in/alice"},
		{" https://www.linkedin.com/in/alice?miniProfileUrn=x ", "https://www.linkedin.com/in/alice"},
		{"https://www.linkedin.com/in/alice#about", "https://www.linkedin.com/in/alice"},
		{"u1", "u1"},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(DiscoveryUpdate("u1", "Alice", nil))
	tbl.Merge(DiscoveryUpdate("u2", PlaceholderName, nil), FetchUpdate("u2", t0))
	tbl.MarkScored("u2", 1, DecisionSkip, "no")
	sentRecord(tbl, "u3")

	s := tbl.Summarize()
	if s.Total != 3 {
		t.Errorf("total = %d, want 3", s.Total)
	}
	if s.ByState["new"] != 1 || s.ByState["skipped"] != 1 || s.ByState["sent"] != 1 {
		t.Errorf("by_state = %v", s.ByState)
	}
	if s.Eligible[StageFetch] != 1 {
		t.Errorf("eligible fetch = %d, want 1", s.Eligible[StageFetch])
	}
	if s.Unresolved != 1 {
		t.Errorf("unresolved = %d, want 1", s.Unresolved)
	}
	if s.Progress < 0.66 || s.Progress > 0.67 {
		t.Errorf("progress = %f, want 2/3", s.Progress)
	}
	if len(s.Issues) != 0 {
		t.Errorf("issues = %v, want none", s.Issues)
	}
}

func TestValidate_ReportsBrokenInvariants(t *testing.T) {
	tbl := Table{
		"a": {ProfileURL: "a", MessageSentStatus: SendSent},
		"b": {ProfileURL: "b", ProfileFetched: true, ScoringDecision: DecisionSkip, TotalScore: Ptr(1.0)},
		"c": {ProfileURL: "x"},
	}
	issues := tbl.Validate()
	if len(issues) != 3 {
		t.Fatalf("issues = %v, want 3", issues)
	}
}

func TestParseStage(t *testing.T) {
	if s, err := ParseStage("message"); err != nil || s != StageMessage {
		t.Errorf("ParseStage(message) = %q, %v", s, err)
	}
	if _, err := ParseStage("discover"); err == nil {
		t.Error("expected error for unknown stage")
	}
}
