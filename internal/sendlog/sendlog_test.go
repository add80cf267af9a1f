package sendlog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"outreach/pipeline/internal/records"
)

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if l.AlreadySent("https://www.linkedin.com/in/anyone") {
		t.Error("empty log reports a send")
	}
	if n := l.CountOn(time.Now()); n != 0 {
		t.Errorf("CountOn = %d, want 0", n)
	}
}

func TestAppend_WritesHeaderOnceAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acct", FileName)
	l, _ := Open(path)

	now := time.Now()
	if err := l.Append(Entry{Date: now, ProfileURL: "https://www.linkedin.com/in/u1/", Name: "Alice", Message: "Hi, Alice", Score: records.Ptr(80.0)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(Entry{Date: now, ProfileURL: "https://www.linkedin.com/in/u2", Name: "Bob", Message: "Hey\nBob"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if !l.AlreadySent("https://www.linkedin.com/in/u1") {
		t.Error("normalized URL not recorded")
	}

	b, _ := os.ReadFile(path)
	if got := strings.Count(string(b), "date,profile_url,name,message,score"); got != 1 {
		t.Errorf("header written %d times", got)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	entries := reopened.Entries()
	if len(entries) != 2 {
		t.Fatalf("reopened %d entries, want 2", len(entries))
	}
	if entries[1].Message != "Hey\nBob" {
		t.Errorf("message = %q", entries[1].Message)
	}
	if entries[0].Score == nil || *entries[0].Score != 80 {
		t.Errorf("score = %v", entries[0].Score)
	}
	if !reopened.AlreadySent("https://www.linkedin.com/in/u2") {
		t.Error("reopened log lost u2")
	}
	if n := reopened.CountOn(now); n != 2 {
		t.Errorf("CountOn(today) = %d, want 2", n)
	}
}

func TestAppend_NeverRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	l, _ := Open(path)
	l.Append(Entry{ProfileURL: "https://www.linkedin.com/in/a", Name: "A"})
	before, _ := os.ReadFile(path)
	l.Append(Entry{ProfileURL: "https://www.linkedin.com/in/b", Name: "B"})
	after, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(after), string(before)) {
		t.Error("append modified existing content")
	}
}

func TestCountOn_OnlyThatDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := "date,profile_url,name,message,score\n" +
		"2024-05-01 09:00:00,https://x/in/a,A,hi,\n" +
		"2024-05-01,https://x/in/b,B,hi,70\n" +
		"2024-05-02 09:00:00,https://x/in/c,C,hi,\n"
	os.WriteFile(path, []byte(content), 0644)

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	day := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	if n := l.CountOn(day); n != 2 {
		t.Errorf("CountOn(May 1) = %d, want 2", n)
	}
}

func TestOpen_Corrupt(t *testing.T) {
	tests := map[string]string{
		"bad header": "when,url\n",
		"bad date":   "date,profile_url,name,message,score\nyesterday,https://x/in/a,A,hi,\n",
		"bad score":  "date,profile_url,name,message,score\n2024-05-01,https://x/in/a,A,hi,high\n",
		"short row":  "date,profile_url,name,message,score\n2024-05-01,https://x/in/a\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			os.WriteFile(path, []byte(content), 0644)
			if _, err := Open(path); !errors.Is(err, ErrLogCorrupt) {
				t.Errorf("err = %v, want ErrLogCorrupt", err)
			}
		})
	}
}

func TestOpen_InterruptedLastRow(t *testing.T) {
	tests := map[string]string{
		"short row":    "2024-05-02T10:00:00Z,https://x/in/b,B,Hi B",
		"open quote":   "2024-05-02T10:00:00Z,https://x/in/b,B,\"Hi B,\nthanks for",
		"partial date": "2024-05",
	}
	for name, tail := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			good := "date,profile_url,name,message,score\n" +
				"2024-05-01T09:00:00Z,https://x/in/a,A,hi,70\n"
			os.WriteFile(path, []byte(good+tail), 0644)

			l, err := Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !l.Torn() {
				t.Error("interrupted row not reported")
			}
			if n := len(l.Entries()); n != 1 || !l.AlreadySent("https://x/in/a") {
				t.Fatalf("entries = %v, want the one complete row", l.Entries())
			}

			if err := l.Append(Entry{ProfileURL: "https://x/in/c", Name: "C", Message: "hello"}); err != nil {
				t.Fatalf("Append: %v", err)
			}
			b, _ := os.ReadFile(path)
			if !strings.HasPrefix(string(b), good) || strings.Contains(string(b), tail) {
				t.Errorf("log after append = %q", b)
			}
			reopened, err := Open(path)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			if reopened.Torn() || len(reopened.Entries()) != 2 {
				t.Errorf("reopened torn=%v entries=%d", reopened.Torn(), len(reopened.Entries()))
			}
		})
	}
}

func TestOpen_InterruptedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	os.WriteFile(path, []byte("date,profile"), 0644)
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Append(Entry{ProfileURL: "https://x/in/a", Name: "A"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	b, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(b), "date,profile_url,name,message,score\n") {
		t.Errorf("log = %q", b)
	}
}

func TestAppend_AfterUnterminatedCompleteRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	os.WriteFile(path, []byte("date,profile_url,name,message,score\n2024-05-01,https://x/in/a,A,hi,"), 0644)
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if l.Torn() || len(l.Entries()) != 1 {
		t.Fatalf("torn=%v entries=%d", l.Torn(), len(l.Entries()))
	}
	l.Append(Entry{ProfileURL: "https://x/in/b", Name: "B"})
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(reopened.Entries()) != 2 {
		t.Errorf("entries = %d, want 2", len(reopened.Entries()))
	}
}

func TestUnderDailyCap(t *testing.T) {
	tests := []struct {
		count, cap int
		want       bool
	}{
		{0, 30, true},
		{29, 30, true},
		{30, 30, false},
		{31, 30, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		if got := UnderDailyCap(tt.count, tt.cap); got != tt.want {
			t.Errorf("UnderDailyCap(%d, %d) = %v, want %v", tt.count, tt.cap, got, tt.want)
		}
	}
}
