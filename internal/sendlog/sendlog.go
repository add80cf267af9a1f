// Package sendlog keeps the append-only record of every message actually
// delivered. It is the authority for "never message the same profile twice"
// and for the daily send cap.
package sendlog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"outreach/pipeline/internal/records"
)

// FileName is the send log's name inside an account directory.
const FileName = "messages_sent.csv"

// DefaultDailyCap is the send limit per calendar day.
const DefaultDailyCap = 30

var ErrLogCorrupt = errors.New("send log corrupt")

var header = []string{"date", "profile_url", "name", "message", "score"}

const dayLayout = "2006-01-02"

// Entry is one delivered message.
type Entry struct {
	Date       time.Time `json:"date"`
	ProfileURL string    `json:"profile_url"`
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	Score      *float64  `json:"score,omitempty"`
}

// Log is an open send log. Entries are only ever appended.
type Log struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	sent    map[string]struct{}

	// tornAt is the offset of an unterminated, unreadable final row left by
	// an interrupted append, or -1.
	tornAt int64
}

// Open reads the log at path. A missing file is an empty log; it is created
// on the first Append. An unreadable last row with no trailing newline is
// treated as an interrupted append: it is skipped, and the next Append
// truncates it before writing.
func Open(path string) (*Log, error) {
	l := &Log{path: path, sent: make(map[string]struct{}), tornAt: -1}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening send log: %w", err)
	}
	unterminated := len(data) > 0 && data[len(data)-1] != '\n'

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(header)
	// atTail reports whether the row just read ran to the end of an
	// unterminated file.
	atTail := func() bool {
		return unterminated && r.InputOffset() == int64(len(data))
	}

	head, err := r.Read()
	if err == io.EOF {
		return l, nil
	}
	if err != nil {
		if atTail() {
			l.tornAt = 0
			return l, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLogCorrupt, path, err)
	}
	for i, h := range header {
		if strings.TrimPrefix(head[i], "\ufeff") != h {
			return nil, fmt.Errorf("%w: %s: unexpected header %q", ErrLogCorrupt, path, head)
		}
	}
	for {
		start := r.InputOffset()
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		var e Entry
		if err == nil {
			line, _ := r.FieldPos(0)
			if e, err = decode(row); err != nil {
				err = fmt.Errorf("line %d: %w", line, err)
			}
		}
		if err != nil {
			if atTail() {
				l.tornAt = start
				break
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrLogCorrupt, path, err)
		}
		l.add(e)
	}
	return l, nil
}

// Torn reports whether Open skipped an interrupted final row.
func (l *Log) Torn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tornAt >= 0
}

func decode(row []string) (Entry, error) {
	e := Entry{ProfileURL: records.NormalizeURL(row[1]), Name: row[2], Message: row[3]}
	if e.ProfileURL == "" {
		return e, errors.New("empty profile_url")
	}
	d, err := parseDate(row[0])
	if err != nil {
		return e, fmt.Errorf("date: %w", err)
	}
	e.Date = d
	if s := strings.TrimSpace(row[4]); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return e, fmt.Errorf("score: %w", err)
		}
		e.Score = &f
	}
	return e, nil
}

// parseDate accepts a full timestamp or a bare day.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", dayLayout} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func (l *Log) add(e Entry) {
	l.entries = append(l.entries, e)
	l.sent[e.ProfileURL] = struct{}{}
}

// Path returns the log's file path.
func (l *Log) Path() string { return l.path }

// AlreadySent reports whether url has a log entry.
func (l *Log) AlreadySent(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sent[records.NormalizeURL(url)]
	return ok
}

// Append writes e to the end of the log and syncs it to disk before
// returning. The header is written when the file is created.
func (l *Log) Append(e Entry) error {
	e.ProfileURL = records.NormalizeURL(e.ProfileURL)
	if e.ProfileURL == "" {
		return errors.New("send log entry needs a profile_url")
	}
	if e.Date.IsZero() {
		e.Date = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating send log dir: %w", err)
	}
	if l.tornAt >= 0 {
		if err := os.Truncate(l.path, l.tornAt); err != nil {
			return fmt.Errorf("dropping interrupted send log row: %w", err)
		}
		l.tornAt = -1
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("opening send log: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat send log: %w", err)
	}

	w := csv.NewWriter(f)
	if fi.Size() == 0 {
		w.Write(header)
	} else {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
			return fmt.Errorf("reading send log: %w", err)
		}
		if last[0] != '\n' {
			if _, err := f.WriteString("\n"); err != nil {
				return fmt.Errorf("writing send log: %w", err)
			}
		}
	}
	score := ""
	if e.Score != nil {
		score = strconv.FormatFloat(*e.Score, 'f', -1, 64)
	}
	w.Write([]string{e.Date.Format(time.RFC3339), e.ProfileURL, e.Name, e.Message, score})
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing send log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing send log: %w", err)
	}
	l.add(e)
	return nil
}

// CountOn returns the number of entries dated on day's calendar date in
// day's location.
func (l *Log) CountOn(day time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	want := day.Format(dayLayout)
	n := 0
	for _, e := range l.entries {
		if e.Date.In(day.Location()).Format(dayLayout) == want {
			n++
		}
	}
	return n
}

// Entries returns a copy of the log in file order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// UnderDailyCap reports whether another send is allowed after count sends
// today.
func UnderDailyCap(count, cap int) bool {
	return count < cap
}
