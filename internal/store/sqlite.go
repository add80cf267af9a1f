package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"outreach/pipeline/internal/records"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS profiles (
    profile_url          TEXT PRIMARY KEY,
    name                 TEXT NOT NULL DEFAULT '',
    connected_date       TEXT,
    profile_fetched      INTEGER NOT NULL DEFAULT 0,
    profile_fetched_at   TEXT,
    total_score          REAL,
    scoring_decision     TEXT NOT NULL DEFAULT '',
    exclusion_reason     TEXT NOT NULL DEFAULT '',
    message_generated    INTEGER NOT NULL DEFAULT 0,
    message_generated_at TEXT,
    message_sent_status  TEXT NOT NULL DEFAULT '',
    message_sent_at      TEXT,
    last_send_error      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS store_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

// SQLiteStore keeps the table in a single SQLite database file.
type SQLiteStore struct {
	conn *sql.DB
	Path string
}

// OpenSQLite opens (creating if needed) a SQLite store with WAL mode enabled.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{conn: conn, Path: path}, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Exists reports whether Save has ever committed, even an empty table.
func (s *SQLiteStore) Exists(ctx context.Context) (bool, error) {
	var v string
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = 'saved_at'").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking store: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (records.Table, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT profile_url, name, connected_date, profile_fetched, profile_fetched_at,
		       total_score, scoring_decision, exclusion_reason, message_generated,
		       message_generated_at, message_sent_status, message_sent_at, last_send_error
		FROM profiles ORDER BY profile_url`)
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	defer rows.Close()

	t := records.NewTable()
	for rows.Next() {
		r, err := scanProfile(rows)
		if err != nil {
			return nil, &CorruptError{Path: s.Path, Err: err}
		}
		t[r.ProfileURL] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(sc rowScanner) (*records.ProfileRecord, error) {
	var (
		r                                   records.ProfileRecord
		connected, fetchedAt, genAt, sentAt sql.NullString
		score                               sql.NullFloat64
		decision, status                    string
	)
	err := sc.Scan(&r.ProfileURL, &r.Name, &connected, &r.ProfileFetched, &fetchedAt,
		&score, &decision, &r.ExclusionReason, &r.MessageGenerated,
		&genAt, &status, &sentAt, &r.LastSendError)
	if err != nil {
		return nil, err
	}
	if r.ProfileURL == "" {
		return nil, fmt.Errorf("empty profile_url")
	}
	if score.Valid {
		r.TotalScore = records.Ptr(score.Float64)
	}
	if r.ScoringDecision, err = records.ParseDecision(decision); err != nil {
		return nil, fmt.Errorf("%s: %w", r.ProfileURL, err)
	}
	if r.MessageSentStatus, err = records.ParseSendStatus(status); err != nil {
		return nil, fmt.Errorf("%s: %w", r.ProfileURL, err)
	}
	if r.ConnectedDate, err = parseDate(connected.String); err != nil {
		return nil, fmt.Errorf("%s connected_date: %w", r.ProfileURL, err)
	}
	for _, f := range []struct {
		dst **time.Time
		src sql.NullString
	}{
		{&r.ProfileFetchedAt, fetchedAt},
		{&r.MessageGeneratedAt, genAt},
		{&r.MessageSentAt, sentAt},
	} {
		if *f.dst, err = parseTime(f.src.String); err != nil {
			return nil, fmt.Errorf("%s: %w", r.ProfileURL, err)
		}
	}
	return &r, nil
}

// Save replaces every row inside one transaction.
func (s *SQLiteStore) Save(ctx context.Context, t records.Table) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM profiles"); err != nil {
		return fmt.Errorf("clearing profiles: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO profiles (profile_url, name, connected_date, profile_fetched, profile_fetched_at,
		       total_score, scoring_decision, exclusion_reason, message_generated,
		       message_generated_at, message_sent_status, message_sent_at, last_send_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range t.Records() {
		_, err := stmt.ExecContext(ctx, profileArgs(r)...)
		if err != nil {
			return fmt.Errorf("inserting %s: %w", r.ProfileURL, err)
		}
	}
	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO store_meta (key, value) VALUES ('saved_at', ?)",
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("stamping save: %w", err)
	}
	return tx.Commit()
}

// profileArgs flattens a record into column order with NULL for unset values.
func profileArgs(r *records.ProfileRecord) []any {
	return []any{
		r.ProfileURL,
		r.Name,
		nullString(formatDate(r.ConnectedDate)),
		r.ProfileFetched,
		nullString(formatTime(r.ProfileFetchedAt)),
		nullFloat(r.TotalScore),
		string(r.ScoringDecision),
		r.ExclusionReason,
		r.MessageGenerated,
		nullString(formatTime(r.MessageGeneratedAt)),
		string(r.MessageSentStatus),
		nullString(formatTime(r.MessageSentAt)),
		r.LastSendError,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
