package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach/pipeline/internal/records"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS outreach_profiles (
    account              TEXT NOT NULL,
    profile_url          TEXT NOT NULL,
    name                 TEXT NOT NULL DEFAULT '',
    connected_date       DATE,
    profile_fetched      BOOLEAN NOT NULL DEFAULT FALSE,
    profile_fetched_at   TIMESTAMPTZ,
    total_score          DOUBLE PRECISION,
    scoring_decision     TEXT NOT NULL DEFAULT '',
    exclusion_reason     TEXT NOT NULL DEFAULT '',
    message_generated    BOOLEAN NOT NULL DEFAULT FALSE,
    message_generated_at TIMESTAMPTZ,
    message_sent_status  TEXT NOT NULL DEFAULT '',
    message_sent_at      TIMESTAMPTZ,
    last_send_error      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (account, profile_url)
);
CREATE TABLE IF NOT EXISTS outreach_saves (
    account  TEXT PRIMARY KEY,
    saved_at TIMESTAMPTZ NOT NULL
);`

var pgColumns = append([]string{"account"}, Columns...)

// PostgresStore keeps each account's table as a row set keyed by account.
type PostgresStore struct {
	pool    *pgxpool.Pool
	account string
}

// OpenPostgres connects, pings and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn, account string) (*PostgresStore, error) {
	if account == "" {
		return nil, errors.New("postgres store requires an account")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns == 0 || cfg.MaxConns > 4 {
		cfg.MaxConns = 4
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresStore{pool: pool, account: account}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM outreach_saves WHERE account = $1)", s.account).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking store: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) Load(ctx context.Context) (records.Table, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT profile_url, name, connected_date, profile_fetched, profile_fetched_at,
		       total_score, scoring_decision, exclusion_reason, message_generated,
		       message_generated_at, message_sent_status, message_sent_at, last_send_error
		FROM outreach_profiles WHERE account = $1 ORDER BY profile_url`, s.account)
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	defer rows.Close()

	t := records.NewTable()
	for rows.Next() {
		var (
			r                records.ProfileRecord
			decision, status string
		)
		err := rows.Scan(&r.ProfileURL, &r.Name, &r.ConnectedDate, &r.ProfileFetched, &r.ProfileFetchedAt,
			&r.TotalScore, &decision, &r.ExclusionReason, &r.MessageGenerated,
			&r.MessageGeneratedAt, &status, &r.MessageSentAt, &r.LastSendError)
		if err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		if r.ScoringDecision, err = records.ParseDecision(decision); err != nil {
			return nil, &CorruptError{Path: "postgres:" + s.account, Err: fmt.Errorf("%s: %w", r.ProfileURL, err)}
		}
		if r.MessageSentStatus, err = records.ParseSendStatus(status); err != nil {
			return nil, &CorruptError{Path: "postgres:" + s.account, Err: fmt.Errorf("%s: %w", r.ProfileURL, err)}
		}
		t[r.ProfileURL] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	return t, nil
}

// Save deletes the account's rows and bulk-copies the new set in one
// transaction.
func (s *PostgresStore) Save(ctx context.Context, t records.Table) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM outreach_profiles WHERE account = $1", s.account); err != nil {
		return fmt.Errorf("clearing profiles: %w", err)
	}

	recs := t.Records()
	values := make([][]any, 0, len(recs))
	for _, r := range recs {
		values = append(values, []any{
			s.account,
			r.ProfileURL,
			r.Name,
			r.ConnectedDate,
			r.ProfileFetched,
			r.ProfileFetchedAt,
			r.TotalScore,
			string(r.ScoringDecision),
			r.ExclusionReason,
			r.MessageGenerated,
			r.MessageGeneratedAt,
			string(r.MessageSentStatus),
			r.MessageSentAt,
			r.LastSendError,
		})
	}
	if len(values) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"outreach_profiles"},
			pgColumns,
			pgx.CopyFromRows(values),
		)
		if err != nil {
			return fmt.Errorf("copying profiles: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outreach_saves (account, saved_at) VALUES ($1, now())
		ON CONFLICT (account) DO UPDATE SET saved_at = EXCLUDED.saved_at`, s.account)
	if err != nil {
		return fmt.Errorf("stamping save: %w", err)
	}
	return tx.Commit(ctx)
}
