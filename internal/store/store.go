// Package store persists the profiles master table. Every backend writes the
// full record set as a single atomic replace so an interrupted run always
// leaves the last successfully saved state behind.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"outreach/pipeline/internal/records"
)

var (
	ErrStoreCorrupt = errors.New("store corrupt")
	ErrLocked       = errors.New("store locked by another writer")
)

// CorruptError reports an unparsable persisted table. No repair is attempted.
type CorruptError struct {
	Path string
	Line int // 0 when not line-oriented
	Err  error
}

func (e *CorruptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("store corrupt: %s line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("store corrupt: %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() []error { return []error{ErrStoreCorrupt, e.Err} }

// Store loads and saves the profiles master table.
type Store interface {
	// Load returns an empty table when nothing has been saved yet.
	Load(ctx context.Context) (records.Table, error)
	// Save replaces the persisted table with t, ordered by profile URL.
	Save(ctx context.Context, t records.Table) error
	// Exists reports whether a table has been persisted.
	Exists(ctx context.Context) (bool, error)
	Close() error
}

// Backend names a storage implementation.
type Backend string

const (
	BackendCSV      Backend = "csv"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     Backend
	Dir         string // account data directory
	Account     string
	PostgresDSN string
}

const (
	CSVFile    = "profiles_master.csv"
	SQLiteFile = "profiles_master.db"
)

// Open returns the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendCSV, "":
		return NewCSV(filepath.Join(opts.Dir, CSVFile)), nil
	case BackendSQLite:
		s, err := OpenSQLite(filepath.Join(opts.Dir, SQLiteFile))
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN (OUTREACH_PG_DSN)")
		}
		s, err := OpenPostgres(ctx, opts.PostgresDSN, opts.Account)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
}
