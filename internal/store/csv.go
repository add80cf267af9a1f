package store

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"outreach/pipeline/internal/records"
)

// CSVStore keeps the table in a flat CSV file. Save writes a sibling temp
// file and renames it over the target.
type CSVStore struct {
	Path string
}

// NewCSV returns a store backed by the file at path.
func NewCSV(path string) *CSVStore {
	return &CSVStore{Path: path}
}

func (s *CSVStore) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(s.Path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *CSVStore) Load(ctx context.Context) (records.Table, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return records.NewTable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.Path, err)
	}
	defer f.Close()

	// skip BOM if present
	br := bufio.NewReader(f)
	if first3, _ := br.Peek(3); len(first3) == 3 && first3[0] == 0xEF && first3[1] == 0xBB && first3[2] == 0xBF {
		br.Discard(3)
	}
	r := csv.NewReader(br)

	header, err := r.Read()
	if err == io.EOF {
		return records.NewTable(), nil
	}
	if err != nil {
		return nil, s.corrupt(1, err)
	}
	idx, err := headerIndex(header)
	if err != nil {
		return nil, s.corrupt(1, err)
	}

	t := records.NewTable()
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, s.corrupt(0, err)
		}
		line, _ := r.FieldPos(0)
		rec, err := decodeRecord(row, idx)
		if err != nil {
			return nil, s.corrupt(line, err)
		}
		if _, dup := t[rec.ProfileURL]; dup {
			return nil, s.corrupt(line, fmt.Errorf("duplicate profile_url %q", rec.ProfileURL))
		}
		t[rec.ProfileURL] = rec
	}
	return t, nil
}

func (s *CSVStore) corrupt(line int, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		line = pe.Line
	}
	return &CorruptError{Path: s.Path, Line: line, Err: err}
}

func (s *CSVStore) Save(ctx context.Context, t records.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(tmp)
	w := csv.NewWriter(bw)
	if err := w.Write(Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range t.Records() {
		if err := w.Write(encodeRecord(r)); err != nil {
			return fmt.Errorf("writing %s: %w", r.ProfileURL, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.Path, err)
	}
	committed = true
	syncDir(dir)
	return nil
}

func (s *CSVStore) Close() error { return nil }

// syncDir makes the rename durable. Not every platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
