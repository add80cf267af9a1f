package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"outreach/pipeline/internal/records"
	"outreach/pipeline/internal/store"
)

// DiscoveredProfile is one row of discovery output.
type DiscoveredProfile struct {
	ProfileURL    string `json:"profile_url"`
	Name          string `json:"name"`
	ConnectedDate string `json:"connected_date"`
}

// ImportResult reports what a discovery import changed.
type ImportResult struct {
	Rows    int                `json:"rows"`
	Invalid int                `json:"invalid"`
	Merge   records.MergeStats `json:"merge"`
}

var connectedLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"Jan 2, 2006",
	"January 2, 2006",
	"02 Jan 2006",
	"01/02/2006",
}

// Import merges discovery output from src into the store. The input is JSON
// lines when its first non-blank byte is '{', otherwise CSV with a header
// naming at least profile_url. Rows without a URL or with an unparsable date
// are counted as invalid and skipped. The store is saved once.
func Import(ctx context.Context, st store.Store, src io.Reader, logger *zap.Logger) (*ImportResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	br := bufio.NewReader(src)
	first, err := firstByte(br)
	if err != nil {
		return nil, err
	}

	var rows []DiscoveredProfile
	if first == '{' {
		rows, err = readJSONLines(br)
	} else if first != 0 {
		rows, err = readDiscoveryCSV(br)
	}
	if err != nil {
		return nil, err
	}

	res := &ImportResult{Rows: len(rows)}
	updates := make([]records.Update, 0, len(rows))
	for i, row := range rows {
		u, err := row.update()
		if err != nil {
			res.Invalid++
			logger.Warn("skipping discovery row", zap.Int("row", i+1), zap.Error(err))
			continue
		}
		updates = append(updates, u)
	}

	t, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading store: %w", err)
	}
	res.Merge, err = t.Merge(updates...)
	if err != nil {
		return nil, err
	}
	if err := st.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("saving store: %w", err)
	}
	logger.Info("import merged",
		zap.Int("rows", res.Rows),
		zap.Int("created", res.Merge.Created),
		zap.Int("updated", res.Merge.Updated),
		zap.Int("unchanged", res.Merge.Unchanged),
		zap.Int("invalid", res.Invalid),
	)
	return res, nil
}

func (d DiscoveredProfile) update() (records.Update, error) {
	if records.NormalizeURL(d.ProfileURL) == "" {
		return records.Update{}, errors.New("missing profile_url")
	}
	var connected *time.Time
	if s := strings.TrimSpace(d.ConnectedDate); s != "" {
		c, err := parseConnected(s)
		if err != nil {
			return records.Update{}, err
		}
		connected = &c
	}
	return records.DiscoveryUpdate(d.ProfileURL, d.Name, connected), nil
}

func parseConnected(s string) (time.Time, error) {
	s = strings.TrimPrefix(s, "Connected on ")
	for _, layout := range connectedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized connected_date %q", s)
}

// firstByte returns the first non-whitespace byte without consuming it, or 0
// for empty input.
func firstByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err == io.EOF {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading input: %w", err)
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			br.Discard(1)
			continue
		case 0xEF:
			if bom, _ := br.Peek(3); string(bom) == "\xEF\xBB\xBF" {
				br.Discard(3)
				continue
			}
		}
		return b[0], nil
	}
}

func readJSONLines(r io.Reader) ([]DiscoveredProfile, error) {
	var out []DiscoveredProfile
	dec := json.NewDecoder(r)
	for {
		var d DiscoveredProfile
		err := dec.Decode(&d)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parsing JSON line %d: %w", len(out)+1, err)
		}
		out = append(out, d)
	}
}

func readDiscoveryCSV(r io.Reader) ([]DiscoveredProfile, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	urlCol, ok := col["profile_url"]
	if !ok {
		return nil, errors.New("CSV input needs a profile_url column")
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []DiscoveredProfile
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV: %w", err)
		}
		d := DiscoveredProfile{Name: field(row, "name"), ConnectedDate: field(row, "connected_date")}
		if urlCol < len(row) {
			d.ProfileURL = strings.TrimSpace(row[urlCol])
		}
		out = append(out, d)
	}
}
