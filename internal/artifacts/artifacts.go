// Package artifacts stores per-profile documents produced by pipeline stages:
// the fetched profile and the generated message. Files are keyed by a hash of
// the normalized profile URL.
package artifacts

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"outreach/pipeline/internal/records"
)

var ErrNotFound = errors.New("artifact not found")

const (
	profilesDir = "profiles"
	messagesDir = "messages"
)

// Profile is the document a fetcher returns for one profile URL.
type Profile struct {
	ProfileURL string         `json:"profile_url"`
	Name       string         `json:"name,omitempty"`
	Headline   string         `json:"headline,omitempty"`
	Location   string         `json:"location,omitempty"`
	About      string         `json:"about,omitempty"`
	Experience []Position     `json:"experience,omitempty"`
	Skills     []string       `json:"skills,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

// Position is one experience entry.
type Position struct {
	Title    string `json:"title"`
	Company  string `json:"company,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Store is a directory of artifacts.
type Store struct {
	Dir string
}

func New(dir string) *Store {
	return &Store{Dir: dir}
}

// Key returns the file stem used for url.
func Key(url string) string {
	h := sha256.Sum256([]byte(records.NormalizeURL(url)))
	return fmt.Sprintf("%x", h[:12])
}

func (s *Store) profilePath(url string) string {
	return filepath.Join(s.Dir, profilesDir, Key(url)+".json")
}

func (s *Store) messagePath(url string) string {
	return filepath.Join(s.Dir, messagesDir, Key(url)+".txt")
}

// PutProfile writes p under its ProfileURL, replacing any earlier fetch.
func (s *Store) PutProfile(p *Profile) error {
	if p == nil || records.NormalizeURL(p.ProfileURL) == "" {
		return errors.New("profile needs a profile_url")
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	return writeFile(s.profilePath(p.ProfileURL), b)
}

func (s *Store) GetProfile(url string) (*Profile, error) {
	b, err := os.ReadFile(s.profilePath(url))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: profile %s", ErrNotFound, url)
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decoding profile %s: %w", url, err)
	}
	return &p, nil
}

func (s *Store) PutMessage(url, text string) error {
	if records.NormalizeURL(url) == "" {
		return errors.New("message needs a profile_url")
	}
	return writeFile(s.messagePath(url), []byte(text))
}

func (s *Store) GetMessage(url string) (string, error) {
	b, err := os.ReadFile(s.messagePath(url))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: message %s", ErrNotFound, url)
	}
	if err != nil {
		return "", fmt.Errorf("reading message: %w", err)
	}
	return string(b), nil
}

// DeleteMessages removes the message artifacts for urls. Missing files are
// ignored.
func (s *Store) DeleteMessages(urls ...string) error {
	var errs []error
	for _, u := range urls {
		if err := os.Remove(s.messagePath(u)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteProfiles removes fetched profile documents and their messages.
func (s *Store) DeleteProfiles(urls ...string) error {
	var errs []error
	for _, u := range urls {
		if err := os.Remove(s.profilePath(u)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.DeleteMessages(urls...))
	return errors.Join(errs...)
}

func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing artifact: %w", err)
	}
	return nil
}
