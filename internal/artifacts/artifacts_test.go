package artifacts

import (
	"errors"
	"testing"
	"time"
)

func TestKey_NormalizesURL(t *testing.T) {
	a := Key("https://www.linkedin.com/in/alice/")
	b := Key("https://www.linkedin.com/in/alice?trk=feed")
	if a != b {
		t.Errorf("keys differ for the same profile: %s vs %s", a, b)
	}
	if Key("https://www.linkedin.com/in/bob") == a {
		t.Error("different profiles share a key")
	}
	if len(a) != 24 {
		t.Errorf("key length = %d, want 24", len(a))
	}
}

func TestProfile_PutGet(t *testing.T) {
	s := New(t.TempDir())
	p := &Profile{
		ProfileURL: "https://www.linkedin.com/in/alice",
		Name:       "Alice",
		Headline:   "Staff Engineer",
		Experience: []Position{{Title: "Engineer", Company: "Acme"}},
		FetchedAt:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := s.PutProfile(p); err != nil {
		t.Fatalf("PutProfile: %v", err)
	}
	got, err := s.GetProfile("https://www.linkedin.com/in/alice/")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.Headline != "Staff Engineer" || len(got.Experience) != 1 || !got.FetchedAt.Equal(p.FetchedAt) {
		t.Errorf("got %+v", got)
	}

	if _, err := s.GetProfile("https://www.linkedin.com/in/nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing profile err = %v, want ErrNotFound", err)
	}
	if err := s.PutProfile(&Profile{}); err == nil {
		t.Error("profile without URL should be rejected")
	}
}

func TestMessage_PutGetDelete(t *testing.T) {
	s := New(t.TempDir())
	url := "https://www.linkedin.com/in/alice"
	if err := s.PutMessage(url, "Hi Alice"); err != nil {
		t.Fatalf("PutMessage: %v", err)
	}
	if err := s.PutMessage(url, "Hello Alice"); err != nil {
		t.Fatalf("PutMessage overwrite: %v", err)
	}
	got, err := s.GetMessage(url)
	if err != nil || got != "Hello Alice" {
		t.Fatalf("GetMessage = %q, %v", got, err)
	}

	if err := s.DeleteMessages(url, "https://www.linkedin.com/in/never"); err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	if _, err := s.GetMessage(url); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
}

func TestDeleteProfiles_RemovesMessagesToo(t *testing.T) {
	s := New(t.TempDir())
	url := "https://www.linkedin.com/in/alice"
	s.PutProfile(&Profile{ProfileURL: url})
	s.PutMessage(url, "Hi")

	if err := s.DeleteProfiles(url); err != nil {
		t.Fatalf("DeleteProfiles: %v", err)
	}
	if _, err := s.GetProfile(url); !errors.Is(err, ErrNotFound) {
		t.Error("profile survived delete")
	}
	if _, err := s.GetMessage(url); !errors.Is(err, ErrNotFound) {
		t.Error("message survived delete")
	}
}
