package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// LockFile is the name of the single-writer lock inside an account directory.
const LockFile = ".outreach.lock"

// DefaultLockTTL is how long a lock survives without a heartbeat before a new
// writer may take it over.
const DefaultLockTTL = 10 * time.Minute

// Lock is an exclusive lock file held by one writing process.
type Lock struct {
	Path   string
	token  string
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

type lockInfo struct {
	PID   int    `json:"pid"`
	Time  int64  `json:"time"`
	Token string `json:"token,omitempty"`
}

// AcquireLock creates dir/LockFile exclusively. A lock older than ttl is
// treated as abandoned and replaced. While held, the lock's mtime is
// refreshed every ttl/4 until ctx ends or Release is called.
func AcquireLock(ctx context.Context, dir string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	path := filepath.Join(dir, LockFile)
	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			token := uuid.NewString()
			_ = json.NewEncoder(f).Encode(lockInfo{PID: os.Getpid(), Time: time.Now().Unix(), Token: token})
			_ = f.Close()
			l := &Lock{Path: path, token: token, stop: make(chan struct{}), done: make(chan struct{})}
			go l.heartbeat(ctx, ttl/4)
			return l, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("creating lock: %w", err)
		}
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if time.Since(fi.ModTime()) >= ttl {
			if err := breakStaleLock(path, ttl); err != nil {
				return nil, err
			}
			continue
		}
		return nil, fmt.Errorf("%w: %s", ErrLocked, describeLock(path))
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, path)
}

// breakStaleLock removes path if it is still older than ttl. Writers racing
// to break the same lock serialize on a sibling guard file, so a lock created
// by the winner is never removed by a loser.
func breakStaleLock(path string, ttl time.Duration) error {
	guard := path + ".break"
	g, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		// A guard left by a crashed writer.
		if fi, err := os.Stat(guard); err == nil && time.Since(fi.ModTime()) >= ttl {
			_ = os.Remove(guard)
		}
		time.Sleep(10 * time.Millisecond)
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating lock guard: %w", err)
	}
	_ = g.Close()
	defer os.Remove(guard)

	fi, err := os.Stat(path)
	if err != nil || time.Since(fi.ModTime()) < ttl {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale lock: %w", err)
	}
	return nil
}

func describeLock(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return path
	}
	var info lockInfo
	if json.Unmarshal(b, &info) != nil || info.PID == 0 {
		return path
	}
	return fmt.Sprintf("%s (pid %d since %s)", path, info.PID,
		time.Unix(info.Time, 0).Format(time.RFC3339))
}

func (l *Lock) heartbeat(ctx context.Context, every time.Duration) {
	defer close(l.done)
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			now := time.Now()
			_ = os.Chtimes(l.Path, now, now)
		}
	}
}

// Release stops the heartbeat and removes the lock file unless another
// writer has since taken it over. Safe to call twice.
func (l *Lock) Release() error {
	if l == nil || l.closed {
		return nil
	}
	l.closed = true
	close(l.stop)
	<-l.done
	b, err := os.ReadFile(l.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	var info lockInfo
	if err == nil && json.Unmarshal(b, &info) == nil && info.Token != l.token {
		return nil
	}
	if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock: %w", err)
	}
	return nil
}
