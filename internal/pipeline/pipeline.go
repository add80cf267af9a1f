// Package pipeline drives records through the fetch, score, message and send
// stages. Each run is resumable: the table is saved after every record, so an
// interrupted run picks up exactly where it stopped.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"outreach/pipeline/internal/artifacts"
	"outreach/pipeline/internal/records"
	"outreach/pipeline/internal/sendlog"
	"outreach/pipeline/internal/store"
)

var (
	ErrNothingToReset = errors.New("nothing to reset")
	ErrResetDeclined  = errors.New("reset declined")
)

// Candidate is what a collaborator sees for one record.
type Candidate struct {
	Record  records.ProfileRecord
	Profile *artifacts.Profile // nil before the fetch stage
	Message string             // set for the send stage
}

// Score is a scorer's verdict.
type Score struct {
	Value    float64          `json:"score"`
	Decision records.Decision `json:"decision"`
	Reason   string           `json:"reason,omitempty"`
}

// Fetcher retrieves the profile document for a record.
type Fetcher interface {
	Fetch(ctx context.Context, rec records.ProfileRecord) (*artifacts.Profile, error)
}

// Scorer rates a fetched candidate.
type Scorer interface {
	Score(ctx context.Context, c Candidate) (Score, error)
}

// Composer writes the outreach message for a candidate.
type Composer interface {
	Compose(ctx context.Context, c Candidate) (string, error)
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, c Candidate, message string) error
}

// Collaborators bundles the stage implementations. Only the one for the stage
// being run must be set.
type Collaborators struct {
	Fetcher  Fetcher
	Scorer   Scorer
	Composer Composer
	Sender   Sender
}

// Runner executes stages against one account's data.
type Runner struct {
	Store     store.Store
	Log       *sendlog.Log
	Artifacts *artifacts.Store
	Logger    *zap.Logger
	Clock     func() time.Time

	DailyCap int  // sends per calendar day; 0 means sendlog.DefaultDailyCap
	Limit    int  // max records per run; 0 means no limit
	DryRun   bool // list eligible records without calling collaborators
}

// RunResult summarizes one stage run.
type RunResult struct {
	RunID     string        `json:"run_id"`
	Stage     records.Stage `json:"stage"`
	Eligible  int           `json:"eligible"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Deferred  int           `json:"deferred"`
	Pending   []string      `json:"pending,omitempty"` // dry run only
	Duration  time.Duration `json:"duration"`
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

func (r *Runner) dailyCap() int {
	if r.DailyCap > 0 {
		return r.DailyCap
	}
	return sendlog.DefaultDailyCap
}

// warn logs a transition that was applied to a record in an unexpected state.
func (r *Runner) warn(w *records.TransitionWarning) {
	if w == nil {
		return
	}
	r.logger().Warn("unexpected stage transition",
		zap.String("profile_url", w.ProfileURL),
		zap.String("stage", w.Stage.String()),
		zap.String("state", w.State),
		zap.Bool("applied", w.Applied),
	)
}
