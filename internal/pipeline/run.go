package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"outreach/pipeline/internal/artifacts"
	"outreach/pipeline/internal/records"
	"outreach/pipeline/internal/sendlog"
)

// Run processes every record eligible for stage, in profile URL order.
// Collaborator failures are logged and counted; the run continues with the
// next record. Store and send log failures abort the run and are returned
// together with the partial result.
func (r *Runner) Run(ctx context.Context, stage records.Stage, c Collaborators) (*RunResult, error) {
	if _, err := records.ParseStage(string(stage)); err != nil {
		return nil, err
	}
	if !r.DryRun {
		if err := c.check(stage); err != nil {
			return nil, err
		}
	}
	start := r.now()
	res := &RunResult{RunID: uuid.New().String(), Stage: stage}
	log := r.logger().With(zap.String("run_id", res.RunID), zap.String("stage", stage.String()))

	t, err := r.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading store: %w", err)
	}

	queue := t.Eligible(stage)
	res.Eligible = len(queue)
	if r.Limit > 0 && len(queue) > r.Limit {
		queue = queue[:r.Limit]
	}
	log.Info("run starting", zap.Int("eligible", res.Eligible), zap.Int("queued", len(queue)))

	if r.DryRun {
		for _, rec := range queue {
			res.Pending = append(res.Pending, rec.ProfileURL)
		}
		res.Duration = r.now().Sub(start)
		return res, nil
	}

	// Saves run detached from ctx so a cancelled run still persists the
	// record it just finished.
	saveCtx := context.WithoutCancel(ctx)
	save := func() error {
		if err := r.Store.Save(saveCtx, t); err != nil {
			return fmt.Errorf("saving store: %w", err)
		}
		return nil
	}

	var (
		sentToday int
		capacity  = r.dailyCap()
	)
	if stage == records.StageSend && r.Log != nil {
		sentToday = r.Log.CountOn(r.now())
		log.Info("send budget", zap.Int("sent_today", sentToday), zap.Int("daily_cap", capacity))
	}

	for i, rec := range queue {
		if err := ctx.Err(); err != nil {
			log.Warn("run interrupted", zap.Int("remaining", len(queue)-i))
			res.Duration = r.now().Sub(start)
			return res, err
		}
		if stage == records.StageSend && !sendlog.UnderDailyCap(sentToday, capacity) {
			res.Deferred = len(queue) - i
			log.Info("daily send cap reached", zap.Int("cap", capacity), zap.Int("deferred", res.Deferred))
			break
		}

		rlog := log.With(zap.String("profile_url", rec.ProfileURL))
		var (
			outcome stepOutcome
			stepErr error
		)
		switch stage {
		case records.StageFetch:
			outcome, stepErr = r.fetchOne(ctx, t, rec, c.Fetcher)
		case records.StageScore:
			outcome, stepErr = r.scoreOne(ctx, t, rec, c.Scorer)
		case records.StageMessage:
			outcome, stepErr = r.messageOne(ctx, t, rec, c.Composer)
		case records.StageSend:
			outcome, stepErr = r.sendOne(ctx, t, rec, c.Sender)
		}

		switch outcome {
		case outcomeSkipped:
			res.Skipped++
			rlog.Info("skipped", zap.Error(stepErr))
		case outcomeFailed:
			res.Attempted++
			res.Failed++
			rlog.Warn("failed", zap.Error(stepErr))
		case outcomeAbort:
			res.Duration = r.now().Sub(start)
			return res, stepErr
		default:
			res.Attempted++
			res.Succeeded++
			if stage == records.StageSend {
				sentToday++
			}
			rlog.Info("done")
		}

		if err := save(); err != nil {
			res.Duration = r.now().Sub(start)
			return res, err
		}
	}

	res.Duration = r.now().Sub(start)
	log.Info("run finished",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("deferred", res.Deferred),
		zap.String("took", Elapsed(res.Duration)),
	)
	return res, nil
}

type stepOutcome int

const (
	outcomeSucceeded stepOutcome = iota
	outcomeFailed
	outcomeSkipped
	outcomeAbort
)

func (c Collaborators) check(stage records.Stage) error {
	missing := ""
	switch stage {
	case records.StageFetch:
		if c.Fetcher == nil {
			missing = "fetcher"
		}
	case records.StageScore:
		if c.Scorer == nil {
			missing = "scorer"
		}
	case records.StageMessage:
		if c.Composer == nil {
			missing = "composer"
		}
	case records.StageSend:
		if c.Sender == nil {
			missing = "sender"
		}
	}
	if missing != "" {
		return fmt.Errorf("no %s configured for the %s stage", missing, stage)
	}
	return nil
}

func (r *Runner) fetchOne(ctx context.Context, t records.Table, rec *records.ProfileRecord, f Fetcher) (stepOutcome, error) {
	p, err := f.Fetch(ctx, rec.Clone())
	if err != nil {
		return outcomeFailed, err
	}
	if p == nil {
		return outcomeFailed, errors.New("fetcher returned no profile")
	}
	p.ProfileURL = rec.ProfileURL
	if p.FetchedAt.IsZero() {
		p.FetchedAt = r.now()
	}
	if r.Artifacts != nil {
		if err := r.Artifacts.PutProfile(p); err != nil {
			return outcomeFailed, err
		}
	}

	// A fetched page usually resolves a placeholder name.
	if !rec.NameResolved() && p.Name != "" {
		if _, err := t.Merge(records.DiscoveryUpdate(rec.ProfileURL, p.Name, nil)); err != nil {
			return outcomeAbort, err
		}
	}
	w, err := t.MarkFetched(rec.ProfileURL, p.FetchedAt)
	if err != nil {
		return outcomeAbort, err
	}
	r.warn(w)
	return outcomeSucceeded, nil
}

func (r *Runner) candidate(rec *records.ProfileRecord) (Candidate, error) {
	c := Candidate{Record: rec.Clone()}
	if r.Artifacts == nil {
		return c, nil
	}
	p, err := r.Artifacts.GetProfile(rec.ProfileURL)
	if err != nil && !errors.Is(err, artifacts.ErrNotFound) {
		return c, err
	}
	c.Profile = p
	return c, nil
}

func (r *Runner) scoreOne(ctx context.Context, t records.Table, rec *records.ProfileRecord, s Scorer) (stepOutcome, error) {
	c, err := r.candidate(rec)
	if err != nil {
		return outcomeFailed, err
	}
	sc, err := s.Score(ctx, c)
	if err != nil {
		return outcomeFailed, err
	}
	w, err := t.MarkScored(rec.ProfileURL, sc.Value, sc.Decision, sc.Reason)
	if errors.Is(err, records.ErrInvalidUpdate) {
		return outcomeFailed, err
	}
	if err != nil {
		return outcomeAbort, err
	}
	r.warn(w)
	return outcomeSucceeded, nil
}

func (r *Runner) messageOne(ctx context.Context, t records.Table, rec *records.ProfileRecord, cm Composer) (stepOutcome, error) {
	c, err := r.candidate(rec)
	if err != nil {
		return outcomeFailed, err
	}
	text, err := cm.Compose(ctx, c)
	if err != nil {
		return outcomeFailed, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return outcomeFailed, errors.New("composer returned an empty message")
	}
	if r.Artifacts != nil {
		if err := r.Artifacts.PutMessage(rec.ProfileURL, text); err != nil {
			return outcomeFailed, err
		}
	}
	w, err := t.MarkMessaged(rec.ProfileURL, r.now())
	if err != nil {
		return outcomeAbort, err
	}
	r.warn(w)
	return outcomeSucceeded, nil
}

// sendOne appends to the send log before marking the record sent, so a crash
// between the two is repaired on the next run instead of sending twice.
func (r *Runner) sendOne(ctx context.Context, t records.Table, rec *records.ProfileRecord, s Sender) (stepOutcome, error) {
	if r.Log != nil && r.Log.AlreadySent(rec.ProfileURL) {
		w, err := t.MarkSent(rec.ProfileURL, records.SendSent, "", r.now())
		if err != nil {
			return outcomeAbort, err
		}
		r.warn(w)
		return outcomeSkipped, errors.New("already in send log")
	}

	c, err := r.candidate(rec)
	if err != nil {
		return outcomeFailed, err
	}
	if r.Artifacts != nil {
		msg, err := r.Artifacts.GetMessage(rec.ProfileURL)
		if err != nil {
			return r.markSendFailed(t, rec, err)
		}
		c.Message = msg
	}
	if strings.TrimSpace(c.Message) == "" {
		return r.markSendFailed(t, rec, errors.New("no message to send"))
	}

	if err := s.Send(ctx, c, c.Message); err != nil {
		return r.markSendFailed(t, rec, err)
	}

	if r.Log != nil {
		err := r.Log.Append(sendlog.Entry{
			Date:       r.now(),
			ProfileURL: rec.ProfileURL,
			Name:       rec.Name,
			Message:    c.Message,
			Score:      rec.TotalScore,
		})
		if err != nil {
			return outcomeAbort, fmt.Errorf("appending send log: %w", err)
		}
	}
	w, err := t.MarkSent(rec.ProfileURL, records.SendSent, "", r.now())
	if err != nil {
		return outcomeAbort, err
	}
	r.warn(w)
	return outcomeSucceeded, nil
}

func (r *Runner) markSendFailed(t records.Table, rec *records.ProfileRecord, cause error) (stepOutcome, error) {
	w, err := t.MarkSent(rec.ProfileURL, records.SendFailed, cause.Error(), r.now())
	if err != nil {
		return outcomeAbort, err
	}
	r.warn(w)
	return outcomeFailed, cause
}
