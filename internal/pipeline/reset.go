package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"outreach/pipeline/internal/records"
)

// ConfirmFunc asks the operator to approve a destructive change affecting n
// records. Returning false leaves the store untouched.
type ConfirmFunc func(what string, n int) (bool, error)

// Reset clears the outputs of stage (score or message) so it runs again.
// It returns the number of records reset. An empty or missing table yields
// 0 without prompting or saving.
func (r *Runner) Reset(ctx context.Context, stage records.Stage, confirm ConfirmFunc) (int, error) {
	if stage != records.StageScore && stage != records.StageMessage {
		return 0, fmt.Errorf("cannot reset the %s stage (want score or message)", stage)
	}
	ok, err := r.Store.Exists(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNothingToReset
	}
	t, err := r.Store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading store: %w", err)
	}

	n := t.CountReset(stage)
	if n == 0 {
		r.logger().Info("nothing to reset", zap.String("stage", stage.String()))
		return 0, nil
	}
	if confirm != nil {
		ok, err := confirm(fmt.Sprintf("reset %s for", stage), n)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ErrResetDeclined
		}
	}

	var affected []string
	if stage == records.StageScore {
		affected = t.ResetScoring()
	} else {
		affected = t.ResetMessages()
	}
	if err := r.Store.Save(ctx, t); err != nil {
		return 0, fmt.Errorf("saving store: %w", err)
	}
	if r.Artifacts != nil {
		if err := r.Artifacts.DeleteMessages(affected...); err != nil {
			r.logger().Warn("removing stale messages", zap.Error(err))
		}
	}
	r.logger().Info("reset applied", zap.String("stage", stage.String()), zap.Int("records", len(affected)))
	return len(affected), nil
}

// Cleanup removes records whose name never resolved and that made no
// progress past discovery, with their artifacts. Returns the removed URLs.
func (r *Runner) Cleanup(ctx context.Context, confirm ConfirmFunc) ([]string, error) {
	t, err := r.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading store: %w", err)
	}
	next := t.Clone()
	removed := next.CleanupPlaceholders()
	if len(removed) == 0 {
		return nil, nil
	}
	if confirm != nil {
		ok, err := confirm("remove unresolved", len(removed))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrResetDeclined
		}
	}
	if err := r.Store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("saving store: %w", err)
	}
	if r.Artifacts != nil {
		if err := r.Artifacts.DeleteProfiles(removed...); err != nil {
			r.logger().Warn("removing artifacts", zap.Error(err))
		}
	}
	r.logger().Info("cleanup applied", zap.Int("removed", len(removed)))
	return removed, nil
}
