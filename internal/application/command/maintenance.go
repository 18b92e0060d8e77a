package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE COMMANDS
// Run by the scheduler.
// ══════════════════════════════════════════════════════════════════════════════

// ResetWeeklyGoalsHandler zeroes weekly progress at the start of a week.
type ResetWeeklyGoalsHandler struct {
	resetter progress.WeeklyResetter
	logger   *slog.Logger
}

// NewResetWeeklyGoalsHandler creates a new ResetWeeklyGoalsHandler.
func NewResetWeeklyGoalsHandler(resetter progress.WeeklyResetter, logger *slog.Logger) *ResetWeeklyGoalsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetWeeklyGoalsHandler{resetter: resetter, logger: logger}
}

// Handle resets every user whose week started before the week containing now.
func (h *ResetWeeklyGoalsHandler) Handle(ctx context.Context, now time.Time) (int, error) {
	weekStart := timeutil.StartOfWeek(now)
	n, err := h.resetter.ResetWeekly(ctx, weekStart)
	if err != nil {
		return 0, fmt.Errorf("reset_weekly_goals: %w", err)
	}
	h.logger.Info("weekly goals reset", "users", n, "week_start", timeutil.FormatDateStr(weekStart))
	return n, nil
}

// ReconcileAchievementsCommand re-evaluates achievements for recently active users.
type ReconcileAchievementsCommand struct {
	ActiveSince time.Time
	Now         time.Time
}

// ReconcileAchievementsResult summarises a reconciliation pass.
type ReconcileAchievementsResult struct {
	UsersChecked int
	Unlocked     int
	Failed       int
}

// ReconcileAchievementsHandler catches unlocks missed by a failed write path.
type ReconcileAchievementsHandler struct {
	users    progress.UserLister
	recorder *ProgressRecorder
	logger   *slog.Logger
}

// NewReconcileAchievementsHandler creates a new ReconcileAchievementsHandler.
func NewReconcileAchievementsHandler(users progress.UserLister, recorder *ProgressRecorder, logger *slog.Logger) *ReconcileAchievementsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileAchievementsHandler{users: users, recorder: recorder, logger: logger}
}

// Handle executes the command. A failing user does not stop the pass.
func (h *ReconcileAchievementsHandler) Handle(ctx context.Context, cmd ReconcileAchievementsCommand) (*ReconcileAchievementsResult, error) {
	now := cmd.Now
	if now.IsZero() {
		now = timeutil.Now()
	}

	ids, err := h.users.ListActiveSince(ctx, cmd.ActiveSince)
	if err != nil {
		return nil, fmt.Errorf("reconcile_achievements: failed to list users: %w", err)
	}

	res := &ReconcileAchievementsResult{}
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.UsersChecked++

		change, err := h.recorder.Reconcile(ctx, id, now)
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("user %s: %w", id, err))
			continue
		}
		res.Unlocked += len(change.Unlocks)
	}

	if res.Failed > 0 {
		h.logger.Warn("achievement reconciliation finished with errors",
			"checked", res.UsersChecked, "failed", res.Failed, "error", errors.Join(errs...))
	}
	return res, nil
}
