// Package jobs contains the scheduled maintenance jobs of Study Hub.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/studyhub/study-hub/internal/application/command"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

// Default schedules.
const (
	// WeeklyResetSchedule fires at 00:00 every Monday.
	WeeklyResetSchedule = "0 0 * * 1"

	// ReconcileInterval is the period of achievement reconciliation.
	ReconcileInterval = 15 * time.Minute
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY GOAL RESET
// ══════════════════════════════════════════════════════════════════════════════

// WeeklyResetter zeroes weekly progress for the week containing now.
type WeeklyResetter interface {
	Handle(ctx context.Context, now time.Time) (int, error)
}

var _ WeeklyResetter = (*command.ResetWeeklyGoalsHandler)(nil)

// WeeklyResetJob starts a new week for every user.
type WeeklyResetJob struct {
	handler WeeklyResetter
	now     func() time.Time
	logger  *slog.Logger

	lastReset atomic.Int64
}

// NewWeeklyResetJob creates the job.
func NewWeeklyResetJob(handler WeeklyResetter, logger *slog.Logger) *WeeklyResetJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeeklyResetJob{handler: handler, now: timeutil.Now, logger: logger.With("job", "weekly_goal_reset")}
}

func (j *WeeklyResetJob) Name() string { return "weekly_goal_reset" }

func (j *WeeklyResetJob) Description() string {
	return "Zeroes weekly study hours at the start of each week"
}

func (j *WeeklyResetJob) Run(ctx context.Context) error {
	n, err := j.handler.Handle(ctx, j.now())
	if err != nil {
		return fmt.Errorf("weekly_goal_reset: %w", err)
	}
	j.lastReset.Store(int64(n))
	return nil
}

// LastReset returns how many users the last run reset.
func (j *WeeklyResetJob) LastReset() int { return int(j.lastReset.Load()) }

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT RECONCILIATION
// ══════════════════════════════════════════════════════════════════════════════

// Reconciler re-evaluates achievements of recently active users.
type Reconciler interface {
	Handle(ctx context.Context, cmd command.ReconcileAchievementsCommand) (*command.ReconcileAchievementsResult, error)
}

var _ Reconciler = (*command.ReconcileAchievementsHandler)(nil)

// ReconcileStats summarises the last run.
type ReconcileStats struct {
	RanAt        time.Time
	UsersChecked int
	Unlocked     int
	Failed       int
}

// ReconcileAchievementsJob grants achievements whose unlock was missed.
type ReconcileAchievementsJob struct {
	handler Reconciler

	// lookback is how far back "recently active" reaches.
	lookback time.Duration
	now      func() time.Time
	logger   *slog.Logger

	stats atomic.Value // ReconcileStats
}

// NewReconcileAchievementsJob creates the job. lookback defaults to two intervals.
func NewReconcileAchievementsJob(handler Reconciler, lookback time.Duration, logger *slog.Logger) *ReconcileAchievementsJob {
	if lookback <= 0 {
		lookback = 2 * ReconcileInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileAchievementsJob{
		handler:  handler,
		lookback: lookback,
		now:      timeutil.Now,
		logger:   logger.With("job", "reconcile_achievements"),
	}
}

func (j *ReconcileAchievementsJob) Name() string { return "reconcile_achievements" }

func (j *ReconcileAchievementsJob) Description() string {
	return "Grants achievements missed by failed progress writes"
}

func (j *ReconcileAchievementsJob) Run(ctx context.Context) error {
	now := j.now()
	res, err := j.handler.Handle(ctx, command.ReconcileAchievementsCommand{
		ActiveSince: now.Add(-j.lookback),
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("reconcile_achievements: %w", err)
	}

	j.stats.Store(ReconcileStats{RanAt: now, UsersChecked: res.UsersChecked, Unlocked: res.Unlocked, Failed: res.Failed})
	if res.Unlocked > 0 {
		j.logger.Info("missed achievements granted", "users", res.UsersChecked, "unlocked", res.Unlocked)
	}
	return nil
}

// LastStats returns the stats of the last successful run.
func (j *ReconcileAchievementsJob) LastStats() (ReconcileStats, bool) {
	s, ok := j.stats.Load().(ReconcileStats)
	return s, ok
}
