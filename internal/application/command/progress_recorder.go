package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS RECORDER
// Shared write path for every command that changes UserProgress: runs the
// mutation inside Store.Update, re-evaluates achievements, derives the domain
// events from the before/after state and publishes them once the write commits.
// ══════════════════════════════════════════════════════════════════════════════

// Metrics receives domain counters. Implemented by the prometheus collector.
type Metrics interface {
	PointsAwarded(reason string, points int)
	AchievementUnlocked(id string)
	SessionCompleted()
	LevelUp(level int)
}

// NopMetrics discards all counters.
type NopMetrics struct{}

func (NopMetrics) PointsAwarded(string, int)  {}
func (NopMetrics) AchievementUnlocked(string) {}
func (NopMetrics) SessionCompleted()          {}
func (NopMetrics) LevelUp(int)                {}

// Mutation changes a working copy of the progress and returns the awards it credited.
type Mutation func(p *progress.UserProgress) ([]progress.PointAward, error)

// ProgressChange is the outcome of one recorded mutation.
type ProgressChange struct {
	Progress *progress.UserProgress
	Awards   []progress.PointAward
	Unlocks  []progress.Unlock
	LevelUp  bool
	Events   []shared.Event
}

// ProgressRecorder applies mutations to the progress store.
type ProgressRecorder struct {
	store     progress.Repository
	tasks     task.Repository
	publisher shared.EventPublisher
	metrics   Metrics
	logger    *slog.Logger
}

// NewProgressRecorder creates a recorder. tasks may be nil, in which case
// task-based achievements are evaluated against no completed tasks.
func NewProgressRecorder(
	store progress.Repository,
	tasks task.Repository,
	publisher shared.EventPublisher,
	metrics Metrics,
	logger *slog.Logger,
) *ProgressRecorder {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressRecorder{
		store:     store,
		tasks:     tasks,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With("component", "progress_recorder"),
	}
}

// Record runs mutate inside Store.Update and publishes the resulting events.
func (r *ProgressRecorder) Record(ctx context.Context, userID string, now time.Time, mutate Mutation) (*ProgressChange, error) {
	completed, err := r.completedTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	var change *ProgressChange
	updated, err := r.store.Update(ctx, userID, func(p *progress.UserProgress) error {
		// Update may invoke the callback again on retry; start clean each time.
		change = &ProgressChange{}

		beforeLevel := p.Level().Level
		beforeStreak := p.Streak

		awards, err := mutate(p)
		if err != nil {
			return err
		}
		change.Awards = awards

		snapshot := progress.Snapshot{Progress: p, CompletedTasks: completed}
		change.Unlocks = p.ApplyUnlocks(progress.Evaluate(snapshot, now))

		afterLevel := p.Level().Level
		change.LevelUp = afterLevel > beforeLevel

		change.Events = r.buildEvents(userID, p, awards, change.Unlocks, beforeLevel, afterLevel, beforeStreak)
		return nil
	})
	if err != nil {
		return nil, err
	}

	change.Progress = updated
	r.emit(change)
	return change, nil
}

// Reconcile unlocks achievements whose conditions hold but were never recorded.
// Nothing is written when there is nothing to unlock.
func (r *ProgressRecorder) Reconcile(ctx context.Context, userID string, now time.Time) (*ProgressChange, error) {
	current, err := r.store.Get(ctx, userID)
	if errors.Is(err, progress.ErrProgressNotFound) {
		return &ProgressChange{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("progress_recorder: failed to load progress: %w", err)
	}

	completed, err := r.completedTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(progress.Evaluate(progress.Snapshot{Progress: current, CompletedTasks: completed}, now)) == 0 {
		return &ProgressChange{Progress: current}, nil
	}

	return r.Record(ctx, userID, now, func(*progress.UserProgress) ([]progress.PointAward, error) {
		return nil, nil
	})
}

func (r *ProgressRecorder) completedTasks(ctx context.Context, userID string) ([]progress.CompletedTask, error) {
	if r.tasks == nil {
		return nil, nil
	}
	list, err := r.tasks.ListCompleted(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("progress_recorder: failed to list completed tasks: %w", err)
	}
	out := make([]progress.CompletedTask, 0, len(list))
	for _, t := range list {
		ct := progress.CompletedTask{Subject: t.Subject}
		if t.CompletedAt != nil {
			ct.CompletedAt = *t.CompletedAt
		}
		out = append(out, ct)
	}
	return out, nil
}

func (r *ProgressRecorder) buildEvents(
	userID string,
	p *progress.UserProgress,
	awards []progress.PointAward,
	unlocks []progress.Unlock,
	beforeLevel, afterLevel int,
	beforeStreak progress.Streak,
) []shared.Event {
	var events []shared.Event

	running := p.Points
	for i := len(awards) - 1; i >= 0; i-- {
		running -= awards[i].Points
	}
	for _, a := range awards {
		running += a.Points
		events = append(events, shared.NewPointsAwardedEvent(userID, a.Key, string(a.Reason), a.Points, running))
	}

	if afterLevel > beforeLevel {
		events = append(events, shared.NewLevelUpEvent(userID, beforeLevel, afterLevel))
	}

	if p.Streak.Current != beforeStreak.Current {
		events = append(events, shared.NewStreakUpdatedEvent(userID, beforeStreak.Current, p.Streak.Current, p.Streak.Longest))
	}

	for _, u := range unlocks {
		events = append(events, shared.NewAchievementUnlockedEvent(userID, string(u.ID), u.Name))
	}
	return events
}

func (r *ProgressRecorder) emit(change *ProgressChange) {
	for _, a := range change.Awards {
		r.metrics.PointsAwarded(string(a.Reason), a.Points)
	}
	for _, u := range change.Unlocks {
		r.metrics.AchievementUnlocked(string(u.ID))
	}
	if change.LevelUp {
		r.metrics.LevelUp(change.Progress.Level().Level)
	}

	if err := shared.PublishAll(r.publisher, change.Events); err != nil {
		// The write has committed; subscribers catch up on the next change.
		r.logger.Warn("failed to publish progress events",
			"user_id", change.Progress.UserID,
			"error", err,
		)
	}
}

// publish sends one event after a committed write. A failed publish is logged
// and otherwise ignored.
func publish(publisher shared.EventPublisher, event shared.Event) {
	if err := publisher.Publish(event); err != nil {
		slog.Default().Warn("failed to publish event",
			"event_type", event.EventType(),
			"error", err,
		)
	}
}
