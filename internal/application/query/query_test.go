package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/study-hub/internal/domain/flashcard"
	"github.com/studyhub/study-hub/internal/domain/notification"
	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/domain/task"
	"github.com/studyhub/study-hub/internal/infrastructure/persistence/memory"
	"github.com/studyhub/study-hub/pkg/logger"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

func at(d, h int) time.Time {
	return time.Date(2024, time.March, d, h, 0, 0, 0, timeutil.Location())
}

func saveTask(t *testing.T, store *memory.TaskStore, title string, created time.Time, due *time.Time) *task.Task {
	t.Helper()
	tk, err := task.New(task.NewTaskParams{OwnerID: "u1", Title: title, Subject: "Physics", DueDate: due}, created)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), tk))
	return tk
}

// ══════════════════════════════════════════════════════════════════════════════
// LISTS
// ══════════════════════════════════════════════════════════════════════════════

func TestListTasks(t *testing.T) {
	store := memory.NewTaskStore()
	saveTask(t, store, "old", at(1, 9), nil)
	saveTask(t, store, "new", at(3, 9), nil)
	saveTask(t, store, "mid", at(2, 9), nil)

	tests := []struct {
		name         string
		orderedErr   error
		unorderedErr error
		wantTitles   []string
		wantDegraded bool
		wantErr      bool
	}{
		{name: "ordered", wantTitles: []string{"new", "mid", "old"}},
		{name: "fallback", orderedErr: errors.New("missing index"), wantTitles: []string{"new", "mid", "old"}, wantDegraded: true},
		{name: "both fail", orderedErr: errors.New("missing index"), unorderedErr: errors.New("offline"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store.OrderedErr = tt.orderedErr
			store.UnorderedErr = tt.unorderedErr

			res, err := NewListTasksHandler(store, logger.Discard()).Handle(context.Background(), ListTasksQuery{UserID: "u1"})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, shared.IsRetryable(err))
				assert.ErrorIs(t, err, ErrListUnavailable)
				assert.NotEmpty(t, shared.UserMessage(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDegraded, res.Degraded)

			titles := make([]string, 0, len(res.Tasks))
			for _, tk := range res.Tasks {
				titles = append(titles, tk.Title)
			}
			assert.Equal(t, tt.wantTitles, titles)
		})
	}
}

func TestListTasks_StatusFilter(t *testing.T) {
	store := memory.NewTaskStore()
	done := saveTask(t, store, "done", at(1, 9), nil)
	_, err := done.ChangeStatus(task.StatusCompleted, at(1, 10))
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), done))
	saveTask(t, store, "open", at(2, 9), nil)

	h := NewListTasksHandler(store, logger.Discard())
	res, err := h.Handle(context.Background(), ListTasksQuery{UserID: "u1", Status: task.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "done", res.Tasks[0].Title)

	_, err = h.Handle(context.Background(), ListTasksQuery{UserID: "u1", Status: "archived"})
	assert.ErrorIs(t, err, task.ErrInvalidStatus)
}

func TestListDecks_Fallback(t *testing.T) {
	store := memory.NewDeckStore()
	for i, title := range []string{"first", "second"} {
		d, err := flashcard.NewDeck("u1", title, []flashcard.Card{{Front: "Q", Back: "A"}}, "", at(1+i, 9))
		require.NoError(t, err)
		require.NoError(t, store.Save(context.Background(), d))
	}
	store.OrderedErr = errors.New("missing index")

	res, err := NewListDecksHandler(store, logger.Discard()).Handle(context.Background(), ListDecksQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Decks, 2)
	assert.Equal(t, "second", res.Decks[0].Title)

	store.UnorderedErr = errors.New("offline")
	_, err = NewListDecksHandler(store, logger.Discard()).Handle(context.Background(), ListDecksQuery{UserID: "u1"})
	assert.True(t, shared.IsRetryable(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// DASHBOARD
// ══════════════════════════════════════════════════════════════════════════════

func TestGetDashboard_DefaultsForNewUser(t *testing.T) {
	h := NewGetDashboardHandler(memory.NewProgressStore(), NewListTasksHandler(memory.NewTaskStore(), nil), logger.Discard())

	dto, err := h.Handle(context.Background(), GetDashboardQuery{UserID: "u1", Now: at(4, 12)})
	require.NoError(t, err)

	assert.Equal(t, 0, dto.Points)
	assert.Equal(t, 1, dto.Level.Level)
	assert.Equal(t, progress.StreakNone, dto.Streak.Status)
	assert.Empty(t, dto.Subjects)
	assert.Empty(t, dto.Upcoming)
	assert.Len(t, dto.History, DefaultHistoryDays)
	assert.Len(t, dto.Achievements, len(progress.Definitions()))
	assert.Zero(t, dto.EarnedCount)
	assert.Equal(t, float64(progress.DefaultWeeklyGoalHours), dto.WeeklyGoal.GoalHours)
}

func TestGetDashboard(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProgressStore()
	_, err := store.Update(ctx, "u1", func(p *progress.UserProgress) error {
		if _, err := p.RecordStudy("Mathematics", 3*3600, at(3, 10)); err != nil {
			return err
		}
		if _, err := p.RecordStudy("Physics", 3600, at(4, 10)); err != nil {
			return err
		}
		p.ApplyUnlocks(progress.Evaluate(progress.Snapshot{Progress: p}, at(4, 10)))
		return nil
	})
	require.NoError(t, err)

	tasks := memory.NewTaskStore()
	due := func(d int) *time.Time { v := at(d, 18); return &v }
	saveTask(t, tasks, "later", at(1, 9), due(20))
	saveTask(t, tasks, "no due", at(1, 9), nil)
	saveTask(t, tasks, "soon", at(1, 9), due(5))
	saveTask(t, tasks, "next", at(1, 9), due(8))
	done := saveTask(t, tasks, "done", at(1, 9), due(2))
	_, err = done.ChangeStatus(task.StatusCompleted, at(2, 9))
	require.NoError(t, err)
	require.NoError(t, tasks.Save(ctx, done))

	h := NewGetDashboardHandler(store, NewListTasksHandler(tasks, nil), logger.Discard())
	dto, err := h.Handle(ctx, GetDashboardQuery{UserID: "u1", Now: at(5, 9)})
	require.NoError(t, err)

	assert.Equal(t, 40, dto.Points)
	assert.Equal(t, "4h 0m", dto.Totals.StudyFormatted)

	require.Len(t, dto.Subjects, 2)
	assert.Equal(t, "Mathematics", dto.Subjects[0].Subject)
	assert.InDelta(t, 75.0, dto.Subjects[0].Percent, 0.001)
	assert.InDelta(t, 25.0, dto.Subjects[1].Percent, 0.001)

	// Last study on the 4th, viewed on the 5th.
	assert.Equal(t, progress.StreakAtRisk, dto.Streak.Status)
	assert.Equal(t, 2, dto.Streak.Current)

	require.Len(t, dto.Upcoming, 3)
	assert.Equal(t, "soon", dto.Upcoming[0].Title)
	assert.Equal(t, "next", dto.Upcoming[1].Title)
	assert.Equal(t, "later", dto.Upcoming[2].Title)

	require.Len(t, dto.History, 7)
	assert.Equal(t, "2024-03-05", dto.History[6].Date)
	assert.Equal(t, 1.0, dto.History[5].Hours)
	assert.Equal(t, 3.0, dto.History[4].Hours)
	assert.Equal(t, []string{"Mathematics"}, dto.History[4].Subjects)

	// The 3rd is a Sunday, so only the 4th counts towards this week.
	assert.InDelta(t, 1.0, dto.WeeklyGoal.ProgressHours, 0.001)
	assert.InDelta(t, 5.0, dto.WeeklyGoal.Percent, 0.001)

	earned := map[progress.AchievementID]bool{}
	for _, a := range dto.Achievements {
		if a.Earned {
			earned[a.ID] = true
		}
	}
	assert.True(t, earned[progress.AchievementSubjectExplorer])
	assert.False(t, earned[progress.AchievementFirstSteps])
	assert.Equal(t, len(earned), dto.EarnedCount)
}

func TestGetDashboard_TaskFailureIsNotFatal(t *testing.T) {
	tasks := memory.NewTaskStore()
	tasks.OrderedErr = errors.New("missing index")
	tasks.UnorderedErr = errors.New("offline")

	h := NewGetDashboardHandler(memory.NewProgressStore(), NewListTasksHandler(tasks, nil), logger.Discard())
	dto, err := h.Handle(context.Background(), GetDashboardQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, dto.Upcoming)
}

func TestGetDashboard_StaleWeekShowsZero(t *testing.T) {
	p := progress.New("u1", at(4, 9))
	_, err := p.RecordStudy("Physics", 7200, at(4, 10))
	require.NoError(t, err)

	dto := BuildDashboard(p, at(12, 9), DefaultHistoryDays)
	assert.Zero(t, dto.WeeklyGoal.ProgressHours)
	assert.Zero(t, dto.WeeklyGoal.Percent)
	assert.Equal(t, progress.StreakBroken, dto.Streak.Status)
	assert.Zero(t, dto.Streak.Current)
}

// ══════════════════════════════════════════════════════════════════════════════
// FEED
// ══════════════════════════════════════════════════════════════════════════════

func TestGetFeed(t *testing.T) {
	ctx := context.Background()
	feed := memory.NewFeedStore(3)
	for lvl := 2; lvl <= 5; lvl++ {
		n, err := notification.LevelUp("u1", lvl, at(1, lvl))
		require.NoError(t, err)
		require.NoError(t, feed.Push(ctx, n))
	}

	h := NewGetFeedHandler(feed)
	items, err := h.Handle(ctx, GetFeedQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "⬆️ Level 5", items[0].Title)
	assert.Equal(t, "⬆️ Level 3", items[2].Title)

	items, err = h.Handle(ctx, GetFeedQuery{UserID: "u1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = h.Handle(ctx, GetFeedQuery{UserID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}
