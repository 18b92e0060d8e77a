package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/study-hub/internal/domain/notification"
	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/infrastructure/persistence/memory"
	"github.com/studyhub/study-hub/pkg/logger"
)

type failingFeed struct{}

func (failingFeed) Push(context.Context, *notification.Notification) error {
	return errors.New("feed offline")
}

func (failingFeed) Recent(context.Context, string, int) ([]*notification.Notification, error) {
	return nil, errors.New("feed offline")
}

func recent(t *testing.T, feed notification.Feed, userID string) []*notification.Notification {
	t.Helper()
	list, err := feed.Recent(context.Background(), userID, 0)
	require.NoError(t, err)
	return list
}

// ═══════════════════════════════════════════════════════════════════════════
// ON USER REGISTERED
// ═══════════════════════════════════════════════════════════════════════════

func TestOnUserRegistered_CreatesDefaultProgress(t *testing.T) {
	store := memory.NewProgressStore()
	feed := memory.NewFeedStore(0)
	h := NewOnUserRegisteredHandler(store, feed, logger.Discard())

	require.NoError(t, h.Handle(shared.NewUserRegisteredEvent("u1", "a@b.c", "Dana")))

	p, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, p.Subjects, len(progress.DefaultSubjects))
	assert.Equal(t, float64(progress.DefaultWeeklyGoalHours), p.WeeklyGoalHours)
	assert.EqualValues(t, 1, p.Version)

	items := recent(t, feed, "u1")
	require.Len(t, items, 1)
	assert.Equal(t, notification.TypeWelcome, items[0].Type)
	assert.Equal(t, "Welcome, Dana", items[0].Title)
}

func TestOnUserRegistered_RedeliveryKeepsExistingProgress(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProgressStore()
	_, err := store.Update(ctx, "u1", func(p *progress.UserProgress) error {
		return p.SetWeeklyGoal(5)
	})
	require.NoError(t, err)

	h := NewOnUserRegisteredHandler(store, nil, logger.Discard())
	require.NoError(t, h.Handle(shared.NewUserRegisteredEvent("u1", "a@b.c", "")))

	p, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.WeeklyGoalHours)
	assert.EqualValues(t, 1, p.Version)
}

func TestOnUserRegistered_FeedFailureIsNotFatal(t *testing.T) {
	store := memory.NewProgressStore()
	h := NewOnUserRegisteredHandler(store, failingFeed{}, logger.Discard())

	require.NoError(t, h.Handle(shared.NewUserRegisteredEvent("u1", "a@b.c", "")))
	_, err := store.Get(context.Background(), "u1")
	assert.NoError(t, err)
}

func TestOnUserRegistered_IgnoresOtherEvents(t *testing.T) {
	store := memory.NewProgressStore()
	h := NewOnUserRegisteredHandler(store, nil, logger.Discard())

	require.NoError(t, h.Handle(shared.NewLevelUpEvent("u1", 1, 2)))
	_, err := store.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, progress.ErrProgressNotFound)
}

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS MILESTONE
// ═══════════════════════════════════════════════════════════════════════════

func TestOnProgressMilestone(t *testing.T) {
	tests := []struct {
		name      string
		event     shared.Event
		wantType  notification.Type
		wantTitle string
	}{
		{
			name:      "level up",
			event:     shared.NewLevelUpEvent("u1", 2, 3),
			wantType:  notification.TypeLevelUp,
			wantTitle: "⬆️ Level 3",
		},
		{
			name:      "achievement",
			event:     shared.NewAchievementUnlockedEvent("u1", string(progress.AchievementFirstSteps), "First Steps"),
			wantType:  notification.TypeAchievement,
			wantTitle: "🏅 First Steps",
		},
		{
			name:      "streak milestone",
			event:     shared.NewStreakUpdatedEvent("u1", 6, 7, 7),
			wantType:  notification.TypeStreakMilestone,
			wantTitle: "🔥 7 days in a row",
		},
		{name: "streak below milestone", event: shared.NewStreakUpdatedEvent("u1", 4, 5, 5)},
		{name: "streak reset", event: shared.NewStreakUpdatedEvent("u1", 7, 1, 7)},
		{name: "unrelated", event: shared.NewTaskCreatedEvent("t1", "u1", "Physics")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := memory.NewFeedStore(0)
			h := NewOnProgressMilestoneHandler(feed, logger.Discard())

			require.NoError(t, h.Handle(tt.event))

			items := recent(t, feed, "u1")
			if tt.wantType == "" {
				assert.Empty(t, items)
				return
			}
			require.Len(t, items, 1)
			assert.Equal(t, tt.wantType, items[0].Type)
			assert.Equal(t, tt.wantTitle, items[0].Title)
		})
	}
}

// remoteEvent mimics an event decoded from JSON on another instance.
type remoteEvent struct {
	typ  shared.EventType
	id   string
	data map[string]interface{}
}

func (e remoteEvent) EventType() shared.EventType      { return e.typ }
func (e remoteEvent) OccurredAt() time.Time            { return time.Now() }
func (e remoteEvent) AggregateID() string              { return e.id }
func (e remoteEvent) Payload() map[string]interface{} { return e.data }

func TestOnProgressMilestone_DecodedPayload(t *testing.T) {
	feed := memory.NewFeedStore(0)
	h := NewOnProgressMilestoneHandler(feed, logger.Discard())

	err := h.Handle(remoteEvent{
		typ:  shared.EventLevelUp,
		id:   "u1",
		data: map[string]interface{}{"old_level": float64(4), "new_level": float64(5)},
	})
	require.NoError(t, err)

	items := recent(t, feed, "u1")
	require.Len(t, items, 1)
	assert.Equal(t, "⬆️ Level 5", items[0].Title)
}

func TestOnProgressMilestone_FeedErrorIsReturned(t *testing.T) {
	h := NewOnProgressMilestoneHandler(failingFeed{}, logger.Discard())
	assert.Error(t, h.Handle(shared.NewLevelUpEvent("u1", 1, 2)))
}
