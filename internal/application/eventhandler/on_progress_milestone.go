package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studyhub/study-hub/internal/domain/notification"
	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS MILESTONE HANDLER
// Превращает повышения уровня, новые достижения и вехи серии в записи ленты.
//
// События публикуются после фиксации записи прогресса, поэтому каждое
// приходит один раз на изменение. Поля читаются из Payload, чтобы события
// с других инстансов (Redis-шина) обрабатывались так же, как локальные.
// ═══════════════════════════════════════════════════════════════════════════

// OnProgressMilestoneHandler обрабатывает LevelUp, AchievementUnlocked и StreakUpdated.
type OnProgressMilestoneHandler struct {
	feed   notification.Feed
	logger *slog.Logger
}

// NewOnProgressMilestoneHandler создаёт обработчик.
func NewOnProgressMilestoneHandler(feed notification.Feed, logger *slog.Logger) *OnProgressMilestoneHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnProgressMilestoneHandler{
		feed:   feed,
		logger: logger.With("handler", "on_progress_milestone"),
	}
}

// EventTypes - события, на которые нужно подписать обработчик.
func (h *OnProgressMilestoneHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventLevelUp,
		shared.EventAchievementUnlocked,
		shared.EventStreakUpdated,
	}
}

// Handle обрабатывает событие.
func (h *OnProgressMilestoneHandler) Handle(event shared.Event) error {
	n, err := h.notificationFor(event)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}

	if err := h.feed.Push(context.Background(), n); err != nil {
		return fmt.Errorf("push %s: %w", n.Type, err)
	}
	h.logger.Info("milestone recorded",
		"user_id", n.UserID,
		"type", n.Type,
		"title", n.Title,
	)
	return nil
}

func (h *OnProgressMilestoneHandler) notificationFor(event shared.Event) (*notification.Notification, error) {
	at := event.OccurredAt()
	userID := event.AggregateID()
	data := event.Payload()

	switch event.EventType() {
	case shared.EventLevelUp:
		oldLevel, newLevel := payloadInt(data, "old_level"), payloadInt(data, "new_level")
		if newLevel <= oldLevel {
			return nil, nil
		}
		return notification.LevelUp(userID, newLevel, at)

	case shared.EventAchievementUnlocked:
		id := payloadString(data, "achievement_id")
		name, desc := payloadString(data, "name"), ""
		if def, ok := progress.Lookup(progress.AchievementID(id)); ok {
			desc = def.Description
			if name == "" {
				name = def.Name
			}
		}
		return notification.Achievement(userID, name, desc, at)

	case shared.EventStreakUpdated:
		prev, cur := payloadInt(data, "previous"), payloadInt(data, "current")
		if cur <= prev || !notification.IsStreakMilestone(cur) {
			return nil, nil
		}
		return notification.StreakMilestone(userID, cur, at)

	default:
		h.logger.Debug("ignoring event", "event_type", event.EventType())
		return nil, nil
	}
}
