// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhub/study-hub/internal/domain/notification"
	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON USER REGISTERED HANDLER
// Создаёт прогресс по умолчанию (8 предметов, цель 20 часов) сразу после
// регистрации и кладёт приветствие в ленту.
// ═══════════════════════════════════════════════════════════════════════════

// OnUserRegisteredHandler обрабатывает shared.UserRegisteredEvent.
type OnUserRegisteredHandler struct {
	store  progress.Repository
	feed   notification.Feed
	now    func() time.Time
	logger *slog.Logger
}

// NewOnUserRegisteredHandler создаёт обработчик. feed может быть nil.
func NewOnUserRegisteredHandler(store progress.Repository, feed notification.Feed, logger *slog.Logger) *OnUserRegisteredHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnUserRegisteredHandler{
		store:  store,
		feed:   feed,
		now:    timeutil.Now,
		logger: logger.With("handler", "on_user_registered"),
	}
}

// Handle обрабатывает событие. Повторная доставка не меняет существующий прогресс.
func (h *OnUserRegisteredHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	if event.EventType() != shared.EventUserRegistered {
		h.logger.Warn("received non-UserRegisteredEvent", "event_type", event.EventType())
		return nil
	}
	userID := event.AggregateID()
	if userID == "" {
		return fmt.Errorf("user registered event without user id")
	}

	_, err := h.store.Get(ctx, userID)
	switch {
	case err == nil:
		h.logger.Debug("progress already exists", "user_id", userID)
		return nil
	case !errors.Is(err, progress.ErrProgressNotFound):
		return fmt.Errorf("get progress: %w", err)
	}

	if _, err := h.store.Update(ctx, userID, func(*progress.UserProgress) error { return nil }); err != nil {
		return fmt.Errorf("create progress: %w", err)
	}
	h.logger.Info("default progress created", "user_id", userID)

	if h.feed != nil {
		n, err := notification.Welcome(userID, payloadString(event.Payload(), "display_name"), h.now())
		if err == nil {
			err = h.feed.Push(ctx, n)
		}
		if err != nil {
			// Приветствие не критично.
			h.logger.Warn("failed to push welcome", "user_id", userID, "error", err)
		}
	}
	return nil
}
