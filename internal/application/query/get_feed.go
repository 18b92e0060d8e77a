package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/studyhub/study-hub/internal/domain/notification"
)

// DefaultFeedLimit - сколько записей ленты отдаётся по умолчанию.
const DefaultFeedLimit = 20

// GetFeedQuery - последние записи ленты пользователя.
type GetFeedQuery struct {
	UserID string
	Limit  int
}

// GetFeedHandler обрабатывает GetFeedQuery.
type GetFeedHandler struct {
	feed notification.Feed
}

// NewGetFeedHandler создаёт обработчик.
func NewGetFeedHandler(feed notification.Feed) *GetFeedHandler {
	return &GetFeedHandler{feed: feed}
}

// Handle возвращает записи, новые первыми.
func (h *GetFeedHandler) Handle(ctx context.Context, q GetFeedQuery) ([]*notification.Notification, error) {
	if q.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	if q.Limit <= 0 || q.Limit > notification.DefaultFeedSize {
		q.Limit = DefaultFeedLimit
	}

	items, err := h.feed.Recent(ctx, q.UserID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_feed: %w", err)
	}
	if items == nil {
		items = []*notification.Notification{}
	}
	return items, nil
}
