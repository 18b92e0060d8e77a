package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/studyhub/study-hub/internal/domain/notification"
)

// Feed implements notification.Feed as a capped Redis list per user.
type Feed struct {
	kv   KV
	size int
}

// NewFeed creates a feed keeping size entries per user (0 = default).
func NewFeed(kv KV, size int) *Feed {
	if size <= 0 {
		size = notification.DefaultFeedSize
	}
	return &Feed{kv: kv, size: size}
}

var _ notification.Feed = (*Feed)(nil)

func (f *Feed) Push(ctx context.Context, n *notification.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return f.kv.PushCapped(ctx, FeedKey(n.UserID), string(data), f.size, TTLFeed)
}

func (f *Feed) Recent(ctx context.Context, userID string, limit int) ([]*notification.Notification, error) {
	if limit <= 0 || limit > f.size {
		limit = f.size
	}
	raw, err := f.kv.Range(ctx, FeedKey(userID), 0, int64(limit-1))
	if err != nil {
		return nil, err
	}

	out := make([]*notification.Notification, 0, len(raw))
	for _, item := range raw {
		var n notification.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			// Skip corrupt entries rather than hiding the whole feed.
			continue
		}
		out = append(out, &n)
	}
	return out, nil
}
