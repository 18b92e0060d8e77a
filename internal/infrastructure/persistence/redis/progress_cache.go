package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/studyhub/study-hub/internal/domain/progress"
)

// ProgressCache is a read-through cache in front of a progress repository.
// Reads populate progress:{userID}; every Update deletes it. Cache failures
// are logged and the repository answers instead.
type ProgressCache struct {
	repo   progress.Repository
	kv     KV
	ttl    time.Duration
	logger *slog.Logger
}

// NewProgressCache wraps repo. A zero ttl means TTLProgress.
func NewProgressCache(repo progress.Repository, kv KV, ttl time.Duration, logger *slog.Logger) *ProgressCache {
	if ttl <= 0 {
		ttl = TTLProgress
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressCache{repo: repo, kv: kv, ttl: ttl, logger: logger.With("component", "progress_cache")}
}

var _ progress.Repository = (*ProgressCache)(nil)

// Get serves from cache, falling back to the repository on a miss.
func (c *ProgressCache) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	key := ProgressKey(userID)

	var cached progress.UserProgress
	err := GetJSON(ctx, c.kv, key, &cached)
	if err == nil {
		cached.Normalize()
		return &cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("progress cache read failed", "user_id", userID, "error", err)
	}

	p, err := c.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := SetJSON(ctx, c.kv, key, p, c.ttl); err != nil {
		c.logger.Warn("progress cache write failed", "user_id", userID, "error", err)
	}
	return p, nil
}

// Update writes through to the repository and invalidates the cached copy.
func (c *ProgressCache) Update(ctx context.Context, userID string, fn progress.UpdateFunc) (*progress.UserProgress, error) {
	p, err := c.repo.Update(ctx, userID, fn)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, userID)
	return p, nil
}

func (c *ProgressCache) invalidate(ctx context.Context, userID string) {
	if err := c.kv.Delete(ctx, ProgressKey(userID)); err != nil {
		c.logger.Warn("progress cache invalidation failed", "user_id", userID, "error", err)
	}
}

// ListActiveSince delegates to the repository when it supports listing.
func (c *ProgressCache) ListActiveSince(ctx context.Context, since time.Time) ([]string, error) {
	lister, ok := c.repo.(progress.UserLister)
	if !ok {
		return nil, errors.New("progress cache: repository cannot list users")
	}
	return lister.ListActiveSince(ctx, since)
}

// ResetWeekly delegates to the repository and drops every cached record.
func (c *ProgressCache) ResetWeekly(ctx context.Context, weekStart time.Time) (int, error) {
	resetter, ok := c.repo.(progress.WeeklyResetter)
	if !ok {
		return 0, errors.New("progress cache: repository cannot reset weeks")
	}
	n, err := resetter.ResetWeekly(ctx, weekStart)
	if err != nil {
		return n, err
	}
	if _, err := c.kv.DeletePrefix(ctx, PrefixProgress); err != nil {
		c.logger.Warn("progress cache flush failed", "error", err)
	}
	return n, nil
}
