package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/study-hub/internal/domain/notification"
	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/infrastructure/persistence/memory"
	"github.com/studyhub/study-hub/pkg/logger"
)

// memKV is an in-process KV used instead of a Redis server.
type memKV struct {
	mu     sync.Mutex
	values map[string]string
	lists  map[string][]string
	ttls   map[string]time.Duration

	getErr error
	gets   int
}

func newMemKV() *memKV {
	return &memKV{values: map[string]string{}, lists: map[string][]string{}, ttls: map[string]time.Duration{}}
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *memKV) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	_, okList := m.lists[key]
	return ok || okList, nil
}

func (m *memKV) PushCapped(_ context.Context, key, value string, max int, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]string{value}, m.lists[key]...)
	if len(list) > max {
		list = list[:max]
	}
	m.lists[key] = list
	m.ttls[key] = ttl
	return nil
}

func (m *memKV) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	n := int64(len(list))
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return []string{}, nil
	}
	return append([]string(nil), list[start:stop+1]...), nil
}

func (m *memKV) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			delete(m.values, k)
			n++
		}
	}
	return n, nil
}

var _ KV = (*memKV)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ══════════════════════════════════════════════════════════════════════════════

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.URL = "redis://:pw@cache:6380/2"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "progress:u1", ProgressKey("u1"))
	assert.Equal(t, "feed:u1", FeedKey("u1"))
	assert.Equal(t, "revoked:t1", RevokedKey("t1"))
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS CACHE
// ══════════════════════════════════════════════════════════════════════════════

func addPoints(n int) progress.UpdateFunc {
	return func(p *progress.UserProgress) error {
		p.Award(progress.PointAward{Key: "test", Reason: progress.ReasonPomodoro, Points: n, AwardedAt: time.Now()})
		return nil
	}
}

func TestProgressCache_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	repo := memory.NewProgressStore()
	cache := NewProgressCache(repo, kv, 0, logger.Discard())

	_, err := cache.Get(ctx, "u1")
	assert.ErrorIs(t, err, progress.ErrProgressNotFound)

	_, err = cache.Update(ctx, "u1", addPoints(10))
	require.NoError(t, err)

	p, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Points)
	assert.Equal(t, TTLProgress, kv.ttls[ProgressKey("u1")])

	cached, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, p.Version, cached.Version)
	assert.NotNil(t, cached.Awards)

	_, err = cache.Update(ctx, "u1", addPoints(5))
	require.NoError(t, err)
	_, err = kv.Get(ctx, ProgressKey("u1"))
	assert.ErrorIs(t, err, ErrCacheMiss)

	p, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Points, "award key is idempotent")
	assert.Equal(t, int64(2), p.Version)
}

func TestProgressCache_FallsBackWhenCacheFails(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	repo := memory.NewProgressStore()
	_, err := repo.Update(ctx, "u1", addPoints(7))
	require.NoError(t, err)

	kv.getErr = errors.New("connection refused")
	p, err := NewProgressCache(repo, kv, time.Minute, logger.Discard()).Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Points)
}

func TestProgressCache_ResetWeeklyFlushes(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	cache := NewProgressCache(memory.NewProgressStore(), kv, 0, logger.Discard())
	_, err := cache.Update(ctx, "u1", addPoints(1))
	require.NoError(t, err)
	_, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "other", "x", 0))

	_, err = cache.ResetWeekly(ctx, time.Now())
	require.NoError(t, err)

	_, err = kv.Get(ctx, ProgressKey("u1"))
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = kv.Get(ctx, "other")
	assert.NoError(t, err)

	users, err := cache.ListActiveSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)
}

// ══════════════════════════════════════════════════════════════════════════════
// FEED
// ══════════════════════════════════════════════════════════════════════════════

func TestFeed(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	feed := NewFeed(kv, 2)
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	for _, days := range []int{3, 7, 14} {
		n, err := notification.StreakMilestone("u1", days, now)
		require.NoError(t, err)
		require.NoError(t, feed.Push(ctx, n))
	}
	kv.lists[FeedKey("u1")] = append(kv.lists[FeedKey("u1")], "{broken")

	items, err := feed.Recent(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "🔥 14 days in a row", items[0].Title)
	assert.Equal(t, notification.TypeStreakMilestone, items[1].Type)
	assert.Equal(t, TTLFeed, kv.ttls[FeedKey("u1")])

	items, err = feed.Recent(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = feed.Recent(ctx, "u2", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

// ══════════════════════════════════════════════════════════════════════════════
// REVOCATION
// ══════════════════════════════════════════════════════════════════════════════

func TestRevocationList(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	list := NewRevocationList(kv)
	list.now = func() time.Time { return now }

	require.NoError(t, list.Revoke(ctx, "t1", now.Add(time.Hour)))
	require.NoError(t, list.Revoke(ctx, "expired", now.Add(-time.Minute)))

	revoked, err := list.IsRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, time.Hour, kv.ttls[RevokedKey("t1")])

	revoked, err = list.IsRevoked(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, revoked)
}
