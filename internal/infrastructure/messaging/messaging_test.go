package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/infrastructure/persistence/memory"
	"github.com/studyhub/study-hub/pkg/logger"
	"github.com/studyhub/study-hub/pkg/retry"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{Logger: logger.Discard()})
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY BUS
// ══════════════════════════════════════════════════════════════════════════════

func TestInMemoryEventBus_SubscribeUnsubscribe(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var typed, all int
	unsub, err := bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { typed++; return nil })
	require.NoError(t, err)
	_, err = bus.SubscribeAll(func(shared.Event) error { all++; return nil })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2)))
	require.NoError(t, bus.Publish(shared.NewTaskDeletedEvent("t1", "u1")))
	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, all)

	unsub()
	unsub()
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 2, 3)))
	assert.Equal(t, 1, typed)
	assert.Equal(t, 3, all)
}

func TestInMemoryEventBus_HandlerFailuresAreIsolated(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		Logger:  logger.Discard(),
		Metrics: NewBusMetrics(prometheus.NewRegistry()),
	})
	defer bus.Close()

	var reached bool
	_, _ = bus.SubscribeAll(func(shared.Event) error { panic("boom") })
	_, _ = bus.SubscribeAll(func(shared.Event) error { return errors.New("failed") })
	_, _ = bus.SubscribeAll(func(shared.Event) error { reached = true; return nil })

	assert.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2)))
	assert.True(t, reached)
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2)), ErrEventBusClosed)
	_, err := bus.SubscribeAll(func(shared.Event) error { return nil })
	assert.ErrorIs(t, err, ErrEventBusClosed)
	_, err = bus.Subscribe(shared.EventLevelUp, nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestInMemoryEventBus_Async(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: logger.Discard()})
	defer bus.Close()

	var n atomic.Int32
	_, err := bus.SubscribeAll(func(shared.Event) error { n.Add(1); return nil })
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", i, i+1)))
	}
	assert.Eventually(t, func() bool { return n.Load() == 10 }, time.Second, 5*time.Millisecond)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS BUS
// ══════════════════════════════════════════════════════════════════════════════

// loopbackRedis delivers every published message to every subscriber.
type loopbackRedis struct {
	mu   sync.Mutex
	subs []chan RedisMessage
	fail error
}

func (r *loopbackRedis) Publish(_ context.Context, channel string, message interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	for _, ch := range r.subs {
		ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (r *loopbackRedis) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	r.subs = append(r.subs, ch)
	return ch, nil
}

func (r *loopbackRedis) Close() error { return nil }

func TestRedisEventBus_FansOutToOtherInstances(t *testing.T) {
	redis := &loopbackRedis{}
	newBus := func(id string) *RedisEventBus {
		b, err := NewRedisEventBus(RedisEventBusConfig{
			Client:         redis,
			InstanceID:     id,
			LocalBusConfig: InMemoryEventBusConfig{Logger: logger.Discard()},
			Logger:         logger.Discard(),
		})
		require.NoError(t, err)
		return b
	}
	a, b := newBus("a"), newBus("b")
	defer a.Close()
	defer b.Close()

	var mu sync.Mutex
	var gotA, gotB []shared.Event
	_, _ = a.Subscribe(shared.EventLevelUp, func(e shared.Event) error { mu.Lock(); gotA = append(gotA, e); mu.Unlock(); return nil })
	_, _ = b.Subscribe(shared.EventLevelUp, func(e shared.Event) error { mu.Lock(); gotB = append(gotB, e); mu.Unlock(); return nil })

	require.NoError(t, a.Publish(shared.NewLevelUpEvent("u1", 1, 2)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotB) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, gotA, 1, "own messages are not replayed")
	remote := gotB[0]
	assert.Equal(t, "u1", remote.AggregateID())
	assert.EqualValues(t, 2, remote.Payload()["new_level"])
}

func TestRedisEventBus_RedisFailureStillDeliversLocally(t *testing.T) {
	redis := &loopbackRedis{fail: errors.New("redis down")}
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         redis,
		LocalBusConfig: InMemoryEventBusConfig{Logger: logger.Discard()},
		Logger:         logger.Discard(),
	})
	require.NoError(t, err)
	defer bus.Close()

	var got int
	_, _ = bus.SubscribeAll(func(shared.Event) error { got++; return nil })
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2)))
	assert.Equal(t, 1, got)
}

// ══════════════════════════════════════════════════════════════════════════════
// OBSERVABLE STORE
// ══════════════════════════════════════════════════════════════════════════════

func addPoints(t *testing.T, s *ObservableStore, userID string, n int) {
	t.Helper()
	_, err := s.Update(context.Background(), userID, func(p *progress.UserProgress) error {
		p.Points += n
		return nil
	})
	require.NoError(t, err)
}

func TestObservableStore_StreamsCommittedVersions(t *testing.T) {
	bus := syncBus()
	defer bus.Close()
	store := NewObservableStore(memory.NewProgressStore(), bus, logger.Discard())

	addPoints(t, store, "u1", 10)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := store.Subscribe(ctx, "u1")
	require.NoError(t, err)

	first := <-ch
	assert.EqualValues(t, 1, first.Version)
	assert.Equal(t, 10, first.Progress.Points)

	addPoints(t, store, "u2", 5)
	addPoints(t, store, "u1", 10)

	select {
	case c := <-ch:
		assert.Equal(t, "u1", c.UserID)
		assert.EqualValues(t, 2, c.Version)
		assert.Equal(t, 20, c.Progress.Points)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestObservableStore_SlowSubscriberSeesLatest(t *testing.T) {
	bus := syncBus()
	defer bus.Close()
	store := NewObservableStore(memory.NewProgressStore(), bus, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := store.Subscribe(ctx, "u1")
	require.NoError(t, err)

	const updates = 3 * SubscriptionBuffer
	for i := 0; i < updates; i++ {
		addPoints(t, store, "u1", 1)
	}

	var last int64
	deadline := time.After(2 * time.Second)
	for last < updates {
		select {
		case c := <-ch:
			assert.Greater(t, c.Version, last, "versions arrive in order")
			last = c.Version
		case <-deadline:
			t.Fatalf("latest version not delivered, last=%d", last)
		}
	}
	assert.EqualValues(t, updates, last)
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

func testDispatcher(bus shared.EventBus, limit time.Duration) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Bus: bus,
		Retry: retry.NewPolicy(
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(time.Millisecond),
			retry.WithMaxDelay(2*time.Millisecond),
			retry.WithShouldRetry(shared.IsRetryable),
		),
		DeadLetters:  10,
		HandlerLimit: limit,
		Logger:       logger.Discard(),
	})
}

func TestDispatcher_RetriesRetryableErrors(t *testing.T) {
	d := testDispatcher(syncBus(), time.Second)
	defer d.Stop()

	calls := 0
	require.NoError(t, d.Register(shared.EventLevelUp, "flaky", func(shared.Event) error {
		calls++
		if calls < 3 {
			return shared.NewDomainError("feed", "Push", shared.ErrServiceUnavailable, "")
		}
		return nil
	}))

	require.NoError(t, d.Dispatch(shared.NewLevelUpEvent("u1", 1, 2)))
	assert.Equal(t, 3, calls)
	assert.Zero(t, d.DeadLetterQueue().Size())
}

func TestDispatcher_PermanentFailureGoesToDeadLetters(t *testing.T) {
	d := testDispatcher(syncBus(), time.Second)
	defer d.Stop()
	d.Use(RecoveryMiddleware(logger.Discard()))
	d.Use(LoggingMiddleware(logger.Discard()))

	calls := 0
	require.NoError(t, d.Register(shared.EventLevelUp, "broken", func(shared.Event) error {
		calls++
		return errors.New("bad payload")
	}))
	require.NoError(t, d.Register(shared.EventLevelUp, "panics", func(shared.Event) error {
		panic("boom")
	}))

	err := d.Dispatch(shared.NewLevelUpEvent("u1", 1, 2))
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	entries := d.DeadLetterQueue().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "broken", entries[0].HandlerName)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.Equal(t, "panics", entries[1].HandlerName)
}

func TestDispatcher_HandlerTimeout(t *testing.T) {
	d := testDispatcher(syncBus(), 10*time.Millisecond)
	defer d.Stop()

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, d.RegisterHandler(shared.EventLevelUp, Registration{
		Name:        "slow",
		MaxAttempts: 1,
		Handler: func(shared.Event) error {
			<-release
			return nil
		},
	}))

	err := d.Dispatch(shared.NewLevelUpEvent("u1", 1, 2))
	assert.ErrorIs(t, err, shared.ErrTimeout)
}

func TestDispatcher_StartAndStop(t *testing.T) {
	bus := syncBus()
	defer bus.Close()
	d := testDispatcher(bus, time.Second)

	var calls int
	require.NoError(t, d.Register(shared.EventStreakUpdated, "streak", func(shared.Event) error { calls++; return nil }))
	require.NoError(t, d.Start())

	require.NoError(t, bus.Publish(shared.NewStreakUpdatedEvent("u1", 0, 1, 1)))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2)))
	assert.Equal(t, 1, calls)

	d.Stop()
	require.NoError(t, bus.Publish(shared.NewStreakUpdatedEvent("u1", 1, 2, 2)))
	assert.Equal(t, 1, calls)
}

func TestDispatcher_RejectsInvalidRegistration(t *testing.T) {
	d := testDispatcher(syncBus(), time.Second)
	defer d.Stop()

	assert.ErrorIs(t, d.Register(shared.EventLevelUp, "nil", nil), ErrNilHandler)
	assert.Error(t, d.Register(shared.EventLevelUp, "", func(shared.Event) error { return nil }))
}
