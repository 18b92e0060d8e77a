// Package messaging implements the event bus for Study Hub.
// The in-memory bus serves a single instance; the Redis bus fans events out
// to every instance so progress streams stay live behind a load balancer.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/studyhub/study-hub/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// BusMetrics holds the prometheus collectors for the bus.
type BusMetrics struct {
	published *prometheus.CounterVec
	handled   *prometheus.HistogramVec
	failed    *prometheus.CounterVec
}

// NewBusMetrics registers bus collectors with reg. A nil reg leaves them unregistered.
func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyhub",
			Subsystem: "eventbus",
			Name:      "published_total",
			Help:      "Events published by type.",
		}, []string{"event_type"}),
		handled: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studyhub",
			Subsystem: "eventbus",
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time by event type.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"event_type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyhub",
			Subsystem: "eventbus",
			Name:      "handler_failures_total",
			Help:      "Handler errors by event type.",
		}, []string{"event_type"}),
	}
	if reg != nil {
		reg.MustRegister(m.published, m.handled, m.failed)
	}
	return m
}

func (m *BusMetrics) observe(t shared.EventType, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.handled.WithLabelValues(string(t)).Observe(d.Seconds())
	if err != nil {
		m.failed.WithLabelValues(string(t)).Inc()
	}
}

func (m *BusMetrics) publish(t shared.EventType) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(string(t)).Inc()
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

type subscription struct {
	id      uint64
	handler shared.EventHandler
}

// InMemoryEventBus delivers events to handlers registered in this process.
type InMemoryEventBus struct {
	mu         sync.RWMutex
	byType     map[shared.EventType][]subscription
	all        []subscription
	nextID     uint64
	async      bool
	workerPool chan struct{}
	logger     *slog.Logger
	metrics    *BusMetrics
	closed     bool
	closeCh    chan struct{}
	wg         sync.WaitGroup
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on a bounded worker pool instead of the publisher's goroutine.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent async handlers.
	WorkerPoolSize int

	Logger  *slog.Logger
	Metrics *BusMetrics
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 16,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 16
	}

	return &InMemoryEventBus{
		byType:     make(map[shared.EventType][]subscription),
		async:      config.AsyncMode,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		logger:     config.Logger.With("component", "eventbus"),
		metrics:    config.Metrics,
		closeCh:    make(chan struct{}),
	}
}

// Subscribe registers a handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) (shared.Unsubscribe, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrEventBusClosed
	}

	b.nextID++
	id := b.nextID
	b.byType[eventType] = append(b.byType[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byType[eventType] = without(b.byType[eventType], id)
		if len(b.byType[eventType]) == 0 {
			delete(b.byType, eventType)
		}
	}, nil
}

// SubscribeAll registers a handler for every event.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) (shared.Unsubscribe, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrEventBusClosed
	}

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, id)
	}, nil
}

func without(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers the event to matching handlers. Handler errors are logged,
// never returned to the publisher.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.byType[event.EventType()])+len(b.all))
	for _, s := range b.byType[event.EventType()] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.all {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	b.metrics.publish(event.EventType())

	for _, h := range handlers {
		if b.async {
			b.executeAsync(event, h)
			continue
		}
		if err := b.execute(event, h); err != nil {
			b.logger.Error("handler error", "event_type", event.EventType(), "error", err)
		}
	}
	return nil
}

func (b *InMemoryEventBus) executeAsync(event shared.Event, handler shared.EventHandler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		select {
		case b.workerPool <- struct{}{}:
			defer func() { <-b.workerPool }()
		case <-b.closeCh:
			return
		}

		if err := b.execute(event, handler); err != nil {
			b.logger.Error("async handler error", "event_type", event.EventType(), "error", err)
		}
	}()
}

func (b *InMemoryEventBus) execute(event shared.Event, handler shared.EventHandler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
		b.metrics.observe(event.EventType(), time.Since(start), err)
	}()
	return handler(event)
}

// Close stops accepting events and waits for in-flight handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisClient is the pub/sub subset of a Redis client.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one message received from a channel.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to "studyhub:events".
	ChannelName string

	// InstanceID filters out this instance's own messages. Generated when empty.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus publishes locally and to a Redis channel, and replays events
// from other instances into its local handlers.
type RedisEventBus struct {
	client     RedisClient
	local      *InMemoryEventBus
	channel    string
	instanceID string
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
}

// NewRedisEventBus creates the bus and starts the subscription loop.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.ChannelName == "" {
		config.ChannelName = "studyhub:events"
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisEventBus{
		client:     config.Client,
		local:      NewInMemoryEventBus(config.LocalBusConfig),
		channel:    config.ChannelName,
		instanceID: config.InstanceID,
		logger:     config.Logger.With("component", "redis_eventbus"),
		ctx:        ctx,
		cancel:     cancel,
	}

	messages, err := b.client.Subscribe(ctx, b.channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.listen(messages)
	}()

	return b, nil
}

// Subscribe registers a local handler.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) (shared.Unsubscribe, error) {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers a local handler for every event.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) (shared.Unsubscribe, error) {
	return b.local.SubscribeAll(handler)
}

// Publish sends the event to Redis and to local handlers. A Redis failure is
// logged and local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(eventEnvelope{
		InstanceID:  b.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.logger.Error("failed to publish to redis", "event_type", event.EventType(), "error", err)
	}
	return b.local.Publish(event)
}

func (b *RedisEventBus) listen(messages <-chan RedisMessage) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.logger.Error("redis subscription error", "error", msg.Err)
				continue
			}
			b.replay(msg.Payload)
		}
	}
}

func (b *RedisEventBus) replay(payload string) {
	var env eventEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error("failed to unmarshal event", "error", err)
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	if err := b.local.Publish(&RemoteEvent{
		Type:      env.EventType,
		Aggregate: env.AggregateID,
		At:        env.OccurredAt,
		Data:      env.Payload,
	}); err != nil {
		b.logger.Error("failed to process remote event", "error", err)
	}
}

// Close stops the listener and the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.local.Close()
}

type eventEnvelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// RemoteEvent is an event received from another instance. Only the envelope
// fields survive the trip; handlers read details from Payload.
type RemoteEvent struct {
	Type      shared.EventType
	Aggregate string
	At        time.Time
	Data      map[string]interface{}
}

func (e *RemoteEvent) EventType() shared.EventType      { return e.Type }
func (e *RemoteEvent) AggregateID() string              { return e.Aggregate }
func (e *RemoteEvent) OccurredAt() time.Time            { return e.At }
func (e *RemoteEvent) Payload() map[string]interface{} { return e.Data }
