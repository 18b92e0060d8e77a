package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// Routes bus events to named application handlers with middleware, retries
// and a bounded dead letter queue.
// ══════════════════════════════════════════════════════════════════════════════

// Registration describes one named handler.
type Registration struct {
	Name    string
	Handler shared.EventHandler

	// MaxAttempts overrides the dispatcher policy when > 0.
	MaxAttempts int
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	Bus          shared.EventBus
	Retry        retry.Policy
	DeadLetters  int
	Logger       *slog.Logger
	HandlerLimit time.Duration
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig(bus shared.EventBus) DispatcherConfig {
	return DispatcherConfig{
		Bus: bus,
		Retry: retry.NewPolicy(
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(50*time.Millisecond),
			retry.WithMaxDelay(time.Second),
			retry.WithShouldRetry(shared.IsRetryable),
		),
		DeadLetters:  500,
		HandlerLimit: 10 * time.Second,
	}
}

// Dispatcher fans events out to registrations.
type Dispatcher struct {
	bus         shared.EventBus
	policy      retry.Policy
	limit       time.Duration
	logger      *slog.Logger
	deadLetters *DeadLetterQueue

	mu          sync.RWMutex
	handlers    map[shared.EventType][]Registration
	middlewares []Middleware
	unsubscribe shared.Unsubscribe

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = retry.DefaultPolicy()
	}
	if config.HandlerLimit <= 0 {
		config.HandlerLimit = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		bus:         config.Bus,
		policy:      config.Retry,
		limit:       config.HandlerLimit,
		logger:      config.Logger.With("component", "dispatcher"),
		deadLetters: NewDeadLetterQueue(config.DeadLetters),
		handlers:    make(map[shared.EventType][]Registration),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register adds a named handler for eventType.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	return d.RegisterHandler(eventType, Registration{Name: name, Handler: handler})
}

// RegisterHandler adds reg for eventType.
func (d *Dispatcher) RegisterHandler(eventType shared.EventType, reg Registration) error {
	if reg.Handler == nil {
		return ErrNilHandler
	}
	if reg.Name == "" {
		return errors.New("handler name is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], reg)
	d.logger.Debug("registered handler", "event_type", eventType, "handler", reg.Name)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Middleware
// ─────────────────────────────────────────────────────────────────────────────

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// Use appends middleware. The first added runs outermost.
func (d *Dispatcher) Use(m Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, m)
}

// RecoveryMiddleware turns handler panics into errors.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic recovered",
						"event_type", event.EventType(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs failures at error and successes at debug.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			if err != nil {
				logger.Error("handler failed",
					"event_type", event.EventType(),
					"aggregate_id", event.AggregateID(),
					"duration", time.Since(start),
					"error", err,
				)
				return err
			}
			logger.Debug("handler completed",
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"duration", time.Since(start),
			)
			return nil
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Dispatching
// ─────────────────────────────────────────────────────────────────────────────

// Start subscribes the dispatcher to every bus event.
func (d *Dispatcher) Start() error {
	unsub, err := d.bus.SubscribeAll(d.Dispatch)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.unsubscribe = unsub
	d.mu.Unlock()
	return nil
}

// Dispatch runs every handler registered for the event type and joins their errors.
func (d *Dispatcher) Dispatch(event shared.Event) error {
	d.mu.RLock()
	regs := append([]Registration(nil), d.handlers[event.EventType()]...)
	middlewares := d.middlewares
	d.mu.RUnlock()

	var errs []error
	for _, reg := range regs {
		if err := d.execute(event, reg, middlewares); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) execute(event shared.Event, reg Registration, middlewares []Middleware) error {
	handler := reg.Handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}

	policy := d.policy
	if reg.MaxAttempts > 0 {
		policy.MaxAttempts = reg.MaxAttempts
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		d.logger.Warn("handler attempt failed",
			"handler", reg.Name,
			"attempt", attempt,
			"backoff", delay,
			"error", err,
		)
	}

	attempts := 0
	err := policy.Do(d.ctx, func(ctx context.Context) error {
		attempts++
		return d.runWithLimit(ctx, handler, event)
	})
	if err == nil {
		return nil
	}

	d.deadLetters.Add(DeadLetterEntry{
		Event:       event,
		HandlerName: reg.Name,
		Error:       err,
		Attempts:    attempts,
		FailedAt:    time.Now(),
	})
	return fmt.Errorf("handler %s failed after %d attempts: %w", reg.Name, attempts, err)
}

func (d *Dispatcher) runWithLimit(ctx context.Context, handler shared.EventHandler, event shared.Event) error {
	done := make(chan error, 1)
	go func() { done <- handler(event) }()

	timer := time.NewTimer(d.limit)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w: handler exceeded %v", shared.ErrTimeout, d.limit)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop unsubscribes from the bus and aborts pending retries.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
	d.mu.Unlock()
	d.cancel()
	d.logger.Info("dispatcher stopped")
}

// DeadLetterQueue returns failed deliveries.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetters
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is an event whose handler exhausted its attempts.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	Attempts    int
	FailedAt    time.Time
}

// DeadLetterQueue keeps the most recent failures up to maxSize.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a queue holding at most maxSize entries.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends entry, evicting the oldest when full.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of the queue.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetterEntry(nil), q.entries...)
}

// Size returns the number of entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
