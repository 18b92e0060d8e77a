package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink принимает результаты работы таймера.
type Sink interface {
	// RecordStudy сохраняет накопленные секунды учёбы по предмету.
	RecordStudy(ctx context.Context, userID, subject string, seconds int64, at time.Time) error

	// CompleteSession засчитывает завершённый помидор.
	CompleteSession(ctx context.Context, userID, subject string, at time.Time) error
}

// RunnerConfig - настройки исполнителя.
type RunnerConfig struct {
	Settings      Settings
	TickInterval  time.Duration // 1s
	FlushInterval time.Duration // 60s
	FlushTimeout  time.Duration // таймаут одной записи в Sink
	Clock         func() time.Time
	Logger        *slog.Logger

	// OnChange вызывается после каждого изменения состояния (вне блокировки).
	OnChange func(State)
}

// DefaultRunnerConfig возвращает конфигурацию по умолчанию.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Settings:      DefaultSettings(),
		TickInterval:  time.Second,
		FlushInterval: time.Minute,
		FlushTimeout:  5 * time.Second,
		Clock:         time.Now,
		Logger:        slog.Default(),
	}
}

func (c RunnerConfig) normalized() RunnerConfig {
	d := DefaultRunnerConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// Runner ведёт Machine одного пользователя по тикеру.
//
// Секунды учёбы копятся в памяти и сбрасываются в Sink при каждой остановке
// (пауза, сброс, смена режима, завершение), раз в FlushInterval пока таймер
// идёт и при Close.
type Runner struct {
	userID string
	sink   Sink
	cfg    RunnerConfig
	logger *slog.Logger

	mu      sync.Mutex
	machine *Machine
	pending map[string]int64
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

// NewRunner создаёт исполнителя поверх machine (nil - новый таймер).
func NewRunner(userID string, machine *Machine, sink Sink, cfg RunnerConfig) *Runner {
	cfg = cfg.normalized()
	if machine == nil {
		machine = NewMachine(cfg.Settings)
	}
	return &Runner{
		userID:  userID,
		sink:    sink,
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("component", "timer"), slog.String("user_id", userID)),
		machine: machine,
		pending: make(map[string]int64),
	}
}

// State возвращает текущее состояние.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine.State()
}

// SelectSubject выбирает предмет.
func (r *Runner) SelectSubject(subject string) (State, error) {
	r.mu.Lock()
	err := r.machine.SelectSubject(subject)
	st := r.machine.State()
	r.mu.Unlock()

	if err == nil {
		r.notify(st)
	}
	return st, err
}

// Start запускает таймер и горутину тиков.
func (r *Runner) Start() (State, error) {
	r.mu.Lock()
	if r.closed {
		st := r.machine.State()
		r.mu.Unlock()
		return st, ErrClosed
	}
	if r.cancel != nil {
		st := r.machine.State()
		r.mu.Unlock()
		return st, nil
	}
	if err := r.machine.Start(); err != nil {
		st := r.machine.State()
		r.mu.Unlock()
		return st, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	st := r.machine.State()
	r.mu.Unlock()

	go r.loop(ctx, done)
	r.notify(st)
	return st, nil
}

// Pause ставит таймер на паузу и сбрасывает накопленное время.
func (r *Runner) Pause(ctx context.Context) (State, error) {
	return r.stopWith(ctx, func(m *Machine) error {
		m.Pause()
		return nil
	})
}

// Reset сбрасывает таймер.
func (r *Runner) Reset(ctx context.Context) (State, error) {
	return r.stopWith(ctx, func(m *Machine) error {
		m.Reset()
		return nil
	})
}

// SwitchMode переключает режим.
func (r *Runner) SwitchMode(ctx context.Context, mode Mode) (State, error) {
	if !mode.IsValid() {
		return r.State(), ErrInvalidMode
	}
	return r.stopWith(ctx, func(m *Machine) error {
		return m.SwitchMode(mode)
	})
}

// Close останавливает горутину и сбрасывает накопленное время. Повторный вызов безопасен.
func (r *Runner) Close(ctx context.Context) error {
	_, err := r.stopWith(ctx, func(m *Machine) error {
		m.Pause()
		return nil
	})

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return err
}

// stopWith останавливает горутину, применяет действие и сбрасывает буфер.
func (r *Runner) stopWith(ctx context.Context, action func(m *Machine) error) (State, error) {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	if cancel != nil {
		cancel()
	}
	r.mu.Unlock()

	if done != nil {
		<-done
	}

	r.mu.Lock()
	err := action(r.machine)
	st := r.machine.State()
	r.mu.Unlock()

	flushErr := r.flush(ctx)
	r.notify(st)

	if err != nil {
		return st, err
	}
	return st, flushErr
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()
	flushTicker := time.NewTicker(r.cfg.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-flushTicker.C:
			if err := r.flush(ctx); err != nil {
				r.logger.Warn("periodic flush failed", slog.String("error", err.Error()))
			}

		case <-ticker.C:
			r.mu.Lock()
			if ctx.Err() != nil {
				r.mu.Unlock()
				return
			}
			res := r.machine.Tick()
			if res.StudySecond {
				r.pending[res.Subject]++
			}
			st := r.machine.State()
			if res.Completed != nil && r.cancel != nil {
				r.cancel()
				r.cancel, r.done = nil, nil
			}
			r.mu.Unlock()

			r.notify(st)

			if res.Completed != nil {
				r.finish(res.Completed)
				return
			}
		}
	}
}

// finish сбрасывает буфер и засчитывает помидор после дохода до нуля.
func (r *Runner) finish(c *Completion) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FlushTimeout)
	defer cancel()

	if err := r.flush(ctx); err != nil {
		r.logger.Error("flush on completion failed", slog.String("error", err.Error()))
	}

	if c.Mode != ModePomodoro || r.sink == nil {
		return
	}
	if err := r.sink.CompleteSession(ctx, r.userID, c.Subject, r.cfg.Clock()); err != nil {
		r.logger.Error("failed to record completed session",
			slog.String("subject", c.Subject),
			slog.Int("session", c.SessionNumber),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Info("pomodoro completed",
		slog.String("subject", c.Subject),
		slog.Int("session", c.SessionNumber),
		slog.String("next_mode", string(c.Next)),
	)
}

// flush передаёт накопленные секунды в Sink. При ошибке секунды возвращаются в буфер.
func (r *Runner) flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.pending
	r.pending = make(map[string]int64)
	r.mu.Unlock()

	if r.sink == nil {
		return nil
	}

	// Тик может отменить ctx петли, но начатую запись доводим до конца.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.FlushTimeout)
	defer cancel()

	now := r.cfg.Clock()
	var firstErr error
	for subject, seconds := range batch {
		if err := r.sink.RecordStudy(writeCtx, r.userID, subject, seconds, now); err != nil {
			r.mu.Lock()
			r.pending[subject] += seconds
			r.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Pending возвращает ещё не сброшенные секунды.
func (r *Runner) Pending() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, s := range r.pending {
		total += s
	}
	return total
}

func (r *Runner) notify(st State) {
	if r.cfg.OnChange != nil {
		r.cfg.OnChange(st)
	}
}
