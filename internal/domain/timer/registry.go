package timer

import (
	"context"
	"errors"
	"sync"
)

// SessionCounter сообщает число уже завершённых помидоров пользователя,
// чтобы каждый 4-й помидор считался по всей истории, а не по одному таймеру.
type SessionCounter func(ctx context.Context, userID string) (int, error)

// Registry хранит по одному Runner на пользователя.
type Registry struct {
	sink     Sink
	cfg      RunnerConfig
	sessions SessionCounter

	mu      sync.Mutex
	runners map[string]*Runner
}

// NewRegistry создаёт реестр. sessions может быть nil.
func NewRegistry(sink Sink, cfg RunnerConfig, sessions SessionCounter) *Registry {
	return &Registry{
		sink:     sink,
		cfg:      cfg.normalized(),
		sessions: sessions,
		runners:  make(map[string]*Runner),
	}
}

// Get возвращает таймер пользователя, создавая его при первом обращении.
func (r *Registry) Get(ctx context.Context, userID string) (*Runner, error) {
	r.mu.Lock()
	if run, ok := r.runners[userID]; ok {
		r.mu.Unlock()
		return run, nil
	}
	r.mu.Unlock()

	machine := NewMachine(r.cfg.Settings)
	if r.sessions != nil {
		n, err := r.sessions(ctx, userID)
		if err != nil {
			return nil, err
		}
		machine = Restore(r.cfg.Settings, State{Mode: ModePomodoro, Sessions: n})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runners[userID]; ok {
		return run, nil
	}
	run := NewRunner(userID, machine, r.sink, r.cfg)
	r.runners[userID] = run
	return run, nil
}

// Lookup возвращает таймер без создания.
func (r *Registry) Lookup(userID string) (*Runner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runners[userID]
	return run, ok
}

// Remove закрывает и удаляет таймер пользователя.
func (r *Registry) Remove(ctx context.Context, userID string) error {
	r.mu.Lock()
	run, ok := r.runners[userID]
	delete(r.runners, userID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return run.Close(ctx)
}

// Len возвращает число таймеров.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runners)
}

// Close останавливает все таймеры, сбрасывая накопленное время.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	runners := r.runners
	r.runners = make(map[string]*Runner)
	r.mu.Unlock()

	var errs []error
	for _, run := range runners {
		if err := run.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
