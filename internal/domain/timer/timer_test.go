package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_StartRequiresSubject(t *testing.T) {
	m := NewMachine(DefaultSettings())
	before := m.State()

	assert.ErrorIs(t, m.Start(), ErrSubjectRequired)
	assert.Equal(t, before, m.State())

	require.NoError(t, m.SelectSubject(" Physics "))
	require.NoError(t, m.Start())
	assert.True(t, m.State().Running)
	assert.Equal(t, "Physics", m.State().Subject)

	assert.ErrorIs(t, m.SelectSubject("Chemistry"), ErrRunning)
}

func TestMachine_BreakStartsWithoutSubject(t *testing.T) {
	m := NewMachine(DefaultSettings())
	require.NoError(t, m.SwitchMode(ModeShortBreak))
	require.NoError(t, m.Start())
	assert.Equal(t, 300, m.State().Remaining)
}

func TestMachine_FullPomodoro(t *testing.T) {
	m := NewMachine(DefaultSettings())
	require.NoError(t, m.SelectSubject("Mathematics"))
	require.NoError(t, m.Start())

	var studied int
	var completion *Completion
	for i := 0; i < 1500; i++ {
		res := m.Tick()
		if res.StudySecond {
			assert.Equal(t, "Mathematics", res.Subject)
			studied++
		}
		if res.Completed != nil {
			completion = res.Completed
		}
	}

	assert.Equal(t, 1500, studied)
	require.NotNil(t, completion)
	assert.Equal(t, 1, completion.SessionNumber)
	assert.Equal(t, ModeShortBreak, completion.Next)

	st := m.State()
	assert.False(t, st.Running)
	assert.Equal(t, ModeShortBreak, st.Mode)
	assert.Equal(t, 300, st.Remaining)
	assert.Equal(t, 1, st.Sessions)

	assert.Equal(t, TickResult{}, m.Tick(), "stopped timer must not tick")
}

func TestMachine_EveryFourthSessionIsLongBreak(t *testing.T) {
	s := Settings{Pomodoro: 2 * time.Second, ShortBreak: time.Second, LongBreak: 3 * time.Second, LongBreakEvery: 4}
	m := NewMachine(s)
	require.NoError(t, m.SelectSubject("History"))

	var nexts []Mode
	for len(nexts) < 4 {
		require.NoError(t, m.Start())
		for {
			res := m.Tick()
			if res.Completed != nil {
				if res.Completed.Mode == ModePomodoro {
					nexts = append(nexts, res.Completed.Next)
				} else {
					assert.Equal(t, ModePomodoro, res.Completed.Next)
				}
				break
			}
		}
	}

	assert.Equal(t, []Mode{ModeShortBreak, ModeShortBreak, ModeShortBreak, ModeLongBreak}, nexts)
}

func TestMachine_BreakTicksAreNotStudy(t *testing.T) {
	m := NewMachine(DefaultSettings())
	require.NoError(t, m.SwitchMode(ModeLongBreak))
	require.NoError(t, m.Start())
	assert.False(t, m.Tick().StudySecond)
}

func TestMachine_SwitchModeClearsSubject(t *testing.T) {
	m := NewMachine(DefaultSettings())
	require.NoError(t, m.SelectSubject("Biology"))
	require.NoError(t, m.Start())
	m.Tick()

	require.NoError(t, m.SwitchMode(ModeShortBreak))
	st := m.State()
	assert.False(t, st.Running)
	assert.Empty(t, st.Subject)
	assert.Equal(t, 300, st.Remaining)

	assert.ErrorIs(t, m.SwitchMode("nap"), ErrInvalidMode)
}

func TestMachine_PauseAndReset(t *testing.T) {
	m := NewMachine(DefaultSettings())
	require.NoError(t, m.SelectSubject("English"))
	require.NoError(t, m.Start())
	m.Tick()
	m.Tick()

	assert.True(t, m.Pause())
	assert.False(t, m.Pause())
	assert.Equal(t, 1498, m.State().Remaining)
	assert.Equal(t, "24:58", m.State().Display())

	m.Reset()
	assert.Equal(t, 1500, m.State().Remaining)
	assert.Equal(t, "English", m.State().Subject)
}

func TestRestore(t *testing.T) {
	m := Restore(DefaultSettings(), State{Mode: ModePomodoro, Sessions: 3, Subject: "Physics", Running: true, Remaining: 99999})
	st := m.State()
	assert.False(t, st.Running)
	assert.Equal(t, 1500, st.Remaining)

	require.NoError(t, m.Start())
	var c *Completion
	for c == nil {
		c = m.Tick().Completed
	}
	assert.Equal(t, 4, c.SessionNumber)
	assert.Equal(t, ModeLongBreak, c.Next)
}

// ─────────────────────────────────────────────────────────────────────────────
// Runner
// ─────────────────────────────────────────────────────────────────────────────

type fakeSink struct {
	mu        sync.Mutex
	seconds   map[string]int64
	flushes   int
	sessions  []string
	failStudy error
}

func newFakeSink() *fakeSink {
	return &fakeSink{seconds: make(map[string]int64)}
}

func (s *fakeSink) RecordStudy(_ context.Context, _, subject string, seconds int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStudy != nil {
		return s.failStudy
	}
	s.seconds[subject] += seconds
	s.flushes++
	return nil
}

func (s *fakeSink) CompleteSession(_ context.Context, _, subject string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, subject)
	return nil
}

func (s *fakeSink) total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, v := range s.seconds {
		n += v
	}
	return n
}

func (s *fakeSink) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func fastConfig(pomodoro time.Duration) RunnerConfig {
	return RunnerConfig{
		Settings:      Settings{Pomodoro: pomodoro, ShortBreak: time.Second, LongBreak: time.Second, LongBreakEvery: 4},
		TickInterval:  2 * time.Millisecond,
		FlushInterval: time.Hour,
	}
}

func TestRunner_CompletesSessionAndFlushes(t *testing.T) {
	sink := newFakeSink()
	r := NewRunner("u1", nil, sink, fastConfig(5*time.Second))

	_, err := r.SelectSubject("Mathematics")
	require.NoError(t, err)
	_, err = r.Start()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.sessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(5), sink.total())
	assert.Equal(t, int64(0), r.Pending())

	st := r.State()
	assert.False(t, st.Running)
	assert.Equal(t, ModeShortBreak, st.Mode)
	require.NoError(t, r.Close(context.Background()))
}

func TestRunner_PauseFlushesAndStopsTicking(t *testing.T) {
	sink := newFakeSink()
	r := NewRunner("u1", nil, sink, fastConfig(10*time.Minute))

	_, err := r.SelectSubject("Physics")
	require.NoError(t, err)
	_, err = r.Start()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Pending() >= 3 }, time.Second, 2*time.Millisecond)

	st, err := r.Pause(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, int64(0), r.Pending())

	flushed := sink.total()
	assert.Equal(t, int64(600-st.Remaining), flushed)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, flushed, sink.total())
	assert.Equal(t, st, r.State())
}

func TestRunner_StartWithoutSubject(t *testing.T) {
	r := NewRunner("u1", nil, newFakeSink(), fastConfig(time.Minute))
	_, err := r.Start()
	assert.ErrorIs(t, err, ErrSubjectRequired)
	assert.False(t, r.State().Running)
}

func TestRunner_FailedFlushKeepsSeconds(t *testing.T) {
	sink := newFakeSink()
	sink.failStudy = errors.New("store down")
	r := NewRunner("u1", nil, sink, fastConfig(10*time.Minute))

	_, _ = r.SelectSubject("Physics")
	_, err := r.Start()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Pending() >= 2 }, time.Second, 2*time.Millisecond)

	_, err = r.Pause(context.Background())
	assert.Error(t, err)
	kept := r.Pending()
	assert.Positive(t, kept)

	sink.mu.Lock()
	sink.failStudy = nil
	sink.mu.Unlock()

	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, kept, sink.total())

	_, err = r.Start()
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, r.Close(context.Background()))
}

func TestRunner_SwitchModeStopsAndClearsSubject(t *testing.T) {
	sink := newFakeSink()
	r := NewRunner("u1", nil, sink, fastConfig(10*time.Minute))
	_, _ = r.SelectSubject("Physics")
	_, err := r.Start()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Pending() >= 1 }, time.Second, 2*time.Millisecond)

	st, err := r.SwitchMode(context.Background(), ModeShortBreak)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Empty(t, st.Subject)
	assert.Positive(t, sink.total())
}

func TestRegistry(t *testing.T) {
	sink := newFakeSink()
	reg := NewRegistry(sink, fastConfig(time.Minute), func(context.Context, string) (int, error) {
		return 7, nil
	})

	a, err := reg.Get(context.Background(), "u1")
	require.NoError(t, err)
	b, err := reg.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 7, a.State().Sessions)

	_, ok := reg.Lookup("u2")
	assert.False(t, ok)

	require.NoError(t, reg.Remove(context.Background(), "u1"))
	assert.Equal(t, 0, reg.Len())

	_, err = reg.Get(context.Background(), "u3")
	require.NoError(t, err)
	require.NoError(t, reg.Close(context.Background()))
	assert.Equal(t, 0, reg.Len())
}
