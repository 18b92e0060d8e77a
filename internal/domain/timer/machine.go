// Package timer содержит конечный автомат Pomodoro-таймера и его исполнителя.
//
// Machine - чистый автомат без времени и горутин: каждое действие и каждый
// тик меняют состояние детерминированно. Runner ведёт Machine по тикеру
// в одной горутине и сбрасывает накопленное время учёбы в Sink.
package timer

import (
	"errors"
	"strings"
	"time"

	"github.com/studyhub/study-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrSubjectRequired - помидор нельзя запустить без предмета.
	ErrSubjectRequired = errors.New("timer: select a subject before starting a pomodoro session")

	// ErrInvalidMode - неизвестный режим.
	ErrInvalidMode = errors.New("timer: invalid mode")

	// ErrRunning - действие запрещено, пока таймер идёт.
	ErrRunning = errors.New("timer: timer is running")

	// ErrClosed - исполнитель таймера уже закрыт.
	ErrClosed = errors.New("timer: runner closed")
)

// ══════════════════════════════════════════════════════════════════════════════
// MODES
// ══════════════════════════════════════════════════════════════════════════════

// Mode - режим таймера.
type Mode string

const (
	ModePomodoro   Mode = "pomodoro"
	ModeShortBreak Mode = "short-break"
	ModeLongBreak  Mode = "long-break"
)

// IsValid проверяет режим.
func (m Mode) IsValid() bool {
	switch m {
	case ModePomodoro, ModeShortBreak, ModeLongBreak:
		return true
	}
	return false
}

// IsBreak сообщает, что режим - перерыв.
func (m Mode) IsBreak() bool {
	return m == ModeShortBreak || m == ModeLongBreak
}

// Settings - длительности режимов.
type Settings struct {
	Pomodoro       time.Duration
	ShortBreak     time.Duration
	LongBreak      time.Duration
	LongBreakEvery int // каждый N-й помидор ведёт к длинному перерыву
}

// DefaultSettings возвращает 25/5/15 минут, длинный перерыв после каждого 4-го помидора.
func DefaultSettings() Settings {
	return Settings{
		Pomodoro:       25 * time.Minute,
		ShortBreak:     5 * time.Minute,
		LongBreak:      15 * time.Minute,
		LongBreakEvery: 4,
	}
}

// Seconds возвращает длительность режима в секундах.
func (s Settings) Seconds(m Mode) int {
	switch m {
	case ModeShortBreak:
		return int(s.ShortBreak / time.Second)
	case ModeLongBreak:
		return int(s.LongBreak / time.Second)
	default:
		return int(s.Pomodoro / time.Second)
	}
}

func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if s.Pomodoro < time.Second {
		s.Pomodoro = d.Pomodoro
	}
	if s.ShortBreak < time.Second {
		s.ShortBreak = d.ShortBreak
	}
	if s.LongBreak < time.Second {
		s.LongBreak = d.LongBreak
	}
	if s.LongBreakEvery <= 0 {
		s.LongBreakEvery = d.LongBreakEvery
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// State - снимок таймера.
type State struct {
	Mode      Mode   `json:"mode"`
	Remaining int    `json:"remaining_seconds"`
	Running   bool   `json:"running"`
	Subject   string `json:"subject"`
	Sessions  int    `json:"sessions"` // завершённые помидоры этого таймера
}

// Display возвращает оставшееся время в формате MM:SS.
func (s State) Display() string {
	return timeutil.FormatClock(s.Remaining)
}

// Completion - результат дохода таймера до нуля.
type Completion struct {
	Mode          Mode   // завершённый режим
	Next          Mode   // режим, в который перешёл таймер
	Subject       string // предмет завершённого помидора
	SessionNumber int    // номер помидора, 0 для перерыва
}

// TickResult - итог одного тика.
type TickResult struct {
	// StudySecond - тик засчитан как секунда учёбы по Subject.
	StudySecond bool
	Subject     string

	// Completed не nil, если таймер дошёл до нуля на этом тике.
	Completed *Completion
}

// Machine - автомат таймера. Не потокобезопасен.
type Machine struct {
	settings Settings
	state    State
}

// NewMachine создаёт таймер в режиме помидора.
func NewMachine(settings Settings) *Machine {
	settings = settings.normalized()
	return &Machine{
		settings: settings,
		state: State{
			Mode:      ModePomodoro,
			Remaining: settings.Seconds(ModePomodoro),
		},
	}
}

// Restore восстанавливает автомат из снимка; таймер всегда остановлен.
func Restore(settings Settings, st State) *Machine {
	m := NewMachine(settings)
	if st.Mode.IsValid() {
		m.state.Mode = st.Mode
	}
	m.state.Remaining = m.settings.Seconds(m.state.Mode)
	if st.Remaining > 0 && st.Remaining <= m.state.Remaining {
		m.state.Remaining = st.Remaining
	}
	m.state.Subject = st.Subject
	m.state.Sessions = st.Sessions
	return m
}

// State возвращает копию состояния.
func (m *Machine) State() State { return m.state }

// Settings возвращает длительности.
func (m *Machine) Settings() Settings { return m.settings }

// SelectSubject выбирает предмет. Пока таймер идёт, предмет менять нельзя.
func (m *Machine) SelectSubject(subject string) error {
	if m.state.Running {
		return ErrRunning
	}
	m.state.Subject = strings.TrimSpace(subject)
	return nil
}

// Start запускает таймер. Помидор без предмета не запускается, состояние не меняется.
func (m *Machine) Start() error {
	if m.state.Mode == ModePomodoro && m.state.Subject == "" {
		return ErrSubjectRequired
	}
	if m.state.Remaining <= 0 {
		m.state.Remaining = m.settings.Seconds(m.state.Mode)
	}
	m.state.Running = true
	return nil
}

// Pause останавливает таймер без сброса времени. Возвращает true, если таймер шёл.
func (m *Machine) Pause() bool {
	was := m.state.Running
	m.state.Running = false
	return was
}

// Reset останавливает таймер и восстанавливает полную длительность режима.
func (m *Machine) Reset() {
	m.state.Running = false
	m.state.Remaining = m.settings.Seconds(m.state.Mode)
}

// SwitchMode переключает режим: таймер останавливается, время сбрасывается,
// при уходе из помидора предмет очищается.
func (m *Machine) SwitchMode(mode Mode) error {
	if !mode.IsValid() {
		return ErrInvalidMode
	}
	m.state.Mode = mode
	m.state.Running = false
	m.state.Remaining = m.settings.Seconds(mode)
	if mode != ModePomodoro {
		m.state.Subject = ""
	}
	return nil
}

// Tick продвигает таймер на одну секунду. На остановленном таймере ничего не делает.
func (m *Machine) Tick() TickResult {
	if !m.state.Running || m.state.Remaining <= 0 {
		return TickResult{}
	}

	var res TickResult
	m.state.Remaining--
	if m.state.Mode == ModePomodoro {
		res.StudySecond = true
		res.Subject = m.state.Subject
	}

	if m.state.Remaining == 0 {
		res.Completed = m.complete()
	}
	return res
}

func (m *Machine) complete() *Completion {
	c := &Completion{Mode: m.state.Mode, Subject: m.state.Subject}
	m.state.Running = false

	if m.state.Mode == ModePomodoro {
		m.state.Sessions++
		c.SessionNumber = m.state.Sessions
		if m.state.Sessions%m.settings.LongBreakEvery == 0 {
			c.Next = ModeLongBreak
		} else {
			c.Next = ModeShortBreak
		}
	} else {
		c.Next = ModePomodoro
	}

	m.state.Mode = c.Next
	m.state.Remaining = m.settings.Seconds(c.Next)
	return c
}
