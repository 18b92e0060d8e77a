package progress

import (
	"time"

	"github.com/studyhub/study-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK (Серия дней учёбы)
// ══════════════════════════════════════════════════════════════════════════════

// Streak - состояние серии активных дней.
type Streak struct {
	// Current - текущая серия дней.
	Current int `json:"current"`

	// Longest - лучшая серия за всё время.
	Longest int `json:"longest"`

	// LastStudyDate - начало дня последней учёбы, nil если учёбы ещё не было.
	LastStudyDate *time.Time `json:"last_study_date"`
}

// StreakStatus описывает серию относительно сегодняшнего дня.
type StreakStatus string

const (
	StreakNone   StreakStatus = "none"    // учёбы ещё не было
	StreakActive StreakStatus = "active"  // сегодня уже учился
	StreakAtRisk StreakStatus = "at-risk" // последний раз вчера, сегодня ещё нет
	StreakBroken StreakStatus = "broken"  // пропущен хотя бы один день
)

// ActiveToday - была ли сегодня учебная активность.
func ActiveToday(studySecondsToday int64, sessionsToday int) bool {
	return studySecondsToday > 0 || sessionsToday > 0
}

// EvaluateStreak возвращает новое состояние серии. Функция чистая.
//
//   - нет активности сегодня → без изменений;
//   - последний день учёбы сегодня → без изменений;
//   - последний день учёбы вчера → Current+1;
//   - иначе (включая nil) → Current = 1.
func EvaluateStreak(s Streak, activeToday bool, today time.Time) Streak {
	if !activeToday {
		return s
	}

	day := timeutil.StartOfDay(today)
	next := s

	switch {
	case s.LastStudyDate == nil:
		next.Current = 1
	default:
		switch timeutil.DaysBetween(*s.LastStudyDate, day) {
		case 0:
			return s
		case 1:
			next.Current = s.Current + 1
		default:
			next.Current = 1
		}
	}

	if next.Current > next.Longest {
		next.Longest = next.Current
	}
	next.LastStudyDate = &day
	return next
}

// Status сообщает состояние серии на дату today, не изменяя её.
func (s Streak) Status(today time.Time) StreakStatus {
	if s.LastStudyDate == nil || s.Current == 0 {
		return StreakNone
	}
	switch days := timeutil.DaysBetween(*s.LastStudyDate, today); {
	case days <= 0:
		return StreakActive
	case days == 1:
		return StreakAtRisk
	default:
		return StreakBroken
	}
}

// Effective - серия для отображения: сломанная серия показывается как 0.
func (s Streak) Effective(today time.Time) int {
	if s.Status(today) == StreakBroken {
		return 0
	}
	return s.Current
}
