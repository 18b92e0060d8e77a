package progress

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// POINTS (Начисление очков)
// ══════════════════════════════════════════════════════════════════════════════

// Стоимость действий в очках.
const (
	PointsTaskCompleted = 50
	PointsStudyHour     = 10
	PointsPomodoro      = 25
	PointsTaskStarted   = 10
)

// SecondsPerHour - длина учебного часа для начислений.
const SecondsPerHour = 3600

// AwardReason - причина начисления.
type AwardReason string

const (
	ReasonTaskCompleted AwardReason = "task_completed"
	ReasonTaskStarted   AwardReason = "task_started"
	ReasonStudyHour     AwardReason = "study_hour"
	ReasonPomodoro      AwardReason = "pomodoro_session"
)

// PointAward - одно начисление в журнале.
type PointAward struct {
	Key       string      `json:"key"`
	Reason    AwardReason `json:"reason"`
	Points    int         `json:"points"`
	AwardedAt time.Time   `json:"awarded_at"`
}

// Ключи идемпотентности.

func TaskCompletedKey(taskID string) string { return "task-completed:" + taskID }
func TaskStartedKey(taskID string) string   { return "task-started:" + taskID }
func StudyHourKey(hour int64) string        { return fmt.Sprintf("study-hour:%d", hour) }
func PomodoroKey(n int) string              { return fmt.Sprintf("pomodoro:%d", n) }

// TaskCompletedAward - +50 за задачу, один раз на задачу.
func TaskCompletedAward(taskID string, at time.Time) PointAward {
	return PointAward{Key: TaskCompletedKey(taskID), Reason: ReasonTaskCompleted, Points: PointsTaskCompleted, AwardedAt: at}
}

// TaskStartedAward - +10 за перевод задачи из pending в in-progress.
func TaskStartedAward(taskID string, at time.Time) PointAward {
	return PointAward{Key: TaskStartedKey(taskID), Reason: ReasonTaskStarted, Points: PointsTaskStarted, AwardedAt: at}
}

// SessionAward - +25 за n-й завершённый помидор.
func SessionAward(n int, at time.Time) PointAward {
	return PointAward{Key: PomodoroKey(n), Reason: ReasonPomodoro, Points: PointsPomodoro, AwardedAt: at}
}

// StudyHourAwards возвращает начисления за каждый целый час, пересечённый
// накопленным временем при переходе от before к after секундам.
func StudyHourAwards(before, after int64, at time.Time) []PointAward {
	if after <= before {
		return nil
	}
	from := before/SecondsPerHour + 1
	to := after / SecondsPerHour

	var out []PointAward
	for h := from; h <= to; h++ {
		out = append(out, PointAward{
			Key:       StudyHourKey(h),
			Reason:    ReasonStudyHour,
			Points:    PointsStudyHour,
			AwardedAt: at,
		})
	}
	return out
}

// ActivityCounters - счётчики, из которых выводится сумма очков.
type ActivityCounters struct {
	CompletedTasks int
	StartedTasks   int
	StudySeconds   int64
	Sessions       int
}

// Accrual - чистое отображение счётчиков в очки. Используется для сверки и
// отображения; журнал Awards остаётся источником истины.
func Accrual(c ActivityCounters) int {
	return c.CompletedTasks*PointsTaskCompleted +
		c.StartedTasks*PointsTaskStarted +
		int(c.StudySeconds/SecondsPerHour)*PointsStudyHour +
		c.Sessions*PointsPomodoro
}

// SumAwards возвращает сумму журнала.
func SumAwards(awards map[string]PointAward) int {
	total := 0
	for _, a := range awards {
		total += a.Points
	}
	return total
}
