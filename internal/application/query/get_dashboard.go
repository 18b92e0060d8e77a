// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/task"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DASHBOARD QUERY
// Собирает всё, что показывает главный экран: очки и уровень, серию,
// разбивку по предметам, ближайшие задачи, историю за неделю и достижения.
// ══════════════════════════════════════════════════════════════════════════════

// Параметры дашборда по умолчанию.
const (
	DefaultUpcomingLimit = 3
	DefaultHistoryDays   = 7
)

// GetDashboardQuery содержит параметры запроса.
type GetDashboardQuery struct {
	UserID string

	// Now - момент, относительно которого считаются серия и история (пустой = сейчас).
	Now time.Time

	// HistoryDays - за сколько дней показывать историю (по умолчанию 7).
	HistoryDays int
}

// Validate проверяет параметры и подставляет значения по умолчанию.
func (q *GetDashboardQuery) Validate() error {
	if q.UserID == "" {
		return errors.New("user_id is required")
	}
	if q.Now.IsZero() {
		q.Now = timeutil.Now()
	}
	if q.HistoryDays <= 0 {
		q.HistoryDays = DefaultHistoryDays
	}
	if q.HistoryDays > 90 {
		q.HistoryDays = 90
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// DTO
// ─────────────────────────────────────────────────────────────────────────────

// DashboardDTO - данные главного экрана.
type DashboardDTO struct {
	UserID string `json:"user_id"`

	Points int                `json:"points"`
	Level  progress.LevelInfo `json:"level"`

	Streak StreakDTO `json:"streak"`

	Totals TotalsDTO `json:"totals"`

	// Subjects - предметы по убыванию времени учёбы.
	Subjects []SubjectShareDTO `json:"subjects"`

	// Upcoming - ближайшие незавершённые задачи по сроку.
	Upcoming []*task.Task `json:"upcoming_tasks"`

	// History - по одной записи на каждый из последних дней, включая пустые.
	History []HistoryDayDTO `json:"history"`

	WeeklyGoal WeeklyGoalDTO `json:"weekly_goal"`

	Achievements []AchievementDTO `json:"achievements"`
	EarnedCount  int              `json:"earned_count"`

	Version int64 `json:"version"`
}

// StreakDTO - серия с учётом сегодняшнего дня.
type StreakDTO struct {
	// Current - действующая серия (0, если серия прервана).
	Current int                   `json:"current"`
	Longest int                   `json:"longest"`
	Status  progress.StreakStatus `json:"status"`
	Last    string                `json:"last_study_date,omitempty"`
}

// TotalsDTO - накопленные счётчики.
type TotalsDTO struct {
	StudySeconds    int64  `json:"study_seconds"`
	StudyFormatted  string `json:"study_formatted"`
	Sessions        int    `json:"sessions"`
	TotalTasks      int    `json:"total_tasks"`
	CompletedTasks  int    `json:"completed_tasks"`
	InProgressTasks int    `json:"in_progress_tasks"`
}

// SubjectShareDTO - доля предмета в общем времени.
type SubjectShareDTO struct {
	Subject string  `json:"subject"`
	Seconds int64   `json:"seconds"`
	Percent float64 `json:"percent"`
}

// HistoryDayDTO - учёба за один день.
type HistoryDayDTO struct {
	Date     string   `json:"date"`
	Hours    float64  `json:"hours"`
	Subjects []string `json:"subjects"`
}

// WeeklyGoalDTO - недельная цель.
type WeeklyGoalDTO struct {
	GoalHours     float64 `json:"goal_hours"`
	ProgressHours float64 `json:"progress_hours"`
	Percent       float64 `json:"percent"`
}

// AchievementDTO - достижение (полученное или нет).
type AchievementDTO struct {
	ID          progress.AchievementID `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Icon        string                 `json:"icon"`
	Earned      bool                   `json:"earned"`
	EarnedAt    *time.Time             `json:"earned_at,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Handler
// ─────────────────────────────────────────────────────────────────────────────

// GetDashboardHandler обрабатывает GetDashboardQuery.
type GetDashboardHandler struct {
	store  progress.Repository
	tasks  *ListTasksHandler
	logger *slog.Logger
}

// NewGetDashboardHandler создаёт обработчик.
func NewGetDashboardHandler(store progress.Repository, tasks *ListTasksHandler, logger *slog.Logger) *GetDashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetDashboardHandler{store: store, tasks: tasks, logger: logger.With("handler", "get_dashboard")}
}

// Handle выполняет запрос. Пользователь без записи прогресса видит прогресс
// по умолчанию. Ошибка загрузки задач не ломает дашборд: список ближайших
// задач остаётся пустым.
func (h *GetDashboardHandler) Handle(ctx context.Context, q GetDashboardQuery) (*DashboardDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	p, err := h.store.Get(ctx, q.UserID)
	if errors.Is(err, progress.ErrProgressNotFound) {
		p = progress.New(q.UserID, q.Now)
	} else if err != nil {
		return nil, fmt.Errorf("get_dashboard: %w", err)
	}

	dto := BuildDashboard(p, q.Now, q.HistoryDays)

	if h.tasks != nil {
		list, err := h.tasks.Handle(ctx, ListTasksQuery{UserID: q.UserID})
		if err != nil {
			h.logger.Warn("failed to load tasks for dashboard", "user_id", q.UserID, "error", err)
		} else {
			dto.Upcoming = task.Upcoming(list.Tasks, DefaultUpcomingLimit)
		}
	}
	if dto.Upcoming == nil {
		dto.Upcoming = []*task.Task{}
	}
	return dto, nil
}

// BuildDashboard строит DTO из прогресса без обращения к хранилищам.
func BuildDashboard(p *progress.UserProgress, now time.Time, historyDays int) *DashboardDTO {
	dto := &DashboardDTO{
		UserID:  p.UserID,
		Points:  p.Points,
		Level:   p.Level(),
		Version: p.Version,
		Totals: TotalsDTO{
			StudySeconds:    p.StudySeconds,
			StudyFormatted:  timeutil.FormatStudyTime(p.StudySeconds),
			Sessions:        p.Sessions,
			TotalTasks:      p.TotalTasks,
			CompletedTasks:  p.CompletedTasks,
			InProgressTasks: p.InProgressTasks,
		},
		WeeklyGoal: WeeklyGoalDTO{
			GoalHours:     p.WeeklyGoalHours,
			ProgressHours: weeklyHours(p, now),
		},
	}
	if dto.WeeklyGoal.ProgressHours > 0 {
		dto.WeeklyGoal.Percent = p.WeeklyGoalPercent()
	}

	dto.Streak = StreakDTO{
		Current: p.Streak.Effective(now),
		Longest: p.Streak.Longest,
		Status:  p.Streak.Status(now),
	}
	if p.Streak.LastStudyDate != nil {
		dto.Streak.Last = timeutil.FormatDateStr(*p.Streak.LastStudyDate)
	}

	dto.Subjects = subjectShares(p)
	dto.History = recentDays(p, now, historyDays)
	dto.Achievements, dto.EarnedCount = achievementList(p)
	return dto
}

// weeklyHours возвращает прогресс недели, если запись относится к текущей неделе.
func weeklyHours(p *progress.UserProgress, now time.Time) float64 {
	if p.WeekStart.IsZero() || p.WeekStart.Before(timeutil.StartOfWeek(now)) {
		return 0
	}
	return p.WeeklyProgressHours
}

func subjectShares(p *progress.UserProgress) []SubjectShareDTO {
	var total int64
	for _, s := range p.SubjectSeconds {
		total += s
	}

	out := make([]SubjectShareDTO, 0, len(p.SubjectSeconds))
	for name, secs := range p.SubjectSeconds {
		if secs <= 0 {
			continue
		}
		share := SubjectShareDTO{Subject: name, Seconds: secs}
		if total > 0 {
			share.Percent = float64(secs) / float64(total) * 100
		}
		out = append(out, share)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

func recentDays(p *progress.UserProgress, now time.Time, days int) []HistoryDayDTO {
	byDate := make(map[string]progress.HistoryEntry)
	for _, h := range p.RecentHistory(now, days) {
		byDate[timeutil.FormatDateStr(h.Date)] = h
	}

	today := timeutil.StartOfDay(now)
	out := make([]HistoryDayDTO, 0, days)
	for i := days - 1; i >= 0; i-- {
		d := timeutil.FormatDateStr(today.AddDate(0, 0, -i))
		day := HistoryDayDTO{Date: d, Subjects: []string{}}
		if h, ok := byDate[d]; ok {
			day.Hours = h.Hours()
			if h.Subjects != nil {
				day.Subjects = h.Subjects
			}
		}
		out = append(out, day)
	}
	return out
}

func achievementList(p *progress.UserProgress) ([]AchievementDTO, int) {
	defs := progress.Definitions()
	out := make([]AchievementDTO, 0, len(defs))
	earned := 0
	for _, d := range defs {
		a := AchievementDTO{ID: d.ID, Name: d.Name, Description: d.Description, Icon: d.Icon}
		if at, ok := p.Achievements[d.ID]; ok {
			at := at
			a.Earned = true
			a.EarnedAt = &at
			earned++
		}
		out = append(out, a)
	}
	return out, earned
}
