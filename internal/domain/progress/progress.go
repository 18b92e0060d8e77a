package progress

import (
	"sort"
	"strings"
	"time"

	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

// DefaultWeeklyGoalHours - недельная цель по умолчанию.
const DefaultWeeklyGoalHours = 20

// DefaultSubjects - стартовый список предметов нового пользователя.
var DefaultSubjects = []string{
	"Mathematics",
	"Physics",
	"English",
	"Computer Science",
	"Chemistry",
	"Biology",
	"History",
	"Literature",
}

var (
	// ErrSubjectExists - предмет уже есть в списке (без учёта регистра).
	ErrSubjectExists = shared.NewDomainError("progress", "AddSubject", shared.ErrAlreadyExists, "subject already exists")

	// ErrSubjectEmpty - пустое название предмета.
	ErrSubjectEmpty = shared.NewDomainError("progress", "AddSubject", shared.ErrEmptyValue, "subject name is required")

	// ErrInvalidWeeklyGoal - недельная цель должна быть положительной.
	ErrInvalidWeeklyGoal = shared.NewDomainError("progress", "SetWeeklyGoal", shared.ErrInvalidInput, "weekly goal must be greater than zero")

	// ErrNegativeDuration - отрицательное время учёбы.
	ErrNegativeDuration = shared.NewDomainError("progress", "RecordStudy", shared.ErrInvalidInput, "study time cannot be negative")
)

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS (Агрегат)
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress - прогресс одного пользователя.
// Очки меняются только через Award, набор достижений только растёт.
type UserProgress struct {
	UserID string `json:"user_id"`

	// Накопленные счётчики.
	StudySeconds int64 `json:"study_seconds"`
	Sessions     int   `json:"sessions"`
	Points       int   `json:"points"`

	Streak Streak `json:"streak"`

	CompletedTasks  int `json:"completed_tasks"`
	TotalTasks      int `json:"total_tasks"`
	InProgressTasks int `json:"in_progress_tasks"`

	SubjectSeconds map[string]int64 `json:"subject_seconds"`

	// Недельная цель. WeekStart - понедельник недели, к которой относится WeeklyProgressHours.
	WeeklyGoalHours     float64   `json:"weekly_goal_hours"`
	WeeklyProgressHours float64   `json:"weekly_progress_hours"`
	WeekStart           time.Time `json:"week_start"`

	Achievements map[AchievementID]time.Time `json:"achievements"`
	History      []HistoryEntry              `json:"study_history"`
	Subjects     []string                    `json:"subjects"`

	// Awards - журнал начислений, ключ идемпотентности → начисление.
	Awards map[string]PointAward `json:"awards"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryEntry - учёба за один календарный день.
type HistoryEntry struct {
	Date     time.Time `json:"date"`
	Seconds  int64     `json:"seconds"`
	Subjects []string  `json:"subjects"`
}

// Hours возвращает время учёбы за день в часах.
func (h HistoryEntry) Hours() float64 {
	return float64(h.Seconds) / 3600
}

// New создаёт прогресс по умолчанию.
func New(userID string, now time.Time) *UserProgress {
	subjects := make([]string, len(DefaultSubjects))
	copy(subjects, DefaultSubjects)

	return &UserProgress{
		UserID:          userID,
		SubjectSeconds:  make(map[string]int64),
		WeeklyGoalHours: DefaultWeeklyGoalHours,
		WeekStart:       timeutil.StartOfWeek(now),
		Achievements:    make(map[AchievementID]time.Time),
		Subjects:        subjects,
		Awards:          make(map[string]PointAward),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone возвращает глубокую копию.
func (p *UserProgress) Clone() *UserProgress {
	if p == nil {
		return nil
	}
	c := *p

	if p.Streak.LastStudyDate != nil {
		d := *p.Streak.LastStudyDate
		c.Streak.LastStudyDate = &d
	}

	c.SubjectSeconds = make(map[string]int64, len(p.SubjectSeconds))
	for k, v := range p.SubjectSeconds {
		c.SubjectSeconds[k] = v
	}

	c.Achievements = make(map[AchievementID]time.Time, len(p.Achievements))
	for k, v := range p.Achievements {
		c.Achievements[k] = v
	}

	c.Awards = make(map[string]PointAward, len(p.Awards))
	for k, v := range p.Awards {
		c.Awards[k] = v
	}

	c.History = make([]HistoryEntry, len(p.History))
	for i, h := range p.History {
		h.Subjects = append([]string(nil), h.Subjects...)
		c.History[i] = h
	}

	c.Subjects = append([]string(nil), p.Subjects...)
	return &c
}

// ensureMaps инициализирует nil-карты после десериализации.
func (p *UserProgress) ensureMaps() {
	if p.SubjectSeconds == nil {
		p.SubjectSeconds = make(map[string]int64)
	}
	if p.Achievements == nil {
		p.Achievements = make(map[AchievementID]time.Time)
	}
	if p.Awards == nil {
		p.Awards = make(map[string]PointAward)
	}
}

// Normalize приводит запись из хранилища к рабочему виду.
func (p *UserProgress) Normalize() {
	p.ensureMaps()
	if p.WeeklyGoalHours <= 0 {
		p.WeeklyGoalHours = DefaultWeeklyGoalHours
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Points
// ──────────────────────────────────────────────────────────────────────────────

// Award записывает начисление. Возвращает false, если ключ уже был начислен
// или сумма не положительна.
func (p *UserProgress) Award(a PointAward) bool {
	p.ensureMaps()
	if a.Key == "" || a.Points <= 0 {
		return false
	}
	if _, ok := p.Awards[a.Key]; ok {
		return false
	}
	p.Awards[a.Key] = a
	p.Points += a.Points
	return true
}

// HasAward проверяет, был ли начислен ключ.
func (p *UserProgress) HasAward(key string) bool {
	_, ok := p.Awards[key]
	return ok
}

// AwardLog возвращает журнал начислений в хронологическом порядке.
func (p *UserProgress) AwardLog() []PointAward {
	out := make([]PointAward, 0, len(p.Awards))
	for _, a := range p.Awards {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AwardedAt.Equal(out[j].AwardedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].AwardedAt.Before(out[j].AwardedAt)
	})
	return out
}

// Level возвращает текущий уровень.
func (p *UserProgress) Level() LevelInfo {
	return LevelFor(p.Points)
}

// ──────────────────────────────────────────────────────────────────────────────
// Study activity
// ──────────────────────────────────────────────────────────────────────────────

// StudyOutcome - что изменилось после записи активности.
type StudyOutcome struct {
	Awards         []PointAward
	PreviousStreak Streak
	StreakChanged  bool
}

// RecordStudy добавляет время учёбы: общий счётчик, предмет, неделю, историю,
// начисления за целые часы и серию.
func (p *UserProgress) RecordStudy(subject string, seconds int64, at time.Time) (StudyOutcome, error) {
	if seconds < 0 {
		return StudyOutcome{}, ErrNegativeDuration
	}
	p.ensureMaps()

	out := StudyOutcome{PreviousStreak: p.Streak}
	if seconds == 0 {
		return out, nil
	}

	before := p.StudySeconds
	p.StudySeconds += seconds

	subject = strings.TrimSpace(subject)
	if subject != "" {
		p.SubjectSeconds[subject] += seconds
	}

	p.rollWeek(at)
	p.WeeklyProgressHours += float64(seconds) / 3600

	p.addHistory(at, seconds, subject)

	for _, a := range StudyHourAwards(before, p.StudySeconds, at) {
		if p.Award(a) {
			out.Awards = append(out.Awards, a)
		}
	}

	out.StreakChanged = p.markActive(ActiveToday(seconds, 0), at)
	return out, nil
}

// CompleteSession засчитывает завершённый помидор.
func (p *UserProgress) CompleteSession(at time.Time) (StudyOutcome, error) {
	p.ensureMaps()
	out := StudyOutcome{PreviousStreak: p.Streak}

	p.Sessions++
	if a := SessionAward(p.Sessions, at); p.Award(a) {
		out.Awards = append(out.Awards, a)
	}

	out.StreakChanged = p.markActive(ActiveToday(0, 1), at)
	return out, nil
}

func (p *UserProgress) markActive(active bool, at time.Time) bool {
	next := EvaluateStreak(p.Streak, active, at)
	changed := next.Current != p.Streak.Current
	p.Streak = next
	return changed
}

// rollWeek обнуляет недельный прогресс при переходе на новую неделю.
func (p *UserProgress) rollWeek(at time.Time) {
	week := timeutil.StartOfWeek(at)
	if !week.After(p.WeekStart) {
		return
	}
	if !p.WeekStart.IsZero() {
		p.WeeklyProgressHours = 0
	}
	p.WeekStart = week
}

// ResetWeek обнуляет недельный прогресс (еженедельная задача).
// Возвращает false, если неделя уже начата с weekStart.
func (p *UserProgress) ResetWeek(weekStart time.Time) bool {
	if !p.WeekStart.IsZero() && !p.WeekStart.Before(weekStart) {
		return false
	}
	p.WeekStart = weekStart
	p.WeeklyProgressHours = 0
	return true
}

func (p *UserProgress) addHistory(at time.Time, seconds int64, subject string) {
	day := timeutil.StartOfDay(at)

	for i := range p.History {
		if !timeutil.IsSameDay(p.History[i].Date, day) {
			continue
		}
		p.History[i].Seconds += seconds
		if subject != "" && !containsFold(p.History[i].Subjects, subject) {
			p.History[i].Subjects = append(p.History[i].Subjects, subject)
		}
		return
	}

	entry := HistoryEntry{Date: day, Seconds: seconds}
	if subject != "" {
		entry.Subjects = []string{subject}
	}
	p.History = append(p.History, entry)
	sort.SliceStable(p.History, func(i, j int) bool {
		return p.History[i].Date.Before(p.History[j].Date)
	})
}

// RecentHistory возвращает историю за последние days дней, включая сегодня.
func (p *UserProgress) RecentHistory(today time.Time, days int) []HistoryEntry {
	var out []HistoryEntry
	for _, h := range p.History {
		d := timeutil.DaysBetween(h.Date, today)
		if d >= 0 && d < days {
			out = append(out, h)
		}
	}
	return out
}

// WeeklyGoalPercent возвращает выполнение недельной цели в процентах (0..100).
func (p *UserProgress) WeeklyGoalPercent() float64 {
	if p.WeeklyGoalHours <= 0 {
		return 0
	}
	pct := p.WeeklyProgressHours / p.WeeklyGoalHours * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// ──────────────────────────────────────────────────────────────────────────────
// Tasks counters
// ──────────────────────────────────────────────────────────────────────────────

// Статусы задачи как их видит прогресс.
const (
	TaskPending    = "pending"
	TaskInProgress = "in-progress"
	TaskCompleted  = "completed"
)

// TaskAdded учитывает новую задачу.
func (p *UserProgress) TaskAdded(status string) {
	p.TotalTasks++
	p.adjustStatus(status, +1)
}

// TaskMoved переносит задачу между статусами. Очки не отзываются.
func (p *UserProgress) TaskMoved(from, to string) {
	if from == to {
		return
	}
	p.adjustStatus(from, -1)
	p.adjustStatus(to, +1)
}

// TaskRemoved учитывает удаление задачи.
func (p *UserProgress) TaskRemoved(status string) {
	p.TotalTasks = nonNegative(p.TotalTasks - 1)
	p.adjustStatus(status, -1)
}

func (p *UserProgress) adjustStatus(status string, delta int) {
	switch status {
	case TaskCompleted:
		p.CompletedTasks = nonNegative(p.CompletedTasks + delta)
	case TaskInProgress:
		p.InProgressTasks = nonNegative(p.InProgressTasks + delta)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Subjects & goals
// ──────────────────────────────────────────────────────────────────────────────

// HasSubject проверяет наличие предмета без учёта регистра.
func (p *UserProgress) HasSubject(name string) bool {
	return containsFold(p.Subjects, strings.TrimSpace(name))
}

// AddSubject добавляет предмет.
func (p *UserProgress) AddSubject(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrSubjectEmpty
	}
	if containsFold(p.Subjects, name) {
		return "", ErrSubjectExists
	}
	p.Subjects = append(p.Subjects, name)
	return name, nil
}

// SetWeeklyGoal устанавливает недельную цель в часах.
func (p *UserProgress) SetWeeklyGoal(hours float64) error {
	if hours <= 0 {
		return ErrInvalidWeeklyGoal
	}
	p.WeeklyGoalHours = hours
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Achievements
// ──────────────────────────────────────────────────────────────────────────────

// HasAchievement проверяет, получено ли достижение.
func (p *UserProgress) HasAchievement(id AchievementID) bool {
	_, ok := p.Achievements[id]
	return ok
}

// ApplyUnlocks записывает новые достижения и возвращает действительно новые.
func (p *UserProgress) ApplyUnlocks(unlocks []Unlock) []Unlock {
	p.ensureMaps()
	var applied []Unlock
	for _, u := range unlocks {
		if _, ok := p.Achievements[u.ID]; ok {
			continue
		}
		p.Achievements[u.ID] = u.EarnedAt
		applied = append(applied, u)
	}
	return applied
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
