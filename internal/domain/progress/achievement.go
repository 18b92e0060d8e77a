package progress

import (
	"sort"
	"strings"
	"time"

	"github.com/studyhub/study-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS (Достижения)
// ══════════════════════════════════════════════════════════════════════════════

// AchievementID - стабильный идентификатор достижения.
type AchievementID string

const (
	AchievementFirstSteps          AchievementID = "first-steps"
	AchievementWeekWarrior         AchievementID = "week-warrior"
	AchievementMonthlyMaster       AchievementID = "monthly-master"
	AchievementCenturyClub         AchievementID = "century-club"
	AchievementSubjectExplorer     AchievementID = "subject-explorer"
	AchievementDedicatedLearner    AchievementID = "dedicated-learner"
	AchievementTaskMaster          AchievementID = "task-master"
	AchievementMathWhiz            AchievementID = "math-whiz"
	AchievementScienceStar         AchievementID = "science-star"
	AchievementLiteratureLover     AchievementID = "literature-lover"
	AchievementHistoryBuff         AchievementID = "history-buff"
	AchievementConsistencyChampion AchievementID = "consistency-champion"
)

// Пороги достижений.
const (
	weekStreakDays        = 7
	monthStreakDays       = 30
	centuryClubSeconds    = 100 * SecondsPerHour
	explorerSubjects      = 5
	dedicatedSessions     = 10
	taskMasterTasks       = 50
	subjectSpecialistTask = 20
	consistencyRunDays    = 14
)

// CompletedTask - завершённая задача в снимке для правил.
type CompletedTask struct {
	Subject     string
	CompletedAt time.Time
}

// Snapshot - всё, что нужно правилам достижений.
type Snapshot struct {
	Progress       *UserProgress
	CompletedTasks []CompletedTask
}

// Achievement - определение достижения.
type Achievement struct {
	ID          AchievementID `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`

	rule func(Snapshot) bool
}

// Unlock - разблокированное достижение.
type Unlock struct {
	ID       AchievementID `json:"id"`
	Name     string        `json:"name"`
	EarnedAt time.Time     `json:"earned_at"`
}

var definitions = []Achievement{
	{
		ID: AchievementFirstSteps, Name: "First Steps", Icon: "🎯",
		Description: "Complete your first study session",
		rule:        func(s Snapshot) bool { return s.Progress.Sessions >= 1 },
	},
	{
		ID: AchievementWeekWarrior, Name: "Week Warrior", Icon: "🔥",
		Description: "Study for 7 consecutive days",
		rule:        func(s Snapshot) bool { return s.Progress.Streak.Longest >= weekStreakDays },
	},
	{
		ID: AchievementMonthlyMaster, Name: "Monthly Master", Icon: "📅",
		Description: "Study for 30 consecutive days",
		rule:        func(s Snapshot) bool { return s.Progress.Streak.Longest >= monthStreakDays },
	},
	{
		ID: AchievementCenturyClub, Name: "Century Club", Icon: "💯",
		Description: "Study for 100 total hours",
		rule:        func(s Snapshot) bool { return s.Progress.StudySeconds >= centuryClubSeconds },
	},
	{
		ID: AchievementSubjectExplorer, Name: "Subject Explorer", Icon: "🧭",
		Description: "Have 5 different subjects",
		rule:        func(s Snapshot) bool { return distinctSubjects(s.Progress.Subjects) >= explorerSubjects },
	},
	{
		ID: AchievementDedicatedLearner, Name: "Dedicated Learner", Icon: "📚",
		Description: "Complete 10 study sessions",
		rule:        func(s Snapshot) bool { return s.Progress.Sessions >= dedicatedSessions },
	},
	{
		ID: AchievementTaskMaster, Name: "Task Master", Icon: "✅",
		Description: "Complete 50 tasks",
		rule:        func(s Snapshot) bool { return s.Progress.CompletedTasks >= taskMasterTasks },
	},
	{
		ID: AchievementMathWhiz, Name: "Math Whiz", Icon: "🧮",
		Description: "Complete 20 math-related tasks",
		rule:        subjectRule("math"),
	},
	{
		ID: AchievementScienceStar, Name: "Science Star", Icon: "🔬",
		Description: "Complete 20 science-related tasks",
		rule:        subjectRule("science"),
	},
	{
		ID: AchievementLiteratureLover, Name: "Literature Lover", Icon: "📖",
		Description: "Complete 20 literature-related tasks",
		rule:        subjectRule("literature"),
	},
	{
		ID: AchievementHistoryBuff, Name: "History Buff", Icon: "🏛️",
		Description: "Complete 20 history-related tasks",
		rule:        subjectRule("history"),
	},
	{
		ID: AchievementConsistencyChampion, Name: "Consistency Champion", Icon: "🏆",
		Description: "Complete tasks on 14 consecutive days",
		rule: func(s Snapshot) bool {
			dates := make([]time.Time, 0, len(s.CompletedTasks))
			for _, t := range s.CompletedTasks {
				dates = append(dates, t.CompletedAt)
			}
			return LongestCompletionRun(dates) >= consistencyRunDays
		},
	},
}

// Definitions возвращает копию таблицы достижений в фиксированном порядке.
func Definitions() []Achievement {
	out := make([]Achievement, len(definitions))
	copy(out, definitions)
	return out
}

// Lookup находит определение по идентификатору.
func Lookup(id AchievementID) (Achievement, bool) {
	for _, a := range definitions {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// Evaluate возвращает достижения, условия которых выполнены и которых ещё нет
// в снимке. Повторный вызов на том же снимке после ApplyUnlocks возвращает пусто.
func Evaluate(s Snapshot, now time.Time) []Unlock {
	if s.Progress == nil {
		return nil
	}
	var out []Unlock
	for _, a := range definitions {
		if s.Progress.HasAchievement(a.ID) {
			continue
		}
		if a.rule(s) {
			out = append(out, Unlock{ID: a.ID, Name: a.Name, EarnedAt: now})
		}
	}
	return out
}

// LongestCompletionRun - самая длинная серия подряд идущих календарных дней
// среди дат. Повторы одной даты считаются одним днём.
func LongestCompletionRun(dates []time.Time) int {
	if len(dates) == 0 {
		return 0
	}

	days := make([]time.Time, 0, len(dates))
	seen := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		if d.IsZero() {
			continue
		}
		key := timeutil.FormatDateStr(d)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		days = append(days, timeutil.StartOfDay(d))
	}
	if len(days) == 0 {
		return 0
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if timeutil.DaysBetween(days[i-1], days[i]) == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// CountSubjectTasks считает завершённые задачи, предмет которых содержит keyword.
func CountSubjectTasks(tasks []CompletedTask, keyword string) int {
	keyword = strings.ToLower(keyword)
	n := 0
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Subject), keyword) {
			n++
		}
	}
	return n
}

func subjectRule(keyword string) func(Snapshot) bool {
	return func(s Snapshot) bool {
		return CountSubjectTasks(s.CompletedTasks, keyword) >= subjectSpecialistTask
	}
}

func distinctSubjects(subjects []string) int {
	seen := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		seen[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	delete(seen, "")
	return len(seen)
}
