package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

func day(d int) time.Time {
	return timeutil.Date(2024, time.January, d).Add(10 * time.Hour)
}

func TestEvaluateStreak(t *testing.T) {
	d1 := day(15)

	s := EvaluateStreak(Streak{}, true, d1)
	assert.Equal(t, 1, s.Current)
	assert.Equal(t, 1, s.Longest)
	require.NotNil(t, s.LastStudyDate)
	assert.True(t, timeutil.IsSameDay(d1, *s.LastStudyDate))

	t.Run("consecutive day increments", func(t *testing.T) {
		next := EvaluateStreak(s, true, day(16))
		assert.Equal(t, 2, next.Current)
		assert.Equal(t, 2, next.Longest)
	})

	t.Run("gap resets to one", func(t *testing.T) {
		long := Streak{Current: 5, Longest: 5, LastStudyDate: s.LastStudyDate}
		next := EvaluateStreak(long, true, day(18))
		assert.Equal(t, 1, next.Current)
		assert.Equal(t, 5, next.Longest)
	})

	t.Run("same day is idempotent", func(t *testing.T) {
		again := EvaluateStreak(s, true, d1.Add(5*time.Hour))
		assert.Equal(t, s, again)
	})

	t.Run("no activity leaves state untouched", func(t *testing.T) {
		assert.Equal(t, s, EvaluateStreak(s, false, day(20)))
	})

	t.Run("input is not mutated", func(t *testing.T) {
		before := *s.LastStudyDate
		_ = EvaluateStreak(s, true, day(16))
		assert.Equal(t, before, *s.LastStudyDate)
	})
}

func TestStreakStatus(t *testing.T) {
	s := EvaluateStreak(Streak{}, true, day(10))

	assert.Equal(t, StreakNone, Streak{}.Status(day(10)))
	assert.Equal(t, StreakActive, s.Status(day(10)))
	assert.Equal(t, StreakAtRisk, s.Status(day(11)))
	assert.Equal(t, StreakBroken, s.Status(day(13)))
	assert.Equal(t, 0, s.Effective(day(13)))
	assert.Equal(t, 1, s.Effective(day(11)))
}

func TestActiveToday(t *testing.T) {
	assert.False(t, ActiveToday(0, 0))
	assert.True(t, ActiveToday(1, 0))
	assert.True(t, ActiveToday(0, 1))
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		points   int
		level    int
		progress float64
		toNext   int
	}{
		{0, 1, 0, 100},
		{50, 1, 50, 50},
		{99, 1, 99, 1},
		{100, 2, 0, 200},
		{450, 3, 50, 150},
		{2800, 8, 0, 800},
		{2799, 7, 699.0 / 700 * 100, 1},
		{4499, 9, 899.0 / 900 * 100, 1},
		{4500, 10, 100, 0},
		{99999, 10, 100, 0},
		{-5, 1, 0, 100},
	}

	for _, tt := range tests {
		info := LevelFor(tt.points)
		assert.Equal(t, tt.level, info.Level, "points=%d", tt.points)
		assert.InDelta(t, tt.progress, info.Progress, 0.001, "points=%d", tt.points)
		assert.Equal(t, tt.toNext, info.PointsToNext, "points=%d", tt.points)
		assert.GreaterOrEqual(t, info.Progress, 0.0)
		assert.LessOrEqual(t, info.Progress, 100.0)
	}
}

func TestLevelFor_Monotonic(t *testing.T) {
	prev := 0
	for p := 0; p <= 5000; p += 7 {
		l := LevelFor(p).Level
		assert.GreaterOrEqual(t, l, prev)
		prev = l
	}
}

func TestAward_Idempotent(t *testing.T) {
	p := New("u1", day(1))

	assert.True(t, p.Award(TaskCompletedAward("t1", day(1))))
	assert.False(t, p.Award(TaskCompletedAward("t1", day(2))))
	assert.Equal(t, 50, p.Points)

	assert.False(t, p.Award(PointAward{Key: "bad", Points: -10}))
	assert.False(t, p.Award(PointAward{Points: 10}))
	assert.Equal(t, 50, p.Points)
	assert.Equal(t, SumAwards(p.Awards), p.Points)
}

func TestStudyHourAwards(t *testing.T) {
	assert.Empty(t, StudyHourAwards(0, 3599, day(1)))

	awards := StudyHourAwards(3000, 7300, day(1))
	require.Len(t, awards, 2)
	assert.Equal(t, "study-hour:1", awards[0].Key)
	assert.Equal(t, "study-hour:2", awards[1].Key)

	assert.Empty(t, StudyHourAwards(7300, 7300, day(1)))
}

func TestAccrual(t *testing.T) {
	assert.Equal(t, 0, Accrual(ActivityCounters{}))
	assert.Equal(t, 50+10+10+25*2, Accrual(ActivityCounters{
		CompletedTasks: 1,
		StartedTasks:   1,
		StudySeconds:   5400,
		Sessions:       2,
	}))
}

func TestRecordStudy(t *testing.T) {
	p := New("u1", day(15))

	out, err := p.RecordStudy("Mathematics", 1800, day(15))
	require.NoError(t, err)
	assert.Empty(t, out.Awards)
	assert.True(t, out.StreakChanged)

	out, err = p.RecordStudy("Physics", 2400, day(15))
	require.NoError(t, err)
	require.Len(t, out.Awards, 1)
	assert.Equal(t, "study-hour:1", out.Awards[0].Key)
	assert.False(t, out.StreakChanged)

	assert.Equal(t, int64(4200), p.StudySeconds)
	assert.Equal(t, int64(1800), p.SubjectSeconds["Mathematics"])
	assert.Equal(t, 10, p.Points)
	require.Len(t, p.History, 1)
	assert.Equal(t, int64(4200), p.History[0].Seconds)
	assert.ElementsMatch(t, []string{"Mathematics", "Physics"}, p.History[0].Subjects)
	assert.InDelta(t, 4200.0/3600, p.WeeklyProgressHours, 0.0001)

	_, err = p.RecordStudy("Mathematics", -1, day(15))
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestRecordStudy_NewWeekResetsWeeklyProgress(t *testing.T) {
	// 2024-01-15 is a Monday.
	p := New("u1", day(15))
	_, err := p.RecordStudy("Physics", 3600, day(17))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p.WeeklyProgressHours, 0.0001)

	_, err = p.RecordStudy("Physics", 1800, day(22))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p.WeeklyProgressHours, 0.0001)
	assert.True(t, p.WeekStart.Equal(timeutil.Date(2024, time.January, 22)))
}

func TestResetWeek(t *testing.T) {
	p := New("u1", day(15))
	p.WeeklyProgressHours = 3

	assert.False(t, p.ResetWeek(timeutil.Date(2024, time.January, 15)))
	assert.True(t, p.ResetWeek(timeutil.Date(2024, time.January, 22)))
	assert.Zero(t, p.WeeklyProgressHours)
}

func TestCompleteSession(t *testing.T) {
	p := New("u1", day(1))

	out, err := p.CompleteSession(day(1))
	require.NoError(t, err)
	require.Len(t, out.Awards, 1)
	assert.Equal(t, "pomodoro:1", out.Awards[0].Key)
	assert.Equal(t, 1, p.Sessions)
	assert.Equal(t, 25, p.Points)
	assert.Equal(t, 1, p.Streak.Current)
}

func TestTaskCounters(t *testing.T) {
	p := New("u1", day(1))

	p.TaskAdded(TaskPending)
	p.TaskAdded(TaskPending)
	assert.Equal(t, 2, p.TotalTasks)

	p.TaskMoved(TaskPending, TaskInProgress)
	assert.Equal(t, 1, p.InProgressTasks)

	p.TaskMoved(TaskInProgress, TaskCompleted)
	assert.Equal(t, 0, p.InProgressTasks)
	assert.Equal(t, 1, p.CompletedTasks)

	p.TaskRemoved(TaskCompleted)
	assert.Equal(t, 1, p.TotalTasks)
	assert.Equal(t, 0, p.CompletedTasks)

	p.TaskRemoved(TaskCompleted)
	p.TaskRemoved(TaskCompleted)
	assert.Equal(t, 0, p.TotalTasks)
	assert.Equal(t, 0, p.CompletedTasks)
}

func TestAddSubject(t *testing.T) {
	p := New("u1", day(1))

	name, err := p.AddSubject("  Astronomy ")
	require.NoError(t, err)
	assert.Equal(t, "Astronomy", name)
	assert.True(t, p.HasSubject("astronomy"))

	_, err = p.AddSubject("mathematics")
	assert.ErrorIs(t, err, ErrSubjectExists)
	assert.True(t, shared.IsAlreadyExists(err))

	_, err = p.AddSubject("   ")
	assert.ErrorIs(t, err, ErrSubjectEmpty)
}

func TestSetWeeklyGoal(t *testing.T) {
	p := New("u1", day(1))
	assert.Equal(t, float64(DefaultWeeklyGoalHours), p.WeeklyGoalHours)

	require.NoError(t, p.SetWeeklyGoal(12.5))
	assert.Equal(t, 12.5, p.WeeklyGoalHours)
	assert.ErrorIs(t, p.SetWeeklyGoal(0), ErrInvalidWeeklyGoal)

	p.WeeklyProgressHours = 25
	assert.Equal(t, 100.0, p.WeeklyGoalPercent())
}

func TestClone_IsDeep(t *testing.T) {
	p := New("u1", day(1))
	_, _ = p.RecordStudy("Physics", 100, day(1))
	p.Award(TaskCompletedAward("t1", day(1)))

	c := p.Clone()
	c.SubjectSeconds["Physics"] = 999
	c.Subjects[0] = "changed"
	c.History[0].Subjects[0] = "changed"
	*c.Streak.LastStudyDate = day(5)
	c.Award(TaskCompletedAward("t2", day(1)))

	assert.Equal(t, int64(100), p.SubjectSeconds["Physics"])
	assert.Equal(t, "Mathematics", p.Subjects[0])
	assert.Equal(t, "Physics", p.History[0].Subjects[0])
	assert.True(t, timeutil.IsSameDay(day(1), *p.Streak.LastStudyDate))
	assert.False(t, p.HasAward(TaskCompletedKey("t2")))
}

func TestApplyUpdate(t *testing.T) {
	now := day(3)

	created, err := ApplyUpdate(nil, "u1", now, func(p *UserProgress) error {
		p.Award(SessionAward(1, now))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, 25, created.Points)

	boom := errors.New("boom")
	_, err = ApplyUpdate(created, "u1", now, func(p *UserProgress) error {
		p.Points = 0
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 25, created.Points)
}

// Three days of one Mathematics task and one 25-minute pomodoro each.
func TestEndToEnd_ThreeStudyDays(t *testing.T) {
	p := New("u1", day(14))
	var completed []CompletedTask

	for i, d := range []time.Time{day(15), day(16), day(17)} {
		taskID := []string{"a", "b", "c"}[i]
		p.TaskAdded(TaskPending)
		p.TaskMoved(TaskPending, TaskCompleted)
		p.Award(TaskCompletedAward(taskID, d))
		completed = append(completed, CompletedTask{Subject: "Mathematics", CompletedAt: d})

		_, err := p.RecordStudy("Mathematics", 1500, d)
		require.NoError(t, err)
		_, err = p.CompleteSession(d)
		require.NoError(t, err)

		p.ApplyUnlocks(Evaluate(Snapshot{Progress: p, CompletedTasks: completed}, d))
	}

	assert.Equal(t, 3, p.Sessions)
	assert.Equal(t, int64(4500), p.StudySeconds)
	assert.GreaterOrEqual(t, p.Points, 235)
	assert.Equal(t, 3, p.Streak.Current)
	assert.True(t, p.HasAchievement(AchievementFirstSteps))
	assert.False(t, p.HasAchievement(AchievementWeekWarrior))
	assert.Equal(t, SumAwards(p.Awards), p.Points)
}
