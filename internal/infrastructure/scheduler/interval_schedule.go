package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every creates an IntervalSchedule.
func Every(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}

// CronSchedule is a standard five-field cron expression
// ("minute hour day-of-month month day-of-week") or a descriptor such as "@weekly".
type CronSchedule struct {
	expr  string
	sched cron.Schedule
}

// ParseCron parses expr.
func ParseCron(expr string) (*CronSchedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	return &CronSchedule{expr: expr, sched: sched}, nil
}

// MustParseCron is ParseCron for compile-time constants.
func MustParseCron(expr string) *CronSchedule {
	s, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Next returns the first activation strictly after t, in t's location.
func (s *CronSchedule) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

func (s *CronSchedule) String() string { return s.expr }
