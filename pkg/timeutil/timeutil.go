// Package timeutil provides calendar-day helpers for streaks, study history and
// weekly goals. All day arithmetic happens in a single configured location
// (UTC unless SetLocation is called at startup).
package timeutil

import (
	"fmt"
	"sync/atomic"
	"time"
)

var location atomic.Pointer[time.Location]

func init() {
	location.Store(time.UTC)
}

// SetLocation sets the timezone used for calendar-day calculations.
// A nil location resets it to UTC.
func SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	location.Store(loc)
}

// Location returns the configured timezone.
func Location() *time.Location {
	return location.Load()
}

// LoadLocation resolves an IANA name ("Europe/Berlin") or returns UTC for "".
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: load location %q: %w", name, err)
	}
	return loc, nil
}

// Clock returns the current time. Components take a Clock so tests can pin "now".
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time {
	return time.Now()
}

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// Now returns the current time in the configured location.
func Now() time.Time {
	return time.Now().In(Location())
}

// Date creates midnight of the given date in the configured location.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, Location())
}

// StartOfDay returns 00:00:00 of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	local := t.In(Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, Location())
}

// StartOfWeek returns Monday 00:00:00 of t's week.
func StartOfWeek(t time.Time) time.Time {
	local := t.In(Location())
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return StartOfDay(local.AddDate(0, 0, -(weekday - 1)))
}

// dayNumber maps t to an ordinal day number, immune to DST shifts.
func dayNumber(t time.Time) int64 {
	local := t.In(Location())
	civil := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return civil.Unix() / 86400
}

// DaysBetween returns the signed number of calendar days from t1 to t2.
func DaysBetween(t1, t2 time.Time) int {
	return int(dayNumber(t2) - dayNumber(t1))
}

// IsSameDay reports whether t1 and t2 fall on the same calendar day.
func IsSameDay(t1, t2 time.Time) bool {
	return dayNumber(t1) == dayNumber(t2)
}

// IsConsecutiveDay reports whether t2 is the calendar day after t1.
func IsConsecutiveDay(t1, t2 time.Time) bool {
	return DaysBetween(t1, t2) == 1
}

// FormatDate is the canonical date layout (YYYY-MM-DD).
const FormatDate = "2006-01-02"

// FormatDateStr formats t as YYYY-MM-DD in the configured location.
func FormatDateStr(t time.Time) string {
	return t.In(Location()).Format(FormatDate)
}

// ParseDate parses YYYY-MM-DD as midnight in the configured location.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, Location())
}

// FormatClock renders seconds as MM:SS (timer display).
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatStudyTime renders seconds as "Xh Ym".
func FormatStudyTime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}
