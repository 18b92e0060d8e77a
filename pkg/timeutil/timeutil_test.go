package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetween(t *testing.T) {
	d1 := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 10, 0, 15, 0, 0, time.UTC)

	assert.Equal(t, 1, DaysBetween(d1, d2))
	assert.Equal(t, -1, DaysBetween(d2, d1))
	assert.Equal(t, 0, DaysBetween(d1, d1.Add(10*time.Minute)))
	assert.True(t, IsConsecutiveDay(d1, d2))
	assert.False(t, IsSameDay(d1, d2))
}

func TestDaysBetween_AcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	SetLocation(loc)
	defer SetLocation(nil)

	// 2024-03-10 is the spring-forward day in New York.
	before := time.Date(2024, 3, 9, 12, 0, 0, 0, loc)
	after := time.Date(2024, 3, 11, 0, 30, 0, 0, loc)
	assert.Equal(t, 2, DaysBetween(before, after))
}

func TestStartOfWeek(t *testing.T) {
	sunday := time.Date(2024, 6, 16, 18, 0, 0, 0, time.UTC)
	monday := StartOfWeek(sunday)

	assert.Equal(t, time.Monday, monday.Weekday())
	assert.Equal(t, 10, monday.Day())
	assert.Equal(t, 0, monday.Hour())
}

func TestParseAndFormatDate(t *testing.T) {
	d, err := ParseDate("2024-01-25")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-25", FormatDateStr(d))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "25:00", FormatClock(1500))
	assert.Equal(t, "00:00", FormatClock(-3))
	assert.Equal(t, "1h 15m", FormatStudyTime(4500))
}
