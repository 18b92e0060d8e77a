package metrics

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/study-hub/internal/application/command"
)

var _ command.Metrics = (*Progress)(nil)

func TestProgress(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProgress(reg)

	m.PointsAwarded("pomodoro", 10)
	m.PointsAwarded("pomodoro", 10)
	m.PointsAwarded("task-completed", 50)
	m.AchievementUnlocked("first-steps")
	m.SessionCompleted()
	m.LevelUp(2)

	assert.Equal(t, 20.0, testutil.ToFloat64(m.points.WithLabelValues("pomodoro")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.awards.WithLabelValues("pomodoro")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.points.WithLabelValues("task-completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.achievements.WithLabelValues("first-steps")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.levelUps.WithLabelValues("2")))
}

func TestHTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTP(reg)

	done := m.Begin()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight))
	done(http.MethodGet, "GET /api/v1/progress", http.StatusOK)

	assert.Zero(t, testutil.ToFloat64(m.inflight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "GET /api/v1/progress", "200")))

	n, err := testutil.GatherAndCount(reg, "studyhub_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
