package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/study-hub/pkg/logger"
)

type fakeJob struct {
	name  string
	runs  atomic.Int32
	err   error
	panic bool
	block chan struct{}
}

func (j *fakeJob) Name() string        { return j.name }
func (j *fakeJob) Description() string { return "test job " + j.name }
func (j *fakeJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func newTestScheduler(reg prometheus.Registerer) *Scheduler {
	return New(Config{Logger: logger.Discard(), TickInterval: 5 * time.Millisecond, Metrics: NewMetrics(reg)})
}

func TestCronSchedule(t *testing.T) {
	s, err := ParseCron("0 0 * * 1")
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * 1", s.String())

	// Wednesday 2024-03-06 → Monday 2024-03-11 00:00.
	from := time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), s.Next(from))

	// Exactly at the boundary moves to the following week.
	monday := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday.AddDate(0, 0, 7), s.Next(monday))

	_, err = ParseCron("61 * * * *")
	assert.Error(t, err)
	assert.Panics(t, func() { MustParseCron("nonsense") })
}

func TestIntervalSchedule(t *testing.T) {
	s := Every(15 * time.Minute)
	from := time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, from.Add(15*time.Minute), s.Next(from))
	assert.Equal(t, "@every 15m0s", s.String())
}

func TestScheduler_Register(t *testing.T) {
	s := newTestScheduler(nil)

	assert.ErrorIs(t, s.Register(nil, Every(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&fakeJob{name: "a"}, nil), ErrNilSchedule)
	require.NoError(t, s.Register(&fakeJob{name: "b"}, Every(time.Second)))
	require.NoError(t, s.Register(&fakeJob{name: "a"}, Every(time.Second)))
	assert.ErrorIs(t, s.Register(&fakeJob{name: "a"}, Every(time.Second)), ErrJobAlreadyExists)

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.True(t, jobs[0].Enabled)

	assert.ErrorIs(t, s.SetEnabled("missing", false), ErrJobNotFound)
	require.NoError(t, s.SetEnabled("a", false))
	assert.False(t, s.ListJobs()[0].Enabled)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestScheduler(reg)
	ok := &fakeJob{name: "ok"}
	bad := &fakeJob{name: "bad", err: errors.New("db down")}
	disabled := &fakeJob{name: "off"}

	require.NoError(t, s.Register(ok, Every(10*time.Millisecond)))
	require.NoError(t, s.Register(bad, Every(10*time.Millisecond)))
	require.NoError(t, s.Register(disabled, Every(10*time.Millisecond)))
	require.NoError(t, s.SetEnabled("off", false))

	var failures atomic.Int32
	s.OnJobError(func(name string, err error) {
		if name == "bad" {
			failures.Add(1)
		}
	})

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool {
		return ok.runs.Load() >= 2 && failures.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	assert.False(t, s.IsRunning())
	assert.Zero(t, disabled.runs.Load())

	assert.GreaterOrEqual(t, testutil.ToFloat64(s.metrics.runs.WithLabelValues("ok", "success")), 2.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(s.metrics.runs.WithLabelValues("bad", "failure")), 1.0)
	assert.NotEmpty(t, s.History(0))
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := newTestScheduler(nil)
	slow := &fakeJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(slow, Every(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return slow.runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), slow.runs.Load())

	// Stop cancels the context of the blocked run.
	require.NoError(t, s.Stop())
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler(nil)
	panicky := &fakeJob{name: "panicky", panic: true}
	require.NoError(t, s.Register(panicky, Every(time.Hour)))
	require.NoError(t, s.Register(&fakeJob{name: "fine"}, Every(time.Hour)))

	res, err := s.RunNow(context.Background(), "panicky")
	assert.ErrorIs(t, err, ErrJobPanicked)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.True(t, res.Manual)

	res, err = s.RunNow(context.Background(), "fine")
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	history := s.History(1)
	require.Len(t, history, 1)
	assert.Equal(t, "fine", history[0].JobName)
}

func TestScheduler_JobTimeout(t *testing.T) {
	s := New(Config{Logger: logger.Discard(), JobTimeout: 10 * time.Millisecond})
	stuck := &fakeJob{name: "stuck", block: make(chan struct{})}
	require.NoError(t, s.Register(stuck, Every(time.Hour)))

	res, err := s.RunNow(context.Background(), "stuck")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.False(t, res.Success)
}
