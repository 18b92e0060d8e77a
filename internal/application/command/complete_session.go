package command

import (
	"context"
	"fmt"
	"time"

	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/domain/timer"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE SESSION COMMAND
// Counts a finished pomodoro: sessions+1, +25 points keyed by session number,
// streak and achievements.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteSessionCommand marks a pomodoro as completed.
type CompleteSessionCommand struct {
	UserID  string `validate:"required"`
	Subject string
	At      time.Time
}

// Validate validates the command.
func (c CompleteSessionCommand) Validate() error {
	return validateCommand("CompleteSession", c)
}

// CompleteSessionResult contains the updated progress.
type CompleteSessionResult struct {
	Progress      *progress.UserProgress
	SessionNumber int
	PointsEarned  int
	Unlocked      []progress.Unlock
}

// CompleteSessionHandler handles CompleteSessionCommand.
type CompleteSessionHandler struct {
	recorder  *ProgressRecorder
	publisher shared.EventPublisher
	metrics   Metrics
	settings  timer.Settings
}

// NewCompleteSessionHandler creates a new CompleteSessionHandler.
func NewCompleteSessionHandler(recorder *ProgressRecorder, publisher shared.EventPublisher, metrics Metrics, settings timer.Settings) *CompleteSessionHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if settings.LongBreakEvery <= 0 {
		settings = timer.DefaultSettings()
	}
	return &CompleteSessionHandler{recorder: recorder, publisher: publisher, metrics: metrics, settings: settings}
}

// Handle executes the command.
func (h *CompleteSessionHandler) Handle(ctx context.Context, cmd CompleteSessionCommand) (*CompleteSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	at := cmd.At
	if at.IsZero() {
		at = timeutil.Now()
	}

	change, err := h.recorder.Record(ctx, cmd.UserID, at, func(p *progress.UserProgress) ([]progress.PointAward, error) {
		out, err := p.CompleteSession(at)
		if err != nil {
			return nil, err
		}
		return out.Awards, nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete_session: %w", err)
	}

	n := change.Progress.Sessions
	next := timer.ModeShortBreak
	if n%h.settings.LongBreakEvery == 0 {
		next = timer.ModeLongBreak
	}
	h.metrics.SessionCompleted()
	publish(h.publisher, shared.NewSessionCompletedEvent(cmd.UserID, cmd.Subject, n, string(next)))

	return &CompleteSessionResult{
		Progress:      change.Progress,
		SessionNumber: n,
		PointsEarned:  sumPoints(change.Awards),
		Unlocked:      change.Unlocks,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TIMER SINK
// ══════════════════════════════════════════════════════════════════════════════

// TimerSink adapts the study commands to timer.Sink.
type TimerSink struct {
	Study    *RecordStudyTimeHandler
	Sessions *CompleteSessionHandler
}

var _ timer.Sink = (*TimerSink)(nil)

// RecordStudy implements timer.Sink.
func (s *TimerSink) RecordStudy(ctx context.Context, userID, subject string, seconds int64, at time.Time) error {
	_, err := s.Study.Handle(ctx, RecordStudyTimeCommand{UserID: userID, Subject: subject, Seconds: seconds, At: at})
	return err
}

// CompleteSession implements timer.Sink.
func (s *TimerSink) CompleteSession(ctx context.Context, userID, subject string, at time.Time) error {
	_, err := s.Sessions.Handle(ctx, CompleteSessionCommand{UserID: userID, Subject: subject, At: at})
	return err
}
