package command

import (
	"context"
	"fmt"
	"time"

	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD STUDY TIME COMMAND
// Adds elapsed pomodoro seconds: totals, per-subject time, weekly goal,
// today's history entry, whole-hour points and the streak.
// ══════════════════════════════════════════════════════════════════════════════

// RecordStudyTimeCommand contains the study time to record.
type RecordStudyTimeCommand struct {
	UserID  string `validate:"required"`
	Subject string
	Seconds int64 `validate:"gt=0"`

	// At defaults to now.
	At time.Time
}

// Validate validates the command.
func (c RecordStudyTimeCommand) Validate() error {
	return validateCommand("RecordStudyTime", c)
}

// RecordStudyTimeResult contains the updated progress.
type RecordStudyTimeResult struct {
	Progress     *progress.UserProgress
	PointsEarned int
	Unlocked     []progress.Unlock
	StreakDays   int
}

// RecordStudyTimeHandler handles RecordStudyTimeCommand.
type RecordStudyTimeHandler struct {
	recorder *ProgressRecorder
}

// NewRecordStudyTimeHandler creates a new RecordStudyTimeHandler.
func NewRecordStudyTimeHandler(recorder *ProgressRecorder) *RecordStudyTimeHandler {
	return &RecordStudyTimeHandler{recorder: recorder}
}

// Handle executes the command.
func (h *RecordStudyTimeHandler) Handle(ctx context.Context, cmd RecordStudyTimeCommand) (*RecordStudyTimeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	at := cmd.At
	if at.IsZero() {
		at = timeutil.Now()
	}

	change, err := h.recorder.Record(ctx, cmd.UserID, at, func(p *progress.UserProgress) ([]progress.PointAward, error) {
		out, err := p.RecordStudy(cmd.Subject, cmd.Seconds, at)
		if err != nil {
			return nil, err
		}
		return out.Awards, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_study_time: %w", err)
	}

	return &RecordStudyTimeResult{
		Progress:     change.Progress,
		PointsEarned: sumPoints(change.Awards),
		Unlocked:     change.Unlocks,
		StreakDays:   change.Progress.Streak.Current,
	}, nil
}

func sumPoints(awards []progress.PointAward) int {
	total := 0
	for _, a := range awards {
		total += a.Points
	}
	return total
}
