package command

import (
	"context"
	"fmt"

	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/domain/task"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANGE TASK STATUS COMMAND
// Any-direction transitions. Entering completed stamps completedAt and awards
// +50 once per task; pending → in-progress awards +10 once per task. Leaving
// completed decrements the counter but never revokes points.
// ══════════════════════════════════════════════════════════════════════════════

// ChangeTaskStatusCommand moves a task to a new status.
type ChangeTaskStatusCommand struct {
	UserID string `validate:"required"`
	TaskID string `validate:"required"`
	Status string `validate:"required,oneof=pending in-progress completed"`
}

// Validate validates the command.
func (c ChangeTaskStatusCommand) Validate() error {
	return validateCommand("ChangeTaskStatus", c)
}

// ChangeTaskStatusResult contains the updated task and progress.
type ChangeTaskStatusResult struct {
	Task         *task.Task
	From         task.Status
	Progress     *progress.UserProgress
	PointsEarned int
	Unlocked     []progress.Unlock
}

// ChangeTaskStatusHandler handles ChangeTaskStatusCommand.
type ChangeTaskStatusHandler struct {
	tasks     task.Repository
	recorder  *ProgressRecorder
	publisher shared.EventPublisher
	clock     timeutil.Clock
}

// NewChangeTaskStatusHandler creates a new ChangeTaskStatusHandler.
func NewChangeTaskStatusHandler(tasks task.Repository, recorder *ProgressRecorder, publisher shared.EventPublisher) *ChangeTaskStatusHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &ChangeTaskStatusHandler{tasks: tasks, recorder: recorder, publisher: publisher, clock: timeutil.Now}
}

// Handle executes the command.
func (h *ChangeTaskStatusHandler) Handle(ctx context.Context, cmd ChangeTaskStatusCommand) (*ChangeTaskStatusResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := h.clock()

	t, err := h.tasks.Get(ctx, cmd.UserID, cmd.TaskID)
	if err != nil {
		return nil, err
	}

	tr, err := t.ChangeStatus(task.Status(cmd.Status), now)
	if err != nil {
		return nil, err
	}
	if !tr.Changed() {
		return &ChangeTaskStatusResult{Task: t, From: tr.From}, nil
	}

	if err := h.tasks.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("change_task_status: failed to save task: %w", err)
	}

	change, err := h.recorder.Record(ctx, cmd.UserID, now, func(p *progress.UserProgress) ([]progress.PointAward, error) {
		p.TaskMoved(string(tr.From), string(tr.To))

		var awards []progress.PointAward
		if tr.Completed() {
			if a := progress.TaskCompletedAward(t.ID, now); p.Award(a) {
				awards = append(awards, a)
			}
		}
		if tr.Started() {
			if a := progress.TaskStartedAward(t.ID, now); p.Award(a) {
				awards = append(awards, a)
			}
		}
		return awards, nil
	})
	if err != nil {
		return nil, fmt.Errorf("change_task_status: failed to update progress: %w", err)
	}

	publish(h.publisher, shared.NewTaskStatusChangedEvent(t.ID, t.OwnerID, string(tr.From), string(tr.To)))

	return &ChangeTaskStatusResult{
		Task:         t,
		From:         tr.From,
		Progress:     change.Progress,
		PointsEarned: sumPoints(change.Awards),
		Unlocked:     change.Unlocks,
	}, nil
}
