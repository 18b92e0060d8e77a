package command

import (
	"context"
	"fmt"

	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/domain/task"
)

// DeleteTaskCommand removes a task. Points and achievements are kept.
type DeleteTaskCommand struct {
	UserID string `validate:"required"`
	TaskID string `validate:"required"`
}

// Validate validates the command.
func (c DeleteTaskCommand) Validate() error {
	return validateCommand("DeleteTask", c)
}

// DeleteTaskHandler handles DeleteTaskCommand.
type DeleteTaskHandler struct {
	tasks     task.Repository
	store     progress.Repository
	publisher shared.EventPublisher
}

// NewDeleteTaskHandler creates a new DeleteTaskHandler.
func NewDeleteTaskHandler(tasks task.Repository, store progress.Repository, publisher shared.EventPublisher) *DeleteTaskHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &DeleteTaskHandler{tasks: tasks, store: store, publisher: publisher}
}

// Handle executes the command.
func (h *DeleteTaskHandler) Handle(ctx context.Context, cmd DeleteTaskCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	t, err := h.tasks.Get(ctx, cmd.UserID, cmd.TaskID)
	if err != nil {
		return err
	}
	if err := h.tasks.Delete(ctx, cmd.UserID, cmd.TaskID); err != nil {
		return fmt.Errorf("delete_task: failed to delete task: %w", err)
	}

	if _, err := h.store.Update(ctx, cmd.UserID, func(p *progress.UserProgress) error {
		p.TaskRemoved(string(t.Status))
		return nil
	}); err != nil {
		return fmt.Errorf("delete_task: failed to update progress: %w", err)
	}

	publish(h.publisher, shared.NewTaskDeletedEvent(t.ID, t.OwnerID))
	return nil
}
