package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studyhub/study-hub/internal/domain/progress"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/domain/task"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE TASK COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// CreateTaskCommand contains the new task.
type CreateTaskCommand struct {
	UserID      string `validate:"required"`
	Title       string `validate:"required,max=200"`
	Subject     string `validate:"required"`
	Priority    string `validate:"omitempty,oneof=low medium high"`
	Description string `validate:"max=2000"`
	DueDate     *time.Time
}

// Validate validates the command.
func (c CreateTaskCommand) Validate() error {
	return validateCommand("CreateTask", c)
}

// CreateTaskResult contains the saved task.
type CreateTaskResult struct {
	Task *task.Task
}

// CreateTaskHandler handles CreateTaskCommand.
type CreateTaskHandler struct {
	tasks     task.Repository
	store     progress.Repository
	publisher shared.EventPublisher
	clock     timeutil.Clock
}

// NewCreateTaskHandler creates a new CreateTaskHandler.
func NewCreateTaskHandler(tasks task.Repository, store progress.Repository, publisher shared.EventPublisher) *CreateTaskHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &CreateTaskHandler{tasks: tasks, store: store, publisher: publisher, clock: timeutil.Now}
}

// Handle executes the command. The subject must be one of the user's subjects.
func (h *CreateTaskHandler) Handle(ctx context.Context, cmd CreateTaskCommand) (*CreateTaskResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := h.clock()

	if err := h.checkSubject(ctx, cmd.UserID, cmd.Subject, now); err != nil {
		return nil, err
	}

	t, err := task.New(task.NewTaskParams{
		OwnerID:     cmd.UserID,
		Title:       cmd.Title,
		Subject:     cmd.Subject,
		Priority:    task.Priority(cmd.Priority),
		Description: cmd.Description,
		DueDate:     cmd.DueDate,
	}, now)
	if err != nil {
		return nil, err
	}

	if err := h.tasks.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("create_task: failed to save task: %w", err)
	}

	if _, err := h.store.Update(ctx, cmd.UserID, func(p *progress.UserProgress) error {
		p.TaskAdded(string(t.Status))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("create_task: failed to update progress: %w", err)
	}

	publish(h.publisher, shared.NewTaskCreatedEvent(t.ID, t.OwnerID, t.Subject))
	return &CreateTaskResult{Task: t}, nil
}

func (h *CreateTaskHandler) checkSubject(ctx context.Context, userID, subject string, now time.Time) error {
	p, err := h.store.Get(ctx, userID)
	if errors.Is(err, progress.ErrProgressNotFound) {
		p = progress.New(userID, now)
	} else if err != nil {
		return fmt.Errorf("create_task: failed to load subjects: %w", err)
	}
	if !p.HasSubject(subject) {
		return task.ErrUnknownSubject
	}
	return nil
}
