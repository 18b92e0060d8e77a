package command

import (
	"context"
	"fmt"

	"github.com/studyhub/study-hub/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBJECTS & WEEKLY GOAL
// ══════════════════════════════════════════════════════════════════════════════

// AddSubjectCommand adds a subject to the user's list.
type AddSubjectCommand struct {
	UserID string `validate:"required"`
	Name   string `validate:"required,max=60"`
}

// Validate validates the command.
func (c AddSubjectCommand) Validate() error {
	return validateCommand("AddSubject", c)
}

// AddSubjectHandler handles AddSubjectCommand.
type AddSubjectHandler struct {
	store progress.Repository
}

// NewAddSubjectHandler creates a new AddSubjectHandler.
func NewAddSubjectHandler(store progress.Repository) *AddSubjectHandler {
	return &AddSubjectHandler{store: store}
}

// Handle adds the trimmed subject. Case-insensitive duplicates return progress.ErrSubjectExists.
func (h *AddSubjectHandler) Handle(ctx context.Context, cmd AddSubjectCommand) ([]string, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	p, err := h.store.Update(ctx, cmd.UserID, func(p *progress.UserProgress) error {
		_, err := p.AddSubject(cmd.Name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add_subject: %w", err)
	}
	return p.Subjects, nil
}

// SetWeeklyGoalCommand sets the weekly study goal in hours.
type SetWeeklyGoalCommand struct {
	UserID string  `validate:"required"`
	Hours  float64 `validate:"gt=0,lte=168"`
}

// Validate validates the command.
func (c SetWeeklyGoalCommand) Validate() error {
	return validateCommand("SetWeeklyGoal", c)
}

// SetWeeklyGoalHandler handles SetWeeklyGoalCommand.
type SetWeeklyGoalHandler struct {
	store progress.Repository
}

// NewSetWeeklyGoalHandler creates a new SetWeeklyGoalHandler.
func NewSetWeeklyGoalHandler(store progress.Repository) *SetWeeklyGoalHandler {
	return &SetWeeklyGoalHandler{store: store}
}

// Handle executes the command.
func (h *SetWeeklyGoalHandler) Handle(ctx context.Context, cmd SetWeeklyGoalCommand) (*progress.UserProgress, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	p, err := h.store.Update(ctx, cmd.UserID, func(p *progress.UserProgress) error {
		return p.SetWeeklyGoal(cmd.Hours)
	})
	if err != nil {
		return nil, fmt.Errorf("set_weekly_goal: %w", err)
	}
	return p, nil
}
