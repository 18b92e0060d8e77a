// Package task содержит учебные задачи пользователя и их жизненный цикл.
package task

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/study-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Status - статус задачи. Переходы разрешены в любую сторону.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// IsValid проверяет статус.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priority - приоритет задачи.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid проверяет приоритет.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrTaskNotFound - задача не найдена или принадлежит другому пользователю.
	ErrTaskNotFound = shared.NewDomainError("task", "Get", shared.ErrNotFound, "task not found")

	// ErrEmptyTitle - пустой заголовок.
	ErrEmptyTitle = shared.NewDomainError("task", "New", shared.ErrEmptyValue, "task title is required")

	// ErrUnknownSubject - предмета нет в списке пользователя.
	ErrUnknownSubject = shared.NewDomainError("task", "New", shared.ErrInvalidInput, "subject is not in your subject list")

	// ErrInvalidStatus - неизвестный статус.
	ErrInvalidStatus = shared.NewDomainError("task", "ChangeStatus", shared.ErrInvalidInput, "invalid task status")

	// ErrInvalidPriority - неизвестный приоритет.
	ErrInvalidPriority = shared.NewDomainError("task", "New", shared.ErrInvalidInput, "invalid task priority")
)

// ══════════════════════════════════════════════════════════════════════════════
// TASK ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Task - учебная задача.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Title       string     `json:"title"`
	Subject     string     `json:"subject"`
	Priority    Priority   `json:"priority"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Status      Status     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewTaskParams - параметры создания задачи.
type NewTaskParams struct {
	OwnerID     string
	Title       string
	Subject     string
	Priority    Priority
	Description string
	DueDate     *time.Time
}

// New создаёт задачу в статусе pending. Проверка предмета по списку
// пользователя выполняется вызывающей стороной.
func New(p NewTaskParams, now time.Time) (*Task, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if p.Priority == "" {
		p.Priority = PriorityMedium
	}
	if !p.Priority.IsValid() {
		return nil, ErrInvalidPriority
	}
	return &Task{
		ID:          uuid.NewString(),
		OwnerID:     p.OwnerID,
		Title:       title,
		Subject:     strings.TrimSpace(p.Subject),
		Priority:    p.Priority,
		Description: strings.TrimSpace(p.Description),
		DueDate:     p.DueDate,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Transition - результат смены статуса.
type Transition struct {
	From Status
	To   Status
}

// Changed сообщает, что статус действительно изменился.
func (t Transition) Changed() bool { return t.From != t.To }

// Completed - задача перешла в completed.
func (t Transition) Completed() bool { return t.Changed() && t.To == StatusCompleted }

// Reopened - задача вышла из completed.
func (t Transition) Reopened() bool { return t.Changed() && t.From == StatusCompleted }

// Started - переход pending → in-progress, единственный, за который дают очки старта.
func (t Transition) Started() bool { return t.From == StatusPending && t.To == StatusInProgress }

// ChangeStatus переводит задачу в новый статус. При входе в completed
// ставится CompletedAt, при выходе - очищается.
func (t *Task) ChangeStatus(to Status, now time.Time) (Transition, error) {
	if !to.IsValid() {
		return Transition{}, ErrInvalidStatus
	}
	tr := Transition{From: t.Status, To: to}
	if !tr.Changed() {
		return tr, nil
	}

	t.Status = to
	t.UpdatedAt = now
	switch {
	case tr.Completed():
		at := now
		t.CompletedAt = &at
	case tr.Reopened():
		t.CompletedAt = nil
	}
	return tr, nil
}

// IsOverdue - задача не завершена и срок прошёл.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.Status != StatusCompleted && t.DueDate != nil && t.DueDate.Before(now)
}

// Clone возвращает копию задачи.
func (t *Task) Clone() *Task {
	c := *t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище задач.
type Repository interface {
	Save(ctx context.Context, t *Task) error
	Get(ctx context.Context, ownerID, id string) (*Task, error)
	Delete(ctx context.Context, ownerID, id string) error

	// ListByOwner возвращает задачи, новые первыми (упорядоченный запрос).
	ListByOwner(ctx context.Context, ownerID string) ([]*Task, error)

	// ListByOwnerUnordered - запрос без сортировки, запасной путь для ListByOwner.
	ListByOwnerUnordered(ctx context.Context, ownerID string) ([]*Task, error)

	// ListCompleted возвращает завершённые задачи для правил достижений.
	ListCompleted(ctx context.Context, ownerID string) ([]*Task, error)
}

// SortNewestFirst сортирует по CreatedAt по убыванию.
func SortNewestFirst(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

// Upcoming возвращает до limit незавершённых задач по сроку (без срока - в конце).
func Upcoming(tasks []*Task, limit int) []*Task {
	var open []*Task
	for _, t := range tasks {
		if t.Status != StatusCompleted {
			open = append(open, t)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i].DueDate, open[j].DueDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	return open
}
