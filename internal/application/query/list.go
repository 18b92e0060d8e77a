package query

import (
	"context"
	"errors"
	"log/slog"

	"github.com/studyhub/study-hub/internal/domain/flashcard"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST TASKS / LIST DECKS
// Упорядоченный запрос может упасть (например, нет индекса). Тогда берём
// неупорядоченный и сортируем сами. Если упали оба, возвращаем ошибку,
// которую shared.IsRetryable признаёт повторяемой.
// ══════════════════════════════════════════════════════════════════════════════

// ErrListUnavailable - оба запроса списка завершились ошибкой.
var ErrListUnavailable = errors.New("list unavailable")

func listFailed(domain string, ordered, unordered error) error {
	return shared.WrapError(domain, "List", shared.ErrServiceUnavailable,
		"Could not load your list. Please try again.",
		errors.Join(ErrListUnavailable, ordered, unordered))
}

// ListTasksQuery - задачи пользователя.
type ListTasksQuery struct {
	UserID string

	// Status - фильтр по статусу (пустой = все).
	Status task.Status
}

// ListTasksResult - задачи, новые первыми.
type ListTasksResult struct {
	Tasks []*task.Task `json:"tasks"`

	// Degraded - список получен запасным запросом.
	Degraded bool `json:"degraded"`
}

// ListTasksHandler обрабатывает ListTasksQuery.
type ListTasksHandler struct {
	tasks  task.Repository
	logger *slog.Logger
}

// NewListTasksHandler создаёт обработчик.
func NewListTasksHandler(tasks task.Repository, logger *slog.Logger) *ListTasksHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListTasksHandler{tasks: tasks, logger: logger.With("handler", "list_tasks")}
}

// Handle выполняет запрос.
func (h *ListTasksHandler) Handle(ctx context.Context, q ListTasksQuery) (*ListTasksResult, error) {
	if q.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	if q.Status != "" && !q.Status.IsValid() {
		return nil, task.ErrInvalidStatus
	}

	res := &ListTasksResult{}
	list, err := h.tasks.ListByOwner(ctx, q.UserID)
	if err != nil {
		h.logger.Warn("ordered task query failed, falling back", "user_id", q.UserID, "error", err)

		fallback, ferr := h.tasks.ListByOwnerUnordered(ctx, q.UserID)
		if ferr != nil {
			return nil, listFailed("task", err, ferr)
		}
		task.SortNewestFirst(fallback)
		list = fallback
		res.Degraded = true
	}

	res.Tasks = make([]*task.Task, 0, len(list))
	for _, t := range list {
		if q.Status == "" || t.Status == q.Status {
			res.Tasks = append(res.Tasks, t)
		}
	}
	return res, nil
}

// ListDecksQuery - колоды пользователя.
type ListDecksQuery struct {
	UserID string
}

// ListDecksResult - колоды, новые первыми.
type ListDecksResult struct {
	Decks    []*flashcard.Deck `json:"decks"`
	Degraded bool              `json:"degraded"`
}

// ListDecksHandler обрабатывает ListDecksQuery.
type ListDecksHandler struct {
	decks  flashcard.Repository
	logger *slog.Logger
}

// NewListDecksHandler создаёт обработчик.
func NewListDecksHandler(decks flashcard.Repository, logger *slog.Logger) *ListDecksHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListDecksHandler{decks: decks, logger: logger.With("handler", "list_decks")}
}

// Handle выполняет запрос.
func (h *ListDecksHandler) Handle(ctx context.Context, q ListDecksQuery) (*ListDecksResult, error) {
	if q.UserID == "" {
		return nil, errors.New("user_id is required")
	}

	list, err := h.decks.ListByOwner(ctx, q.UserID)
	if err == nil {
		return &ListDecksResult{Decks: list}, nil
	}
	h.logger.Warn("ordered deck query failed, falling back", "user_id", q.UserID, "error", err)

	fallback, ferr := h.decks.ListByOwnerUnordered(ctx, q.UserID)
	if ferr != nil {
		return nil, listFailed("flashcard", err, ferr)
	}
	flashcard.SortNewestFirst(fallback)
	return &ListDecksResult{Decks: fallback, Degraded: true}, nil
}
