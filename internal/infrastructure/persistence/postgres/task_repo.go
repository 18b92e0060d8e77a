package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/studyhub/study-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASK REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// TaskRepository implements task.Repository for PostgreSQL.
type TaskRepository struct {
	conn *Connection
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(conn *Connection) *TaskRepository {
	return &TaskRepository{conn: conn}
}

var _ task.Repository = (*TaskRepository)(nil)

const taskColumns = `id, owner_id, title, subject, priority, description, due_date, status, completed_at, created_at, updated_at`

// Save inserts or updates the task. Ownership never changes on update.
func (r *TaskRepository) Save(ctx context.Context, t *task.Task) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			subject = EXCLUDED.subject,
			priority = EXCLUDED.priority,
			description = EXCLUDED.description,
			due_date = EXCLUDED.due_date,
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
		WHERE tasks.owner_id = EXCLUDED.owner_id`,
		t.ID, t.OwnerID, t.Title, t.Subject, string(t.Priority), t.Description,
		t.DueDate, string(t.Status), t.CompletedAt, t.CreatedAt, t.UpdatedAt,
	)
	return translate("save task", err)
}

// Get returns the owner's task or task.ErrTaskNotFound.
func (r *TaskRepository) Get(ctx context.Context, ownerID, id string) (*task.Task, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	t, err := scanTask(row)
	if IsNoRows(err) {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, translate("get task", err)
	}
	return t, nil
}

// Delete removes the owner's task.
func (r *TaskRepository) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return translate("delete task", err)
	}
	if tag.RowsAffected() == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}

// ListByOwner returns tasks newest first.
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID string) ([]*task.Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

// ListByOwnerUnordered returns tasks in storage order.
func (r *TaskRepository) ListByOwnerUnordered(ctx context.Context, ownerID string) ([]*task.Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = $1`, ownerID)
}

// ListCompleted returns completed tasks.
func (r *TaskRepository) ListCompleted(ctx context.Context, ownerID string) ([]*task.Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = $1 AND status = 'completed'`, ownerID)
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...interface{}) ([]*task.Task, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, translate("list tasks", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var t task.Task
	var priority, status string
	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Title, &t.Subject, &priority, &t.Description,
		&t.DueDate, &status, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = task.Priority(priority)
	t.Status = task.Status(status)
	return &t, nil
}
