package progress

import (
	"context"
	"time"

	"github.com/studyhub/study-hub/internal/domain/shared"
)

// ErrProgressNotFound - записи прогресса нет.
var ErrProgressNotFound = shared.NewDomainError("progress", "Get", shared.ErrNotFound, "progress record not found")

// UpdateFunc изменяет рабочую копию прогресса. Ошибка отменяет запись.
type UpdateFunc func(p *UserProgress) error

// ProgressChanged - уведомление подписчику после успешного Update.
type ProgressChanged struct {
	UserID    string        `json:"user_id"`
	Version   int64         `json:"version"`
	Progress  *UserProgress `json:"progress"`
	ChangedAt time.Time     `json:"changed_at"`
}

// Repository - чтение и атомарное изменение прогресса.
type Repository interface {
	// Get возвращает прогресс или ErrProgressNotFound.
	Get(ctx context.Context, userID string) (*UserProgress, error)

	// Update выполняет read-modify-write. Если записи нет, fn получает
	// прогресс по умолчанию. fn работает с копией: при ошибке ничего не
	// сохраняется. Version увеличивается на каждую успешную запись.
	Update(ctx context.Context, userID string, fn UpdateFunc) (*UserProgress, error)
}

// Store - хранилище прогресса с подпиской на изменения.
type Store interface {
	Repository

	// Subscribe возвращает канал изменений прогресса пользователя.
	// Канал закрывается после отмены ctx.
	Subscribe(ctx context.Context, userID string) (<-chan ProgressChanged, error)
}

// UserLister перечисляет пользователей для фоновых задач.
type UserLister interface {
	// ListActiveSince возвращает пользователей, чей прогресс менялся после since.
	ListActiveSince(ctx context.Context, since time.Time) ([]string, error)
}

// WeeklyResetter обнуляет недельный прогресс всех пользователей.
type WeeklyResetter interface {
	ResetWeekly(ctx context.Context, weekStart time.Time) (int, error)
}

// ApplyUpdate применяет fn к копии current (или к прогрессу по умолчанию,
// если current nil) и возвращает новую версию. Общая логика для реализаций Store.
func ApplyUpdate(current *UserProgress, userID string, now time.Time, fn UpdateFunc) (*UserProgress, error) {
	var working *UserProgress
	if current == nil {
		working = New(userID, now)
	} else {
		working = current.Clone()
		working.Normalize()
	}

	if err := fn(working); err != nil {
		return nil, err
	}

	working.UserID = userID
	working.Version++
	working.UpdatedAt = now
	return working, nil
}
