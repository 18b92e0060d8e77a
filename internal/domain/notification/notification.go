// Package notification содержит ленту событий пользователя: повышения уровня,
// новые достижения и вехи серии. Лента хранит только последние записи.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPE
// ══════════════════════════════════════════════════════════════════════════════

// Type определяет тип записи ленты.
type Type string

const (
	// TypeWelcome - первая запись после регистрации.
	TypeWelcome Type = "welcome"

	// TypeLevelUp - повышение уровня.
	// "⬆️ Level 5"
	TypeLevelUp Type = "level_up"

	// TypeAchievement - получено достижение.
	// "🏅 Bookworm"
	TypeAchievement Type = "achievement"

	// TypeStreakMilestone - серия достигла вехи.
	// "🔥 7 days in a row"
	TypeStreakMilestone Type = "streak_milestone"
)

// IsValid проверяет, что тип корректен.
func (t Type) IsValid() bool {
	switch t {
	case TypeWelcome, TypeLevelUp, TypeAchievement, TypeStreakMilestone:
		return true
	}
	return false
}

// DefaultFeedSize - сколько записей хранится на пользователя.
const DefaultFeedSize = 50

// StreakMilestones - длины серии, о которых пишем в ленту.
var StreakMilestones = []int{3, 7, 14, 30, 60, 100}

// IsStreakMilestone сообщает, является ли длина серии вехой.
func IsStreakMilestone(days int) bool {
	for _, m := range StreakMilestones {
		if m == days {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrEmptyUserID = errors.New("notification user id is empty")
	ErrInvalidType = errors.New("invalid notification type")
)

// Notification - одна запись ленты.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// New создаёт запись ленты.
func New(userID string, typ Type, title, message string, now time.Time) (*Notification, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if !typ.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	return &Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: now,
	}, nil
}

// Welcome - запись для нового пользователя.
func Welcome(userID, displayName string, now time.Time) (*Notification, error) {
	title := "Welcome to Study Hub"
	if displayName != "" {
		title = "Welcome, " + displayName
	}
	return New(userID, TypeWelcome, title, "Start a timer or add your first task to earn points.", now)
}

// LevelUp - запись о новом уровне.
func LevelUp(userID string, level int, now time.Time) (*Notification, error) {
	return New(userID, TypeLevelUp,
		fmt.Sprintf("⬆️ Level %d", level),
		fmt.Sprintf("You reached level %d. Keep going!", level), now)
}

// Achievement - запись о полученном достижении.
func Achievement(userID, name, description string, now time.Time) (*Notification, error) {
	return New(userID, TypeAchievement, "🏅 "+name, description, now)
}

// StreakMilestone - запись о вехе серии.
func StreakMilestone(userID string, days int, now time.Time) (*Notification, error) {
	return New(userID, TypeStreakMilestone,
		fmt.Sprintf("🔥 %d days in a row", days),
		fmt.Sprintf("You have studied %d days in a row. Don't break the chain!", days), now)
}

// ══════════════════════════════════════════════════════════════════════════════
// FEED
// ══════════════════════════════════════════════════════════════════════════════

// Feed - ограниченная лента пользователя, новые записи первыми.
type Feed interface {
	// Push добавляет запись и обрезает ленту до DefaultFeedSize.
	Push(ctx context.Context, n *Notification) error

	// Recent возвращает до limit последних записей.
	Recent(ctx context.Context, userID string, limit int) ([]*Notification, error)
}
