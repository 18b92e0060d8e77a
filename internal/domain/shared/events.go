// Package shared contains the error taxonomy and domain events used by every
// domain package.
package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event.
type EventType string

const (
	// Progress
	EventProgressChanged     EventType = "progress.changed"
	EventPointsAwarded       EventType = "progress.points_awarded"
	EventLevelUp             EventType = "progress.level_up"
	EventStreakUpdated       EventType = "progress.streak_updated"
	EventAchievementUnlocked EventType = "progress.achievement_unlocked"

	// Tasks
	EventTaskCreated       EventType = "task.created"
	EventTaskStatusChanged EventType = "task.status_changed"
	EventTaskDeleted       EventType = "task.deleted"

	// Timer
	EventSessionCompleted EventType = "timer.session_completed"

	// Flashcards
	EventDeckCreated EventType = "flashcard.deck_created"

	// Identity
	EventUserRegistered EventType = "identity.user_registered"
)

// Event is the interface every domain event implements.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]interface{}
}

// BaseEvent provides the common Event fields.
type BaseEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

// NewBaseEvent stamps a new event for the aggregate.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress events (aggregate = user id)
// ═══════════════════════════════════════════════════════════════════════════

// ProgressChangedEvent is published after every successful progress update.
type ProgressChangedEvent struct {
	BaseEvent
	UserID  string `json:"user_id"`
	Version int64  `json:"version"`
	Points  int    `json:"points"`
}

func (e ProgressChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"version": e.Version,
		"points":  e.Points,
	}
}

func NewProgressChangedEvent(userID string, version int64, points int) ProgressChangedEvent {
	return ProgressChangedEvent{
		BaseEvent: NewBaseEvent(EventProgressChanged, userID),
		UserID:    userID,
		Version:   version,
		Points:    points,
	}
}

// PointsAwardedEvent is published once per newly credited idempotency key.
type PointsAwardedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Key      string `json:"key"`
	Reason   string `json:"reason"`
	Amount   int    `json:"amount"`
	NewTotal int    `json:"new_total"`
}

func (e PointsAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"key":       e.Key,
		"reason":    e.Reason,
		"amount":    e.Amount,
		"new_total": e.NewTotal,
	}
}

func NewPointsAwardedEvent(userID, key, reason string, amount, newTotal int) PointsAwardedEvent {
	return PointsAwardedEvent{
		BaseEvent: NewBaseEvent(EventPointsAwarded, userID),
		UserID:    userID,
		Key:       key,
		Reason:    reason,
		Amount:    amount,
		NewTotal:  newTotal,
	}
}

// LevelUpEvent is published when a points change crosses a level threshold.
type LevelUpEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
}

func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
	}
}

func NewLevelUpEvent(userID string, oldLevel, newLevel int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID),
		UserID:    userID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}

// StreakUpdatedEvent is published when the current streak value changes.
type StreakUpdatedEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	Previous int    `json:"previous"`
	Current  int    `json:"current"`
	Longest  int    `json:"longest"`
}

func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"previous": e.Previous,
		"current":  e.Current,
		"longest":  e.Longest,
	}
}

func NewStreakUpdatedEvent(userID string, previous, current, longest int) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent: NewBaseEvent(EventStreakUpdated, userID),
		UserID:    userID,
		Previous:  previous,
		Current:   current,
		Longest:   longest,
	}
}

// AchievementUnlockedEvent is published once per achievement per user.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`
	Name          string `json:"name"`
}

func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"achievement_id": e.AchievementID,
		"name":           e.Name,
	}
}

func NewAchievementUnlockedEvent(userID, achievementID, name string) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, userID),
		UserID:        userID,
		AchievementID: achievementID,
		Name:          name,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Task events (aggregate = task id)
// ═══════════════════════════════════════════════════════════════════════════

// TaskCreatedEvent is published when a task is added.
type TaskCreatedEvent struct {
	BaseEvent
	OwnerID string `json:"owner_id"`
	Subject string `json:"subject"`
}

func (e TaskCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"task_id":  e.AggregateId,
		"owner_id": e.OwnerID,
		"subject":  e.Subject,
	}
}

func NewTaskCreatedEvent(taskID, ownerID, subject string) TaskCreatedEvent {
	return TaskCreatedEvent{
		BaseEvent: NewBaseEvent(EventTaskCreated, taskID),
		OwnerID:   ownerID,
		Subject:   subject,
	}
}

// TaskStatusChangedEvent is published on every status transition.
type TaskStatusChangedEvent struct {
	BaseEvent
	OwnerID string `json:"owner_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

func (e TaskStatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"task_id":  e.AggregateId,
		"owner_id": e.OwnerID,
		"from":     e.From,
		"to":       e.To,
	}
}

func NewTaskStatusChangedEvent(taskID, ownerID, from, to string) TaskStatusChangedEvent {
	return TaskStatusChangedEvent{
		BaseEvent: NewBaseEvent(EventTaskStatusChanged, taskID),
		OwnerID:   ownerID,
		From:      from,
		To:        to,
	}
}

// TaskDeletedEvent is published when a task is removed.
type TaskDeletedEvent struct {
	BaseEvent
	OwnerID string `json:"owner_id"`
}

func (e TaskDeletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"task_id":  e.AggregateId,
		"owner_id": e.OwnerID,
	}
}

func NewTaskDeletedEvent(taskID, ownerID string) TaskDeletedEvent {
	return TaskDeletedEvent{
		BaseEvent: NewBaseEvent(EventTaskDeleted, taskID),
		OwnerID:   ownerID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Timer, flashcard and identity events
// ═══════════════════════════════════════════════════════════════════════════

// SessionCompletedEvent is published when a pomodoro runs to zero.
type SessionCompletedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	Subject       string `json:"subject"`
	SessionNumber int    `json:"session_number"`
	NextMode      string `json:"next_mode"`
}

func (e SessionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"subject":        e.Subject,
		"session_number": e.SessionNumber,
		"next_mode":      e.NextMode,
	}
}

func NewSessionCompletedEvent(userID, subject string, sessionNumber int, nextMode string) SessionCompletedEvent {
	return SessionCompletedEvent{
		BaseEvent:     NewBaseEvent(EventSessionCompleted, userID),
		UserID:        userID,
		Subject:       subject,
		SessionNumber: sessionNumber,
		NextMode:      nextMode,
	}
}

// DeckCreatedEvent is published when a flashcard deck is saved.
type DeckCreatedEvent struct {
	BaseEvent
	OwnerID   string `json:"owner_id"`
	CardCount int    `json:"card_count"`
}

func (e DeckCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"deck_id":    e.AggregateId,
		"owner_id":   e.OwnerID,
		"card_count": e.CardCount,
	}
}

func NewDeckCreatedEvent(deckID, ownerID string, cardCount int) DeckCreatedEvent {
	return DeckCreatedEvent{
		BaseEvent: NewBaseEvent(EventDeckCreated, deckID),
		OwnerID:   ownerID,
		CardCount: cardCount,
	}
}

// UserRegisteredEvent is published after a successful sign-up.
type UserRegisteredEvent struct {
	BaseEvent
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func (e UserRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.AggregateId,
		"email":        e.Email,
		"display_name": e.DisplayName,
	}
}

func NewUserRegisteredEvent(userID, email, displayName string) UserRegisteredEvent {
	return UserRegisteredEvent{
		BaseEvent:   NewBaseEvent(EventUserRegistered, userID),
		Email:       email,
		DisplayName: displayName,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler handles one event.
type EventHandler func(event Event) error

// Unsubscribe removes a previously registered handler. Safe to call twice.
type Unsubscribe func()

// EventPublisher publishes events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber registers handlers.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) (Unsubscribe, error)
	SubscribeAll(handler EventHandler) (Unsubscribe, error)
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error { return nil }

// PublishAll publishes events in order and returns the first error.
func PublishAll(p EventPublisher, events []Event) error {
	var first error
	for _, e := range events {
		if err := p.Publish(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
