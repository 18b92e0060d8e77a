// Package flashcard содержит колоды карточек для повторения.
package flashcard

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/study-hub/internal/domain/shared"
)

// titleLimit - длина заголовка, собранного из темы.
const titleLimit = 30

var (
	// ErrDeckNotFound - колода не найдена или чужая.
	ErrDeckNotFound = shared.NewDomainError("flashcard", "Get", shared.ErrNotFound, "deck not found")

	// ErrEmptyDeck - в колоде нет ни одной заполненной карточки.
	ErrEmptyDeck = shared.NewDomainError("flashcard", "NewDeck", shared.ErrEmptyValue, "deck has no cards")
)

// Card - карточка: вопрос и ответ.
type Card struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Deck - сохранённая колода.
type Deck struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Title        string    `json:"title"`
	Cards        []Card    `json:"cards"`
	CardCount    int       `json:"card_count"`
	SourceTaskID string    `json:"source_task_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewDeck создаёт колоду, отбрасывая пустые карточки.
func NewDeck(ownerID, title string, cards []Card, sourceTaskID string, now time.Time) (*Deck, error) {
	clean := CleanCards(cards)
	if len(clean) == 0 {
		return nil, ErrEmptyDeck
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled deck"
	}
	return &Deck{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Title:        title,
		Cards:        clean,
		CardCount:    len(clean),
		SourceTaskID: sourceTaskID,
		CreatedAt:    now,
	}, nil
}

// CleanCards обрезает пробелы и убирает карточки без вопроса или ответа.
func CleanCards(cards []Card) []Card {
	out := make([]Card, 0, len(cards))
	for _, c := range cards {
		c.Front = strings.TrimSpace(c.Front)
		c.Back = strings.TrimSpace(c.Back)
		if c.Front == "" || c.Back == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// TitleFor строит заголовок колоды: по имени документа или по первым 30 символам темы.
func TitleFor(topic, documentName string) string {
	if documentName != "" {
		return "Notes on " + documentName
	}
	r := []rune(strings.TrimSpace(topic))
	if len(r) <= titleLimit {
		return string(r)
	}
	return string(r[:titleLimit]) + "..."
}

// Repository - хранилище колод.
type Repository interface {
	Save(ctx context.Context, d *Deck) error
	Get(ctx context.Context, ownerID, id string) (*Deck, error)
	Delete(ctx context.Context, ownerID, id string) error

	// ListByOwner возвращает колоды, новые первыми.
	ListByOwner(ctx context.Context, ownerID string) ([]*Deck, error)

	// ListByOwnerUnordered - запасной запрос без сортировки.
	ListByOwnerUnordered(ctx context.Context, ownerID string) ([]*Deck, error)
}

// SortNewestFirst сортирует колоды по CreatedAt по убыванию.
func SortNewestFirst(decks []*Deck) {
	sort.SliceStable(decks, func(i, j int) bool {
		return decks[i].CreatedAt.After(decks[j].CreatedAt)
	})
}
