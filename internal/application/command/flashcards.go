package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/studyhub/study-hub/internal/domain/assistant"
	"github.com/studyhub/study-hub/internal/domain/flashcard"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/domain/task"
	"github.com/studyhub/study-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GENERATE DECK COMMAND
// Generates flashcards from a topic, a document or an existing task and saves
// them as a deck.
// ══════════════════════════════════════════════════════════════════════════════

// GenerateDeckCommand contains the generation source.
type GenerateDeckCommand struct {
	UserID   string `validate:"required"`
	Topic    string `validate:"max=2000"`
	TaskID   string
	Document *assistant.Document
	Count    int `validate:"gte=0,lte=20"`
}

// Validate validates the command.
func (c GenerateDeckCommand) Validate() error {
	return validateCommand("GenerateDeck", c)
}

// GenerateDeckHandler handles GenerateDeckCommand.
type GenerateDeckHandler struct {
	assistant *assistant.Service
	decks     flashcard.Repository
	tasks     task.Repository
	publisher shared.EventPublisher
}

// NewGenerateDeckHandler creates a new GenerateDeckHandler.
func NewGenerateDeckHandler(svc *assistant.Service, decks flashcard.Repository, tasks task.Repository, publisher shared.EventPublisher) *GenerateDeckHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	return &GenerateDeckHandler{assistant: svc, decks: decks, tasks: tasks, publisher: publisher}
}

// Handle generates and saves the deck. Generation failures are returned as
// assistant.ErrGenerationFailed.
func (h *GenerateDeckHandler) Handle(ctx context.Context, cmd GenerateDeckCommand) (*flashcard.Deck, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	src := assistant.Source{Topic: strings.TrimSpace(cmd.Topic), Document: cmd.Document}
	if cmd.TaskID != "" && src.Topic == "" && src.Document == nil {
		t, err := h.tasks.Get(ctx, cmd.UserID, cmd.TaskID)
		if err != nil {
			return nil, err
		}
		src.Topic = t.Title
		if t.Description != "" {
			src.Topic += " - " + t.Description
		}
	}

	cards, err := h.assistant.GenerateCards(ctx, src, cmd.Count)
	if err != nil {
		return nil, err
	}

	docName := ""
	if src.Document != nil {
		docName = src.Document.Name
	}
	deck, err := flashcard.NewDeck(cmd.UserID, flashcard.TitleFor(src.Topic, docName), cards, cmd.TaskID, timeutil.Now())
	if err != nil {
		return nil, err
	}
	if err := h.decks.Save(ctx, deck); err != nil {
		return nil, fmt.Errorf("generate_deck: failed to save deck: %w", err)
	}

	publish(h.publisher, shared.NewDeckCreatedEvent(deck.ID, deck.OwnerID, deck.CardCount))
	return deck, nil
}

// DeleteDeckCommand removes a deck.
type DeleteDeckCommand struct {
	UserID string `validate:"required"`
	DeckID string `validate:"required"`
}

// DeleteDeckHandler handles DeleteDeckCommand.
type DeleteDeckHandler struct {
	decks flashcard.Repository
}

// NewDeleteDeckHandler creates a new DeleteDeckHandler.
func NewDeleteDeckHandler(decks flashcard.Repository) *DeleteDeckHandler {
	return &DeleteDeckHandler{decks: decks}
}

// Handle executes the command.
func (h *DeleteDeckHandler) Handle(ctx context.Context, cmd DeleteDeckCommand) error {
	if err := validateCommand("DeleteDeck", cmd); err != nil {
		return err
	}
	return h.decks.Delete(ctx, cmd.UserID, cmd.DeckID)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHAT COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// ChatCommand is one chatbot message.
type ChatCommand struct {
	UserID  string `validate:"required"`
	Message string `validate:"required,max=4000"`
}

// ChatHandler handles ChatCommand.
type ChatHandler struct {
	assistant *assistant.Service
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(svc *assistant.Service) *ChatHandler {
	return &ChatHandler{assistant: svc}
}

// Handle answers the message, substituting a canned reply when generation fails.
func (h *ChatHandler) Handle(ctx context.Context, cmd ChatCommand) (assistant.Reply, error) {
	if err := validateCommand("Chat", cmd); err != nil {
		return assistant.Reply{}, err
	}
	return h.assistant.Ask(ctx, cmd.Message)
}
