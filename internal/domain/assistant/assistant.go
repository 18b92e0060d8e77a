// Package assistant describes the text-generation collaborator used for the
// study chatbot and flashcard generation, and the local fallbacks used when it
// is unavailable.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/studyhub/study-hub/internal/domain/flashcard"
	"github.com/studyhub/study-hub/internal/domain/shared"
)

// DefaultCardCount is the number of flashcards requested per deck.
const DefaultCardCount = 5

// MaxDocumentBytes bounds a document passed through to the generator.
const MaxDocumentBytes = 10 << 20

var (
	// ErrGenerationFailed is returned to the user when flashcards could not be generated.
	ErrGenerationFailed = shared.NewDomainError("assistant", "GenerateDeck", shared.ErrExternalService, "Failed to generate flashcards. Please try again.")

	// ErrEmptySource means neither a topic nor a document was provided.
	ErrEmptySource = shared.NewDomainError("assistant", "GenerateDeck", shared.ErrEmptyValue, "provide a topic or a document")

	// ErrDocumentTooLarge rejects oversized uploads before they reach the generator.
	ErrDocumentTooLarge = shared.NewDomainError("assistant", "GenerateDeck", shared.ErrInvalidInput, "document is too large")

	// ErrEmptyMessage rejects blank chat messages.
	ErrEmptyMessage = shared.NewDomainError("assistant", "Ask", shared.ErrEmptyValue, "message is required")
)

// Document is an opaque blob (image or PDF) passed through to the generator.
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Source is what flashcards are generated from: a topic or a document.
type Source struct {
	Topic    string
	Document *Document
}

// Validate checks that exactly something usable was provided.
func (s Source) Validate() error {
	if s.Document != nil {
		if len(s.Document.Data) == 0 {
			return ErrEmptySource
		}
		if len(s.Document.Data) > MaxDocumentBytes {
			return ErrDocumentTooLarge
		}
		return nil
	}
	if strings.TrimSpace(s.Topic) == "" {
		return ErrEmptySource
	}
	return nil
}

// Generator is the ask/answer contract of the text-generation collaborator.
type Generator interface {
	// Ask returns a free-text answer to a chat message.
	Ask(ctx context.Context, prompt string) (string, error)

	// GenerateQA returns up to count question/answer pairs for the source.
	GenerateQA(ctx context.Context, src Source, count int) ([]flashcard.Card, error)
}

// Reply is a chat answer and whether it came from the local fallback.
type Reply struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback"`
}

// Service wraps a Generator with the local fallbacks. A nil generator means
// generation is not configured: chat always uses canned answers and flashcard
// generation fails.
type Service struct {
	gen    Generator
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(gen Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gen: gen, logger: logger.With(slog.String("component", "assistant"))}
}

// Enabled reports whether a generator is configured.
func (s *Service) Enabled() bool { return s.gen != nil }

// Ask answers a chat message. It never fails on generator errors: the
// keyword fallback is substituted instead.
func (s *Service) Ask(ctx context.Context, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}
	if s.gen == nil {
		return Reply{Text: FallbackReply(message), Fallback: true}, nil
	}

	text, err := s.gen.Ask(ctx, message)
	if err == nil && strings.TrimSpace(text) != "" {
		return Reply{Text: text}, nil
	}
	if errors.Is(err, context.Canceled) {
		return Reply{}, err
	}

	s.logger.Warn("generator unavailable, using fallback reply", slog.Any("error", err))
	return Reply{Text: FallbackReply(message), Fallback: true}, nil
}

// GenerateCards asks the generator for flashcards. Any generator failure or an
// empty result becomes ErrGenerationFailed.
func (s *Service) GenerateCards(ctx context.Context, src Source, count int) ([]flashcard.Card, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = DefaultCardCount
	}
	if s.gen == nil {
		return nil, ErrGenerationFailed
	}

	cards, err := s.gen.GenerateQA(ctx, src, count)
	if err != nil {
		s.logger.Error("flashcard generation failed", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	cards = flashcard.CleanCards(cards)
	if len(cards) == 0 {
		return nil, ErrGenerationFailed
	}
	if len(cards) > count {
		cards = cards[:count]
	}
	return cards, nil
}
