package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/studyhub/study-hub/internal/domain/flashcard"
)

// ══════════════════════════════════════════════════════════════════════════════
// DECK REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// DeckRepository implements flashcard.Repository for PostgreSQL.
// Cards are stored as a JSONB array on the deck row.
type DeckRepository struct {
	conn *Connection
}

// NewDeckRepository creates a new DeckRepository.
func NewDeckRepository(conn *Connection) *DeckRepository {
	return &DeckRepository{conn: conn}
}

var _ flashcard.Repository = (*DeckRepository)(nil)

const deckColumns = `id, owner_id, title, cards, card_count, source_task_id, created_at`

// Save inserts the deck. Decks are immutable once generated.
func (r *DeckRepository) Save(ctx context.Context, d *flashcard.Deck) error {
	cards, err := json.Marshal(d.Cards)
	if err != nil {
		return fmt.Errorf("encode cards: %w", err)
	}

	var source *string
	if d.SourceTaskID != "" {
		source = &d.SourceTaskID
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO decks (`+deckColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.OwnerID, d.Title, cards, d.CardCount, source, d.CreatedAt,
	)
	return translate("save deck", err)
}

// Get returns the owner's deck or flashcard.ErrDeckNotFound.
func (r *DeckRepository) Get(ctx context.Context, ownerID, id string) (*flashcard.Deck, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+deckColumns+` FROM decks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	d, err := scanDeck(row)
	if IsNoRows(err) {
		return nil, flashcard.ErrDeckNotFound
	}
	if err != nil {
		return nil, translate("get deck", err)
	}
	return d, nil
}

// Delete removes the owner's deck.
func (r *DeckRepository) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM decks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return translate("delete deck", err)
	}
	if tag.RowsAffected() == 0 {
		return flashcard.ErrDeckNotFound
	}
	return nil
}

// ListByOwner returns decks newest first.
func (r *DeckRepository) ListByOwner(ctx context.Context, ownerID string) ([]*flashcard.Deck, error) {
	return r.list(ctx, `SELECT `+deckColumns+` FROM decks WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

// ListByOwnerUnordered returns decks in storage order.
func (r *DeckRepository) ListByOwnerUnordered(ctx context.Context, ownerID string) ([]*flashcard.Deck, error) {
	return r.list(ctx, `SELECT `+deckColumns+` FROM decks WHERE owner_id = $1`, ownerID)
}

func (r *DeckRepository) list(ctx context.Context, query string, ownerID string) ([]*flashcard.Deck, error) {
	rows, err := r.conn.Query(ctx, query, ownerID)
	if err != nil {
		return nil, translate("list decks", err)
	}
	defer rows.Close()

	var out []*flashcard.Deck
	for rows.Next() {
		d, err := scanDeck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deck: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDeck(row pgx.Row) (*flashcard.Deck, error) {
	var d flashcard.Deck
	var cards []byte
	var source *string
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Title, &cards, &d.CardCount, &source, &d.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cards, &d.Cards); err != nil {
		return nil, fmt.Errorf("decode cards: %w", err)
	}
	if source != nil {
		d.SourceTaskID = *source
	}
	return &d, nil
}
