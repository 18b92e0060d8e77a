package flashcard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeck(t *testing.T) {
	now := time.Now()
	d, err := NewDeck("u1", " Cells ", []Card{
		{Front: "What is a cell?", Back: "Basic unit of life"},
		{Front: "  ", Back: "orphan"},
		{Front: "Nucleus?", Back: " Control centre "},
	}, "task-1", now)
	require.NoError(t, err)

	assert.Equal(t, "Cells", d.Title)
	assert.Equal(t, 2, d.CardCount)
	assert.Equal(t, "Control centre", d.Cards[1].Back)
	assert.Equal(t, "task-1", d.SourceTaskID)

	_, err = NewDeck("u1", "x", []Card{{Front: "q"}}, "", now)
	assert.ErrorIs(t, err, ErrEmptyDeck)
}

func TestTitleFor(t *testing.T) {
	assert.Equal(t, "Notes on biology.pdf", TitleFor("ignored", "biology.pdf"))
	assert.Equal(t, "Photosynthesis", TitleFor(" Photosynthesis ", ""))

	long := strings.Repeat("é", 40)
	assert.Equal(t, strings.Repeat("é", 30)+"...", TitleFor(long, ""))
}

func TestSortNewestFirst(t *testing.T) {
	now := time.Now()
	decks := []*Deck{{ID: "old", CreatedAt: now}, {ID: "new", CreatedAt: now.Add(time.Hour)}}
	SortNewestFirst(decks)
	assert.Equal(t, "new", decks[0].ID)
}
