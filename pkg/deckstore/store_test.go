package deckstore

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, NewStore(db).AutoMigrate())
	return db
}

func TestCommitDeckCreatesDeckAndCards(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	result, err := store.CommitDeck(ctx, CommitInput{
		UserID:    "u1",
		Name:      "Atraxa",
		Commander: "Atraxa, Praetors' Voice",
		Cards: []CommitCard{
			{CardID: "sol", Name: "Sol Ring", Quantity: 1},
			{CardID: "tower", Name: "Command Tower", Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.CreatedDeck)
	assert.Len(t, result.CardRowIDs, 2)

	deck, err := store.GetDeck(ctx, result.DeckID)
	require.NoError(t, err)
	require.NotNil(t, deck)
	assert.Equal(t, "Atraxa", deck.Name)

	cards, err := store.DeckCards(ctx, result.DeckID)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

func TestCommitDeckOverwriteReplacesExisting(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	old, err := store.CommitDeck(ctx, CommitInput{
		UserID: "u1", Name: "Old",
		Cards: []CommitCard{{CardID: "sol", Name: "Sol Ring", Quantity: 1}},
	})
	require.NoError(t, err)

	replacement, err := store.CommitDeck(ctx, CommitInput{
		UserID: "u1", Name: "Old", ReplaceDeckID: old.DeckID,
		Cards: []CommitCard{{CardID: "tower", Name: "Command Tower", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, old.DeckID, replacement.ReplacedDeckID)

	gone, err := store.GetDeck(ctx, old.DeckID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCommitDeckMergeSkipsOwnedCards(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	existing, err := store.CommitDeck(ctx, CommitInput{
		UserID: "u1", Name: "Deck",
		Cards: []CommitCard{{CardID: "sol", Name: "Sol Ring", Quantity: 1}},
	})
	require.NoError(t, err)

	merged, err := store.CommitDeck(ctx, CommitInput{
		UserID: "u1", Name: "Deck", MergeDeckID: existing.DeckID,
		Cards: []CommitCard{
			{CardID: "sol", Name: "Sol Ring", Quantity: 1},
			{CardID: "tower", Name: "Command Tower", Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.False(t, merged.CreatedDeck)
	assert.Len(t, merged.CardRowIDs, 1, "only the new card is added")

	cards, err := store.DeckCards(ctx, existing.DeckID)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

func TestEnsureFolderIsIdempotent(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	id1, created1, err := store.EnsureFolder(ctx, "u1", "", "Commander")
	require.NoError(t, err)
	assert.True(t, created1)

	id2, created2, err := store.EnsureFolder(ctx, "u1", "", "commander")
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, id1, id2)
}

func TestOwnedQuantitiesSumsAcrossDecks(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.CommitDeck(ctx, CommitInput{
			UserID: "u1", Name: uuid.New().String(),
			Cards: []CommitCard{{CardID: "sol", Name: "Sol Ring", Quantity: 1}},
		})
		require.NoError(t, err)
	}

	owned, err := store.OwnedQuantities(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, owned["sol"])

	other, err := store.OwnedQuantities(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDeleteDeckRemovesCards(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	result, err := store.CommitDeck(ctx, CommitInput{
		UserID: "u1", Name: "Deck",
		Cards: []CommitCard{{CardID: "sol", Name: "Sol Ring", Quantity: 1}},
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteDeck(ctx, result.DeckID))
	cards, err := store.DeckCards(ctx, result.DeckID)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestDeleteFolderIfEmpty(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	folderID, _, err := store.EnsureFolder(ctx, "u1", "", "Commander")
	require.NoError(t, err)

	deck, err := store.CommitDeck(ctx, CommitInput{
		UserID: "u1", Name: "Deck", FolderID: folderID,
		Cards: []CommitCard{{CardID: "sol", Name: "Sol Ring", Quantity: 1}},
	})
	require.NoError(t, err)

	// Still referenced: folder survives.
	require.NoError(t, store.DeleteFolderIfEmpty(ctx, folderID))
	folders, err := store.FoldersByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, folders, 1)

	require.NoError(t, store.ClearDeckFolder(ctx, deck.DeckID))
	require.NoError(t, store.DeleteFolderIfEmpty(ctx, folderID))
	folders, err = store.FoldersByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, folders)
}
