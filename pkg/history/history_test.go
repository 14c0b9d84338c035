package history

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/deckhaven/import-service/pkg/deckstore"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, NewStore(db).AutoMigrate())
	require.NoError(t, deckstore.NewStore(db).AutoMigrate())
	return db
}

func TestRecordImportAndLookup(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	entry, err := store.RecordImport(ctx, "job-1", "u1", "imported 2 decks", RollbackData{
		Decks: []DeckRollback{
			{DeckID: "d1", CreatedDeck: true},
			{DeckID: "d2", CreatedDeck: true},
		},
	})
	require.NoError(t, err)
	assert.True(t, entry.CanRollback)
	assert.False(t, entry.RolledBack())

	got, err := store.GetImportByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Len(t, got.RollbackData.Decks, 2)

	_, err = store.GetImportByJob(ctx, "job-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordImportWithNoWritesIsNotRollbackable(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	entry, err := store.RecordImport(ctx, "job-empty", "u1", "nothing committed", RollbackData{})
	require.NoError(t, err)
	assert.False(t, entry.CanRollback)

	engine := NewEngine(store, deckstore.NewStore(setupTestDB(t)), nil, nil)
	_, err = engine.Rollback(ctx, Request{JobID: "job-empty", RequestedBy: "u1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

// seedCommittedImport commits one created deck in a new folder and one merge
// into an existing deck, then records the matching history entry.
func seedCommittedImport(t *testing.T, db *gorm.DB, jobID string) (*Store, *deckstore.Store, *deckstore.CommitResult, *deckstore.CommitResult) {
	t.Helper()
	ctx := context.Background()
	decks := deckstore.NewStore(db)
	store := NewStore(db)

	existing, err := decks.CommitDeck(ctx, deckstore.CommitInput{
		UserID: "u1", Name: "Existing",
		Cards: []deckstore.CommitCard{{CardID: "sol", Name: "Sol Ring", Quantity: 1}},
	})
	require.NoError(t, err)

	folderID, created, err := decks.EnsureFolder(ctx, "u1", "", "Imports")
	require.NoError(t, err)
	require.True(t, created)

	fresh, err := decks.CommitDeck(ctx, deckstore.CommitInput{
		UserID: "u1", Name: "Fresh", FolderID: folderID,
		Cards: []deckstore.CommitCard{{CardID: "tower", Name: "Command Tower", Quantity: 1}},
	})
	require.NoError(t, err)

	merged, err := decks.CommitDeck(ctx, deckstore.CommitInput{
		UserID: "u1", Name: "Existing", MergeDeckID: existing.DeckID,
		Cards: []deckstore.CommitCard{{CardID: "crypt", Name: "Mana Crypt", Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = store.RecordImport(ctx, jobID, "u1", "imported 2 decks", RollbackData{
		Decks: []DeckRollback{
			{ItemID: "item-1", DeckID: fresh.DeckID, CreatedDeck: true, CardRowIDs: fresh.CardRowIDs, FolderID: folderID},
			{ItemID: "item-2", DeckID: merged.DeckID, CreatedDeck: false, CardRowIDs: merged.CardRowIDs},
		},
		CreatedFolderIDs: []string{folderID},
	})
	require.NoError(t, err)
	return store, decks, fresh, merged
}

func TestFullRollbackReversesCommit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store, decks, fresh, merged := seedCommittedImport(t, db, "job-1")

	engine := NewEngine(store, decks, nil, nil)
	op, err := engine.Rollback(ctx, Request{JobID: "job-1", RequestedBy: "u1", Reason: "wrong list"})
	require.NoError(t, err)
	assert.Equal(t, OperationCompleted, op.Status)
	assert.Empty(t, op.StepErrors)
	require.NotNil(t, op.FinishedAt)

	// Created deck is gone, merged deck survives minus the merged cards.
	gone, err := decks.GetDeck(ctx, fresh.DeckID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := decks.GetDeck(ctx, merged.DeckID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	cards, err := decks.DeckCards(ctx, merged.DeckID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Sol Ring", cards[0].Name)

	// The created folder was emptied, so it is gone too.
	folders, err := decks.FoldersByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, folders)

	entry, err := store.GetImportByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, entry.RolledBack())
	assert.False(t, entry.CanRollback)
}

func TestRollbackTwiceFailsFast(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store, decks, _, _ := seedCommittedImport(t, db, "job-1")

	engine := NewEngine(store, decks, nil, nil)
	_, err := engine.Rollback(ctx, Request{JobID: "job-1", RequestedBy: "u1"})
	require.NoError(t, err)

	_, err = engine.Rollback(ctx, Request{JobID: "job-1", RequestedBy: "u1"})
	assert.ErrorIs(t, err, ErrAlreadyRolledBack)

	ops, err := store.ListOperationsByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestSelectiveRollbackLeavesTheRest(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store, decks, fresh, merged := seedCommittedImport(t, db, "job-1")

	engine := NewEngine(store, decks, nil, nil)
	op, err := engine.Rollback(ctx, Request{
		JobID:       "job-1",
		RequestedBy: "u1",
		DeckIDs:     []string{fresh.DeckID},
	})
	require.NoError(t, err)
	assert.Equal(t, OperationCompleted, op.Status)
	assert.True(t, op.Selective())

	gone, err := decks.GetDeck(ctx, fresh.DeckID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Merged cards untouched.
	cards, err := decks.DeckCards(ctx, merged.DeckID)
	require.NoError(t, err)
	assert.Len(t, cards, 2)

	// Original entry stays eligible for a later full rollback, and the
	// partial reversal got its own audit entry.
	entries, err := store.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	var actions []Action
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, ActionSelectiveRollback)

	imp, err := store.Get(ctx, op.HistoryID)
	require.NoError(t, err)
	assert.False(t, imp.RolledBack())
	assert.True(t, imp.CanRollback)
}

func TestSelectiveRollbackByItemID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store, decks, _, merged := seedCommittedImport(t, db, "job-1")

	engine := NewEngine(store, decks, nil, nil)
	op, err := engine.Rollback(ctx, Request{
		JobID:       "job-1",
		RequestedBy: "u1",
		ItemIDs:     []string{"item-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, OperationCompleted, op.Status)

	cards, err := decks.DeckCards(ctx, merged.DeckID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Sol Ring", cards[0].Name)
}

func TestRollbackIsBestEffortAcrossSteps(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	decks := deckstore.NewStore(db)
	store := NewStore(db)

	real, err := decks.CommitDeck(ctx, deckstore.CommitInput{
		UserID: "u1", Name: "Real",
		Cards: []deckstore.CommitCard{{CardID: "sol", Name: "Sol Ring", Quantity: 1}},
	})
	require.NoError(t, err)

	// Deleting decks that no longer exist is a no-op, not a step failure,
	// so a record that is partially stale still rolls back cleanly.
	_, err = store.RecordImport(ctx, "job-1", "u1", "imported", RollbackData{
		Decks: []DeckRollback{
			{DeckID: "ghost", CreatedDeck: true},
			{DeckID: real.DeckID, CreatedDeck: true, CardRowIDs: real.CardRowIDs},
		},
	})
	require.NoError(t, err)

	engine := NewEngine(store, decks, nil, nil)
	op, err := engine.Rollback(ctx, Request{JobID: "job-1", RequestedBy: "u1"})
	require.NoError(t, err)
	assert.Equal(t, OperationCompleted, op.Status)

	gone, err := decks.GetDeck(ctx, real.DeckID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestGetOperation(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	op := &Operation{JobID: "job-1", HistoryID: "h1", RequestedBy: "u1"}
	require.NoError(t, store.CreateOperation(ctx, op))

	got, err := store.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, OperationPending, got.Status)

	_, err = store.GetOperation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
