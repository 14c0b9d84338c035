package preview

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func testSnapshot() Snapshot {
	return Snapshot{
		Decks:      []DeckSummary{{ItemID: "i1", Name: "Atraxa", CardCount: 100}},
		Statistics: Statistics{DecksFound: 1, CardsProcessed: 100, CardsResolved: 100},
	}
}

func TestCreateAndGetByJob(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	p, err := store.Create(ctx, "job1", "u1", testSnapshot(), 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), p.ExpiresAt, time.Minute)

	got, err := store.GetByJob(ctx, "job1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "Atraxa", got.Snapshot.Decks[0].Name)
}

func TestDecideApprove(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	p, err := store.Create(ctx, "job1", "u1", testSnapshot(), time.Hour)
	require.NoError(t, err)

	decision, updated, err := store.Decide(ctx, p.ID, true, "u1")
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, decision)
	assert.True(t, updated.IsApproved)
	assert.True(t, updated.Consumed)
	assert.Equal(t, "u1", updated.ApprovedBy)
	require.NotNil(t, updated.ApprovedAt)
}

func TestDecideDeny(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	p, err := store.Create(ctx, "job1", "u1", testSnapshot(), time.Hour)
	require.NoError(t, err)

	decision, updated, err := store.Decide(ctx, p.ID, false, "u1")
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, decision)
	assert.False(t, updated.IsApproved)
	assert.True(t, updated.Consumed)
}

func TestDecideConsumedOnlyOnce(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	p, err := store.Create(ctx, "job1", "u1", testSnapshot(), time.Hour)
	require.NoError(t, err)

	_, _, err = store.Decide(ctx, p.ID, true, "u1")
	require.NoError(t, err)

	_, _, err = store.Decide(ctx, p.ID, false, "u1")
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestDecideLazyExpiry(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	p, err := store.Create(ctx, "job1", "u1", testSnapshot(), time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	decision, updated, err := store.Decide(ctx, p.ID, true, "u1")
	require.NoError(t, err)
	assert.Equal(t, DecisionExpired, decision)
	assert.False(t, updated.IsApproved, "expired previews cannot be approved")
	assert.True(t, updated.Consumed)
}

func TestDeleteOlderThanKeepsPending(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	pending, err := store.Create(ctx, "job1", "u1", testSnapshot(), time.Hour)
	require.NoError(t, err)
	consumed, err := store.Create(ctx, "job2", "u1", testSnapshot(), time.Hour)
	require.NoError(t, err)
	_, _, err = store.Decide(ctx, consumed.ID, false, "u1")
	require.NoError(t, err)

	n, err := store.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.NotNil(t, got, "unconsumed, unexpired preview survives cleanup")
}
