package importjob

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/deckhaven/import-service/pkg/importerr"
	"github.com/deckhaven/import-service/pkg/parse"
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

func newTestJob(userID string) *ImportJob {
	return &ImportJob{
		UserID:     userID,
		Type:       TypeSingle,
		Source:     parse.SourceText,
		RawInput:   "1 Sol Ring",
		MaxRetries: 3,
	}
}

func TestEnqueueRequiresExactlyOneInput(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	_, err := store.Enqueue(ctx, &ImportJob{UserID: "u1", Source: parse.SourceText})
	assert.Error(t, err)

	_, err = store.Enqueue(ctx, &ImportJob{
		UserID: "u1", Source: parse.SourceText,
		RawInput: "1 Sol Ring", InputURL: "https://example.com/deck.txt",
	})
	assert.Error(t, err)

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, StepParse, job.Step)
	assert.NotEmpty(t, job.ID)
}

func TestClaimTransitionsToProcessing(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.Equal(t, "worker-0", claimed.ClaimedBy)
	require.NotNil(t, claimed.StartedAt)

	// The job is spoken for; nobody else gets it.
	second, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	// A shared-cache in-memory database gives every pooled connection
	// the same data, unlike plain ":memory:".
	db, err := gorm.Open(sqlite.Open("file:claimrace?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := store.Claim(ctx, fmt.Sprintf("worker-%d", i))
			if err == nil && claimed != nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())

	var got ImportJob
	require.NoError(t, db.First(&got, "id = ?", job.ID).Error)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.NotEmpty(t, got.ClaimedBy)
}

func TestClaimHonorsRetryBackoff(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)

	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, db.Model(&ImportJob{}).Where("id = ?", job.ID).
		Update("next_retry_at", future).Error)

	claimed, err := store.Claim(ctx, "worker-0")
	require.NoError(t, err)
	assert.Nil(t, claimed)

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, db.Model(&ImportJob{}).Where("id = ?", job.ID).
		Update("next_retry_at", past).Error)

	claimed, err = store.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Nil(t, claimed.NextRetryAt)
}

func TestClaimPicksUpResumedJobsButNotWaitingOnes(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)
	require.NoError(t, db.Model(&ImportJob{}).Where("id = ?", job.ID).
		Updates(map[string]any{
			"status": StatusProcessing, "claimed_by": "", "current_step": StepAwaitApproval,
		}).Error)

	claimed, err := store.Claim(ctx, "worker-0")
	require.NoError(t, err)
	assert.Nil(t, claimed, "waiting jobs must not be claimable")

	require.NoError(t, store.Resume(ctx, job.ID, StepCommit))
	claimed, err = store.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, StepCommit, claimed.Step)
}

func TestClaimHigherPriorityFirst(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	low, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)
	urgent := newTestJob("u1")
	urgent.Priority = 10
	high, err := store.Enqueue(ctx, urgent)
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, high.ID, claimed.ID)

	claimed, err = store.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, low.ID, claimed.ID)
}

func TestProgressNeverDecreases(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress(ctx, job.ID, 40))
	require.NoError(t, store.UpdateProgress(ctx, job.ID, 30))
	require.NoError(t, store.UpdateProgress(ctx, job.ID, 40))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)

	require.NoError(t, store.UpdateProgress(ctx, job.ID, 150))
	got, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
}

func TestFailRecoverableRequeuesWithBackoff(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()
	cfg := DefaultConfig()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)

	before := time.Now().UTC()
	retrying, err := store.Fail(ctx, job, importerr.System("card service unavailable"), cfg)
	require.NoError(t, err)
	assert.True(t, retrying)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.After(before.Add(cfg.BackoffBase-time.Second)))
	require.Len(t, got.Errors, 1)
	assert.Equal(t, importerr.TypeSystem, got.Errors[0].Type)
}

func TestFailExhaustedRetriesIsTerminal(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()
	cfg := DefaultConfig()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)
	job.RetryCount = job.MaxRetries

	retrying, err := store.Fail(ctx, job, importerr.System("still broken"), cfg)
	require.NoError(t, err)
	assert.False(t, retrying)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestFailUnrecoverableIsTerminalImmediately(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)

	retrying, err := store.Fail(ctx, job, importerr.Parsing("bad input"), DefaultConfig())
	require.NoError(t, err)
	assert.False(t, retrying)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestRequestCancelPendingIsImmediate(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)

	status, err := store.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = store.RequestCancel(ctx, job.ID)
	assert.Error(t, err, "terminal jobs cannot be cancelled again")
}

func TestRequestCancelRunningSetsFlag(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)
	claimed, err := store.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	status, err := store.RequestCancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, status)

	flagged, err := store.CancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, flagged)
}

func TestSuspendReleasesClaim(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "worker-0")
	require.NoError(t, err)

	require.NoError(t, store.Suspend(ctx, job.ID, StepAwaitConflicts))
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StepAwaitConflicts, got.Step)
	assert.Empty(t, got.ClaimedBy)
	assert.True(t, got.Suspended())

	assert.Error(t, store.Suspend(ctx, job.ID, StepCommit), "only waiting steps are suspendable")
}

func TestResumeRequiresSuspendedJob(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)

	assert.Error(t, store.Resume(ctx, job.ID, StepCommit), "pending jobs cannot be resumed")
}

func TestListFiltersAndPaginates(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		j := newTestJob("u1")
		_, err := store.Enqueue(ctx, j)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct created_at for keyset paging
	}
	other := newTestJob("u2")
	_, err := store.Enqueue(ctx, other)
	require.NoError(t, err)

	jobs, token, total, err := store.List(ctx, ListFilter{UserID: "u1"}, 2, "")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, 3, total)
	require.NotEmpty(t, token)

	rest, token2, _, err := store.List(ctx, ListFilter{UserID: "u1"}, 2, token)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.Empty(t, token2)

	byStatus, _, _, err := store.List(ctx, ListFilter{UserID: "u1", Status: string(StatusCompleted)}, 10, "")
	require.NoError(t, err)
	assert.Empty(t, byStatus)
}

func TestGetForUserHidesOtherUsersJobs(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)

	got, err := store.GetForUser(ctx, job.ID, "u2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCleanupStuckRequeuesAbandonedClaims(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "worker-0")
	require.NoError(t, err)

	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&ImportJob{}).Where("id = ?", job.ID).
		Update("updated_at", stale).Error)

	recovered, err := store.CleanupStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.ClaimedBy)
}

func TestDeleteOlderThanRemovesItemsToo(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)
	require.NoError(t, store.CreateItems(ctx, []ImportJobItem{
		{JobID: job.ID, Ordinal: 0, DeckName: "A"},
	}))
	require.NoError(t, store.Complete(ctx, job.ID))

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&ImportJob{}).Where("id = ?", job.ID).
		Update("completed_at", old).Error)

	deleted, err := store.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	items, err := store.ItemsByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSaveItemRoundTripsCards(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	job, err := store.Enqueue(ctx, newTestJob("u1"))
	require.NoError(t, err)
	items := []ImportJobItem{{
		JobID: job.ID, Ordinal: 0, DeckName: "Atraxa",
		Cards:      CardList{{RawName: "Sol Ring", Quantity: 1}},
		CardsTotal: 1,
	}}
	require.NoError(t, store.CreateItems(ctx, items))

	items[0].Cards[0].CardID = "sol"
	items[0].Cards[0].Name = "Sol Ring"
	items[0].CardsResolved = 1
	items[0].Status = StatusCompleted
	require.NoError(t, store.SaveItem(ctx, &items[0]))

	loaded, err := store.ItemsByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "sol", loaded[0].Cards[0].CardID)
	assert.Equal(t, StatusCompleted, loaded[0].Status)
}
