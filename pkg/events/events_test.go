package events

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

func TestAppendAndList(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &Event{
		EventType: JobCreated, JobID: "j1", UserID: "u1",
		Data: Data{"source": "csv"},
	}))
	require.NoError(t, store.Append(ctx, &Event{
		EventType: JobStarted, JobID: "j1", UserID: "u1",
	}))

	records, _, total, err := store.List(ctx, ListFilter{JobID: "j1"}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, records, 2)

	byType := map[EventType]Event{}
	for _, r := range records {
		byType[r.EventType] = r
	}
	assert.Equal(t, "csv", byType[JobCreated].Data["source"])
}

func TestListFiltersByUserAndType(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &Event{EventType: JobCreated, JobID: "j1", UserID: "u1"}))
	require.NoError(t, store.Append(ctx, &Event{EventType: JobCreated, JobID: "j2", UserID: "u2"}))
	require.NoError(t, store.Append(ctx, &Event{EventType: JobFailed, JobID: "j3", UserID: "u1"}))

	records, _, _, err := store.List(ctx, ListFilter{UserID: "u1", EventType: string(JobCreated)}, 10, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "j1", records[0].JobID)
}

func TestDeleteOlderThan(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &Event{EventType: JobCreated, JobID: "j1", UserID: "u1"}))

	n, err := store.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, _, total, err := store.List(ctx, ListFilter{}, 10, "")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPublisherNilSafe(t *testing.T) {
	var p *Publisher
	// Must not panic.
	p.Publish(context.Background(), JobCreated, "j1", "u1", nil)
}

func TestPublisherAppends(t *testing.T) {
	store := setupStore(t)
	p := NewPublisher(store, nil)
	p.Publish(context.Background(), JobProgress, "j1", "u1", Data{"progress": 50})

	records, _, _, err := store.List(context.Background(), ListFilter{JobID: "j1"}, 10, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, JobProgress, records[0].EventType)
}
