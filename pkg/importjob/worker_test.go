package importjob

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckhaven/import-service/pkg/events"
	"github.com/deckhaven/import-service/pkg/importerr"
	"github.com/deckhaven/import-service/pkg/preview"
)

func newTestPool(env *pipelineEnv, cfg *Config) *WorkerPool {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := events.NewPublisher(env.events, logger)
	return NewWorkerPool(env.jobs, env.orch, env.previews, publisher, cfg, logger)
}

func fastPoolConfig() *Config {
	cfg := DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.SweepInterval = time.Hour // sweeps are tested directly
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 10 * time.Millisecond
	return cfg
}

func TestWorkerPoolProcessesQueuedJobs(t *testing.T) {
	env := newPipelineEnv(t)
	pool := newTestPool(env, fastPoolConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	job := env.enqueueText(t, "u1", atraxaList, Options{})

	require.Eventually(t, func() bool {
		got, err := env.jobs.Get(context.Background(), job.ID)
		return err == nil && got != nil && got.Status == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond, "pool should drive the job to completion")

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not shut down")
	}

	decks, err := env.decks.DecksByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, decks, 1)
}

func TestWorkerPoolDisabled(t *testing.T) {
	env := newPipelineEnv(t)
	cfg := fastPoolConfig()
	cfg.Enabled = false
	pool := newTestPool(env, cfg)

	done := make(chan struct{})
	go func() {
		pool.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled pool must return immediately")
	}
}

func TestWorkerPoolRetriesThenFails(t *testing.T) {
	env := newPipelineEnv(t)
	pool := newTestPool(env, fastPoolConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	// card_not_found is recoverable, so the job burns its retry budget
	// before going terminal.
	job, err := env.jobs.Enqueue(context.Background(), &ImportJob{
		UserID:     "u1",
		Source:     "text",
		RawInput:   "Deck: Broken\n1 Completely Made Up Card\n",
		MaxRetries: 1,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, loadErr := env.jobs.Get(context.Background(), job.ID)
		return loadErr == nil && got != nil && got.Status == StatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	got, err := env.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	require.NotEmpty(t, got.Errors)
	assert.Equal(t, importerr.TypeCardNotFound, got.Errors[len(got.Errors)-1].Type)

	stream, _, _, err := env.events.List(context.Background(), events.ListFilter{
		JobID: job.ID, EventType: string(events.JobFailed),
	}, 10, "")
	require.NoError(t, err)
	assert.Len(t, stream, 1, "only the terminal failure emits job_failed")
}

func TestSweepRecoversStuckClaims(t *testing.T) {
	env := newPipelineEnv(t)
	cfg := fastPoolConfig()
	cfg.ClaimTimeout = time.Minute
	pool := newTestPool(env, cfg)
	ctx := context.Background()

	job := env.enqueueText(t, "u1", atraxaList, Options{})
	_, err := env.jobs.Claim(ctx, "dead-worker")
	require.NoError(t, err)

	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, env.db.Model(&ImportJob{}).Where("id = ?", job.ID).
		Update("updated_at", stale).Error)

	pool.sweepOnce(ctx)

	got, err := env.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.ClaimedBy)
}

func TestSweepFailsJobWithExpiredPreview(t *testing.T) {
	env := newPipelineEnv(t)
	pool := newTestPool(env, fastPoolConfig())
	ctx := context.Background()

	env.enqueueText(t, "u1", atraxaList, Options{GeneratePreview: true})
	job := env.run(t, ctx)
	require.Equal(t, StepAwaitApproval, job.Step)

	p, err := env.previews.GetByJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, env.db.Model(&preview.Preview{}).Where("id = ?", p.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	pool.sweepOnce(ctx)

	got, err := env.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status, "validation errors do not retry")
	require.NotEmpty(t, got.Errors)
	assert.Equal(t, importerr.TypeValidation, got.Errors[0].Type)
}

func TestSweepPrunesOldTerminalJobs(t *testing.T) {
	env := newPipelineEnv(t)
	cfg := fastPoolConfig()
	cfg.RetentionDays = 7
	pool := newTestPool(env, cfg)
	ctx := context.Background()

	job := env.enqueueText(t, "u1", atraxaList, Options{})
	require.NoError(t, env.jobs.Complete(ctx, job.ID))
	old := time.Now().UTC().AddDate(0, 0, -8)
	require.NoError(t, env.db.Model(&ImportJob{}).Where("id = ?", job.ID).
		Update("completed_at", old).Error)

	pool.sweepOnce(ctx)

	got, err := env.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
