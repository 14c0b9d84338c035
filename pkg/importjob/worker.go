package importjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deckhaven/import-service/pkg/events"
	"github.com/deckhaven/import-service/pkg/importerr"
	"github.com/deckhaven/import-service/pkg/preview"
)

// WorkerPool processes import jobs with a pool of goroutines. Each worker
// polls for a claim and hands the job to the orchestrator; a sweep
// goroutine recovers stuck claims, fails jobs whose preview expired, and
// prunes old terminal jobs and previews.
type WorkerPool struct {
	store        *Store
	orchestrator *Orchestrator
	previews     *preview.Store
	publisher    *events.Publisher
	cfg          *Config
	logger       *slog.Logger
	wg           sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *Store, orchestrator *Orchestrator, previews *preview.Store, publisher *events.Publisher, cfg *Config, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		store:        store,
		orchestrator: orchestrator,
		previews:     previews,
		publisher:    publisher,
		cfg:          cfg,
		logger:       logger,
	}
}

// Run starts the pool and blocks until the context is cancelled, then
// waits for in-flight jobs to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || !wp.cfg.Enabled {
		wp.logger.Info("import worker pool disabled")
		return
	}

	wp.logger.Info("import worker pool starting",
		"concurrency", wp.cfg.Concurrency,
		"maxRetries", wp.cfg.MaxRetries,
		"pollInterval", wp.cfg.PollInterval.String())

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.sweepLoop(ctx)
	}()

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("import worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("import worker pool stopped")
}

// workerLoop is the main loop for a single worker goroutine.
func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	name := fmt.Sprintf("worker-%d", workerID)
	wp.logger.Info("worker started", "worker", name)

	for {
		select {
		case <-ctx.Done():
			wp.logger.Info("worker stopped", "worker", name)
			return
		case <-ticker.C:
			// Drain the queue before sleeping again.
			for wp.processOne(ctx, name) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// processOne claims and runs a single job. Returns true when a job was
// claimed, so the caller can keep draining.
func (wp *WorkerPool) processOne(ctx context.Context, workerID string) bool {
	job, err := wp.store.Claim(ctx, workerID)
	if err != nil {
		wp.logger.Error("failed to claim job", "worker", workerID, "error", err)
		return false
	}
	if job == nil {
		return false
	}

	wp.logger.Info("processing job",
		"worker", workerID,
		"jobID", job.ID,
		"source", job.Source,
		"step", job.Step,
		"attempt", job.RetryCount)

	if err := wp.orchestrator.Process(ctx, job); err != nil {
		wp.failJob(ctx, job, err)
	}
	return true
}

// failJob records a failure and either requeues with backoff or finalizes.
func (wp *WorkerPool) failJob(ctx context.Context, job *ImportJob, cause error) {
	var ie importerr.Error
	if !errors.As(cause, &ie) {
		ie = importerr.System("%v", cause)
	}

	wp.logger.Error("job step failed",
		"jobID", job.ID,
		"step", job.Step,
		"errorType", ie.Type,
		"error", ie.Message)

	retrying, err := wp.store.Fail(ctx, job, ie, wp.cfg)
	if err != nil {
		wp.logger.Error("failed to record job failure", "jobID", job.ID, "error", err)
		return
	}
	if retrying {
		wp.logger.Info("job requeued for retry",
			"jobID", job.ID,
			"attempt", job.RetryCount+1,
			"maxRetries", job.MaxRetries)
		return
	}
	wp.publisher.Publish(ctx, events.JobFailed, job.ID, job.UserID, events.Data{
		"errorType": string(ie.Type),
		"message":   ie.Message,
	})
}

// sweepLoop periodically recovers stuck jobs, fails expired previews, and
// prunes retained data.
func (wp *WorkerPool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(wp.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wp.sweepOnce(ctx)
		}
	}
}

func (wp *WorkerPool) sweepOnce(ctx context.Context) {
	if wp.cfg.ClaimTimeout > 0 {
		recovered, err := wp.store.CleanupStuck(ctx, wp.cfg.ClaimTimeout)
		if err != nil {
			wp.logger.Error("failed to cleanup stuck jobs", "error", err)
		} else if recovered > 0 {
			wp.logger.Info("recovered stuck jobs", "count", recovered)
		}
	}

	wp.expireStalePreviews(ctx)

	if wp.cfg.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -wp.cfg.RetentionDays)
		deleted, err := wp.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			wp.logger.Error("failed to delete old jobs", "error", err)
		} else if deleted > 0 {
			wp.logger.Info("deleted old jobs", "count", deleted)
		}
		if wp.previews != nil {
			pruned, err := wp.previews.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				wp.logger.Error("failed to delete old previews", "error", err)
			} else if pruned > 0 {
				wp.logger.Info("deleted old previews", "count", pruned)
			}
		}
	}
}

// expireStalePreviews fails jobs still waiting on a preview that has
// passed its TTL. Expiry is otherwise lazy (checked on the approval
// attempt); the sweep keeps abandoned jobs from waiting forever.
func (wp *WorkerPool) expireStalePreviews(ctx context.Context) {
	if wp.previews == nil {
		return
	}
	waiting, err := wp.store.JobsAtStep(ctx, StepAwaitApproval)
	if err != nil {
		wp.logger.Error("failed to list jobs awaiting approval", "error", err)
		return
	}
	now := time.Now()
	for i := range waiting {
		job := &waiting[i]
		p, err := wp.previews.GetByJob(ctx, job.ID)
		if err != nil {
			wp.logger.Error("failed to load preview", "jobID", job.ID, "error", err)
			continue
		}
		if p == nil || p.Consumed || !p.Expired(now) {
			continue
		}
		cause := importerr.Validation("preview expired at %s without a decision", p.ExpiresAt.Format(time.RFC3339))
		if _, err := wp.store.Fail(ctx, job, cause, wp.cfg); err != nil {
			wp.logger.Error("failed to fail expired-preview job", "jobID", job.ID, "error", err)
			continue
		}
		wp.publisher.Publish(ctx, events.JobFailed, job.ID, job.UserID, events.Data{
			"errorType": string(importerr.TypeValidation),
			"message":   cause.Message,
		})
		wp.logger.Info("failed job with expired preview", "jobID", job.ID, "previewID", p.ID)
	}
}
