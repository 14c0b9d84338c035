package importjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/deckhaven/import-service/pkg/importerr"
)

// resumableSteps are the steps a parked-but-unclaimed processing job can be
// claimed at. The await steps are deliberately absent: those jobs move only
// when a handler resumes them.
var resumableSteps = []Step{StepDetect, StepCommit}

// Store provides database operations for import jobs and their items.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the job tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&ImportJob{}, &ImportJobItem{})
}

// Enqueue validates and creates a new pending job.
func (s *Store) Enqueue(ctx context.Context, job *ImportJob) (*ImportJob, error) {
	inputs := 0
	for _, in := range []string{job.RawInput, job.InputURL, job.FileRef} {
		if in != "" {
			inputs++
		}
	}
	if inputs != 1 {
		return nil, fmt.Errorf("exactly one of rawInput, inputUrl, fileRef must be set, got %d", inputs)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	if job.Step == "" {
		job.Step = StepParse
	}
	if job.Type == "" {
		job.Type = TypeSingle
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Get retrieves a job by ID. Returns nil when the job does not exist.
func (s *Store) Get(ctx context.Context, jobID string) (*ImportJob, error) {
	var job ImportJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// GetForUser retrieves a job only if it belongs to userID. Ownership
// mismatches read as not found.
func (s *Store) GetForUser(ctx context.Context, jobID, userID string) (*ImportJob, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil || job == nil {
		return job, err
	}
	if job.UserID != userID {
		return nil, nil
	}
	return job, nil
}

// ListFilter defines filters for listing jobs.
type ListFilter struct {
	UserID string
	Status string
	Source string
	Type   string
}

// List returns paginated jobs matching the filter, newest first. The page
// token is the created_at of the last returned record.
func (s *Store) List(ctx context.Context, filter ListFilter, pageSize int, pageToken string) ([]ImportJob, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&ImportJob{})
		if filter.UserID != "" {
			q = q.Where("user_id = ?", filter.UserID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.Source != "" {
			q = q.Where("source = ?", filter.Source)
		}
		if filter.Type != "" {
			q = q.Where("type = ?", filter.Type)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery(s.db.WithContext(ctx)).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count jobs: %w", err)
	}

	query := buildQuery(s.db.WithContext(ctx)).Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []ImportJob
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list jobs: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// Claim atomically picks the next runnable job and assigns it to workerID.
// Runnable means pending with no future retry time, or processing but
// unclaimed at a resumable step (a job released after approval or conflict
// resolution). Uses FOR UPDATE SKIP LOCKED where supported (PostgreSQL).
// Returns nil if no jobs are available; the conditional update guarantees
// at most one winner per job under concurrent claims.
func (s *Store) Claim(ctx context.Context, workerID string) (*ImportJob, error) {
	now := time.Now().UTC()
	var job ImportJob
	claimed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Attempt FOR UPDATE SKIP LOCKED (PostgreSQL). Fall back to a
		// plain SELECT for databases that don't support it.
		result := tx.Raw(`
			SELECT * FROM import_jobs
			WHERE (status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?))
			   OR (status = ? AND claimed_by = '' AND current_step IN (?, ?))
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, StatusPending, now, StatusProcessing, resumableSteps[0], resumableSteps[1]).Scan(&job)

		if result.Error != nil || job.ID == "" {
			result = tx.
				Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", StatusPending, now).
				Or("status = ? AND claimed_by = '' AND current_step IN ?", StatusProcessing, resumableSteps).
				Order("priority DESC, created_at ASC").
				Limit(1).
				First(&job)
			if result.Error != nil {
				if errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return nil
				}
				return result.Error
			}
		}

		if job.ID == "" {
			return nil
		}

		update := tx.Model(&ImportJob{}).
			Where("id = ? AND (status = ? OR (status = ? AND claimed_by = ''))",
				job.ID, StatusPending, StatusProcessing).
			Updates(map[string]any{
				"status":        StatusProcessing,
				"claimed_by":    workerID,
				"next_retry_at": nil,
			})
		if update.Error != nil {
			return update.Error
		}
		claimed = update.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if job.ID == "" || !claimed {
		return nil, nil
	}

	// First claim stamps the start time.
	if job.StartedAt == nil {
		started := now
		if err := s.db.WithContext(ctx).Model(&ImportJob{}).
			Where("id = ? AND started_at IS NULL", job.ID).
			Update("started_at", started).Error; err != nil {
			return nil, fmt.Errorf("stamp job start: %w", err)
		}
	}

	if err := s.db.WithContext(ctx).First(&job, "id = ?", job.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed job: %w", err)
	}
	return &job, nil
}

// SetStep records the job's current checkpoint.
func (s *Store) SetStep(ctx context.Context, jobID string, step Step) error {
	if err := s.db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ?", jobID).
		Update("current_step", step).Error; err != nil {
		return fmt.Errorf("set job step: %w", err)
	}
	return nil
}

// UpdateProgress raises the job's progress. The update is conditional on
// the stored value being lower, so progress never decreases even if stale
// writers race.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	if progress > 100 {
		progress = 100
	}
	err := s.db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ? AND progress < ?", jobID, progress).
		Update("progress", progress).Error
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// UpdateCounters overwrites the job's aggregate counters.
func (s *Store) UpdateCounters(ctx context.Context, jobID string, decksFound, decksImported, cardsProcessed, cardsResolved int) error {
	err := s.db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"decks_found":     decksFound,
			"decks_imported":  decksImported,
			"cards_processed": cardsProcessed,
			"cards_resolved":  cardsResolved,
		}).Error
	if err != nil {
		return fmt.Errorf("update job counters: %w", err)
	}
	return nil
}

// AppendErrors appends to the job's error and warning lists.
func (s *Store) AppendErrors(ctx context.Context, jobID string, errs, warns []importerr.Error) error {
	if len(errs) == 0 && len(warns) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job ImportJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			return fmt.Errorf("load job for errors: %w", err)
		}
		job.Errors = append(job.Errors, errs...)
		job.Warnings = append(job.Warnings, warns...)
		return tx.Model(&ImportJob{}).Where("id = ?", jobID).
			Updates(map[string]any{"errors": job.Errors, "warnings": job.Warnings}).Error
	})
}

// Suspend parks a processing job at a waiting step and releases the
// worker's claim.
func (s *Store) Suspend(ctx context.Context, jobID string, step Step) error {
	if step != StepAwaitConflicts && step != StepAwaitApproval {
		return fmt.Errorf("cannot suspend at step %q", step)
	}
	err := s.db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ? AND status = ?", jobID, StatusProcessing).
		Updates(map[string]any{"current_step": step, "claimed_by": ""}).Error
	if err != nil {
		return fmt.Errorf("suspend job: %w", err)
	}
	return nil
}

// Resume moves a parked job back to a claimable step. It only applies to
// suspended jobs, so a resume cannot yank a job out from under a worker.
func (s *Store) Resume(ctx context.Context, jobID string, step Step) error {
	result := s.db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ? AND status = ? AND claimed_by = '' AND current_step IN ?",
			jobID, StatusProcessing, []Step{StepAwaitConflicts, StepAwaitApproval}).
		Update("current_step", step)
	if result.Error != nil {
		return fmt.Errorf("resume job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job %s is not suspended", jobID)
	}
	return nil
}

// Complete marks a job finished.
func (s *Store) Complete(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":       StatusCompleted,
			"current_step": StepDone,
			"progress":     100,
			"claimed_by":   "",
			"completed_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail records a failure. Recoverable errors within the retry budget
// re-queue the job with exponential backoff; everything else is terminal.
// Returns true when the job will retry.
func (s *Store) Fail(ctx context.Context, job *ImportJob, cause importerr.Error, cfg *Config) (bool, error) {
	if err := s.AppendErrors(ctx, job.ID, []importerr.Error{cause}, nil); err != nil {
		return false, err
	}

	now := time.Now().UTC()
	if cause.Recoverable && job.RetryCount < job.MaxRetries {
		retryAt := now.Add(cfg.Backoff(job.RetryCount))
		err := s.db.WithContext(ctx).Model(&ImportJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]any{
				"status":        StatusPending,
				"claimed_by":    "",
				"retry_count":   gorm.Expr("retry_count + 1"),
				"next_retry_at": retryAt,
			}).Error
		if err != nil {
			return false, fmt.Errorf("requeue job for retry: %w", err)
		}
		return true, nil
	}

	err := s.db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":       StatusFailed,
			"claimed_by":   "",
			"completed_at": now,
		}).Error
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return false, nil
}

// RequestCancel asks a job to stop. Pending and suspended jobs cancel
// immediately; a job a worker holds gets the cancel_requested flag, which
// the orchestrator honors at its next checkpoint. Terminal jobs are an
// error.
func (s *Store) RequestCancel(ctx context.Context, jobID string) (Status, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", fmt.Errorf("job not found: %s", jobID)
	}
	if job.IsTerminal() {
		return "", fmt.Errorf("job %s is already %s", jobID, job.Status)
	}

	// Pending or parked: nothing is running, cancel outright.
	immediate := s.db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ? AND (status = ? OR (status = ? AND claimed_by = ''))",
			jobID, StatusPending, StatusProcessing).
		Updates(map[string]any{
			"status":       StatusCancelled,
			"claimed_by":   "",
			"completed_at": time.Now().UTC(),
		})
	if immediate.Error != nil {
		return "", fmt.Errorf("cancel job: %w", immediate.Error)
	}
	if immediate.RowsAffected > 0 {
		return StatusCancelled, nil
	}

	err = s.db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ? AND status = ?", jobID, StatusProcessing).
		Update("cancel_requested", true).Error
	if err != nil {
		return "", fmt.Errorf("flag job for cancel: %w", err)
	}
	return StatusProcessing, nil
}

// CancelRequested re-reads the cooperative cancel flag.
func (s *Store) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job != nil && job.CancelRequested, nil
}

// MarkCancelled finalizes a cooperative cancellation.
func (s *Store) MarkCancelled(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":       StatusCancelled,
			"claimed_by":   "",
			"completed_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("mark job cancelled: %w", err)
	}
	return nil
}

// JobsAtStep returns non-terminal jobs parked at the given step, for the
// sweep that fails jobs whose preview expired.
func (s *Store) JobsAtStep(ctx context.Context, step Step) ([]ImportJob, error) {
	var jobs []ImportJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND current_step = ?", StatusProcessing, step).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs at step: %w", err)
	}
	return jobs, nil
}

// CleanupStuck releases claims on processing jobs with no write activity
// since the cutoff, re-queueing them. Suspended jobs (no claim holder) are
// left alone.
func (s *Store) CleanupStuck(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-claimTimeout)
	result := s.db.WithContext(ctx).Model(&ImportJob{}).
		Where("status = ? AND claimed_by <> '' AND updated_at < ?", StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":       StatusPending,
			"claimed_by":   "",
			"current_step": StepParse,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup stuck jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes terminal jobs (and their items) older than the
// cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&ImportJob{}).
			Where("status IN ? AND completed_at < ?",
				[]Status{StatusCompleted, StatusFailed, StatusCancelled}, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("job_id IN ?", ids).Delete(&ImportJobItem{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&ImportJob{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return deleted, nil
}

// CreateItems persists a job's items.
func (s *Store) CreateItems(ctx context.Context, items []ImportJobItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		if items[i].Status == "" {
			items[i].Status = StatusPending
		}
	}
	if err := s.db.WithContext(ctx).Create(&items).Error; err != nil {
		return fmt.Errorf("create job items: %w", err)
	}
	return nil
}

// ItemsByJob returns a job's items in ordinal order.
func (s *Store) ItemsByJob(ctx context.Context, jobID string) ([]ImportJobItem, error) {
	var items []ImportJobItem
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("ordinal ASC").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list job items: %w", err)
	}
	return items, nil
}

// SaveItem writes back an item's mutable fields.
func (s *Store) SaveItem(ctx context.Context, item *ImportJobItem) error {
	err := s.db.WithContext(ctx).Model(&ImportJobItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"status":         item.Status,
			"cards":          item.Cards,
			"deck_id":        item.DeckID,
			"skipped":        item.Skipped,
			"cards_total":    item.CardsTotal,
			"cards_resolved": item.CardsResolved,
			"errors":         item.Errors,
			"warnings":       item.Warnings,
		}).Error
	if err != nil {
		return fmt.Errorf("save job item: %w", err)
	}
	return nil
}
