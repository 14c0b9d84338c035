package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a history entry or rollback operation does
// not exist.
var ErrNotFound = errors.New("history record not found")

// ErrAlreadyRolledBack is returned when a rollback targets an entry that
// was already reversed.
var ErrAlreadyRolledBack = errors.New("import has already been rolled back")

// Store persists history entries and rollback operations.
type Store struct {
	db *gorm.DB
}

// NewStore creates a history store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the history and rollback tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Entry{}, &Operation{})
}

// RecordImport appends the commit record for a completed job.
func (s *Store) RecordImport(ctx context.Context, jobID, userID, description string, data RollbackData) (*Entry, error) {
	entry := &Entry{
		ID:           uuid.NewString(),
		JobID:        jobID,
		UserID:       userID,
		Action:       ActionImport,
		Description:  description,
		RollbackData: data,
		CanRollback:  len(data.Decks) > 0 || len(data.CreatedFolderIDs) > 0,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("recording import history: %w", err)
	}
	return entry, nil
}

// Get returns one history entry by id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	var entry Entry
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting history entry: %w", err)
	}
	return &entry, nil
}

// GetImportByJob returns the import entry for a job, if one was recorded.
func (s *Store) GetImportByJob(ctx context.Context, jobID string) (*Entry, error) {
	var entry Entry
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND action = ?", jobID, ActionImport).
		Order("created_at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting import history for job: %w", err)
	}
	return &entry, nil
}

// ListByUser returns a user's history entries, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return entries, nil
}

// MarkRolledBack stamps an entry as reversed. The update is conditional so
// two concurrent rollbacks cannot both claim the entry; the loser gets
// ErrAlreadyRolledBack.
func (s *Store) MarkRolledBack(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&Entry{}).
		Where("id = ? AND rolled_back_at IS NULL", id).
		Updates(map[string]any{"rolled_back_at": now, "can_rollback": false})
	if result.Error != nil {
		return fmt.Errorf("marking history entry rolled back: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyRolledBack
	}
	return nil
}

// AppendEntry writes an arbitrary history record (rollback audit entries).
func (s *Store) AppendEntry(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("appending history entry: %w", err)
	}
	return nil
}

// CreateOperation persists a new rollback operation in pending state.
func (s *Store) CreateOperation(ctx context.Context, op *Operation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Status == "" {
		op.Status = OperationPending
	}
	if err := s.db.WithContext(ctx).Create(op).Error; err != nil {
		return fmt.Errorf("creating rollback operation: %w", err)
	}
	return nil
}

// GetOperation returns one rollback operation by id.
func (s *Store) GetOperation(ctx context.Context, id string) (*Operation, error) {
	var op Operation
	if err := s.db.WithContext(ctx).First(&op, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting rollback operation: %w", err)
	}
	return &op, nil
}

// ListOperationsByJob returns a job's rollback operations, newest first.
func (s *Store) ListOperationsByJob(ctx context.Context, jobID string) ([]Operation, error) {
	var ops []Operation
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at DESC").
		Find(&ops).Error
	if err != nil {
		return nil, fmt.Errorf("listing rollback operations: %w", err)
	}
	return ops, nil
}

func (s *Store) startOperation(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&Operation{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": OperationProcessing, "started_at": now}).Error
}

func (s *Store) finishOperation(ctx context.Context, id string, status OperationStatus, stepErrors []string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&Operation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      status,
			"step_errors": StringList(stepErrors),
			"finished_at": now,
		}).Error
}
