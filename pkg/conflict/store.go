package conflict

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Store provides database operations for import conflicts.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the import_conflicts table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Conflict{})
}

// CreateAll inserts detected conflicts in one batch.
func (s *Store) CreateAll(ctx context.Context, conflicts []Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&conflicts).Error; err != nil {
		return fmt.Errorf("create conflicts: %w", err)
	}
	return nil
}

// Get retrieves a conflict by ID, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*Conflict, error) {
	var c Conflict
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get conflict: %w", err)
	}
	return &c, nil
}

// ListByJob returns all conflicts for a job, oldest first.
func (s *Store) ListByJob(ctx context.Context, jobID string) ([]Conflict, error) {
	var conflicts []Conflict
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Find(&conflicts).Error
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return conflicts, nil
}

// CountUnresolvedBlocking returns the number of blocking conflicts for a
// job that still have no resolution.
func (s *Store) CountUnresolvedBlocking(ctx context.Context, jobID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Conflict{}).
		Where("job_id = ? AND blocking = ? AND (resolution IS NULL OR resolution = '')", jobID, true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count unresolved conflicts: %w", err)
	}
	return count, nil
}

// CountUnresolved returns the number of conflicts (blocking or not) for a
// job without a resolution. A job may only complete when this is zero.
func (s *Store) CountUnresolved(ctx context.Context, jobID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Conflict{}).
		Where("job_id = ? AND (resolution IS NULL OR resolution = '')", jobID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count unresolved conflicts: %w", err)
	}
	return count, nil
}

// Resolve records a resolution on an unresolved conflict. Resolved
// conflicts are immutable: a second resolution attempt fails.
func (s *Store) Resolve(ctx context.Context, id string, resolution Resolution, resolvedBy string) (*Conflict, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	if c.Resolved() {
		return nil, fmt.Errorf("conflict %s is already resolved as %q", id, c.Resolution)
	}
	if !resolution.ValidFor(c.ConflictType) {
		return nil, fmt.Errorf("resolution %q is not valid for conflict type %q", resolution, c.ConflictType)
	}

	now := time.Now()
	result := s.db.WithContext(ctx).Model(&Conflict{}).
		Where("id = ? AND (resolution IS NULL OR resolution = '')", id).
		Updates(map[string]any{
			"resolution":  string(resolution),
			"resolved_by": resolvedBy,
			"resolved_at": &now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("resolve conflict: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("conflict %s was resolved concurrently", id)
	}
	return s.Get(ctx, id)
}

// DeleteByJob removes all conflicts for a job (retention cleanup).
func (s *Store) DeleteByJob(ctx context.Context, jobID string) error {
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&Conflict{}).Error; err != nil {
		return fmt.Errorf("delete conflicts: %w", err)
	}
	return nil
}
