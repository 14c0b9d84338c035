package preview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Decision is the outcome of an approval attempt.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	DecisionExpired  Decision = "expired"
)

// ErrConsumed is returned when a decision was already taken on a preview.
var ErrConsumed = errors.New("preview decision already taken")

// Store provides database operations for import previews.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the import_previews table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Preview{})
}

// Create materializes a preview for a job. TTL falls back to DefaultTTL.
func (s *Store) Create(ctx context.Context, jobID, userID string, snapshot Snapshot, ttl time.Duration) (*Preview, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	p := &Preview{
		ID:        uuid.New().String(),
		JobID:     jobID,
		UserID:    userID,
		Snapshot:  snapshot,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create preview: %w", err)
	}
	return p, nil
}

// Get retrieves a preview by ID, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*Preview, error) {
	var p Preview
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get preview: %w", err)
	}
	return &p, nil
}

// GetByJob retrieves the preview for a job, or nil if none was built.
func (s *Store) GetByJob(ctx context.Context, jobID string) (*Preview, error) {
	var p Preview
	if err := s.db.WithContext(ctx).First(&p, "job_id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get preview by job: %w", err)
	}
	return &p, nil
}

// Decide consumes the preview with an approval decision. Expiry is checked
// lazily here rather than by a background sweep: an expired preview yields
// DecisionExpired regardless of the requested verdict. The consumption is
// a conditional update so exactly one decision wins under concurrency.
func (s *Store) Decide(ctx context.Context, id string, approve bool, actor string) (Decision, *Preview, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if p == nil {
		return "", nil, nil
	}
	if p.Consumed {
		return "", nil, ErrConsumed
	}

	now := time.Now()
	decision := DecisionDenied
	updates := map[string]any{"consumed": true}
	if p.Expired(now) {
		decision = DecisionExpired
	} else if approve {
		decision = DecisionApproved
		updates["is_approved"] = true
		updates["approved_by"] = actor
		updates["approved_at"] = &now
	}

	result := s.db.WithContext(ctx).Model(&Preview{}).
		Where("id = ? AND consumed = ?", id, false).
		Updates(updates)
	if result.Error != nil {
		return "", nil, fmt.Errorf("decide preview: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", nil, ErrConsumed
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return decision, updated, nil
}

// DeleteOlderThan removes consumed or expired previews older than the
// cutoff (retention cleanup).
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ? AND (consumed = ? OR expires_at < ?)", cutoff, true, time.Now()).
		Delete(&Preview{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old previews: %w", result.Error)
	}
	return result.RowsAffected, nil
}
