// Package events is the import pipeline's event stream: an append-only,
// store-backed ledger of job and conflict lifecycle events that the UI can
// poll as an alternative to per-job progress polling.
package events

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	JobCreated        EventType = "job_created"
	JobStarted        EventType = "job_started"
	JobProgress       EventType = "job_progress"
	JobCompleted      EventType = "job_completed"
	JobFailed         EventType = "job_failed"
	JobCancelled      EventType = "job_cancelled"
	ConflictDetected  EventType = "conflict_detected"
	ConflictResolved  EventType = "conflict_resolved"
	PreviewReady      EventType = "preview_ready"
	RollbackStarted   EventType = "rollback_started"
	RollbackCompleted EventType = "rollback_completed"
)

// Data is the free-form JSON payload of an event.
type Data map[string]any

// Scan implements the sql.Scanner interface for Data.
func (d *Data) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for Data: %T", value)
	}
	return json.Unmarshal(bytes, d)
}

// Value implements the driver.Valuer interface for Data.
func (d Data) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Event is the GORM model for one import event.
type Event struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	EventType EventType `gorm:"column:event_type;index:idx_event_type;not null"`
	JobID     string    `gorm:"column:job_id;index:idx_event_job;not null"`
	UserID    string    `gorm:"column:user_id;index:idx_event_user;not null"`
	Data      Data      `gorm:"column:data;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Event) TableName() string { return "import_events" }

// Store provides append-only operations for import events.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the import_events table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Event{})
}

// Append creates a new immutable event record.
func (s *Store) Append(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListFilter defines filters for listing events.
type ListFilter struct {
	UserID    string
	JobID     string
	EventType string
}

// List returns paginated events, newest first. pageToken is an RFC3339
// timestamp; events with created_at < pageToken are returned.
func (s *Store) List(ctx context.Context, filter ListFilter, pageSize int, pageToken string) ([]Event, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&Event{})
		if filter.UserID != "" {
			q = q.Where("user_id = ?", filter.UserID)
		}
		if filter.JobID != "" {
			q = q.Where("job_id = ?", filter.JobID)
		}
		if filter.EventType != "" {
			q = q.Where("event_type = ?", filter.EventType)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery(s.db.WithContext(ctx)).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count events: %w", err)
	}

	query := buildQuery(s.db.WithContext(ctx)).Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []Event
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list events: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// DeleteOlderThan deletes events created before the cutoff. Returns the
// number of deleted records.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Event{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Publisher appends events and logs them. A nil Publisher is safe to call,
// so components can emit events unconditionally.
type Publisher struct {
	store  *Store
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(store *Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, logger: logger}
}

// Publish records an event. Failures are logged, not returned: event
// emission never blocks pipeline progress.
func (p *Publisher) Publish(ctx context.Context, eventType EventType, jobID, userID string, data Data) {
	if p == nil || p.store == nil {
		return
	}
	event := &Event{
		EventType: eventType,
		JobID:     jobID,
		UserID:    userID,
		Data:      data,
	}
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.Error("failed to publish event",
			"eventType", eventType, "jobID", jobID, "error", err)
		return
	}
	p.logger.Debug("event published", "eventType", eventType, "jobID", jobID)
}
