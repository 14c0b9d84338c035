// Package history is the import pipeline's append-only audit and rollback
// ledger. Every committed job records enough information to reverse its
// persisted writes; the rollback engine replays that record backwards,
// best-effort per step.
package history

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Action categorizes a history entry.
type Action string

const (
	ActionImport            Action = "import"
	ActionRollback          Action = "rollback"
	ActionSelectiveRollback Action = "selective-rollback"
)

// DeckRollback records the writes one committed deck produced.
type DeckRollback struct {
	ItemID string `json:"itemId,omitempty"`
	DeckID string `json:"deckId"`
	// CreatedDeck is false for merge commits, where only card rows were
	// added to an existing deck.
	CreatedDeck bool     `json:"createdDeck"`
	CardRowIDs  []string `json:"cardRowIds,omitempty"`
	FolderID    string   `json:"folderId,omitempty"`
}

// RollbackData is everything needed to reverse a commit: created decks and
// card rows, and folders created for the import.
type RollbackData struct {
	Decks            []DeckRollback `json:"decks"`
	CreatedFolderIDs []string       `json:"createdFolderIds,omitempty"`
}

// Scan implements the sql.Scanner interface for RollbackData.
func (d *RollbackData) Scan(value any) error {
	if value == nil {
		*d = RollbackData{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for RollbackData: %T", value)
	}
	return json.Unmarshal(bytes, d)
}

// Value implements the driver.Valuer interface for RollbackData.
func (d RollbackData) Value() (driver.Value, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Entry is the GORM model for one import history record.
type Entry struct {
	ID           string       `gorm:"primaryKey;column:id;type:varchar(36)"`
	JobID        string       `gorm:"column:job_id;index:idx_history_job;not null"`
	UserID       string       `gorm:"column:user_id;index:idx_history_user;not null"`
	Action       Action       `gorm:"column:action;not null"`
	Description  string       `gorm:"column:description"`
	RollbackData RollbackData `gorm:"column:rollback_data;type:text"`
	CanRollback  bool         `gorm:"column:can_rollback;not null;default:false"`
	RolledBackAt *time.Time   `gorm:"column:rolled_back_at"`
	CreatedAt    time.Time    `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Entry) TableName() string { return "import_history" }

// RolledBack reports whether the entry has been reversed. A rolled-back
// entry is terminal and cannot be rolled back again.
func (e *Entry) RolledBack() bool { return e.RolledBackAt != nil }

// OperationStatus is the lifecycle state of a rollback operation.
type OperationStatus string

const (
	OperationPending    OperationStatus = "pending"
	OperationProcessing OperationStatus = "processing"
	OperationCompleted  OperationStatus = "completed"
	OperationFailed     OperationStatus = "failed"
)

// StringList is a custom GORM type for a JSON string array.
type StringList []string

// Scan implements the sql.Scanner interface for StringList.
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface for StringList.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Operation is the GORM model for a requested rollback. It has its own
// lifecycle, independent of the original job's.
type Operation struct {
	ID          string          `gorm:"primaryKey;column:id;type:varchar(36)"`
	JobID       string          `gorm:"column:job_id;index:idx_rollback_job;not null"`
	HistoryID   string          `gorm:"column:history_id;not null"`
	RequestedBy string          `gorm:"column:requested_by;not null"`
	Reason      string          `gorm:"column:reason"`
	DeckIDs     StringList      `gorm:"column:deck_ids;type:text"`
	ItemIDs     StringList      `gorm:"column:item_ids;type:text"`
	Status      OperationStatus `gorm:"column:status;not null;default:pending"`
	StepErrors  StringList      `gorm:"column:step_errors;type:text"`
	StartedAt   *time.Time      `gorm:"column:started_at"`
	FinishedAt  *time.Time      `gorm:"column:finished_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Operation) TableName() string { return "rollback_operations" }

// Selective reports whether the operation targets a subset of the import.
func (o *Operation) Selective() bool { return len(o.DeckIDs) > 0 || len(o.ItemIDs) > 0 }
