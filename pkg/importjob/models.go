// Package importjob owns the import pipeline's job queue: the ImportJob and
// ImportJobItem models, their store, the orchestrator that drives a claimed
// job through its steps, the worker pool, and the HTTP status API.
package importjob

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deckhaven/import-service/pkg/importerr"
	"github.com/deckhaven/import-service/pkg/parse"
)

// Type classifies how much input a job carries.
type Type string

const (
	TypeSingle Type = "single" // one deck
	TypeBatch  Type = "batch"  // a handful of decks
	TypeBulk   Type = "bulk"   // a whole collection export
)

// Status is the lifecycle state of a job or item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Step is the orchestrator checkpoint a job is at. The await steps are
// waiting states: the job is parked until a handler moves it back to a
// claimable step.
type Step string

const (
	StepParse          Step = "parse"
	StepResolve        Step = "resolve"
	StepDetect         Step = "detect"
	StepAwaitConflicts Step = "await_conflicts"
	StepAwaitApproval  Step = "await_approval"
	StepCommit         Step = "commit"
	StepDone           Step = "done"
)

// Options is the per-job configuration submitted with the request, stored
// as a JSON column.
type Options struct {
	GeneratePreview      bool `json:"generatePreview,omitempty"`
	AutoResolveConflicts bool `json:"autoResolveConflicts,omitempty"`
	ContinueOnError      bool `json:"continueOnError,omitempty"`
	// ValidateCards requires full resolution: an unknown card fails the
	// deck instead of being skipped with a recorded error.
	ValidateCards bool `json:"validateCards,omitempty"`
	// Concurrency bounds how many items resolve in parallel. 0 means the
	// server default.
	Concurrency int `json:"concurrency,omitempty"`
	// TimeoutSeconds bounds each pipeline step. 0 means the server default.
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	CustomFields   map[string]string `json:"customFields,omitempty"`
	// DefaultConflictResolution overrides the per-type auto-resolution
	// table when AutoResolveConflicts is set.
	DefaultConflictResolution string `json:"defaultConflictResolution,omitempty"`
	// TargetFolderID places imported decks into an existing folder.
	TargetFolderID string `json:"targetFolderId,omitempty"`
	// TargetFolderName creates (or collides with) a folder of this name.
	TargetFolderName string `json:"targetFolderName,omitempty"`
}

// Scan implements the sql.Scanner interface for Options.
func (o *Options) Scan(value any) error {
	if value == nil {
		*o = Options{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for Options: %T", value)
	}
	return json.Unmarshal(bytes, o)
}

// Value implements the driver.Valuer interface for Options.
func (o Options) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ErrorList is an append-only JSON list of structured import errors.
type ErrorList []importerr.Error

// Scan implements the sql.Scanner interface for ErrorList.
func (l *ErrorList) Scan(value any) error {
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
		return fmt.Errorf("unsupported type for ErrorList: %T", value)
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface for ErrorList.
func (l ErrorList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ItemCard is one card line of an item as it moves through the pipeline:
// the parse step writes the raw fields, the resolve step fills in the
// canonical identity.
type ItemCard struct {
	RawName  string `json:"rawName"`
	Quantity int    `json:"quantity"`
	SetCode  string `json:"setCode,omitempty"`

	CardID     string  `json:"cardId,omitempty"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Ambiguous  bool    `json:"ambiguous,omitempty"`
	// Unresolved marks a card_not_found the job carries forward without
	// committing.
	Unresolved bool `json:"unresolved,omitempty"`
}

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

// CardList is the JSON column type for an item's cards.
type CardList []ItemCard

// Scan implements the sql.Scanner interface for CardList.
func (l *CardList) Scan(value any) error {
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
		return fmt.Errorf("unsupported type for CardList: %T", value)
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface for CardList.
func (l CardList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// ImportJob is the GORM model for an import job.
type ImportJob struct {
	ID       string       `gorm:"primaryKey;column:id;type:varchar(36)"`
	UserID   string       `gorm:"column:user_id;index:idx_job_user_status,priority:1;not null"`
	Type     Type         `gorm:"column:type;not null"`
	Source   parse.Source `gorm:"column:source;not null"`
	Status   Status       `gorm:"column:status;index:idx_job_user_status,priority:2;index:idx_job_status_step;not null;default:pending"`
	Priority int          `gorm:"column:priority;default:0"`

	// Exactly one of the three inputs is populated.
	RawInput string `gorm:"column:raw_input;type:text"`
	InputURL string `gorm:"column:input_url"`
	FileRef  string `gorm:"column:file_ref"`

	Options  Options `gorm:"column:options;type:text"`
	Step     Step    `gorm:"column:current_step;index:idx_job_status_step,priority:2"`
	Progress int     `gorm:"column:progress;default:0"`

	DecksFound     int `gorm:"column:decks_found;default:0"`
	DecksImported  int `gorm:"column:decks_imported;default:0"`
	CardsProcessed int `gorm:"column:cards_processed;default:0"`
	CardsResolved  int `gorm:"column:cards_resolved;default:0"`

	Errors   ErrorList `gorm:"column:errors;type:text"`
	Warnings ErrorList `gorm:"column:warnings;type:text"`

	RetryCount      int        `gorm:"column:retry_count;default:0"`
	MaxRetries      int        `gorm:"column:max_retries;default:3"`
	NextRetryAt     *time.Time `gorm:"column:next_retry_at"`
	CancelRequested bool       `gorm:"column:cancel_requested;not null;default:false"`
	ClaimedBy       string     `gorm:"column:claimed_by"`

	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	StartedAt   *time.Time `gorm:"column:started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

// TableName returns the GORM table name.
func (ImportJob) TableName() string { return "import_jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *ImportJob) IsTerminal() bool { return j.Status.Terminal() }

// Suspended reports whether the job is parked waiting for user input.
func (j *ImportJob) Suspended() bool {
	return j.Status == StatusProcessing &&
		(j.Step == StepAwaitConflicts || j.Step == StepAwaitApproval)
}

// ImportJobItem is the GORM model for one deck within a job. Items survive
// rollback; only retention cleanup deletes them.
type ImportJobItem struct {
	ID      string `gorm:"primaryKey;column:id;type:varchar(36)"`
	JobID   string `gorm:"column:job_id;index:idx_item_job;not null"`
	Ordinal int    `gorm:"column:ordinal;not null"`

	DeckName  string `gorm:"column:deck_name"`
	Commander string `gorm:"column:commander"`
	Status    Status `gorm:"column:status;not null;default:pending"`

	Cards CardList `gorm:"column:cards;type:text"`
	// DeckID is set after a successful commit. CreatedDeck and CardRowIDs
	// carry the rest of the commit result so a retried commit can rebuild
	// complete rollback data.
	DeckID      string     `gorm:"column:deck_id"`
	CreatedDeck bool       `gorm:"column:created_deck;not null;default:false"`
	CardRowIDs  StringList `gorm:"column:card_row_ids;type:text"`
	// Skipped is set when a conflict resolution dropped the whole deck.
	Skipped bool `gorm:"column:skipped;not null;default:false"`

	CardsTotal    int `gorm:"column:cards_total;default:0"`
	CardsResolved int `gorm:"column:cards_resolved;default:0"`

	Errors   ErrorList `gorm:"column:errors;type:text"`
	Warnings ErrorList `gorm:"column:warnings;type:text"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (ImportJobItem) TableName() string { return "import_job_items" }
