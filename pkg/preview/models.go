// Package preview materializes a dry-run snapshot of what committing an
// import job would do, and gates the commit behind user approval. A
// preview is built once from already-resolved data, approved or denied
// exactly once, and expires after a TTL checked lazily at approval time.
package preview

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTTL is how long a preview remains approvable.
const DefaultTTL = 24 * time.Hour

// DeckSummary is one deck in a preview snapshot.
type DeckSummary struct {
	ItemID          string `json:"itemId"`
	Name            string `json:"name"`
	Commander       string `json:"commander,omitempty"`
	CardCount       int    `json:"cardCount"`
	UnresolvedCount int    `json:"unresolvedCount"`
}

// Statistics summarizes a preview.
type Statistics struct {
	DecksFound     int `json:"decksFound"`
	CardsProcessed int `json:"cardsProcessed"`
	CardsResolved  int `json:"cardsResolved"`
	WarningCount   int `json:"warningCount"`
	ConflictCount  int `json:"conflictCount"`
	BlockingCount  int `json:"blockingCount"`
}

// Snapshot is the JSON body of a preview: everything the UI needs to show
// before approval, computed entirely from already-parsed and resolved data.
type Snapshot struct {
	Decks       []DeckSummary `json:"decks"`
	Statistics  Statistics    `json:"statistics"`
	Warnings    []string      `json:"warnings,omitempty"`
	ConflictIDs []string      `json:"conflictIds,omitempty"`
}

// Scan implements the sql.Scanner interface for Snapshot.
func (s *Snapshot) Scan(value any) error {
	if value == nil {
		*s = Snapshot{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for Snapshot: %T", value)
	}
	return json.Unmarshal(bytes, s)
}

// Value implements the driver.Valuer interface for Snapshot.
func (s Snapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Preview is the GORM model for an import preview.
type Preview struct {
	ID         string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	JobID      string     `gorm:"column:job_id;uniqueIndex:idx_preview_job;not null"`
	UserID     string     `gorm:"column:user_id;index:idx_preview_user;not null"`
	Snapshot   Snapshot   `gorm:"column:snapshot;type:text"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;not null"`
	IsApproved bool       `gorm:"column:is_approved;not null;default:false"`
	ApprovedBy string     `gorm:"column:approved_by"`
	ApprovedAt *time.Time `gorm:"column:approved_at"`
	// Consumed is set when the approval decision has been taken, approved
	// or not; a consumed preview accepts no further decisions.
	Consumed  bool      `gorm:"column:consumed;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Preview) TableName() string { return "import_previews" }

// Expired reports whether the preview's TTL has passed.
func (p *Preview) Expired(now time.Time) bool { return now.After(p.ExpiresAt) }
