// Package conflict detects and resolves collisions between incoming import
// data and a user's existing decks, folders, and collection. Detection
// emits conflict records; resolution is data, not control flow — a tagged
// resolution value consumed by a dispatch table at commit time.
package conflict

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Type categorizes a conflict.
type Type string

const (
	TypeDuplicateDeckName   Type = "duplicate-deck-name"
	TypeCardAlreadyOwned    Type = "card-already-owned"
	TypeFolderNameCollision Type = "folder-name-collision"
	TypeAmbiguousCardMatch  Type = "ambiguous-card-match"
)

// blockingByType tags which conflict types halt progression when
// autoResolveConflicts is off. card-already-owned is informational.
var blockingByType = map[Type]bool{
	TypeDuplicateDeckName:   true,
	TypeCardAlreadyOwned:    false,
	TypeFolderNameCollision: true,
	TypeAmbiguousCardMatch:  true,
}

// Blocking returns whether a conflict type blocks commit by default.
func (t Type) Blocking() bool { return blockingByType[t] }

// Resolution is a resolution decision for a conflict.
type Resolution string

const (
	ResolutionSkip         Resolution = "skip"
	ResolutionRename       Resolution = "rename"
	ResolutionOverwrite    Resolution = "overwrite"
	ResolutionMerge        Resolution = "merge"
	ResolutionUseExisting  Resolution = "use-existing"
	ResolutionUseSuggested Resolution = "use-suggested"
)

// validResolutions lists the resolutions each conflict type accepts.
var validResolutions = map[Type][]Resolution{
	TypeDuplicateDeckName:   {ResolutionSkip, ResolutionRename, ResolutionOverwrite, ResolutionMerge},
	TypeCardAlreadyOwned:    {ResolutionUseExisting},
	TypeFolderNameCollision: {ResolutionUseExisting, ResolutionRename},
	TypeAmbiguousCardMatch:  {ResolutionUseSuggested, ResolutionSkip},
}

// ValidFor reports whether r is an accepted resolution for conflict type t.
func (r Resolution) ValidFor(t Type) bool {
	for _, v := range validResolutions[t] {
		if v == r {
			return true
		}
	}
	return false
}

// autoResolutionByType is the default automatic resolution per conflict
// type. The job-level defaultConflictResolution overrides the
// duplicate-deck-name entry only.
var autoResolutionByType = map[Type]Resolution{
	TypeDuplicateDeckName:   ResolutionRename,
	TypeCardAlreadyOwned:    ResolutionUseExisting,
	TypeFolderNameCollision: ResolutionUseExisting,
	TypeAmbiguousCardMatch:  ResolutionUseSuggested,
}

// AutoResolution returns the automatic resolution for a conflict type.
// deckDefault, when valid for duplicate-deck-name, overrides its default.
func AutoResolution(t Type, deckDefault Resolution) Resolution {
	if t == TypeDuplicateDeckName && deckDefault != "" && deckDefault.ValidFor(t) {
		return deckDefault
	}
	return autoResolutionByType[t]
}

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// GetString reads a string field from the snapshot, empty if absent.
func (m JSONAny) GetString(key string) string {
	s, _ := m[key].(string)
	return s
}

// Conflict is the GORM model for a detected collision. A conflict with a
// non-empty Resolution is immutable thereafter.
type Conflict struct {
	ID           string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	JobID        string     `gorm:"column:job_id;index:idx_conflict_job;not null"`
	ItemID       string     `gorm:"column:item_id;index:idx_conflict_item"`
	ConflictType Type       `gorm:"column:conflict_type;not null"`
	Description  string     `gorm:"column:description"`
	ExistingData JSONAny    `gorm:"column:existing_data;type:text"`
	NewData      JSONAny    `gorm:"column:new_data;type:text"`
	Blocking     bool       `gorm:"column:blocking;not null"`
	Resolution   Resolution `gorm:"column:resolution;index:idx_conflict_resolution"`
	ResolvedBy   string     `gorm:"column:resolved_by"`
	ResolvedAt   *time.Time `gorm:"column:resolved_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Conflict) TableName() string { return "import_conflicts" }

// Resolved returns true once a resolution has been recorded.
func (c *Conflict) Resolved() bool { return c.Resolution != "" }
