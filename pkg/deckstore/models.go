// Package deckstore is the persistence-store boundary of the import
// pipeline: deck, deck-card, and folder tables with the transactional
// commit support the orchestrator and rollback engine rely on. The wider
// product owns these tables; the pipeline only ever writes through
// CommitDeck and the rollback deletes.
package deckstore

import "time"

// Deck is the GORM model for a user deck.
type Deck struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	UserID    string    `gorm:"column:user_id;index:idx_deck_user;not null"`
	Name      string    `gorm:"column:name;not null"`
	Commander string    `gorm:"column:commander"`
	FolderID  string    `gorm:"column:folder_id;index:idx_deck_folder"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Deck) TableName() string { return "decks" }

// DeckCard is the GORM model for one card row in a deck.
type DeckCard struct {
	ID       string `gorm:"primaryKey;column:id;type:varchar(36)"`
	DeckID   string `gorm:"column:deck_id;index:idx_deckcard_deck;not null"`
	CardID   string `gorm:"column:card_id;not null"`
	Name     string `gorm:"column:name;not null"`
	Quantity int    `gorm:"column:quantity;not null;default:1"`
	SetCode  string `gorm:"column:set_code"`
}

// TableName returns the GORM table name.
func (DeckCard) TableName() string { return "deck_cards" }

// Folder is the GORM model for a deck folder.
type Folder struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	UserID    string    `gorm:"column:user_id;index:idx_folder_user;not null"`
	ParentID  string    `gorm:"column:parent_id;index:idx_folder_parent"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Folder) TableName() string { return "folders" }
