package deckstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store provides deck/card/folder operations for the import pipeline.
type Store struct {
	db   *gorm.DB
	lock *commitLock
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, lock: newCommitLock(db)}
}

// AutoMigrate creates or updates the deck tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Deck{}, &DeckCard{}, &Folder{})
}

// CommitInput is one deck to persist, already resolved.
type CommitInput struct {
	UserID    string
	Name      string
	Commander string
	FolderID  string
	Cards     []CommitCard
	// ReplaceDeckID, when set, deletes that deck inside the same
	// transaction before creating the new one (overwrite resolution).
	ReplaceDeckID string
	// MergeDeckID, when set, adds the cards to the existing deck instead
	// of creating a new one (merge resolution).
	MergeDeckID string
}

// CommitCard is one resolved card row to persist.
type CommitCard struct {
	CardID   string
	Name     string
	Quantity int
	SetCode  string
}

// CommitResult records every ID a commit created, in the shape the rollback
// engine needs to reverse it.
type CommitResult struct {
	DeckID           string   `json:"deckId"`
	CreatedDeck      bool     `json:"createdDeck"`
	CardRowIDs       []string `json:"cardRowIds"`
	ReplacedDeckID   string   `json:"replacedDeckId,omitempty"`
	CreatedFolderIDs []string `json:"createdFolderIds,omitempty"`
}

// CommitDeck persists one deck and its cards in a single transaction:
// either every card row lands or none do. Commits for the same user are
// serialized by an advisory lock so two items racing to create the same
// folder or deck name cannot interleave.
func (s *Store) CommitDeck(ctx context.Context, in CommitInput) (*CommitResult, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("commit deck: user ID is required")
	}

	var result *CommitResult
	err := s.lock.WithLock(ctx, in.UserID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res, err := commitDeckTx(tx, in)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("commit deck %q: %w", in.Name, err)
	}
	return result, nil
}

func commitDeckTx(tx *gorm.DB, in CommitInput) (*CommitResult, error) {
	result := &CommitResult{}

	if in.ReplaceDeckID != "" {
		if err := deleteDeckTx(tx, in.ReplaceDeckID); err != nil {
			return nil, err
		}
		result.ReplacedDeckID = in.ReplaceDeckID
	}

	deckID := in.MergeDeckID
	if deckID == "" {
		deckID = uuid.New().String()
		deck := &Deck{
			ID:        deckID,
			UserID:    in.UserID,
			Name:      in.Name,
			Commander: in.Commander,
			FolderID:  in.FolderID,
		}
		if err := tx.Create(deck).Error; err != nil {
			return nil, fmt.Errorf("create deck: %w", err)
		}
		result.CreatedDeck = true
	}
	result.DeckID = deckID

	for _, c := range in.Cards {
		if in.MergeDeckID != "" {
			// Merge skips cards the deck already has.
			var count int64
			if err := tx.Model(&DeckCard{}).
				Where("deck_id = ? AND card_id = ?", deckID, c.CardID).
				Count(&count).Error; err != nil {
				return nil, fmt.Errorf("check existing card: %w", err)
			}
			if count > 0 {
				continue
			}
		}
		row := &DeckCard{
			ID:       uuid.New().String(),
			DeckID:   deckID,
			CardID:   c.CardID,
			Name:     c.Name,
			Quantity: c.Quantity,
			SetCode:  c.SetCode,
		}
		if err := tx.Create(row).Error; err != nil {
			return nil, fmt.Errorf("create deck card %q: %w", c.Name, err)
		}
		result.CardRowIDs = append(result.CardRowIDs, row.ID)
	}

	return result, nil
}

// EnsureFolder finds or creates a folder by name under a parent, returning
// its ID and whether it was created. Runs under the caller's user lock when
// invoked from a commit.
func (s *Store) EnsureFolder(ctx context.Context, userID, parentID, name string) (string, bool, error) {
	var folder Folder
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND parent_id = ? AND LOWER(name) = ?", userID, parentID, strings.ToLower(name)).
		First(&folder).Error
	if err == nil {
		return folder.ID, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", false, fmt.Errorf("find folder: %w", err)
	}

	folder = Folder{ID: uuid.New().String(), UserID: userID, ParentID: parentID, Name: name}
	if err := s.db.WithContext(ctx).Create(&folder).Error; err != nil {
		return "", false, fmt.Errorf("create folder: %w", err)
	}
	return folder.ID, true, nil
}

// DecksByUser returns all decks for a user, for conflict detection.
func (s *Store) DecksByUser(ctx context.Context, userID string) ([]Deck, error) {
	var decks []Deck
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&decks).Error; err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	return decks, nil
}

// FoldersByUser returns all folders for a user.
func (s *Store) FoldersByUser(ctx context.Context, userID string) ([]Folder, error) {
	var folders []Folder
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return folders, nil
}

// OwnedQuantities returns cardID -> total quantity across all of a user's
// decks, for card-already-owned detection.
func (s *Store) OwnedQuantities(ctx context.Context, userID string) (map[string]int, error) {
	type row struct {
		CardID string
		Total  int
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&DeckCard{}).
		Select("deck_cards.card_id AS card_id, SUM(deck_cards.quantity) AS total").
		Joins("JOIN decks ON decks.id = deck_cards.deck_id").
		Where("decks.user_id = ?", userID).
		Group("deck_cards.card_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum owned cards: %w", err)
	}
	owned := make(map[string]int, len(rows))
	for _, r := range rows {
		owned[r.CardID] = r.Total
	}
	return owned, nil
}

// GetDeck returns a deck by ID, or nil if absent.
func (s *Store) GetDeck(ctx context.Context, deckID string) (*Deck, error) {
	var deck Deck
	if err := s.db.WithContext(ctx).First(&deck, "id = ?", deckID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get deck: %w", err)
	}
	return &deck, nil
}

// DeckCards returns the card rows of a deck.
func (s *Store) DeckCards(ctx context.Context, deckID string) ([]DeckCard, error) {
	var cards []DeckCard
	if err := s.db.WithContext(ctx).Where("deck_id = ?", deckID).Find(&cards).Error; err != nil {
		return nil, fmt.Errorf("list deck cards: %w", err)
	}
	return cards, nil
}

// DeleteDeck removes a deck and its cards in one transaction.
func (s *Store) DeleteDeck(ctx context.Context, deckID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteDeckTx(tx, deckID)
	})
	if err != nil {
		return fmt.Errorf("delete deck %s: %w", deckID, err)
	}
	return nil
}

func deleteDeckTx(tx *gorm.DB, deckID string) error {
	if err := tx.Where("deck_id = ?", deckID).Delete(&DeckCard{}).Error; err != nil {
		return fmt.Errorf("delete deck cards: %w", err)
	}
	if err := tx.Where("id = ?", deckID).Delete(&Deck{}).Error; err != nil {
		return fmt.Errorf("delete deck: %w", err)
	}
	return nil
}

// DeleteDeckCards removes specific card rows (selective rollback).
func (s *Store) DeleteDeckCards(ctx context.Context, rowIDs []string) error {
	if len(rowIDs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", rowIDs).Delete(&DeckCard{}).Error; err != nil {
		return fmt.Errorf("delete deck cards: %w", err)
	}
	return nil
}

// DeleteFolderIfEmpty removes a folder when no decks reference it.
func (s *Store) DeleteFolderIfEmpty(ctx context.Context, folderID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Deck{}).Where("folder_id = ?", folderID).Count(&count).Error; err != nil {
		return fmt.Errorf("count folder decks: %w", err)
	}
	if count > 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id = ?", folderID).Delete(&Folder{}).Error; err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}

// ClearDeckFolder detaches a deck from its folder (membership rollback).
func (s *Store) ClearDeckFolder(ctx context.Context, deckID string) error {
	if err := s.db.WithContext(ctx).Model(&Deck{}).Where("id = ?", deckID).
		Update("folder_id", "").Error; err != nil {
		return fmt.Errorf("clear deck folder: %w", err)
	}
	return nil
}
