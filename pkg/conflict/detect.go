package conflict

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/deckhaven/import-service/pkg/deckstore"
)

// ResolvedCard is one card of an incoming deck after resolution.
type ResolvedCard struct {
	CardID     string
	RawName    string
	Name       string
	Quantity   int
	SetCode    string
	Confidence float64
	Ambiguous  bool
}

// IncomingDeck is one resolved deck awaiting conflict detection.
type IncomingDeck struct {
	Name       string
	Commander  string
	FolderName string
	Cards      []ResolvedCard
}

// ExistingState is the snapshot of the user's current data that detection
// runs against.
type ExistingState struct {
	Decks   []deckstore.Deck
	Folders []deckstore.Folder
	// OwnedQuantities maps card ID to total owned quantity across decks.
	OwnedQuantities map[string]int
	// FolderParentID scopes folder collision checks (the import target).
	FolderParentID string
}

// Detect compares one incoming deck against existing state and returns the
// conflicts it finds. Rules run in priority order and the first matching
// rule wins per subject: one conflict per deck name, one per folder, one
// per card.
func Detect(jobID, itemID string, incoming IncomingDeck, existing ExistingState) []Conflict {
	var conflicts []Conflict

	add := func(t Type, description string, existingData, newData JSONAny) {
		conflicts = append(conflicts, Conflict{
			ID:           uuid.New().String(),
			JobID:        jobID,
			ItemID:       itemID,
			ConflictType: t,
			Description:  description,
			ExistingData: existingData,
			NewData:      newData,
			Blocking:     t.Blocking(),
		})
	}

	// Rule 1: duplicate deck name (case-insensitive).
	for _, d := range existing.Decks {
		if strings.EqualFold(d.Name, incoming.Name) {
			add(TypeDuplicateDeckName,
				fmt.Sprintf("a deck named %q already exists", d.Name),
				JSONAny{"deckId": d.ID, "deckName": d.Name},
				JSONAny{"deckName": incoming.Name})
			break
		}
	}

	// Rules 2 and 4, first match wins per card.
	for _, c := range incoming.Cards {
		if owned, ok := existing.OwnedQuantities[c.CardID]; ok && owned >= c.Quantity {
			add(TypeCardAlreadyOwned,
				fmt.Sprintf("%q is already in the collection (%d owned)", c.Name, owned),
				JSONAny{"cardId": c.CardID, "quantity": owned},
				JSONAny{"cardId": c.CardID, "cardName": c.Name, "quantity": c.Quantity})
			continue
		}
		if c.Ambiguous {
			add(TypeAmbiguousCardMatch,
				fmt.Sprintf("%q matched %q with low confidence (%.2f)", c.RawName, c.Name, c.Confidence),
				nil,
				JSONAny{"cardId": c.CardID, "rawName": c.RawName, "cardName": c.Name, "confidence": c.Confidence})
		}
	}

	// Rule 3: folder name collision under the same parent.
	if incoming.FolderName != "" {
		for _, f := range existing.Folders {
			if f.ParentID == existing.FolderParentID && strings.EqualFold(f.Name, incoming.FolderName) {
				add(TypeFolderNameCollision,
					fmt.Sprintf("a folder named %q already exists", f.Name),
					JSONAny{"folderId": f.ID, "folderName": f.Name},
					JSONAny{"folderName": incoming.FolderName})
				break
			}
		}
	}

	return conflicts
}
