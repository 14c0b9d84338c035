package conflict

import (
	"fmt"

	"github.com/deckhaven/import-service/pkg/deckstore"
)

// CommitPlan is the mutable plan for committing one deck. Resolution
// appliers adjust it before the orchestrator hands it to the deck store.
type CommitPlan struct {
	Skip bool
	Deck deckstore.CommitInput
	// UseFolderID overrides folder creation with an existing folder.
	UseFolderID string
	// dropCardIDs collects cards removed by skip resolutions.
	dropCardIDs map[string]bool
}

// DropCard marks a card for removal from the plan.
func (p *CommitPlan) DropCard(cardID string) {
	if p.dropCardIDs == nil {
		p.dropCardIDs = map[string]bool{}
	}
	p.dropCardIDs[cardID] = true
}

// Dropped reports whether a card was removed by a resolution.
func (p *CommitPlan) Dropped(cardID string) bool { return p.dropCardIDs[cardID] }

// RenameSuffix is appended to deck and folder names by the rename
// resolution.
const RenameSuffix = " (imported)"

type applyFunc func(c *Conflict, plan *CommitPlan) error

// appliers is the resolution dispatch table. Adding a resolution means
// adding an entry here, not a branch in the orchestrator.
var appliers = map[Resolution]applyFunc{
	ResolutionSkip: func(c *Conflict, plan *CommitPlan) error {
		switch c.ConflictType {
		case TypeDuplicateDeckName:
			plan.Skip = true
		case TypeAmbiguousCardMatch:
			plan.DropCard(c.NewData.GetString("cardId"))
		}
		return nil
	},
	ResolutionRename: func(c *Conflict, plan *CommitPlan) error {
		if c.ConflictType == TypeDuplicateDeckName {
			plan.Deck.Name += RenameSuffix
		}
		// Folder renames are applied when the job's target folder is
		// resolved, not through the plan.
		return nil
	},
	ResolutionOverwrite: func(c *Conflict, plan *CommitPlan) error {
		deckID := c.ExistingData.GetString("deckId")
		if deckID == "" {
			return fmt.Errorf("overwrite resolution is missing the existing deck ID")
		}
		plan.Deck.ReplaceDeckID = deckID
		return nil
	},
	ResolutionMerge: func(c *Conflict, plan *CommitPlan) error {
		deckID := c.ExistingData.GetString("deckId")
		if deckID == "" {
			return fmt.Errorf("merge resolution is missing the existing deck ID")
		}
		plan.Deck.MergeDeckID = deckID
		return nil
	},
	ResolutionUseExisting: func(c *Conflict, plan *CommitPlan) error {
		if c.ConflictType == TypeFolderNameCollision {
			plan.UseFolderID = c.ExistingData.GetString("folderId")
		}
		// card-already-owned is informational: the deck keeps its copy.
		return nil
	},
	ResolutionUseSuggested: func(c *Conflict, plan *CommitPlan) error {
		// Accept the resolver's match; the plan already carries it.
		return nil
	},
}

// Apply runs every resolved conflict's applier against the plan. Conflicts
// without a resolution are an error: the orchestrator must not reach commit
// with unresolved conflicts.
func Apply(conflicts []Conflict, plan *CommitPlan) error {
	for i := range conflicts {
		c := &conflicts[i]
		if !c.Resolved() {
			return fmt.Errorf("conflict %s (%s) has no resolution", c.ID, c.ConflictType)
		}
		fn, ok := appliers[c.Resolution]
		if !ok {
			return fmt.Errorf("no applier for resolution %q", c.Resolution)
		}
		if err := fn(c, plan); err != nil {
			return fmt.Errorf("apply %s resolution to conflict %s: %w", c.Resolution, c.ID, err)
		}
	}
	return nil
}
