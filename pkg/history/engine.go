package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deckhaven/import-service/pkg/deckstore"
	"github.com/deckhaven/import-service/pkg/events"
)

// Engine reverses committed imports. A full rollback removes everything the
// import wrote; a selective rollback removes only the requested decks or
// items and leaves the rest in place.
//
// Rollback is best-effort: each reversal step that fails is recorded on the
// operation and the engine moves on to the next step. The operation ends
// completed when every step succeeded and failed otherwise.
type Engine struct {
	store     *Store
	decks     *deckstore.Store
	publisher *events.Publisher
	logger    *slog.Logger
}

// NewEngine wires a rollback engine.
func NewEngine(store *Store, decks *deckstore.Store, publisher *events.Publisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, decks: decks, publisher: publisher, logger: logger}
}

// Request describes a rollback to execute.
type Request struct {
	JobID       string
	RequestedBy string
	Reason      string
	// DeckIDs and ItemIDs narrow the rollback to a subset of the import.
	// Empty means full rollback.
	DeckIDs []string
	ItemIDs []string
}

// Rollback reverses the import recorded for req.JobID and returns the
// finished operation. ErrAlreadyRolledBack is returned without creating an
// operation when the import was already reversed, ErrNotFound when the job
// has no rollback-eligible history.
func (e *Engine) Rollback(ctx context.Context, req Request) (*Operation, error) {
	entry, err := e.store.GetImportByJob(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if entry.RolledBack() {
		return nil, ErrAlreadyRolledBack
	}
	if !entry.CanRollback {
		return nil, fmt.Errorf("%w: import %s recorded no reversible writes", ErrNotFound, req.JobID)
	}

	op := &Operation{
		JobID:       req.JobID,
		HistoryID:   entry.ID,
		RequestedBy: req.RequestedBy,
		Reason:      req.Reason,
		DeckIDs:     req.DeckIDs,
		ItemIDs:     req.ItemIDs,
	}
	if err := e.store.CreateOperation(ctx, op); err != nil {
		return nil, err
	}

	full := !op.Selective()
	if full {
		// Claim the entry up front so a concurrent full rollback of the
		// same import fails fast instead of double-reversing.
		if err := e.store.MarkRolledBack(ctx, entry.ID); err != nil {
			_ = e.store.finishOperation(ctx, op.ID, OperationFailed, []string{err.Error()})
			return nil, err
		}
	}

	if err := e.store.startOperation(ctx, op.ID); err != nil {
		return nil, err
	}
	e.publisher.Publish(ctx, events.RollbackStarted, req.JobID, entry.UserID, events.Data{
		"operationId": op.ID,
		"selective":   op.Selective(),
	})

	stepErrors := e.execute(ctx, entry, op)

	status := OperationCompleted
	if len(stepErrors) > 0 {
		status = OperationFailed
	}
	if err := e.store.finishOperation(ctx, op.ID, status, stepErrors); err != nil {
		return nil, err
	}

	if !full {
		audit := &Entry{
			JobID:       entry.JobID,
			UserID:      entry.UserID,
			Action:      ActionSelectiveRollback,
			Description: fmt.Sprintf("selective rollback of %d deck(s)", len(selectDecks(entry.RollbackData.Decks, op))),
			CanRollback: false,
		}
		if err := e.store.AppendEntry(ctx, audit); err != nil {
			e.logger.Error("recording selective rollback entry", "jobId", entry.JobID, "error", err)
		}
	}

	e.publisher.Publish(ctx, events.RollbackCompleted, req.JobID, entry.UserID, events.Data{
		"operationId": op.ID,
		"status":      string(status),
		"stepErrors":  len(stepErrors),
	})

	return e.store.GetOperation(ctx, op.ID)
}

// execute reverses the recorded writes in the opposite order they were
// made: folder memberships first, then card rows, then decks, then any
// folders the import created, provided they are now empty.
func (e *Engine) execute(ctx context.Context, entry *Entry, op *Operation) []string {
	var stepErrors []string
	fail := func(step string, err error) {
		msg := fmt.Sprintf("%s: %v", step, err)
		stepErrors = append(stepErrors, msg)
		e.logger.Warn("rollback step failed", "jobId", entry.JobID, "operationId", op.ID, "step", step, "error", err)
	}

	decks := selectDecks(entry.RollbackData.Decks, op)

	for _, d := range decks {
		if d.CreatedDeck && d.FolderID != "" {
			if err := e.decks.ClearDeckFolder(ctx, d.DeckID); err != nil {
				fail(fmt.Sprintf("clear folder for deck %s", d.DeckID), err)
			}
		}
	}

	for _, d := range decks {
		if d.CreatedDeck {
			continue // the deck delete below removes its cards
		}
		if err := e.decks.DeleteDeckCards(ctx, d.CardRowIDs); err != nil {
			fail(fmt.Sprintf("delete cards merged into deck %s", d.DeckID), err)
		}
	}

	for _, d := range decks {
		if !d.CreatedDeck {
			continue
		}
		if err := e.decks.DeleteDeck(ctx, d.DeckID); err != nil {
			fail(fmt.Sprintf("delete deck %s", d.DeckID), err)
		}
	}

	// Created folders are only removed on a full rollback; a selective
	// rollback may leave surviving decks inside them.
	if !op.Selective() {
		for _, folderID := range entry.RollbackData.CreatedFolderIDs {
			if err := e.decks.DeleteFolderIfEmpty(ctx, folderID); err != nil {
				fail(fmt.Sprintf("delete folder %s", folderID), err)
			}
		}
	}

	return stepErrors
}

// selectDecks filters the recorded decks down to the operation's subset.
func selectDecks(all []DeckRollback, op *Operation) []DeckRollback {
	if !op.Selective() {
		return all
	}
	deckIDs := make(map[string]bool, len(op.DeckIDs))
	for _, id := range op.DeckIDs {
		deckIDs[id] = true
	}
	itemIDs := make(map[string]bool, len(op.ItemIDs))
	for _, id := range op.ItemIDs {
		itemIDs[id] = true
	}
	var out []DeckRollback
	for _, d := range all {
		if deckIDs[d.DeckID] || (d.ItemID != "" && itemIDs[d.ItemID]) {
			out = append(out, d)
		}
	}
	return out
}
