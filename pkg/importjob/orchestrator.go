package importjob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/deckhaven/import-service/pkg/conflict"
	"github.com/deckhaven/import-service/pkg/deckstore"
	"github.com/deckhaven/import-service/pkg/events"
	"github.com/deckhaven/import-service/pkg/history"
	"github.com/deckhaven/import-service/pkg/importerr"
	"github.com/deckhaven/import-service/pkg/parse"
	"github.com/deckhaven/import-service/pkg/preview"
	"github.com/deckhaven/import-service/pkg/resolve"
)

// maxInputBytes bounds URL and file inputs.
const maxInputBytes = 32 << 20

// progress weights per step. Progress within the resolve and commit steps
// scales with items finished.
const (
	progressParsed      = 10
	progressResolved    = 40
	progressDetected    = 50
	progressResolveSpan = progressResolved - progressParsed
	progressCommitSpan  = 100 - progressDetected
)

// Orchestrator drives a claimed job through the pipeline: parse, resolve,
// detect, the optional preview gate, and commit. It is resumable: every
// step's output is persisted before the step pointer advances, so a
// restarted worker picks up where the last one stopped.
type Orchestrator struct {
	jobs      *Store
	conflicts *conflict.Store
	previews  *preview.Store
	history   *history.Store
	decks     *deckstore.Store
	resolver  *resolve.Resolver
	publisher *events.Publisher
	cfg       *Config
	client    *http.Client
	logger    *slog.Logger
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(
	jobs *Store,
	conflicts *conflict.Store,
	previews *preview.Store,
	hist *history.Store,
	decks *deckstore.Store,
	resolver *resolve.Resolver,
	publisher *events.Publisher,
	cfg *Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		jobs:      jobs,
		conflicts: conflicts,
		previews:  previews,
		history:   hist,
		decks:     decks,
		resolver:  resolver,
		publisher: publisher,
		cfg:       cfg,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// errSuspended signals that the job parked itself at a waiting step. It
// never leaves Process.
var errSuspended = errors.New("job suspended")

// errCancelled signals a cooperative cancellation was finalized.
var errCancelled = errors.New("job cancelled")

// Process runs a claimed job until it completes, fails, suspends, or
// cancels. The returned error is the failure cause; nil means the job
// reached a resting state (done, parked, or cancelled).
func (o *Orchestrator) Process(ctx context.Context, job *ImportJob) error {
	for {
		if err := o.checkpoint(ctx, job); err != nil {
			if errors.Is(err, errCancelled) {
				return nil
			}
			return err
		}

		var err error
		switch job.Step {
		case "", StepParse:
			err = o.runStep(ctx, job, StepParse, o.stepParse)
		case StepResolve:
			err = o.runStep(ctx, job, StepResolve, o.stepResolve)
		case StepDetect:
			err = o.runStep(ctx, job, StepDetect, o.stepDetect)
		case StepCommit:
			err = o.runStep(ctx, job, StepCommit, o.stepCommit)
			if err == nil {
				return o.finish(ctx, job)
			}
			if errors.Is(err, errCancelled) {
				return nil
			}
		case StepAwaitConflicts, StepAwaitApproval:
			// Claimed in a waiting state; nothing to do until a handler
			// resumes the job.
			return o.release(ctx, job)
		default:
			err = importerr.System("job %s is at unknown step %q", job.ID, job.Step)
		}
		if errors.Is(err, errSuspended) {
			return nil
		}
		if err != nil {
			return err
		}

		reloaded, loadErr := o.jobs.Get(ctx, job.ID)
		if loadErr != nil {
			return importerr.System("reload job: %v", loadErr)
		}
		if reloaded == nil {
			return importerr.System("job %s disappeared mid-pipeline", job.ID)
		}
		*job = *reloaded
	}
}

// runStep executes fn under the job's step timeout. A deadline hit maps to
// a timeout_error, which is recoverable and counts toward retries.
func (o *Orchestrator) runStep(ctx context.Context, job *ImportJob, step Step, fn func(context.Context, *ImportJob) error) error {
	timeout := o.cfg.StepTimeout
	if job.Options.TimeoutSeconds > 0 {
		timeout = time.Duration(job.Options.TimeoutSeconds) * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(stepCtx, job)
	if err != nil && stepCtx.Err() == context.DeadlineExceeded {
		return importerr.Timeout(string(step))
	}
	return err
}

// checkpoint honors cooperative cancellation between steps.
func (o *Orchestrator) checkpoint(ctx context.Context, job *ImportJob) error {
	requested, err := o.jobs.CancelRequested(ctx, job.ID)
	if err != nil {
		return importerr.System("check cancel flag: %v", err)
	}
	if !requested {
		return nil
	}
	if err := o.jobs.MarkCancelled(ctx, job.ID); err != nil {
		return importerr.System("finalize cancel: %v", err)
	}
	o.publisher.Publish(ctx, events.JobCancelled, job.ID, job.UserID, events.Data{"step": string(job.Step)})
	o.logger.Info("job cancelled at checkpoint", "jobID", job.ID, "step", job.Step)
	return errCancelled
}

// release hands a job claimed in a waiting state back to the parked pool.
func (o *Orchestrator) release(ctx context.Context, job *ImportJob) error {
	err := o.jobs.db.WithContext(ctx).Model(&ImportJob{}).
		Where("id = ?", job.ID).
		Update("claimed_by", "").Error
	if err != nil {
		return importerr.System("release waiting job: %v", err)
	}
	return nil
}

// stepParse loads the input, parses it, and materializes one item per deck.
func (o *Orchestrator) stepParse(ctx context.Context, job *ImportJob) error {
	existing, err := o.jobs.ItemsByJob(ctx, job.ID)
	if err != nil {
		return importerr.System("load items: %v", err)
	}
	if len(existing) == 0 {
		raw, err := o.loadInput(ctx, job)
		if err != nil {
			return err
		}

		payload, err := parse.ParseSource(job.Source, raw, parse.Options{
			CustomFields:    job.Options.CustomFields,
			DefaultDeckName: "Imported Deck",
		})
		if err != nil {
			var ie importerr.Error
			if errors.As(err, &ie) {
				return ie
			}
			return importerr.Parsing("parse %s input: %v", job.Source, err)
		}
		if len(payload.Decks) == 0 {
			return importerr.Validation("input contains no decks")
		}

		items := make([]ImportJobItem, len(payload.Decks))
		for i, d := range payload.Decks {
			cards := make(CardList, len(d.Cards))
			for j, c := range d.Cards {
				cards[j] = ItemCard{RawName: c.RawName, Quantity: c.Quantity, SetCode: c.SetCode}
			}
			items[i] = ImportJobItem{
				JobID:      job.ID,
				Ordinal:    i,
				DeckName:   d.Name,
				Commander:  d.Commander,
				Cards:      cards,
				CardsTotal: len(cards),
			}
		}
		if err := o.jobs.CreateItems(ctx, items); err != nil {
			return importerr.System("persist items: %v", err)
		}
		existing = items
	}

	total := 0
	for _, it := range existing {
		total += it.CardsTotal
	}
	if err := o.jobs.UpdateCounters(ctx, job.ID, len(existing), 0, total, 0); err != nil {
		return importerr.System("update counters: %v", err)
	}
	if err := o.jobs.UpdateProgress(ctx, job.ID, progressParsed); err != nil {
		return importerr.System("update progress: %v", err)
	}
	if err := o.jobs.SetStep(ctx, job.ID, StepResolve); err != nil {
		return importerr.System("advance step: %v", err)
	}
	o.publisher.Publish(ctx, events.JobStarted, job.ID, job.UserID, events.Data{
		"decksFound":     len(existing),
		"cardsProcessed": total,
	})
	return nil
}

// loadInput reads the job's single input source.
func (o *Orchestrator) loadInput(ctx context.Context, job *ImportJob) ([]byte, error) {
	switch {
	case job.RawInput != "":
		return []byte(job.RawInput), nil
	case job.InputURL != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.InputURL, nil)
		if err != nil {
			return nil, importerr.Validation("invalid input URL: %v", err)
		}
		resp, err := o.client.Do(req)
		if err != nil {
			return nil, importerr.System("fetch input URL: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, importerr.System("fetch input URL: unexpected status %d", resp.StatusCode)
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxInputBytes))
		if err != nil {
			return nil, importerr.System("read input URL body: %v", err)
		}
		return raw, nil
	case job.FileRef != "":
		raw, err := os.ReadFile(job.FileRef)
		if err != nil {
			return nil, importerr.Validation("read input file: %v", err)
		}
		if len(raw) > maxInputBytes {
			return nil, importerr.Validation("input file exceeds %d bytes", maxInputBytes)
		}
		return raw, nil
	}
	return nil, importerr.Validation("job has no input")
}

// stepResolve maps every raw card name to a canonical card. Items run
// concurrently up to the job's (or server's) concurrency cap; results land
// on the items so the step survives suspension and restarts.
func (o *Orchestrator) stepResolve(ctx context.Context, job *ImportJob) error {
	items, err := o.jobs.ItemsByJob(ctx, job.ID)
	if err != nil {
		return importerr.System("load items: %v", err)
	}

	workers := job.Options.Concurrency
	if workers <= 0 || workers > o.cfg.ItemConcurrency {
		workers = o.cfg.ItemConcurrency
	}
	sem := make(chan struct{}, workers)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	for i := range items {
		item := &items[i]
		if item.Status.Terminal() {
			mu.Lock()
			done++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := o.resolveItem(ctx, job, item)

			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			done++
			p := progressParsed + progressResolveSpan*done/len(items)
			if upErr := o.jobs.UpdateProgress(ctx, job.ID, p); upErr != nil {
				o.logger.Warn("progress update failed", "jobID", job.ID, "error", upErr)
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	resolved := 0
	for _, it := range items {
		resolved += it.CardsResolved
	}
	if err := o.jobs.UpdateCounters(ctx, job.ID, job.DecksFound, 0, job.CardsProcessed, resolved); err != nil {
		return importerr.System("update counters: %v", err)
	}
	if err := o.jobs.UpdateProgress(ctx, job.ID, progressResolved); err != nil {
		return importerr.System("update progress: %v", err)
	}
	if err := o.jobs.SetStep(ctx, job.ID, StepDetect); err != nil {
		return importerr.System("advance step: %v", err)
	}
	return nil
}

// resolveItem resolves one item's cards in place and persists the result.
func (o *Orchestrator) resolveItem(ctx context.Context, job *ImportJob, item *ImportJobItem) error {
	resolved := 0
	for i := range item.Cards {
		c := &item.Cards[i]
		if c.CardID != "" {
			resolved++
			continue
		}
		if c.Unresolved {
			continue
		}

		res, err := o.resolver.Resolve(ctx, c.RawName, c.SetCode)
		if err != nil {
			var ie importerr.Error
			if errors.As(err, &ie) && ie.Type == importerr.TypeCardNotFound {
				item.Errors = append(item.Errors, ie)
				if !job.Options.ValidateCards {
					// Missing cards don't fail the deck: the card is
					// recorded with its suggestions and skipped, counted
					// processed but not resolved.
					c.Unresolved = true
					continue
				}
				if job.Options.ContinueOnError {
					// Strict resolution fails the deck; the job carries on
					// with the remaining items.
					item.Status = StatusFailed
					if saveErr := o.jobs.SaveItem(ctx, item); saveErr != nil {
						return importerr.System("save item: %v", saveErr)
					}
					if appendErr := o.jobs.AppendErrors(ctx, job.ID, []importerr.Error{ie}, nil); appendErr != nil {
						return importerr.System("record item error: %v", appendErr)
					}
					return nil
				}
				// The item stays pending: the job's retry re-attempts it.
				if saveErr := o.jobs.SaveItem(ctx, item); saveErr != nil {
					return importerr.System("save item: %v", saveErr)
				}
				return ie
			}
			return importerr.System("resolve %q: %v", c.RawName, err)
		}

		c.CardID = res.CardID
		c.Name = res.Name
		c.SetCode = res.SetCode
		c.Confidence = res.Confidence
		c.Ambiguous = res.Ambiguous
		if res.Warning != nil {
			item.Warnings = append(item.Warnings, *res.Warning)
		}
		resolved++
	}

	item.CardsResolved = resolved
	if err := o.jobs.SaveItem(ctx, item); err != nil {
		return importerr.System("save item: %v", err)
	}
	return nil
}

// stepDetect finds conflicts against the user's existing data, applies
// auto-resolution when requested, and runs the preview gate. The step is
// idempotent: conflicts already on record are not re-detected, so a resume
// after user resolution passes straight through.
func (o *Orchestrator) stepDetect(ctx context.Context, job *ImportJob) error {
	existing, err := o.conflicts.ListByJob(ctx, job.ID)
	if err != nil {
		return importerr.System("load conflicts: %v", err)
	}

	if len(existing) == 0 {
		detected, err := o.detectConflicts(ctx, job)
		if err != nil {
			return err
		}
		if len(detected) > 0 {
			if err := o.conflicts.CreateAll(ctx, detected); err != nil {
				return importerr.System("persist conflicts: %v", err)
			}
			o.publisher.Publish(ctx, events.ConflictDetected, job.ID, job.UserID, events.Data{
				"count": len(detected),
			})
			existing = detected
		}
	}

	if job.Options.AutoResolveConflicts {
		if err := o.autoResolve(ctx, job, existing); err != nil {
			return err
		}
	}

	blocking, err := o.conflicts.CountUnresolvedBlocking(ctx, job.ID)
	if err != nil {
		return importerr.System("count blocking conflicts: %v", err)
	}
	if blocking > 0 {
		if err := o.jobs.Suspend(ctx, job.ID, StepAwaitConflicts); err != nil {
			return importerr.System("suspend job: %v", err)
		}
		o.logger.Info("job awaiting conflict resolution", "jobID", job.ID, "blocking", blocking)
		return errSuspended
	}

	if err := o.jobs.UpdateProgress(ctx, job.ID, progressDetected); err != nil {
		return importerr.System("update progress: %v", err)
	}

	if job.Options.GeneratePreview {
		suspended, err := o.previewGate(ctx, job)
		if err != nil {
			return err
		}
		if suspended {
			return errSuspended
		}
	}

	if err := o.jobs.SetStep(ctx, job.ID, StepCommit); err != nil {
		return importerr.System("advance step: %v", err)
	}
	return nil
}

// detectConflicts runs the detector over every item against one snapshot of
// the user's data.
func (o *Orchestrator) detectConflicts(ctx context.Context, job *ImportJob) ([]conflict.Conflict, error) {
	items, err := o.jobs.ItemsByJob(ctx, job.ID)
	if err != nil {
		return nil, importerr.System("load items: %v", err)
	}

	decks, err := o.decks.DecksByUser(ctx, job.UserID)
	if err != nil {
		return nil, importerr.System("load user decks: %v", err)
	}
	folders, err := o.decks.FoldersByUser(ctx, job.UserID)
	if err != nil {
		return nil, importerr.System("load user folders: %v", err)
	}
	owned, err := o.decks.OwnedQuantities(ctx, job.UserID)
	if err != nil {
		return nil, importerr.System("load owned quantities: %v", err)
	}
	state := conflict.ExistingState{
		Decks:           decks,
		Folders:         folders,
		OwnedQuantities: owned,
	}

	var all []conflict.Conflict
	for i := range items {
		item := &items[i]
		incoming := conflict.IncomingDeck{
			Name:      item.DeckName,
			Commander: item.Commander,
			Cards:     toResolvedCards(item.Cards),
		}
		// The target folder is job-scoped; checking it once on the first
		// item avoids one collision conflict per deck.
		if i == 0 {
			incoming.FolderName = job.Options.TargetFolderName
		}
		all = append(all, conflict.Detect(job.ID, item.ID, incoming, state)...)
	}
	return all, nil
}

func toResolvedCards(cards CardList) []conflict.ResolvedCard {
	out := make([]conflict.ResolvedCard, 0, len(cards))
	for _, c := range cards {
		if c.Unresolved {
			continue
		}
		out = append(out, conflict.ResolvedCard{
			CardID:     c.CardID,
			RawName:    c.RawName,
			Name:       c.Name,
			Quantity:   c.Quantity,
			SetCode:    c.SetCode,
			Confidence: c.Confidence,
			Ambiguous:  c.Ambiguous,
		})
	}
	return out
}

// autoResolve applies the per-type default resolution to every unresolved
// conflict.
func (o *Orchestrator) autoResolve(ctx context.Context, job *ImportJob, conflicts []conflict.Conflict) error {
	deckDefault := conflict.Resolution(job.Options.DefaultConflictResolution)
	for i := range conflicts {
		c := &conflicts[i]
		if c.Resolved() {
			continue
		}
		resolution := conflict.AutoResolution(c.ConflictType, deckDefault)
		if _, err := o.conflicts.Resolve(ctx, c.ID, resolution, "auto"); err != nil {
			return importerr.System("auto-resolve conflict %s: %v", c.ID, err)
		}
		o.publisher.Publish(ctx, events.ConflictResolved, job.ID, job.UserID, events.Data{
			"conflictId": c.ID,
			"resolution": string(resolution),
			"resolvedBy": "auto",
		})
	}
	return nil
}

// previewGate builds the preview snapshot on first pass and parks the job
// until a decision arrives. Returns true when the job suspended.
func (o *Orchestrator) previewGate(ctx context.Context, job *ImportJob) (bool, error) {
	p, err := o.previews.GetByJob(ctx, job.ID)
	if err != nil {
		return false, importerr.System("load preview: %v", err)
	}
	if p != nil {
		if p.Consumed && p.IsApproved {
			return false, nil
		}
		// An unconsumed preview means this claim was premature; park again.
		if err := o.jobs.Suspend(ctx, job.ID, StepAwaitApproval); err != nil {
			return false, importerr.System("suspend job: %v", err)
		}
		return true, nil
	}

	snapshot, err := o.buildSnapshot(ctx, job)
	if err != nil {
		return false, err
	}
	created, err := o.previews.Create(ctx, job.ID, job.UserID, snapshot, preview.DefaultTTL)
	if err != nil {
		return false, importerr.System("create preview: %v", err)
	}
	if err := o.jobs.Suspend(ctx, job.ID, StepAwaitApproval); err != nil {
		return false, importerr.System("suspend job: %v", err)
	}
	o.publisher.Publish(ctx, events.PreviewReady, job.ID, job.UserID, events.Data{
		"previewId": created.ID,
		"expiresAt": created.ExpiresAt.Format(time.RFC3339),
	})
	o.logger.Info("job awaiting preview approval", "jobID", job.ID, "previewID", created.ID)
	return true, nil
}

// buildSnapshot assembles the preview from already-persisted data; no
// parsing or resolution reruns at approval time.
func (o *Orchestrator) buildSnapshot(ctx context.Context, job *ImportJob) (preview.Snapshot, error) {
	items, err := o.jobs.ItemsByJob(ctx, job.ID)
	if err != nil {
		return preview.Snapshot{}, importerr.System("load items: %v", err)
	}
	jobConflicts, err := o.conflicts.ListByJob(ctx, job.ID)
	if err != nil {
		return preview.Snapshot{}, importerr.System("load conflicts: %v", err)
	}

	var snap preview.Snapshot
	cardsProcessed, cardsResolved, warningCount := 0, 0, 0
	for _, it := range items {
		unresolved := 0
		for _, c := range it.Cards {
			if c.Unresolved {
				unresolved++
			}
		}
		snap.Decks = append(snap.Decks, preview.DeckSummary{
			ItemID:          it.ID,
			Name:            it.DeckName,
			Commander:       it.Commander,
			CardCount:       it.CardsTotal,
			UnresolvedCount: unresolved,
		})
		cardsProcessed += it.CardsTotal
		cardsResolved += it.CardsResolved
		warningCount += len(it.Warnings)
		for _, w := range it.Warnings {
			snap.Warnings = append(snap.Warnings, w.Message)
		}
	}

	blocking := 0
	for _, c := range jobConflicts {
		snap.ConflictIDs = append(snap.ConflictIDs, c.ID)
		if c.Blocking && !c.Resolved() {
			blocking++
		}
	}
	sort.Strings(snap.ConflictIDs)

	snap.Statistics = preview.Statistics{
		DecksFound:     len(items),
		CardsProcessed: cardsProcessed,
		CardsResolved:  cardsResolved,
		WarningCount:   warningCount,
		ConflictCount:  len(jobConflicts),
		BlockingCount:  blocking,
	}
	return snap, nil
}

// stepCommit persists every item's deck. Each deck commits in its own
// transaction under the per-user lock; items that already carry a deck ID
// are skipped, so a retried commit never double-writes.
func (o *Orchestrator) stepCommit(ctx context.Context, job *ImportJob) error {
	items, err := o.jobs.ItemsByJob(ctx, job.ID)
	if err != nil {
		return importerr.System("load items: %v", err)
	}
	jobConflicts, err := o.conflicts.ListByJob(ctx, job.ID)
	if err != nil {
		return importerr.System("load conflicts: %v", err)
	}
	// Non-blocking conflicts never halted the pipeline, so they may still
	// be unresolved here; give them their default resolution so every
	// conflict is settled before the job completes.
	deckDefault := conflict.Resolution(job.Options.DefaultConflictResolution)
	for i := range jobConflicts {
		c := &jobConflicts[i]
		if c.Resolved() {
			continue
		}
		if c.Blocking {
			return importerr.Conflict("conflict %s (%s) is unresolved at commit", c.ID, c.ConflictType)
		}
		resolution := conflict.AutoResolution(c.ConflictType, deckDefault)
		updated, resErr := o.conflicts.Resolve(ctx, c.ID, resolution, "auto")
		if resErr != nil {
			return importerr.System("default-resolve conflict %s: %v", c.ID, resErr)
		}
		*c = *updated
	}
	byItem := map[string][]conflict.Conflict{}
	for _, c := range jobConflicts {
		byItem[c.ItemID] = append(byItem[c.ItemID], c)
	}

	rollback := history.RollbackData{}
	folderID, createdFolderIDs, err := o.resolveTargetFolder(ctx, job, jobConflicts)
	if err != nil {
		return err
	}
	rollback.CreatedFolderIDs = createdFolderIDs

	imported := 0
	committed := 0
	cancelled := false
	for i := range items {
		item := &items[i]

		if cancelErr := o.checkpoint(ctx, job); cancelErr != nil {
			if errors.Is(cancelErr, errCancelled) {
				// Already-committed decks stay; the history entry still
				// records them so a rollback can reverse the partial run.
				cancelled = true
				break
			}
			return cancelErr
		}

		if item.DeckID != "" {
			// Committed by an earlier attempt. The item carries the full
			// commit result, so the rollback record is as complete as if
			// this attempt had written the deck.
			imported++
			committed++
			rollback.Decks = append(rollback.Decks, history.DeckRollback{
				ItemID:      item.ID,
				DeckID:      item.DeckID,
				CreatedDeck: item.CreatedDeck,
				CardRowIDs:  item.CardRowIDs,
				FolderID:    folderID,
			})
			continue
		}
		if item.Skipped || item.Status == StatusFailed {
			committed++
			continue
		}

		result, commitErr := o.commitItem(ctx, job, item, byItem[item.ID], folderID)
		if commitErr != nil {
			var ie importerr.Error
			if !errors.As(commitErr, &ie) {
				ie = importerr.System("commit deck %q: %v", item.DeckName, commitErr)
			}
			item.Errors = append(item.Errors, ie)
			if !job.Options.ContinueOnError {
				// Leave the item pending so a retry re-attempts the commit.
				if saveErr := o.jobs.SaveItem(ctx, item); saveErr != nil {
					return importerr.System("save item: %v", saveErr)
				}
				return ie
			}
			item.Status = StatusFailed
			if saveErr := o.jobs.SaveItem(ctx, item); saveErr != nil {
				return importerr.System("save item: %v", saveErr)
			}
			if err := o.jobs.AppendErrors(ctx, job.ID, []importerr.Error{ie}, nil); err != nil {
				return importerr.System("record item error: %v", err)
			}
		} else if result != nil {
			rollback.Decks = append(rollback.Decks, history.DeckRollback{
				ItemID:      item.ID,
				DeckID:      result.DeckID,
				CreatedDeck: result.CreatedDeck,
				CardRowIDs:  result.CardRowIDs,
				FolderID:    folderID,
			})
			imported++
		}
		committed++

		p := progressDetected + progressCommitSpan*committed/len(items)
		if upErr := o.jobs.UpdateProgress(ctx, job.ID, p); upErr != nil {
			o.logger.Warn("progress update failed", "jobID", job.ID, "error", upErr)
		}
	}

	resolved := 0
	for _, it := range items {
		resolved += it.CardsResolved
	}
	if err := o.jobs.UpdateCounters(ctx, job.ID, len(items), imported, job.CardsProcessed, resolved); err != nil {
		return importerr.System("update counters: %v", err)
	}

	description := fmt.Sprintf("imported %d of %d deck(s) from %s", imported, len(items), job.Source)
	if _, err := o.history.RecordImport(ctx, job.ID, job.UserID, description, rollback); err != nil {
		return importerr.System("record import history: %v", err)
	}
	if cancelled {
		return errCancelled
	}
	return nil
}

// resolveTargetFolder works out where imported decks land. An explicit
// folder ID wins; a folder name goes through any recorded collision
// resolution before being created.
func (o *Orchestrator) resolveTargetFolder(ctx context.Context, job *ImportJob, jobConflicts []conflict.Conflict) (string, []string, error) {
	if job.Options.TargetFolderID != "" {
		return job.Options.TargetFolderID, nil, nil
	}
	name := job.Options.TargetFolderName
	if name == "" {
		return "", nil, nil
	}

	for i := range jobConflicts {
		c := &jobConflicts[i]
		if c.ConflictType != conflict.TypeFolderNameCollision || !c.Resolved() {
			continue
		}
		switch c.Resolution {
		case conflict.ResolutionUseExisting:
			return c.ExistingData.GetString("folderId"), nil, nil
		case conflict.ResolutionRename:
			name += conflict.RenameSuffix
		}
		break
	}

	folderID, created, err := o.decks.EnsureFolder(ctx, job.UserID, "", name)
	if err != nil {
		return "", nil, importerr.System("ensure target folder: %v", err)
	}
	if created {
		return folderID, []string{folderID}, nil
	}
	return folderID, nil, nil
}

// commitItem builds the commit plan for one item, applies its conflict
// resolutions, and persists the deck. Returns nil when the plan skipped
// the deck.
func (o *Orchestrator) commitItem(ctx context.Context, job *ImportJob, item *ImportJobItem, itemConflicts []conflict.Conflict, folderID string) (*deckstore.CommitResult, error) {
	plan := conflict.CommitPlan{
		Deck: deckstore.CommitInput{
			UserID:    job.UserID,
			Name:      item.DeckName,
			Commander: item.Commander,
			FolderID:  folderID,
		},
	}
	if err := conflict.Apply(itemConflicts, &plan); err != nil {
		return nil, importerr.Conflict("%v", err)
	}

	if plan.Skip {
		item.Skipped = true
		item.Status = StatusCompleted
		item.Warnings = append(item.Warnings, importerr.Error{
			Type:        importerr.TypeConflict,
			Severity:    importerr.SeverityWarning,
			Recoverable: true,
			Message:     fmt.Sprintf("deck %q skipped by conflict resolution", item.DeckName),
		})
		if err := o.jobs.SaveItem(ctx, item); err != nil {
			return nil, importerr.System("save item: %v", err)
		}
		return nil, nil
	}
	if plan.UseFolderID != "" {
		plan.Deck.FolderID = plan.UseFolderID
	}

	for _, c := range item.Cards {
		if c.Unresolved || plan.Dropped(c.CardID) {
			continue
		}
		plan.Deck.Cards = append(plan.Deck.Cards, deckstore.CommitCard{
			CardID:   c.CardID,
			Name:     c.Name,
			Quantity: c.Quantity,
			SetCode:  c.SetCode,
		})
	}
	if len(plan.Deck.Cards) == 0 {
		return nil, importerr.Validation("deck %q has no resolvable cards", item.DeckName)
	}

	result, err := o.decks.CommitDeck(ctx, plan.Deck)
	if err != nil {
		return nil, err
	}

	item.DeckID = result.DeckID
	item.CreatedDeck = result.CreatedDeck
	item.CardRowIDs = result.CardRowIDs
	item.Status = StatusCompleted
	if err := o.jobs.SaveItem(ctx, item); err != nil {
		return nil, importerr.System("save item: %v", err)
	}
	return result, nil
}

// finish completes the job and emits the terminal event.
func (o *Orchestrator) finish(ctx context.Context, job *ImportJob) error {
	if err := o.jobs.Complete(ctx, job.ID); err != nil {
		return importerr.System("complete job: %v", err)
	}
	final, err := o.jobs.Get(ctx, job.ID)
	if err == nil && final != nil {
		*job = *final
	}
	o.publisher.Publish(ctx, events.JobCompleted, job.ID, job.UserID, events.Data{
		"decksImported": job.DecksImported,
		"cardsResolved": job.CardsResolved,
	})
	o.logger.Info("job completed", "jobID", job.ID, "decksImported", job.DecksImported)
	return nil
}
