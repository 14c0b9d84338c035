package importjob

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deckhaven/import-service/pkg/conflict"
	"github.com/deckhaven/import-service/pkg/events"
	"github.com/deckhaven/import-service/pkg/history"
	"github.com/deckhaven/import-service/pkg/importerr"
	"github.com/deckhaven/import-service/pkg/parse"
	"github.com/deckhaven/import-service/pkg/preview"
	"github.com/deckhaven/import-service/pkg/userctx"
)

// API bundles the stores the import HTTP surface reads and writes.
type API struct {
	jobs      *Store
	conflicts *conflict.Store
	previews  *preview.Store
	history   *history.Store
	rollback  *history.Engine
	events    *events.Store
	publisher *events.Publisher
	cfg       *Config
	logger    *slog.Logger
}

// NewAPI creates the handler set. cfg carries the same retry and
// backoff settings the workers run with.
func NewAPI(jobs *Store, conflicts *conflict.Store, previews *preview.Store, hist *history.Store, rollback *history.Engine, eventStore *events.Store, publisher *events.Publisher, cfg *Config, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &API{
		jobs:      jobs,
		conflicts: conflicts,
		previews:  previews,
		history:   hist,
		rollback:  rollback,
		events:    eventStore,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// CreateJobRequest is the POST /jobs body.
type CreateJobRequest struct {
	Type       string  `json:"type,omitempty"`
	Source     string  `json:"source"`
	RawInput   string  `json:"rawInput,omitempty"`
	InputURL   string  `json:"inputUrl,omitempty"`
	FileRef    string  `json:"fileRef,omitempty"`
	Priority   int     `json:"priority,omitempty"`
	MaxRetries *int    `json:"maxRetries,omitempty"`
	Options    Options `json:"options"`
}

// handleCreateJob handles POST /jobs.
func (a *API) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	userID := userctx.UserID(r.Context())

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if _, ok := parse.ForSource(parse.Source(req.Source)); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown source %q", req.Source))
		return
	}

	job := &ImportJob{
		UserID:   userID,
		Type:     Type(req.Type),
		Source:   parse.Source(req.Source),
		Priority: req.Priority,
		RawInput: req.RawInput,
		InputURL: req.InputURL,
		FileRef:  req.FileRef,
		Options:  req.Options,
	}
	if req.MaxRetries != nil {
		job.MaxRetries = *req.MaxRetries
	} else {
		job.MaxRetries = 3
	}

	created, err := a.jobs.Enqueue(r.Context(), job)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.publisher.Publish(r.Context(), events.JobCreated, created.ID, userID, events.Data{
		"source": string(created.Source),
		"type":   string(created.Type),
	})
	writeJSON(w, http.StatusCreated, jobToResponse(created, nil))
}

// handleListJobs handles GET /jobs.
// Query params: status, source, type, pageSize, pageToken.
func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		UserID: userctx.UserID(r.Context()),
		Status: r.URL.Query().Get("status"),
		Source: r.URL.Query().Get("source"),
		Type:   r.URL.Query().Get("type"),
	}

	pageSize := 20
	if ps := r.URL.Query().Get("pageSize"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 {
			pageSize = v
		}
	}
	pageToken := r.URL.Query().Get("pageToken")

	records, nextToken, total, err := a.jobs.List(r.Context(), filter, pageSize, pageToken)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list jobs: %v", err))
		return
	}

	jobs := make([]jobResponse, len(records))
	for i := range records {
		jobs[i] = jobToResponse(&records[i], nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":          jobs,
		"nextPageToken": nextToken,
		"totalSize":     total,
	})
}

// ownedJob loads a job and enforces ownership; mismatches read as 404.
func (a *API) ownedJob(w http.ResponseWriter, r *http.Request) *ImportJob {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "missing job ID")
		return nil
	}
	job, err := a.jobs.GetForUser(r.Context(), jobID, userctx.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get job: %v", err))
		return nil
	}
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", jobID))
		return nil
	}
	return job
}

// handleGetJob handles GET /jobs/{jobId}.
func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := a.ownedJob(w, r)
	if job == nil {
		return
	}
	items, err := a.jobs.ItemsByJob(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load items: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(job, items))
}

// handleGetProgress handles GET /jobs/{jobId}/progress, a cheap projection
// for UI polling.
func (a *API) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	job := a.ownedJob(w, r)
	if job == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":          job.ID,
		"status":         string(job.Status),
		"currentStep":    string(job.Step),
		"progress":       job.Progress,
		"decksFound":     job.DecksFound,
		"decksImported":  job.DecksImported,
		"cardsProcessed": job.CardsProcessed,
		"cardsResolved":  job.CardsResolved,
		"errorCount":     len(job.Errors),
		"warningCount":   len(job.Warnings),
		"updatedAt":      job.UpdatedAt.Format(time.RFC3339),
	})
}

// handleCancelJob handles POST /jobs/{jobId}:cancel.
func (a *API) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job := a.ownedJob(w, r)
	if job == nil {
		return
	}
	status, err := a.jobs.RequestCancel(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if status == StatusCancelled {
		a.publisher.Publish(r.Context(), events.JobCancelled, job.ID, job.UserID, events.Data{
			"step": string(job.Step),
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"jobId":  job.ID,
		"status": string(status),
	})
}

// handleGetPreview handles GET /jobs/{jobId}/preview.
func (a *API) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	job := a.ownedJob(w, r)
	if job == nil {
		return
	}
	p, err := a.previews.GetByJob(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get preview: %v", err))
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %q has no preview", job.ID))
		return
	}
	writeJSON(w, http.StatusOK, previewToResponse(p))
}

// ApprovePreviewRequest is the POST /previews/{previewId}:approve body.
type ApprovePreviewRequest struct {
	Approved bool `json:"approved"`
	// Overrides re-resolves conflicts by ID at approval time.
	Overrides map[string]string `json:"overrides,omitempty"`
}

// handleApprovePreview handles POST /previews/{previewId}:approve. Approval
// applies the overrides, consumes the preview, and resumes the job at the
// commit step; denial cancels the job; an expired preview fails it.
func (a *API) handleApprovePreview(w http.ResponseWriter, r *http.Request) {
	previewID := chi.URLParam(r, "previewId")
	userID := userctx.UserID(r.Context())

	var req ApprovePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	p, err := a.previews.Get(r.Context(), previewID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get preview: %v", err))
		return
	}
	if p == nil || p.UserID != userID {
		writeError(w, http.StatusNotFound, fmt.Sprintf("preview %q not found", previewID))
		return
	}
	job, err := a.jobs.Get(r.Context(), p.JobID)
	if err != nil || job == nil {
		writeError(w, http.StatusInternalServerError, "preview has no job")
		return
	}

	// Overrides are applied before the decision so a failed override
	// leaves the preview undecided and retryable.
	if req.Approved {
		for conflictID, resolution := range req.Overrides {
			if _, err := a.conflicts.Resolve(r.Context(), conflictID, conflict.Resolution(resolution), userID); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("override conflict %s: %v", conflictID, err))
				return
			}
			a.publisher.Publish(r.Context(), events.ConflictResolved, job.ID, userID, events.Data{
				"conflictId": conflictID,
				"resolution": resolution,
				"resolvedBy": userID,
			})
		}
	}

	decision, updated, err := a.previews.Decide(r.Context(), previewID, req.Approved, userID)
	if err != nil {
		if errors.Is(err, preview.ErrConsumed) {
			writeError(w, http.StatusConflict, "preview decision already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to decide preview: %v", err))
		return
	}

	switch decision {
	case preview.DecisionApproved:
		if err := a.jobs.Resume(r.Context(), job.ID, StepCommit); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	case preview.DecisionDenied:
		if err := a.jobs.MarkCancelled(r.Context(), job.ID); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to cancel job: %v", err))
			return
		}
		a.publisher.Publish(r.Context(), events.JobCancelled, job.ID, userID, events.Data{
			"reason": "preview denied",
		})
	case preview.DecisionExpired:
		cause := importerr.Validation("preview expired at %s", p.ExpiresAt.Format(time.RFC3339))
		if _, err := a.jobs.Fail(r.Context(), job, cause, a.cfg); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to fail job: %v", err))
			return
		}
		a.publisher.Publish(r.Context(), events.JobFailed, job.ID, userID, events.Data{
			"errorType": string(importerr.TypeValidation),
			"message":   cause.Message,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"previewId": previewID,
		"jobId":     job.ID,
		"decision":  string(decision),
		"preview":   previewToResponse(updated),
	})
}

// handleListConflicts handles GET /jobs/{jobId}/conflicts.
func (a *API) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	job := a.ownedJob(w, r)
	if job == nil {
		return
	}
	conflicts, err := a.conflicts.ListByJob(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list conflicts: %v", err))
		return
	}
	unresolvedBlocking, err := a.conflicts.CountUnresolvedBlocking(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to count conflicts: %v", err))
		return
	}
	out := make([]conflictResponse, len(conflicts))
	for i := range conflicts {
		out[i] = conflictToResponse(&conflicts[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":              job.ID,
		"conflicts":          out,
		"unresolvedBlocking": unresolvedBlocking,
	})
}

// ResolveConflictRequest is the POST /conflicts/{conflictId}:resolve body.
type ResolveConflictRequest struct {
	Resolution string `json:"resolution"`
}

// handleResolveConflict handles POST /conflicts/{conflictId}:resolve. When
// the last blocking conflict of a waiting job is resolved, the job resumes
// at the detect step, which passes through to the preview gate or commit.
func (a *API) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := chi.URLParam(r, "conflictId")
	userID := userctx.UserID(r.Context())

	var req ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	c, err := a.conflicts.Get(r.Context(), conflictID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get conflict: %v", err))
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("conflict %q not found", conflictID))
		return
	}
	job, err := a.jobs.GetForUser(r.Context(), c.JobID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get job: %v", err))
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("conflict %q not found", conflictID))
		return
	}

	resolved, err := a.conflicts.Resolve(r.Context(), conflictID, conflict.Resolution(req.Resolution), userID)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	a.publisher.Publish(r.Context(), events.ConflictResolved, job.ID, userID, events.Data{
		"conflictId": conflictID,
		"resolution": req.Resolution,
		"resolvedBy": userID,
	})

	resumed := false
	if job.Status == StatusProcessing && job.Step == StepAwaitConflicts {
		remaining, err := a.conflicts.CountUnresolvedBlocking(r.Context(), job.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to count conflicts: %v", err))
			return
		}
		if remaining == 0 {
			if err := a.jobs.Resume(r.Context(), job.ID, StepDetect); err != nil {
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to resume job: %v", err))
				return
			}
			resumed = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conflict":   conflictToResponse(resolved),
		"jobResumed": resumed,
	})
}

// RollbackRequest is the POST /jobs/{jobId}:rollback body.
type RollbackRequest struct {
	Reason  string   `json:"reason,omitempty"`
	DeckIDs []string `json:"deckIds,omitempty"`
	ItemIDs []string `json:"itemIds,omitempty"`
}

// handleRollbackJob handles POST /jobs/{jobId}:rollback.
func (a *API) handleRollbackJob(w http.ResponseWriter, r *http.Request) {
	job := a.ownedJob(w, r)
	if job == nil {
		return
	}
	if job.Status != StatusCompleted {
		writeError(w, http.StatusConflict, fmt.Sprintf("job %s is %s; only completed jobs can be rolled back", job.ID, job.Status))
		return
	}

	var req RollbackRequest
	if r.Body != nil {
		// The body is optional for a full rollback.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	op, err := a.rollback.Rollback(r.Context(), history.Request{
		JobID:       job.ID,
		RequestedBy: userctx.UserID(r.Context()),
		Reason:      req.Reason,
		DeckIDs:     req.DeckIDs,
		ItemIDs:     req.ItemIDs,
	})
	if err != nil {
		switch {
		case errors.Is(err, history.ErrAlreadyRolledBack):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, history.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("rollback failed: %v", err))
		}
		return
	}
	writeJSON(w, http.StatusOK, operationToResponse(op))
}

// handleGetRollback handles GET /rollbacks/{opId}.
func (a *API) handleGetRollback(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "opId")
	operation, err := a.history.GetOperation(r.Context(), opID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("rollback %q not found", opID))
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get rollback: %v", err))
		return
	}
	job, err := a.jobs.GetForUser(r.Context(), operation.JobID, userctx.UserID(r.Context()))
	if err != nil || job == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("rollback %q not found", opID))
		return
	}
	writeJSON(w, http.StatusOK, operationToResponse(operation))
}

// handleListEvents handles GET /events.
// Query params: jobId, eventType, pageSize, pageToken.
func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter := events.ListFilter{
		UserID:    userctx.UserID(r.Context()),
		JobID:     r.URL.Query().Get("jobId"),
		EventType: r.URL.Query().Get("eventType"),
	}
	pageSize := 50
	if ps := r.URL.Query().Get("pageSize"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 {
			pageSize = v
		}
	}
	records, nextToken, total, err := a.events.List(r.Context(), filter, pageSize, r.URL.Query().Get("pageToken"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list events: %v", err))
		return
	}
	out := make([]eventResponse, len(records))
	for i := range records {
		out[i] = eventToResponse(&records[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":        out,
		"nextPageToken": nextToken,
		"totalSize":     total,
	})
}

// itemResponse is the API shape of a job item.
type itemResponse struct {
	ID            string    `json:"id"`
	Ordinal       int       `json:"ordinal"`
	DeckName      string    `json:"deckName"`
	Commander     string    `json:"commander,omitempty"`
	Status        string    `json:"status"`
	DeckID        string    `json:"deckId,omitempty"`
	Skipped       bool      `json:"skipped,omitempty"`
	CardsTotal    int       `json:"cardsTotal"`
	CardsResolved int       `json:"cardsResolved"`
	Errors        ErrorList `json:"errors,omitempty"`
	Warnings      ErrorList `json:"warnings,omitempty"`
}

// jobResponse is the API shape of a job.
type jobResponse struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Status          string         `json:"status"`
	Priority        int            `json:"priority,omitempty"`
	Options         Options        `json:"options"`
	CurrentStep     string         `json:"currentStep,omitempty"`
	Progress        int            `json:"progress"`
	DecksFound      int            `json:"decksFound"`
	DecksImported   int            `json:"decksImported"`
	CardsProcessed  int            `json:"cardsProcessed"`
	CardsResolved   int            `json:"cardsResolved"`
	Errors          ErrorList      `json:"errors,omitempty"`
	Warnings        ErrorList      `json:"warnings,omitempty"`
	RetryCount      int            `json:"retryCount"`
	MaxRetries      int            `json:"maxRetries"`
	NextRetryAt     string         `json:"nextRetryAt,omitempty"`
	CancelRequested bool           `json:"cancelRequested,omitempty"`
	CreatedAt       string         `json:"createdAt"`
	StartedAt       string         `json:"startedAt,omitempty"`
	CompletedAt     string         `json:"completedAt,omitempty"`
	Items           []itemResponse `json:"items,omitempty"`
}

func jobToResponse(job *ImportJob, items []ImportJobItem) jobResponse {
	resp := jobResponse{
		ID:              job.ID,
		Type:            string(job.Type),
		Source:          string(job.Source),
		Status:          string(job.Status),
		Priority:        job.Priority,
		Options:         job.Options,
		CurrentStep:     string(job.Step),
		Progress:        job.Progress,
		DecksFound:      job.DecksFound,
		DecksImported:   job.DecksImported,
		CardsProcessed:  job.CardsProcessed,
		CardsResolved:   job.CardsResolved,
		Errors:          job.Errors,
		Warnings:        job.Warnings,
		RetryCount:      job.RetryCount,
		MaxRetries:      job.MaxRetries,
		CancelRequested: job.CancelRequested,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
	}
	if job.NextRetryAt != nil {
		resp.NextRetryAt = job.NextRetryAt.Format(time.RFC3339)
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	for _, it := range items {
		resp.Items = append(resp.Items, itemResponse{
			ID:            it.ID,
			Ordinal:       it.Ordinal,
			DeckName:      it.DeckName,
			Commander:     it.Commander,
			Status:        string(it.Status),
			DeckID:        it.DeckID,
			Skipped:       it.Skipped,
			CardsTotal:    it.CardsTotal,
			CardsResolved: it.CardsResolved,
			Errors:        it.Errors,
			Warnings:      it.Warnings,
		})
	}
	return resp
}

// previewResponse is the API shape of a preview.
type previewResponse struct {
	ID         string           `json:"id"`
	JobID      string           `json:"jobId"`
	Snapshot   preview.Snapshot `json:"snapshot"`
	ExpiresAt  string           `json:"expiresAt"`
	IsApproved bool             `json:"isApproved"`
	ApprovedBy string           `json:"approvedBy,omitempty"`
	Consumed   bool             `json:"consumed"`
	CreatedAt  string           `json:"createdAt"`
}

func previewToResponse(p *preview.Preview) previewResponse {
	return previewResponse{
		ID:         p.ID,
		JobID:      p.JobID,
		Snapshot:   p.Snapshot,
		ExpiresAt:  p.ExpiresAt.Format(time.RFC3339),
		IsApproved: p.IsApproved,
		ApprovedBy: p.ApprovedBy,
		Consumed:   p.Consumed,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
}

// conflictResponse is the API shape of a conflict.
type conflictResponse struct {
	ID           string           `json:"id"`
	JobID        string           `json:"jobId"`
	ItemID       string           `json:"itemId,omitempty"`
	ConflictType string           `json:"conflictType"`
	Description  string           `json:"description"`
	ExistingData conflict.JSONAny `json:"existingData,omitempty"`
	NewData      conflict.JSONAny `json:"newData,omitempty"`
	Blocking     bool             `json:"blocking"`
	Resolution   string           `json:"resolution,omitempty"`
	ResolvedBy   string           `json:"resolvedBy,omitempty"`
	ResolvedAt   string           `json:"resolvedAt,omitempty"`
	CreatedAt    string           `json:"createdAt"`
}

func conflictToResponse(c *conflict.Conflict) conflictResponse {
	resp := conflictResponse{
		ID:           c.ID,
		JobID:        c.JobID,
		ItemID:       c.ItemID,
		ConflictType: string(c.ConflictType),
		Description:  c.Description,
		ExistingData: c.ExistingData,
		NewData:      c.NewData,
		Blocking:     c.Blocking,
		Resolution:   string(c.Resolution),
		ResolvedBy:   c.ResolvedBy,
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
	}
	if c.ResolvedAt != nil {
		resp.ResolvedAt = c.ResolvedAt.Format(time.RFC3339)
	}
	return resp
}

// eventResponse is the API shape of an event.
type eventResponse struct {
	ID        string      `json:"id"`
	EventType string      `json:"eventType"`
	JobID     string      `json:"jobId"`
	Data      events.Data `json:"data,omitempty"`
	CreatedAt string      `json:"createdAt"`
}

func eventToResponse(e *events.Event) eventResponse {
	return eventResponse{
		ID:        e.ID,
		EventType: string(e.EventType),
		JobID:     e.JobID,
		Data:      e.Data,
		CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
	}
}

// operationResponse is the API shape of a rollback operation.
type operationResponse struct {
	ID         string   `json:"id"`
	JobID      string   `json:"jobId"`
	HistoryID  string   `json:"historyId"`
	Reason     string   `json:"reason,omitempty"`
	DeckIDs    []string `json:"deckIds,omitempty"`
	ItemIDs    []string `json:"itemIds,omitempty"`
	Status     string   `json:"status"`
	StepErrors []string `json:"stepErrors,omitempty"`
	StartedAt  string   `json:"startedAt,omitempty"`
	FinishedAt string   `json:"finishedAt,omitempty"`
	CreatedAt  string   `json:"createdAt"`
}

func operationToResponse(op *history.Operation) operationResponse {
	resp := operationResponse{
		ID:         op.ID,
		JobID:      op.JobID,
		HistoryID:  op.HistoryID,
		Reason:     op.Reason,
		DeckIDs:    op.DeckIDs,
		ItemIDs:    op.ItemIDs,
		Status:     string(op.Status),
		StepErrors: op.StepErrors,
		CreatedAt:  op.CreatedAt.Format(time.RFC3339),
	}
	if op.StartedAt != nil {
		resp.StartedAt = op.StartedAt.Format(time.RFC3339)
	}
	if op.FinishedAt != nil {
		resp.FinishedAt = op.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
