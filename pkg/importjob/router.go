package importjob

import (
	"github.com/go-chi/chi/v5"
)

// Router creates the chi.Router for the import API. Caller mounts it under
// the versioned prefix behind the user identity middleware.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/jobs", a.handleCreateJob)
	r.Get("/jobs", a.handleListJobs)
	r.Get("/jobs/{jobId}", a.handleGetJob)
	r.Get("/jobs/{jobId}/progress", a.handleGetProgress)
	r.Post("/jobs/{jobId}:cancel", a.handleCancelJob)

	r.Get("/jobs/{jobId}/preview", a.handleGetPreview)
	r.Post("/previews/{previewId}:approve", a.handleApprovePreview)

	r.Get("/jobs/{jobId}/conflicts", a.handleListConflicts)
	r.Post("/conflicts/{conflictId}:resolve", a.handleResolveConflict)

	r.Post("/jobs/{jobId}:rollback", a.handleRollbackJob)
	r.Get("/rollbacks/{opId}", a.handleGetRollback)

	r.Get("/events", a.handleListEvents)

	return r
}
