package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/internal/api/response"
	"github.com/kiranshivaraju/meshgen/internal/store"
	"github.com/kiranshivaraju/meshgen/pkg/models"
)

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// jobID is the internal UUID or, failing that, the provider's external id.
// Stale open jobs are refreshed from the provider before they are served.
func NewGetJobHandler(jobs JobLookup, rec Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}

		ref := chi.URLParam(r, "jobID")
		job, err := lookupJob(r, jobs, ref)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
				return
			}
			slog.Error("load job", "job_ref", ref, "error", err)
			internalError(w)
			return
		}
		if job.OwnerID != owner {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
			return
		}

		job, err = rec.Read(detach(r), job)
		if err != nil {
			slog.Error("read job", "job_id", ref, "error", err)
			internalError(w)
			return
		}

		response.JSON(w, toJobResponse(job))
	}
}

func lookupJob(r *http.Request, jobs JobLookup, ref string) (*models.Job, error) {
	if id, err := uuid.Parse(ref); err == nil {
		job, err := jobs.GetJob(r.Context(), id)
		if !errors.Is(err, store.ErrNotFound) {
			return job, err
		}
	}
	return jobs.GetJobByExternalID(r.Context(), ref)
}
