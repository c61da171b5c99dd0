// Package handler holds the HTTP handlers. Each constructor returns an
// http.HandlerFunc and depends only on the narrow interface it calls.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/meshgen/internal/api/middleware"
	"github.com/kiranshivaraju/meshgen/internal/api/response"
	"github.com/kiranshivaraju/meshgen/internal/reconcile"
	"github.com/kiranshivaraju/meshgen/pkg/models"
	"github.com/kiranshivaraju/meshgen/pkg/providerstatus"
)

// JobLookup finds stored jobs.
type JobLookup interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobByExternalID(ctx context.Context, externalJobID string) (*models.Job, error)
}

// Reconciler is the slice of reconcile.Reconciler the handlers call.
type Reconciler interface {
	Apply(ctx context.Context, jobID uuid.UUID, obs reconcile.Observation) (*reconcile.Result, error)
	Read(ctx context.Context, stored *models.Job) (*models.Job, error)
	RefreshOwner(ctx context.Context, ownerID uuid.UUID) ([]reconcile.RefreshResult, error)
	RefreshAll(ctx context.Context) ([]reconcile.RefreshResult, error)
	StartGeneration(ctx context.Context, ownerID, modelID uuid.UUID) (*reconcile.Result, error)
}

var _ Reconciler = (*reconcile.Reconciler)(nil)

type modelURLs struct {
	GLB string `json:"glb"`
}

// jobResponse is the client view of a job. Status is mapped to the internal
// vocabulary; the provider's native value stays in storage.
type jobResponse struct {
	JobID         uuid.UUID  `json:"job_id"`
	ExternalJobID string     `json:"external_job_id"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress"`
	ModelURLs     *modelURLs `json:"model_urls,omitempty"`
	Detail        string     `json:"detail,omitempty"`
}

func toJobResponse(j *models.Job) jobResponse {
	resp := jobResponse{
		JobID:         j.ID,
		ExternalJobID: j.ExternalJobID,
		Status:        providerstatus.Internal(j.APIStatus),
		Progress:      j.Progress,
	}
	if j.ModelURL != nil && *j.ModelURL != "" {
		resp.ModelURLs = &modelURLs{GLB: *j.ModelURL}
	}
	if j.ErrorMessage != nil {
		resp.Detail = *j.ErrorMessage
	}
	return resp
}

// detach returns a context that outlives the request. Reconciliation started by
// a request runs to completion even if the caller hangs up; provider and mirror
// calls carry their own timeouts.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// requireOwner writes 401 and returns false when auth did not run.
func requireOwner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	owner, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
	}
	return owner, ok
}

// uuidParam parses a chi URL parameter, writing 400 on failure.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func internalError(w http.ResponseWriter) {
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
