package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/internal/api/response"
	"github.com/kiranshivaraju/meshgen/internal/provider"
	"github.com/kiranshivaraju/meshgen/internal/reconcile"
	"github.com/kiranshivaraju/meshgen/internal/store"
	"github.com/kiranshivaraju/meshgen/pkg/models"
)

const maxImagesPerModel = 20

// ModelRepository is the model persistence the handlers need.
type ModelRepository interface {
	CreateModel(ctx context.Context, m *models.Model) error
	GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error)
	DeleteModel(ctx context.Context, id uuid.UUID) error
}

// NewCreateModelHandler returns an http.HandlerFunc for POST /api/v1/models.
func NewCreateModelHandler(repo ModelRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}

		var req struct {
			ImageURLs []string `json:"image_urls"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if problems := validateImageURLs(req.ImageURLs); len(problems) > 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid image_urls",
				map[string][]string{"image_urls": problems})
			return
		}

		now := time.Now().UTC()
		m := &models.Model{
			ID:          uuid.New(),
			OwnerID:     owner,
			ModelStatus: models.ModelStatusDraft,
			ImageURLs:   req.ImageURLs,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.CreateModel(r.Context(), m); err != nil {
			slog.Error("create model", "owner_id", owner, "error", err)
			internalError(w)
			return
		}

		response.Created(w, m)
	}
}

func validateImageURLs(urls []string) []string {
	if len(urls) == 0 {
		return []string{"at least one image is required"}
	}
	if len(urls) > maxImagesPerModel {
		return []string{fmt.Sprintf("at most %d images are allowed", maxImagesPerModel)}
	}
	var problems []string
	for i, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("image_urls[%d] must be an absolute http(s) URL", i))
		}
	}
	return problems
}

// NewGetModelHandler returns an http.HandlerFunc for GET /api/v1/models/{modelID}.
func NewGetModelHandler(repo ModelRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		modelID, ok := uuidParam(w, r, "modelID")
		if !ok {
			return
		}

		m, err := repo.GetModel(r.Context(), modelID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Error("get model", "model_id", modelID, "error", err)
			internalError(w)
			return
		}
		if err != nil || m.OwnerID != owner {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Model not found", nil)
			return
		}

		response.JSON(w, m)
	}
}

type generateResponse struct {
	ModelID     uuid.UUID   `json:"model_id"`
	ModelStatus string      `json:"model_status"`
	Job         jobResponse `json:"job"`
}

// NewGenerateHandler returns an http.HandlerFunc for
// POST /api/v1/models/{modelID}/generate.
func NewGenerateHandler(rec Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		modelID, ok := uuidParam(w, r, "modelID")
		if !ok {
			return
		}

		res, err := rec.StartGeneration(detach(r), owner, modelID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Model not found", nil)
			case errors.Is(err, reconcile.ErrModelNotReady):
				response.Error(w, http.StatusConflict, "MODEL_NOT_READY",
					"Model is not awaiting generation", nil)
			case errors.Is(err, reconcile.ErrNoImages):
				response.Error(w, http.StatusUnprocessableEntity, "NO_IMAGES",
					"Model has no images to generate from", nil)
			case errors.Is(err, provider.ErrProviderTimeout):
				response.Error(w, http.StatusGatewayTimeout, "PROVIDER_TIMEOUT",
					"The generation provider did not respond in time", nil)
			case errors.Is(err, reconcile.ErrTaskCreation):
				slog.Warn("provider rejected task", "model_id", modelID, "error", err)
				response.Error(w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE",
					"The generation provider could not start the task", nil)
			default:
				slog.Error("start generation", "model_id", modelID, "error", err)
				internalError(w)
			}
			return
		}

		response.Accepted(w, generateResponse{
			ModelID:     res.Model.ID,
			ModelStatus: res.Model.ModelStatus,
			Job:         toJobResponse(res.Job),
		})
	}
}

// NewPurgeModelHandler returns an http.HandlerFunc for
// DELETE /api/v1/admin/models/{modelID}. The linked job, if any, is kept.
func NewPurgeModelHandler(repo ModelRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		modelID, ok := uuidParam(w, r, "modelID")
		if !ok {
			return
		}

		if err := repo.DeleteModel(r.Context(), modelID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Model not found", nil)
				return
			}
			slog.Error("purge model", "model_id", modelID, "error", err)
			internalError(w)
			return
		}

		slog.Info("model purged", "model_id", modelID)
		response.NoContent(w)
	}
}
