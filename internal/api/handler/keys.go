package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/internal/apikey"
	"github.com/kiranshivaraju/meshgen/internal/api/response"
	"github.com/kiranshivaraju/meshgen/internal/store"
	"github.com/kiranshivaraju/meshgen/pkg/models"
)

// KeyStore manages API keys for a tenant.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
}

type createdKey struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key appears in this response only.
func NewCreateKeyHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}

		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{models.ScopeRead}
		}
		for _, s := range req.Scopes {
			if !apikey.ValidScope(s) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown scope: "+s, nil)
				return
			}
		}

		raw, err := apikey.Generate()
		if err != nil {
			slog.Error("generate api key", "error", err)
			internalError(w)
			return
		}
		key, err := apikey.New(raw, owner, req.Name, req.Scopes)
		if err != nil {
			slog.Error("build api key", "error", err)
			internalError(w)
			return
		}
		if err := keys.CreateAPIKey(r.Context(), key); err != nil {
			slog.Error("create api key", "tenant_id", owner, "error", err)
			internalError(w)
			return
		}

		slog.Info("api key created", "key_id", key.ID, "key_prefix", key.KeyPrefix, "tenant_id", owner)
		response.Created(w, createdKey{
			ID:        key.ID,
			Name:      key.Name,
			Key:       raw,
			KeyPrefix: key.KeyPrefix,
			Scopes:    key.Scopes,
			CreatedAt: key.CreatedAt,
		})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		list, err := keys.ListAPIKeys(r.Context(), owner)
		if err != nil {
			slog.Error("list api keys", "tenant_id", owner, "error", err)
			internalError(w)
			return
		}
		if list == nil {
			list = []*models.APIKey{}
		}
		response.JSON(w, list)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		keyID, ok := uuidParam(w, r, "keyID")
		if !ok {
			return
		}

		if err := keys.RevokeAPIKey(r.Context(), keyID, owner); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "API key not found", nil)
				return
			}
			slog.Error("revoke api key", "key_id", keyID, "error", err)
			internalError(w)
			return
		}

		slog.Info("api key revoked", "key_id", keyID, "tenant_id", owner)
		response.NoContent(w)
	}
}
