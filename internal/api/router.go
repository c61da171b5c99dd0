package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/meshgen/internal/api/middleware"
	"github.com/kiranshivaraju/meshgen/internal/api/response"
	"github.com/kiranshivaraju/meshgen/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth        *mw.Auth
	RateLimit   *mw.RateLimit
	CORSOrigins []string

	HealthHandler  http.HandlerFunc
	WebhookHandler http.HandlerFunc

	CreateModelHandler http.HandlerFunc
	GetModelHandler    http.HandlerFunc
	GenerateHandler    http.HandlerFunc
	GetJobHandler      http.HandlerFunc
	RefreshHandler     http.HandlerFunc

	RefreshAllHandler http.HandlerFunc
	PurgeModelHandler http.HandlerFunc
	CreateKeyHandler  http.HandlerFunc
	ListKeysHandler   http.HandlerFunc
	RevokeKeyHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if len(deps.CORSOrigins) > 0 {
		r.Use(mw.CORS(deps.CORSOrigins))
	}

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// The provider authenticates with the webhook signature, not an API key.
	r.Post("/api/v1/webhooks/provider", orNotImplemented(deps.WebhookHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRead))

			r.Get("/api/v1/models/{modelID}", orNotImplemented(deps.GetModelHandler))
			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
			r.Post("/api/v1/jobs/refresh", orNotImplemented(deps.RefreshHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeGenerate))

			r.Post("/api/v1/models", orNotImplemented(deps.CreateModelHandler))
			r.Post("/api/v1/models/{modelID}/generate", orNotImplemented(deps.GenerateHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/admin/jobs/refresh", orNotImplemented(deps.RefreshAllHandler))
			r.Delete("/api/v1/admin/models/{modelID}", orNotImplemented(deps.PurgeModelHandler))
			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
