package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/internal/api/handler"
	mw "github.com/kiranshivaraju/meshgen/internal/api/middleware"
	cachemock "github.com/kiranshivaraju/meshgen/internal/cache/mock"
	providermock "github.com/kiranshivaraju/meshgen/internal/provider/mock"
	"github.com/kiranshivaraju/meshgen/internal/reconcile"
	storemock "github.com/kiranshivaraju/meshgen/internal/store/mock"
	"github.com/kiranshivaraju/meshgen/pkg/models"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "whsec_test_secret"
	ownerHeader = "X-Test-Owner"
	mirrorBase  = "https://storage.googleapis.com/meshgen/artifacts/"
)

type cdnMirror struct{}

func (cdnMirror) Mirror(_ context.Context, remoteURL string) string {
	return mirrorBase + path.Base(remoteURL)
}

type testEnv struct {
	store    *storemock.MemoryStore
	provider *providermock.StaticClient
	locker   *cachemock.MemoryCache
	rec      *reconcile.Reconciler
	owner    uuid.UUID
	now      time.Time
	router   http.Handler
}

// asOwner stands in for auth: the owner is the default unless overridden per request.
func asOwner(def uuid.UUID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := def
			if v := r.Header.Get(ownerHeader); v != "" {
				owner = uuid.MustParse(v)
			}
			ctx := mw.SetOwnerID(r.Context(), owner)
			ctx = mw.SetScopes(ctx, []string{models.ScopeAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		store:    storemock.NewMemoryStore(),
		provider: providermock.NewStaticClient(nil),
		locker:   cachemock.NewMemoryCache(),
		owner:    uuid.New(),
		now:      time.Now().UTC().Truncate(time.Second),
	}
	e.rec = reconcile.New(e.store, e.store, e.provider, cdnMirror{},
		reconcile.WithClock(func() time.Time { return e.now }),
		reconcile.WithLocker(e.locker),
		reconcile.WithJobTTL(time.Hour),
	)

	r := chi.NewRouter()
	r.Post("/webhooks/provider", handler.NewWebhookHandler(e.store, e.rec, testSecret))
	r.Group(func(r chi.Router) {
		r.Use(asOwner(e.owner))
		r.Get("/jobs/{jobID}", handler.NewGetJobHandler(e.store, e.rec))
		r.Post("/jobs/refresh", handler.NewRefreshHandler(e.rec))
		r.Post("/models", handler.NewCreateModelHandler(e.store))
		r.Get("/models/{modelID}", handler.NewGetModelHandler(e.store))
		r.Post("/models/{modelID}/generate", handler.NewGenerateHandler(e.rec))
		r.Post("/admin/jobs/refresh", handler.NewRefreshAllHandler(e.rec))
		r.Delete("/admin/models/{modelID}", handler.NewPurgeModelHandler(e.store))
		r.Post("/admin/keys", handler.NewCreateKeyHandler(e.store))
		r.Get("/admin/keys", handler.NewListKeysHandler(e.store))
		r.Delete("/admin/keys/{keyID}", handler.NewRevokeKeyHandler(e.store))
	})
	e.router = r
	return e
}

// seedJob stores a job for the env owner with a linked generating model.
func (e *testEnv) seedJob(t *testing.T, ext, status string, updatedAt time.Time) (*models.Job, *models.Model) {
	t.Helper()
	ctx := context.Background()
	job := &models.Job{
		ID:            uuid.New(),
		ExternalJobID: ext,
		OwnerID:       e.owner,
		APIStatus:     status,
		CreatedAt:     updatedAt,
		UpdatedAt:     updatedAt,
		ExpiresAt:     e.now.Add(time.Hour),
	}
	require.NoError(t, e.store.CreateJob(ctx, job))

	m := &models.Model{
		ID:          uuid.New(),
		OwnerID:     e.owner,
		ModelStatus: models.ModelStatusDraft,
		ImageURLs:   []string{"https://img.test/a.jpg"},
		CreatedAt:   e.now,
		UpdatedAt:   e.now,
	}
	require.NoError(t, e.store.CreateModel(ctx, m))
	m, err := e.store.AttachJob(ctx, m.ID, job.ID)
	require.NoError(t, err)
	return job, m
}

func (e *testEnv) job(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	j, err := e.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

func (e *testEnv) model(t *testing.T, id uuid.UUID) *models.Model {
	t.Helper()
	m, err := e.store.GetModel(context.Background(), id)
	require.NoError(t, err)
	return m
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, method, target, body, uuid.Nil)
}

func (e *testEnv) doAs(t *testing.T, method, target string, body any, owner uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != uuid.Nil {
		req.Header.Set(ownerHeader, owner.String())
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Data
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Error.Code
}
