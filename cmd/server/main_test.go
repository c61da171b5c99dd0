package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/meshgen/internal/apikey"
	cachemock "github.com/kiranshivaraju/meshgen/internal/cache/mock"
	storemock "github.com/kiranshivaraju/meshgen/internal/store/mock"
	"github.com/kiranshivaraju/meshgen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(storemock.NewMemoryStore(), cachemock.NewMemoryCache())

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	s := storemock.NewMemoryStore()
	s.SetPingError(errors.New("connection refused"))
	h := healthHandler(s, cachemock.NewMemoryCache())

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "degraded", details["database"])
	assert.Equal(t, "ok", details["cache"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	c := cachemock.NewMemoryCache()
	c.Err = errors.New("redis down")
	h := healthHandler(storemock.NewMemoryStore(), c)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ─── bootstrap admin key ────────────────────────────────────────────────────

func TestBootstrapAdminKey_CreatesOnce(t *testing.T) {
	ctx := context.Background()
	s := storemock.NewMemoryStore()
	raw := "mg_bootstrap_admin_key_0001"

	require.NoError(t, bootstrapAdminKey(ctx, s, raw))
	require.NoError(t, bootstrapAdminKey(ctx, s, raw))

	tenant, err := s.GetDefaultTenant(ctx)
	require.NoError(t, err)
	keys, err := s.ListAPIKeys(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, []string{models.ScopeAdmin}, keys[0].Scopes)
	assert.Equal(t, raw[:apikey.LookupLen], keys[0].KeyPrefix)
}

func TestBootstrapAdminKey_RejectsShortKey(t *testing.T) {
	err := bootstrapAdminKey(context.Background(), storemock.NewMemoryStore(), "short")
	assert.ErrorIs(t, err, apikey.ErrInvalidKey)
}

// ─── run() config validation tests ──────────────────────────────────────────

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("PROVIDER_BASE_URL", "http://localhost:9999")
	t.Setenv("PROVIDER_API_KEY", "test-key")
	t.Setenv("WEBHOOK_SECRET", "test-secret")
	t.Setenv("GCS_BUCKET", "meshgen-test")
}

func TestRun_FailsOnMissingConfig(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "PROVIDER_BASE_URL", "PROVIDER_API_KEY", "WEBHOOK_SECRET", "GCS_BUCKET",
	} {
		t.Setenv(key, "")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "not-a-valid-url")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
