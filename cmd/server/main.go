// Package main is the entrypoint for the meshgen API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/meshgen/internal/api"
	"github.com/kiranshivaraju/meshgen/internal/api/handler"
	mw "github.com/kiranshivaraju/meshgen/internal/api/middleware"
	"github.com/kiranshivaraju/meshgen/internal/api/response"
	"github.com/kiranshivaraju/meshgen/internal/apikey"
	"github.com/kiranshivaraju/meshgen/internal/app"
	"github.com/kiranshivaraju/meshgen/internal/cache"
	"github.com/kiranshivaraju/meshgen/internal/config"
	"github.com/kiranshivaraju/meshgen/internal/store"
	"github.com/kiranshivaraju/meshgen/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "provider", cfg.Provider.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, "migrations")
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Auth.BootstrapAdminKey != "" {
		if err := bootstrapAdminKey(ctx, a.Store, cfg.Auth.BootstrapAdminKey); err != nil {
			return fmt.Errorf("bootstrap admin key: %w", err)
		}
	}

	auth := mw.NewAuth(a.Store)
	rateLimit := mw.NewRateLimit(a.Cache, cfg.Auth.RateLimitPerMinute)
	rec := a.Reconciler

	router := api.NewRouter(api.Dependencies{
		Auth:        auth,
		RateLimit:   rateLimit,
		CORSOrigins: cfg.Server.CORSOrigins,

		HealthHandler:  healthHandler(a.Store, a.Cache),
		WebhookHandler: handler.NewWebhookHandler(a.Store, rec, cfg.Webhook.Secret),

		CreateModelHandler: handler.NewCreateModelHandler(a.Store),
		GetModelHandler:    handler.NewGetModelHandler(a.Store),
		GenerateHandler:    handler.NewGenerateHandler(rec),
		GetJobHandler:      handler.NewGetJobHandler(a.Store, rec),
		RefreshHandler:     handler.NewRefreshHandler(rec),

		RefreshAllHandler: handler.NewRefreshAllHandler(rec),
		PurgeModelHandler: handler.NewPurgeModelHandler(a.Store),
		CreateKeyHandler:  handler.NewCreateKeyHandler(a.Store),
		ListKeysHandler:   handler.NewListKeysHandler(a.Store),
		RevokeKeyHandler:  handler.NewRevokeKeyHandler(a.Store),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Storage.MirrorTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// bootstrapAdminKey ensures raw is a usable admin key for the default tenant.
// Re-running with the same key is a no-op.
func bootstrapAdminKey(ctx context.Context, s store.Store, raw string) error {
	prefix, err := apikey.LookupPrefix(raw)
	if err != nil {
		return err
	}
	existing, err := s.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("look up existing keys: %w", err)
	}
	for _, k := range existing {
		if apikey.Matches(k, raw) {
			return nil
		}
	}

	tenant, err := s.GetDefaultTenant(ctx)
	if err != nil {
		return fmt.Errorf("load default tenant: %w", err)
	}
	key, err := apikey.New(raw, tenant.ID, "bootstrap-admin", []string{models.ScopeAdmin})
	if err != nil {
		return err
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	slog.Info("bootstrap admin key created", "key_prefix", key.KeyPrefix, "tenant_id", tenant.ID)
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
