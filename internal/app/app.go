// Package app opens the shared runtime collaborators used by both the API
// server and the refresher.
package app

import (
	"context"
	"fmt"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/meshgen/internal/cache"
	"github.com/kiranshivaraju/meshgen/internal/config"
	"github.com/kiranshivaraju/meshgen/internal/mirror"
	"github.com/kiranshivaraju/meshgen/internal/provider"
	"github.com/kiranshivaraju/meshgen/internal/reconcile"
	"github.com/kiranshivaraju/meshgen/internal/storage"
	"github.com/kiranshivaraju/meshgen/internal/store"
)

// App holds the opened connections and the reconciler built on them.
type App struct {
	Pool       *pgxpool.Pool
	Store      *store.PostgresStore
	Cache      *cache.RedisCache
	Reconciler *reconcile.Reconciler

	gcsClient *gcs.Client
}

// Open connects to Postgres, Redis and GCS and wires the reconciler. When
// migrationsDir is non-empty, pending migrations are applied first. On error
// everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, migrationsDir string) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Pool, err = store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if migrationsDir != "" {
		if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}

	a.Cache, err = cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := a.Cache.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	a.gcsClient, err = gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	slog.Info("artifact storage ready", "bucket", cfg.Storage.Bucket)

	a.Store = store.NewPostgresStore(a.Pool)
	artifacts := storage.NewGCS(a.gcsClient, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL)
	providerClient := provider.NewHTTPClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)

	a.Reconciler = reconcile.New(a.Store, a.Store, providerClient,
		mirror.New(artifacts, cfg.Storage.MirrorTimeout, cfg.Storage.MirrorMaxSize),
		reconcile.WithLocker(a.Cache),
		reconcile.WithJobTTL(cfg.Jobs.TTL),
		reconcile.WithConcurrency(cfg.Jobs.RefreshConcurrency),
		reconcile.WithBatchLimit(cfg.Jobs.RefreshBatchLimit),
		reconcile.WithWebhookURL(cfg.Provider.WebhookURL),
	)

	return a, nil
}

// Close releases every opened connection. Safe on a partially opened App.
func (a *App) Close() {
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			slog.Warn("close storage client", "error", err)
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
