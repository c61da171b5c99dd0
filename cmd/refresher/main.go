// Package main runs the batch refresher: a system-wide sweep of open jobs
// every REFRESH_INTERVAL until SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/meshgen/internal/app"
	"github.com/kiranshivaraju/meshgen/internal/config"
	"github.com/kiranshivaraju/meshgen/internal/reconcile"
)

type sweeper interface {
	RefreshAll(ctx context.Context) ([]reconcile.RefreshResult, error)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("refresher failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, "")
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("refresher started", "interval", cfg.Jobs.RefreshInterval)
	loop(ctx, a.Reconciler, cfg.Jobs.RefreshInterval)
	slog.Info("refresher stopped")
	return nil
}

// loop sweeps once immediately, then on every tick until ctx is done. A sweep
// in flight when ctx is canceled runs to completion.
func loop(ctx context.Context, s sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sweep(context.WithoutCancel(ctx), s)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, s sweeper) {
	start := time.Now()
	results, err := s.RefreshAll(ctx)
	switch {
	case errors.Is(err, reconcile.ErrRefreshInProgress):
		slog.Info("sweep skipped, another refresher holds the lease")
	case err != nil:
		slog.Error("sweep failed", "error", err)
	default:
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		slog.Info("sweep complete",
			"jobs", len(results),
			"failed", failed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
