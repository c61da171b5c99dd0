package reconcile

import (
	"context"
	"log/slog"

	"github.com/kiranshivaraju/meshgen/internal/cache"
	"github.com/kiranshivaraju/meshgen/pkg/models"
)

// Read serves a job, refreshing it from the provider first when it is stale.
// stored is the caller's copy, already authorized. Provider failures are not
// errors: the stored record is served as-is.
func (r *Reconciler) Read(ctx context.Context, stored *models.Job) (*models.Job, error) {
	if stored.IsTerminal() {
		return stored, nil
	}

	now := r.clock()
	if stored.IsExpired(now) {
		res, err := r.expire(ctx, stored)
		if err != nil {
			return nil, err
		}
		return res.Job, nil
	}

	if now.Sub(stored.UpdatedAt) <= StaleAfter {
		return stored, nil
	}

	if r.locker != nil {
		key := cache.PollLockKey(stored.ID)
		token, ok, err := r.locker.TryLock(ctx, key, pollLeaseTTL)
		switch {
		case err != nil:
			slog.Warn("poll lease unavailable, polling anyway", "job_id", stored.ID, "error", err)
		case !ok:
			// Another reader is polling this job right now.
			return stored, nil
		default:
			defer func() {
				if err := r.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					slog.Warn("release poll lease", "job_id", stored.ID, "error", err)
				}
			}()
		}
	}

	status, err := r.provider.GetStatus(ctx, stored.ExternalJobID)
	if err != nil {
		slog.Warn("provider status query failed, serving stored job",
			"job_id", stored.ID,
			"external_job_id", stored.ExternalJobID,
			"error", err,
		)
		return stored, nil
	}
	if status.Status == "" {
		return stored, nil
	}

	res, err := r.Apply(ctx, stored.ID, ObservationFromStatus(status))
	if err != nil {
		return nil, err
	}
	return res.Job, nil
}
