package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/internal/cache"
	"github.com/kiranshivaraju/meshgen/internal/store"
	"github.com/kiranshivaraju/meshgen/pkg/models"
	"golang.org/x/sync/errgroup"
)

const scopeAll = "all"

// RefreshResult reports what a sweep did to one job.
type RefreshResult struct {
	Job *models.Job
	// ProviderStatus is the freshly observed status. Empty for expired jobs
	// and jobs whose provider query failed.
	ProviderStatus string
	Expired        bool
	Err            error
}

// RefreshOwner sweeps the open jobs belonging to ownerID.
func (r *Reconciler) RefreshOwner(ctx context.Context, ownerID uuid.UUID) ([]RefreshResult, error) {
	return r.refresh(ctx, ownerID.String(), store.JobFilter{OwnerID: &ownerID})
}

// RefreshAll sweeps open jobs system-wide.
func (r *Reconciler) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	return r.refresh(ctx, scopeAll, store.JobFilter{})
}

func (r *Reconciler) refresh(ctx context.Context, scope string, filter store.JobFilter) ([]RefreshResult, error) {
	if r.locker != nil {
		key := cache.RefreshLockKey(scope)
		token, ok, err := r.locker.TryLock(ctx, key, refreshLeaseTTL)
		switch {
		case err != nil:
			slog.Warn("refresh lease unavailable, sweeping without it", "scope", scope, "error", err)
		case !ok:
			return nil, ErrRefreshInProgress
		default:
			defer func() {
				if err := r.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					slog.Warn("release refresh lease", "scope", scope, "error", err)
				}
			}()
		}
	}

	filter.Now = r.clock()
	filter.Limit = r.batchLimit

	r.reportCompletedModels(ctx, filter)

	expired, err := r.jobs.ListExpiredJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	open, err := r.jobs.ListRefreshableJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list refreshable jobs: %w", err)
	}

	results := make([]RefreshResult, len(expired)+len(open))

	for i, job := range expired {
		res, err := r.expire(ctx, job)
		results[i] = RefreshResult{Job: job, Expired: true, Err: err}
		if err == nil {
			results[i].Job = res.Job
		}
	}

	// Each job is independent: a failure is recorded on its result and never
	// cancels the others.
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, job := range open {
		idx := len(expired) + i
		g.Go(func() error {
			results[idx] = r.refreshOne(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	slog.Info("refresh sweep finished",
		"scope", scope,
		"expired", len(expired),
		"polled", len(open),
		"failed", failed,
	)

	return results, nil
}

func (r *Reconciler) refreshOne(ctx context.Context, job *models.Job) RefreshResult {
	status, err := r.provider.GetStatus(ctx, job.ExternalJobID)
	if err != nil {
		slog.Warn("refresh: provider status query failed",
			"job_id", job.ID,
			"external_job_id", job.ExternalJobID,
			"error", err,
		)
		return RefreshResult{Job: job, Err: err}
	}

	res, err := r.Apply(ctx, job.ID, ObservationFromStatus(status))
	if err != nil {
		slog.Error("refresh: reconcile failed",
			"job_id", job.ID,
			"external_job_id", job.ExternalJobID,
			"error", err,
		)
		return RefreshResult{Job: job, ProviderStatus: status.Status, Err: err}
	}
	return RefreshResult{Job: res.Job, ProviderStatus: status.Status}
}

// reportCompletedModels logs open jobs whose model already reads completed.
// The job is the source of truth, so the model is not rolled back and the job
// is left out of the sweep.
func (r *Reconciler) reportCompletedModels(ctx context.Context, filter store.JobFilter) {
	jobs, err := r.jobs.ListJobsWithCompletedModel(ctx, filter)
	if err != nil {
		slog.Warn("list jobs with completed model", "error", err)
		return
	}
	for _, job := range jobs {
		slog.Warn("invariant violation: model completed while job is open",
			"job_id", job.ID,
			"external_job_id", job.ExternalJobID,
			"api_status", job.APIStatus,
		)
	}
}
