// Package reconcile merges provider observations into stored jobs and models.
//
// Every update path (webhook delivery, poll-on-read, batch refresh) funnels into
// Reconciler.Apply, which is idempotent and order-independent: a terminal job
// status is final, and the only later write allowed on a succeeded job is a
// one-time backfill of its model URL.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/internal/provider"
	"github.com/kiranshivaraju/meshgen/internal/store"
	"github.com/kiranshivaraju/meshgen/pkg/models"
	"github.com/kiranshivaraju/meshgen/pkg/providerstatus"
)

const (
	// StaleAfter is how old a non-terminal job's last update must be before a
	// read polls the provider.
	StaleAfter = 5 * time.Minute

	defaultJobTTL      = 24 * time.Hour
	defaultConcurrency = 4
	defaultBatchLimit  = 500
	refreshLeaseTTL    = 10 * time.Minute
	pollLeaseTTL       = 30 * time.Second
)

var (
	ErrRefreshInProgress = errors.New("refresh already in progress")
	ErrEmptyStatus       = errors.New("observation has no provider status")
	ErrModelNotReady     = errors.New("model is not awaiting generation")
	ErrNoImages          = errors.New("model has no images")
	ErrTaskCreation      = errors.New("provider task creation failed")
)

// Observation is one report of a provider task's state, from either a webhook
// or a status query.
type Observation struct {
	ProviderStatus string
	Progress       *int
	OutputURL      string
	ErrorText      string
}

// ObservationFromStatus adapts a provider status query result.
func ObservationFromStatus(s provider.Status) Observation {
	return Observation{
		ProviderStatus: s.Status,
		Progress:       s.Progress,
		OutputURL:      s.OutputURL,
		ErrorText:      s.Error,
	}
}

// Mirrorer copies an artifact into owned storage, returning the original URL
// on any failure.
type Mirrorer interface {
	Mirror(ctx context.Context, remoteURL string) string
}

// Locker hands out short-lived leases. A nil Locker disables leasing.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Result is the state of a job, and its linked model if any, after reconciliation.
type Result struct {
	Job   *models.Job
	Model *models.Model
}

// Reconciler owns the job lifecycle. All collaborators are injected.
type Reconciler struct {
	jobs        store.JobStore
	models      store.ModelStore
	provider    provider.Client
	mirror      Mirrorer
	locker      Locker
	now         func() time.Time
	jobTTL      time.Duration
	concurrency int
	batchLimit  int
	webhookURL  string
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithLocker(l Locker) Option {
	return func(r *Reconciler) { r.locker = l }
}

func WithJobTTL(ttl time.Duration) Option {
	return func(r *Reconciler) {
		if ttl > 0 {
			r.jobTTL = ttl
		}
	}
}

func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithBatchLimit(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchLimit = n
		}
	}
}

// WithWebhookURL sets the callback address handed to the provider on task creation.
func WithWebhookURL(u string) Option {
	return func(r *Reconciler) { r.webhookURL = u }
}

// New creates a Reconciler.
func New(jobs store.JobStore, modelStore store.ModelStore, p provider.Client, m Mirrorer, opts ...Option) *Reconciler {
	r := &Reconciler{
		jobs:        jobs,
		models:      modelStore,
		provider:    p,
		mirror:      m,
		now:         time.Now,
		jobTTL:      defaultJobTTL,
		concurrency: defaultConcurrency,
		batchLimit:  defaultBatchLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) clock() time.Time {
	return r.now().UTC()
}

// Apply re-reads the job and merges obs into it.
func (r *Reconciler) Apply(ctx context.Context, jobID uuid.UUID, obs Observation) (*Result, error) {
	if obs.ProviderStatus == "" {
		return nil, ErrEmptyStatus
	}
	if !providerstatus.Known(obs.ProviderStatus) {
		slog.Warn("unmapped provider status, storing verbatim",
			"job_id", jobID,
			"provider_status", obs.ProviderStatus,
		)
	}

	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	if job.IsTerminal() {
		return r.applyTerminal(ctx, job, obs, "", false)
	}

	now := r.clock()
	if job.IsExpired(now) {
		return r.expire(ctx, job)
	}

	// Mirror before any write so the stored URL is the owned one when possible.
	candidate := ""
	if obs.OutputURL != "" {
		candidate = r.mirror.Mirror(ctx, obs.OutputURL)
	}

	opts := []store.JobUpdateOption{store.WithUpdatedAt(now)}
	switch {
	case obs.Progress != nil:
		opts = append(opts, store.WithProgress(*obs.Progress))
	case obs.ProviderStatus == models.APIStatusSucceeded:
		opts = append(opts, store.WithProgress(100))
	}
	if candidate != "" {
		opts = append(opts, store.WithJobModelURL(candidate))
	}
	if obs.ErrorText != "" {
		opts = append(opts, store.WithErrorMessage(obs.ErrorText))
	}

	updated, err := r.jobs.UpdateJobStatus(ctx, job.ID, obs.ProviderStatus, opts...)
	if errors.Is(err, store.ErrJobTerminal) {
		// Another writer finalized the job between our read and write.
		fresh, getErr := r.jobs.GetJob(ctx, job.ID)
		if getErr != nil {
			return nil, fmt.Errorf("reload job: %w", getErr)
		}
		return r.applyTerminal(ctx, fresh, obs, candidate, obs.OutputURL != "")
	}
	if err != nil {
		return nil, fmt.Errorf("write job status: %w", err)
	}

	if updated.APIStatus != job.APIStatus {
		slog.Info("job status changed",
			"job_id", updated.ID,
			"external_job_id", updated.ExternalJobID,
			"from", job.APIStatus,
			"to", updated.APIStatus,
		)
	}

	m, err := r.propagate(ctx, updated)
	if err != nil {
		return nil, err
	}
	return &Result{Job: updated, Model: m}, nil
}

// applyTerminal handles an observation for a job whose status is final. The
// only permitted change is backfilling model_url on a succeeded job that never
// received one.
func (r *Reconciler) applyTerminal(ctx context.Context, job *models.Job, obs Observation, candidate string, mirrored bool) (*Result, error) {
	if job.APIStatus == models.APIStatusSucceeded && job.ModelURL == nil && obs.OutputURL != "" {
		if !mirrored {
			candidate = r.mirror.Mirror(ctx, obs.OutputURL)
		}
		applied, err := r.jobs.BackfillJobModelURL(ctx, job.ID, candidate, r.clock())
		if err != nil {
			return nil, fmt.Errorf("backfill model url: %w", err)
		}
		if applied {
			slog.Info("backfilled model url on terminal job",
				"job_id", job.ID,
				"external_job_id", job.ExternalJobID,
			)
		}
		job, err = r.jobs.GetJob(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("reload job: %w", err)
		}
	}

	// Propagation is idempotent, so re-running it also heals a model that
	// missed the original terminal transition.
	m, err := r.propagate(ctx, job)
	if err != nil {
		return nil, err
	}
	return &Result{Job: job, Model: m}, nil
}

// expire force-fails a job past its expiry and fails its model.
func (r *Reconciler) expire(ctx context.Context, job *models.Job) (*Result, error) {
	updated, err := r.jobs.UpdateJobStatus(ctx, job.ID, models.APIStatusFailed,
		store.WithErrorMessage(models.ErrMessageJobExpired),
		store.WithUpdatedAt(r.clock()),
	)
	if errors.Is(err, store.ErrJobTerminal) {
		fresh, getErr := r.jobs.GetJob(ctx, job.ID)
		if getErr != nil {
			return nil, fmt.Errorf("reload job: %w", getErr)
		}
		updated = fresh
	} else if err != nil {
		return nil, fmt.Errorf("expire job: %w", err)
	} else {
		slog.Info("job expired",
			"job_id", updated.ID,
			"external_job_id", updated.ExternalJobID,
			"expires_at", updated.ExpiresAt,
		)
	}

	m, err := r.propagate(ctx, updated)
	if err != nil {
		return nil, err
	}
	return &Result{Job: updated, Model: m}, nil
}

// propagate derives the linked model's status from the job.
func (r *Reconciler) propagate(ctx context.Context, job *models.Job) (*models.Model, error) {
	m, err := r.models.GetModelByJobID(ctx, job.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load model for job: %w", err)
	}

	switch job.APIStatus {
	case models.APIStatusSucceeded:
		if job.ModelURL == nil {
			// Completed requires a URL; wait for the backfill.
			return m, nil
		}
		if m.ModelStatus == models.ModelStatusCompleted && m.ModelURL != nil && *m.ModelURL == *job.ModelURL {
			return m, nil
		}
		m, err = r.models.UpdateModelStatus(ctx, m.ID, models.ModelStatusCompleted,
			store.WithModelURL(*job.ModelURL),
			store.WithModelUpdatedAt(r.clock()),
		)
	case models.APIStatusFailed, models.APIStatusCanceled:
		if m.ModelStatus == models.ModelStatusFailed {
			return m, nil
		}
		m, err = r.models.UpdateModelStatus(ctx, m.ID, models.ModelStatusFailed,
			store.WithModelUpdatedAt(r.clock()),
		)
	default:
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update model status: %w", err)
	}

	slog.Info("model status derived from job",
		"model_id", m.ID,
		"job_id", job.ID,
		"model_status", m.ModelStatus,
	)
	return m, nil
}
