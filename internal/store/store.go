package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrJobTerminal is returned when a status write targets a job whose status is
// already terminal. Terminal statuses are never overwritten.
var ErrJobTerminal = errors.New("job already in terminal status")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	JobStore
	ModelStore
}

// JobStore persists external generation jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobByExternalID(ctx context.Context, externalJobID string) (*models.Job, error)
	// UpdateJobStatus writes apiStatus unless the stored status is terminal, in
	// which case it returns ErrJobTerminal and leaves the row untouched.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, apiStatus string, opts ...JobUpdateOption) (*models.Job, error)
	// BackfillJobModelURL sets model_url only if it is still null, stamping
	// updated_at with at. The bool reports whether this call performed the write.
	BackfillJobModelURL(ctx context.Context, id uuid.UUID, modelURL string, at time.Time) (bool, error)
	// ListRefreshableJobs returns non-terminal, unexpired jobs whose linked
	// model (if any) is not already completed.
	ListRefreshableJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	// ListExpiredJobs returns non-terminal jobs whose expiry has passed.
	ListExpiredJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	// ListJobsWithCompletedModel returns non-terminal jobs whose linked model
	// already reads completed.
	ListJobsWithCompletedModel(ctx context.Context, filter JobFilter) ([]*models.Job, error)
}

// ModelStore persists the user-facing 3D model records.
type ModelStore interface {
	CreateModel(ctx context.Context, m *models.Model) error
	GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error)
	GetModelByJobID(ctx context.Context, jobID uuid.UUID) (*models.Model, error)
	UpdateModelStatus(ctx context.Context, id uuid.UUID, status string, opts ...ModelUpdateOption) (*models.Model, error)
	AttachJob(ctx context.Context, modelID uuid.UUID, jobID uuid.UUID) (*models.Model, error)
	DeleteModel(ctx context.Context, id uuid.UUID) error
}

// JobFilter scopes job listing queries. A nil OwnerID means system-wide.
type JobFilter struct {
	OwnerID *uuid.UUID
	Now     time.Time
	Limit   int
}

func (f JobFilter) normalized() JobFilter {
	if f.Now.IsZero() {
		f.Now = time.Now().UTC()
	}
	if f.Limit <= 0 {
		f.Limit = 500
	}
	return f
}

type jobUpdateParams struct {
	Progress     *int
	ModelURL     *string
	ErrorMessage *string
	UpdatedAt    *time.Time
}

type JobUpdateOption func(*jobUpdateParams)

func WithProgress(p int) JobUpdateOption {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return func(params *jobUpdateParams) {
		params.Progress = &p
	}
}

func WithJobModelURL(url string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ModelURL = &url
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

// WithUpdatedAt overrides the write timestamp; defaults to the current time.
func WithUpdatedAt(t time.Time) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.UpdatedAt = &t
	}
}

// ApplyJobUpdateOptions resolves options into their final values. Exposed for
// alternative Store implementations.
func ApplyJobUpdateOptions(opts ...JobUpdateOption) (progress *int, modelURL *string, errMsg *string, updatedAt time.Time) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	updatedAt = time.Now().UTC()
	if params.UpdatedAt != nil {
		updatedAt = *params.UpdatedAt
	}
	return params.Progress, params.ModelURL, params.ErrorMessage, updatedAt
}

type modelUpdateParams struct {
	ModelURL  *string
	UpdatedAt *time.Time
}

type ModelUpdateOption func(*modelUpdateParams)

func WithModelURL(url string) ModelUpdateOption {
	return func(p *modelUpdateParams) {
		p.ModelURL = &url
	}
}

// WithModelUpdatedAt overrides the write timestamp; defaults to the current time.
func WithModelUpdatedAt(t time.Time) ModelUpdateOption {
	return func(p *modelUpdateParams) {
		p.UpdatedAt = &t
	}
}

// ApplyModelUpdateOptions resolves options into their final values.
func ApplyModelUpdateOptions(opts ...ModelUpdateOption) (modelURL *string, updatedAt time.Time) {
	params := &modelUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	updatedAt = time.Now().UTC()
	if params.UpdatedAt != nil {
		updatedAt = *params.UpdatedAt
	}
	return params.ModelURL, updatedAt
}
