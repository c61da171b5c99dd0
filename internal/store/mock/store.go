// Package mock provides an in-memory store.Store for tests and local runs.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/internal/store"
	"github.com/kiranshivaraju/meshgen/pkg/models"
)

// MemoryStore satisfies store.Store. It applies the same conditional-write rules
// as the Postgres implementation, so reconciliation tests exercise real guards.
type MemoryStore struct {
	mu      sync.Mutex
	tenant  models.Tenant
	keys    map[uuid.UUID]*models.APIKey
	jobs    map[uuid.UUID]*models.Job
	models  map[uuid.UUID]*models.Model
	pingErr error

	// Err, when set, is returned by every job and model write. Reads still succeed.
	Err error
}

var _ store.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store seeded with a default tenant.
func NewMemoryStore() *MemoryStore {
	now := time.Now().UTC()
	return &MemoryStore{
		tenant: models.Tenant{ID: uuid.New(), Name: "default", CreatedAt: now, UpdatedAt: now},
		keys:   make(map[uuid.UUID]*models.APIKey),
		jobs:   make(map[uuid.UUID]*models.Job),
		models: make(map[uuid.UUID]*models.Model),
	}
}

// SetPingError makes Ping return err.
func (s *MemoryStore) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *MemoryStore) GetDefaultTenant(_ context.Context) (*models.Tenant, error) {
	t := s.tenant
	return &t, nil
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	c := *key
	s.keys[key.ID] = &c
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.TenantID == tenantID && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.TenantID != tenantID || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

// --- Jobs ---

func copyJob(j *models.Job) *models.Job {
	c := *j
	if j.ModelURL != nil {
		u := *j.ModelURL
		c.ModelURL = &u
	}
	if j.ErrorMessage != nil {
		m := *j.ErrorMessage
		c.ErrorMessage = &m
	}
	return &c
}

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	for _, j := range s.jobs {
		if j.ExternalJobID == job.ExternalJobID {
			return store.ErrDuplicateKey
		}
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

func (s *MemoryStore) GetJobByExternalID(_ context.Context, externalJobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ExternalJobID == externalJobID {
			return copyJob(j), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, id uuid.UUID, apiStatus string, opts ...store.JobUpdateOption) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if j.IsTerminal() {
		return nil, store.ErrJobTerminal
	}

	progress, modelURL, errMsg, updatedAt := store.ApplyJobUpdateOptions(opts...)
	j.APIStatus = apiStatus
	j.UpdatedAt = updatedAt
	if progress != nil {
		j.Progress = *progress
	}
	if modelURL != nil {
		j.ModelURL = modelURL
	}
	if errMsg != nil {
		j.ErrorMessage = errMsg
	}
	return copyJob(j), nil
}

func (s *MemoryStore) BackfillJobModelURL(_ context.Context, id uuid.UUID, modelURL string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	j, ok := s.jobs[id]
	if !ok || j.ModelURL != nil {
		return false, nil
	}
	j.ModelURL = &modelURL
	j.UpdatedAt = at
	return true, nil
}

func (s *MemoryStore) modelForJobLocked(jobID uuid.UUID) *models.Model {
	for _, m := range s.models {
		if m.JobID != nil && *m.JobID == jobID {
			return m
		}
	}
	return nil
}

func (s *MemoryStore) listJobs(filter store.JobFilter, match func(j *models.Job, m *models.Model, now time.Time) bool) []*models.Job {
	now := filter.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.IsTerminal() {
			continue
		}
		if filter.OwnerID != nil && j.OwnerID != *filter.OwnerID {
			continue
		}
		if match(j, s.modelForJobLocked(j.ID), now) {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) ListRefreshableJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, error) {
	return s.listJobs(filter, func(j *models.Job, m *models.Model, now time.Time) bool {
		return !j.IsExpired(now) && (m == nil || m.ModelStatus != models.ModelStatusCompleted)
	}), nil
}

func (s *MemoryStore) ListExpiredJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, error) {
	return s.listJobs(filter, func(j *models.Job, _ *models.Model, now time.Time) bool {
		return j.IsExpired(now)
	}), nil
}

func (s *MemoryStore) ListJobsWithCompletedModel(_ context.Context, filter store.JobFilter) ([]*models.Job, error) {
	return s.listJobs(filter, func(j *models.Job, m *models.Model, now time.Time) bool {
		return !j.IsExpired(now) && m != nil && m.ModelStatus == models.ModelStatusCompleted
	}), nil
}

// --- Models ---

func copyModel(m *models.Model) *models.Model {
	c := *m
	if m.JobID != nil {
		id := *m.JobID
		c.JobID = &id
	}
	if m.ModelURL != nil {
		u := *m.ModelURL
		c.ModelURL = &u
	}
	c.ImageURLs = append([]string(nil), m.ImageURLs...)
	return &c
}

func (s *MemoryStore) CreateModel(_ context.Context, m *models.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.models[m.ID]; ok {
		return store.ErrDuplicateKey
	}
	s.models[m.ID] = copyModel(m)
	return nil
}

func (s *MemoryStore) GetModel(_ context.Context, id uuid.UUID) (*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyModel(m), nil
}

func (s *MemoryStore) GetModelByJobID(_ context.Context, jobID uuid.UUID) (*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.modelForJobLocked(jobID); m != nil {
		return copyModel(m), nil
	}
	return nil, store.ErrNotFound
}

func (s *MemoryStore) UpdateModelStatus(_ context.Context, id uuid.UUID, status string, opts ...store.ModelUpdateOption) (*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	m, ok := s.models[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u, updatedAt := store.ApplyModelUpdateOptions(opts...)
	m.ModelStatus = status
	m.UpdatedAt = updatedAt
	if u != nil {
		m.ModelURL = u
	}
	return copyModel(m), nil
}

func (s *MemoryStore) AttachJob(_ context.Context, modelID uuid.UUID, jobID uuid.UUID) (*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	m, ok := s.models[modelID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if other := s.modelForJobLocked(jobID); other != nil && other.ID != modelID {
		return nil, store.ErrDuplicateKey
	}
	m.JobID = &jobID
	m.ModelStatus = models.ModelStatusGenerating
	m.UpdatedAt = time.Now().UTC()
	return copyModel(m), nil
}

func (s *MemoryStore) DeleteModel(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.models, id)
	return nil
}
