package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/internal/store"
	"github.com/kiranshivaraju/meshgen/internal/store/mock"
	"github.com/kiranshivaraju/meshgen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(owner uuid.UUID, ext string, expiresIn time.Duration) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID: uuid.New(), ExternalJobID: ext, OwnerID: owner, APIStatus: models.APIStatusQueued,
		CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(expiresIn),
	}
}

func TestMemoryStore_TerminalGuard(t *testing.T) {
	s := mock.NewMemoryStore()
	ctx := context.Background()
	job := newJob(uuid.New(), "ext-1", time.Hour)
	require.NoError(t, s.CreateJob(ctx, job))

	_, err := s.UpdateJobStatus(ctx, job.ID, models.APIStatusSucceeded, store.WithProgress(100))
	require.NoError(t, err)

	_, err = s.UpdateJobStatus(ctx, job.ID, models.APIStatusFailed)
	assert.ErrorIs(t, err, store.ErrJobTerminal)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.APIStatusSucceeded, got.APIStatus)
	assert.Equal(t, 100, got.Progress)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := mock.NewMemoryStore()
	ctx := context.Background()
	job := newJob(uuid.New(), "ext-copy", time.Hour)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	got.APIStatus = models.APIStatusFailed

	again, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.APIStatusQueued, again.APIStatus)
}

func TestMemoryStore_DuplicateExternalID(t *testing.T) {
	s := mock.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateJob(ctx, newJob(uuid.New(), "ext-dup", time.Hour)))
	assert.ErrorIs(t, s.CreateJob(ctx, newJob(uuid.New(), "ext-dup", time.Hour)), store.ErrDuplicateKey)
}

func TestMemoryStore_Listings(t *testing.T) {
	s := mock.NewMemoryStore()
	ctx := context.Background()
	owner := uuid.New()

	open := newJob(owner, "ext-open", time.Hour)
	expired := newJob(owner, "ext-expired", -time.Minute)
	require.NoError(t, s.CreateJob(ctx, open))
	require.NoError(t, s.CreateJob(ctx, expired))

	refreshable, err := s.ListRefreshableJobs(ctx, store.JobFilter{OwnerID: &owner})
	require.NoError(t, err)
	require.Len(t, refreshable, 1)
	assert.Equal(t, open.ID, refreshable[0].ID)

	expiredJobs, err := s.ListExpiredJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, expiredJobs, 1)
	assert.Equal(t, expired.ID, expiredJobs[0].ID)
}

func TestMemoryStore_InjectedError(t *testing.T) {
	s := mock.NewMemoryStore()
	ctx := context.Background()
	job := newJob(uuid.New(), "ext-err", time.Hour)
	require.NoError(t, s.CreateJob(ctx, job))

	boom := errors.New("db down")
	s.Err = boom
	_, err := s.UpdateJobStatus(ctx, job.ID, models.APIStatusProcessing)
	assert.ErrorIs(t, err, boom)

	_, err = s.GetJob(ctx, job.ID)
	assert.NoError(t, err)
}
