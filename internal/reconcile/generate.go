package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/internal/store"
	"github.com/kiranshivaraju/meshgen/pkg/models"
)

// StartGeneration submits a model's images to the provider and links the new
// job to the model. Nothing is persisted if the provider rejects the task.
func (r *Reconciler) StartGeneration(ctx context.Context, ownerID, modelID uuid.UUID) (*Result, error) {
	m, err := r.models.GetModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if m.OwnerID != ownerID {
		return nil, fmt.Errorf("load model: %w", store.ErrNotFound)
	}
	if !m.CanStartGeneration() {
		return nil, fmt.Errorf("%w: status %s", ErrModelNotReady, m.ModelStatus)
	}
	if len(m.ImageURLs) == 0 {
		return nil, ErrNoImages
	}

	externalID, err := r.provider.CreateTask(ctx, m.ImageURLs, r.webhookURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTaskCreation, err)
	}

	now := r.clock()
	job := &models.Job{
		ID:            uuid.New(),
		ExternalJobID: externalID,
		OwnerID:       ownerID,
		APIStatus:     models.APIStatusQueued,
		Progress:      0,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(r.jobTTL),
	}
	if err := r.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	m, err = r.models.AttachJob(ctx, modelID, job.ID)
	if err != nil {
		return nil, fmt.Errorf("attach job to model: %w", err)
	}

	slog.Info("generation started",
		"model_id", m.ID,
		"job_id", job.ID,
		"external_job_id", job.ExternalJobID,
		"owner_id", ownerID,
	)
	return &Result{Job: job, Model: m}, nil
}
