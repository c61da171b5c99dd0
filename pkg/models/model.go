package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ModelStatusDraft              = "draft"
	ModelStatusUploadingPhotos    = "uploading_photos"
	ModelStatusRemovingBackground = "removing_background"
	ModelStatusGenerating         = "generating_3d_model"
	ModelStatusCompleted          = "completed"
	ModelStatusFailed             = "failed"
)

// Model is the user-facing 3D model. Its status is coarser than the Job's and is
// derived from it once generation starts.
type Model struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	OwnerID     uuid.UUID  `db:"owner_id"     json:"owner_id"`
	ModelStatus string     `db:"model_status" json:"model_status"`
	JobID       *uuid.UUID `db:"job_id"       json:"job_id,omitempty"`
	ImageURLs   []string   `db:"image_urls"   json:"image_urls"`
	ModelURL    *string    `db:"model_url"    json:"model_url,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}

// CanStartGeneration reports whether the model is still upstream of generation.
func (m *Model) CanStartGeneration() bool {
	switch m.ModelStatus {
	case ModelStatusDraft, ModelStatusUploadingPhotos, ModelStatusRemovingBackground:
		return true
	}
	return false
}
