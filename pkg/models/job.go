package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider-native job statuses. These are stored verbatim in Job.APIStatus; the
// provider may report values outside this set (e.g. "starting").
const (
	APIStatusQueued     = "queued"
	APIStatusProcessing = "processing"
	APIStatusSucceeded  = "succeeded"
	APIStatusFailed     = "failed"
	APIStatusCanceled   = "canceled"
)

// ErrMessageJobExpired is written to Job.ErrorMessage when a job is force-failed past its expiry.
const ErrMessageJobExpired = "Job expired"

// Job tracks one invocation of the external 3D generation provider. The provider
// assigns ExternalJobID; everything else is owned by this system.
type Job struct {
	ID            uuid.UUID `db:"id"              json:"id"`
	ExternalJobID string    `db:"external_job_id" json:"external_job_id"`
	OwnerID       uuid.UUID `db:"owner_id"        json:"owner_id"`
	APIStatus     string    `db:"api_status"      json:"api_status"`
	Progress      int       `db:"progress"        json:"progress"`
	ModelURL      *string   `db:"model_url"       json:"model_url,omitempty"`
	ErrorMessage  *string   `db:"error_message"   json:"error_message,omitempty"`
	CreatedAt     time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"      json:"updated_at"`
	ExpiresAt     time.Time `db:"expires_at"      json:"expires_at"`
}

// IsTerminalAPIStatus reports whether a provider-native status is final.
func IsTerminalAPIStatus(status string) bool {
	switch status {
	case APIStatusSucceeded, APIStatusFailed, APIStatusCanceled:
		return true
	}
	return false
}

// TerminalAPIStatuses lists the final provider-native statuses.
func TerminalAPIStatuses() []string {
	return []string{APIStatusSucceeded, APIStatusFailed, APIStatusCanceled}
}

func (j *Job) IsTerminal() bool { return IsTerminalAPIStatus(j.APIStatus) }

// IsExpired reports whether now is past the job's fixed expiry.
func (j *Job) IsExpired(now time.Time) bool { return now.After(j.ExpiresAt) }
