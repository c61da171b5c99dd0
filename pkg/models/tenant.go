// Package models contains shared data models used across the meshgen codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the principal that owns jobs and models. API keys authenticate as a tenant.
type Tenant struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
