package models

import (
	"time"

	"github.com/google/uuid"
)

// API key scopes.
const (
	ScopeRead     = "read"
	ScopeGenerate = "generate"
	ScopeAdmin    = "admin"
)

// APIKey authenticates a tenant. The raw key is returned once at creation and
// only its bcrypt hash is persisted; KeyPrefix is the lookup index.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	TenantID   uuid.UUID  `db:"tenant_id"    json:"tenant_id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}
