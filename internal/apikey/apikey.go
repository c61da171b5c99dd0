// Package apikey generates and verifies tenant API keys. Only bcrypt hashes are
// stored; the first LookupLen characters of the raw key index the hash.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	Prefix    = "mg_"
	LookupLen = 8
	// bcrypt rejects inputs above 72 bytes.
	maxRawLen = 72
)

var ErrInvalidKey = errors.New("invalid api key")

// Generate returns a fresh raw key: Prefix followed by 48 hex characters.
func Generate() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return Prefix + hex.EncodeToString(buf), nil
}

// LookupPrefix returns the index prefix of a raw key.
func LookupPrefix(raw string) (string, error) {
	if len(raw) < LookupLen || len(raw) > maxRawLen {
		return "", ErrInvalidKey
	}
	return raw[:LookupLen], nil
}

// New hashes raw and builds the record to persist for it.
func New(raw string, tenantID uuid.UUID, name string, scopes []string) (*models.APIKey, error) {
	prefix, err := LookupPrefix(raw)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}

	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: prefix,
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Matches reports whether raw is the key behind the stored hash.
func Matches(key *models.APIKey, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)) == nil
}

// ValidScope reports whether s is a known scope.
func ValidScope(s string) bool {
	switch strings.TrimSpace(s) {
	case models.ScopeRead, models.ScopeGenerate, models.ScopeAdmin:
		return true
	}
	return false
}
