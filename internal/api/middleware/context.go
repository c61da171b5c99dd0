package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/google/uuid"
)

type contextKey string

const (
	ownerIDKey      contextKey = "owner_id"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

// SetOwnerID stores the authenticated tenant. Jobs and models are owned by it.
func SetOwnerID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerIDKey, id)
}

func GetOwnerID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(ownerIDKey).(uuid.UUID)
	return id, ok
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// SetScopes is used by auth and by handler tests that skip auth.
func SetScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// HasScope reports whether the request's key carries scope. admin implies all.
func HasScope(r *http.Request, scope string) bool {
	scopes := getScopes(r)
	return slices.Contains(scopes, scope) || slices.Contains(scopes, "admin")
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
