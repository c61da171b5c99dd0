// Package mock provides an in-memory cache.Cache for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/internal/cache"
)

type entry struct {
	value     string
	count     int64
	expiresAt time.Time
}

// MemoryCache satisfies cache.Cache with process-local state.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time

	// Err, when set, is returned by every operation.
	Err error
}

var _ cache.Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*entry), now: time.Now}
}

func (c *MemoryCache) live(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return e
}

func (c *MemoryCache) Ping(_ context.Context) error {
	return c.Err
}

func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	e := c.live(key)
	if e == nil {
		e = &entry{}
		c.entries[key] = e
	}
	e.count++
	e.expiresAt = c.now().Add(expiry)
	return e.count, nil
}

func (c *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return "", false, c.Err
	}
	if c.live(key) != nil {
		return "", false, nil
	}
	token := uuid.NewString()
	c.entries[key] = &entry{value: token, expiresAt: c.now().Add(ttl)}
	return token, true, nil
}

func (c *MemoryCache) Release(_ context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if e := c.live(key); e != nil && e.value == token {
		delete(c.entries, key)
	}
	return nil
}

// Held reports whether key currently holds a live lease.
func (c *MemoryCache) Held(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live(key) != nil
}
