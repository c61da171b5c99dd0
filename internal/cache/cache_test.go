package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/meshgen/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return rc
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("mg_" + uuid.NewString()[:5])

	for want := int64(1); want <= 3; want++ {
		val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, val)
	}
}

func TestIncrWithExpiry_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:expiry:" + uuid.NewString()[:8]

	_, err := rc.IncrWithExpiry(ctx, key, 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

// --- Leases ---

func TestTryLock_Exclusive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RefreshLockKey("all")

	token, ok, err := rc.TryLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = rc.TryLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire the lease")

	require.NoError(t, rc.Release(ctx, key, token))

	_, ok, err = rc.TryLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRelease_WrongTokenKeepsLease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.PollLockKey(uuid.New())

	_, ok, err := rc.TryLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, rc.Release(ctx, key, "someone-else"))

	_, ok, err = rc.TryLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryLock_ExpiresWithTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.RefreshLockKey(uuid.NewString())

	_, ok, err := rc.TryLock(ctx, key, 1*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(1500 * time.Millisecond)

	_, ok, err = rc.TryLock(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- Cache Key Builders ---

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:mg_abcd1", cache.RateLimitKey("mg_abcd1"))
}

func TestRefreshLockKey(t *testing.T) {
	assert.Equal(t, "refresh:lock:all", cache.RefreshLockKey("all"))
}

func TestPollLockKey(t *testing.T) {
	jobID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	assert.Equal(t, "job:poll:22222222-2222-2222-2222-222222222222", cache.PollLockKey(jobID))
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	id := uuid.New()
	keys := map[string]bool{
		cache.RateLimitKey(id.String()):   true,
		cache.RefreshLockKey(id.String()): true,
		cache.PollLockKey(id):             true,
	}
	assert.Len(t, keys, 3, "all keys should be unique")
}
