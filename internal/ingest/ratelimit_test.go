package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceLimiter_BurstThenThrottle(t *testing.T) {
	limiter := NewSourceLimiter(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, limiter.Allow("10.0.0.1"))

	// Another source has its own bucket.
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func newProjectLimiter(t *testing.T, max int64, window time.Duration) (*ProjectLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewProjectLimiter(client, max, window), mr
}

func TestProjectLimiter_CapsWindow(t *testing.T) {
	limiter, _ := newProjectLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "web")
		require.NoError(t, err)
		assert.True(t, ok, "delivery %d under cap", i)
	}

	ok, err := limiter.Allow(ctx, "web")
	require.NoError(t, err)
	assert.False(t, ok)

	// Projects do not share a window.
	ok, err = limiter.Allow(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProjectLimiter_WindowResets(t *testing.T) {
	limiter, mr := newProjectLimiter(t, 1, time.Minute)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "web")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, "web")
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = limiter.Allow(ctx, "web")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProjectLimiter_FailsOpen(t *testing.T) {
	limiter, mr := newProjectLimiter(t, 1, time.Minute)
	mr.Close()

	ok, err := limiter.Allow(context.Background(), "web")
	assert.Error(t, err)
	assert.True(t, ok)
}
