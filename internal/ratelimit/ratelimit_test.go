package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpRateLimiter(t *testing.T) {
	limiter := &NoOpRateLimiter{}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, err := limiter.Allow(ctx, "masking")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.NoError(t, limiter.Close())
}

func TestNewRedisRateLimiter_BadURL(t *testing.T) {
	_, err := NewRedisRateLimiter("not-a-url", 10, time.Minute)
	require.Error(t, err)
}

func TestRedisRateLimiter_EnforcesLimit(t *testing.T) {
	mr := miniredis.RunT(t)

	limiter, err := NewRedisRateLimiter("redis://"+mr.Addr(), 3, time.Minute)
	require.NoError(t, err)
	defer limiter.Close()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "masking")
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should be admitted", i+1)
	}

	allowed, err := limiter.Allow(ctx, "masking")
	require.NoError(t, err)
	assert.False(t, allowed, "call over the limit must be rejected")
}

func TestRedisRateLimiter_WindowSlides(t *testing.T) {
	mr := miniredis.RunT(t)

	limiter, err := NewRedisRateLimiter("redis://"+mr.Addr(), 1, 50*time.Millisecond)
	require.NoError(t, err)
	defer limiter.Close()

	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "masking")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "masking")
	require.NoError(t, err)
	require.False(t, allowed)

	// After the window passes, capacity is available again.
	time.Sleep(60 * time.Millisecond)
	allowed, err = limiter.Allow(ctx, "masking")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisRateLimiter_KeysAreIndependent(t *testing.T) {
	mr := miniredis.RunT(t)

	limiter, err := NewRedisRateLimiter("redis://"+mr.Addr(), 1, time.Minute)
	require.NoError(t, err)
	defer limiter.Close()

	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "masking")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "other")
	require.NoError(t, err)
	assert.True(t, allowed)
}
