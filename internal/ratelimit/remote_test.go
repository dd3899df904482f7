package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/registrar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteLimiterDisabled(t *testing.T) {
	var cfg config.Config
	limiter := NewRemoteLimiter(cfg, nil)
	assert.Nil(t, limiter)
	assert.NoError(t, limiter.Wait(context.Background(), "tenant"))
}

func TestRemoteLimiterLocalFallback(t *testing.T) {
	var cfg config.Config
	cfg.Xero.RateLimitPerMinute = 60
	limiter := NewRemoteLimiter(cfg, nil)
	require.NotNil(t, limiter)
	assert.Equal(t, 10, limiter.burst)

	ctx := context.Background()
	for i := 0; i < limiter.burst; i++ {
		require.NoError(t, limiter.Wait(ctx, "tenant-a"))
	}
	require.NoError(t, limiter.Wait(ctx, "tenant-b"), "tenants have separate budgets")

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(short, "tenant-a"))
}

func TestNilLockerGrantsLocalLease(t *testing.T) {
	var locker *Locker
	assert.False(t, locker.Enabled())
	lease, err := locker.TryLock(context.Background(), "sync:tenant", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, lease.Token())
	assert.NoError(t, lease.Refresh(context.Background(), time.Minute))
	assert.NoError(t, lease.Release(context.Background()))
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, defaultBucketTTL(1, 10))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 10))
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(3), castToInt(int64(3)))
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, float64(0), castToFloat(nil))
}
