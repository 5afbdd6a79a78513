//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func TestLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient(ctx, startRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	l := NewLimiter(client, 3, time.Minute)
	fixed := time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3-i, res.Remaining)
		assert.Equal(t, time.Date(2026, 5, 1, 12, 1, 0, 0, time.UTC), res.ResetAt)
	}

	res, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)

	other, err := l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	l.now = func() time.Time { return fixed.Add(time.Minute) }
	res, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_KeysExpire(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient(ctx, startRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	l := NewLimiter(client, 10, time.Minute)
	_, err = l.Allow(ctx, "10.0.0.3")
	require.NoError(t, err)

	keys, err := client.Keys(ctx, keyPrefix+"10.0.0.3:*").Result()
	require.NoError(t, err)
	require.Len(t, keys, 1)

	ttl, err := client.TTL(ctx, keys[0]).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute+time.Second)
}
