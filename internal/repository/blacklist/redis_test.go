package blacklist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlacklist(t *testing.T) (*RedisBlacklist, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, ""), mr
}

func TestRevokeAndCheck(t *testing.T) {
	bl, mr := newTestBlacklist(t)
	ctx := context.Background()

	revoked, err := bl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, bl.Revoke(ctx, "jti-1", time.Now().Add(10*time.Minute)))

	revoked, err = bl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.True(t, mr.Exists("bl:jti-1"))

	ttl := mr.TTL("bl:jti-1")
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)
}

func TestRevokeExpiresWithToken(t *testing.T) {
	bl, mr := newTestBlacklist(t)
	ctx := context.Background()

	require.NoError(t, bl.Revoke(ctx, "jti-2", time.Now().Add(time.Minute)))
	mr.FastForward(2 * time.Minute)

	revoked, err := bl.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokePastExpiryKeepsMinimumTTL(t *testing.T) {
	bl, mr := newTestBlacklist(t)
	ctx := context.Background()

	require.NoError(t, bl.Revoke(ctx, "jti-3", time.Now().Add(-time.Hour)))
	assert.Equal(t, minTTL, mr.TTL("bl:jti-3"))
}

func TestRedisDown(t *testing.T) {
	bl, mr := newTestBlacklist(t)
	mr.Close()

	_, err := bl.IsRevoked(context.Background(), "jti")
	assert.ErrorIs(t, err, ErrRedisUnavailable)

	err = bl.Revoke(context.Background(), "jti", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}
