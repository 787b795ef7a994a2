package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/provenanceagent/proof-agent/pkg/kv"
)

func newLimiter(t *testing.T, max int, window time.Duration) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return New(store, "test", max, window)
}

func TestFirstOverLimitRequestIsBlocked(t *testing.T) {
	l := newLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, "alice")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := l.Check(ctx, "alice")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.LessOrEqual(t, res.RetryAfter, time.Minute)
	require.Equal(t, 0, res.Remaining)
}

func TestWindowIsPerKey(t *testing.T) {
	l := newLimiter(t, 1, time.Minute)
	ctx := context.Background()

	res, err := l.Check(ctx, "alice")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Check(ctx, "bob")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}
