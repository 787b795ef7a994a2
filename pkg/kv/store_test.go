package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStoreFromClient(client)
}

func TestGetSetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
}

func TestListPushPop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ListPushLeft(ctx, "q", "a"))
	require.NoError(t, s.ListPushLeft(ctx, "q", "b"))

	v, err := s.ListPopRight(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, "a", v)

	v, err = s.ListPopRight(ctx, "q")
	require.NoError(t, err)
	require.Equal(t, "b", v)

	_, err = s.ListPopRight(ctx, "q")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetAdd(ctx, "pending", "1"))
	require.NoError(t, s.SetAdd(ctx, "pending", "2"))
	require.NoError(t, s.SetRemove(ctx, "pending", "1"))

	members, err := s.SetMembers(ctx, "pending")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"2"}, members)
}

func TestIncrAndTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = s.Incr(ctx, "counter")
	require.NoError(t, err)
	require.Equal(t, int64(2), v)

	require.NoError(t, s.Expire(ctx, "counter", 30*time.Second))
	ttl, err := s.TTL(ctx, "counter")
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}
