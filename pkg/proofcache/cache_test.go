package proofcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/provenanceagent/proof-agent/pkg/kv"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return New(store, time.Hour)
}

func TestFingerprintIsStableAcrossFieldOrder(t *testing.T) {
	a := Key{CircuitID: "coinbase_attestation", Address: "0x55", Scope: "test"}
	b := Key{Scope: "test", Address: "0x55", CircuitID: "coinbase_attestation"}

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	require.Equal(t, fa, fb)
}

func TestGetMissThenSetThenHit(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	k := Key{CircuitID: "coinbase_attestation", Address: "0x55", Scope: "test"}

	got, err := c.Get(ctx, k)
	require.NoError(t, err)
	require.Nil(t, got)

	result := Result{Proof: "0xaa", PublicInputs: "0xbb"}
	require.NoError(t, c.Set(ctx, k, result))

	got, err = c.Get(ctx, k)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, result, *got)
}

func TestInvalidate(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	k := Key{CircuitID: "c1", Address: "0x1", Scope: "s"}

	require.NoError(t, c.Set(ctx, k, Result{Proof: "0x1"}))
	require.NoError(t, c.Invalidate(ctx, k))

	got, err := c.Get(ctx, k)
	require.NoError(t, err)
	require.Nil(t, got)
}
