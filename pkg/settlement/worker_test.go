package settlement

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/provenanceagent/proof-agent/pkg/kv"
	"github.com/provenanceagent/proof-agent/pkg/payment"
)

func TestSweepRetriesThenSkipsAfterThreeFailures(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	facilitator := payment.New(store, time.Hour)

	ctx := context.Background()
	rec, err := facilitator.Record(ctx, "task-1", "0xabc", "1.00", "eip155:84532")
	require.NoError(t, err)

	var attempts int32
	alwaysFails := func(ctx context.Context, to common.Address, amountUSDC int64) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("reverted")
	}

	w := NewWorker(facilitator, alwaysFails, time.Hour, nil)

	for i := 0; i < 4; i++ {
		w.Sweep(ctx)
	}

	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	rec2, err := facilitator.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StatusPending, rec2.Status)
}

func TestSweepSettlesOnSuccess(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	facilitator := payment.New(store, time.Hour)

	ctx := context.Background()
	rec, err := facilitator.Record(ctx, "task-1", "0xabc", "1.00", "eip155:84532")
	require.NoError(t, err)

	succeeds := func(ctx context.Context, to common.Address, amountUSDC int64) error {
		return nil
	}
	w := NewWorker(facilitator, succeeds, time.Hour, nil)
	w.Sweep(ctx)

	rec2, err := facilitator.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StatusSettled, rec2.Status)
}
