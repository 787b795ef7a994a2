package payment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/provenanceagent/proof-agent/pkg/apierr"
	"github.com/provenanceagent/proof-agent/pkg/kv"
)

func newFacilitator(t *testing.T) *Facilitator {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return New(store, time.Hour)
}

func TestRecordAndSettle(t *testing.T) {
	f := newFacilitator(t)
	ctx := context.Background()

	rec, err := f.Record(ctx, "task-1", "0xabc", "1.00", "eip155:84532")
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)

	byTask, err := f.GetByTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, rec.ID, byTask.ID)

	settled, err := f.Settle(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSettled, settled.Status)

	list, err := f.List(ctx, ListFilter{Status: StatusSettled})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, rec.ID, list[0].ID)
}

func TestDoubleSettleFails(t *testing.T) {
	f := newFacilitator(t)
	ctx := context.Background()

	rec, err := f.Record(ctx, "task-2", "0xabc", "1.00", "eip155:84532")
	require.NoError(t, err)

	_, err = f.Settle(ctx, rec.ID)
	require.NoError(t, err)

	_, err = f.Settle(ctx, rec.ID)
	require.Error(t, err)
	require.Equal(t, apierr.KindInvalidState, apierr.KindOf(err))

	_, err = f.Refund(ctx, rec.ID, "too late")
	require.Error(t, err)
}

func TestRefundRecordsReason(t *testing.T) {
	f := newFacilitator(t)
	ctx := context.Background()

	rec, err := f.Record(ctx, "task-3", "0xabc", "1.00", "eip155:84532")
	require.NoError(t, err)

	refunded, err := f.Refund(ctx, rec.ID, "duplicate charge")
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, refunded.Status)
	require.Equal(t, "duplicate charge", refunded.RefundReason)
}
