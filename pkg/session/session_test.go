package session

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

func newStores(t *testing.T) (*Store, kv.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewStore(store, time.Hour), store
}

func TestRequestCannotEnterPaymentBeforeSigning(t *testing.T) {
	s, _ := newStores(t)
	ctx := context.Background()

	req, err := s.Create(ctx, "coinbase_attestation", "test", nil, nil)
	require.NoError(t, err)
	require.Equal(t, PhaseSigning, req.Phase)

	_, err = s.RequestPayment(ctx, req.RequestID, "0.10", "USD", "eip155:84532", "https://pay.example/x")
	require.Error(t, err)
	require.Equal(t, apierr.KindInvalidState, apierr.KindOf(err))
}

func TestSigningThenPaymentAdvancesPhase(t *testing.T) {
	s, _ := newStores(t)
	ctx := context.Background()

	req, err := s.Create(ctx, "coinbase_attestation", "test", nil, nil)
	require.NoError(t, err)

	req, err = s.CompleteSigning(ctx, req.RequestID, "0x55", "0x66", "0x77")
	require.NoError(t, err)
	require.Equal(t, PhasePayment, req.Phase)

	req, err = s.RequestPayment(ctx, req.RequestID, "0.10", "USD", "eip155:84532", "https://pay.example/x")
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/x", req.Payment.PaymentURL)

	req, err = s.CompletePayment(ctx, req.RequestID, "0xdeadbeef")
	require.NoError(t, err)
	require.Equal(t, PhaseReady, req.Phase)
}

func TestFlowAutoAdvancesPastReady(t *testing.T) {
	requests, store := newStores(t)
	ctx := context.Background()

	var enqueued int
	flows := NewFlowStore(store, requests, time.Hour, func(ctx context.Context, req *Request) error {
		enqueued++
		return nil
	})

	flow, err := flows.Create(ctx, "coinbase_attestation", "test", nil, nil)
	require.NoError(t, err)
	require.Equal(t, PhaseSigning, flow.Phase)

	_, err = requests.CompleteSigning(ctx, flow.RequestID, "0x55", "0x66", "0x77")
	require.NoError(t, err)
	_, err = requests.CompletePayment(ctx, flow.RequestID, "0xdead")
	require.NoError(t, err)

	read, err := flows.Read(ctx, flow.FlowID)
	require.NoError(t, err)
	require.NotEqual(t, PhaseSigning, read.Phase)
	require.Equal(t, PhaseGenerating, read.Phase)
	require.Equal(t, 1, enqueued)
}
