package task

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

func newStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewStore(store, time.Hour)
}

func TestCreateEnqueuesAndPersists(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tk := New("task-1", "ctx-1", "generate_proof", map[string]interface{}{"circuitId": "coinbase_attestation"})
	require.NoError(t, s.Create(ctx, tk))

	id, ok, err := s.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "task-1", id)

	loaded, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, StateQueued, loaded.Status)
}

func TestUpdateStatusRefusesTerminalTransition(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tk := New("task-2", "ctx-1", "generate_proof", nil)
	require.NoError(t, s.Create(ctx, tk))

	_, err := s.UpdateStatus(ctx, "task-2", StateCompleted, nil)
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, "task-2", StateFailed, nil)
	require.Error(t, err)
	require.Equal(t, apierr.KindInvalidState, apierr.KindOf(err))
}

func TestAddArtifactAppendsToTask(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tk := New("task-3", "ctx-1", "generate_proof", nil)
	require.NoError(t, s.Create(ctx, tk))

	artifact := Artifact{ID: "artifact-1", MimeType: "application/json", Parts: []Part{TextPart("hello")}}
	_, err := s.AddArtifact(ctx, "task-3", artifact)
	require.NoError(t, err)

	loaded, err := s.GetTask(ctx, "task-3")
	require.NoError(t, err)
	require.Len(t, loaded.Artifacts, 1)
	require.Equal(t, artifact, loaded.Artifacts[len(loaded.Artifacts)-1])
}

func TestContextFlowRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetContextFlow(ctx, "ctx-1", "req-1", time.Hour))

	reqID, ok, err := s.GetContextFlow(ctx, "ctx-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "req-1", reqID)
}

func TestCancelQueuedTask(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tk := New("task-4", "ctx-1", "generate_proof", nil)
	require.NoError(t, s.Create(ctx, tk))

	canceled, err := s.Cancel(ctx, "task-4")
	require.NoError(t, err)
	require.Equal(t, StateCanceled, canceled.Status)
}
