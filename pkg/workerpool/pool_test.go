package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/provenanceagent/proof-agent/pkg/eventbus"
	"github.com/provenanceagent/proof-agent/pkg/kv"
	"github.com/provenanceagent/proof-agent/pkg/proofcache"
	"github.com/provenanceagent/proof-agent/pkg/session"
	"github.com/provenanceagent/proof-agent/pkg/skills"
	"github.com/provenanceagent/proof-agent/pkg/task"
)

func newTestPool(t *testing.T) (*Pool, *task.Store, *eventbus.Bus) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	tasks := task.NewStore(store, time.Hour)
	bus := eventbus.New()
	deps := &skills.Deps{
		Tasks:    tasks,
		Requests: session.NewStore(store, time.Hour),
		Cache:    proofcache.New(store, time.Hour),
	}
	pool := New(tasks, bus, deps, 1, 10*time.Millisecond, nil)
	return pool, tasks, bus
}

func TestPollOnceProcessesQueuedTaskToCompletion(t *testing.T) {
	pool, tasks, bus := newTestPool(t)
	ctx := context.Background()

	events, unsubscribe := bus.Subscribe("task-1")
	defer unsubscribe()

	tk := task.New("task-1", "ctx-1", "get_supported_circuits", map[string]interface{}{})
	require.NoError(t, tasks.Create(ctx, tk))

	pool.pollOnce(ctx)

	loaded, err := tasks.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, task.StateCompleted, loaded.Status)
	require.Len(t, loaded.Artifacts, 1)

	var kinds []eventbus.EventKind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	require.Contains(t, kinds, eventbus.KindStatusUpdate)
	require.Contains(t, kinds, eventbus.KindArtifactUpdate)
	// The bus ends a task's stream at its final status update, so the
	// TaskComplete published after it never reaches this subscriber.
	require.Equal(t, []eventbus.EventKind{eventbus.KindStatusUpdate, eventbus.KindArtifactUpdate, eventbus.KindStatusUpdate}, kinds)
	_, open := <-events
	require.False(t, open)
}

func TestPollOnceSkipsTaskAlreadyInFlight(t *testing.T) {
	pool, tasks, _ := newTestPool(t)
	ctx := context.Background()

	tk := task.New("task-2", "ctx-1", "get_supported_circuits", map[string]interface{}{})
	require.NoError(t, tasks.Create(ctx, tk))

	pool.mu.Lock()
	pool.processing["task-2"] = struct{}{}
	pool.mu.Unlock()

	pool.pollOnce(ctx)

	loaded, err := tasks.GetTask(ctx, "task-2")
	require.NoError(t, err)
	require.Equal(t, task.StateQueued, loaded.Status, "a task already marked in-flight must not be reprocessed")
}

func TestPollOnceSkipsTaskCanceledBetweenEnqueueAndDequeue(t *testing.T) {
	pool, tasks, _ := newTestPool(t)
	ctx := context.Background()

	tk := task.New("task-3", "ctx-1", "get_supported_circuits", map[string]interface{}{})
	require.NoError(t, tasks.Create(ctx, tk))
	_, err := tasks.Cancel(ctx, "task-3")
	require.NoError(t, err)

	pool.pollOnce(ctx)

	loaded, err := tasks.GetTask(ctx, "task-3")
	require.NoError(t, err)
	require.Equal(t, task.StateCanceled, loaded.Status)
	require.Empty(t, loaded.Artifacts)
}
