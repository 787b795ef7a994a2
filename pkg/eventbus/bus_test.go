package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/provenanceagent/proof-agent/pkg/task"
)

func TestSubscriberReceivesEventsInOrder(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("task-1")
	defer unsubscribe()

	b.PublishStatusUpdate("task-1", task.StateRunning, false)
	b.PublishArtifactUpdate("task-1", task.Artifact{ID: "a1"}, true)
	b.PublishStatusUpdate("task-1", task.StateCompleted, true)

	ev1 := <-ch
	require.Equal(t, KindStatusUpdate, ev1.Kind)
	require.Equal(t, task.StateRunning, ev1.Status)

	ev2 := <-ch
	require.Equal(t, KindArtifactUpdate, ev2.Kind)
	require.Equal(t, "a1", ev2.Artifact.ID)

	ev3 := <-ch
	require.Equal(t, KindStatusUpdate, ev3.Kind)
	require.True(t, ev3.Final)

	_, open := <-ch
	require.False(t, open)
}

func TestUnsubscribedTopicDropsEventsSilently(t *testing.T) {
	b := New()
	b.PublishStatusUpdate("no-subscriber", task.StateRunning, false)
}

func TestLateSubscriberMissesPriorEvents(t *testing.T) {
	b := New()
	b.PublishStatusUpdate("task-2", task.StateRunning, false)

	ch, unsubscribe := b.Subscribe("task-2")
	defer unsubscribe()

	select {
	case <-ch:
		t.Fatal("expected no buffered event for a late subscriber")
	case <-time.After(20 * time.Millisecond):
	}
}
