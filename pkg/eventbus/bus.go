// Package eventbus is an in-process publish/subscribe bus keyed by TaskId.
// It owns no durable state: late subscribers miss prior events, and the bus
// makes no delivery guarantees beyond per-task ordering.
package eventbus

import (
	"sync"

	"github.com/provenanceagent/proof-agent/pkg/task"
)

// EventKind distinguishes the three event shapes the worker pool emits.
type EventKind string

const (
	KindStatusUpdate   EventKind = "status_update"
	KindArtifactUpdate EventKind = "artifact_update"
	KindTaskComplete   EventKind = "task_complete"
)

// Event is the envelope delivered to subscribers of a task's channel.
type Event struct {
	Kind     EventKind
	TaskID   string
	Status   task.State
	Final    bool
	Artifact *task.Artifact
	LastChunk bool
	Task     *task.Task
}

const subscriberBufferSize = 64

// subscriber owns a bounded, drop-oldest-on-overflow channel.
type subscriber struct {
	ch chan Event
}

// Bus is a per-task fan-out of Events to zero or more subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
}

func New() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Subscribe registers a new listener for taskID and returns a channel that
// receives every subsequent event for that task, closed once a final status
// or TaskComplete event has been delivered.
func (b *Bus) Subscribe(taskID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBufferSize)}

	b.mu.Lock()
	b.subs[taskID] = append(b.subs[taskID], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[taskID]
		for i, s := range list {
			if s == sub {
				b.subs[taskID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[taskID]) == 0 {
			delete(b.subs, taskID)
		}
	}
	return sub.ch, unsubscribe
}

// publish fans out an event to every current subscriber of its task,
// dropping the oldest buffered event rather than blocking the producer.
func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	subs := append([]*subscriber(nil), b.subs[ev.TaskID]...)
	isEnd := ev.Kind == KindTaskComplete || (ev.Kind == KindStatusUpdate && ev.Final)
	if isEnd {
		delete(b.subs, ev.TaskID)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
		if isEnd {
			close(sub.ch)
		}
	}
}

// PublishStatusUpdate emits a StatusUpdate event.
func (b *Bus) PublishStatusUpdate(taskID string, status task.State, final bool) {
	b.publish(Event{Kind: KindStatusUpdate, TaskID: taskID, Status: status, Final: final})
}

// PublishArtifactUpdate emits an ArtifactUpdate event.
func (b *Bus) PublishArtifactUpdate(taskID string, artifact task.Artifact, lastChunk bool) {
	b.publish(Event{Kind: KindArtifactUpdate, TaskID: taskID, Artifact: &artifact, LastChunk: lastChunk})
}

// PublishTaskComplete emits the terminal TaskComplete event.
func (b *Bus) PublishTaskComplete(t *task.Task) {
	b.publish(Event{Kind: KindTaskComplete, TaskID: t.ID, Task: t})
}
