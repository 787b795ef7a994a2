package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/provenanceagent/proof-agent/pkg/apierr"
	"github.com/provenanceagent/proof-agent/pkg/kv"
)

const (
	submittedQueueKey = "a2a:queue:submitted"
	defaultTaskTTL     = 24 * time.Hour
)

func taskKey(id string) string    { return "task:" + id }
func contextKey(id string) string { return "context:" + id }

// Store persists task JSON and the context->requestId mapping described in
// the data model, and exposes the submitted-task queue consumed by the
// worker pool.
type Store struct {
	kv  kv.Store
	ttl time.Duration
}

func NewStore(store kv.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTaskTTL
	}
	return &Store{kv: store, ttl: ttl}
}

// Create persists a new task and enqueues its id for the worker pool.
func (s *Store) Create(ctx context.Context, t *Task) error {
	if err := s.write(ctx, t); err != nil {
		return err
	}
	if err := s.kv.ListPushLeft(ctx, submittedQueueKey, t.ID); err != nil {
		return fmt.Errorf("task store: enqueue %s: %w", t.ID, err)
	}
	return nil
}

// Dequeue pops the next submitted task id, or ("", false) if the queue is empty.
func (s *Store) Dequeue(ctx context.Context) (string, bool, error) {
	id, err := s.kv.ListPopRight(ctx, submittedQueueKey)
	if err != nil {
		if err == kv.ErrNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("task store: dequeue: %w", err)
	}
	return id, true, nil
}

// GetTask loads a task by id, returning apierr.NotFound if absent.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	raw, err := s.kv.Get(ctx, taskKey(id))
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, apierr.NotFound("task %s not found", id)
		}
		return nil, fmt.Errorf("task store: get %s: %w", id, err)
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("task store: decode %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) write(ctx context.Context, t *Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("task store: encode %s: %w", t.ID, err)
	}
	if err := s.kv.Set(ctx, taskKey(t.ID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("task store: write %s: %w", t.ID, err)
	}
	return nil
}

// UpdateStatus transitions a task to newState, appending msg (if non-nil) to
// its history. Terminal states are refused a further transition.
func (s *Store) UpdateStatus(ctx context.Context, id string, newState State, msg *StatusMessage) (*Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, apierr.InvalidState("task %s is already in terminal state %s", id, t.Status)
	}
	t.Status = newState
	t.UpdatedAt = time.Now()
	if msg != nil {
		t.History = append(t.History, *msg)
	}
	if err := s.write(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddArtifact appends an artifact to a task, once-written and never mutated
// afterward by any other caller.
func (s *Store) AddArtifact(ctx context.Context, id string, a Artifact) (*Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Artifacts = append(t.Artifacts, a)
	t.UpdatedAt = time.Now()
	if err := s.write(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Cancel transitions a queued task to canceled; a racing worker observes this
// on its post-dequeue state check and drops the task.
func (s *Store) Cancel(ctx context.Context, id string) (*Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StateQueued && t.Status != StateRunning {
		return nil, apierr.InvalidState("task %s cannot be canceled from state %s", id, t.Status)
	}
	t.Status = StateCanceled
	t.UpdatedAt = time.Now()
	if err := s.write(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// SetContextFlow records the requestId created by the first request_signing
// call within a context, for later auto-fill.
func (s *Store) SetContextFlow(ctx context.Context, contextID, requestID string, ttl time.Duration) error {
	if err := s.kv.Set(ctx, contextKey(contextID), requestID, ttl); err != nil {
		return fmt.Errorf("task store: set context flow %s: %w", contextID, err)
	}
	return nil
}

// GetContextFlow returns the requestId bound to a context, if any.
func (s *Store) GetContextFlow(ctx context.Context, contextID string) (string, bool, error) {
	raw, err := s.kv.Get(ctx, contextKey(contextID))
	if err != nil {
		if err == kv.ErrNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("task store: get context flow %s: %w", contextID, err)
	}
	return raw, true, nil
}
