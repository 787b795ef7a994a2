// Package payment implements the payment-record lifecycle: record, index by
// task and by status, and the pending->settled / pending->refunded
// transitions that must be serialized per payment id.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/provenanceagent/proof-agent/pkg/apierr"
	"github.com/provenanceagent/proof-agent/pkg/kv"
)

// Status is one of the three lifecycle states a Record may occupy.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSettled  Status = "settled"
	StatusRefunded Status = "refunded"
)

// Record is a single payment's lifecycle state.
type Record struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"taskId"`
	PayerAddress string    `json:"payerAddress"`
	Amount       string    `json:"amount"`
	Network      string    `json:"network"`
	Status       Status    `json:"status"`
	RefundReason string    `json:"refundReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Facilitator records and transitions payments in the kv store.
type Facilitator struct {
	store kv.Store
	ttl   time.Duration
}

func New(store kv.Store, ttl time.Duration) *Facilitator {
	return &Facilitator{store: store, ttl: ttl}
}

func recordKey(id string) string         { return "payment:" + id }
func taskIndexKey(taskID string) string   { return "payment:task:" + taskID }
func statusSetKey(status Status) string  { return "payment:status:" + string(status) }

// Record creates a fresh payment in status pending, indexed by task id and
// added to the pending status set. The record and the task index carry the
// facilitator's TTL; the status set is given no TTL, and List skips ids
// whose record has expired.
func (f *Facilitator) Record(ctx context.Context, taskID, payer, amount, network string) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		PayerAddress: payer,
		Amount:       amount,
		Network:      network,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := f.write(ctx, rec); err != nil {
		return nil, err
	}
	if err := f.store.Set(ctx, taskIndexKey(taskID), rec.ID, f.ttl); err != nil {
		return nil, fmt.Errorf("payment: index by task: %w", err)
	}
	if err := f.store.SetAdd(ctx, statusSetKey(StatusPending), rec.ID); err != nil {
		return nil, fmt.Errorf("payment: add to pending set: %w", err)
	}
	return rec, nil
}

func (f *Facilitator) write(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("payment: marshal record: %w", err)
	}
	if err := f.store.Set(ctx, recordKey(rec.ID), string(raw), f.ttl); err != nil {
		return fmt.Errorf("payment: write record: %w", err)
	}
	return nil
}

// Get loads a Record by id.
func (f *Facilitator) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := f.store.Get(ctx, recordKey(id))
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, apierr.NotFound("payment %s not found", id)
		}
		return nil, fmt.Errorf("payment: get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("payment: unmarshal: %w", err)
	}
	return &rec, nil
}

// GetByTask looks up the payment record associated with a task, if any.
func (f *Facilitator) GetByTask(ctx context.Context, taskID string) (*Record, error) {
	id, err := f.store.Get(ctx, taskIndexKey(taskID))
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, apierr.NotFound("no payment for task %s", taskID)
		}
		return nil, fmt.Errorf("payment: task index lookup: %w", err)
	}
	return f.Get(ctx, id)
}

// transition moves a Record from pending to target, failing with
// InvalidTransition if the record is not currently pending. The caller is
// responsible for serializing concurrent transitions on the same id (the
// kv store's per-key atomicity on Set/SetAdd/SetRemove is the only
// concurrency guard this type relies on; a backing store offering
// compare-and-set could remove the narrow TOCTOU window between Get and
// write, at the cost of the simpler read-modify-write shown here).
func (f *Facilitator) transition(ctx context.Context, id string, target Status, reason string) (*Record, error) {
	rec, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, apierr.InvalidState("payment %s is %s, cannot transition to %s", id, rec.Status, target)
	}

	rec.Status = target
	rec.UpdatedAt = time.Now().UTC()
	if target == StatusRefunded {
		rec.RefundReason = reason
	}

	if err := f.write(ctx, rec); err != nil {
		return nil, err
	}
	if err := f.store.SetRemove(ctx, statusSetKey(StatusPending), id); err != nil {
		return nil, fmt.Errorf("payment: remove from pending set: %w", err)
	}
	if err := f.store.SetAdd(ctx, statusSetKey(target), id); err != nil {
		return nil, fmt.Errorf("payment: add to %s set: %w", target, err)
	}
	return rec, nil
}

// Settle transitions a pending payment to settled.
func (f *Facilitator) Settle(ctx context.Context, id string) (*Record, error) {
	return f.transition(ctx, id, StatusSettled, "")
}

// Refund transitions a pending payment to refunded, recording reason.
func (f *Facilitator) Refund(ctx context.Context, id, reason string) (*Record, error) {
	return f.transition(ctx, id, StatusRefunded, reason)
}

// ListFilter selects which status set(s) List unions.
type ListFilter struct {
	Status Status // empty means all three
}

// List unions the requested status set(s) and loads each Record.
func (f *Facilitator) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	statuses := []Status{StatusPending, StatusSettled, StatusRefunded}
	if filter.Status != "" {
		statuses = []Status{filter.Status}
	}

	var records []*Record
	for _, status := range statuses {
		ids, err := f.store.SetMembers(ctx, statusSetKey(status))
		if err != nil {
			return nil, fmt.Errorf("payment: list %s: %w", status, err)
		}
		for _, id := range ids {
			rec, err := f.Get(ctx, id)
			if err != nil {
				continue // index drift (expired record); skip rather than fail the whole list
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// Pending returns all payments currently in StatusPending, used by the
// settlement worker's sweep.
func (f *Facilitator) Pending(ctx context.Context) ([]*Record, error) {
	return f.List(ctx, ListFilter{Status: StatusPending})
}
