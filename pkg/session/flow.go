package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/provenanceagent/proof-agent/pkg/apierr"
	"github.com/provenanceagent/proof-agent/pkg/kv"
)

// Flow is a higher-level projection over a Request that auto-advances on
// each read: ready -> generating is taken the first time a Flow is read
// after both signing and payment prerequisites are satisfied.
type Flow struct {
	FlowID    string `json:"flowId"`
	RequestID string `json:"requestId"`
	Phase     Phase  `json:"phase"`
}

func flowKey(id string) string { return "flow:" + id }

// FlowStore persists Flow JSON and triggers generate_proof enqueueing on the
// ready->generating auto-advance.
type FlowStore struct {
	kv       kv.Store
	requests *Store
	ttl      time.Duration
	// enqueueGenerate is invoked exactly once, the first time a flow is read
	// with phase=ready; it must itself be idempotent if retried.
	enqueueGenerate func(ctx context.Context, req *Request) error
}

func NewFlowStore(store kv.Store, requests *Store, ttl time.Duration, enqueueGenerate func(context.Context, *Request) error) *FlowStore {
	return &FlowStore{kv: store, requests: requests, ttl: ttl, enqueueGenerate: enqueueGenerate}
}

// Create starts a Flow over a freshly created Request.
func (fs *FlowStore) Create(ctx context.Context, circuitID, scope string, countryList []string, isIncluded *bool) (*Flow, error) {
	req, err := fs.requests.Create(ctx, circuitID, scope, countryList, isIncluded)
	if err != nil {
		return nil, err
	}
	flow := &Flow{FlowID: uuid.NewString(), RequestID: req.RequestID, Phase: req.Phase}
	if err := fs.write(ctx, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

func (fs *FlowStore) write(ctx context.Context, flow *Flow) error {
	raw, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("session: marshal flow: %w", err)
	}
	if err := fs.kv.Set(ctx, flowKey(flow.FlowID), string(raw), fs.ttl); err != nil {
		return fmt.Errorf("session: write flow: %w", err)
	}
	return nil
}

func (fs *FlowStore) load(ctx context.Context, id string) (*Flow, error) {
	raw, err := fs.kv.Get(ctx, flowKey(id))
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, apierr.NotFound("flow %s not found", id)
		}
		return nil, fmt.Errorf("session: get flow: %w", err)
	}
	var flow Flow
	if err := json.Unmarshal([]byte(raw), &flow); err != nil {
		return nil, fmt.Errorf("session: unmarshal flow: %w", err)
	}
	return &flow, nil
}

// Read returns the current phase, performing the ready->generating
// auto-advance when both prerequisites are satisfied and it has not already
// been taken for this flow.
func (fs *FlowStore) Read(ctx context.Context, id string) (*Flow, error) {
	flow, err := fs.load(ctx, id)
	if err != nil {
		return nil, err
	}

	req, err := fs.requests.Get(ctx, flow.RequestID)
	if err != nil {
		return nil, err
	}

	// Mirror the request's terminal/payment/generating phases onto the flow.
	if req.Phase != flow.Phase {
		flow.Phase = req.Phase
	}

	if flow.Phase == PhaseReady {
		if err := fs.enqueueGenerate(ctx, req); err != nil {
			return nil, fmt.Errorf("session: enqueue generate_proof: %w", err)
		}
		if _, err := fs.requests.AdvancePhase(ctx, req.RequestID, PhaseGenerating); err != nil {
			return nil, err
		}
		flow.Phase = PhaseGenerating
	}

	if err := fs.write(ctx, flow); err != nil {
		return nil, err
	}
	return flow, nil
}
