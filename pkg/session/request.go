// Package session implements the signing -> payment -> ready lifecycle for
// a single end-user credential flow (the "Request" of the data model),
// along with the Flow projection that auto-advances on read.
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

// Phase is the Request/Flow lifecycle vocabulary.
type Phase string

const (
	PhaseSigning    Phase = "signing"
	PhasePayment    Phase = "payment"
	PhaseReady      Phase = "ready"
	PhaseGenerating Phase = "generating"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// SigningState tracks whether the end user has signed the signal hash.
type SigningState struct {
	Status     string `json:"status"` // "pending" | "completed"
	Address    string `json:"address,omitempty"`
	Signature  string `json:"signature,omitempty"`
	SignalHash string `json:"signalHash,omitempty"`
}

// PaymentState tracks the upstream payment associated with a Request.
type PaymentState struct {
	Status     string `json:"status"` // "pending" | "completed"
	PaymentURL string `json:"paymentUrl,omitempty"`
	TxHash     string `json:"txHash,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Currency   string `json:"currency,omitempty"`
	Network    string `json:"network,omitempty"`
}

// Request is a single end-user credential flow's signing-payment-ready state.
type Request struct {
	RequestID   string       `json:"requestId"`
	CircuitID   string       `json:"circuitId"`
	Scope       string       `json:"scope"`
	CountryList []string     `json:"countryList,omitempty"`
	IsIncluded  *bool        `json:"isIncluded,omitempty"`
	Signing     SigningState `json:"signing"`
	Payment     PaymentState `json:"payment"`
	Phase       Phase        `json:"phase"`
	CreatedAt   time.Time    `json:"createdAt"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

func requestKey(id string) string { return "request:" + id }

// Store persists Request JSON under request:<id> with TTL equal to the
// configured signing TTL, refreshed on every phase advance.
type Store struct {
	kv  kv.Store
	ttl time.Duration
}

func NewStore(store kv.Store, ttl time.Duration) *Store {
	return &Store{kv: store, ttl: ttl}
}

// Create starts a new Request in the signing phase.
func (s *Store) Create(ctx context.Context, circuitID, scope string, countryList []string, isIncluded *bool) (*Request, error) {
	now := time.Now().UTC()
	req := &Request{
		RequestID:   uuid.NewString(),
		CircuitID:   circuitID,
		Scope:       scope,
		CountryList: countryList,
		IsIncluded:  isIncluded,
		Signing:     SigningState{Status: "pending"},
		Payment:     PaymentState{Status: "pending"},
		Phase:       PhaseSigning,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.write(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Store) write(ctx context.Context, req *Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("session: marshal request: %w", err)
	}
	if err := s.kv.Set(ctx, requestKey(req.RequestID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("session: write request: %w", err)
	}
	return nil
}

// Get loads a Request by id.
func (s *Store) Get(ctx context.Context, id string) (*Request, error) {
	raw, err := s.kv.Get(ctx, requestKey(id))
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, apierr.NotFound("request %s not found", id)
		}
		return nil, fmt.Errorf("session: get request: %w", err)
	}
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("session: unmarshal request: %w", err)
	}
	return &req, nil
}

// CompleteSigning records a completed signature and advances to the payment
// phase (a Request cannot enter payment before signing completes).
func (s *Store) CompleteSigning(ctx context.Context, id, address, signature, signalHash string) (*Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Signing = SigningState{Status: "completed", Address: address, Signature: signature, SignalHash: signalHash}
	req.Phase = PhasePayment
	if err := s.write(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// RequestPayment attaches payment details to a Request still awaiting
// payment. Returns InvalidState if signing has not completed, and is
// idempotent once payment has already completed.
func (s *Store) RequestPayment(ctx context.Context, id string, amount, currency, network, paymentURL string) (*Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Signing.Status != "completed" {
		return nil, apierr.InvalidState("request %s has not completed signing", id)
	}
	if req.Payment.Status == "completed" {
		return req, nil // idempotent re-request
	}
	req.Payment.PaymentURL = paymentURL
	req.Payment.Amount = amount
	req.Payment.Currency = currency
	req.Payment.Network = network
	if err := s.write(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// CompletePayment marks payment as settled and advances to ready (or leaves
// ready reachable once payments are disabled, handled by the caller).
func (s *Store) CompletePayment(ctx context.Context, id, txHash string) (*Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Payment.Status = "completed"
	req.Payment.TxHash = txHash
	req.Phase = PhaseReady
	if err := s.write(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// SkipPayment advances straight to ready when payments are disabled.
func (s *Store) SkipPayment(ctx context.Context, id string) (*Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Payment.Status = "completed"
	req.Phase = PhaseReady
	if err := s.write(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// AdvancePhase sets an explicit phase (generating/completed/failed), used by
// the flow orchestrator and the generate_proof skill handler.
func (s *Store) AdvancePhase(ctx context.Context, id string, phase Phase) (*Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Phase = phase
	if err := s.write(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}
