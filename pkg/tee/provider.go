// Package tee provides a uniform prove/health/attest interface over three
// backends: disabled (errors on every call), local (delegates straight to
// the in-process prover driver, yields no attestation), and nitro (opens a
// vsock connection to an AWS-Nitro-style enclave and exchanges CBOR-framed
// requests/responses).
package tee

import (
	"context"
	"time"

	"github.com/provenanceagent/proof-agent/pkg/prover"
)

// ProveResult is the tagged-union response from Prove: exactly one of the
// proof fields or Error is populated, selected by Type.
type ProveResult struct {
	Type            string `json:"type"` // "proof" | "error"
	Proof           string `json:"proof,omitempty"`
	PublicInputs    string `json:"publicInputs,omitempty"`
	ProofWithInputs string `json:"proofWithInputs,omitempty"`
	AttestationDoc  string `json:"attestationDocument,omitempty"`
	Error           string `json:"error,omitempty"`
}

// AttestationResult wraps a fresh attestation document with the generating
// mode and the proof hash it attests to.
type AttestationResult struct {
	Document  string    `json:"document"`
	Mode      string    `json:"mode"`
	ProofHash string    `json:"proofHash"`
	Timestamp time.Time `json:"timestamp"`
}

// Provider is the uniform interface every TEE backend implements.
type Provider interface {
	Prove(ctx context.Context, circuitID string, params prover.CircuitParams, requestID string) ProveResult
	HealthCheck(ctx context.Context) bool
	GetAttestation(ctx context.Context) (string, bool)
	GenerateAttestation(ctx context.Context, proofHash string) (*AttestationResult, bool)
}

// Mode selects which backend the provider abstraction delegates to.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeLocal    Mode = "local"
	ModeNitro    Mode = "nitro"
)

func errorResult(format string) ProveResult {
	return ProveResult{Type: "error", Error: format}
}

// DisabledProvider returns an error response on every Prove call.
type DisabledProvider struct{}

func (DisabledProvider) Prove(ctx context.Context, circuitID string, params prover.CircuitParams, requestID string) ProveResult {
	return errorResult("TEE provider is disabled")
}
func (DisabledProvider) HealthCheck(ctx context.Context) bool { return false }
func (DisabledProvider) GetAttestation(ctx context.Context) (string, bool) { return "", false }
func (DisabledProvider) GenerateAttestation(ctx context.Context, proofHash string) (*AttestationResult, bool) {
	return nil, false
}

// LocalProvider delegates straight to the in-process prover subprocess
// driver. It never produces an attestation document: the proof was not
// generated inside a measured enclave.
type LocalProvider struct {
	driver *prover.Driver
}

func NewLocalProvider(driver *prover.Driver) *LocalProvider {
	return &LocalProvider{driver: driver}
}

func (p *LocalProvider) Prove(ctx context.Context, circuitID string, params prover.CircuitParams, requestID string) ProveResult {
	result, err := p.driver.Prove(ctx, circuitID, params, requestID)
	if err != nil {
		return errorResult(err.Error())
	}
	return ProveResult{
		Type:            "proof",
		Proof:           result.Proof,
		PublicInputs:    result.PublicInputs,
		ProofWithInputs: result.ProofWithInputs,
	}
}

func (p *LocalProvider) HealthCheck(ctx context.Context) bool { return p.driver != nil }
func (p *LocalProvider) GetAttestation(ctx context.Context) (string, bool) { return "", false }
func (p *LocalProvider) GenerateAttestation(ctx context.Context, proofHash string) (*AttestationResult, bool) {
	return nil, false
}

// ResolveMode implements the teeMode=auto rule: nitro if an enclave CID is
// configured, otherwise local. The choice is made from the configuration
// alone; the enclave's reachability is not probed.
func ResolveMode(configured Mode, enclaveCID uint32) Mode {
	if configured != "auto" {
		return configured
	}
	if enclaveCID != 0 {
		return ModeNitro
	}
	return ModeLocal
}
