// Package onchain implements the three chain-facing components: the
// verifier contract caller (C10), idempotent identity auto-registration
// (C11), and the best-effort reputation hook (C12). All three share the
// ethereum.Client read/call/send surface.
package onchain

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/provenanceagent/proof-agent/pkg/apierr"
	"github.com/provenanceagent/proof-agent/pkg/ethereum"
)

const verifierABI = `[{"constant":true,"inputs":[{"name":"proof","type":"bytes"},{"name":"publicInputs","type":"bytes32[]"}],"name":"verify","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"}]`

// VerifierAddresses maps (chainId, circuitId) -> verifier contract address.
// Built at startup by cmd/agent (buildVerifierAddresses), which maps every
// circuit in the registry to the single configured verifier contract on the
// configured chain.
type VerifierAddresses map[int64]map[string]common.Address

// Verifier calls the verifier contract matching a (chainId, circuitId) pair.
type Verifier struct {
	addresses VerifierAddresses
	dial      func(rpcURL string, chainID int64) (*ethereum.Client, error)
}

// NewVerifier constructs a Verifier over a static address table. dial is
// injectable for tests; production callers pass ethereum.NewClient.
func NewVerifier(addresses VerifierAddresses, dial func(string, int64) (*ethereum.Client, error)) *Verifier {
	if dial == nil {
		dial = ethereum.NewClient
	}
	return &Verifier{addresses: addresses, dial: dial}
}

// Result is the outcome of an on-chain verify call.
type Result struct {
	Valid           bool
	CircuitID       string
	VerifierAddress string
	ChainID         int64
}

// Verify resolves the verifier address for (circuitId, chainId), opens a
// read-only connection to rpcURL and calls verify(bytes,bytes32[]).
func (v *Verifier) Verify(ctx context.Context, proofHex string, publicInputsHex []string, circuitID string, chainID int64, rpcURL string) (*Result, error) {
	byChain, ok := v.addresses[chainID]
	if !ok {
		return nil, apierr.Validation("unknown chain id %d for on-chain verification", chainID)
	}
	addr, ok := byChain[circuitID]
	if !ok {
		return nil, apierr.Validation("no verifier configured for circuit %q on chain %d", circuitID, chainID)
	}

	client, err := v.dial(rpcURL, chainID)
	if err != nil {
		return nil, apierr.Transient(err, "on-chain verification failed: could not connect")
	}

	proofBytes, err := decodeHex(proofHex)
	if err != nil {
		return nil, apierr.Validation("invalid proof hex: %v", err)
	}
	inputs := make([][32]byte, len(publicInputsHex))
	for i, h := range publicInputsHex {
		b, err := decodeHex(h)
		if err != nil {
			return nil, apierr.Validation("invalid public input %d hex: %v", i, err)
		}
		if len(b) != 32 {
			return nil, apierr.Validation("public input %d must be 32 bytes, got %d", i, len(b))
		}
		copy(inputs[i][:], b)
	}

	outputs, err := client.CallContract(ctx, addr, verifierABI, "verify", proofBytes, inputs)
	if err != nil {
		return nil, apierr.Transient(err, "on-chain verification failed")
	}
	if len(outputs) != 1 {
		return nil, apierr.Permanent(nil, "on-chain verification failed: unexpected return arity %d", len(outputs))
	}
	valid, ok := outputs[0].(bool)
	if !ok {
		return nil, apierr.Permanent(nil, "on-chain verification failed: unexpected return type")
	}

	return &Result{
		Valid:           valid,
		CircuitID:       circuitID,
		VerifierAddress: addr.Hex(),
		ChainID:         chainID,
	}, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
