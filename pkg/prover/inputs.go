// Package prover drives the ZK prover subprocess: it serializes circuit
// inputs into the prover's fixed-width input format, invokes the
// witness-generation and proof-generation binaries, and collects the
// resulting proof bytes.
package prover

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	rawTransactionLen = 300
	merkleProofDepth  = 8
	countryListLen    = 10
	signatureLen      = 64
)

// CircuitParams is the opaque set of inputs a circuit's input builder
// accepts before fixed-width encoding.
type CircuitParams struct {
	RawTransaction string   `json:"rawTransaction"`
	Signature      string   `json:"signature"` // hex r||s||v, v is dropped
	MerkleProof    []string `json:"merkleProof"`
	CountryList    []string `json:"countryList,omitempty"`
	IsIncluded     *bool    `json:"isIncluded,omitempty"`
}

// EncodedInputs is the fixed-width, toml-ready representation of CircuitParams.
type EncodedInputs struct {
	RawTransaction [rawTransactionLen]byte
	SignatureRS    [signatureLen]byte
	MerkleProof    [merkleProofDepth][]byte
	CountryList    [countryListLen][2]byte
	IsIncludedBool string // "true" / "false" lowercase literal, empty if unset
}

// Encode pads CircuitParams into the prover's fixed-width wire format,
// rejecting values that exceed a width. The raw transaction is zero-padded
// on the right to 300 bytes, the merkle proof is filled out to depth 8 with
// empty entries (entries themselves are not padded), and the country list is
// filled out to 10 zero codes. The signature must decode to exactly 64 bytes
// of r||s after a 65th recovery byte is dropped; it is not padded.
func Encode(p CircuitParams) (*EncodedInputs, error) {
	out := &EncodedInputs{}

	rawTx, err := decodeHexPadded(p.RawTransaction, rawTransactionLen)
	if err != nil {
		return nil, fmt.Errorf("prover: raw_transaction: %w", err)
	}
	copy(out.RawTransaction[:], rawTx)

	sigBytes, err := hex.DecodeString(strings.TrimPrefix(p.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("prover: signature: invalid hex: %w", err)
	}
	// Drop a trailing recovery byte (v) if present: 65 bytes -> r||s (64).
	if len(sigBytes) == 65 {
		sigBytes = sigBytes[:64]
	}
	if len(sigBytes) != signatureLen {
		return nil, fmt.Errorf("prover: signature must decode to %d bytes (r||s), got %d", signatureLen, len(sigBytes))
	}
	copy(out.SignatureRS[:], sigBytes)

	if len(p.MerkleProof) > merkleProofDepth {
		return nil, fmt.Errorf("prover: merkle proof has %d entries, max depth is %d", len(p.MerkleProof), merkleProofDepth)
	}
	for i := 0; i < merkleProofDepth; i++ {
		if i < len(p.MerkleProof) {
			b, err := hex.DecodeString(strings.TrimPrefix(p.MerkleProof[i], "0x"))
			if err != nil {
				return nil, fmt.Errorf("prover: merkle proof entry %d: invalid hex: %w", i, err)
			}
			out.MerkleProof[i] = b
		} else {
			out.MerkleProof[i] = []byte{}
		}
	}

	if len(p.CountryList) > countryListLen {
		return nil, fmt.Errorf("prover: country list has %d entries, max is %d", len(p.CountryList), countryListLen)
	}
	for i := 0; i < countryListLen; i++ {
		if i < len(p.CountryList) {
			code := p.CountryList[i]
			if len(code) != 2 {
				return nil, fmt.Errorf("prover: country code %q must be 2 characters", code)
			}
			out.CountryList[i][0] = code[0]
			out.CountryList[i][1] = code[1]
		}
		// else left as zero bytes (padding)
	}

	if p.IsIncluded != nil {
		if *p.IsIncluded {
			out.IsIncludedBool = "true"
		} else {
			out.IsIncludedBool = "false"
		}
	}

	return out, nil
}

func decodeHexPadded(s string, width int) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) > width {
		return nil, fmt.Errorf("value is %d bytes, exceeds fixed width %d", len(b), width)
	}
	padded := make([]byte, width)
	copy(padded, b) // right-pad: zero-fill the remainder
	return padded, nil
}
