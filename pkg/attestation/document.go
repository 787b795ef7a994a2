// Package attestation parses and verifies AWS-Nitro-style COSE_Sign1
// enclave attestation documents: CBOR decode, certificate chain walk, and
// ES384 signature verification over the reconstructed Sig_structure.
package attestation

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Document is the decoded payload of a COSE_Sign1 attestation document.
type Document struct {
	ModuleID    string           `cbor:"module_id"`
	Digest      string           `cbor:"digest"`
	Timestamp   uint64           `cbor:"timestamp"` // milliseconds since epoch
	PCRs        map[int][]byte   `cbor:"pcrs"`
	Certificate []byte           `cbor:"certificate"`
	CABundle    [][]byte         `cbor:"cabundle"`
	PublicKey   []byte           `cbor:"public_key"`
	UserData    []byte           `cbor:"user_data"`
	Nonce       []byte           `cbor:"nonce"`
}

// coseSign1 mirrors the 4-element COSE_Sign1 array structure.
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[interface{}]interface{}
	Payload     []byte
	Signature   []byte
}

const coseAlgES384 = -35

// protectedHeader carries the single field we need out of the protected
// CBOR map: the signing algorithm.
type protectedHeader struct {
	Alg int `cbor:"1,keyasint"`
}

// Parse decodes a base64-encoded COSE_Sign1 structure into its protected
// header bytes, payload bytes, signature bytes and the decoded Document —
// all four are needed by Verify to reconstruct the Sig_structure exactly.
type Parsed struct {
	ProtectedBytes []byte
	PayloadBytes   []byte
	Signature      []byte
	Alg            int
	Document       Document
}

func Parse(base64Doc string) (*Parsed, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Doc)
	if err != nil {
		return nil, fmt.Errorf("attestation: base64 decode: %w", err)
	}

	var sign1 coseSign1
	if err := cbor.Unmarshal(raw, &sign1); err != nil {
		return nil, fmt.Errorf("attestation: cbor decode COSE_Sign1: %w", err)
	}

	var hdr protectedHeader
	if err := cbor.Unmarshal(sign1.Protected, &hdr); err != nil {
		return nil, fmt.Errorf("attestation: cbor decode protected header: %w", err)
	}

	var doc Document
	if err := cbor.Unmarshal(sign1.Payload, &doc); err != nil {
		return nil, fmt.Errorf("attestation: cbor decode payload: %w", err)
	}

	return &Parsed{
		ProtectedBytes: sign1.Protected,
		PayloadBytes:   sign1.Payload,
		Signature:      sign1.Signature,
		Alg:            hdr.Alg,
		Document:       doc,
	}, nil
}

// Encode is the inverse of Parse, used by round-trip tests. It does not
// recompute a signature; it re-serializes a Parsed struct's fields verbatim.
func Encode(p *Parsed) (string, error) {
	sign1 := coseSign1{
		Protected:   p.ProtectedBytes,
		Unprotected: map[interface{}]interface{}{},
		Payload:     p.PayloadBytes,
		Signature:   p.Signature,
	}
	raw, err := cbor.Marshal(sign1)
	if err != nil {
		return "", fmt.Errorf("attestation: cbor encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// AgeOf returns how long ago doc.Timestamp (ms epoch) occurred.
func AgeOf(doc Document) time.Duration {
	ts := time.UnixMilli(int64(doc.Timestamp))
	return time.Since(ts)
}
