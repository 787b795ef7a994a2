package attestation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Result is the per-dimension verification outcome the spec requires.
type Result struct {
	CertificateValid bool
	SignatureValid   bool
	PCRValid         map[int]bool
	IsValid          bool
	Error            string
}

// Verifier checks a parsed attestation document against a maximum age and
// an optional set of expected PCR values.
type Verifier struct {
	maxAge      time.Duration
	expectedPCR map[int][]byte
}

func NewVerifier(maxAge time.Duration, expectedPCR map[int][]byte) *Verifier {
	return &Verifier{maxAge: maxAge, expectedPCR: expectedPCR}
}

// Verify runs the five-step check described for attestation documents:
// non-empty cabundle, freshness, PCR match, ES384 signature verification
// over the reconstructed Sig_structure, and certificate-chain validation.
func (v *Verifier) Verify(p *Parsed) Result {
	result := Result{PCRValid: make(map[int]bool)}

	if len(p.Document.CABundle) == 0 {
		result.Error = "empty certificate chain"
		return result
	}

	age := AgeOf(p.Document)
	if age > v.maxAge {
		result.Error = fmt.Sprintf("attestation document is stale: age %s exceeds max %s", age, v.maxAge)
		return result
	}

	for idx, expected := range v.expectedPCR {
		actual, ok := p.Document.PCRs[idx]
		valid := ok && bytes.Equal(actual, expected)
		result.PCRValid[idx] = valid
		if !valid && result.Error == "" {
			result.Error = fmt.Sprintf("PCR%d mismatch", idx)
		}
	}
	if result.Error != "" {
		return result
	}

	if p.Alg != coseAlgES384 {
		result.Error = "unsupported COSE algorithm"
		return result
	}

	leaf, err := x509.ParseCertificate(p.Document.Certificate)
	if err != nil {
		result.Error = fmt.Sprintf("failed to parse leaf certificate: %v", err)
		return result
	}

	sigValid, err := v.verifySignature(p, leaf)
	result.SignatureValid = sigValid
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if !sigValid {
		result.Error = "signature verification failed"
		return result
	}

	chainValid, err := verifyChain(leaf, p.Document.CABundle)
	result.CertificateValid = chainValid
	if err != nil {
		result.Error = fmt.Sprintf("certificate chain verification failed: %v", err)
		return result
	}

	result.IsValid = result.SignatureValid && result.CertificateValid
	return result
}

// sigStructure mirrors COSE's Sig_structure for a COSE_Sign1 with no
// external AAD: ["Signature1", protected, external_aad, payload].
type sigStructure struct {
	_            struct{} `cbor:",toarray"`
	Context      string
	Protected    []byte
	ExternalAAD  []byte
	Payload      []byte
}

func (v *Verifier) verifySignature(p *Parsed, leaf *x509.Certificate) (bool, error) {
	structure := sigStructure{
		Context:     "Signature1",
		Protected:   p.ProtectedBytes,
		ExternalAAD: []byte{},
		Payload:     p.PayloadBytes,
	}
	toSign, err := cbor.Marshal(structure)
	if err != nil {
		return false, fmt.Errorf("failed to encode Sig_structure: %w", err)
	}

	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("leaf certificate key is not ECDSA")
	}

	rawSig, err := toRawRS(p.Signature)
	if err != nil {
		return false, fmt.Errorf("failed to normalize signature: %w", err)
	}
	half := len(rawSig) / 2
	r := new(big.Int).SetBytes(rawSig[:half])
	s := new(big.Int).SetBytes(rawSig[half:])

	digest := sha512.Sum384(toSign)
	return ecdsa.Verify(pub, digest[:], r, s), nil
}

// toRawRS accepts either an already-raw R||S signature (left-padded, even
// length) or a DER-encoded ECDSA signature and returns the raw form. A raw
// input is returned unchanged; a DER input is converted with R and S each
// left-padded to 48 bytes, 96 bytes in all for a P-384 curve.
func toRawRS(sig []byte) ([]byte, error) {
	if len(sig) == 96 {
		return sig, nil
	}
	if len(sig)%2 == 0 && len(sig) > 0 && sig[0] != 0x30 {
		return sig, nil
	}

	var der struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(sig, &der); err != nil {
		return nil, fmt.Errorf("signature is neither raw R||S nor valid DER: %w", err)
	}

	rBytes := leftPad(der.R.Bytes(), 48)
	sBytes := leftPad(der.S.Bytes(), 48)
	return append(rBytes, sBytes...), nil
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// verifyChain walks cabundle from root to leaf, verifying each certificate
// signs the next, then verifies leaf against the last intermediate.
func verifyChain(leaf *x509.Certificate, cabundle [][]byte) (bool, error) {
	pool := x509.NewCertPool()
	var intermediates []*x509.Certificate
	for i, raw := range cabundle {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return false, fmt.Errorf("failed to parse cabundle[%d]: %w", i, err)
		}
		if i == 0 {
			pool.AddCert(cert)
		} else {
			intermediates = append(intermediates, cert)
		}
	}

	intermediatePool := x509.NewCertPool()
	for _, cert := range intermediates {
		intermediatePool.AddCert(cert)
	}

	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         pool,
		Intermediates: intermediatePool,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
