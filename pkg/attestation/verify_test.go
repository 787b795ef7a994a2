package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

// buildSignedDocument constructs a self-signed root + leaf certificate pair
// and a COSE_Sign1 structure signed by the leaf's private key, mirroring
// the shape an enclave's attestation document takes on the wire.
func buildSignedDocument(t *testing.T, timestamp time.Time, pcrs map[int][]byte) (string, *ecdsa.PrivateKey) {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	rootCert, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "test leaf"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, rootCert, &leafKey.PublicKey, rootKey)
	require.NoError(t, err)

	doc := Document{
		ModuleID:    "i-0123-enc0123",
		Digest:      "SHA384",
		Timestamp:   uint64(timestamp.UnixMilli()),
		PCRs:        pcrs,
		Certificate: leafDER,
		CABundle:    [][]byte{rootDER},
	}
	payloadBytes, err := cbor.Marshal(doc)
	require.NoError(t, err)

	protectedBytes, err := cbor.Marshal(protectedHeader{Alg: coseAlgES384})
	require.NoError(t, err)

	structure := sigStructure{
		Context:     "Signature1",
		Protected:   protectedBytes,
		ExternalAAD: []byte{},
		Payload:     payloadBytes,
	}
	toSign, err := cbor.Marshal(structure)
	require.NoError(t, err)
	digest := sha512.Sum384(toSign)

	r, s, err := ecdsa.Sign(rand.Reader, leafKey, digest[:])
	require.NoError(t, err)
	sig := append(leftPad(r.Bytes(), 48), leftPad(s.Bytes(), 48)...)

	sign1 := coseSign1{
		Protected:   protectedBytes,
		Unprotected: map[interface{}]interface{}{},
		Payload:     payloadBytes,
		Signature:   sig,
	}
	raw, err := cbor.Marshal(sign1)
	require.NoError(t, err)

	return base64.StdEncoding.EncodeToString(raw), leafKey
}

func TestParseRoundTrip(t *testing.T) {
	encoded, _ := buildSignedDocument(t, time.Now(), map[int][]byte{0: {1, 2, 3}})

	parsed, err := Parse(encoded)
	require.NoError(t, err)
	require.Equal(t, coseAlgES384, parsed.Alg)
	require.Equal(t, "i-0123-enc0123", parsed.Document.ModuleID)

	reencoded, err := Encode(parsed)
	require.NoError(t, err)

	reparsed, err := Parse(reencoded)
	require.NoError(t, err)
	require.Equal(t, parsed.Document, reparsed.Document)
}

func TestVerifyValidDocument(t *testing.T) {
	encoded, _ := buildSignedDocument(t, time.Now(), map[int][]byte{0: {1, 2, 3}})
	parsed, err := Parse(encoded)
	require.NoError(t, err)

	v := NewVerifier(5*time.Second, map[int][]byte{0: {1, 2, 3}})
	result := v.Verify(parsed)

	require.True(t, result.SignatureValid)
	require.True(t, result.CertificateValid)
	require.True(t, result.IsValid)
	require.Empty(t, result.Error)
}

func TestVerifyRejectsStaleDocument(t *testing.T) {
	encoded, _ := buildSignedDocument(t, time.Now().Add(-time.Minute), nil)
	parsed, err := Parse(encoded)
	require.NoError(t, err)

	v := NewVerifier(5*time.Second, nil)
	result := v.Verify(parsed)

	require.False(t, result.IsValid)
	require.Contains(t, result.Error, "stale")
}

func TestVerifyRejectsPCRMismatch(t *testing.T) {
	encoded, _ := buildSignedDocument(t, time.Now(), map[int][]byte{0: {1, 2, 3}})
	parsed, err := Parse(encoded)
	require.NoError(t, err)

	v := NewVerifier(5*time.Second, map[int][]byte{0: {9, 9, 9}})
	result := v.Verify(parsed)

	require.False(t, result.IsValid)
	require.Contains(t, result.Error, "PCR0 mismatch")
}

func TestVerifyRejectsEmptyCABundle(t *testing.T) {
	encoded, _ := buildSignedDocument(t, time.Now(), nil)
	parsed, err := Parse(encoded)
	require.NoError(t, err)
	parsed.Document.CABundle = nil

	v := NewVerifier(5*time.Second, nil)
	result := v.Verify(parsed)

	require.False(t, result.IsValid)
	require.Contains(t, result.Error, "empty certificate chain")
}
