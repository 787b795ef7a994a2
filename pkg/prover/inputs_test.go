package prover

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestEncodeProducesFixedWidthFields(t *testing.T) {
	params := CircuitParams{
		RawTransaction: "0x" + strings.Repeat("ab", 50),
		Signature:      "0x" + strings.Repeat("11", 65), // 65 bytes, includes v
		MerkleProof:    []string{"0x" + strings.Repeat("22", 32), "0x" + strings.Repeat("33", 32)},
		CountryList:    []string{"US", "CA"},
		IsIncluded:     boolPtr(true),
	}

	encoded, err := Encode(params)
	require.NoError(t, err)

	require.Len(t, encoded.RawTransaction, rawTransactionLen)
	require.Len(t, encoded.SignatureRS, signatureLen)
	require.Len(t, encoded.MerkleProof, merkleProofDepth)
	require.Len(t, encoded.CountryList, countryListLen)
	require.Equal(t, "true", encoded.IsIncludedBool)

	require.Equal(t, []byte{0x22}[0], encoded.MerkleProof[0][0])
	require.Empty(t, encoded.MerkleProof[2])

	require.Equal(t, [2]byte{'U', 'S'}, encoded.CountryList[0])
	require.Equal(t, [2]byte{'C', 'A'}, encoded.CountryList[1])
	require.Equal(t, [2]byte{0, 0}, encoded.CountryList[2])
}

func TestEncodeDropsRecoveryByteFromSignature(t *testing.T) {
	rs := strings.Repeat("ab", 64)
	withV := "0x" + rs + "1c"

	encoded, err := Encode(CircuitParams{
		RawTransaction: "0x00",
		Signature:      withV,
		MerkleProof:    nil,
	})
	require.NoError(t, err)

	want, _ := hex.DecodeString(rs)
	require.Equal(t, want, encoded.SignatureRS[:])
}

func TestEncodeRejectsOversizedRawTransaction(t *testing.T) {
	_, err := Encode(CircuitParams{
		RawTransaction: "0x" + strings.Repeat("ff", rawTransactionLen+1),
		Signature:      "0x" + strings.Repeat("11", signatureLen),
	})
	require.Error(t, err)
}

func TestEncodeRejectsTooManyMerkleProofEntries(t *testing.T) {
	proof := make([]string, merkleProofDepth+1)
	for i := range proof {
		proof[i] = "0x" + strings.Repeat("aa", 32)
	}
	_, err := Encode(CircuitParams{
		RawTransaction: "0x00",
		Signature:      "0x" + strings.Repeat("11", signatureLen),
		MerkleProof:    proof,
	})
	require.Error(t, err)
}

func TestEncodeRejectsInvalidCountryCodeLength(t *testing.T) {
	_, err := Encode(CircuitParams{
		RawTransaction: "0x00",
		Signature:      "0x" + strings.Repeat("11", signatureLen),
		CountryList:    []string{"USA"},
	})
	require.Error(t, err)
}

func TestEncodeOmitsIsIncludedWhenNil(t *testing.T) {
	encoded, err := Encode(CircuitParams{
		RawTransaction: "0x00",
		Signature:      "0x" + strings.Repeat("11", signatureLen),
	})
	require.NoError(t, err)
	require.Empty(t, encoded.IsIncludedBool)
}
