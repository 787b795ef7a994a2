package onchain

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/provenanceagent/proof-agent/pkg/apierr"
	"github.com/provenanceagent/proof-agent/pkg/ethereum"
)

func TestVerifyUnknownChainFailsBeforeDial(t *testing.T) {
	dialed := false
	v := NewVerifier(VerifierAddresses{}, func(rpcURL string, chainID int64) (*ethereum.Client, error) {
		dialed = true
		return nil, nil
	})

	_, err := v.Verify(context.Background(), "0x01", nil, "coinbase_attestation", 84532, "http://rpc")
	require.Error(t, err)
	require.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	require.False(t, dialed, "must not dial for an unconfigured chain")
}

func TestVerifyUnknownCircuitFailsBeforeDial(t *testing.T) {
	dialed := false
	addresses := VerifierAddresses{
		84532: {"other_circuit": common.HexToAddress("0x1")},
	}
	v := NewVerifier(addresses, func(rpcURL string, chainID int64) (*ethereum.Client, error) {
		dialed = true
		return nil, nil
	})

	_, err := v.Verify(context.Background(), "0x01", nil, "coinbase_attestation", 84532, "http://rpc")
	require.Error(t, err)
	require.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	require.False(t, dialed)
}

func TestVerifyRejectsMalformedPublicInputHex(t *testing.T) {
	addresses := VerifierAddresses{
		84532: {"coinbase_attestation": common.HexToAddress("0x1")},
	}
	v := NewVerifier(addresses, func(rpcURL string, chainID int64) (*ethereum.Client, error) {
		return &ethereum.Client{}, nil
	})

	_, err := v.Verify(context.Background(), "0x01", []string{"not-hex"}, "coinbase_attestation", 84532, "http://rpc")
	require.Error(t, err)
	require.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}
