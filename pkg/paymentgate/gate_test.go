package paymentgate

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/provenanceagent/proof-agent/pkg/config"
)

func TestDisabledModeAlwaysAdmits(t *testing.T) {
	g := New(config.PaymentDisabled, "eip155:84532", "usdc", "0xpayto", "$0.10")
	r := httptest.NewRequest(http.MethodPost, "/api/v1/proofs", nil)

	admitted, _, err := g.Check(r)
	require.NoError(t, err)
	require.True(t, admitted)
}

func TestTestnetModeRequiresHeader(t *testing.T) {
	g := New(config.PaymentTestnet, "eip155:84532", "usdc", "0xpayto", "$0.10")
	r := httptest.NewRequest(http.MethodPost, "/api/v1/proofs", nil)

	admitted, challenge, err := g.Check(r)
	require.NoError(t, err)
	require.False(t, admitted)
	require.NotEmpty(t, challenge)

	decoded, err := DecodeChallenge(challenge)
	require.NoError(t, err)
	require.Equal(t, 2, decoded.X402Version)
	require.Equal(t, "eip155:84532", decoded.Accepts[0].Network)
}

func TestTestnetModeAdmitsWithHeader(t *testing.T) {
	g := New(config.PaymentTestnet, "eip155:84532", "usdc", "0xpayto", "$0.10")
	r := httptest.NewRequest(http.MethodPost, "/api/v1/proofs", nil)
	claimHeader, err := EncodeClaim(Claim{PayerAddress: "0xabc", Amount: "1.00"})
	require.NoError(t, err)
	r.Header.Set("x-payment", claimHeader)

	admitted, _, err := g.Check(r)
	require.NoError(t, err)
	require.True(t, admitted)
}

func TestClaimRoundTrip(t *testing.T) {
	claim := Claim{PayerAddress: "0xdeadbeef", Amount: "1.00", Network: "eip155:84532"}
	encoded, err := EncodeClaim(claim)
	require.NoError(t, err)

	decoded, err := DecodeClaim(encoded)
	require.NoError(t, err)
	require.Equal(t, claim.PayerAddress, decoded.PayerAddress)
}

func TestMalformedHeaderDoesNotBlock(t *testing.T) {
	_, err := DecodeClaim("not-valid-base64-cbor!!!")
	require.Error(t, err)

	g := New(config.PaymentTestnet, "eip155:84532", "usdc", "0xpayto", "$0.10")
	reached := false
	handler := g.Middleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		_, ok := ClaimFromContext(r.Context())
		require.False(t, ok)
		w.WriteHeader(http.StatusOK)
	}))
	r := httptest.NewRequest(http.MethodPost, "/api/v1/proofs", nil)
	r.Header.Set("x-payment", "not-valid-base64-cbor!!!")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.True(t, reached)
	require.Equal(t, http.StatusOK, w.Code)
}
