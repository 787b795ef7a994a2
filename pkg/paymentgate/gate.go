// Package paymentgate implements the x402-style payment challenge middleware:
// protected routes demand an x-payment header, issuing a CBOR-encoded
// PAYMENT-REQUIRED challenge when absent.
package paymentgate

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/fxamacker/cbor/v2"

	"github.com/provenanceagent/proof-agent/pkg/config"
)

// Accept describes one acceptable payment scheme in a 402 challenge.
type Accept struct {
	Scheme  string `cbor:"scheme"`
	Network string `cbor:"network"`
	Asset   string `cbor:"asset"`
	PayTo   string `cbor:"payTo"`
	Amount  string `cbor:"amount"`
}

// Challenge is the x402 descriptor base64-CBOR-encoded into the
// PAYMENT-REQUIRED response header.
type Challenge struct {
	X402Version int      `cbor:"x402Version"`
	Accepts     []Accept `cbor:"accepts"`
}

// Claim is the best-effort decode of an inbound x-payment header.
type Claim struct {
	PayerAddress string `cbor:"payerAddress"`
	Amount       string `cbor:"amount"`
	Network      string `cbor:"network"`
}

// rawClaim mirrors the shapes seen in practice: either {proof:{from,...}} or
// a flat {from, amount}. Decoding is best-effort per §6/§9 of the design.
type rawClaim struct {
	From    string `cbor:"from"`
	Amount  string `cbor:"amount"`
	Network string `cbor:"network,omitempty"`
	Proof   *struct {
		From string `cbor:"from"`
	} `cbor:"proof"`
}

// Gate decides, per mode, whether a protected request must present a
// payment claim before being admitted.
type Gate struct {
	mode    config.PaymentMode
	network string
	asset   string
	payTo   string
	amount  string
}

func New(mode config.PaymentMode, network, asset, payTo, amount string) *Gate {
	return &Gate{mode: mode, network: network, asset: asset, payTo: payTo, amount: amount}
}

// freeSkills bypass the gate regardless of mode.
var freeSkills = map[string]bool{
	"get_supported_circuits": true,
	"verify_proof":           true,
	"check_status":           true,
	"request_payment":        true,
	"tasks/get":               true,
	"tasks/cancel":            true,
	"tasks/resubscribe":       true,
	"initialize":              true,
	"tools/list":              true,
}

// IsFree reports whether skill bypasses the gate regardless of mode.
func IsFree(skill string) bool { return freeSkills[skill] }

// Check returns (admitted, challengeHeaderValue). When mode is disabled the
// request is always admitted (and the caller should mark paymentSkipped).
// Otherwise admission requires a non-empty x-payment header; the header's
// content is never validated here — that's the recording middleware and,
// ultimately, the facilitator's job. A missing header yields an encoded
// challenge value suitable for the PAYMENT-REQUIRED header.
func (g *Gate) Check(r *http.Request) (admitted bool, challengeHeader string, err error) {
	if g.mode == config.PaymentDisabled {
		return true, "", nil
	}
	if r.Header.Get("x-payment") != "" {
		return true, "", nil
	}

	challenge := Challenge{
		X402Version: 2,
		Accepts: []Accept{{
			Scheme:  "exact",
			Network: g.network,
			Asset:   g.asset,
			PayTo:   g.payTo,
			Amount:  g.amount,
		}},
	}
	encoded, err := EncodeChallenge(challenge)
	if err != nil {
		return false, "", fmt.Errorf("paymentgate: encode challenge: %w", err)
	}
	return false, encoded, nil
}

// EncodeChallenge CBOR-encodes then base64-encodes a Challenge.
func EncodeChallenge(c Challenge) (string, error) {
	raw, err := cbor.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeChallenge reverses EncodeChallenge, used by tests and by
// conformance clients that must parse the header value.
func DecodeChallenge(encoded string) (Challenge, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Challenge{}, err
	}
	var c Challenge
	if err := cbor.Unmarshal(raw, &c); err != nil {
		return Challenge{}, err
	}
	return c, nil
}

// DecodeClaim best-effort decodes the x-payment header into a Claim. A
// malformed header must never block the request — callers log the error
// and proceed without a recorded claim.
func DecodeClaim(header string) (Claim, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return Claim{}, err
	}
	var rc rawClaim
	if err := cbor.Unmarshal(raw, &rc); err != nil {
		return Claim{}, err
	}
	from := rc.From
	if rc.Proof != nil && rc.Proof.From != "" {
		from = rc.Proof.From
	}
	return Claim{PayerAddress: from, Amount: rc.Amount, Network: rc.Network}, nil
}

// EncodeClaim CBOR-then-base64-encodes a Claim, used by tests that assert
// the decode/encode round-trip.
func EncodeClaim(c Claim) (string, error) {
	raw, err := cbor.Marshal(rawClaim{From: c.PayerAddress, Amount: c.Amount, Network: c.Network})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
