package onchain

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/provenanceagent/proof-agent/pkg/ethereum"
)

const identityRegistryABI = `[
{"constant":true,"inputs":[{"name":"agent","type":"address"}],"name":"tokenOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":false,"inputs":[{"name":"agent","type":"address"},{"name":"metadataURI","type":"string"}],"name":"register","outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

// Identity performs idempotent agent registration on the identity registry.
type Identity struct {
	client  *ethereum.Client
	address common.Address
	logger  *log.Logger
}

func NewIdentity(client *ethereum.Client, registryAddress common.Address, logger *log.Logger) *Identity {
	if logger == nil {
		logger = log.New(log.Writer(), "[Identity] ", log.LstdFlags)
	}
	return &Identity{client: client, address: registryAddress, logger: logger}
}

// EnsureRegistered checks whether signerAddress already holds a token on the
// identity registry; if not, registers it with a base64 data-URI agent card.
// Any error is logged and swallowed — registration is a non-fatal startup
// step, never a reason to refuse to serve traffic.
func (id *Identity) EnsureRegistered(ctx context.Context, signer common.Address, privateKeyHex string, agentCardJSON []byte) *big.Int {
	outputs, err := id.client.CallContract(ctx, id.address, identityRegistryABI, "tokenOf", signer)
	if err != nil {
		id.logger.Printf("tokenOf lookup failed, skipping registration: %v", err)
		return nil
	}
	if len(outputs) == 1 {
		if tokenID, ok := outputs[0].(*big.Int); ok && tokenID.Sign() != 0 {
			id.logger.Printf("agent already registered, token id %s", tokenID.String())
			return tokenID
		}
	}

	metadataURI := fmt.Sprintf("data:application/json;base64,%s", base64.StdEncoding.EncodeToString(agentCardJSON))
	receipt, err := id.client.SendTransaction(ctx, id.address, identityRegistryABI, privateKeyHex, "register", 300000, signer, metadataURI)
	if err != nil {
		id.logger.Printf("registration failed: %v", err)
		return nil
	}
	id.logger.Printf("registered agent in tx %s", receipt.TxHash.Hex())

	outputs, err = id.client.CallContract(ctx, id.address, identityRegistryABI, "tokenOf", signer)
	if err != nil || len(outputs) != 1 {
		return nil
	}
	tokenID, _ := outputs[0].(*big.Int)
	return tokenID
}
