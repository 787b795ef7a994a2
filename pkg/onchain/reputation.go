package onchain

import (
	"context"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/provenanceagent/proof-agent/pkg/ethereum"
)

const reputationRegistryABI = `[{"constant":false,"inputs":[{"name":"agent","type":"address"}],"name":"incrementScore","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// Reputation fires a best-effort on-chain score increment after a successful
// generate_proof call. Failures are logged and must never affect the
// caller's completion status.
type Reputation struct {
	client  *ethereum.Client
	address common.Address
	logger  *log.Logger
}

func NewReputation(client *ethereum.Client, registryAddress common.Address, logger *log.Logger) *Reputation {
	if logger == nil {
		logger = log.New(log.Writer(), "[Reputation] ", log.LstdFlags)
	}
	return &Reputation{client: client, address: registryAddress, logger: logger}
}

// Increment submits the incrementScore transaction, waits for it to be
// mined, and logs and discards the outcome. It runs synchronously, so
// callers that want "fire-and-forget" start it in a goroutine:
// go reputation.Increment(ctx, agent, privKey)
func (r *Reputation) Increment(ctx context.Context, agent common.Address, privateKeyHex string) {
	receipt, err := r.client.SendTransaction(ctx, r.address, reputationRegistryABI, privateKeyHex, "incrementScore", 100000, agent)
	if err != nil {
		r.logger.Printf("reputation increment failed for %s: %v", agent.Hex(), err)
		return
	}
	r.logger.Printf("reputation incremented for %s in tx %s", agent.Hex(), receipt.TxHash.Hex())
}
