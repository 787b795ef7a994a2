// Package ethereum wraps go-ethereum's ethclient with the read/call/send
// surface the on-chain verifier, identity registrar and reputation hook
// need: a dial, a view call, and a signed transaction send.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is a thin wrapper over ethclient scoped to a single chain.
type Client struct {
	client  *ethclient.Client
	chainID *big.Int
}

// NewClient dials an RPC endpoint for the given chain id.
func NewClient(url string, chainID int64) (*Client, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("ethereum: dial: %w", err)
	}
	return &Client{client: client, chainID: big.NewInt(chainID)}, nil
}

// GetPublicAddress derives the address corresponding to a hex private key.
func GetPublicAddress(privateKeyHex string) (common.Address, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("ethereum: parse private key: %w", err)
	}
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return common.Address{}, fmt.Errorf("ethereum: cast public key to ECDSA")
	}
	return crypto.PubkeyToAddress(*publicKeyECDSA), nil
}

// CreateTransactor builds a bind.TransactOpts from a hex private key.
func (c *Client) CreateTransactor(privateKeyHex string) (*bind.TransactOpts, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("ethereum: parse private key: %w", err)
	}
	return bind.NewKeyedTransactorWithChainID(privateKey, c.chainID)
}

// CallContract ABI-encodes a view-function call, executes it and unpacks the
// result. Used by the on-chain verifier and the identity registrar's
// is-registered check.
func (c *Client) CallContract(ctx context.Context, contractAddr common.Address, abiJSON, method string, params ...interface{}) ([]interface{}, error) {
	contractABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("ethereum: parse abi: %w", err)
	}
	callData, err := contractABI.Pack(method, params...)
	if err != nil {
		return nil, fmt.Errorf("ethereum: pack call: %w", err)
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contractAddr,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("ethereum: call: %w", err)
	}
	outputs, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("ethereum: unpack result: %w", err)
	}
	return outputs, nil
}

// SendTransaction signs and submits a state-changing call with a single
// attempt (the settlement worker's own retry loop drives repeated calls
// rather than retrying inside the client).
func (c *Client) SendTransaction(ctx context.Context, contractAddr common.Address, abiJSON, privateKeyHex, method string, gasLimit uint64, params ...interface{}) (*types.Receipt, error) {
	contractABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("ethereum: parse abi: %w", err)
	}
	callData, err := contractABI.Pack(method, params...)
	if err != nil {
		return nil, fmt.Errorf("ethereum: pack call: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("ethereum: parse private key: %w", err)
	}
	fromAddress := crypto.PubkeyToAddress(privateKey.PublicKey)

	nonce, err := c.client.PendingNonceAt(ctx, fromAddress)
	if err != nil {
		return nil, fmt.Errorf("ethereum: nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("ethereum: gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, contractAddr, big.NewInt(0), gasLimit, gasPrice, callData)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), privateKey)
	if err != nil {
		return nil, fmt.Errorf("ethereum: sign: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("ethereum: send: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, c.client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("ethereum: wait mined: %w", err)
	}
	return receipt, nil
}

// Health reports whether the RPC endpoint is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := c.client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("ethereum: health check: %w", err)
	}
	return nil
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int { return c.chainID }

// Raw exposes the underlying ethclient for callers that need lower-level access.
func (c *Client) Raw() *ethclient.Client { return c.client }
