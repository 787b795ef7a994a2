// Package settlement implements the periodic sweep of pending payments to
// an operator-funded USDC transfer, following the teacher's ticker+select
// scheduler shape but driving the payment facilitator's Settle transition
// instead of a batch-anchoring callback.
package settlement

import (
	"context"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/provenanceagent/proof-agent/pkg/database"
	"github.com/provenanceagent/proof-agent/pkg/ethereum"
	"github.com/provenanceagent/proof-agent/pkg/payment"
)

const usdcTransferABI = `[{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

const maxRetriesPerRecord = 3

// TransferFunc performs a single USDC transfer of amount (6-decimal integer
// units) to `to`. Production wiring points this at an ethereum.Client;
// tests substitute a fake to exercise the retry-cap behavior without a
// live chain.
type TransferFunc func(ctx context.Context, to common.Address, amountUSDC int64) error

// ChainTransfer builds a TransferFunc backed by a real ethereum.Client call
// to the configured USDC contract's transfer(address,uint256).
func ChainTransfer(client *ethereum.Client, usdcAddress common.Address, operatorKeyHex string) TransferFunc {
	return func(ctx context.Context, to common.Address, amountUSDC int64) error {
		_, err := client.SendTransaction(ctx, usdcAddress, usdcTransferABI, operatorKeyHex, "transfer", 100000, to, big.NewInt(amountUSDC))
		return err
	}
}

// Worker periodically sweeps all pending payments and attempts to settle
// each with an on-chain USDC transfer from the configured operator wallet.
type Worker struct {
	facilitator  *payment.Facilitator
	transfer     TransferFunc
	pollInterval time.Duration
	logger       *log.Logger

	mu      sync.Mutex
	retries map[string]int // per-record failure count, reset on restart by design

	audit *database.Client

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWorker(facilitator *payment.Facilitator, transfer TransferFunc, pollInterval time.Duration, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.New(log.Writer(), "[Settlement] ", log.LstdFlags)
	}
	return &Worker{
		facilitator:  facilitator,
		transfer:     transfer,
		pollInterval: pollInterval,
		logger:       logger,
		retries:      make(map[string]int),
	}
}

// SetAuditClient wires an optional Postgres mirror for settled payments.
// Left unset, the worker never touches the database.
func (w *Worker) SetAuditClient(db *database.Client) {
	w.audit = db
}

// Start begins the sweep loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (w *Worker) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs a single pass over all pending payments. Exported so callers
// (and tests) can drive individual cycles deterministically instead of
// waiting on the ticker.
func (w *Worker) Sweep(ctx context.Context) {
	pending, err := w.facilitator.Pending(ctx)
	if err != nil {
		w.logger.Printf("failed to list pending payments: %v", err)
		return
	}

	for _, rec := range pending {
		w.mu.Lock()
		count := w.retries[rec.ID]
		w.mu.Unlock()
		if count >= maxRetriesPerRecord {
			continue // permanently skipped for this process's lifetime
		}

		if err := w.settleOne(ctx, rec); err != nil {
			w.mu.Lock()
			w.retries[rec.ID]++
			attempt := w.retries[rec.ID]
			w.mu.Unlock()
			w.logger.Printf("settlement attempt %d/%d failed for payment %s: %v", attempt, maxRetriesPerRecord, rec.ID, err)
			continue
		}

		settled, err := w.facilitator.Settle(ctx, rec.ID)
		if err != nil {
			w.logger.Printf("on-chain transfer succeeded but Settle(%s) failed: %v", rec.ID, err)
			continue
		}
		if w.audit != nil {
			w.mirrorPaymentRecord(ctx, settled)
		}
	}
}

// mirrorPaymentRecord persists a settled payment to the optional Postgres
// audit trail. Failures are logged, never fatal: the kv-backed Facilitator
// record remains the source of truth for payment state.
func (w *Worker) mirrorPaymentRecord(ctx context.Context, rec *payment.Record) {
	now := time.Now().UTC()
	record := database.PaymentRecord{
		ID:        uuid.NewString(),
		TaskID:    rec.TaskID,
		Payer:     rec.PayerAddress,
		Amount:    rec.Amount,
		Network:   rec.Network,
		Status:    string(rec.Status),
		SettledAt: &now,
	}
	if err := w.audit.InsertPaymentRecord(ctx, record); err != nil {
		w.logger.Printf("payment %s: audit mirror failed: %v", rec.ID, err)
	}
}

func (w *Worker) settleOne(ctx context.Context, rec *payment.Record) error {
	amount, err := ParseUSDCAmount(rec.Amount)
	if err != nil {
		return err
	}
	return w.transfer(ctx, common.HexToAddress(rec.PayerAddress), amount)
}
