package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ProofRecord is an audit-trail entry for a generated proof.
type ProofRecord struct {
	ID              string
	TaskID          string
	CircuitID       string
	Fingerprint     string
	ProofHex        string
	PublicInputsHex string
	CreatedAt       time.Time
}

// InsertProofRecord records a completed proof generation for audit purposes.
func (c *Client) InsertProofRecord(ctx context.Context, r ProofRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO proofs (id, task_id, circuit_id, fingerprint, proof_hex, public_inputs_hex)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.TaskID, r.CircuitID, r.Fingerprint, r.ProofHex, r.PublicInputsHex)
	if err != nil {
		return fmt.Errorf("database: insert proof record: %w", err)
	}
	return nil
}

// GetProofByTaskID looks up the audit record for a task's generated proof.
func (c *Client) GetProofByTaskID(ctx context.Context, taskID string) (*ProofRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, task_id, circuit_id, fingerprint, proof_hex, public_inputs_hex, created_at
		FROM proofs WHERE task_id = $1 ORDER BY created_at DESC LIMIT 1`, taskID)

	var r ProofRecord
	if err := row.Scan(&r.ID, &r.TaskID, &r.CircuitID, &r.Fingerprint, &r.ProofHex, &r.PublicInputsHex, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProofNotFound
		}
		return nil, fmt.Errorf("database: get proof by task id: %w", err)
	}
	return &r, nil
}

// PaymentRecord is an audit-trail entry mirroring a settled/refunded payment.
type PaymentRecord struct {
	ID        string
	TaskID    string
	Payer     string
	Amount    string
	Network   string
	Status    string
	TxHash    string
	SettledAt *time.Time
	CreatedAt time.Time
}

// InsertPaymentRecord records a payment's terminal state for audit purposes.
func (c *Client) InsertPaymentRecord(ctx context.Context, r PaymentRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO settled_payments (id, task_id, payer, amount, network, status, tx_hash, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET status = $6, tx_hash = $7, settled_at = $8`,
		r.ID, r.TaskID, r.Payer, r.Amount, r.Network, r.Status, nullString(r.TxHash), r.SettledAt)
	if err != nil {
		return fmt.Errorf("database: insert payment record: %w", err)
	}
	return nil
}

// GetPaymentByTaskID looks up the audit record for a task's payment.
func (c *Client) GetPaymentByTaskID(ctx context.Context, taskID string) (*PaymentRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, task_id, payer, amount, network, status, COALESCE(tx_hash, ''), settled_at, created_at
		FROM settled_payments WHERE task_id = $1 ORDER BY created_at DESC LIMIT 1`, taskID)

	var r PaymentRecord
	if err := row.Scan(&r.ID, &r.TaskID, &r.Payer, &r.Amount, &r.Network, &r.Status, &r.TxHash, &r.SettledAt, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("database: get payment by task id: %w", err)
	}
	return &r, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
