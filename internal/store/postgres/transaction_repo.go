package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

type TransactionRepo struct {
	db *DB
}

func NewTransactionRepo(db *DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// InsertBatchTx records every transaction a block consumed, finalized and
// rejected alike. A resubmission of previously rejected bytes carries the
// same hash, so conflicts overwrite with the newest attempt's outcome.
func (r *TransactionRepo) InsertBatchTx(ctx context.Context, tx *sql.Tx, txns []*model.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO transactions (hash, kind, sender, nonce, signature, payload, status,
		                          block_sequence, position, reject_reason, finalized_at)
		VALUES `)

	args := make([]interface{}, 0, len(txns)*11)
	for i, t := range txns {
		payload, err := t.MarshalPayload()
		if err != nil {
			return fmt.Errorf("transaction %s: %w", t.Hash, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 11
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11)
		args = append(args,
			t.Hash, t.Kind, t.Sender, t.Nonce, t.Signature, []byte(payload), t.Status,
			t.BlockSequence, t.Position, t.RejectReason, t.FinalizedAt,
		)
	}

	sb.WriteString(`
		ON CONFLICT (hash)
		DO UPDATE SET status = EXCLUDED.status,
		              block_sequence = EXCLUDED.block_sequence,
		              position = EXCLUDED.position,
		              reject_reason = EXCLUDED.reject_reason,
		              finalized_at = EXCLUDED.finalized_at
	`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert transactions: %w", err)
	}
	return nil
}

func (r *TransactionRepo) Get(ctx context.Context, hash string) (*model.Transaction, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		SELECT hash, kind, sender, nonce, signature, payload, status,
		       block_sequence, position, reject_reason, created_at, finalized_at
		FROM transactions
		WHERE hash = $1
	`
	var t model.Transaction
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&t.Hash, &t.Kind, &t.Sender, &t.Nonce, &t.Signature, &payload, &t.Status,
		&t.BlockSequence, &t.Position, &t.RejectReason, &t.CreatedAt, &t.FinalizedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", hash, err)
	}
	if err := t.UnmarshalPayload(json.RawMessage(payload)); err != nil {
		return nil, fmt.Errorf("transaction %s payload: %w", hash, err)
	}
	return &t, nil
}

func (r *TransactionRepo) ListByBlock(ctx context.Context, blockSequence uint64) ([]model.Transaction, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		SELECT hash, kind, sender, nonce, signature, payload, status,
		       block_sequence, position, reject_reason, created_at, finalized_at
		FROM transactions
		WHERE block_sequence = $1
		ORDER BY position
	`
	rows, err := r.db.QueryContext(ctx, query, blockSequence)
	if err != nil {
		return nil, fmt.Errorf("query transactions for block %d: %w", blockSequence, err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var payload []byte
		if err := rows.Scan(
			&t.Hash, &t.Kind, &t.Sender, &t.Nonce, &t.Signature, &payload, &t.Status,
			&t.BlockSequence, &t.Position, &t.RejectReason, &t.CreatedAt, &t.FinalizedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if err := t.UnmarshalPayload(json.RawMessage(payload)); err != nil {
			return nil, fmt.Errorf("transaction %s payload: %w", t.Hash, err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
