package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

type DepositRepo struct {
	db *DB
}

func NewDepositRepo(db *DB) *DepositRepo {
	return &DepositRepo{db: db}
}

// Insert records a newly observed deposit and reports whether the row was
// new. Rescans of the same (chain_id, source_tx_hash, log_index) land on the
// unique constraint and report false.
func (r *DepositRepo) Insert(ctx context.Context, d *model.DepositEvent) (bool, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		INSERT INTO deposits (id, chain_id, source_tx_hash, log_index, depositor, asset_id, amount, source_height, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)
		ON CONFLICT (chain_id, source_tx_hash, log_index) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		d.ID, d.ChainID, d.SourceTxHash, d.LogIndex, d.Depositor, d.AssetID, d.Amount, d.SourceHeight, d.Status,
	)
	if err != nil {
		return false, fmt.Errorf("insert deposit %s: %w", d.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert deposit rows affected: %w", err)
	}
	return n > 0, nil
}

// PromoteSeen flips SEEN deposits at or below the confirmation horizon to
// CONFIRMED and returns the number of rows promoted.
func (r *DepositRepo) PromoteSeen(ctx context.Context, chainID model.ChainID, confirmedHeight int64) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		UPDATE deposits
		SET status = $1, updated_at = now()
		WHERE chain_id = $2 AND status = $3 AND source_height <= $4
	`
	res, err := r.db.ExecContext(ctx, query,
		model.DepositStatusConfirmed, chainID, model.DepositStatusSeen, confirmedHeight,
	)
	if err != nil {
		return 0, fmt.Errorf("promote seen deposits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("promote seen rows affected: %w", err)
	}
	return n, nil
}

// DiscardSeenFrom deletes SEEN deposits at or above fromHeight. Called on a
// reorg rewind; rows that reached CONFIRMED are left alone.
func (r *DepositRepo) DiscardSeenFrom(ctx context.Context, chainID model.ChainID, fromHeight int64) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		DELETE FROM deposits
		WHERE chain_id = $1 AND status = $2 AND source_height >= $3
	`
	res, err := r.db.ExecContext(ctx, query, chainID, model.DepositStatusSeen, fromHeight)
	if err != nil {
		return 0, fmt.Errorf("discard seen deposits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("discard seen rows affected: %w", err)
	}
	return n, nil
}

// ListConfirmed returns deposits awaiting inclusion, in the canonical apply
// order: source height, then chain, then log index.
func (r *DepositRepo) ListConfirmed(ctx context.Context, limit int) ([]model.DepositEvent, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		SELECT id, chain_id, source_tx_hash, log_index, depositor, asset_id, amount::text,
		       source_height, status, block_sequence, created_at, updated_at
		FROM deposits
		WHERE status = $1
		ORDER BY source_height, chain_id, log_index
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, model.DepositStatusConfirmed, limit)
	if err != nil {
		return nil, fmt.Errorf("query confirmed deposits: %w", err)
	}
	defer rows.Close()

	var deposits []model.DepositEvent
	for rows.Next() {
		var d model.DepositEvent
		if err := rows.Scan(
			&d.ID, &d.ChainID, &d.SourceTxHash, &d.LogIndex, &d.Depositor, &d.AssetID, &d.Amount,
			&d.SourceHeight, &d.Status, &d.BlockSequence, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

// MarkAppliedTx flips deposits to APPLIED inside the block commit, binding
// them to the block that credited them.
func (r *DepositRepo) MarkAppliedTx(ctx context.Context, tx *sql.Tx, ids []uuid.UUID, blockSequence uint64) error {
	if len(ids) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		UPDATE deposits
		SET status = $1, block_sequence = $2, updated_at = now()
		WHERE id IN (`)

	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, model.DepositStatusApplied, blockSequence)
	for i, id := range ids {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d", i+3)
		args = append(args, id)
	}
	sb.WriteString(`)`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("mark deposits applied: %w", err)
	}
	return nil
}

func (r *DepositRepo) CountConfirmed(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deposits WHERE status = $1`, model.DepositStatusConfirmed,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count confirmed deposits: %w", err)
	}
	return n, nil
}
