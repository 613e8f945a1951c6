package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

type BlockRepo struct {
	db *DB
}

func NewBlockRepo(db *DB) *BlockRepo {
	return &BlockRepo{db: db}
}

const blockColumns = `sequence, block_time, pre_state_root, post_state_root, withdrawals_root,
	       deposit_count, tx_count, proof, status, committed_at, created_at`

func (r *BlockRepo) InsertTx(ctx context.Context, tx *sql.Tx, b *model.Block) error {
	const query = `
		INSERT INTO blocks (sequence, block_time, pre_state_root, post_state_root, withdrawals_root,
		                    deposit_count, tx_count, proof, status, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		b.Sequence, b.Timestamp, b.PreStateRoot, b.PostStateRoot, b.WithdrawalsRoot,
		b.DepositCount, b.TxCount, b.Proof, b.Status, b.CommittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert block %d: %w", b.Sequence, err)
	}
	return nil
}

func (r *BlockRepo) Get(ctx context.Context, sequence uint64) (*model.Block, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	query := `
		SELECT ` + blockColumns + `
		FROM blocks
		WHERE sequence = $1
	`
	b, err := scanBlock(r.db.QueryRowContext(ctx, query, sequence))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get block %d: %w", sequence, err)
	}
	return b, nil
}

// Latest returns the highest committed block, or (nil, nil) before genesis.
func (r *BlockRepo) Latest(ctx context.Context) (*model.Block, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	query := `
		SELECT ` + blockColumns + `
		FROM blocks
		ORDER BY sequence DESC
		LIMIT 1
	`
	b, err := scanBlock(r.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest block: %w", err)
	}
	return b, nil
}

// List returns the most recent blocks, newest first.
func (r *BlockRepo) List(ctx context.Context, limit int) ([]model.Block, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	query := `
		SELECT ` + blockColumns + `
		FROM blocks
		ORDER BY sequence DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		var b model.Block
		if err := rows.Scan(
			&b.Sequence, &b.Timestamp, &b.PreStateRoot, &b.PostStateRoot, &b.WithdrawalsRoot,
			&b.DepositCount, &b.TxCount, &b.Proof, &b.Status, &b.CommittedAt, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func scanBlock(row *sql.Row) (*model.Block, error) {
	var b model.Block
	err := row.Scan(
		&b.Sequence, &b.Timestamp, &b.PreStateRoot, &b.PostStateRoot, &b.WithdrawalsRoot,
		&b.DepositCount, &b.TxCount, &b.Proof, &b.Status, &b.CommittedAt, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
