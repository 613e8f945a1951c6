package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

// ScannedBlockRepo keeps the hashes of recently scanned source-chain blocks
// so the watcher can detect reorgs that happened while it was down.
type ScannedBlockRepo struct {
	db *DB
}

func NewScannedBlockRepo(db *DB) *ScannedBlockRepo {
	return &ScannedBlockRepo{db: db}
}

func (r *ScannedBlockRepo) BulkUpsert(ctx context.Context, blocks []model.ScannedBlock) error {
	if len(blocks) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO scanned_blocks (chain_id, height, block_hash, parent_hash)
		VALUES `)

	args := make([]interface{}, 0, len(blocks)*4)
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4)
		args = append(args, b.ChainID, b.Height, b.BlockHash, b.ParentHash)
	}

	sb.WriteString(`
		ON CONFLICT (chain_id, height)
		DO UPDATE SET block_hash = EXCLUDED.block_hash,
		              parent_hash = EXCLUDED.parent_hash,
		              scanned_at = now()
	`)

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("bulk upsert scanned blocks: %w", err)
	}
	return nil
}

// GetRecent returns the newest scanned blocks for the chain, highest first.
func (r *ScannedBlockRepo) GetRecent(ctx context.Context, chainID model.ChainID, limit int) ([]model.ScannedBlock, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		SELECT chain_id, height, block_hash, parent_hash, scanned_at
		FROM scanned_blocks
		WHERE chain_id = $1
		ORDER BY height DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("query scanned blocks: %w", err)
	}
	defer rows.Close()

	var blocks []model.ScannedBlock
	for rows.Next() {
		var b model.ScannedBlock
		if err := rows.Scan(&b.ChainID, &b.Height, &b.BlockHash, &b.ParentHash, &b.ScannedAt); err != nil {
			return nil, fmt.Errorf("scan scanned block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// DeleteFrom discards remembered blocks at and above fromHeight after a
// reorg invalidates them.
func (r *ScannedBlockRepo) DeleteFrom(ctx context.Context, chainID model.ChainID, fromHeight int64) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		DELETE FROM scanned_blocks
		WHERE chain_id = $1 AND height >= $2
	`
	if _, err := r.db.ExecContext(ctx, query, chainID, fromHeight); err != nil {
		return fmt.Errorf("delete scanned blocks from %d: %w", fromHeight, err)
	}
	return nil
}

// PruneBefore drops blocks old enough that no plausible reorg reaches them.
func (r *ScannedBlockRepo) PruneBefore(ctx context.Context, chainID model.ChainID, beforeHeight int64) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		DELETE FROM scanned_blocks
		WHERE chain_id = $1 AND height < $2
	`
	result, err := r.db.ExecContext(ctx, query, chainID, beforeHeight)
	if err != nil {
		return 0, fmt.Errorf("prune scanned blocks before %d: %w", beforeHeight, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune scanned blocks rows affected: %w", err)
	}
	return n, nil
}
