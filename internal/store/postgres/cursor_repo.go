package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

type CursorRepo struct {
	db *DB
}

func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

func (r *CursorRepo) Get(ctx context.Context, chainID model.ChainID) (*model.WatcherCursor, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		SELECT chain_id, height, updated_at
		FROM watcher_cursors
		WHERE chain_id = $1
	`
	var c model.WatcherCursor
	err := r.db.QueryRowContext(ctx, query, chainID).Scan(&c.ChainID, &c.Height, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor for chain %d: %w", chainID, err)
	}
	return &c, nil
}

func (r *CursorRepo) Upsert(ctx context.Context, c *model.WatcherCursor) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		INSERT INTO watcher_cursors (chain_id, height)
		VALUES ($1, $2)
		ON CONFLICT (chain_id)
		DO UPDATE SET height = EXCLUDED.height,
		              updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, c.ChainID, c.Height); err != nil {
		return fmt.Errorf("upsert cursor for chain %d: %w", c.ChainID, err)
	}
	return nil
}

// AdvanceTx raises the cursor inside a block commit, binding the consumed
// deposits' scan progress to the block that applied them. GREATEST keeps a
// fresher watcher-written cursor from being dragged backwards.
func (r *CursorRepo) AdvanceTx(ctx context.Context, tx *sql.Tx, chainID model.ChainID, height int64) error {
	const query = `
		INSERT INTO watcher_cursors (chain_id, height)
		VALUES ($1, $2)
		ON CONFLICT (chain_id)
		DO UPDATE SET height = GREATEST(watcher_cursors.height, EXCLUDED.height),
		              updated_at = now()
	`
	if _, err := tx.ExecContext(ctx, query, chainID, height); err != nil {
		return fmt.Errorf("advance cursor for chain %d: %w", chainID, err)
	}
	return nil
}
