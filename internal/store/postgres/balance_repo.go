package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Alert17/zkclear-core/internal/domain/model"
	"github.com/Alert17/zkclear-core/internal/store"
)

type BalanceRepo struct {
	db *DB
}

func NewBalanceRepo(db *DB) *BalanceRepo {
	return &BalanceRepo{db: db}
}

func (r *BalanceRepo) Get(ctx context.Context, address string, assetID model.AssetID) (*model.Balance, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		SELECT address, asset_id, amount::text, updated_at
		FROM balances
		WHERE address = $1 AND asset_id = $2
	`
	var b model.Balance
	err := r.db.QueryRowContext(ctx, query, address, assetID).Scan(&b.Address, &b.AssetID, &b.Amount, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s/%d: %w", address, assetID, err)
	}
	return &b, nil
}

func (r *BalanceRepo) GetByAddress(ctx context.Context, address string) ([]model.Balance, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		SELECT address, asset_id, amount::text, updated_at
		FROM balances
		WHERE address = $1
		ORDER BY asset_id
	`
	rows, err := r.db.QueryContext(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("query balances for %s: %w", address, err)
	}
	defer rows.Close()

	return scanBalances(rows)
}

// All streams every balance row, for rebuilding the ledger on boot.
func (r *BalanceRepo) All(ctx context.Context) ([]model.Balance, error) {
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	const query = `
		SELECT address, asset_id, amount::text, updated_at
		FROM balances
		ORDER BY address, asset_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	return scanBalances(rows)
}

// UpsertTx writes absolute amounts. The ledger already applied the block;
// the store just mirrors the resulting rows.
func (r *BalanceRepo) UpsertTx(ctx context.Context, tx *sql.Tx, balances []model.Balance) error {
	if len(balances) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO balances (address, asset_id, amount)
		VALUES `)

	args := make([]interface{}, 0, len(balances)*3)
	for i, b := range balances {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 3
		fmt.Fprintf(&sb, "($%d, $%d, $%d::numeric)", base+1, base+2, base+3)
		args = append(args, b.Address, b.AssetID, b.Amount)
	}

	sb.WriteString(`
		ON CONFLICT (address, asset_id)
		DO UPDATE SET amount = EXCLUDED.amount,
		              updated_at = now()
	`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert balances: %w", err)
	}
	return nil
}

// DeleteTx removes rows the ledger dropped to zero. Deleting an absent row
// is a no-op.
func (r *BalanceRepo) DeleteTx(ctx context.Context, tx *sql.Tx, keys []store.BalanceKey) error {
	if len(keys) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`DELETE FROM balances WHERE (address, asset_id) IN (`)

	args := make([]interface{}, 0, len(keys)*2)
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 2
		fmt.Fprintf(&sb, "($%d, $%d)", base+1, base+2)
		args = append(args, k.Address, k.AssetID)
	}
	sb.WriteString(`)`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("delete balances: %w", err)
	}
	return nil
}

func scanBalances(rows *sql.Rows) ([]model.Balance, error) {
	var balances []model.Balance
	for rows.Next() {
		var b model.Balance
		if err := rows.Scan(&b.Address, &b.AssetID, &b.Amount, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
