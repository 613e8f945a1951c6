package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

type AccountRepo struct {
	db *DB
}

func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

func (r *AccountRepo) Get(ctx context.Context, address string) (*model.Account, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const query = `
		SELECT address, nonce, updated_at
		FROM accounts
		WHERE address = $1
	`
	var a model.Account
	err := r.db.QueryRowContext(ctx, query, address).Scan(&a.Address, &a.Nonce, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	return &a, nil
}

// All streams every account row, for rebuilding the ledger on boot.
func (r *AccountRepo) All(ctx context.Context) ([]model.Account, error) {
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	const query = `
		SELECT address, nonce, updated_at
		FROM accounts
		ORDER BY address
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.Address, &a.Nonce, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *AccountRepo) UpsertTx(ctx context.Context, tx *sql.Tx, accounts []model.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO accounts (address, nonce)
		VALUES `)

	args := make([]interface{}, 0, len(accounts)*2)
	for i, a := range accounts {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 2
		fmt.Fprintf(&sb, "($%d, $%d)", base+1, base+2)
		args = append(args, a.Address, a.Nonce)
	}

	sb.WriteString(`
		ON CONFLICT (address)
		DO UPDATE SET nonce = EXCLUDED.nonce,
		              updated_at = now()
	`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert accounts: %w", err)
	}
	return nil
}
