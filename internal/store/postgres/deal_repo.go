package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Alert17/zkclear-core/internal/domain/model"
	"github.com/Alert17/zkclear-core/internal/store"
)

type DealRepo struct {
	db *DB
}

func NewDealRepo(db *DB) *DealRepo {
	return &DealRepo{db: db}
}

const dealColumns = `id, maker, taker, visibility, base_asset, quote_asset, base_chain_id, quote_chain_id,
	       base_amount::text, remaining_amount::text, price_per_base::text, status, is_cross_chain,
	       external_ref, created_at, expires_at, updated_at`

func (r *DealRepo) UpsertTx(ctx context.Context, tx *sql.Tx, deals []*model.Deal) error {
	if len(deals) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO deals (id, maker, taker, visibility, base_asset, quote_asset, base_chain_id, quote_chain_id,
		                   base_amount, remaining_amount, price_per_base, status, is_cross_chain,
		                   external_ref, created_at, expires_at)
		VALUES `)

	args := make([]interface{}, 0, len(deals)*16)
	for i, d := range deals {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 16
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::numeric, $%d::numeric, $%d::numeric, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
			base+9, base+10, base+11, base+12, base+13, base+14, base+15, base+16)
		args = append(args,
			d.ID, d.Maker, d.Taker, d.Visibility, d.BaseAsset, d.QuoteAsset, d.BaseChainID, d.QuoteChainID,
			d.BaseAmount, d.RemainingAmount, d.PricePerBase, d.Status, d.IsCrossChain,
			d.ExternalRef, d.CreatedAt, d.ExpiresAt,
		)
	}

	sb.WriteString(`
		ON CONFLICT (id)
		DO UPDATE SET remaining_amount = EXCLUDED.remaining_amount,
		              status = EXCLUDED.status,
		              updated_at = now()
	`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert deals: %w", err)
	}
	return nil
}

func (r *DealRepo) Get(ctx context.Context, id uint64) (*model.Deal, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	query := `
		SELECT ` + dealColumns + `
		FROM deals
		WHERE id = $1
	`
	var d model.Deal
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.Maker, &d.Taker, &d.Visibility, &d.BaseAsset, &d.QuoteAsset, &d.BaseChainID, &d.QuoteChainID,
		&d.BaseAmount, &d.RemainingAmount, &d.PricePerBase, &d.Status, &d.IsCrossChain,
		&d.ExternalRef, &d.CreatedAt, &d.ExpiresAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deal %d: %w", id, err)
	}
	return &d, nil
}

func (r *DealRepo) List(ctx context.Context, f store.DealFilter) ([]model.Deal, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`SELECT ` + dealColumns + ` FROM deals`)

	var conds []string
	var args []interface{}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Maker != "" {
		args = append(args, f.Maker)
		conds = append(conds, fmt.Sprintf("maker = $%d", len(args)))
	}
	if f.Taker != "" {
		args = append(args, f.Taker)
		conds = append(conds, fmt.Sprintf("taker = $%d", len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY id")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	return scanDeals(rows)
}

// All streams every deal regardless of status, for rebuilding the ledger on
// boot. Settled and cancelled deals stay part of the state root.
func (r *DealRepo) All(ctx context.Context) ([]model.Deal, error) {
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	query := `
		SELECT ` + dealColumns + `
		FROM deals
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	return scanDeals(rows)
}

func scanDeals(rows *sql.Rows) ([]model.Deal, error) {
	var deals []model.Deal
	for rows.Next() {
		var d model.Deal
		if err := rows.Scan(
			&d.ID, &d.Maker, &d.Taker, &d.Visibility, &d.BaseAsset, &d.QuoteAsset, &d.BaseChainID, &d.QuoteChainID,
			&d.BaseAmount, &d.RemainingAmount, &d.PricePerBase, &d.Status, &d.IsCrossChain,
			&d.ExternalRef, &d.CreatedAt, &d.ExpiresAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}
