package postgres

import (
	"context"
	"fmt"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

// ReconciliationRepo implements reconciliation.StoreSums. The three sums it
// exposes are the terms of the conservation identity:
// applied deposits - finalized withdrawals = committed balances, per asset.
type ReconciliationRepo struct {
	db *DB
}

func NewReconciliationRepo(db *DB) *ReconciliationRepo {
	return &ReconciliationRepo{db: db}
}

func (r *ReconciliationRepo) SumBalancesByAsset(ctx context.Context) (map[model.AssetID]string, error) {
	const query = `
		SELECT asset_id, COALESCE(SUM(amount), 0)::text
		FROM balances
		GROUP BY asset_id
	`
	return r.sumByAsset(ctx, query, "sum balances")
}

func (r *ReconciliationRepo) SumAppliedDepositsByAsset(ctx context.Context) (map[model.AssetID]string, error) {
	const query = `
		SELECT asset_id, COALESCE(SUM(amount), 0)::text
		FROM deposits
		WHERE status = 'APPLIED'
		GROUP BY asset_id
	`
	return r.sumByAsset(ctx, query, "sum applied deposits")
}

func (r *ReconciliationRepo) SumFinalizedWithdrawalsByAsset(ctx context.Context) (map[model.AssetID]string, error) {
	const query = `
		SELECT (payload->>'asset_id')::int, COALESCE(SUM((payload->>'amount')::numeric), 0)::text
		FROM transactions
		WHERE kind = 'WITHDRAW' AND status = 'FINALIZED'
		GROUP BY 1
	`
	return r.sumByAsset(ctx, query, "sum finalized withdrawals")
}

func (r *ReconciliationRepo) sumByAsset(ctx context.Context, query string, op string) (map[model.AssetID]string, error) {
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	sums := make(map[model.AssetID]string)
	for rows.Next() {
		var asset model.AssetID
		var total string
		if err := rows.Scan(&asset, &total); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		sums[asset] = total
	}
	return sums, rows.Err()
}
