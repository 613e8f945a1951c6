package model

import "time"

// Balance is one (address, asset) row of committed state. Balances only
// change when a block commits.
type Balance struct {
	Address   string    `db:"address"`
	AssetID   AssetID   `db:"asset_id"`
	Amount    string    `db:"amount"` // NUMERIC(39,0) as string
	UpdatedAt time.Time `db:"updated_at"`
}

// Account carries the per-address replay-protection nonce. The nonce
// advances only when a signed transaction from the address finalizes.
type Account struct {
	Address   string    `db:"address"`
	Nonce     uint64    `db:"nonce"`
	UpdatedAt time.Time `db:"updated_at"`
}
