package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DepositStatus string

const (
	DepositStatusSeen      DepositStatus = "SEEN"
	DepositStatusConfirmed DepositStatus = "CONFIRMED"
	DepositStatusApplied   DepositStatus = "APPLIED"
)

// DepositEvent is a deposit observed on a source chain. The triple
// (chain_id, source_tx_hash, log_index) identifies it across rescans.
type DepositEvent struct {
	ID            uuid.UUID     `db:"id"`
	ChainID       ChainID       `db:"chain_id"`
	SourceTxHash  string        `db:"source_tx_hash"`
	LogIndex      uint32        `db:"log_index"`
	Depositor     string        `db:"depositor"`
	AssetID       AssetID       `db:"asset_id"`
	Amount        string        `db:"amount"` // NUMERIC(39,0) as string
	SourceHeight  int64         `db:"source_height"`
	Status        DepositStatus `db:"status"`
	BlockSequence *uint64       `db:"block_sequence"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
}

// Key returns the dedupe identity of the event.
func (d *DepositEvent) Key() string {
	return fmt.Sprintf("%d:%s:%d", d.ChainID, d.SourceTxHash, d.LogIndex)
}
