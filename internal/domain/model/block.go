package model

import "time"

type BlockStatus string

const (
	BlockStatusBuilding  BlockStatus = "BUILDING"
	BlockStatusSealed    BlockStatus = "SEALED"
	BlockStatusProved    BlockStatus = "PROVED"
	BlockStatusCommitted BlockStatus = "COMMITTED"
	BlockStatusFailed    BlockStatus = "FAILED"
)

// Block sequences are gap-free and start at 1. Only COMMITTED blocks are
// ever stored; the earlier lifecycle states live in the producer.
type Block struct {
	Sequence        uint64      `db:"sequence"`
	Timestamp       time.Time   `db:"timestamp"`
	PreStateRoot    string      `db:"pre_state_root"`
	PostStateRoot   string      `db:"post_state_root"`
	WithdrawalsRoot string      `db:"withdrawals_root"`
	DepositCount    int         `db:"deposit_count"`
	TxCount         int         `db:"tx_count"`
	Proof           []byte      `db:"proof"`
	Status          BlockStatus `db:"status"`
	CommittedAt     *time.Time  `db:"committed_at"`
	CreatedAt       time.Time   `db:"created_at"`
}
