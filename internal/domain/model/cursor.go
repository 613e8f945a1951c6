package model

import "time"

// WatcherCursor records the highest source-chain height whose logs have been
// scanned and persisted. A crash between deposit insert and cursor advance
// only causes a rescan; the deposit dedupe key absorbs the duplicates.
type WatcherCursor struct {
	ChainID   ChainID   `db:"chain_id"`
	Height    int64     `db:"height"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ScannedBlock remembers the hash of a scanned source-chain block so a
// restart can still detect that the chain reorganized under the cursor.
type ScannedBlock struct {
	ChainID    ChainID   `db:"chain_id"`
	Height     int64     `db:"height"`
	BlockHash  string    `db:"block_hash"`
	ParentHash string    `db:"parent_hash"`
	ScannedAt  time.Time `db:"scanned_at"`
}
