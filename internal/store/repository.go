package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

// TxBeginner abstracts the ability to begin a database transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// AccountRepository provides access to account nonce data.
// Get returns (nil, nil) when the address has never transacted.
type AccountRepository interface {
	Get(ctx context.Context, address string) (*model.Account, error)
	All(ctx context.Context) ([]model.Account, error)
	UpsertTx(ctx context.Context, tx *sql.Tx, accounts []model.Account) error
}

// BalanceKey uniquely identifies a balance row.
type BalanceKey struct {
	Address string
	AssetID model.AssetID
}

// BalanceRepository provides access to committed balance data. Amounts are
// absolute values, not deltas: the ledger is the source of truth and the
// store mirrors it row for row.
type BalanceRepository interface {
	Get(ctx context.Context, address string, assetID model.AssetID) (*model.Balance, error)
	GetByAddress(ctx context.Context, address string) ([]model.Balance, error)
	All(ctx context.Context) ([]model.Balance, error)
	UpsertTx(ctx context.Context, tx *sql.Tx, balances []model.Balance) error
	DeleteTx(ctx context.Context, tx *sql.Tx, keys []BalanceKey) error
}

// BlockRepository provides access to committed block data.
// Latest returns (nil, nil) when no block has been committed yet.
type BlockRepository interface {
	InsertTx(ctx context.Context, tx *sql.Tx, b *model.Block) error
	Get(ctx context.Context, sequence uint64) (*model.Block, error)
	Latest(ctx context.Context) (*model.Block, error)
	List(ctx context.Context, limit int) ([]model.Block, error)
}

// TransactionRepository provides access to sequenced transaction data.
type TransactionRepository interface {
	InsertBatchTx(ctx context.Context, tx *sql.Tx, txns []*model.Transaction) error
	Get(ctx context.Context, hash string) (*model.Transaction, error)
	ListByBlock(ctx context.Context, blockSequence uint64) ([]model.Transaction, error)
}

// DepositRepository provides access to observed deposit events. Insert
// reports whether the row was new; a replay of the same
// (chain_id, source_tx_hash, log_index) is swallowed and reports false.
// PromoteSeen flips SEEN rows at or below the confirmation horizon to
// CONFIRMED; DiscardSeenFrom deletes SEEN rows orphaned by a reorg.
// CONFIRMED and APPLIED rows are never unwound.
type DepositRepository interface {
	Insert(ctx context.Context, d *model.DepositEvent) (bool, error)
	PromoteSeen(ctx context.Context, chainID model.ChainID, confirmedHeight int64) (int64, error)
	DiscardSeenFrom(ctx context.Context, chainID model.ChainID, fromHeight int64) (int64, error)
	ListConfirmed(ctx context.Context, limit int) ([]model.DepositEvent, error)
	MarkAppliedTx(ctx context.Context, tx *sql.Tx, ids []uuid.UUID, blockSequence uint64) error
	CountConfirmed(ctx context.Context) (int64, error)
}

// DealFilter narrows DealRepository.List. Zero-valued fields match
// everything.
type DealFilter struct {
	Status model.DealStatus
	Maker  string
	Taker  string
	Limit  int
}

// DealRepository provides access to deal data. All returns every deal
// regardless of status; settled and cancelled deals stay part of the state
// root and must survive a restart.
type DealRepository interface {
	UpsertTx(ctx context.Context, tx *sql.Tx, deals []*model.Deal) error
	Get(ctx context.Context, id uint64) (*model.Deal, error)
	List(ctx context.Context, f DealFilter) ([]model.Deal, error)
	All(ctx context.Context) ([]model.Deal, error)
}

// CursorRepository provides access to watcher scan cursors. Upsert is the
// watcher's own write and may rewind the cursor after a reorg; AdvanceTx is
// the commit-path write and only ever raises it.
type CursorRepository interface {
	Get(ctx context.Context, chainID model.ChainID) (*model.WatcherCursor, error)
	Upsert(ctx context.Context, c *model.WatcherCursor) error
	AdvanceTx(ctx context.Context, tx *sql.Tx, chainID model.ChainID, height int64) error
}

// ScannedBlockRepository provides access to scanned source-chain block
// metadata used for reorg detection across restarts.
type ScannedBlockRepository interface {
	BulkUpsert(ctx context.Context, blocks []model.ScannedBlock) error
	GetRecent(ctx context.Context, chainID model.ChainID, limit int) ([]model.ScannedBlock, error)
	DeleteFrom(ctx context.Context, chainID model.ChainID, fromHeight int64) error
	PruneBefore(ctx context.Context, chainID model.ChainID, beforeHeight int64) (int64, error)
}
