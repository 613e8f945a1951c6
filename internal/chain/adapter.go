package chain

import (
	"context"
	"time"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

// Adapter abstracts per-chain RPC access so the deposit watcher operates
// chain-agnostically.
type Adapter interface {
	// ChainID returns the chain this adapter is connected to.
	ChainID() model.ChainID

	// GetHeadBlock returns the latest block height on chain.
	GetHeadBlock(ctx context.Context) (int64, error)

	// GetHeader returns the header at height. Returns nil when the chain
	// has no block at that height.
	GetHeader(ctx context.Context, height int64) (*Header, error)

	// GetHeaders fetches headers for the given heights in a single batch
	// round trip. Entries are nil for heights the chain does not have.
	GetHeaders(ctx context.Context, heights []int64) ([]*Header, error)

	// GetDepositLogs returns the deposit contract's logs in the inclusive
	// range [fromBlock, toBlock], ordered by height then log index.
	GetDepositLogs(ctx context.Context, fromBlock, toBlock int64) ([]Log, error)
}

// Header is the subset of a block header the watcher tracks for
// confirmation counting and reorg checks.
type Header struct {
	Height     int64
	Hash       string
	ParentHash string
	Time       *time.Time
}

// Log is a contract log entry with its envelope fields decoded.
type Log struct {
	BlockHeight int64
	BlockHash   string
	TxHash      string
	LogIndex    uint32
	Topics      []string
	Data        string
	Removed     bool
}
