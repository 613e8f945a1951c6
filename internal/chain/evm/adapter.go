package evm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Alert17/zkclear-core/internal/chain"
	"github.com/Alert17/zkclear-core/internal/chain/evm/rpc"
	"github.com/Alert17/zkclear-core/internal/chain/ratelimit"
	"github.com/Alert17/zkclear-core/internal/circuitbreaker"
	"github.com/Alert17/zkclear-core/internal/domain/model"
)

// Adapter serves any EVM chain; instances differ only by endpoint,
// chain id, and deposit contract address.
type Adapter struct {
	chainID  model.ChainID
	contract string
	client   rpc.RPCClient
	logger   *slog.Logger
}

var _ chain.Adapter = (*Adapter)(nil)

type Config struct {
	ChainID    model.ChainID
	RPCURL     string
	Contract   string
	RPCTimeout time.Duration
	RateRPS    float64
	RateBurst  int
}

func NewAdapter(cfg Config, logger *slog.Logger) *Adapter {
	name := cfg.ChainID.String()
	client := rpc.NewClient(cfg.RPCURL, name, cfg.RPCTimeout, logger)
	if cfg.RateRPS > 0 {
		client.SetRateLimiter(ratelimit.NewLimiter(cfg.RateRPS, cfg.RateBurst, name))
	}
	client.SetBreaker(circuitbreaker.New(circuitbreaker.Config{
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("rpc circuit state changed", "chain", name, "from", from.String(), "to", to.String())
		},
	}))

	return &Adapter{
		chainID:  cfg.ChainID,
		contract: strings.ToLower(strings.TrimSpace(cfg.Contract)),
		client:   client,
		logger:   logger.With("chain", name),
	}
}

func (a *Adapter) ChainID() model.ChainID {
	return a.chainID
}

func (a *Adapter) GetHeadBlock(ctx context.Context) (int64, error) {
	return a.client.GetBlockNumber(ctx)
}

func (a *Adapter) GetHeader(ctx context.Context, height int64) (*chain.Header, error) {
	block, err := a.client.GetBlockByNumber(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("get header %d: %w", height, err)
	}
	if block == nil {
		return nil, nil
	}
	return a.toHeader(block), nil
}

func (a *Adapter) GetHeaders(ctx context.Context, heights []int64) ([]*chain.Header, error) {
	blocks, err := a.client.GetBlocksByNumber(ctx, heights)
	if err != nil {
		return nil, fmt.Errorf("get headers: %w", err)
	}

	headers := make([]*chain.Header, len(blocks))
	for i, block := range blocks {
		if block == nil {
			continue
		}
		headers[i] = a.toHeader(block)
	}
	return headers, nil
}

// GetDepositLogs filters by contract address only; topic layout is
// validated by the caller so an unrecognized event never wedges a scan.
func (a *Adapter) GetDepositLogs(ctx context.Context, fromBlock, toBlock int64) ([]chain.Log, error) {
	filter := rpc.LogFilter{
		FromBlock: rpc.FormatHexInt64(fromBlock),
		ToBlock:   rpc.FormatHexInt64(toBlock),
		Address:   a.contract,
	}

	rawLogs, err := a.client.GetLogs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("get deposit logs [%d, %d]: %w", fromBlock, toBlock, err)
	}

	logs := make([]chain.Log, 0, len(rawLogs))
	for _, raw := range rawLogs {
		if raw == nil {
			continue
		}
		height, err := rpc.ParseHexInt64(raw.BlockNumber)
		if err != nil {
			a.logger.Warn("skipping log with bad block number", "block_number", raw.BlockNumber, "tx_hash", raw.TxHash)
			continue
		}
		logIndex, err := rpc.ParseHexInt64(raw.LogIndex)
		if err != nil || logIndex < 0 {
			a.logger.Warn("skipping log with bad log index", "log_index", raw.LogIndex, "tx_hash", raw.TxHash)
			continue
		}
		logs = append(logs, chain.Log{
			BlockHeight: height,
			BlockHash:   strings.ToLower(raw.BlockHash),
			TxHash:      strings.ToLower(raw.TxHash),
			LogIndex:    uint32(logIndex),
			Topics:      raw.Topics,
			Data:        raw.Data,
			Removed:     raw.Removed,
		})
	}
	return logs, nil
}

func (a *Adapter) toHeader(block *rpc.Block) *chain.Header {
	height, err := rpc.ParseHexInt64(block.Number)
	if err != nil {
		height = -1
	}

	var blockTime *time.Time
	if ts, err := rpc.ParseHexInt64(block.Timestamp); err == nil && ts > 0 {
		parsed := time.Unix(ts, 0).UTC()
		blockTime = &parsed
	}

	return &chain.Header{
		Height:     height,
		Hash:       strings.ToLower(block.Hash),
		ParentHash: strings.ToLower(block.ParentHash),
		Time:       blockTime,
	}
}
