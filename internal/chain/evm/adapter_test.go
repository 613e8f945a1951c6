package evm

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alert17/zkclear-core/internal/chain"
	"github.com/Alert17/zkclear-core/internal/chain/evm/rpc"
	"github.com/Alert17/zkclear-core/internal/domain/model"
)

type fakeRPC struct {
	head   int64
	blocks map[int64]*rpc.Block
	logs   []*rpc.Log
	filter rpc.LogFilter
}

func (f *fakeRPC) GetBlockNumber(ctx context.Context) (int64, error) {
	return f.head, nil
}

func (f *fakeRPC) GetBlockByNumber(ctx context.Context, height int64) (*rpc.Block, error) {
	return f.blocks[height], nil
}

func (f *fakeRPC) GetBlocksByNumber(ctx context.Context, heights []int64) ([]*rpc.Block, error) {
	out := make([]*rpc.Block, len(heights))
	for i, h := range heights {
		out[i] = f.blocks[h]
	}
	return out, nil
}

func (f *fakeRPC) GetLogs(ctx context.Context, filter rpc.LogFilter) ([]*rpc.Log, error) {
	f.filter = filter
	return f.logs, nil
}

func newTestAdapter(client rpc.RPCClient) *Adapter {
	return &Adapter{
		chainID:  model.ChainMantle,
		contract: "0xc0ffee",
		client:   client,
		logger:   slog.Default(),
	}
}

func TestAdapter_GetHeader(t *testing.T) {
	fake := &fakeRPC{blocks: map[int64]*rpc.Block{
		100: {Number: "0x64", Hash: "0xABC", ParentHash: "0xDEF", Timestamp: "0x665f1e00"},
	}}
	a := newTestAdapter(fake)

	header, err := a.GetHeader(context.Background(), 100)
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.Equal(t, int64(100), header.Height)
	assert.Equal(t, "0xabc", header.Hash)
	assert.Equal(t, "0xdef", header.ParentHash)
	require.NotNil(t, header.Time)
	assert.Equal(t, int64(0x665f1e00), header.Time.Unix())

	missing, err := a.GetHeader(context.Background(), 101)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAdapter_GetHeaders(t *testing.T) {
	fake := &fakeRPC{blocks: map[int64]*rpc.Block{
		10: {Number: "0xa", Hash: "0xh10"},
		12: {Number: "0xc", Hash: "0xh12"},
	}}
	a := newTestAdapter(fake)

	headers, err := a.GetHeaders(context.Background(), []int64{10, 11, 12})
	require.NoError(t, err)
	require.Len(t, headers, 3)
	assert.Equal(t, "0xh10", headers[0].Hash)
	assert.Nil(t, headers[1])
	assert.Equal(t, "0xh12", headers[2].Hash)
}

func TestAdapter_GetDepositLogs(t *testing.T) {
	fake := &fakeRPC{logs: []*rpc.Log{
		{
			BlockNumber: "0xa",
			BlockHash:   "0xBH",
			TxHash:      "0xTX1",
			LogIndex:    "0x2",
			Topics:      []string{"0xsig", "0xuser", "0xasset", "0xref"},
			Data:        "0xamount",
		},
		// Bad log index entries are skipped, not fatal.
		{BlockNumber: "0xa", TxHash: "0xtx2", LogIndex: "bogus"},
		{BlockNumber: "nope", TxHash: "0xtx3", LogIndex: "0x0"},
	}}
	a := newTestAdapter(fake)

	logs, err := a.GetDepositLogs(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.Equal(t, "0xa", fake.filter.FromBlock)
	assert.Equal(t, "0x14", fake.filter.ToBlock)
	assert.Equal(t, "0xc0ffee", fake.filter.Address)

	require.Len(t, logs, 1)
	assert.Equal(t, chain.Log{
		BlockHeight: 10,
		BlockHash:   "0xbh",
		TxHash:      "0xtx1",
		LogIndex:    2,
		Topics:      []string{"0xsig", "0xuser", "0xasset", "0xref"},
		Data:        "0xamount",
	}, logs[0])
}

func TestAdapter_ChainID(t *testing.T) {
	a := NewAdapter(Config{ChainID: model.ChainBase, RPCURL: "http://rpc.local", Contract: "0xC0FFEE"}, slog.Default())
	assert.Equal(t, model.ChainBase, a.ChainID())
	assert.Equal(t, "0xc0ffee", a.contract)
}
