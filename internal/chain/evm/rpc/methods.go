package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func (c *Client) GetBlockNumber(ctx context.Context) (int64, error) {
	result, err := c.call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}

	var hexNum string
	if err := json.Unmarshal(result, &hexNum); err != nil {
		return 0, fmt.Errorf("unmarshal block number: %w", err)
	}

	height, err := ParseHexInt64(hexNum)
	if err != nil {
		return 0, fmt.Errorf("parse block number: %w", err)
	}
	return height, nil
}

func (c *Client) GetBlockByNumber(ctx context.Context, height int64) (*Block, error) {
	params := []interface{}{FormatHexInt64(height), false}
	result, err := c.call(ctx, "eth_getBlockByNumber", params)
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber(%d): %w", height, err)
	}
	if string(result) == "null" {
		return nil, nil
	}

	var block Block
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	return &block, nil
}

// GetBlocksByNumber fetches multiple block headers in a single JSON-RPC
// batch call. Results are returned in the same order as the input
// heights. Nil entries indicate blocks that were not found.
func (c *Client) GetBlocksByNumber(ctx context.Context, heights []int64) ([]*Block, error) {
	if len(heights) == 0 {
		return []*Block{}, nil
	}

	requests := make([]Request, len(heights))
	for i, height := range heights {
		requests[i] = c.newRequest("eth_getBlockByNumber", []interface{}{FormatHexInt64(height), false})
	}

	responses, err := c.callBatch(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber batch: %w", err)
	}

	results := make([]*Block, len(heights))
	for i, resp := range responses {
		if resp.Error != nil {
			return nil, fmt.Errorf("eth_getBlockByNumber(%d): %w", heights[i], resp.Error)
		}
		if string(resp.Result) == "null" {
			continue
		}
		var block Block
		if err := json.Unmarshal(resp.Result, &block); err != nil {
			return nil, fmt.Errorf("unmarshal block %d: %w", heights[i], err)
		}
		results[i] = &block
	}
	return results, nil
}

func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]*Log, error) {
	result, err := c.call(ctx, "eth_getLogs", []interface{}{filter})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs: %w", err)
	}

	var logs []*Log
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}
	return logs, nil
}

func ParseHexInt64(value string) (int64, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	raw = strings.TrimPrefix(strings.ToLower(raw), "0x")
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex %q: %w", value, err)
	}
	return int64(parsed), nil
}

func FormatHexInt64(value int64) string {
	return fmt.Sprintf("0x%x", value)
}
