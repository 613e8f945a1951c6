package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Alert17/zkclear-core/internal/chain/ratelimit"
	"github.com/Alert17/zkclear-core/internal/circuitbreaker"
)

type RPCClient interface {
	GetBlockNumber(ctx context.Context) (int64, error)
	GetBlockByNumber(ctx context.Context, height int64) (*Block, error)
	GetBlocksByNumber(ctx context.Context, heights []int64) ([]*Block, error)
	GetLogs(ctx context.Context, filter LogFilter) ([]*Log, error)
}

type Client struct {
	httpClient *http.Client
	rpcURL     string
	chain      string
	requestID  atomic.Int64
	logger     *slog.Logger
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.Breaker
}

func NewClient(rpcURL, chain string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		rpcURL:     rpcURL,
		chain:      chain,
		logger:     logger,
	}
}

// SetRateLimiter sets the RPC rate limiter for this client.
func (c *Client) SetRateLimiter(l *ratelimit.Limiter) {
	c.limiter = l
}

// SetBreaker sets the circuit breaker guarding this endpoint.
func (c *Client) SetBreaker(b *circuitbreaker.Breaker) {
	c.breaker = b
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := c.newRequest(method, params)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.post(ctx, method, body)
	if err != nil {
		return nil, err
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		ratelimit.RecordRPCCall(c.chain, method, rpcResp.Error)
		return nil, rpcResp.Error
	}

	ratelimit.RecordRPCCall(c.chain, method, nil)
	return rpcResp.Result, nil
}

func (c *Client) callBatch(ctx context.Context, requests []Request) ([]Response, error) {
	if len(requests) == 0 {
		return []Response{}, nil
	}

	body, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	respBody, err := c.post(ctx, requests[0].Method, body)
	if err != nil {
		return nil, err
	}

	var rpcResps []Response
	if err := json.Unmarshal(respBody, &rpcResps); err != nil {
		return nil, fmt.Errorf("unmarshal batch response: %w", err)
	}

	responseByID := make(map[int]Response, len(rpcResps))
	for _, rpcResp := range rpcResps {
		responseByID[rpcResp.ID] = rpcResp
	}

	ordered := make([]Response, len(requests))
	for i, req := range requests {
		rpcResp, ok := responseByID[req.ID]
		if !ok {
			return nil, fmt.Errorf("missing batch response id=%d method=%s", req.ID, req.Method)
		}
		ordered[i] = rpcResp
	}

	ratelimit.RecordRPCCall(c.chain, requests[0].Method, nil)
	return ordered, nil
}

// post runs one HTTP round trip through the limiter and breaker. A
// transport or non-200 failure trips the breaker; a JSON-RPC error in a
// 200 body does not.
func (c *Client) post(ctx context.Context, method string, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordFailure(method, err)
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure(method, err)
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
		c.recordFailure(method, err)
		return nil, err
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
	return respBody, nil
}

func (c *Client) recordFailure(method string, err error) {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
	ratelimit.RecordRPCCall(c.chain, method, err)
}

func (c *Client) newRequest(method string, params []interface{}) Request {
	id := int(c.requestID.Add(1))
	return Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}
