// Package ratelimit paces outbound RPC traffic to source chains. Deposit
// scanning is bursty and public RPC endpoints throttle aggressively, so every
// adapter call goes through a per-chain token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Alert17/zkclear-core/internal/metrics"
)

// reportableDelay filters out sub-millisecond reservations so the wait
// counter only reflects real throttling.
const reportableDelay = time.Millisecond

// Limiter is a token-bucket pacer for one chain's RPC endpoint.
type Limiter struct {
	bucket *rate.Limiter
	chain  string
}

// NewLimiter allows rps sustained calls per second with the given burst.
// A non-positive burst is raised to 1 so the bucket can hold a token.
func NewLimiter(rps float64, burst int, chain string) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(rps), burst),
		chain:  chain,
	}
}

// Wait blocks until a token is available or ctx ends. Throttled waits are
// counted per chain.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rpc pacing for %s: %w", l.chain, err)
	}
	if time.Since(start) >= reportableDelay {
		metrics.RPCRateLimitWaits.WithLabelValues(l.chain).Inc()
	}
	return nil
}

// RecordRPCCall counts one call against the per-chain, per-method series.
func RecordRPCCall(chain, method string, err error) {
	metrics.RPCCallsTotal.WithLabelValues(chain, method, ClassifyRPCError(err)).Inc()
}

// rpcErrorClasses maps error text markers to a status label, first match
// wins. Matching runs on the lowercased error string because providers
// disagree on shapes: some return HTTP codes, some JSON-RPC error strings,
// some plain TCP failures.
var rpcErrorClasses = []struct {
	status  string
	markers []string
}{
	{"timeout", []string{"timeout", "deadline exceeded"}},
	{"rate_limited", []string{"rate limit", "429", "too many requests"}},
	{"server_error", []string{"500", "502", "503", "internal server error"}},
	{"network_error", []string{"connection refused", "connection reset", "network is unreachable", "no such host", "broken pipe", "eof"}},
	{"circuit_open", []string{"circuit breaker"}},
}

// ClassifyRPCError buckets err into a small status taxonomy for metrics.
func ClassifyRPCError(err error) string {
	if err == nil {
		return "ok"
	}
	text := strings.ToLower(err.Error())
	for _, class := range rpcErrorClasses {
		for _, marker := range class.markers {
			if strings.Contains(text, marker) {
				return class.status
			}
		}
	}
	return "client_error"
}
