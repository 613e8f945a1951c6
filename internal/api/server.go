// Package api serves the read, submit, and operational endpoints of the
// sequencer over HTTP. All state it reports comes from the committed store,
// the in-memory queue, and the component health trackers; it never touches
// the ledger directly.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Alert17/zkclear-core/internal/domain/model"
	"github.com/Alert17/zkclear-core/internal/health"
	"github.com/Alert17/zkclear-core/internal/metrics"
	"github.com/Alert17/zkclear-core/internal/producer"
	"github.com/Alert17/zkclear-core/internal/reconciliation"
	"github.com/Alert17/zkclear-core/internal/store"
	"github.com/Alert17/zkclear-core/internal/watcher"
)

const (
	maxRequestBodyBytes = 1 << 20
	pingTimeout         = 5 * time.Second

	defaultBlockListLimit = 20
	maxBlockListLimit     = 100
	defaultDealListLimit  = 50
	maxDealListLimit      = 200

	// Committed blocks are immutable, so cached responses never go stale;
	// the TTL only bounds memory held for blocks nobody asks about twice.
	blockCacheSize = 1024
	blockCacheTTL  = 10 * time.Minute
)

// TxQueue is the slice of the submission queue the server needs: admit a
// transaction and report depth.
type TxQueue interface {
	Submit(tx *model.Transaction) error
	Len() int
	Capacity() int
}

// SequencerStatus reports the block producer's position and halt state.
type SequencerStatus interface {
	Status() producer.Status
}

// ChainWatcher reports one deposit watcher's scan position.
type ChainWatcher interface {
	Status() watcher.Status
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Reconciler runs a conservation audit on demand.
type Reconciler interface {
	Run(ctx context.Context) (*reconciliation.RunResult, error)
}

type Server struct {
	accounts  store.AccountRepository
	balances  store.BalanceRepository
	blocks    store.BlockRepository
	txns      store.TransactionRepository
	deposits  store.DepositRepository
	deals     store.DealRepository
	queue     TxQueue
	sequencer SequencerStatus

	pinger     Pinger
	registry   *health.Registry
	watchers   []ChainWatcher
	reconciler Reconciler
	limiter    *RateLimiter

	blockCache *expirable.LRU[uint64, blockResponse]
	logger     *slog.Logger
}

type ServerOption func(*Server)

// WithPinger wires a store connectivity check into /health and /ready.
func WithPinger(p Pinger) ServerOption {
	return func(s *Server) { s.pinger = p }
}

// WithHealthRegistry exposes per-component trackers on /health.
func WithHealthRegistry(r *health.Registry) ServerOption {
	return func(s *Server) { s.registry = r }
}

// WithWatchers exposes deposit watcher lag on /health.
func WithWatchers(ws ...ChainWatcher) ServerOption {
	return func(s *Server) { s.watchers = append(s.watchers, ws...) }
}

// WithReconciler enables POST /admin/v1/reconcile.
func WithReconciler(r Reconciler) ServerOption {
	return func(s *Server) { s.reconciler = r }
}

// WithRateLimiter applies per-client rate limiting to every route.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

func NewServer(
	accounts store.AccountRepository,
	balances store.BalanceRepository,
	blocks store.BlockRepository,
	txns store.TransactionRepository,
	deposits store.DepositRepository,
	deals store.DealRepository,
	queue TxQueue,
	sequencer SequencerStatus,
	logger *slog.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		accounts:   accounts,
		balances:   balances,
		blocks:     blocks,
		txns:       txns,
		deposits:   deposits,
		deals:      deals,
		queue:      queue,
		sequencer:  sequencer,
		blockCache: expirable.NewLRU[uint64, blockResponse](blockCacheSize, nil, blockCacheTTL),
		logger:     logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the route table. Mutating methods are registered with
// explicit method patterns so a stray GET on a submit route 405s instead of
// falling through.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.instrument("/health", s.handleHealth))
	mux.HandleFunc("GET /ready", s.instrument("/ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/account/{address}", s.instrument("/api/v1/account", s.handleAccount))
	mux.HandleFunc("GET /api/v1/account/{address}/balance/{asset}", s.instrument("/api/v1/account/balance", s.handleAccountBalance))
	mux.HandleFunc("GET /api/v1/block/{sequence}", s.instrument("/api/v1/block", s.handleBlock))
	mux.HandleFunc("GET /api/v1/blocks", s.instrument("/api/v1/blocks", s.handleListBlocks))
	mux.HandleFunc("GET /api/v1/transaction/{hash}", s.instrument("/api/v1/transaction", s.handleTransaction))
	mux.HandleFunc("POST /api/v1/transaction", s.instrument("/api/v1/transaction", s.handleSubmitTransaction))
	mux.HandleFunc("GET /api/v1/deal/{id}", s.instrument("/api/v1/deal", s.handleDeal))
	mux.HandleFunc("GET /api/v1/deals", s.instrument("/api/v1/deals", s.handleListDeals))
	mux.HandleFunc("GET /api/v1/queue/status", s.instrument("/api/v1/queue/status", s.handleQueueStatus))

	mux.HandleFunc("POST /admin/v1/reconcile", s.instrument("/admin/v1/reconcile", s.handleReconcile))

	if s.limiter != nil {
		return s.limiter.Wrap(mux)
	}
	return mux
}

type healthResponse struct {
	Status     string            `json:"status"`
	Store      string            `json:"store"`
	Sequencer  producer.Status   `json:"sequencer"`
	Components []health.Snapshot `json:"components,omitempty"`
	Watchers   []watcher.Status  `json:"watchers,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Store: "ok"}
	healthy := true

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := s.pinger.PingContext(ctx); err != nil {
			resp.Store = "unreachable"
			healthy = false
		}
	}
	if s.registry != nil {
		resp.Components = s.registry.Snapshots()
		if !s.registry.Healthy() {
			healthy = false
		}
	}
	for _, cw := range s.watchers {
		resp.Watchers = append(resp.Watchers, cw.Status())
	}
	resp.Sequencer = s.sequencer.Status()
	if resp.Sequencer.Halted {
		healthy = false
	}

	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := s.pinger.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// instrument wraps a handler with per-route request count and latency
// metrics. The route label is the registered pattern, not the raw path, to
// keep label cardinality bounded.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
