package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Component counters, gauges, and histograms. Watcher and RPC series are
// partitioned by chain; sequencing is single-lane so the rest are plain.

var (
	// Queue
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of queued transactions",
	})

	QueueSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "queue",
		Name:      "submissions_total",
		Help:      "Total transaction submissions by outcome",
	}, []string{"kind", "outcome"})

	// Producer
	BlocksProducedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "producer",
		Name:      "blocks_produced_total",
		Help:      "Total blocks sealed and committed",
	})

	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "producer",
		Name:      "block_height",
		Help:      "Sequence of the last committed block",
	})

	BlockTxsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "producer",
		Name:      "transactions_applied_total",
		Help:      "Total transactions applied by kind and outcome",
	}, []string{"kind", "outcome"})

	BlockDepositsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "producer",
		Name:      "deposits_applied_total",
		Help:      "Total confirmed deposits credited into blocks",
	}, []string{"chain"})

	BlockSealLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zkclear",
		Subsystem: "producer",
		Name:      "seal_duration_seconds",
		Help:      "Block build, prove, and commit duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	ProducerHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "producer",
		Name:      "halted",
		Help:      "1 when block production is halted after proof failure",
	})

	// Watcher
	WatcherDepositsSeenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "watcher",
		Name:      "deposits_seen_total",
		Help:      "Total deposit events recorded from chain logs",
	}, []string{"chain"})

	WatcherMalformedLogsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "watcher",
		Name:      "malformed_logs_total",
		Help:      "Total deposit logs skipped due to unparseable layout",
	}, []string{"chain"})

	WatcherScanErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "watcher",
		Name:      "scan_errors_total",
		Help:      "Total watcher scan failures",
	}, []string{"chain"})

	WatcherCursorHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "watcher",
		Name:      "cursor_height",
		Help:      "Last scanned block height per chain",
	}, []string{"chain"})

	WatcherHeadHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "watcher",
		Name:      "head_height",
		Help:      "Latest observed chain head per chain",
	}, []string{"chain"})

	WatcherReorgsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "watcher",
		Name:      "reorgs_total",
		Help:      "Total block reorgs detected",
	}, []string{"chain"})

	WatcherScanLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zkclear",
		Subsystem: "watcher",
		Name:      "scan_duration_seconds",
		Help:      "Watcher scan pass duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"chain"})

	// Prover
	ProofAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "prover",
		Name:      "attempts_total",
		Help:      "Total proof attempts by outcome",
	}, []string{"outcome"})

	ProofLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zkclear",
		Subsystem: "prover",
		Name:      "proof_duration_seconds",
		Help:      "Proof generation duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})

	// API
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by route and status",
	}, []string{"route", "method", "status"})

	HTTPRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zkclear",
		Subsystem: "api",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request handling duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"route"})

	// Database pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "postgres",
		Name:      "db_pool_open",
		Help:      "Current number of open PostgreSQL connections in the pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "postgres",
		Name:      "db_pool_in_use",
		Help:      "Current number of in-use PostgreSQL connections in the pool",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "postgres",
		Name:      "db_pool_idle",
		Help:      "Current number of idle PostgreSQL connections in the pool",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "postgres",
		Name:      "db_pool_wait_count",
		Help:      "Cumulative count of waits for PostgreSQL connections from pool",
	})

	DBPoolWaitDurationSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "postgres",
		Name:      "db_pool_wait_duration_seconds",
		Help:      "Latest PostgreSQL pool wait duration in seconds",
	})

	// Block cache
	BlockCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "cache",
		Name:      "block_hits_total",
		Help:      "Total block cache hits",
	})

	BlockCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "cache",
		Name:      "block_misses_total",
		Help:      "Total block cache misses",
	})

	// RPC rate limiter
	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total times RPC calls waited for rate limiter",
	}, []string{"chain"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total outbound RPC calls by method and status",
	}, []string{"chain", "method", "status"})

	// Component health
	ComponentHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "health",
		Name:      "status",
		Help:      "Component health status (0=UNKNOWN, 1=HEALTHY/DEGRADED, 2=UNHEALTHY, 3=HALTED)",
	}, []string{"component"})

	ComponentConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "zkclear",
		Subsystem: "health",
		Name:      "consecutive_failures",
		Help:      "Number of consecutive component failures",
	}, []string{"component"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})

	// Reconciliation
	ReconciliationRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "reconciliation",
		Name:      "runs_total",
		Help:      "Total conservation audits executed",
	})

	ReconciliationMismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zkclear",
		Subsystem: "reconciliation",
		Name:      "mismatches_total",
		Help:      "Total conservation mismatches detected per asset",
	}, []string{"asset"})
)
