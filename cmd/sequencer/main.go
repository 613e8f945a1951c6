package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Alert17/zkclear-core/internal/alert"
	"github.com/Alert17/zkclear-core/internal/api"
	"github.com/Alert17/zkclear-core/internal/assets"
	"github.com/Alert17/zkclear-core/internal/chain/evm"
	"github.com/Alert17/zkclear-core/internal/config"
	"github.com/Alert17/zkclear-core/internal/domain/model"
	"github.com/Alert17/zkclear-core/internal/health"
	appmetrics "github.com/Alert17/zkclear-core/internal/metrics"
	"github.com/Alert17/zkclear-core/internal/producer"
	"github.com/Alert17/zkclear-core/internal/prover"
	"github.com/Alert17/zkclear-core/internal/queue"
	"github.com/Alert17/zkclear-core/internal/reconciliation"
	"github.com/Alert17/zkclear-core/internal/state"
	"github.com/Alert17/zkclear-core/internal/store"
	"github.com/Alert17/zkclear-core/internal/store/postgres"
	redispkg "github.com/Alert17/zkclear-core/internal/store/redis"
	"github.com/Alert17/zkclear-core/internal/tracing"
	"github.com/Alert17/zkclear-core/internal/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const serviceName = "zkclear-sequencer"

// Factory seam so tests can exercise stream wiring without a live broker.
var newStreamFactory = func(redisURL string) (redispkg.MessageTransport, error) {
	return redispkg.NewStream(redisURL)
}

// watchTarget pairs a chain watcher with the config it was built from.
type watchTarget struct {
	chainID model.ChainID
	rpcURL  string
	watcher *watcher.Watcher
}

func buildWatchTargets(
	cfg *config.Config,
	deposits store.DepositRepository,
	cursors store.CursorRepository,
	scanned store.ScannedBlockRepository,
	reg *health.Registry,
	alerter alert.Alerter,
	logger *slog.Logger,
) []watchTarget {
	targets := make([]watchTarget, 0, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		adapter := evm.NewAdapter(evm.Config{
			ChainID:    cc.ChainID,
			RPCURL:     cc.RPCURL,
			Contract:   cc.Contract,
			RPCTimeout: cc.RPCTimeout,
			RateRPS:    cc.RateLimitRPS,
			RateBurst:  cc.RateLimitBurst,
		}, logger)
		w := watcher.New(adapter, deposits, cursors, scanned, watcher.Config{
			Confirmations: int(cc.Confirmations),
			PollInterval:  cc.PollInterval,
			ReorgWindow:   int(cc.ReorgWindow),
			MaxScanBlocks: int(cc.MaxScanBlocks),
		}, logger).
			WithAlerter(alerter).
			WithHealth(reg.Register("watcher_" + cc.ChainID.String()))
		targets = append(targets, watchTarget{
			chainID: cc.ChainID,
			rpcURL:  cc.RPCURL,
			watcher: w,
		})
	}
	return targets
}

// validateWatchTargets is a preflight check that the deposit watchers were
// wired against the chains the config asked for.
func validateWatchTargets(targets []watchTarget) error {
	if len(targets) == 0 {
		return fmt.Errorf("no chain watch targets configured")
	}
	seen := make(map[model.ChainID]struct{}, len(targets))
	for _, target := range targets {
		if _, dup := seen[target.chainID]; dup {
			return fmt.Errorf("duplicate watch target %s", target.chainID)
		}
		seen[target.chainID] = struct{}{}
		if target.watcher == nil {
			return fmt.Errorf("nil watcher for target %s", target.chainID)
		}
		if got := target.watcher.ChainID(); got != target.chainID {
			return fmt.Errorf("adapter mismatch for %s: watcher reports %s", target.chainID, got)
		}
	}
	return nil
}

// proofPipeline carries the proof client handed to the producer plus the
// stream worker and transport that back it when stream mode is on.
type proofPipeline struct {
	client    prover.Client
	worker    *prover.Worker
	transport redispkg.MessageTransport
}

func buildProofPipeline(cfg *config.Config, logger *slog.Logger) (*proofPipeline, error) {
	var backend prover.Backend
	switch cfg.Prover.Mode {
	case config.ProverModeRemote:
		backend = prover.NewRemoteBackend(cfg.Prover.RemoteURL, cfg.Prover.Timeout)
	default:
		backend = prover.NewPlaceholderBackend()
	}
	engine := prover.NewEngine(backend, prover.Config{
		MaxAttempts:    cfg.Prover.MaxAttempts,
		BackoffInitial: cfg.Prover.BackoffInitial,
		BackoffMax:     cfg.Prover.BackoffMax,
	}, logger)

	if !cfg.Prover.StreamTransport {
		return &proofPipeline{client: engine}, nil
	}

	transport, err := newStreamFactory(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("initialize proof stream transport: %w", err)
	}
	return &proofPipeline{
		client:    prover.NewStreamClient(transport, cfg.Prover.StreamNamespace, logger),
		worker:    prover.NewWorker(transport, engine, cfg.Prover.StreamNamespace, logger),
		transport: transport,
	}, nil
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	channels := make([]alert.Channel, 0, 2)
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, channels...)
}

// maskCredentials hides the user:password section of a connection URL so it
// can be logged at startup.
func maskCredentials(url string) string {
	atIdx := strings.LastIndex(url, "@")
	if atIdx == -1 {
		return url
	}
	schemeIdx := strings.Index(url, "://")
	if schemeIdx == -1 {
		return url
	}
	return url[:schemeIdx+3] + "***" + url[atIdx:]
}

type dbStatsProvider interface {
	Stats() sql.DBStats
}

type dbPoolStatsGauges struct {
	open         prometheus.Gauge
	inUse        prometheus.Gauge
	idle         prometheus.Gauge
	waitCount    prometheus.Gauge
	waitDuration prometheus.Gauge
}

func defaultDBPoolGauges() dbPoolStatsGauges {
	return dbPoolStatsGauges{
		open:         appmetrics.DBPoolOpen,
		inUse:        appmetrics.DBPoolInUse,
		idle:         appmetrics.DBPoolIdle,
		waitCount:    appmetrics.DBPoolWaitCount,
		waitDuration: appmetrics.DBPoolWaitDurationSeconds,
	}
}

func collectDBPoolStats(db dbStatsProvider, gauges dbPoolStatsGauges) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()

	if db == nil {
		return fmt.Errorf("db stats provider is nil")
	}

	stats := db.Stats()
	gauges.open.Set(float64(stats.OpenConnections))
	gauges.inUse.Set(float64(stats.InUse))
	gauges.idle.Set(float64(stats.Idle))
	gauges.waitCount.Set(float64(stats.WaitCount))
	gauges.waitDuration.Set(stats.WaitDuration.Seconds())
	return nil
}

func startDBPoolStatsPump(ctx context.Context, db dbStatsProvider, intervalMS int, logger *slog.Logger) {
	if db == nil || intervalMS <= 0 {
		return
	}

	gauges := defaultDBPoolGauges()

	go func() {
		ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)
		defer ticker.Stop()

		if err := collectDBPoolStats(db, gauges); err != nil {
			logger.Warn("db pool stats collection failed", "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				logger.Info("db pool stats sampler stopped", "cause", "context_done")
				return
			case <-ticker.C:
				if err := collectDBPoolStats(db, gauges); err != nil {
					logger.Warn("db pool stats collection failed", "error", err)
				}
			}
		}
	}()
}

func runAPIServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("api server shutdown error", "error", err)
		}
	}()

	logger.Info("api server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	chainNames := make([]string, 0, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		chainNames = append(chainNames, cc.ChainID.String())
	}

	logger.Info("starting zkclear sequencer",
		"chains", strings.Join(chainNames, ","),
		"db", maskCredentials(cfg.DB.URL),
		"block_interval", cfg.Producer.BlockInterval,
		"max_txs_per_block", cfg.Producer.MaxTxsPerBlock,
		"queue_capacity", cfg.Queue.MaxSize,
		"prover_mode", cfg.Prover.Mode,
		"prover_stream", cfg.Prover.StreamTransport,
		"reconcile_enabled", cfg.Reconcile.Enabled,
		"api_port", cfg.Server.Port,
	)

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		Enabled:     cfg.Tracing.Enabled,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	db, err := postgres.New(postgres.Config{
		URL:                cfg.DB.URL,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
		StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	if cfg.DB.MigrationsDir != "" {
		if err := db.RunMigrations(cfg.DB.MigrationsDir); err != nil {
			logger.Error("failed to run migrations", "dir", cfg.DB.MigrationsDir, "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied", "dir", cfg.DB.MigrationsDir)
	}

	accountRepo := postgres.NewAccountRepo(db)
	balanceRepo := postgres.NewBalanceRepo(db)
	blockRepo := postgres.NewBlockRepo(db)
	txRepo := postgres.NewTransactionRepo(db)
	depositRepo := postgres.NewDepositRepo(db)
	dealRepo := postgres.NewDealRepo(db)
	cursorRepo := postgres.NewCursorRepo(db)
	scannedRepo := postgres.NewScannedBlockRepo(db)
	reconcileRepo := postgres.NewReconciliationRepo(db)

	registry := assets.Open()
	if cfg.Assets.RegistryPath != "" {
		registry, err = assets.Load(cfg.Assets.RegistryPath)
		if err != nil {
			logger.Error("failed to load asset registry", "path", cfg.Assets.RegistryPath, "error", err)
			os.Exit(1)
		}
	}

	alerter := buildAlerter(cfg, logger)
	healthReg := health.NewRegistry()

	proofs, err := buildProofPipeline(cfg, logger)
	if err != nil {
		logger.Error("failed to build proof pipeline", "error", err)
		os.Exit(1)
	}
	if proofs.transport != nil {
		defer proofs.transport.Close()
	}

	ledger := state.NewLedger()
	txQueue := queue.New(ledger, registry, cfg.Queue.MaxSize, logger)

	prod := producer.New(db, accountRepo, balanceRepo, blockRepo, txRepo, depositRepo, dealRepo, cursorRepo,
		ledger, txQueue, proofs.client,
		producer.Config{
			MaxTxsPerBlock:     cfg.Producer.MaxTxsPerBlock,
			BlockInterval:      cfg.Producer.BlockInterval,
			ProduceEmptyBlocks: cfg.Producer.ProduceEmptyBlocks,
		}, logger).
		WithAlerter(alerter).
		WithHealth(healthReg.Register("producer"))

	if err := prod.Restore(context.Background()); err != nil {
		logger.Error("failed to restore ledger from committed blocks", "error", err)
		os.Exit(1)
	}

	targets := buildWatchTargets(cfg, depositRepo, cursorRepo, scannedRepo, healthReg, alerter, logger)
	if err := validateWatchTargets(targets); err != nil {
		logger.Error("invalid watch target wiring", "error", err)
		os.Exit(1)
	}

	var reconciler *reconciliation.Service
	if cfg.Reconcile.Enabled {
		reconciler = reconciliation.NewService(reconcileRepo, alerter, logger)
	}

	limiter := api.NewRateLimiter(logger)
	defer limiter.Stop()

	watcherViews := make([]api.ChainWatcher, 0, len(targets))
	for _, target := range targets {
		watcherViews = append(watcherViews, target.watcher)
	}
	apiOpts := []api.ServerOption{
		api.WithPinger(db),
		api.WithHealthRegistry(healthReg),
		api.WithWatchers(watcherViews...),
		api.WithRateLimiter(limiter),
	}
	if reconciler != nil {
		apiOpts = append(apiOpts, api.WithReconciler(reconciler))
	}
	apiServer := api.NewServer(accountRepo, balanceRepo, blockRepo, txRepo, depositRepo, dealRepo,
		txQueue, prod, logger, apiOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runAPIServer(gCtx, cfg.Server.Port, apiServer.Handler(), logger)
	})

	for _, target := range targets {
		w := target.watcher
		g.Go(func() error {
			return w.Run(gCtx)
		})
	}

	g.Go(func() error {
		return prod.Run(gCtx)
	})

	if proofs.worker != nil {
		worker := proofs.worker
		g.Go(func() error {
			return worker.Run(gCtx)
		})
	}

	if reconciler != nil {
		g.Go(func() error {
			return reconciler.RunPeriodic(gCtx, cfg.Reconcile.Interval)
		})
	}

	startDBPoolStatsPump(gCtx, db, cfg.DB.PoolStatsIntervalMS, logger)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("sequencer exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("sequencer shut down gracefully")
}
