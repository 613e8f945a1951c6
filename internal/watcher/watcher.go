package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/Alert17/zkclear-core/internal/alert"
	"github.com/Alert17/zkclear-core/internal/chain"
	"github.com/Alert17/zkclear-core/internal/domain/model"
	"github.com/Alert17/zkclear-core/internal/health"
	"github.com/Alert17/zkclear-core/internal/metrics"
	"github.com/Alert17/zkclear-core/internal/retry"
	"github.com/Alert17/zkclear-core/internal/store"
	"github.com/Alert17/zkclear-core/internal/tracing"
)

const (
	defaultRetryMaxAttempts = 4
	defaultBackoffInitial   = 500 * time.Millisecond
	defaultBackoffMax       = 10 * time.Second

	// scannedBlockRetention is how many reorg windows of scanned-block
	// hashes survive pruning.
	scannedBlockRetention = 4

	// cursorUninitialized marks a watcher that has not anchored to the
	// chain head yet.
	cursorUninitialized = int64(-1)
)

// Config carries the per-chain scan parameters.
type Config struct {
	Confirmations int
	PollInterval  time.Duration
	ReorgWindow   int
	MaxScanBlocks int
}

// Status is a point-in-time view of one watcher's progress, surfaced by the
// health endpoint.
type Status struct {
	Chain  string `json:"chain"`
	Cursor int64  `json:"cursor"`
	Head   int64  `json:"head"`
	Lag    int64  `json:"lag"`
}

// storeError marks a persistence failure. The run loop returns it so the
// process supervisor cancels everything; a restart resumes from the durable
// cursor.
type storeError struct {
	err error
}

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func storeFail(err error) error {
	if err == nil {
		return nil
	}
	return &storeError{err: err}
}

// Watcher follows one source chain's deposit contract: it scans logs past
// the cursor, records SEEN rows, promotes them to CONFIRMED once the
// confirmation depth passes, and rewinds on reorgs within the window.
type Watcher struct {
	adapter  chain.Adapter
	deposits store.DepositRepository
	cursors  store.CursorRepository
	scanned  store.ScannedBlockRepository
	cfg      Config
	logger   *slog.Logger

	tracker *health.Tracker
	alerter alert.Alerter

	retryMaxAttempts int
	backoffInitial   time.Duration
	backoffMax       time.Duration
	sleepFn          func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	cursor int64
	head   int64
}

func New(
	adapter chain.Adapter,
	deposits store.DepositRepository,
	cursors store.CursorRepository,
	scanned store.ScannedBlockRepository,
	cfg Config,
	logger *slog.Logger,
) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		adapter:          adapter,
		deposits:         deposits,
		cursors:          cursors,
		scanned:          scanned,
		cfg:              cfg,
		logger:           logger.With("component", "watcher", "chain", adapter.ChainID().String()),
		retryMaxAttempts: defaultRetryMaxAttempts,
		backoffInitial:   defaultBackoffInitial,
		backoffMax:       defaultBackoffMax,
		cursor:           cursorUninitialized,
	}
}

// WithAlerter sets the alerter for unhealthy/reorg/recovery alerts.
func (w *Watcher) WithAlerter(a alert.Alerter) *Watcher {
	w.alerter = a
	return w
}

// WithHealth sets the component health tracker.
func (w *Watcher) WithHealth(t *health.Tracker) *Watcher {
	w.tracker = t
	return w
}

// ChainID returns the chain this watcher scans.
func (w *Watcher) ChainID() model.ChainID {
	return w.adapter.ChainID()
}

// Status reports cursor, head, and lag for the health endpoint.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	lag := w.head - w.cursor
	if w.cursor == cursorUninitialized || lag < 0 {
		lag = 0
	}
	return Status{
		Chain:  w.adapter.ChainID().String(),
		Cursor: w.cursor,
		Head:   w.head,
		Lag:    lag,
	}
}

// Run drives the scan loop until ctx is cancelled. RPC failures back off
// and keep the loop alive; store failures are returned and stop the
// process.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.restoreCursor(ctx); err != nil {
		return err
	}

	w.logger.Info("deposit watcher started",
		"cursor", w.currentCursor(),
		"confirmations", w.cfg.Confirmations,
		"poll_interval", w.cfg.PollInterval,
		"reorg_window", w.cfg.ReorgWindow,
		"max_scan_blocks", w.cfg.MaxScanBlocks,
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("deposit watcher stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.runScanPass(ctx); err != nil {
				return err
			}
		}
	}
}

// runScanPass executes one traced scan and feeds health and alerting. Only
// store failures and context cancellation propagate.
func (w *Watcher) runScanPass(ctx context.Context) error {
	chainLabel := w.adapter.ChainID().String()

	spanCtx, span := tracing.Tracer("watcher").Start(ctx, "watcher.scan",
		otelTrace.WithAttributes(attribute.String("chain", chainLabel)),
	)
	start := time.Now()
	err := w.scan(spanCtx)
	elapsed := time.Since(start)
	metrics.WatcherScanLatency.WithLabelValues(chainLabel).Observe(elapsed.Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if w.tracker != nil {
		w.tracker.RecordLatency(elapsed)
	}

	if err == nil {
		w.recordScanSuccess(ctx)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var se *storeError
	if errors.As(err, &se) {
		return fmt.Errorf("watcher store failure chain=%s: %w", chainLabel, err)
	}

	metrics.WatcherScanErrorsTotal.WithLabelValues(chainLabel).Inc()
	w.logger.Warn("scan failed", "error", err)
	w.recordScanFailure(ctx, err)
	return nil
}

func (w *Watcher) recordScanSuccess(ctx context.Context) {
	if w.tracker == nil {
		return
	}
	if recovered := w.tracker.RecordSuccess(); recovered && w.alerter != nil {
		w.sendAlert(ctx, alert.Alert{
			Type:      alert.AlertTypeRecovery,
			Component: w.componentName(),
			Title:     "Deposit watcher recovered",
			Message:   fmt.Sprintf("Scanning resumed at cursor %d", w.currentCursor()),
		})
	}
}

func (w *Watcher) recordScanFailure(ctx context.Context, scanErr error) {
	if w.tracker == nil {
		return
	}
	if transitioned := w.tracker.RecordFailure(scanErr); transitioned && w.alerter != nil {
		w.sendAlert(ctx, alert.Alert{
			Type:      alert.AlertTypeWatcherUnhealthy,
			Component: w.componentName(),
			Title:     "Deposit watcher unhealthy",
			Message:   fmt.Sprintf("%d consecutive scan failures", health.DefaultUnhealthyThreshold),
			Fields:    map[string]string{"last_error": scanErr.Error()},
		})
	}
}

func (w *Watcher) componentName() string {
	return "watcher:" + w.adapter.ChainID().String()
}

func (w *Watcher) sendAlert(ctx context.Context, a alert.Alert) {
	if err := w.alerter.Send(ctx, a); err != nil {
		w.logger.Warn("alert send failed", "type", a.Type, "error", err)
	}
}

// restoreCursor loads the durable cursor. A missing row leaves the watcher
// uninitialized; the first scan anchors it to the chain head so a fresh
// deployment does not replay the chain's history.
func (w *Watcher) restoreCursor(ctx context.Context) error {
	c, err := w.cursors.Get(ctx, w.adapter.ChainID())
	if err != nil {
		return fmt.Errorf("restore cursor: %w", err)
	}
	if c == nil {
		w.logger.Info("no persisted cursor; anchoring to chain head on first scan")
		return nil
	}
	w.setCursor(c.Height)
	return nil
}

func (w *Watcher) currentCursor() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cursor
}

func (w *Watcher) setCursor(height int64) {
	w.mu.Lock()
	w.cursor = height
	w.mu.Unlock()
	metrics.WatcherCursorHeight.WithLabelValues(w.adapter.ChainID().String()).Set(float64(height))
}

func (w *Watcher) setHead(height int64) {
	w.mu.Lock()
	w.head = height
	w.mu.Unlock()
	metrics.WatcherHeadHeight.WithLabelValues(w.adapter.ChainID().String()).Set(float64(height))
}

// scan performs one pass: head fetch, reorg check, log scan, deposit
// insert, confirmation promotion, cursor advance.
func (w *Watcher) scan(ctx context.Context) error {
	chainID := w.adapter.ChainID()
	chainLabel := chainID.String()

	var head int64
	err := w.withRetry(ctx, "watcher.head", func(ctx context.Context) error {
		var err error
		head, err = w.adapter.GetHeadBlock(ctx)
		return err
	})
	if err != nil {
		return err
	}
	w.setHead(head)

	cursor := w.currentCursor()
	if cursor == cursorUninitialized {
		if err := w.persistCursor(ctx, head); err != nil {
			return err
		}
		w.setCursor(head)
		w.logger.Info("cursor anchored to chain head", "height", head)
		return nil
	}

	rewound, err := w.checkReorg(ctx)
	if err != nil {
		return err
	}
	if rewound {
		cursor = w.currentCursor()
	}

	from := cursor + 1
	to := head
	if to < from {
		if head < cursor {
			// Head below cursor without a hash mismatch usually means a
			// lagging RPC replica; skip the pass rather than rescan.
			w.logger.Warn("chain head below cursor", "head", head, "cursor", cursor)
			return nil
		}
		// No new blocks; the confirmation horizon may still have moved.
		if _, err := w.deposits.PromoteSeen(ctx, chainID, head-int64(w.cfg.Confirmations)); err != nil {
			return storeFail(err)
		}
		return nil
	}
	if max := int64(w.cfg.MaxScanBlocks); to-from+1 > max {
		to = from + max - 1
	}

	logs, err := w.fetchLogs(ctx, from, to)
	if err != nil {
		return err
	}

	confirmedHeight := head - int64(w.cfg.Confirmations)
	inserted := 0
	for _, log := range logs {
		dep, perr := parseDepositLog(chainID, log)
		if perr != nil {
			metrics.WatcherMalformedLogsTotal.WithLabelValues(chainLabel).Inc()
			w.logger.Warn("skipping malformed deposit log",
				"height", log.BlockHeight,
				"tx_hash", log.TxHash,
				"log_index", log.LogIndex,
				"error", perr,
			)
			continue
		}

		dep.Status = model.DepositStatusSeen
		if dep.SourceHeight <= confirmedHeight {
			dep.Status = model.DepositStatusConfirmed
		}

		isNew, ierr := w.deposits.Insert(ctx, dep)
		if ierr != nil {
			return storeFail(ierr)
		}
		if isNew {
			inserted++
			metrics.WatcherDepositsSeenTotal.WithLabelValues(chainLabel).Inc()
			w.logger.Info("deposit observed",
				"depositor", dep.Depositor,
				"asset_id", dep.AssetID,
				"amount", dep.Amount,
				"height", dep.SourceHeight,
				"status", dep.Status,
			)
		}
	}

	promoted, err := w.deposits.PromoteSeen(ctx, chainID, confirmedHeight)
	if err != nil {
		return storeFail(err)
	}
	if promoted > 0 {
		w.logger.Info("deposits confirmed", "count", promoted, "confirmed_height", confirmedHeight)
	}

	if err := w.recordScannedBlocks(ctx, from, to); err != nil {
		return err
	}

	if err := w.persistCursor(ctx, to); err != nil {
		return err
	}
	w.setCursor(to)

	w.logger.Debug("scan completed",
		"from", from,
		"to", to,
		"head", head,
		"logs", len(logs),
		"new_deposits", inserted,
	)
	return nil
}

func (w *Watcher) fetchLogs(ctx context.Context, from, to int64) ([]chain.Log, error) {
	var logs []chain.Log
	err := w.withRetry(ctx, "watcher.logs", func(ctx context.Context) error {
		var err error
		logs, err = w.adapter.GetDepositLogs(ctx, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (w *Watcher) persistCursor(ctx context.Context, height int64) error {
	err := w.cursors.Upsert(ctx, &model.WatcherCursor{
		ChainID: w.adapter.ChainID(),
		Height:  height,
	})
	if err != nil {
		return storeFail(fmt.Errorf("persist cursor: %w", err))
	}
	return nil
}

// recordScannedBlocks stores the hashes of the scanned range's tail so the
// next pass (or a restart) can detect a reorg under the cursor, then prunes
// rows far behind the window.
func (w *Watcher) recordScannedBlocks(ctx context.Context, from, to int64) error {
	window := int64(w.cfg.ReorgWindow)
	if window <= 0 {
		return nil
	}

	tailFrom := to - window + 1
	if tailFrom < from {
		tailFrom = from
	}
	heights := make([]int64, 0, to-tailFrom+1)
	for h := tailFrom; h <= to; h++ {
		heights = append(heights, h)
	}

	var headers []*chain.Header
	err := w.withRetry(ctx, "watcher.headers", func(ctx context.Context) error {
		var err error
		headers, err = w.adapter.GetHeaders(ctx, heights)
		return err
	})
	if err != nil {
		return err
	}

	chainID := w.adapter.ChainID()
	blocks := make([]model.ScannedBlock, 0, len(headers))
	for _, h := range headers {
		if h == nil || h.Height < 0 {
			continue
		}
		blocks = append(blocks, model.ScannedBlock{
			ChainID:    chainID,
			Height:     h.Height,
			BlockHash:  h.Hash,
			ParentHash: h.ParentHash,
		})
	}
	if err := w.scanned.BulkUpsert(ctx, blocks); err != nil {
		return storeFail(fmt.Errorf("record scanned blocks: %w", err))
	}

	pruneBefore := to - window*scannedBlockRetention
	if pruneBefore > 0 {
		if _, err := w.scanned.PruneBefore(ctx, chainID, pruneBefore); err != nil {
			return storeFail(fmt.Errorf("prune scanned blocks: %w", err))
		}
	}
	return nil
}

// checkReorg compares the stored scanned-block hashes against the chain.
// On a mismatch it discards orphaned SEEN deposits, drops the stale
// scanned rows, and rewinds the cursor below the fork. Reports whether a
// rewind happened.
func (w *Watcher) checkReorg(ctx context.Context) (bool, error) {
	window := w.cfg.ReorgWindow
	if window <= 0 {
		return false, nil
	}

	chainID := w.adapter.ChainID()
	recent, err := w.scanned.GetRecent(ctx, chainID, window)
	if err != nil {
		return false, storeFail(fmt.Errorf("load scanned blocks: %w", err))
	}
	if len(recent) == 0 {
		return false, nil
	}

	heights := make([]int64, len(recent))
	for i, b := range recent {
		heights[i] = b.Height
	}

	var headers []*chain.Header
	err = w.withRetry(ctx, "watcher.reorg_headers", func(ctx context.Context) error {
		var err error
		headers, err = w.adapter.GetHeaders(ctx, heights)
		return err
	})
	if err != nil {
		return false, err
	}

	// recent is ordered tip-first; walk toward the oldest entry to find the
	// deepest mismatching height.
	forkHeight := int64(-1)
	var expected, actual string
	for i, b := range recent {
		if i >= len(headers) || headers[i] == nil {
			continue
		}
		if headers[i].Hash != b.BlockHash {
			forkHeight = b.Height
			expected = b.BlockHash
			actual = headers[i].Hash
		}
	}
	if forkHeight < 0 {
		return false, nil
	}

	metrics.WatcherReorgsTotal.WithLabelValues(chainID.String()).Inc()
	w.logger.Warn("reorg detected",
		"fork_height", forkHeight,
		"expected_hash", expected,
		"actual_hash", actual,
	)

	discarded, err := w.deposits.DiscardSeenFrom(ctx, chainID, forkHeight)
	if err != nil {
		return false, storeFail(fmt.Errorf("discard seen deposits: %w", err))
	}
	if err := w.scanned.DeleteFrom(ctx, chainID, forkHeight); err != nil {
		return false, storeFail(fmt.Errorf("delete scanned blocks: %w", err))
	}

	rewindTo := forkHeight - 1
	if err := w.persistCursor(ctx, rewindTo); err != nil {
		return false, err
	}
	w.setCursor(rewindTo)

	w.logger.Info("rewound past reorg",
		"cursor", rewindTo,
		"seen_discarded", discarded,
	)

	if w.alerter != nil {
		w.sendAlert(ctx, alert.Alert{
			Type:      alert.AlertTypeReorg,
			Component: w.componentName(),
			Title:     "Source chain reorganized",
			Message:   fmt.Sprintf("Rewound cursor to %d", rewindTo),
			Fields: map[string]string{
				"fork_height":   fmt.Sprintf("%d", forkHeight),
				"expected_hash": expected,
				"actual_hash":   actual,
			},
		})
	}
	return true, nil
}

// withRetry runs fn with exponential backoff on transient failures.
func (w *Watcher) withRetry(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	attempts := w.retryMaxAttempts
	if attempts <= 0 {
		attempts = defaultRetryMaxAttempts
	}

	var lastErr error
	lastDecision := retry.Decision{Class: retry.ClassTerminal, Reason: "unset"}
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		lastDecision = retry.Classify(err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !lastDecision.IsTransient() {
			return fmt.Errorf("terminal_failure stage=%s attempt=%d reason=%s: %w", stage, attempt, lastDecision.Reason, err)
		}
		if attempt == attempts {
			break
		}

		delay := retry.Delay(attempt, w.backoffInitial, w.backoffMax)
		w.logger.Warn("scan stage failed; retrying",
			"stage", stage,
			"classification_reason", lastDecision.Reason,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if sleepErr := w.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("transient_recovery_exhausted stage=%s attempts=%d reason=%s: %w", stage, attempts, lastDecision.Reason, lastErr)
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) error {
	if w.sleepFn != nil {
		return w.sleepFn(ctx, d)
	}
	return retry.Sleep(ctx, d)
}
