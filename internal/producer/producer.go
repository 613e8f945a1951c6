package producer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/Alert17/zkclear-core/internal/alert"
	"github.com/Alert17/zkclear-core/internal/domain/model"
	"github.com/Alert17/zkclear-core/internal/health"
	"github.com/Alert17/zkclear-core/internal/metrics"
	"github.com/Alert17/zkclear-core/internal/prover"
	"github.com/Alert17/zkclear-core/internal/queue"
	"github.com/Alert17/zkclear-core/internal/state"
	"github.com/Alert17/zkclear-core/internal/store"
	"github.com/Alert17/zkclear-core/internal/tracing"
)

// maxDepositsPerBlock caps the confirmed-deposit page one block consumes.
// Leftovers ride the next block; nothing is dropped.
const maxDepositsPerBlock = 1000

const componentName = "producer"

type Config struct {
	MaxTxsPerBlock     int
	BlockInterval      time.Duration
	ProduceEmptyBlocks bool
}

// Status is the producer's externally visible position, served by the
// health and queue-status endpoints.
type Status struct {
	LastCommitted uint64 `json:"last_committed_sequence"`
	NextSequence  uint64 `json:"next_sequence"`
	Halted        bool   `json:"halted"`
	HaltReason    string `json:"halt_reason,omitempty"`
}

// pendingBlock is a sealed block between seal and commit, carrying the full
// store delta it produced. The ledger already reflects it; the store does
// not until commit.
type pendingBlock struct {
	block      *model.Block
	deposits   []model.DepositEvent
	txs        []*model.Transaction
	balances   []model.Balance
	accounts   []model.Account
	deals      []*model.Deal
	cursorTips map[model.ChainID]int64
	buildStart time.Time
}

// Producer turns confirmed deposits and queued transactions into committed
// blocks on a fixed tick. It is the single ledger writer: every state
// mutation flows through its seal, prove, commit cycle, and one database
// transaction commits the whole block delta together with the watcher
// cursors it consumed.
//
// A proof failure halts sealing: the sealed block is retained and retried
// in place on later ticks, never renumbered. Store failures are fatal; a
// restart rebuilds the ledger from the last committed block.
type Producer struct {
	db       store.TxBeginner
	accounts store.AccountRepository
	balances store.BalanceRepository
	blocks   store.BlockRepository
	txns     store.TransactionRepository
	deposits store.DepositRepository
	deals    store.DealRepository
	cursors  store.CursorRepository

	ledger *state.Ledger
	queue  *queue.Queue
	proofs prover.Client
	cfg    Config
	logger *slog.Logger

	alerter alert.Alerter
	tracker *health.Tracker
	nowFn   func() time.Time

	// pending is touched only by the Run goroutine.
	pending *pendingBlock

	mu            sync.RWMutex
	lastCommitted uint64
	prevStateRoot string
	halted        bool
	haltReason    string
}

func New(
	db store.TxBeginner,
	accounts store.AccountRepository,
	balances store.BalanceRepository,
	blocks store.BlockRepository,
	txns store.TransactionRepository,
	deposits store.DepositRepository,
	deals store.DealRepository,
	cursors store.CursorRepository,
	ledger *state.Ledger,
	q *queue.Queue,
	proofs prover.Client,
	cfg Config,
	logger *slog.Logger,
) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		db:       db,
		accounts: accounts,
		balances: balances,
		blocks:   blocks,
		txns:     txns,
		deposits: deposits,
		deals:    deals,
		cursors:  cursors,
		ledger:   ledger,
		queue:    q,
		proofs:   proofs,
		cfg:      cfg,
		logger:   logger.With("component", componentName),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// WithAlerter sets the alerter for halt and recovery alerts.
func (p *Producer) WithAlerter(a alert.Alerter) *Producer {
	p.alerter = a
	return p
}

// WithHealth sets the component health tracker.
func (p *Producer) WithHealth(t *health.Tracker) *Producer {
	p.tracker = t
	return p
}

// Restore rebuilds the working ledger from committed state and verifies its
// root against the last committed block. Must succeed before Run starts and
// before the queue accepts submissions.
func (p *Producer) Restore(ctx context.Context) error {
	accounts, err := p.accounts.All(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	for i := range accounts {
		p.ledger.LoadAccount(&accounts[i])
	}

	balances, err := p.balances.All(ctx)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	for i := range balances {
		if err := p.ledger.LoadBalance(&balances[i]); err != nil {
			return err
		}
	}

	deals, err := p.deals.All(ctx)
	if err != nil {
		return fmt.Errorf("load deals: %w", err)
	}
	for i := range deals {
		if err := p.ledger.LoadDeal(&deals[i]); err != nil {
			return err
		}
	}

	latest, err := p.blocks.Latest(ctx)
	if err != nil {
		return fmt.Errorf("load latest block: %w", err)
	}

	computed := state.FormatRoot(p.ledger.StateRoot())

	p.mu.Lock()
	defer p.mu.Unlock()
	if latest == nil {
		p.lastCommitted = 0
		p.prevStateRoot = computed
	} else {
		if computed != latest.PostStateRoot {
			return fmt.Errorf("ledger root mismatch at boot: computed %s, block %d committed %s",
				computed, latest.Sequence, latest.PostStateRoot)
		}
		p.lastCommitted = latest.Sequence
		p.prevStateRoot = latest.PostStateRoot
	}
	metrics.BlockHeight.Set(float64(p.lastCommitted))

	p.logger.Info("ledger restored",
		"accounts", len(accounts),
		"balances", len(balances),
		"deals", len(deals),
		"last_committed", p.lastCommitted,
		"state_root", computed,
	)
	return nil
}

// Run produces blocks until ctx is cancelled. Restore must have succeeded
// first.
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Info("producer started",
		"block_interval", p.cfg.BlockInterval,
		"max_txs_per_block", p.cfg.MaxTxsPerBlock,
		"produce_empty_blocks", p.cfg.ProduceEmptyBlocks,
	)

	ticker := time.NewTicker(p.cfg.BlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("producer stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := p.runTick(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		}
	}
}

// runTick advances the seal, prove, commit cycle by one step. While halted
// the tick skips building and retries the retained block's proof; queued
// transactions and confirming deposits keep accumulating upstream.
func (p *Producer) runTick(ctx context.Context) error {
	ctx, span := tracing.Tracer("producer").Start(ctx, "producer.tick")
	defer span.End()

	if p.pending == nil {
		pending, err := p.buildBlock(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if pending == nil {
			return nil
		}
		p.pending = pending
	}

	span.SetAttributes(
		attribute.Int64("block_sequence", int64(p.pending.block.Sequence)),
		attribute.Int("deposits", p.pending.block.DepositCount),
		attribute.Int("txs", p.pending.block.TxCount),
	)

	if err := p.proveAndCommit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// buildBlock drains the deposit inbox and the queue, applies everything to
// the ledger, and seals the result. Returns (nil, nil) when there is
// nothing to sequence and empty blocks are off.
func (p *Producer) buildBlock(ctx context.Context) (*pendingBlock, error) {
	ctx, span := tracing.Tracer("producer").Start(ctx, "producer.build")
	defer span.End()

	buildStart := time.Now()

	deposits, err := p.deposits.ListConfirmed(ctx, maxDepositsPerBlock)
	if err != nil {
		return nil, fmt.Errorf("list confirmed deposits: %w", err)
	}
	batch := p.queue.Drain(p.cfg.MaxTxsPerBlock)
	metrics.QueueDepth.Set(float64(p.queue.Len()))

	if len(deposits) == 0 && len(batch) == 0 && !p.cfg.ProduceEmptyBlocks {
		return nil, nil
	}

	sequence := p.nextSequence()
	now := p.nowFn()

	p.ledger.BeginBlock()

	cursorTips := make(map[model.ChainID]int64)
	for i := range deposits {
		dep := &deposits[i]
		if err := p.ledger.ApplyDeposit(dep); err != nil {
			// A confirmed deposit that cannot credit means the inbox and
			// the ledger disagree; only a restart from committed state is
			// safe.
			return nil, fmt.Errorf("apply deposit %s: %w", dep.Key(), err)
		}
		if dep.SourceHeight > cursorTips[dep.ChainID] {
			cursorTips[dep.ChainID] = dep.SourceHeight
		}
	}

	applied := make([]*model.Transaction, 0, len(batch))
	rejected := 0
	for i, tx := range batch {
		position := i
		tx.BlockSequence = &sequence
		tx.Position = &position
		if err := p.ledger.ApplyTx(tx, now); err != nil {
			reason := err.Error()
			tx.Status = model.TxStatusRejected
			tx.RejectReason = &reason
			rejected++
			p.logger.Warn("transaction rejected",
				"hash", tx.Hash,
				"kind", tx.Kind,
				"sender", tx.Sender,
				"nonce", tx.Nonce,
				"reason", reason,
			)
			continue
		}
		tx.Status = model.TxStatusIncluded
		applied = append(applied, tx)
	}
	p.queue.Release(batch)

	withdrawalsRoot, err := state.WithdrawalsRoot(applied)
	if err != nil {
		return nil, fmt.Errorf("withdrawals root: %w", err)
	}

	p.mu.RLock()
	preRoot := p.prevStateRoot
	p.mu.RUnlock()
	postRoot := state.FormatRoot(p.ledger.StateRoot())

	block := &model.Block{
		Sequence:        sequence,
		Timestamp:       now,
		PreStateRoot:    preRoot,
		PostStateRoot:   postRoot,
		WithdrawalsRoot: state.FormatRoot(withdrawalsRoot),
		DepositCount:    len(deposits),
		TxCount:         len(batch),
		Status:          model.BlockStatusSealed,
		CreatedAt:       now,
	}

	p.logger.Info("block sealed",
		"sequence", sequence,
		"deposits", len(deposits),
		"txs", len(batch),
		"rejected", rejected,
		"post_state_root", postRoot,
	)

	return &pendingBlock{
		block:      block,
		deposits:   deposits,
		txs:        batch,
		balances:   p.ledger.DirtyBalances(),
		accounts:   p.ledger.DirtyAccounts(),
		deals:      p.ledger.DirtyDeals(),
		cursorTips: cursorTips,
		buildStart: buildStart,
	}, nil
}

// proveAndCommit requests the pending block's proof and commits on success.
// A proof failure engages the halt; the error it returns is reserved for
// cancellation and store failures.
func (p *Producer) proveAndCommit(ctx context.Context) error {
	pending := p.pending
	block := pending.block

	// Each retry runs under a fresh job id so stale results from earlier
	// attempts cannot satisfy it.
	job := prover.ProofJob{
		ID:              uuid.New(),
		BlockSequence:   block.Sequence,
		PreStateRoot:    block.PreStateRoot,
		PostStateRoot:   block.PostStateRoot,
		WithdrawalsRoot: block.WithdrawalsRoot,
		DepositCount:    block.DepositCount,
		TxCount:         block.TxCount,
		CreatedAt:       p.nowFn(),
	}

	proof, err := p.proofs.RequestProof(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.haltSealing(ctx, block.Sequence, err)
		return nil
	}
	block.Proof = proof
	block.Status = model.BlockStatusProved

	if err := p.commit(ctx, pending); err != nil {
		return err
	}

	p.mu.Lock()
	p.lastCommitted = block.Sequence
	p.prevStateRoot = block.PostStateRoot
	wasHalted := p.halted
	p.halted = false
	p.haltReason = ""
	p.mu.Unlock()
	p.pending = nil

	metrics.BlocksProducedTotal.Inc()
	metrics.BlockHeight.Set(float64(block.Sequence))
	metrics.BlockSealLatency.Observe(time.Since(pending.buildStart).Seconds())
	for _, dep := range pending.deposits {
		metrics.BlockDepositsApplied.WithLabelValues(dep.ChainID.String()).Inc()
	}
	for _, tx := range pending.txs {
		outcome := "finalized"
		if tx.Status == model.TxStatusRejected {
			outcome = "rejected"
		}
		metrics.BlockTxsApplied.WithLabelValues(string(tx.Kind), outcome).Inc()
	}

	if wasHalted {
		p.resumeSealing(ctx, block.Sequence)
	}
	if p.tracker != nil {
		p.tracker.RecordSuccess()
	}

	p.logger.Info("block committed",
		"sequence", block.Sequence,
		"deposits", block.DepositCount,
		"txs", block.TxCount,
		"proof_bytes", len(proof),
	)
	return nil
}

// commit writes the block's whole delta in one database transaction: rows,
// balances, nonces, deals, deposit flips, and the watcher cursors the block
// consumed.
func (p *Producer) commit(ctx context.Context, pending *pendingBlock) error {
	ctx, span := tracing.Tracer("producer").Start(ctx, "producer.commit",
		otelTrace.WithAttributes(attribute.Int64("block_sequence", int64(pending.block.Sequence))),
	)
	defer span.End()

	commitTime := p.nowFn()
	block := pending.block
	block.Status = model.BlockStatusCommitted
	block.CommittedAt = &commitTime

	for _, tx := range pending.txs {
		if tx.Status == model.TxStatusIncluded {
			tx.Status = model.TxStatusFinalized
		}
		finalizedAt := commitTime
		tx.FinalizedAt = &finalizedAt
	}

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := dbTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			p.logger.Warn("rollback failed", "error", rbErr)
		}
	}()

	upserts := make([]model.Balance, 0, len(pending.balances))
	var deletes []store.BalanceKey
	for _, b := range pending.balances {
		if b.Amount == "0" {
			deletes = append(deletes, store.BalanceKey{Address: b.Address, AssetID: b.AssetID})
			continue
		}
		upserts = append(upserts, b)
	}
	if len(upserts) > 0 {
		if err := p.balances.UpsertTx(ctx, dbTx, upserts); err != nil {
			return fmt.Errorf("upsert balances: %w", err)
		}
	}
	if len(deletes) > 0 {
		if err := p.balances.DeleteTx(ctx, dbTx, deletes); err != nil {
			return fmt.Errorf("delete zero balances: %w", err)
		}
	}
	if len(pending.accounts) > 0 {
		if err := p.accounts.UpsertTx(ctx, dbTx, pending.accounts); err != nil {
			return fmt.Errorf("upsert accounts: %w", err)
		}
	}
	if len(pending.deals) > 0 {
		if err := p.deals.UpsertTx(ctx, dbTx, pending.deals); err != nil {
			return fmt.Errorf("upsert deals: %w", err)
		}
	}
	if err := p.blocks.InsertTx(ctx, dbTx, block); err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	if len(pending.txs) > 0 {
		if err := p.txns.InsertBatchTx(ctx, dbTx, pending.txs); err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
	}
	if len(pending.deposits) > 0 {
		ids := make([]uuid.UUID, len(pending.deposits))
		for i, d := range pending.deposits {
			ids[i] = d.ID
		}
		if err := p.deposits.MarkAppliedTx(ctx, dbTx, ids, block.Sequence); err != nil {
			return fmt.Errorf("mark deposits applied: %w", err)
		}
	}

	chains := make([]model.ChainID, 0, len(pending.cursorTips))
	for chainID := range pending.cursorTips {
		chains = append(chains, chainID)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })
	for _, chainID := range chains {
		if err := p.cursors.AdvanceTx(ctx, dbTx, chainID, pending.cursorTips[chainID]); err != nil {
			return fmt.Errorf("advance cursor %s: %w", chainID, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit block %d: %w", block.Sequence, err)
	}
	committed = true
	return nil
}

func (p *Producer) haltSealing(ctx context.Context, sequence uint64, cause error) {
	p.pending.block.Status = model.BlockStatusFailed

	p.mu.Lock()
	first := !p.halted
	p.halted = true
	p.haltReason = cause.Error()
	p.mu.Unlock()

	metrics.ProducerHalted.Set(1)
	if p.tracker != nil {
		p.tracker.Halt(cause.Error())
	}

	if !first {
		p.logger.Warn("proof retry failed; sealing still halted",
			"sequence", sequence,
			"error", cause,
		)
		return
	}

	p.logger.Error("sealing halted after proof failure",
		"sequence", sequence,
		"error", cause,
	)
	if p.alerter != nil {
		if err := p.alerter.Send(ctx, alert.Alert{
			Type:      alert.AlertTypeSealingHalted,
			Component: componentName,
			Title:     "Block sealing halted",
			Message:   fmt.Sprintf("proof for block %d failed; the block is retained and retried in place", sequence),
			Fields: map[string]string{
				"block_sequence": strconv.FormatUint(sequence, 10),
				"error":          cause.Error(),
			},
		}); err != nil {
			p.logger.Warn("failed to send alert", "error", err)
		}
	}
}

func (p *Producer) resumeSealing(ctx context.Context, sequence uint64) {
	metrics.ProducerHalted.Set(0)
	if p.tracker != nil {
		p.tracker.Resume()
	}

	p.logger.Info("sealing resumed", "sequence", sequence)
	if p.alerter != nil {
		if err := p.alerter.Send(ctx, alert.Alert{
			Type:      alert.AlertTypeRecovery,
			Component: componentName,
			Title:     "Sealing resumed",
			Message:   fmt.Sprintf("block %d proved and committed after proof failures", sequence),
			Fields: map[string]string{
				"block_sequence": strconv.FormatUint(sequence, 10),
			},
		}); err != nil {
			p.logger.Warn("failed to send alert", "error", err)
		}
	}
}

func (p *Producer) nextSequence() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastCommitted + 1
}

// Status reports the producer's position for the health and queue-status
// endpoints.
func (p *Producer) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{
		LastCommitted: p.lastCommitted,
		NextSequence:  p.lastCommitted + 1,
		Halted:        p.halted,
		HaltReason:    p.haltReason,
	}
}
