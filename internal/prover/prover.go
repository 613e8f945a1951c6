package prover

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/Alert17/zkclear-core/internal/metrics"
	"github.com/Alert17/zkclear-core/internal/retry"
	"github.com/Alert17/zkclear-core/internal/tracing"
)

const (
	defaultMaxAttempts    = 5
	defaultBackoffInitial = 500 * time.Millisecond
	defaultBackoffMax     = 30 * time.Second
)

// ProofJob is everything a backend needs to prove one sealed block. Proofs
// commit to the roots, never to row contents, so the job stays small enough
// to ship over a stream.
type ProofJob struct {
	ID              uuid.UUID `json:"id"`
	BlockSequence   uint64    `json:"block_sequence"`
	PreStateRoot    string    `json:"pre_state_root"`
	PostStateRoot   string    `json:"post_state_root"`
	WithdrawalsRoot string    `json:"withdrawals_root"`
	DepositCount    int       `json:"deposit_count"`
	TxCount         int       `json:"tx_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// ProofResult is the worker's answer to one job. Exactly one of Proof and
// Err is set.
type ProofResult struct {
	JobID         uuid.UUID `json:"job_id"`
	BlockSequence uint64    `json:"block_sequence"`
	Proof         []byte    `json:"proof,omitempty"`
	Err           string    `json:"error,omitempty"`
}

// Backend produces proof bytes for one job. A single call is one attempt;
// retries are the Engine's job.
type Backend interface {
	Prove(ctx context.Context, job ProofJob) ([]byte, error)
}

// Client is the block producer's handle on the proof pipeline. The Engine
// serves it in-process; StreamClient serves it across a stream transport.
type Client interface {
	RequestProof(ctx context.Context, job ProofJob) ([]byte, error)
}

// Config carries the attempt budget and backoff envelope.
type Config struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Engine drives a Backend with bounded exponential backoff. An exhausted or
// terminal attempt budget surfaces as an error; the producer decides what a
// failed proof means for the block.
type Engine struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger
	sleepFn func(ctx context.Context, d time.Duration) error
}

var _ Client = (*Engine)(nil)

func NewEngine(backend Backend, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = defaultBackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With("component", "prover"),
	}
}

// RequestProof runs attempts until one succeeds, one fails terminally, or
// the budget runs out.
func (e *Engine) RequestProof(ctx context.Context, job ProofJob) ([]byte, error) {
	ctx, span := tracing.Tracer("prover").Start(ctx, "prover.prove",
		otelTrace.WithAttributes(
			attribute.Int64("block_sequence", int64(job.BlockSequence)),
			attribute.Int("max_attempts", e.cfg.MaxAttempts),
		),
	)
	defer span.End()

	var lastErr error
	lastDecision := retry.Decision{Class: retry.ClassTerminal, Reason: "unset"}
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		proof, err := e.backend.Prove(ctx, job)
		if err == nil {
			metrics.ProofLatency.Observe(time.Since(start).Seconds())
			metrics.ProofAttemptsTotal.WithLabelValues("success").Inc()
			span.SetAttributes(attribute.Int("attempts", attempt))
			e.logger.Info("proof generated",
				"block_sequence", job.BlockSequence,
				"attempt", attempt,
				"proof_bytes", len(proof),
			)
			return proof, nil
		}

		lastErr = err
		lastDecision = retry.Classify(err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !lastDecision.IsTransient() {
			metrics.ProofAttemptsTotal.WithLabelValues("terminal").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("terminal_failure stage=prover.prove attempt=%d reason=%s: %w", attempt, lastDecision.Reason, err)
		}

		metrics.ProofAttemptsTotal.WithLabelValues("transient").Inc()
		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := retry.Delay(attempt, e.cfg.BackoffInitial, e.cfg.BackoffMax)
		e.logger.Warn("proof attempt failed; retrying",
			"block_sequence", job.BlockSequence,
			"classification_reason", lastDecision.Reason,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}

	metrics.ProofAttemptsTotal.WithLabelValues("exhausted").Inc()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "proof attempts exhausted")
	return nil, fmt.Errorf("transient_recovery_exhausted stage=prover.prove attempts=%d reason=%s: %w", e.cfg.MaxAttempts, lastDecision.Reason, lastErr)
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.sleepFn != nil {
		return e.sleepFn(ctx, d)
	}
	return retry.Sleep(ctx, d)
}
