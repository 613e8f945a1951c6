package prover

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Alert17/zkclear-core/internal/retry"
	"github.com/Alert17/zkclear-core/internal/store/redis"
)

const defaultStreamNamespace = "zkclear"

func jobsStream(namespace string) string    { return namespace + ":proof:jobs" }
func resultsStream(namespace string) string { return namespace + ":proof:results" }
func checkpointKey(namespace string) string { return namespace + ":proof:worker:checkpoint" }

// StreamClient publishes jobs to the transport and waits for the matching
// result. It lets the proving worker run in a separate process while the
// producer keeps the same Client call.
type StreamClient struct {
	transport redis.MessageTransport
	namespace string
	logger    *slog.Logger

	// lastID is the results-stream cursor. Stale results from earlier runs
	// are skipped by job id, so starting over from 0 is safe.
	lastID string
}

var _ Client = (*StreamClient)(nil)

func NewStreamClient(transport redis.MessageTransport, namespace string, logger *slog.Logger) *StreamClient {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultStreamNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamClient{
		transport: transport,
		namespace: namespace,
		logger:    logger.With("component", "prover_client"),
	}
}

// RequestProof publishes the job and blocks until its result arrives. The
// producer is the only caller, so results always arrive in request order;
// mismatched ids are leftovers from a previous process run.
func (c *StreamClient) RequestProof(ctx context.Context, job ProofJob) ([]byte, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	if _, err := c.transport.PublishJSON(ctx, jobsStream(c.namespace), job); err != nil {
		return nil, fmt.Errorf("publish proof job %d: %w", job.BlockSequence, err)
	}
	c.logger.Debug("proof job published", "job_id", job.ID, "block_sequence", job.BlockSequence)

	for {
		var res ProofResult
		id, err := c.transport.ReadJSON(ctx, resultsStream(c.namespace), c.lastID, &res)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read proof result for block %d: %w", job.BlockSequence, err)
		}
		c.lastID = id

		if res.JobID != job.ID {
			c.logger.Debug("skipping stale proof result", "job_id", res.JobID, "block_sequence", res.BlockSequence)
			continue
		}
		if res.Err != "" {
			return nil, fmt.Errorf("proof worker failed block %d: %s", res.BlockSequence, res.Err)
		}
		return res.Proof, nil
	}
}

// Worker consumes proof jobs from the transport, runs them through the
// Engine, and publishes results. The checkpoint makes delivery effectively
// once per process lineage: a restart resumes after the last job whose
// result was published.
type Worker struct {
	transport redis.MessageTransport
	engine    *Engine
	namespace string
	logger    *slog.Logger
}

func NewWorker(transport redis.MessageTransport, engine *Engine, namespace string, logger *slog.Logger) *Worker {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultStreamNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		transport: transport,
		engine:    engine,
		namespace: namespace,
		logger:    logger.With("component", "prover_worker"),
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	checkpoints, _ := w.transport.(redis.CheckpointManager)

	lastID := ""
	if checkpoints != nil {
		restored, err := checkpoints.LoadStreamCheckpoint(ctx, checkpointKey(w.namespace))
		if err != nil {
			w.logger.Warn("failed to load proof worker checkpoint; starting from the beginning", "error", err)
		} else {
			lastID = restored
		}
	}

	w.logger.Info("proof worker started", "checkpoint", lastID)

	for {
		if ctx.Err() != nil {
			w.logger.Info("proof worker stopping")
			return ctx.Err()
		}

		var job ProofJob
		id, err := w.transport.ReadJSON(ctx, jobsStream(w.namespace), lastID, &job)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("proof worker stopping")
				return ctx.Err()
			}
			w.logger.Warn("failed to read proof job", "error", err)
			if sleepErr := retry.Sleep(ctx, time.Second); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		result := ProofResult{JobID: job.ID, BlockSequence: job.BlockSequence}
		proof, proveErr := w.engine.RequestProof(ctx, job)
		if proveErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Err = proveErr.Error()
			w.logger.Error("proof job failed", "job_id", job.ID, "block_sequence", job.BlockSequence, "error", proveErr)
		} else {
			result.Proof = proof
		}

		if _, err := w.transport.PublishJSON(ctx, resultsStream(w.namespace), result); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The producer re-requests the same block under a fresh job id,
			// so a dropped result is retried upstream.
			w.logger.Error("failed to publish proof result", "job_id", job.ID, "error", err)
			continue
		}

		lastID = id
		if checkpoints != nil {
			if err := checkpoints.PersistStreamCheckpoint(ctx, checkpointKey(w.namespace), id); err != nil {
				w.logger.Warn("failed to persist proof worker checkpoint", "error", err)
			}
		}
	}
}
