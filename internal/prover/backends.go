package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Alert17/zkclear-core/internal/retry"
)

// placeholderPrefix marks proofs produced without cryptography. The payload
// is deterministic over the job so tests and replays can compare bytes.
const placeholderPrefix = "ZKCLEAR_PROOF_PLACEHOLDER_V1"

// PlaceholderBackend emits a deterministic marker instead of a real proof.
// It exists so the pipeline's sealing, halting, and commit behavior can run
// without a proving service.
type PlaceholderBackend struct{}

func NewPlaceholderBackend() *PlaceholderBackend {
	return &PlaceholderBackend{}
}

func (b *PlaceholderBackend) Prove(_ context.Context, job ProofJob) ([]byte, error) {
	payload := fmt.Sprintf("%s:%d:%s:%s:%s",
		placeholderPrefix,
		job.BlockSequence,
		job.PreStateRoot,
		job.PostStateRoot,
		job.WithdrawalsRoot,
	)
	return []byte(payload), nil
}

// remoteProofResponse is the proving service's reply; Proof arrives base64
// encoded in the JSON.
type remoteProofResponse struct {
	Proof []byte `json:"proof"`
}

// RemoteBackend posts the job to an external proving service. The service
// is slow and flaky by nature; status codes are classified so the Engine
// retries what is worth retrying.
type RemoteBackend struct {
	url        string
	httpClient *http.Client
}

func NewRemoteBackend(url string, timeout time.Duration) *RemoteBackend {
	return &RemoteBackend{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (b *RemoteBackend) Prove(ctx context.Context, job ProofJob) ([]byte, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("marshal proof job: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("create proof request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call proving service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, retry.Transient(fmt.Errorf("proving service returned status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, retry.Terminal(fmt.Errorf("proving service returned status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read proof response: %w", err)
	}
	var decoded remoteProofResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, retry.Terminal(fmt.Errorf("decode proof response: %w", err))
	}
	if len(decoded.Proof) == 0 {
		return nil, retry.Terminal(fmt.Errorf("proving service returned empty proof for block %d", job.BlockSequence))
	}
	return decoded.Proof, nil
}
