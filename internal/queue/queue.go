package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Alert17/zkclear-core/internal/assets"
	"github.com/Alert17/zkclear-core/internal/crypto"
	"github.com/Alert17/zkclear-core/internal/domain/model"
	"github.com/Alert17/zkclear-core/internal/state"
)

var (
	ErrQueueFull          = errors.New("transaction queue is full")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// Queue is the bounded FIFO between the submission API and the block
// producer. Admission is strict: a transaction only enters if it could apply
// cleanly given everything queued or committed ahead of it. The producer is
// the single consumer.
type Queue struct {
	ledger   *state.Ledger
	registry *assets.Registry
	capacity int
	logger   *slog.Logger

	mu      sync.Mutex
	items   []*model.Transaction
	pending map[string]int // per-sender queued-or-draining count
}

func New(ledger *state.Ledger, registry *assets.Registry, capacity int, logger *slog.Logger) *Queue {
	return &Queue{
		ledger:   ledger,
		registry: registry,
		capacity: capacity,
		logger:   logger.With("component", "queue"),
		pending:  make(map[string]int),
	}
}

// Submit validates and enqueues one transaction. On success the transaction
// is normalized in place: canonical addresses, hash set, status QUEUED.
func (q *Queue) Submit(tx *model.Transaction) error {
	if err := q.validate(tx); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}

	expected := q.ledger.Nonce(tx.Sender) + uint64(q.pending[tx.Sender])
	if tx.Nonce != expected {
		return fmt.Errorf("%w: nonce %d, expected %d", ErrInvalidTransaction, tx.Nonce, expected)
	}

	tx.Status = model.TxStatusQueued
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	q.items = append(q.items, tx)
	q.pending[tx.Sender]++

	q.logger.Debug("transaction queued",
		"hash", tx.Hash,
		"kind", tx.Kind,
		"sender", tx.Sender,
		"nonce", tx.Nonce,
		"depth", len(q.items))
	return nil
}

// Drain removes up to max transactions in FIFO order. The per-sender
// pending counts stay reserved until Release, so admission keeps seeing the
// drained transactions as ahead of new submissions.
func (q *Queue) Drain(max int) []*model.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := max
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}
	batch := make([]*model.Transaction, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return batch
}

// Release drops the pending reservations of a drained batch once the ledger
// reflects its outcome. Called by the producer after applying the batch.
func (q *Queue) Release(batch []*model.Transaction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, tx := range batch {
		if q.pending[tx.Sender] > 0 {
			q.pending[tx.Sender]--
			if q.pending[tx.Sender] == 0 {
				delete(q.pending, tx.Sender)
			}
		}
	}
}

// Len is the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity is the configured maximum depth.
func (q *Queue) Capacity() int {
	return q.capacity
}

// PendingFor returns how many transactions from the sender are queued or
// draining, which is also the sender's nonce offset at admission.
func (q *Queue) PendingFor(sender string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[sender]
}

// validate runs every stateless admission check and normalizes addresses.
func (q *Queue) validate(tx *model.Transaction) error {
	if !tx.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTransaction, tx.Kind)
	}
	if err := crypto.ValidateAddress(tx.Sender); err != nil {
		return fmt.Errorf("%w: sender: %s", ErrInvalidTransaction, err)
	}
	sender, err := crypto.NormalizeAddress(tx.Sender)
	if err != nil {
		return fmt.Errorf("%w: sender: %s", ErrInvalidTransaction, err)
	}
	tx.Sender = sender

	switch tx.Kind {
	case model.TxKindTransfer:
		if err := q.validateTransfer(tx); err != nil {
			return err
		}
	case model.TxKindWithdraw:
		if err := q.validateWithdraw(tx); err != nil {
			return err
		}
	case model.TxKindCreateDeal:
		if err := q.validateCreateDeal(tx); err != nil {
			return err
		}
	case model.TxKindAcceptDeal:
		if err := q.validateAcceptDeal(tx); err != nil {
			return err
		}
	case model.TxKindCancelDeal:
		if tx.CancelDeal == nil {
			return fmt.Errorf("%w: missing cancel deal params", ErrInvalidTransaction)
		}
	}

	if err := crypto.VerifyTxSignature(tx); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, err)
	}
	hash, err := crypto.TxHash(tx)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, err)
	}
	tx.Hash = hash
	return nil
}

func (q *Queue) validateTransfer(tx *model.Transaction) error {
	p := tx.Transfer
	if p == nil {
		return fmt.Errorf("%w: missing transfer params", ErrInvalidTransaction)
	}
	if err := crypto.ValidateAddress(p.Recipient); err != nil {
		return fmt.Errorf("%w: recipient: %s", ErrInvalidTransaction, err)
	}
	recipient, err := crypto.NormalizeAddress(p.Recipient)
	if err != nil {
		return fmt.Errorf("%w: recipient: %s", ErrInvalidTransaction, err)
	}
	p.Recipient = recipient
	if err := q.validatePositiveAmount(p.Amount); err != nil {
		return err
	}
	if !q.registry.Known(p.AssetID) {
		return fmt.Errorf("%w: unknown asset %d", ErrInvalidTransaction, p.AssetID)
	}
	return nil
}

func (q *Queue) validateWithdraw(tx *model.Transaction) error {
	p := tx.Withdraw
	if p == nil {
		return fmt.Errorf("%w: missing withdraw params", ErrInvalidTransaction)
	}
	if err := crypto.ValidateAddress(p.Destination); err != nil {
		return fmt.Errorf("%w: destination: %s", ErrInvalidTransaction, err)
	}
	destination, err := crypto.NormalizeAddress(p.Destination)
	if err != nil {
		return fmt.Errorf("%w: destination: %s", ErrInvalidTransaction, err)
	}
	p.Destination = destination
	if err := q.validatePositiveAmount(p.Amount); err != nil {
		return err
	}
	if !q.registry.Known(p.AssetID) {
		return fmt.Errorf("%w: unknown asset %d", ErrInvalidTransaction, p.AssetID)
	}
	if !p.ChainID.Supported() {
		return fmt.Errorf("%w: unsupported chain %d", ErrInvalidTransaction, p.ChainID)
	}
	return nil
}

func (q *Queue) validateCreateDeal(tx *model.Transaction) error {
	p := tx.CreateDeal
	if p == nil {
		return fmt.Errorf("%w: missing create deal params", ErrInvalidTransaction)
	}
	if _, ok := p.Visibility.WireByte(); !ok {
		return fmt.Errorf("%w: unknown visibility %q", ErrInvalidTransaction, p.Visibility)
	}
	if p.Taker != nil {
		if err := crypto.ValidateAddress(*p.Taker); err != nil {
			return fmt.Errorf("%w: taker: %s", ErrInvalidTransaction, err)
		}
		taker, err := crypto.NormalizeAddress(*p.Taker)
		if err != nil {
			return fmt.Errorf("%w: taker: %s", ErrInvalidTransaction, err)
		}
		p.Taker = &taker
	}
	if err := q.validatePositiveAmount(p.BaseAmount); err != nil {
		return err
	}
	if err := q.validatePositiveAmount(p.PricePerBase); err != nil {
		return err
	}
	if !q.registry.Known(p.BaseAsset) {
		return fmt.Errorf("%w: unknown base asset %d", ErrInvalidTransaction, p.BaseAsset)
	}
	if !q.registry.Known(p.QuoteAsset) {
		return fmt.Errorf("%w: unknown quote asset %d", ErrInvalidTransaction, p.QuoteAsset)
	}
	return nil
}

func (q *Queue) validateAcceptDeal(tx *model.Transaction) error {
	p := tx.AcceptDeal
	if p == nil {
		return fmt.Errorf("%w: missing accept deal params", ErrInvalidTransaction)
	}
	if p.FillAmount != nil {
		if err := q.validatePositiveAmount(*p.FillAmount); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) validatePositiveAmount(amount string) error {
	v, err := crypto.ParseAmount(amount)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, err)
	}
	if v.Sign() == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	}
	return nil
}
