package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alert17/zkclear-core/internal/domain/model"
	"github.com/Alert17/zkclear-core/internal/health"
	"github.com/Alert17/zkclear-core/internal/producer"
	"github.com/Alert17/zkclear-core/internal/queue"
	"github.com/Alert17/zkclear-core/internal/reconciliation"
	"github.com/Alert17/zkclear-core/internal/store"
	"github.com/Alert17/zkclear-core/internal/watcher"
)

const (
	addrSender    = "0x00000000000000000000000000000000000000a1"
	addrRecipient = "0x00000000000000000000000000000000000000b2"
)

var testHash = "0x" + strings.Repeat("ab", 32)

// ---------------------------------------------------------------------------
// stubs
// ---------------------------------------------------------------------------

type stubAccounts struct {
	getFunc func(ctx context.Context, address string) (*model.Account, error)
}

func (s *stubAccounts) Get(ctx context.Context, address string) (*model.Account, error) {
	return s.getFunc(ctx, address)
}
func (s *stubAccounts) All(context.Context) ([]model.Account, error)             { return nil, nil }
func (s *stubAccounts) UpsertTx(context.Context, *sql.Tx, []model.Account) error { return nil }

type stubBalances struct {
	getFunc          func(ctx context.Context, address string, assetID model.AssetID) (*model.Balance, error)
	getByAddressFunc func(ctx context.Context, address string) ([]model.Balance, error)
}

func (s *stubBalances) Get(ctx context.Context, address string, assetID model.AssetID) (*model.Balance, error) {
	return s.getFunc(ctx, address, assetID)
}
func (s *stubBalances) GetByAddress(ctx context.Context, address string) ([]model.Balance, error) {
	return s.getByAddressFunc(ctx, address)
}
func (s *stubBalances) All(context.Context) ([]model.Balance, error)                { return nil, nil }
func (s *stubBalances) UpsertTx(context.Context, *sql.Tx, []model.Balance) error    { return nil }
func (s *stubBalances) DeleteTx(context.Context, *sql.Tx, []store.BalanceKey) error { return nil }

type stubBlocks struct {
	getFunc  func(ctx context.Context, sequence uint64) (*model.Block, error)
	listFunc func(ctx context.Context, limit int) ([]model.Block, error)
}

func (s *stubBlocks) Get(ctx context.Context, sequence uint64) (*model.Block, error) {
	return s.getFunc(ctx, sequence)
}
func (s *stubBlocks) List(ctx context.Context, limit int) ([]model.Block, error) {
	return s.listFunc(ctx, limit)
}
func (s *stubBlocks) InsertTx(context.Context, *sql.Tx, *model.Block) error { return nil }
func (s *stubBlocks) Latest(context.Context) (*model.Block, error)          { return nil, nil }

type stubTxns struct {
	getFunc         func(ctx context.Context, hash string) (*model.Transaction, error)
	listByBlockFunc func(ctx context.Context, blockSequence uint64) ([]model.Transaction, error)
}

func (s *stubTxns) Get(ctx context.Context, hash string) (*model.Transaction, error) {
	return s.getFunc(ctx, hash)
}
func (s *stubTxns) ListByBlock(ctx context.Context, blockSequence uint64) ([]model.Transaction, error) {
	return s.listByBlockFunc(ctx, blockSequence)
}
func (s *stubTxns) InsertBatchTx(context.Context, *sql.Tx, []*model.Transaction) error { return nil }

type stubDeposits struct {
	countConfirmedFunc func(ctx context.Context) (int64, error)
}

func (s *stubDeposits) CountConfirmed(ctx context.Context) (int64, error) {
	return s.countConfirmedFunc(ctx)
}
func (s *stubDeposits) Insert(context.Context, *model.DepositEvent) (bool, error) { return false, nil }
func (s *stubDeposits) PromoteSeen(context.Context, model.ChainID, int64) (int64, error) {
	return 0, nil
}
func (s *stubDeposits) DiscardSeenFrom(context.Context, model.ChainID, int64) (int64, error) {
	return 0, nil
}
func (s *stubDeposits) ListConfirmed(context.Context, int) ([]model.DepositEvent, error) {
	return nil, nil
}
func (s *stubDeposits) MarkAppliedTx(context.Context, *sql.Tx, []uuid.UUID, uint64) error {
	return nil
}

type stubDeals struct {
	getFunc  func(ctx context.Context, id uint64) (*model.Deal, error)
	listFunc func(ctx context.Context, f store.DealFilter) ([]model.Deal, error)
}

func (s *stubDeals) Get(ctx context.Context, id uint64) (*model.Deal, error) {
	return s.getFunc(ctx, id)
}
func (s *stubDeals) List(ctx context.Context, f store.DealFilter) ([]model.Deal, error) {
	return s.listFunc(ctx, f)
}
func (s *stubDeals) UpsertTx(context.Context, *sql.Tx, []*model.Deal) error { return nil }
func (s *stubDeals) All(context.Context) ([]model.Deal, error)              { return nil, nil }

type stubQueue struct {
	submitFunc func(tx *model.Transaction) error
	depth      int
	capacity   int
}

func (q *stubQueue) Submit(tx *model.Transaction) error { return q.submitFunc(tx) }
func (q *stubQueue) Len() int                           { return q.depth }
func (q *stubQueue) Capacity() int                      { return q.capacity }

type stubSequencer struct{ st producer.Status }

func (s *stubSequencer) Status() producer.Status { return s.st }

type stubWatcher struct{ st watcher.Status }

func (w *stubWatcher) Status() watcher.Status { return w.st }

type stubPinger struct{ err error }

func (p *stubPinger) PingContext(context.Context) error { return p.err }

type stubReconciler struct {
	res *reconciliation.RunResult
	err error
}

func (r *stubReconciler) Run(context.Context) (*reconciliation.RunResult, error) {
	return r.res, r.err
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type testDeps struct {
	accounts  stubAccounts
	balances  stubBalances
	blocks    stubBlocks
	txns      stubTxns
	deposits  stubDeposits
	deals     stubDeals
	queue     stubQueue
	sequencer stubSequencer
}

func newTestServer(d *testDeps, opts ...ServerOption) *Server {
	return NewServer(
		&d.accounts, &d.balances, &d.blocks, &d.txns, &d.deposits, &d.deals,
		&d.queue, &d.sequencer, testLogger(), opts...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func doRequest(srv *Server, method, target string, body *bytes.Buffer) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// accounts
// ---------------------------------------------------------------------------

func TestHandleAccount_ReturnsNonceAndBalances(t *testing.T) {
	d := &testDeps{}
	d.accounts.getFunc = func(_ context.Context, address string) (*model.Account, error) {
		require.Equal(t, addrSender, address)
		return &model.Account{Address: address, Nonce: 7}, nil
	}
	d.balances.getByAddressFunc = func(_ context.Context, address string) ([]model.Balance, error) {
		return []model.Balance{
			{Address: address, AssetID: 1, Amount: "500"},
			{Address: address, AssetID: 2, Amount: "25"},
		}, nil
	}
	srv := newTestServer(d)

	// Mixed-case input must resolve to the canonical lowercase address.
	rec := doRequest(srv, http.MethodGet, "/api/v1/account/0x00000000000000000000000000000000000000A1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, addrSender, resp.Address)
	assert.Equal(t, uint64(7), resp.Nonce)
	assert.Equal(t, map[model.AssetID]string{1: "500", 2: "25"}, resp.Balances)
}

func TestHandleAccount_UnknownAddressIsZeroValued(t *testing.T) {
	d := &testDeps{}
	d.accounts.getFunc = func(context.Context, string) (*model.Account, error) { return nil, nil }
	d.balances.getByAddressFunc = func(context.Context, string) ([]model.Balance, error) { return nil, nil }
	srv := newTestServer(d)

	rec := doRequest(srv, http.MethodGet, "/api/v1/account/"+addrSender, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(0), resp.Nonce)
	assert.Empty(t, resp.Balances)
}

func TestHandleAccount_MalformedAddress(t *testing.T) {
	srv := newTestServer(&testDeps{})

	rec := doRequest(srv, http.MethodGet, "/api/v1/account/not-an-address", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAccountBalance(t *testing.T) {
	d := &testDeps{}
	d.balances.getFunc = func(_ context.Context, address string, assetID model.AssetID) (*model.Balance, error) {
		if assetID == 1 {
			return &model.Balance{Address: address, AssetID: 1, Amount: "123"}, nil
		}
		return nil, nil
	}
	srv := newTestServer(d)

	rec := doRequest(srv, http.MethodGet, "/api/v1/account/"+addrSender+"/balance/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "123", resp.Amount)

	// No row means a zero balance, not a 404.
	rec = doRequest(srv, http.MethodGet, "/api/v1/account/"+addrSender+"/balance/9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0", resp.Amount)

	// Asset ids are uint16.
	rec = doRequest(srv, http.MethodGet, "/api/v1/account/"+addrSender+"/balance/70000", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// ---------------------------------------------------------------------------
// blocks
// ---------------------------------------------------------------------------

func TestHandleBlock_ServesFromCacheAfterFirstLoad(t *testing.T) {
	committedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var getCalls int

	d := &testDeps{}
	d.blocks.getFunc = func(_ context.Context, sequence uint64) (*model.Block, error) {
		getCalls++
		require.Equal(t, uint64(42), sequence)
		return &model.Block{
			Sequence:        42,
			Timestamp:       committedAt,
			PreStateRoot:    "0xaa",
			PostStateRoot:   "0xbb",
			WithdrawalsRoot: "0xcc",
			DepositCount:    2,
			TxCount:         1,
			Proof:           []byte{0x7a, 0x6b},
			Status:          model.BlockStatusCommitted,
			CommittedAt:     &committedAt,
		}, nil
	}
	d.txns.listByBlockFunc = func(_ context.Context, sequence uint64) ([]model.Transaction, error) {
		return []model.Transaction{
			{Hash: testHash, Kind: model.TxKindTransfer, Sender: addrSender, Status: model.TxStatusFinalized},
		}, nil
	}
	srv := newTestServer(d)

	first := doRequest(srv, http.MethodGet, "/api/v1/block/42", nil)
	second := doRequest(srv, http.MethodGet, "/api/v1/block/42", nil)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, getCalls, "second request must come from the cache")
	assert.Equal(t, first.Body.String(), second.Body.String())

	var resp blockResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, uint64(42), resp.Sequence)
	assert.Equal(t, "0x7a6b", resp.Proof)
	assert.Equal(t, model.BlockStatusCommitted, resp.Status)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, testHash, resp.Transactions[0].Hash)
}

func TestHandleBlock_Errors(t *testing.T) {
	d := &testDeps{}
	d.blocks.getFunc = func(context.Context, uint64) (*model.Block, error) { return nil, nil }
	srv := newTestServer(d)

	tests := []struct {
		name     string
		target   string
		wantCode int
	}{
		{"non-numeric sequence", "/api/v1/block/abc", http.StatusBadRequest},
		{"zero sequence", "/api/v1/block/0", http.StatusBadRequest},
		{"unknown sequence", "/api/v1/block/99", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(srv, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestHandleListBlocks_LimitHandling(t *testing.T) {
	var gotLimit int
	d := &testDeps{}
	d.blocks.listFunc = func(_ context.Context, limit int) ([]model.Block, error) {
		gotLimit = limit
		return []model.Block{{Sequence: 9, Status: model.BlockStatusCommitted}}, nil
	}
	srv := newTestServer(d)

	rec := doRequest(srv, http.MethodGet, "/api/v1/blocks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultBlockListLimit, gotLimit)

	var resp []blockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, uint64(9), resp[0].Sequence)
	assert.Empty(t, resp[0].Transactions)

	rec = doRequest(srv, http.MethodGet, "/api/v1/blocks?limit=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxBlockListLimit, gotLimit)

	rec = doRequest(srv, http.MethodGet, "/api/v1/blocks?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ---------------------------------------------------------------------------
// transactions
// ---------------------------------------------------------------------------

func TestHandleTransaction(t *testing.T) {
	d := &testDeps{}
	d.txns.getFunc = func(_ context.Context, hash string) (*model.Transaction, error) {
		if hash == testHash {
			seq := uint64(3)
			pos := 0
			return &model.Transaction{
				Hash:          hash,
				Kind:          model.TxKindTransfer,
				Sender:        addrSender,
				Status:        model.TxStatusFinalized,
				BlockSequence: &seq,
				Position:      &pos,
			}, nil
		}
		return nil, nil
	}
	srv := newTestServer(d)

	rec := doRequest(srv, http.MethodGet, "/api/v1/transaction/"+testHash, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp transactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.TxKindTransfer, resp.Kind)
	require.NotNil(t, resp.BlockSequence)
	assert.Equal(t, uint64(3), *resp.BlockSequence)
	require.NotNil(t, resp.Position)
	assert.Equal(t, 0, *resp.Position)

	rec = doRequest(srv, http.MethodGet, "/api/v1/transaction/0x"+strings.Repeat("cd", 32), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/api/v1/transaction/nothex", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSubmitTransaction_Accepted(t *testing.T) {
	var got *model.Transaction
	d := &testDeps{}
	d.queue.depth = 1
	d.queue.submitFunc = func(tx *model.Transaction) error {
		got = tx
		tx.Hash = testHash
		tx.Status = model.TxStatusQueued
		return nil
	}
	srv := newTestServer(d)

	body := bytes.NewBufferString(`{
		"kind": "transfer",
		"sender": "` + addrSender + `",
		"nonce": 0,
		"signature": "0x0102",
		"transfer": {"recipient": "` + addrRecipient + `", "asset_id": 1, "amount": "50"}
	}`)
	rec := doRequest(srv, http.MethodPost, "/api/v1/transaction", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitTransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testHash, resp.Hash)
	assert.Equal(t, model.TxStatusQueued, resp.Status)

	require.NotNil(t, got)
	assert.Equal(t, model.TxKindTransfer, got.Kind)
	assert.Equal(t, []byte{0x01, 0x02}, got.Signature)
	require.NotNil(t, got.Transfer)
	assert.Equal(t, "50", got.Transfer.Amount)
}

func TestHandleSubmitTransaction_Rejections(t *testing.T) {
	validBody := `{"kind":"transfer","sender":"` + addrSender + `","nonce":5,"signature":"0x0102"}`

	tests := []struct {
		name     string
		body     string
		submit   func(tx *model.Transaction) error
		wantCode int
		wantBody string
	}{
		{
			name:     "malformed json",
			body:     "{not json",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown field",
			body:     `{"bogus":true}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad signature hex",
			body:     `{"kind":"transfer","sender":"` + addrSender + `","nonce":0,"signature":"0xzz"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name: "admission rejected",
			body: validBody,
			submit: func(*model.Transaction) error {
				return fmt.Errorf("%w: nonce 5, expected 0", queue.ErrInvalidTransaction)
			},
			wantCode: http.StatusBadRequest,
			wantBody: "nonce 5, expected 0",
		},
		{
			name:     "queue full",
			body:     validBody,
			submit:   func(*model.Transaction) error { return queue.ErrQueueFull },
			wantCode: http.StatusConflict,
		},
		{
			name:     "internal failure",
			body:     validBody,
			submit:   func(*model.Transaction) error { return errors.New("boom") },
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &testDeps{}
			d.queue.submitFunc = tt.submit
			srv := newTestServer(d)

			rec := doRequest(srv, http.MethodPost, "/api/v1/transaction", bytes.NewBufferString(tt.body))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// deals
// ---------------------------------------------------------------------------

func TestHandleDeal(t *testing.T) {
	d := &testDeps{}
	d.deals.getFunc = func(_ context.Context, id uint64) (*model.Deal, error) {
		if id == 3 {
			return &model.Deal{
				ID:              3,
				Maker:           addrSender,
				Visibility:      model.DealVisibilityPublic,
				BaseAsset:       1,
				QuoteAsset:      2,
				BaseAmount:      "1000",
				RemainingAmount: "400",
				PricePerBase:    "2",
				Status:          model.DealStatusPending,
			}, nil
		}
		return nil, nil
	}
	srv := newTestServer(d)

	rec := doRequest(srv, http.MethodGet, "/api/v1/deal/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp dealResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(3), resp.ID)
	assert.Equal(t, "400", resp.RemainingAmount)
	assert.Equal(t, model.DealStatusPending, resp.Status)

	rec = doRequest(srv, http.MethodGet, "/api/v1/deal/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/api/v1/deal/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListDeals_Filter(t *testing.T) {
	var gotFilter store.DealFilter
	d := &testDeps{}
	d.deals.listFunc = func(_ context.Context, f store.DealFilter) ([]model.Deal, error) {
		gotFilter = f
		return []model.Deal{{ID: 3, Maker: addrSender, Status: model.DealStatusSettled}}, nil
	}
	srv := newTestServer(d)

	target := "/api/v1/deals?status=settled&maker=" + addrSender + "&taker=" + addrRecipient + "&limit=5"
	rec := doRequest(srv, http.MethodGet, target, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.DealFilter{
		Status: model.DealStatusSettled,
		Maker:  addrSender,
		Taker:  addrRecipient,
		Limit:  5,
	}, gotFilter)

	var resp []dealResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, uint64(3), resp[0].ID)

	rec = doRequest(srv, http.MethodGet, "/api/v1/deals?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/api/v1/deals?maker=zzz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ---------------------------------------------------------------------------
// queue status, reconcile, health
// ---------------------------------------------------------------------------

func TestHandleQueueStatus(t *testing.T) {
	d := &testDeps{}
	d.queue.depth = 3
	d.queue.capacity = 100
	d.deposits.countConfirmedFunc = func(context.Context) (int64, error) { return 12, nil }
	d.sequencer.st = producer.Status{LastCommitted: 4, NextSequence: 5}
	srv := newTestServer(d)

	rec := doRequest(srv, http.MethodGet, "/api/v1/queue/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp queueStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Pending)
	assert.Equal(t, 100, resp.Capacity)
	assert.Equal(t, int64(12), resp.ConfirmedDeposits)
	assert.Equal(t, uint64(4), resp.LastCommitted)
	assert.Equal(t, uint64(5), resp.NextSequence)
	assert.False(t, resp.Halted)
}

func TestHandleReconcile(t *testing.T) {
	t.Run("not wired", func(t *testing.T) {
		srv := newTestServer(&testDeps{})

		rec := doRequest(srv, http.MethodPost, "/admin/v1/reconcile", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("runs audit", func(t *testing.T) {
		srv := newTestServer(&testDeps{}, WithReconciler(&stubReconciler{
			res: &reconciliation.RunResult{Total: 2, Matched: 2},
		}))

		rec := doRequest(srv, http.MethodPost, "/admin/v1/reconcile", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp reconciliation.RunResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Total)
		assert.Equal(t, 2, resp.Matched)
	})

	t.Run("audit fails", func(t *testing.T) {
		srv := newTestServer(&testDeps{}, WithReconciler(&stubReconciler{err: errors.New("db gone")}))

		rec := doRequest(srv, http.MethodPost, "/admin/v1/reconcile", nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleHealth_Healthy(t *testing.T) {
	reg := health.NewRegistry()
	reg.Register("watcher_ethereum").RecordSuccess()

	d := &testDeps{}
	d.sequencer.st = producer.Status{LastCommitted: 10, NextSequence: 11}
	srv := newTestServer(d,
		WithPinger(&stubPinger{}),
		WithHealthRegistry(reg),
		WithWatchers(&stubWatcher{st: watcher.Status{Chain: "ethereum", Cursor: 120, Head: 132, Lag: 12}}),
	)

	rec := doRequest(srv, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Store)
	require.Len(t, resp.Components, 1)
	assert.Equal(t, "watcher_ethereum", resp.Components[0].Component)
	require.Len(t, resp.Watchers, 1)
	assert.Equal(t, int64(12), resp.Watchers[0].Lag)
	assert.Equal(t, uint64(10), resp.Sequencer.LastCommitted)
}

func TestHandleHealth_Unhealthy(t *testing.T) {
	t.Run("sequencer halted", func(t *testing.T) {
		d := &testDeps{}
		d.sequencer.st = producer.Status{LastCommitted: 10, NextSequence: 11, Halted: true, HaltReason: "proof failed"}
		srv := newTestServer(d)

		rec := doRequest(srv, http.MethodGet, "/health", nil)

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "unhealthy", resp.Status)
		assert.True(t, resp.Sequencer.Halted)
	})

	t.Run("store unreachable", func(t *testing.T) {
		srv := newTestServer(&testDeps{}, WithPinger(&stubPinger{err: errors.New("connection refused")}))

		rec := doRequest(srv, http.MethodGet, "/health", nil)

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "unreachable", resp.Store)
	})

	t.Run("halted component", func(t *testing.T) {
		reg := health.NewRegistry()
		reg.Register("proof_pipeline").Halt("sealing halted at block 7")
		srv := newTestServer(&testDeps{}, WithHealthRegistry(reg))

		rec := doRequest(srv, http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleReady(t *testing.T) {
	srv := newTestServer(&testDeps{}, WithPinger(&stubPinger{}))
	rec := doRequest(srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	srv = newTestServer(&testDeps{}, WithPinger(&stubPinger{err: errors.New("connection refused")}))
	rec = doRequest(srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_RejectsWrongMethod(t *testing.T) {
	srv := newTestServer(&testDeps{})

	rec := doRequest(srv, http.MethodDelete, "/api/v1/queue/status", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
