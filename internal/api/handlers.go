package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Alert17/zkclear-core/internal/crypto"
	"github.com/Alert17/zkclear-core/internal/domain/model"
	"github.com/Alert17/zkclear-core/internal/metrics"
	"github.com/Alert17/zkclear-core/internal/queue"
	"github.com/Alert17/zkclear-core/internal/store"
)

type accountResponse struct {
	Address  string                   `json:"address"`
	Nonce    uint64                   `json:"nonce"`
	Balances map[model.AssetID]string `json:"balances"`
}

type balanceResponse struct {
	Address string        `json:"address"`
	AssetID model.AssetID `json:"asset_id"`
	Amount  string        `json:"amount"`
}

type blockResponse struct {
	Sequence        uint64                `json:"sequence"`
	Timestamp       time.Time             `json:"timestamp"`
	PreStateRoot    string                `json:"pre_state_root"`
	PostStateRoot   string                `json:"post_state_root"`
	WithdrawalsRoot string                `json:"withdrawals_root"`
	DepositCount    int                   `json:"deposit_count"`
	TxCount         int                   `json:"tx_count"`
	Status          model.BlockStatus     `json:"status"`
	Proof           string                `json:"proof,omitempty"`
	CommittedAt     *time.Time            `json:"committed_at,omitempty"`
	Transactions    []transactionResponse `json:"transactions,omitempty"`
}

type transactionResponse struct {
	Hash          string                  `json:"hash"`
	Kind          model.TxKind            `json:"kind"`
	Sender        string                  `json:"sender"`
	Nonce         uint64                  `json:"nonce"`
	Status        model.TxStatus          `json:"status"`
	BlockSequence *uint64                 `json:"block_sequence,omitempty"`
	Position      *int                    `json:"position,omitempty"`
	RejectReason  *string                 `json:"reject_reason,omitempty"`
	Transfer      *model.TransferParams   `json:"transfer,omitempty"`
	Withdraw      *model.WithdrawParams   `json:"withdraw,omitempty"`
	CreateDeal    *model.CreateDealParams `json:"create_deal,omitempty"`
	AcceptDeal    *model.AcceptDealParams `json:"accept_deal,omitempty"`
	CancelDeal    *model.CancelDealParams `json:"cancel_deal,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	FinalizedAt   *time.Time              `json:"finalized_at,omitempty"`
}

type dealResponse struct {
	ID              uint64               `json:"id"`
	Maker           string               `json:"maker"`
	Taker           *string              `json:"taker,omitempty"`
	Visibility      model.DealVisibility `json:"visibility"`
	BaseAsset       model.AssetID        `json:"base_asset"`
	QuoteAsset      model.AssetID        `json:"quote_asset"`
	BaseChainID     model.ChainID        `json:"base_chain_id"`
	QuoteChainID    model.ChainID        `json:"quote_chain_id"`
	BaseAmount      string               `json:"base_amount"`
	RemainingAmount string               `json:"remaining_amount"`
	PricePerBase    string               `json:"price_per_base"`
	Status          model.DealStatus     `json:"status"`
	IsCrossChain    bool                 `json:"is_cross_chain"`
	CreatedAt       time.Time            `json:"created_at"`
	ExpiresAt       *time.Time           `json:"expires_at,omitempty"`
	ExternalRef     *string              `json:"external_ref,omitempty"`
}

type queueStatusResponse struct {
	Pending           int    `json:"pending"`
	Capacity          int    `json:"capacity"`
	ConfirmedDeposits int64  `json:"confirmed_deposits"`
	LastCommitted     uint64 `json:"last_committed_sequence"`
	NextSequence      uint64 `json:"next_sequence"`
	Halted            bool   `json:"halted"`
	HaltReason        string `json:"halt_reason,omitempty"`
}

type submitTransactionRequest struct {
	Kind      string `json:"kind"`
	Sender    string `json:"sender"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`

	Transfer   *model.TransferParams   `json:"transfer,omitempty"`
	Withdraw   *model.WithdrawParams   `json:"withdraw,omitempty"`
	CreateDeal *model.CreateDealParams `json:"create_deal,omitempty"`
	AcceptDeal *model.AcceptDealParams `json:"accept_deal,omitempty"`
	CancelDeal *model.CancelDealParams `json:"cancel_deal,omitempty"`
}

type submitTransactionResponse struct {
	Hash   string         `json:"hash"`
	Status model.TxStatus `json:"status"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.NormalizeAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := s.accounts.Get(r.Context(), addr)
	if err != nil {
		s.logger.Error("load account", "address", addr, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	rows, err := s.balances.GetByAddress(r.Context(), addr)
	if err != nil {
		s.logger.Error("load balances", "address", addr, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Unknown addresses are valid queries: zero nonce, no balances.
	resp := accountResponse{Address: addr, Balances: make(map[model.AssetID]string, len(rows))}
	if acct != nil {
		resp.Nonce = acct.Nonce
	}
	for _, b := range rows {
		resp.Balances[b.AssetID] = b.Amount
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.NormalizeAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	assetID, err := strconv.ParseUint(r.PathValue("asset"), 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return
	}

	b, err := s.balances.Get(r.Context(), addr, model.AssetID(assetID))
	if err != nil {
		s.logger.Error("load balance", "address", addr, "asset_id", assetID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := balanceResponse{Address: addr, AssetID: model.AssetID(assetID), Amount: "0"}
	if b != nil {
		resp.Amount = b.Amount
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(r.PathValue("sequence"), 10, 64)
	if err != nil || seq == 0 {
		writeError(w, http.StatusBadRequest, "invalid block sequence")
		return
	}

	if resp, ok := s.blockCache.Get(seq); ok {
		metrics.BlockCacheHits.Inc()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	metrics.BlockCacheMisses.Inc()

	b, err := s.blocks.Get(r.Context(), seq)
	if err != nil {
		s.logger.Error("load block", "sequence", seq, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	txs, err := s.txns.ListByBlock(r.Context(), seq)
	if err != nil {
		s.logger.Error("load block transactions", "sequence", seq, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := toBlockResponse(b, txs)
	s.blockCache.Add(seq, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultBlockListLimit, maxBlockListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.blocks.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list blocks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := make([]blockResponse, 0, len(rows))
	for i := range rows {
		resp = append(resp, toBlockResponse(&rows[i], nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToLower(r.PathValue("hash"))
	if !isTxHash(hash) {
		writeError(w, http.StatusBadRequest, "invalid transaction hash")
		return
	}

	tx, err := s.txns.Get(r.Context(), hash)
	if err != nil {
		s.logger.Error("load transaction", "hash", hash, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req submitTransactionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sig, err := decodeHex(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature encoding")
		return
	}

	tx := &model.Transaction{
		Kind:       model.TxKind(strings.ToUpper(req.Kind)),
		Sender:     req.Sender,
		Nonce:      req.Nonce,
		Signature:  sig,
		Transfer:   req.Transfer,
		Withdraw:   req.Withdraw,
		CreateDeal: req.CreateDeal,
		AcceptDeal: req.AcceptDeal,
		CancelDeal: req.CancelDeal,
	}
	kind := "unknown"
	if tx.Kind.Valid() {
		kind = strings.ToLower(string(tx.Kind))
	}

	if err := s.queue.Submit(tx); err != nil {
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			metrics.QueueSubmissionsTotal.WithLabelValues(kind, "queue_full").Inc()
			writeError(w, http.StatusConflict, "transaction queue is full")
		case errors.Is(err, queue.ErrInvalidTransaction):
			metrics.QueueSubmissionsTotal.WithLabelValues(kind, "rejected").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("submit transaction", "error", err)
			metrics.QueueSubmissionsTotal.WithLabelValues(kind, "error").Inc()
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	metrics.QueueSubmissionsTotal.WithLabelValues(kind, "accepted").Inc()
	metrics.QueueDepth.Set(float64(s.queue.Len()))
	writeJSON(w, http.StatusAccepted, submitTransactionResponse{Hash: tx.Hash, Status: tx.Status})
}

func (s *Server) handleDeal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deal id")
		return
	}

	d, err := s.deals.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("load deal", "deal_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "deal not found")
		return
	}
	writeJSON(w, http.StatusOK, toDealResponse(d))
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	f := store.DealFilter{}
	q := r.URL.Query()

	if raw := q.Get("status"); raw != "" {
		st := model.DealStatus(strings.ToUpper(raw))
		switch st {
		case model.DealStatusPending, model.DealStatusSettled, model.DealStatusCancelled, model.DealStatusExpired:
			f.Status = st
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown deal status %q", raw))
			return
		}
	}
	if raw := q.Get("maker"); raw != "" {
		addr, err := crypto.NormalizeAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "maker: "+err.Error())
			return
		}
		f.Maker = addr
	}
	if raw := q.Get("taker"); raw != "" {
		addr, err := crypto.NormalizeAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "taker: "+err.Error())
			return
		}
		f.Taker = addr
	}
	limit, err := parseLimit(r, defaultDealListLimit, maxDealListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit = limit

	rows, err := s.deals.List(r.Context(), f)
	if err != nil {
		s.logger.Error("list deals", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := make([]dealResponse, 0, len(rows))
	for i := range rows {
		resp = append(resp, toDealResponse(&rows[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	confirmed, err := s.deposits.CountConfirmed(r.Context())
	if err != nil {
		s.logger.Error("count confirmed deposits", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	st := s.sequencer.Status()
	writeJSON(w, http.StatusOK, queueStatusResponse{
		Pending:           s.queue.Len(),
		Capacity:          s.queue.Capacity(),
		ConfirmedDeposits: confirmed,
		LastCommitted:     st.LastCommitted,
		NextSequence:      st.NextSequence,
		Halted:            st.Halted,
		HaltReason:        st.HaltReason,
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciliation not available")
		return
	}

	res, err := s.reconciler.Run(r.Context())
	if err != nil {
		s.logger.Error("reconciliation run", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func toBlockResponse(b *model.Block, txs []model.Transaction) blockResponse {
	resp := blockResponse{
		Sequence:        b.Sequence,
		Timestamp:       b.Timestamp,
		PreStateRoot:    b.PreStateRoot,
		PostStateRoot:   b.PostStateRoot,
		WithdrawalsRoot: b.WithdrawalsRoot,
		DepositCount:    b.DepositCount,
		TxCount:         b.TxCount,
		Status:          b.Status,
		CommittedAt:     b.CommittedAt,
	}
	if len(b.Proof) > 0 {
		resp.Proof = "0x" + hex.EncodeToString(b.Proof)
	}
	if len(txs) > 0 {
		resp.Transactions = make([]transactionResponse, 0, len(txs))
		for i := range txs {
			resp.Transactions = append(resp.Transactions, toTransactionResponse(&txs[i]))
		}
	}
	return resp
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		Hash:          t.Hash,
		Kind:          t.Kind,
		Sender:        t.Sender,
		Nonce:         t.Nonce,
		Status:        t.Status,
		BlockSequence: t.BlockSequence,
		Position:      t.Position,
		RejectReason:  t.RejectReason,
		Transfer:      t.Transfer,
		Withdraw:      t.Withdraw,
		CreateDeal:    t.CreateDeal,
		AcceptDeal:    t.AcceptDeal,
		CancelDeal:    t.CancelDeal,
		CreatedAt:     t.CreatedAt,
		FinalizedAt:   t.FinalizedAt,
	}
}

func toDealResponse(d *model.Deal) dealResponse {
	return dealResponse{
		ID:              d.ID,
		Maker:           d.Maker,
		Taker:           d.Taker,
		Visibility:      d.Visibility,
		BaseAsset:       d.BaseAsset,
		QuoteAsset:      d.QuoteAsset,
		BaseChainID:     d.BaseChainID,
		QuoteChainID:    d.QuoteChainID,
		BaseAmount:      d.BaseAmount,
		RemainingAmount: d.RemainingAmount,
		PricePerBase:    d.PricePerBase,
		Status:          d.Status,
		IsCrossChain:    d.IsCrossChain,
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
		ExternalRef:     d.ExternalRef,
	}
}

func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if n > max {
		n = max
	}
	return n, nil
}

func isTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, errors.New("empty hex value")
	}
	return hex.DecodeString(s)
}
