package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type TxKind string

const (
	TxKindTransfer   TxKind = "TRANSFER"
	TxKindWithdraw   TxKind = "WITHDRAW"
	TxKindCreateDeal TxKind = "CREATE_DEAL"
	TxKindAcceptDeal TxKind = "ACCEPT_DEAL"
	TxKindCancelDeal TxKind = "CANCEL_DEAL"
)

// Wire bytes are part of the signed digest and must never be renumbered.
var txKindWire = map[TxKind]byte{
	TxKindTransfer:   0,
	TxKindWithdraw:   1,
	TxKindCreateDeal: 2,
	TxKindAcceptDeal: 3,
	TxKindCancelDeal: 4,
}

func (k TxKind) WireByte() (byte, bool) {
	b, ok := txKindWire[k]
	return b, ok
}

func (k TxKind) Valid() bool {
	_, ok := txKindWire[k]
	return ok
}

type TxStatus string

const (
	TxStatusQueued    TxStatus = "QUEUED"
	TxStatusIncluded  TxStatus = "INCLUDED"
	TxStatusFinalized TxStatus = "FINALIZED"
	TxStatusRejected  TxStatus = "REJECTED"
)

type Transaction struct {
	Hash      string `db:"hash"`
	Kind      TxKind `db:"kind"`
	Sender    string `db:"sender"`
	Nonce     uint64 `db:"nonce"`
	Signature []byte `db:"signature"` // 65-byte r||s||v

	Transfer   *TransferParams   `db:"-"`
	Withdraw   *WithdrawParams   `db:"-"`
	CreateDeal *CreateDealParams `db:"-"`
	AcceptDeal *AcceptDealParams `db:"-"`
	CancelDeal *CancelDealParams `db:"-"`

	Status        TxStatus   `db:"status"`
	BlockSequence *uint64    `db:"block_sequence"`
	Position      *int       `db:"position"`
	RejectReason  *string    `db:"reject_reason"`
	CreatedAt     time.Time  `db:"created_at"`
	FinalizedAt   *time.Time `db:"finalized_at"`
}

type TransferParams struct {
	Recipient string  `json:"recipient"`
	AssetID   AssetID `json:"asset_id"`
	Amount    string  `json:"amount"` // NUMERIC(39,0) as string
}

type WithdrawParams struct {
	AssetID     AssetID `json:"asset_id"`
	Amount      string  `json:"amount"` // NUMERIC(39,0) as string
	Destination string  `json:"destination"`
	ChainID     ChainID `json:"chain_id"`
}

type CreateDealParams struct {
	DealID       uint64         `json:"deal_id"`
	Visibility   DealVisibility `json:"visibility"`
	Taker        *string        `json:"taker,omitempty"`
	BaseAsset    AssetID        `json:"base_asset"`
	QuoteAsset   AssetID        `json:"quote_asset"`
	BaseChainID  ChainID        `json:"base_chain_id"`
	QuoteChainID ChainID        `json:"quote_chain_id"`
	BaseAmount   string         `json:"base_amount"`     // NUMERIC(39,0) as string
	PricePerBase string         `json:"price_per_base"`  // NUMERIC(39,0) as string
	ExpiresAt    *uint64        `json:"expires_at,omitempty"` // unix seconds
	ExternalRef  *string        `json:"external_ref,omitempty"`
}

type AcceptDealParams struct {
	DealID     uint64  `json:"deal_id"`
	FillAmount *string `json:"fill_amount,omitempty"` // nil fills the full remaining amount
}

type CancelDealParams struct {
	DealID uint64 `json:"deal_id"`
}

// MarshalPayload serializes the kind-specific parameters for storage.
func (t *Transaction) MarshalPayload() (json.RawMessage, error) {
	var v any
	switch t.Kind {
	case TxKindTransfer:
		v = t.Transfer
	case TxKindWithdraw:
		v = t.Withdraw
	case TxKindCreateDeal:
		v = t.CreateDeal
	case TxKindAcceptDeal:
		v = t.AcceptDeal
	case TxKindCancelDeal:
		v = t.CancelDeal
	default:
		return nil, fmt.Errorf("marshal payload: unknown tx kind %q", t.Kind)
	}
	if v == nil || isNilPointer(v) {
		return nil, fmt.Errorf("marshal payload: missing %s params", t.Kind)
	}
	return json.Marshal(v)
}

// UnmarshalPayload restores the kind-specific parameters from storage.
func (t *Transaction) UnmarshalPayload(raw json.RawMessage) error {
	switch t.Kind {
	case TxKindTransfer:
		t.Transfer = &TransferParams{}
		return json.Unmarshal(raw, t.Transfer)
	case TxKindWithdraw:
		t.Withdraw = &WithdrawParams{}
		return json.Unmarshal(raw, t.Withdraw)
	case TxKindCreateDeal:
		t.CreateDeal = &CreateDealParams{}
		return json.Unmarshal(raw, t.CreateDeal)
	case TxKindAcceptDeal:
		t.AcceptDeal = &AcceptDealParams{}
		return json.Unmarshal(raw, t.AcceptDeal)
	case TxKindCancelDeal:
		t.CancelDeal = &CancelDealParams{}
		return json.Unmarshal(raw, t.CancelDeal)
	default:
		return fmt.Errorf("unmarshal payload: unknown tx kind %q", t.Kind)
	}
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *TransferParams:
		return p == nil
	case *WithdrawParams:
		return p == nil
	case *CreateDealParams:
		return p == nil
	case *AcceptDealParams:
		return p == nil
	case *CancelDealParams:
		return p == nil
	}
	return false
}
