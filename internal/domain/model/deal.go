package model

import "time"

type DealVisibility string

const (
	DealVisibilityPublic DealVisibility = "PUBLIC"
	DealVisibilityDirect DealVisibility = "DIRECT"
)

// WireByte is the visibility encoding inside the signed digest.
func (v DealVisibility) WireByte() (byte, bool) {
	switch v {
	case DealVisibilityPublic:
		return 0, true
	case DealVisibilityDirect:
		return 1, true
	}
	return 0, false
}

type DealStatus string

const (
	DealStatusPending   DealStatus = "PENDING"
	DealStatusSettled   DealStatus = "SETTLED"
	DealStatusCancelled DealStatus = "CANCELLED"
	DealStatusExpired   DealStatus = "EXPIRED"
)

type Deal struct {
	ID              uint64         `db:"id"`
	Maker           string         `db:"maker"`
	Taker           *string        `db:"taker"`
	Visibility      DealVisibility `db:"visibility"`
	BaseAsset       AssetID        `db:"base_asset"`
	QuoteAsset      AssetID        `db:"quote_asset"`
	BaseChainID     ChainID        `db:"base_chain_id"`
	QuoteChainID    ChainID        `db:"quote_chain_id"`
	BaseAmount      string         `db:"base_amount"`      // NUMERIC(39,0) as string
	RemainingAmount string         `db:"remaining_amount"` // NUMERIC(39,0) as string
	PricePerBase    string         `db:"price_per_base"`   // NUMERIC(39,0) as string
	Status          DealStatus     `db:"status"`
	IsCrossChain    bool           `db:"is_cross_chain"`
	CreatedAt       time.Time      `db:"created_at"`
	ExpiresAt       *time.Time     `db:"expires_at"`
	ExternalRef     *string        `db:"external_ref"`
	UpdatedAt       time.Time      `db:"updated_at"`
}
