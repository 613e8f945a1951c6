package state

import (
	"fmt"
	"math/big"
	"time"

	"github.com/Alert17/zkclear-core/internal/crypto"
	"github.com/Alert17/zkclear-core/internal/domain/model"
)

// MaxDealDuration caps how far in the future a deal expiry can sit. Later
// expiries are clamped, not rejected.
const MaxDealDuration = 30 * 24 * time.Hour

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// ApplyDeposit credits the depositor unconditionally. Deposits carry no
// nonce and cannot be rejected once confirmed on the source chain.
func (l *Ledger) ApplyDeposit(dep *model.DepositEvent) error {
	amount, err := crypto.ParseAmount(dep.Amount)
	if err != nil {
		return fmt.Errorf("deposit %s amount: %w", dep.Key(), err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credit(dep.Depositor, dep.AssetID, amount)
}

// ApplyTx validates and applies one signed transaction. The sender nonce
// advances only on success; a failed apply leaves the ledger untouched.
func (l *Ledger) ApplyTx(tx *model.Transaction, blockTime time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tx.Nonce != l.nonces[tx.Sender] {
		return ErrNonceMismatch
	}

	var err error
	switch tx.Kind {
	case model.TxKindTransfer:
		err = l.applyTransfer(tx)
	case model.TxKindWithdraw:
		err = l.applyWithdraw(tx)
	case model.TxKindCreateDeal:
		err = l.applyCreateDeal(tx, blockTime)
	case model.TxKindAcceptDeal:
		err = l.applyAcceptDeal(tx, blockTime)
	case model.TxKindCancelDeal:
		err = l.applyCancelDeal(tx)
	default:
		err = ErrUnknownKind
	}
	if err != nil {
		return err
	}

	l.nonces[tx.Sender] = tx.Nonce + 1
	l.dirtyAccounts[tx.Sender] = struct{}{}
	return nil
}

func (l *Ledger) applyTransfer(tx *model.Transaction) error {
	p := tx.Transfer
	if p == nil {
		return fmt.Errorf("%w: missing transfer params", ErrUnknownKind)
	}
	amount, err := crypto.ParseAmount(p.Amount)
	if err != nil {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return ErrInvalidAmount
	}

	sender := l.balanceRef(tx.Sender, p.AssetID)
	if sender == nil || sender.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if tx.Sender == p.Recipient {
		return nil
	}
	if recipient := l.balanceRef(p.Recipient, p.AssetID); recipient != nil {
		if new(big.Int).Add(recipient, amount).Cmp(maxUint128) > 0 {
			return ErrOverflow
		}
	}

	if err := l.debit(tx.Sender, p.AssetID, amount); err != nil {
		return err
	}
	return l.credit(p.Recipient, p.AssetID, amount)
}

func (l *Ledger) applyWithdraw(tx *model.Transaction) error {
	p := tx.Withdraw
	if p == nil {
		return fmt.Errorf("%w: missing withdraw params", ErrUnknownKind)
	}
	amount, err := crypto.ParseAmount(p.Amount)
	if err != nil {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return ErrInvalidAmount
	}
	return l.debit(tx.Sender, p.AssetID, amount)
}

func (l *Ledger) applyCreateDeal(tx *model.Transaction, blockTime time.Time) error {
	p := tx.CreateDeal
	if p == nil {
		return fmt.Errorf("%w: missing create deal params", ErrUnknownKind)
	}
	if _, exists := l.deals[p.DealID]; exists {
		return ErrDealExists
	}
	baseAmount, err := crypto.ParseAmount(p.BaseAmount)
	if err != nil {
		return ErrInvalidAmount
	}
	price, err := crypto.ParseAmount(p.PricePerBase)
	if err != nil {
		return ErrInvalidAmount
	}

	var expiresAt *time.Time
	if p.ExpiresAt != nil {
		exp := time.Unix(int64(*p.ExpiresAt), 0).UTC()
		if max := blockTime.Add(MaxDealDuration); exp.After(max) {
			exp = max
		}
		expiresAt = &exp
	}

	l.deals[p.DealID] = &Deal{
		ID:           p.DealID,
		Maker:        tx.Sender,
		Taker:        p.Taker,
		Visibility:   p.Visibility,
		BaseAsset:    p.BaseAsset,
		QuoteAsset:   p.QuoteAsset,
		BaseChainID:  p.BaseChainID,
		QuoteChainID: p.QuoteChainID,
		BaseAmount:   baseAmount,
		Remaining:    new(big.Int).Set(baseAmount),
		PricePerBase: price,
		Status:       model.DealStatusPending,
		IsCrossChain: p.BaseChainID != p.QuoteChainID,
		CreatedAt:    blockTime,
		ExpiresAt:    expiresAt,
		ExternalRef:  p.ExternalRef,
	}
	l.dirtyDeals[p.DealID] = struct{}{}
	return nil
}

func (l *Ledger) applyAcceptDeal(tx *model.Transaction, blockTime time.Time) error {
	p := tx.AcceptDeal
	if p == nil {
		return fmt.Errorf("%w: missing accept deal params", ErrUnknownKind)
	}
	deal, ok := l.deals[p.DealID]
	if !ok {
		return ErrDealNotFound
	}
	if deal.Status != model.DealStatusPending {
		return ErrDealClosed
	}
	if deal.ExpiresAt != nil && !deal.ExpiresAt.IsZero() && deal.ExpiresAt.Before(blockTime) {
		return ErrDealExpired
	}
	taker := tx.Sender
	if deal.Visibility == model.DealVisibilityDirect {
		if deal.Taker == nil || *deal.Taker != taker {
			return ErrUnauthorized
		}
	}
	if deal.Maker == taker {
		return ErrUnauthorized
	}

	fill := new(big.Int).Set(deal.Remaining)
	if p.FillAmount != nil {
		parsed, err := crypto.ParseAmount(*p.FillAmount)
		if err != nil {
			return ErrInvalidFill
		}
		fill = parsed
	}
	if fill.Sign() == 0 || fill.Cmp(deal.Remaining) > 0 {
		return ErrInvalidFill
	}

	quote := new(big.Int).Mul(fill, deal.PricePerBase)
	if quote.Cmp(maxUint128) > 0 {
		return ErrOverflow
	}

	// Stage all four legs against working copies so a failed check leaves
	// nothing half-applied, including the base == quote aliasing case.
	type balKey struct {
		addr  string
		asset model.AssetID
	}
	staged := make(map[balKey]*big.Int, 4)
	working := func(addr string, asset model.AssetID) *big.Int {
		k := balKey{addr, asset}
		if v, ok := staged[k]; ok {
			return v
		}
		v := new(big.Int)
		if cur := l.balanceRef(addr, asset); cur != nil {
			v.Set(cur)
		}
		staged[k] = v
		return v
	}

	makerBase := working(deal.Maker, deal.BaseAsset)
	if makerBase.Cmp(fill) < 0 {
		return ErrInsufficientBalance
	}
	makerBase.Sub(makerBase, fill)

	takerQuote := working(taker, deal.QuoteAsset)
	if takerQuote.Cmp(quote) < 0 {
		return ErrInsufficientBalance
	}
	takerQuote.Sub(takerQuote, quote)

	makerQuote := working(deal.Maker, deal.QuoteAsset)
	makerQuote.Add(makerQuote, quote)
	if makerQuote.Cmp(maxUint128) > 0 {
		return ErrOverflow
	}

	takerBase := working(taker, deal.BaseAsset)
	takerBase.Add(takerBase, fill)
	if takerBase.Cmp(maxUint128) > 0 {
		return ErrOverflow
	}

	for k, v := range staged {
		l.setBalance(k.addr, k.asset, v)
	}

	deal.Remaining.Sub(deal.Remaining, fill)
	if deal.Remaining.Sign() == 0 {
		deal.Status = model.DealStatusSettled
	}
	l.dirtyDeals[deal.ID] = struct{}{}
	return nil
}

func (l *Ledger) applyCancelDeal(tx *model.Transaction) error {
	p := tx.CancelDeal
	if p == nil {
		return fmt.Errorf("%w: missing cancel deal params", ErrUnknownKind)
	}
	deal, ok := l.deals[p.DealID]
	if !ok {
		return ErrDealNotFound
	}
	if deal.Status != model.DealStatusPending {
		return ErrDealClosed
	}
	if deal.Maker != tx.Sender {
		return ErrUnauthorized
	}
	deal.Status = model.DealStatusCancelled
	l.dirtyDeals[deal.ID] = struct{}{}
	return nil
}
