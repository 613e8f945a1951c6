package state

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b2"
	carol = "0x00000000000000000000000000000000000000c3"
)

var blockTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func deposit(addr string, asset model.AssetID, amount string) *model.DepositEvent {
	return &model.DepositEvent{
		ChainID:      model.ChainEthereum,
		SourceTxHash: "0xdead",
		LogIndex:     0,
		Depositor:    addr,
		AssetID:      asset,
		Amount:       amount,
	}
}

func transfer(from, to string, asset model.AssetID, amount string, nonce uint64) *model.Transaction {
	return &model.Transaction{
		Kind:   model.TxKindTransfer,
		Sender: from,
		Nonce:  nonce,
		Transfer: &model.TransferParams{
			Recipient: to,
			AssetID:   asset,
			Amount:    amount,
		},
	}
}

func withdraw(from string, asset model.AssetID, amount string, nonce uint64) *model.Transaction {
	return &model.Transaction{
		Kind:   model.TxKindWithdraw,
		Sender: from,
		Nonce:  nonce,
		Withdraw: &model.WithdrawParams{
			AssetID:     asset,
			Amount:      amount,
			Destination: "0x00000000000000000000000000000000000000d4",
			ChainID:     model.ChainEthereum,
		},
	}
}

func createDeal(maker string, nonce uint64, p model.CreateDealParams) *model.Transaction {
	return &model.Transaction{
		Kind:       model.TxKindCreateDeal,
		Sender:     maker,
		Nonce:      nonce,
		CreateDeal: &p,
	}
}

func acceptDeal(taker string, nonce uint64, dealID uint64, fill *string) *model.Transaction {
	return &model.Transaction{
		Kind:   model.TxKindAcceptDeal,
		Sender: taker,
		Nonce:  nonce,
		AcceptDeal: &model.AcceptDealParams{
			DealID:     dealID,
			FillAmount: fill,
		},
	}
}

func cancelDeal(sender string, nonce uint64, dealID uint64) *model.Transaction {
	return &model.Transaction{
		Kind:       model.TxKindCancelDeal,
		Sender:     sender,
		Nonce:      nonce,
		CancelDeal: &model.CancelDealParams{DealID: dealID},
	}
}

func str(s string) *string { return &s }

func TestApplyDepositCreatesAccountLazily(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "100")))

	assert.Equal(t, "100", l.Balance(alice, 1).String())
	assert.Equal(t, uint64(0), l.Nonce(alice), "deposits never touch nonces")

	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "50")))
	assert.Equal(t, "150", l.Balance(alice, 1).String())
}

func TestApplyDepositOverflowGuard(t *testing.T) {
	l := NewLedger()
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, max.String())))

	err := l.ApplyDeposit(deposit(alice, 1, "1"))
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, max.String(), l.Balance(alice, 1).String())
}

func TestApplyTransfer(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "100")))

	require.NoError(t, l.ApplyTx(transfer(alice, bob, 1, "40", 0), blockTime))

	assert.Equal(t, "60", l.Balance(alice, 1).String())
	assert.Equal(t, "40", l.Balance(bob, 1).String())
	assert.Equal(t, uint64(1), l.Nonce(alice))
	assert.Equal(t, uint64(0), l.Nonce(bob))
}

func TestApplyTransferInsufficientBalance(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "10")))

	err := l.ApplyTx(transfer(alice, bob, 1, "11", 0), blockTime)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// A rejected apply leaves everything untouched, including the nonce.
	assert.Equal(t, "10", l.Balance(alice, 1).String())
	assert.Equal(t, "0", l.Balance(bob, 1).String())
	assert.Equal(t, uint64(0), l.Nonce(alice))

	// The same nonce is still usable by a valid transaction.
	require.NoError(t, l.ApplyTx(transfer(alice, bob, 1, "10", 0), blockTime))
	assert.Equal(t, uint64(1), l.Nonce(alice))
}

func TestApplyTransferNonceRules(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "100")))

	assert.ErrorIs(t, l.ApplyTx(transfer(alice, bob, 1, "1", 1), blockTime), ErrNonceMismatch)
	require.NoError(t, l.ApplyTx(transfer(alice, bob, 1, "1", 0), blockTime))

	// Replay of the consumed nonce is a mismatch now.
	assert.ErrorIs(t, l.ApplyTx(transfer(alice, bob, 1, "1", 0), blockTime), ErrNonceMismatch)
	require.NoError(t, l.ApplyTx(transfer(alice, bob, 1, "1", 1), blockTime))
	assert.Equal(t, uint64(2), l.Nonce(alice))
}

func TestApplyTransferZeroAmount(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "100")))
	assert.ErrorIs(t, l.ApplyTx(transfer(alice, bob, 1, "0", 0), blockTime), ErrInvalidAmount)
	assert.Equal(t, uint64(0), l.Nonce(alice))
}

func TestApplyTransferToSelf(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "100")))
	require.NoError(t, l.ApplyTx(transfer(alice, alice, 1, "100", 0), blockTime))
	assert.Equal(t, "100", l.Balance(alice, 1).String())
	assert.Equal(t, uint64(1), l.Nonce(alice))
}

func TestApplyWithdrawDebits(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "100")))

	require.NoError(t, l.ApplyTx(withdraw(alice, 1, "30", 0), blockTime))
	assert.Equal(t, "70", l.Balance(alice, 1).String())

	assert.ErrorIs(t, l.ApplyTx(withdraw(alice, 1, "71", 1), blockTime), ErrInsufficientBalance)
	assert.Equal(t, "70", l.Balance(alice, 1).String())
}

func TestCreateDeal(t *testing.T) {
	l := NewLedger()

	tx := createDeal(alice, 0, model.CreateDealParams{
		DealID:       1,
		Visibility:   model.DealVisibilityPublic,
		BaseAsset:    1,
		QuoteAsset:   2,
		BaseChainID:  model.ChainEthereum,
		QuoteChainID: model.ChainMantle,
		BaseAmount:   "100",
		PricePerBase: "3",
	})
	require.NoError(t, l.ApplyTx(tx, blockTime))

	deal, ok := l.Deal(1)
	require.True(t, ok)
	assert.Equal(t, alice, deal.Maker)
	assert.Equal(t, model.DealStatusPending, deal.Status)
	assert.Equal(t, "100", deal.Remaining.String())
	assert.True(t, deal.IsCrossChain)
	assert.Nil(t, deal.ExpiresAt)

	// Duplicate ids are rejected and do not burn the nonce.
	dup := createDeal(alice, 1, model.CreateDealParams{
		DealID: 1, Visibility: model.DealVisibilityPublic,
		BaseAsset: 1, QuoteAsset: 2, BaseAmount: "5", PricePerBase: "1",
	})
	assert.ErrorIs(t, l.ApplyTx(dup, blockTime), ErrDealExists)
	assert.Equal(t, uint64(1), l.Nonce(alice))
}

func TestCreateDealClampsExpiry(t *testing.T) {
	l := NewLedger()
	farFuture := uint64(blockTime.Add(365 * 24 * time.Hour).Unix())

	tx := createDeal(alice, 0, model.CreateDealParams{
		DealID:       7,
		Visibility:   model.DealVisibilityPublic,
		BaseAsset:    1,
		QuoteAsset:   2,
		BaseAmount:   "10",
		PricePerBase: "1",
		ExpiresAt:    &farFuture,
	})
	require.NoError(t, l.ApplyTx(tx, blockTime))

	deal, ok := l.Deal(7)
	require.True(t, ok)
	require.NotNil(t, deal.ExpiresAt)
	assert.Equal(t, blockTime.Add(MaxDealDuration), *deal.ExpiresAt)
}

func setupDeal(t *testing.T, l *Ledger, visibility model.DealVisibility, taker *string) {
	t.Helper()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "100")))
	require.NoError(t, l.ApplyDeposit(deposit(bob, 2, "1000")))
	tx := createDeal(alice, 0, model.CreateDealParams{
		DealID:       1,
		Visibility:   visibility,
		Taker:        taker,
		BaseAsset:    1,
		QuoteAsset:   2,
		BaseChainID:  model.ChainEthereum,
		QuoteChainID: model.ChainEthereum,
		BaseAmount:   "100",
		PricePerBase: "3",
	})
	require.NoError(t, l.ApplyTx(tx, blockTime))
}

func TestAcceptDealFullFill(t *testing.T) {
	l := NewLedger()
	setupDeal(t, l, model.DealVisibilityPublic, nil)

	require.NoError(t, l.ApplyTx(acceptDeal(bob, 0, 1, nil), blockTime))

	// 100 base at price 3 swaps 300 quote.
	assert.Equal(t, "0", l.Balance(alice, 1).String())
	assert.Equal(t, "300", l.Balance(alice, 2).String())
	assert.Equal(t, "100", l.Balance(bob, 1).String())
	assert.Equal(t, "700", l.Balance(bob, 2).String())

	deal, _ := l.Deal(1)
	assert.Equal(t, model.DealStatusSettled, deal.Status)
	assert.Equal(t, "0", deal.Remaining.String())
}

func TestAcceptDealPartialFill(t *testing.T) {
	l := NewLedger()
	setupDeal(t, l, model.DealVisibilityPublic, nil)

	require.NoError(t, l.ApplyTx(acceptDeal(bob, 0, 1, str("40")), blockTime))

	deal, _ := l.Deal(1)
	assert.Equal(t, model.DealStatusPending, deal.Status)
	assert.Equal(t, "60", deal.Remaining.String())
	assert.Equal(t, "40", l.Balance(bob, 1).String())
	assert.Equal(t, "120", l.Balance(alice, 2).String())

	// Second fill settles the remainder.
	require.NoError(t, l.ApplyTx(acceptDeal(bob, 1, 1, str("60")), blockTime))
	deal, _ = l.Deal(1)
	assert.Equal(t, model.DealStatusSettled, deal.Status)
}

func TestAcceptDealFillValidation(t *testing.T) {
	l := NewLedger()
	setupDeal(t, l, model.DealVisibilityPublic, nil)

	assert.ErrorIs(t, l.ApplyTx(acceptDeal(bob, 0, 1, str("0")), blockTime), ErrInvalidFill)
	assert.ErrorIs(t, l.ApplyTx(acceptDeal(bob, 0, 1, str("101")), blockTime), ErrInvalidFill)
	assert.ErrorIs(t, l.ApplyTx(acceptDeal(bob, 0, 99, nil), blockTime), ErrDealNotFound)
}

func TestAcceptDealDirectVisibility(t *testing.T) {
	l := NewLedger()
	setupDeal(t, l, model.DealVisibilityDirect, str(carol))
	require.NoError(t, l.ApplyDeposit(deposit(carol, 2, "1000")))

	// Bob is not the designated taker.
	assert.ErrorIs(t, l.ApplyTx(acceptDeal(bob, 0, 1, nil), blockTime), ErrUnauthorized)
	require.NoError(t, l.ApplyTx(acceptDeal(carol, 0, 1, nil), blockTime))
}

func TestAcceptDealDirectWithoutTakerIsUnfillable(t *testing.T) {
	l := NewLedger()
	setupDeal(t, l, model.DealVisibilityDirect, nil)

	assert.ErrorIs(t, l.ApplyTx(acceptDeal(bob, 0, 1, nil), blockTime), ErrUnauthorized)
}

func TestAcceptDealMakerCannotSelfFill(t *testing.T) {
	l := NewLedger()
	setupDeal(t, l, model.DealVisibilityPublic, nil)
	require.NoError(t, l.ApplyDeposit(deposit(alice, 2, "1000")))

	assert.ErrorIs(t, l.ApplyTx(acceptDeal(alice, 1, 1, nil), blockTime), ErrUnauthorized)
}

func TestAcceptDealExpired(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "100")))
	require.NoError(t, l.ApplyDeposit(deposit(bob, 2, "1000")))

	exp := uint64(blockTime.Add(time.Hour).Unix())
	tx := createDeal(alice, 0, model.CreateDealParams{
		DealID:       1,
		Visibility:   model.DealVisibilityPublic,
		BaseAsset:    1,
		QuoteAsset:   2,
		BaseAmount:   "100",
		PricePerBase: "3",
		ExpiresAt:    &exp,
	})
	require.NoError(t, l.ApplyTx(tx, blockTime))

	// At the expiry instant the deal is still fillable; past it, not.
	later := blockTime.Add(2 * time.Hour)
	assert.ErrorIs(t, l.ApplyTx(acceptDeal(bob, 0, 1, nil), later), ErrDealExpired)
	require.NoError(t, l.ApplyTx(acceptDeal(bob, 0, 1, nil), blockTime.Add(time.Hour)))
}

func TestAcceptDealInsufficientLegs(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "10"))) // maker short of the 100 base
	require.NoError(t, l.ApplyDeposit(deposit(bob, 2, "1000")))
	tx := createDeal(alice, 0, model.CreateDealParams{
		DealID: 1, Visibility: model.DealVisibilityPublic,
		BaseAsset: 1, QuoteAsset: 2, BaseAmount: "100", PricePerBase: "3",
	})
	require.NoError(t, l.ApplyTx(tx, blockTime))

	err := l.ApplyTx(acceptDeal(bob, 0, 1, nil), blockTime)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Nothing moved on either side.
	assert.Equal(t, "10", l.Balance(alice, 1).String())
	assert.Equal(t, "1000", l.Balance(bob, 2).String())
	assert.Equal(t, "0", l.Balance(bob, 1).String())

	// Taker short of the quote leg: carol holds no quote asset at all.
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "90")))
	assert.ErrorIs(t, l.ApplyTx(acceptDeal(carol, 0, 1, str("100")), blockTime), ErrInsufficientBalance)

	require.NoError(t, l.ApplyTx(acceptDeal(bob, 0, 1, str("100")), blockTime))
	assert.ErrorIs(t, l.ApplyTx(acceptDeal(bob, 1, 1, str("1")), blockTime), ErrDealClosed)
}

func TestAcceptDealSameAssetBothLegs(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "100")))
	require.NoError(t, l.ApplyDeposit(deposit(bob, 1, "500")))
	tx := createDeal(alice, 0, model.CreateDealParams{
		DealID: 1, Visibility: model.DealVisibilityPublic,
		BaseAsset: 1, QuoteAsset: 1, BaseAmount: "100", PricePerBase: "2",
	})
	require.NoError(t, l.ApplyTx(tx, blockTime))

	require.NoError(t, l.ApplyTx(acceptDeal(bob, 0, 1, nil), blockTime))

	// Maker pays 100 base and receives 200 quote of the same asset.
	assert.Equal(t, "200", l.Balance(alice, 1).String())
	assert.Equal(t, "400", l.Balance(bob, 1).String())
}

func TestAcceptDealQuoteOverflow(t *testing.T) {
	l := NewLedger()
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "100")))
	tx := createDeal(alice, 0, model.CreateDealParams{
		DealID: 1, Visibility: model.DealVisibilityPublic,
		BaseAsset: 1, QuoteAsset: 2, BaseAmount: "100", PricePerBase: max.String(),
	})
	require.NoError(t, l.ApplyTx(tx, blockTime))

	assert.ErrorIs(t, l.ApplyTx(acceptDeal(bob, 0, 1, str("2")), blockTime), ErrOverflow)
}

func TestCancelDeal(t *testing.T) {
	l := NewLedger()
	setupDeal(t, l, model.DealVisibilityPublic, nil)

	// Only the maker may cancel.
	assert.ErrorIs(t, l.ApplyTx(cancelDeal(bob, 0, 1), blockTime), ErrUnauthorized)

	require.NoError(t, l.ApplyTx(cancelDeal(alice, 1, 1), blockTime))
	deal, _ := l.Deal(1)
	assert.Equal(t, model.DealStatusCancelled, deal.Status)

	// Closed deals cannot be cancelled again or filled.
	assert.ErrorIs(t, l.ApplyTx(cancelDeal(alice, 2, 1), blockTime), ErrDealClosed)
	assert.ErrorIs(t, l.ApplyTx(acceptDeal(bob, 0, 1, nil), blockTime), ErrDealClosed)
}

func TestConservationAcrossMixedBlock(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.ApplyDeposit(deposit(alice, 1, "100")))
	require.NoError(t, l.ApplyDeposit(deposit(bob, 1, "50")))

	require.NoError(t, l.ApplyTx(transfer(alice, bob, 1, "40", 0), blockTime))
	require.NoError(t, l.ApplyTx(transfer(bob, carol, 1, "90", 0), blockTime))
	require.NoError(t, l.ApplyTx(withdraw(carol, 1, "30", 0), blockTime))

	// deposits 150 - withdrawals 30 = 120 still on the ledger.
	sums := l.SumByAsset()
	require.Contains(t, sums, model.AssetID(1))
	assert.Equal(t, "120", sums[1].String())
}
