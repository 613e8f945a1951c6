package state

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/Alert17/zkclear-core/internal/crypto"
	"github.com/Alert17/zkclear-core/internal/domain/model"
)

// Deal is the in-memory working copy of a deal, with amounts parsed for
// arithmetic.
type Deal struct {
	ID           uint64
	Maker        string
	Taker        *string
	Visibility   model.DealVisibility
	BaseAsset    model.AssetID
	QuoteAsset   model.AssetID
	BaseChainID  model.ChainID
	QuoteChainID model.ChainID
	BaseAmount   *big.Int
	Remaining    *big.Int
	PricePerBase *big.Int
	Status       model.DealStatus
	IsCrossChain bool
	CreatedAt    time.Time
	ExpiresAt    *time.Time
	ExternalRef  *string
}

// ToModel converts the working copy back to its storage shape.
func (d *Deal) ToModel() *model.Deal {
	return &model.Deal{
		ID:              d.ID,
		Maker:           d.Maker,
		Taker:           d.Taker,
		Visibility:      d.Visibility,
		BaseAsset:       d.BaseAsset,
		QuoteAsset:      d.QuoteAsset,
		BaseChainID:     d.BaseChainID,
		QuoteChainID:    d.QuoteChainID,
		BaseAmount:      d.BaseAmount.String(),
		RemainingAmount: d.Remaining.String(),
		PricePerBase:    d.PricePerBase.String(),
		Status:          d.Status,
		IsCrossChain:    d.IsCrossChain,
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
		ExternalRef:     d.ExternalRef,
	}
}

func dealFromModel(m *model.Deal) (*Deal, error) {
	base, err := crypto.ParseAmount(m.BaseAmount)
	if err != nil {
		return nil, fmt.Errorf("deal %d base amount: %w", m.ID, err)
	}
	remaining, err := crypto.ParseAmount(m.RemainingAmount)
	if err != nil {
		return nil, fmt.Errorf("deal %d remaining amount: %w", m.ID, err)
	}
	price, err := crypto.ParseAmount(m.PricePerBase)
	if err != nil {
		return nil, fmt.Errorf("deal %d price: %w", m.ID, err)
	}
	return &Deal{
		ID:           m.ID,
		Maker:        m.Maker,
		Taker:        m.Taker,
		Visibility:   m.Visibility,
		BaseAsset:    m.BaseAsset,
		QuoteAsset:   m.QuoteAsset,
		BaseChainID:  m.BaseChainID,
		QuoteChainID: m.QuoteChainID,
		BaseAmount:   base,
		Remaining:    remaining,
		PricePerBase: price,
		Status:       m.Status,
		IsCrossChain: m.IsCrossChain,
		CreatedAt:    m.CreatedAt,
		ExpiresAt:    m.ExpiresAt,
		ExternalRef:  m.ExternalRef,
	}, nil
}

type balanceKey struct {
	address string
	asset   model.AssetID
}

// Ledger is the working state the producer advances block by block. It runs
// at most one block ahead of the committed state in the store and is rebuilt
// from the store on boot. The producer is the only writer; admission checks
// read nonces concurrently.
//
// Every write marks its row dirty; BeginBlock clears the marks, so after a
// block is applied the dirty sets are exactly the rows that block touched.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]map[model.AssetID]*big.Int
	nonces   map[string]uint64
	deals    map[uint64]*Deal

	dirtyBalances map[balanceKey]struct{}
	dirtyAccounts map[string]struct{}
	dirtyDeals    map[uint64]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:      make(map[string]map[model.AssetID]*big.Int),
		nonces:        make(map[string]uint64),
		deals:         make(map[uint64]*Deal),
		dirtyBalances: make(map[balanceKey]struct{}),
		dirtyAccounts: make(map[string]struct{}),
		dirtyDeals:    make(map[uint64]struct{}),
	}
}

// LoadBalance seeds one committed balance row during boot.
func (l *Ledger) LoadBalance(b *model.Balance) error {
	amount, err := crypto.ParseAmount(b.Amount)
	if err != nil {
		return fmt.Errorf("load balance %s/%d: %w", b.Address, b.AssetID, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setBalance(b.Address, b.AssetID, amount)
	return nil
}

// LoadAccount seeds one committed nonce row during boot.
func (l *Ledger) LoadAccount(a *model.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nonces[a.Address] = a.Nonce
	l.dirtyAccounts[a.Address] = struct{}{}
}

// LoadDeal seeds one committed deal during boot.
func (l *Ledger) LoadDeal(m *model.Deal) error {
	d, err := dealFromModel(m)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deals[d.ID] = d
	l.dirtyDeals[d.ID] = struct{}{}
	return nil
}

// Balance returns a copy of the (address, asset) balance, zero when absent.
func (l *Ledger) Balance(address string, asset model.AssetID) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if assets, ok := l.balances[address]; ok {
		if amt, ok := assets[asset]; ok {
			return new(big.Int).Set(amt)
		}
	}
	return new(big.Int)
}

// Balances returns copies of every balance held by the address.
func (l *Ledger) Balances(address string) map[model.AssetID]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[model.AssetID]*big.Int)
	for asset, amt := range l.balances[address] {
		out[asset] = new(big.Int).Set(amt)
	}
	return out
}

// Nonce returns the next expected nonce for the address in working state.
func (l *Ledger) Nonce(address string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nonces[address]
}

// Deal returns a copy of the deal, if present.
func (l *Ledger) Deal(id uint64) (*Deal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.deals[id]
	if !ok {
		return nil, false
	}
	cp := *d
	cp.BaseAmount = new(big.Int).Set(d.BaseAmount)
	cp.Remaining = new(big.Int).Set(d.Remaining)
	cp.PricePerBase = new(big.Int).Set(d.PricePerBase)
	return &cp, true
}

// setBalance stores the amount, dropping zero rows to keep the root and the
// store aligned on lazily created accounts.
func (l *Ledger) setBalance(address string, asset model.AssetID, amount *big.Int) {
	l.dirtyBalances[balanceKey{address, asset}] = struct{}{}
	assets, ok := l.balances[address]
	if !ok {
		if amount.Sign() == 0 {
			return
		}
		assets = make(map[model.AssetID]*big.Int)
		l.balances[address] = assets
	}
	if amount.Sign() == 0 {
		delete(assets, asset)
		if len(assets) == 0 {
			delete(l.balances, address)
		}
		return
	}
	assets[asset] = amount
}

func (l *Ledger) balanceRef(address string, asset model.AssetID) *big.Int {
	if assets, ok := l.balances[address]; ok {
		if amt, ok := assets[asset]; ok {
			return amt
		}
	}
	return nil
}

// credit adds amount with a 128-bit overflow guard.
func (l *Ledger) credit(address string, asset model.AssetID, amount *big.Int) error {
	current := l.balanceRef(address, asset)
	next := new(big.Int).Set(amount)
	if current != nil {
		next.Add(next, current)
	}
	if next.Cmp(maxUint128) > 0 {
		return ErrOverflow
	}
	l.setBalance(address, asset, next)
	return nil
}

// debit subtracts amount, failing when the balance cannot cover it.
func (l *Ledger) debit(address string, asset model.AssetID, amount *big.Int) error {
	current := l.balanceRef(address, asset)
	if current == nil || current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.setBalance(address, asset, new(big.Int).Sub(current, amount))
	return nil
}

// StateRoot commits the full working state: every account leaf (address,
// nonce, sorted balances) then every deal leaf, both in sorted order.
func (l *Ledger) StateRoot() [RootSize]byte {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tree := newMerkleTree()

	addresses := make([]string, 0, len(l.balances)+len(l.nonces))
	seen := make(map[string]struct{}, len(l.balances)+len(l.nonces))
	for addr := range l.balances {
		addresses = append(addresses, addr)
		seen[addr] = struct{}{}
	}
	for addr := range l.nonces {
		if _, dup := seen[addr]; !dup {
			addresses = append(addresses, addr)
		}
	}
	sort.Strings(addresses)

	for _, addr := range addresses {
		tree.AddLeaf(l.accountLeaf(addr))
	}

	dealIDs := make([]uint64, 0, len(l.deals))
	for id := range l.deals {
		dealIDs = append(dealIDs, id)
	}
	sort.Slice(dealIDs, func(i, j int) bool { return dealIDs[i] < dealIDs[j] })

	for _, id := range dealIDs {
		tree.AddLeaf(dealLeaf(l.deals[id]))
	}

	return tree.Root()
}

// BeginBlock clears the dirty sets carried out of the previous block.
func (l *Ledger) BeginBlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirtyBalances = make(map[balanceKey]struct{})
	l.dirtyAccounts = make(map[string]struct{})
	l.dirtyDeals = make(map[uint64]struct{})
}

// DirtyBalances returns the balances touched since BeginBlock with their
// current absolute amounts, sorted by address then asset. Rows dropped to
// zero come back with amount "0" so the caller can delete them.
func (l *Ledger) DirtyBalances() []model.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Balance, 0, len(l.dirtyBalances))
	for key := range l.dirtyBalances {
		amount := "0"
		if ref := l.balanceRef(key.address, key.asset); ref != nil {
			amount = ref.String()
		}
		out = append(out, model.Balance{Address: key.address, AssetID: key.asset, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}

// DirtyAccounts returns the accounts whose nonce moved since BeginBlock,
// sorted by address.
func (l *Ledger) DirtyAccounts() []model.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Account, 0, len(l.dirtyAccounts))
	for addr := range l.dirtyAccounts {
		out = append(out, model.Account{Address: addr, Nonce: l.nonces[addr]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// DirtyDeals returns the deals created or mutated since BeginBlock, sorted
// by id.
func (l *Ledger) DirtyDeals() []*model.Deal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*model.Deal, 0, len(l.dirtyDeals))
	for id := range l.dirtyDeals {
		if d, ok := l.deals[id]; ok {
			out = append(out, d.ToModel())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SumByAsset totals every balance per asset, for conservation checks.
func (l *Ledger) SumByAsset() map[model.AssetID]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[model.AssetID]*big.Int)
	for _, assets := range l.balances {
		for asset, amt := range assets {
			if total, ok := out[asset]; ok {
				total.Add(total, amt)
			} else {
				out[asset] = new(big.Int).Set(amt)
			}
		}
	}
	return out
}
