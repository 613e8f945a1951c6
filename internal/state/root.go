package state

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"

	"github.com/Alert17/zkclear-core/internal/crypto"
	"github.com/Alert17/zkclear-core/internal/domain/model"
)

// FormatRoot renders a root as 0x hex, the form stored and served.
func FormatRoot(root [RootSize]byte) string {
	return "0x" + hex.EncodeToString(root[:])
}

// ParseRoot decodes a 0x hex root.
func ParseRoot(s string) ([RootSize]byte, error) {
	var out [RootSize]byte
	if len(s) != 2+2*RootSize || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return out, fmt.Errorf("root %q is not 0x-prefixed 32-byte hex", s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return out, fmt.Errorf("decode root %q: %w", s, err)
	}
	copy(out[:], raw)
	return out, nil
}

// accountLeaf encodes one address with its nonce and sorted balances.
// Callers hold at least a read lock.
func (l *Ledger) accountLeaf(address string) []byte {
	buf := appendAddress(nil, address)
	buf = binary.LittleEndian.AppendUint64(buf, l.nonces[address])

	assets := make([]model.AssetID, 0, len(l.balances[address]))
	for asset := range l.balances[address] {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })

	for _, asset := range assets {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(asset))
		buf = appendUint128LE(buf, l.balances[address][asset])
	}
	return buf
}

var dealStatusWire = map[model.DealStatus]byte{
	model.DealStatusPending:   0,
	model.DealStatusSettled:   1,
	model.DealStatusCancelled: 2,
	model.DealStatusExpired:   3,
}

func dealLeaf(d *Deal) []byte {
	buf := binary.LittleEndian.AppendUint64(nil, d.ID)
	buf = appendAddress(buf, d.Maker)
	if d.Taker != nil {
		buf = append(buf, 1)
		buf = appendAddress(buf, *d.Taker)
	} else {
		buf = append(buf, 0)
	}
	visByte, _ := d.Visibility.WireByte()
	buf = append(buf, visByte)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(d.BaseAsset))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(d.QuoteAsset))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(d.BaseChainID))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(d.QuoteChainID))
	buf = appendUint128LE(buf, d.BaseAmount)
	buf = appendUint128LE(buf, d.Remaining)
	buf = appendUint128LE(buf, d.PricePerBase)
	buf = append(buf, dealStatusWire[d.Status])
	buf = binary.LittleEndian.AppendUint64(buf, uint64(d.CreatedAt.Unix()))
	if d.ExpiresAt != nil {
		buf = append(buf, 1)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(d.ExpiresAt.Unix()))
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// WithdrawalsRoot commits the block's withdrawals in inclusion order so the
// settlement layer can verify exits against it. Blocks without withdrawals
// get the zero root.
func WithdrawalsRoot(txs []*model.Transaction) ([RootSize]byte, error) {
	tree := newMerkleTree()
	for _, tx := range txs {
		if tx.Kind != model.TxKindWithdraw || tx.Withdraw == nil {
			continue
		}
		amount, err := crypto.ParseAmount(tx.Withdraw.Amount)
		if err != nil {
			return [RootSize]byte{}, fmt.Errorf("withdrawal %s amount: %w", tx.Hash, err)
		}
		leaf := appendAddress(nil, tx.Sender)
		leaf = binary.LittleEndian.AppendUint16(leaf, uint16(tx.Withdraw.AssetID))
		leaf = appendUint128LE(leaf, amount)
		leaf = binary.LittleEndian.AppendUint64(leaf, uint64(tx.Withdraw.ChainID))
		tree.AddLeaf(leaf)
	}
	return tree.Root(), nil
}

func appendAddress(buf []byte, address string) []byte {
	addr, err := crypto.ParseAddress(address)
	if err != nil {
		// Addresses are normalized at every boundary; fall back to the raw
		// string bytes rather than aborting root computation.
		return append(buf, []byte(address)...)
	}
	return append(buf, addr[:]...)
}

func appendUint128LE(buf []byte, v *big.Int) []byte {
	be := v.FillBytes(make([]byte, 16))
	for i := 15; i >= 0; i-- {
		buf = append(buf, be[i])
	}
	return buf
}
