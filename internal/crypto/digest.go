package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"

	"golang.org/x/crypto/sha3"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

const SignatureSize = 65

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Keccak256 computes the legacy Keccak-256 hash used by EVM chains.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// EncodeTxMessage builds the canonical byte message a client signs:
// sender(20) || nonce u64 LE || kind byte || kind-specific fields.
// Amounts are 16-byte little-endian, asset ids 2-byte little-endian and
// deal ids 8-byte little-endian. Optional fields carry a 0x01/0x00 tag.
func EncodeTxMessage(tx *model.Transaction) ([]byte, error) {
	sender, err := ParseAddress(tx.Sender)
	if err != nil {
		return nil, fmt.Errorf("encode sender: %w", err)
	}
	kindByte, ok := tx.Kind.WireByte()
	if !ok {
		return nil, fmt.Errorf("encode tx: unknown kind %q", tx.Kind)
	}

	buf := make([]byte, 0, 96)
	buf = append(buf, sender[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, tx.Nonce)
	buf = append(buf, kindByte)

	switch tx.Kind {
	case model.TxKindTransfer:
		p := tx.Transfer
		if p == nil {
			return nil, fmt.Errorf("encode tx: missing transfer params")
		}
		recipient, err := ParseAddress(p.Recipient)
		if err != nil {
			return nil, fmt.Errorf("encode recipient: %w", err)
		}
		buf = append(buf, recipient[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(p.AssetID))
		buf, err = appendAmountLE(buf, p.Amount)
		if err != nil {
			return nil, err
		}

	case model.TxKindWithdraw:
		p := tx.Withdraw
		if p == nil {
			return nil, fmt.Errorf("encode tx: missing withdraw params")
		}
		destination, err := ParseAddress(p.Destination)
		if err != nil {
			return nil, fmt.Errorf("encode destination: %w", err)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(p.AssetID))
		buf, err = appendAmountLE(buf, p.Amount)
		if err != nil {
			return nil, err
		}
		buf = append(buf, destination[:]...)

	case model.TxKindCreateDeal:
		p := tx.CreateDeal
		if p == nil {
			return nil, fmt.Errorf("encode tx: missing create deal params")
		}
		visByte, ok := p.Visibility.WireByte()
		if !ok {
			return nil, fmt.Errorf("encode tx: unknown visibility %q", p.Visibility)
		}
		buf = binary.LittleEndian.AppendUint64(buf, p.DealID)
		buf = append(buf, visByte)
		if p.Taker != nil {
			taker, err := ParseAddress(*p.Taker)
			if err != nil {
				return nil, fmt.Errorf("encode taker: %w", err)
			}
			buf = append(buf, 1)
			buf = append(buf, taker[:]...)
		} else {
			buf = append(buf, 0)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(p.BaseAsset))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(p.QuoteAsset))
		buf, err = appendAmountLE(buf, p.BaseAmount)
		if err != nil {
			return nil, err
		}
		buf, err = appendAmountLE(buf, p.PricePerBase)
		if err != nil {
			return nil, err
		}

	case model.TxKindAcceptDeal:
		p := tx.AcceptDeal
		if p == nil {
			return nil, fmt.Errorf("encode tx: missing accept deal params")
		}
		buf = binary.LittleEndian.AppendUint64(buf, p.DealID)
		if p.FillAmount != nil {
			buf = append(buf, 1)
			buf, err = appendAmountLE(buf, *p.FillAmount)
			if err != nil {
				return nil, err
			}
		} else {
			buf = append(buf, 0)
		}

	case model.TxKindCancelDeal:
		p := tx.CancelDeal
		if p == nil {
			return nil, fmt.Errorf("encode tx: missing cancel deal params")
		}
		buf = binary.LittleEndian.AppendUint64(buf, p.DealID)
	}

	return buf, nil
}

// TxDigest returns the 32-byte hash that is actually signed: the Keccak-256
// of the message wrapped in the Ethereum personal-message prefix.
func TxDigest(tx *model.Transaction) ([]byte, error) {
	msg, err := EncodeTxMessage(tx)
	if err != nil {
		return nil, err
	}
	return PersonalMessageHash(msg), nil
}

// PersonalMessageHash applies the "\x19Ethereum Signed Message:\n" prefix
// with the decimal message length, then hashes with Keccak-256.
func PersonalMessageHash(message []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message))
	return Keccak256([]byte(prefix), message)
}

// TxHash derives the transaction identity: the hex Keccak-256 of the
// canonical message. Nonce uniqueness per sender makes it collision-free.
func TxHash(tx *model.Transaction) (string, error) {
	msg, err := EncodeTxMessage(tx)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(Keccak256(msg)), nil
}

// ParseAmount parses a non-negative decimal amount bounded to 128 bits,
// the range cleared balances live in.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	if v.Cmp(maxUint128) > 0 {
		return nil, fmt.Errorf("amount %q exceeds 128 bits", s)
	}
	return v, nil
}

func appendAmountLE(buf []byte, amount string) ([]byte, error) {
	v, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	be := v.FillBytes(make([]byte, 16))
	// reverse to little-endian
	for i := 15; i >= 0; i-- {
		buf = append(buf, be[i])
	}
	return buf, nil
}
