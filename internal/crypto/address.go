package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

const AddressSize = 20

var (
	zeroAddress = [AddressSize]byte{}
	onesAddress = [AddressSize]byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	}
)

// ParseAddress decodes a 0x-prefixed 20-byte hex address.
func ParseAddress(s string) ([AddressSize]byte, error) {
	var out [AddressSize]byte
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return out, fmt.Errorf("address %q missing 0x prefix", s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return out, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(raw) != AddressSize {
		return out, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// FormatAddress renders an address as lowercase 0x hex, the canonical form
// used for storage keys and comparisons.
func FormatAddress(addr [AddressSize]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

// NormalizeAddress parses and re-renders an address in canonical form.
func NormalizeAddress(s string) (string, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return FormatAddress(addr), nil
}

// ValidateAddress rejects malformed addresses and the two reserved values
// (all-zero and all-0xFF) that must never hold funds.
func ValidateAddress(s string) error {
	addr, err := ParseAddress(s)
	if err != nil {
		return err
	}
	if bytes.Equal(addr[:], zeroAddress[:]) {
		return fmt.Errorf("zero address is not allowed")
	}
	if bytes.Equal(addr[:], onesAddress[:]) {
		return fmt.Errorf("reserved address is not allowed")
	}
	return nil
}

// ChecksumAddress formats a 20-byte address with EIP-55 checksum casing.
func ChecksumAddress(addr [AddressSize]byte) string {
	hexAddr := hex.EncodeToString(addr[:])
	hash := Keccak256([]byte(hexAddr))

	result := make([]byte, 40)
	for i := 0; i < 40; i++ {
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 && hexAddr[i] >= 'a' && hexAddr[i] <= 'f' {
			result[i] = hexAddr[i] - 32
		} else {
			result[i] = hexAddr[i]
		}
	}
	return "0x" + string(result)
}
