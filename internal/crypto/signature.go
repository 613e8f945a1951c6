package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/Alert17/zkclear-core/internal/domain/model"
)

// GenerateKey creates a new secp256k1 keypair.
func GenerateKey() (*btcec.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return priv, nil
}

// AddressFromPubKey derives the 20-byte EVM address:
// Keccak256(uncompressed_pubkey[1:])[12:32].
func AddressFromPubKey(pub *btcec.PublicKey) [AddressSize]byte {
	uncompressed := pub.SerializeUncompressed()
	hash := Keccak256(uncompressed[1:])
	var out [AddressSize]byte
	copy(out[:], hash[12:])
	return out
}

// AddressFromPrivKey is a convenience for key generation flows and tests.
func AddressFromPrivKey(priv *btcec.PrivateKey) string {
	addr := AddressFromPubKey(priv.PubKey())
	return FormatAddress(addr)
}

// SignTx signs the transaction digest and returns a 65-byte r||s||v
// signature with v in {27, 28}.
func SignTx(priv *btcec.PrivateKey, tx *model.Transaction) ([]byte, error) {
	digest, err := TxDigest(tx)
	if err != nil {
		return nil, err
	}
	// SignCompact yields v||r||s with v = 27 + recovery id.
	compact := ecdsa.SignCompact(priv, digest, false)
	sig := make([]byte, SignatureSize)
	copy(sig[0:32], compact[1:33])
	copy(sig[32:64], compact[33:65])
	sig[64] = compact[0]
	return sig, nil
}

// RecoverSender recovers the signing address from tx.Signature over the
// transaction digest. Accepts v in {0, 1} as well as {27, 28}.
func RecoverSender(tx *model.Transaction) (string, error) {
	if len(tx.Signature) != SignatureSize {
		return "", fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(tx.Signature))
	}
	digest, err := TxDigest(tx)
	if err != nil {
		return "", err
	}

	v := tx.Signature[64]
	if v < 27 {
		v += 27
	}
	compact := make([]byte, SignatureSize)
	compact[0] = v
	copy(compact[1:33], tx.Signature[0:32])
	copy(compact[33:65], tx.Signature[32:64])

	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return FormatAddress(AddressFromPubKey(pub)), nil
}

// VerifyTxSignature checks that the signature recovers to tx.Sender.
func VerifyTxSignature(tx *model.Transaction) error {
	recovered, err := RecoverSender(tx)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered, tx.Sender) {
		return fmt.Errorf("signature recovers to %s, not sender %s", recovered, tx.Sender)
	}
	return nil
}
