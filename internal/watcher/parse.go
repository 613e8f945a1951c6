package watcher

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/Alert17/zkclear-core/internal/chain"
	"github.com/Alert17/zkclear-core/internal/domain/model"
)

// Deposit log layout emitted by the bridge contract:
//
//	topics[0] event signature
//	topics[1] depositor address, right-aligned in 32 bytes
//	topics[2] asset id, big-endian u16 in the last 2 bytes
//	topics[3] source transaction hash
//	data[0:32] amount, big-endian u128 in bytes 16..32
const depositTopicCount = 4

// parseDepositLog decodes one contract log into a DepositEvent. Any layout
// violation returns an error; the caller counts and skips it.
func parseDepositLog(chainID model.ChainID, log chain.Log) (*model.DepositEvent, error) {
	if log.Removed {
		return nil, fmt.Errorf("log marked removed")
	}
	if len(log.Topics) != depositTopicCount {
		return nil, fmt.Errorf("expected %d topics, got %d", depositTopicCount, len(log.Topics))
	}

	depositor, err := addressFromTopic(log.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("depositor topic: %w", err)
	}

	assetID, err := assetIDFromTopic(log.Topics[2])
	if err != nil {
		return nil, fmt.Errorf("asset topic: %w", err)
	}

	sourceTxHash, err := hashFromTopic(log.Topics[3])
	if err != nil {
		return nil, fmt.Errorf("source tx topic: %w", err)
	}

	amount, err := amountFromData(log.Data)
	if err != nil {
		return nil, fmt.Errorf("amount data: %w", err)
	}

	return &model.DepositEvent{
		ID:           uuid.New(),
		ChainID:      chainID,
		SourceTxHash: sourceTxHash,
		LogIndex:     log.LogIndex,
		Depositor:    depositor,
		AssetID:      assetID,
		Amount:       amount.String(),
		SourceHeight: log.BlockHeight,
	}, nil
}

func topicBytes(topic string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(topic), "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	return b, nil
}

func addressFromTopic(topic string) (string, error) {
	b, err := topicBytes(topic)
	if err != nil {
		return "", err
	}
	for _, pad := range b[:12] {
		if pad != 0 {
			return "", fmt.Errorf("address padding not zero")
		}
	}
	return "0x" + hex.EncodeToString(b[12:32]), nil
}

func assetIDFromTopic(topic string) (model.AssetID, error) {
	b, err := topicBytes(topic)
	if err != nil {
		return 0, err
	}
	for _, pad := range b[:30] {
		if pad != 0 {
			return 0, fmt.Errorf("asset id padding not zero")
		}
	}
	return model.AssetID(uint16(b[30])<<8 | uint16(b[31])), nil
}

func hashFromTopic(topic string) (string, error) {
	b, err := topicBytes(topic)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}

func amountFromData(data string) (*big.Int, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(data), "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	if len(b) < 32 {
		return nil, fmt.Errorf("expected at least 32 data bytes, got %d", len(b))
	}
	for _, pad := range b[:16] {
		if pad != 0 {
			return nil, fmt.Errorf("amount exceeds u128")
		}
	}

	amount := new(big.Int).SetBytes(b[16:32])
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("zero amount")
	}
	return amount, nil
}
