package model

import "strconv"

// ChainID is an EVM chain identifier as used on-chain (EIP-155).
type ChainID uint64

const (
	ChainEthereum ChainID = 1
	ChainOptimism ChainID = 10
	ChainPolygon  ChainID = 137
	ChainMantle   ChainID = 5000
	ChainBase     ChainID = 8453
	ChainArbitrum ChainID = 42161
)

var chainNames = map[ChainID]string{
	ChainEthereum: "ethereum",
	ChainOptimism: "optimism",
	ChainPolygon:  "polygon",
	ChainMantle:   "mantle",
	ChainBase:     "base",
	ChainArbitrum: "arbitrum",
}

func (c ChainID) String() string {
	if name, ok := chainNames[c]; ok {
		return name
	}
	return strconv.FormatUint(uint64(c), 10)
}

func (c ChainID) Supported() bool {
	_, ok := chainNames[c]
	return ok
}

// AssetID identifies a cleared asset across all source chains.
type AssetID uint16
