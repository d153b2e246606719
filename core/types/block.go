package types

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

type BlockHeader struct {
	Height    int64
	Hash      chainhash.Hash
	PrevBlock chainhash.Hash
	Timestamp time.Time
}

// ParseBlockHeader converts a wire block header to a BlockHeader at the given height.
func ParseBlockHeader(header wire.BlockHeader, height int64) BlockHeader {
	return BlockHeader{
		Height:    height,
		Hash:      header.BlockHash(),
		PrevBlock: header.PrevBlock,
		Timestamp: header.Timestamp,
	}
}
