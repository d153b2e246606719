package types

import "time"

// MempoolHeight marks a transaction that is not confirmed in a block yet.
const MempoolHeight int64 = -1

// Transaction is one transaction delivered by the feed. Immutable after construction.
type Transaction struct {
	// TxID is the 64-character hex transaction identifier.
	TxID string

	// BlockHeight is MempoolHeight for unconfirmed transactions.
	BlockHeight int64

	// BlockTime is the zero value when unknown (mempool delivery).
	BlockTime time.Time

	// OutputScripts holds each output's pkScript bytes.
	OutputScripts [][]byte

	// Addresses associated with the transaction outputs.
	Addresses []string

	// Mempool is true when the transaction was delivered from the mempool.
	Mempool bool
}

func (t *Transaction) Confirmed() bool {
	return t.BlockHeight >= 0
}
