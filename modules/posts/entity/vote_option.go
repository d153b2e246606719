package entity

// VoteOption is the persisted shape of one vote option. Identified by the
// transaction it arrived in and its declared index.
type VoteOption struct {
	TxID           string
	PostTxID       string
	Content        string
	OptionIndex    int64
	LockAmount     int64
	LockDuration   int64
	LockPercentage float64
}
