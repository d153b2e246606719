package types

type StatusKind string

const (
	StatusBlockDone StatusKind = "block_done"
	StatusWaiting   StatusKind = "waiting"
	StatusReorg     StatusKind = "reorg"
	StatusError     StatusKind = "error"
)

// Status is a non-transaction notification on the event stream.
type Status struct {
	Kind StatusKind

	// Header is set for block_done and reorg statuses.
	Header BlockHeader

	// Err is set for error statuses.
	Err error
}

// Event is one item on the feed: either a transaction or a status notice,
// never both.
type Event struct {
	Transaction *Transaction
	Status      *Status
}

func NewTxEvent(tx *Transaction) *Event {
	return &Event{Transaction: tx}
}

func NewStatusEvent(status Status) *Event {
	return &Event{Status: &status}
}
