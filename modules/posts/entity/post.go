package entity

import "time"

// Post is the persisted shape of one assembled post, keyed by txid.
type Post struct {
	TxID          string
	PostID        string
	Content       string
	Title         string
	Description   string
	AuthorAddress string // empty when unknown
	BlockHeight   int64  // -1 while unconfirmed
	CreatedAt     time.Time
	Tags          []string
	IsVote        bool
	VoteQuestion  string // empty for non-vote posts
	TotalOptions  int64
	OptionsHash   string
	MediaType     string // empty when the post has no media
	RawImageData  string // base64, empty when the post has no media
	IsLocked      bool
	LockAmount    int64
	LockDuration  int64
	UnlockHeight  int64 // 0 when not locked or unconfirmed
}
