package datagateway

import (
	"context"

	"github.com/mapfeed/mapfeed-indexer/modules/posts/entity"
)

type PostsDataGateway interface {
	PostsReaderDataGateway
	PostsWriterDataGateway
}

type PostsReaderDataGateway interface {
	// GetPostByTxID returns the post persisted for the given txid.
	// Returns errs.NotFound if no post exists.
	GetPostByTxID(ctx context.Context, txid string) (*entity.Post, error)

	// GetPostByPostID returns the post carrying the given application post id.
	// Returns errs.NotFound if no post exists.
	GetPostByPostID(ctx context.Context, postID string) (*entity.Post, error)

	// GetLatestBlockHeight returns the highest confirmed block height among
	// persisted posts. Returns errs.NotFound when nothing confirmed is indexed yet.
	GetLatestBlockHeight(ctx context.Context) (int64, error)

	// GetVoteOptionsByPostTxID returns the options attached to a vote post,
	// ordered by option index.
	GetVoteOptionsByPostTxID(ctx context.Context, postTxID string) ([]*entity.VoteOption, error)
}

type PostsWriterDataGateway interface {
	// UpsertPost creates the post if absent, otherwise updates the existing
	// row by txid. Calling twice with identical input is a no-op on the
	// second call.
	UpsertPost(ctx context.Context, post *entity.Post) error

	// UpsertVoteOption creates or updates one vote option by its own
	// (txid, option index) identity, with the same idempotency as UpsertPost.
	UpsertVoteOption(ctx context.Context, option *entity.VoteOption) error

	// RecalculateLockPercentages recomputes the lock percentage of every
	// option of the given post from the current lock amounts.
	RecalculateLockPercentages(ctx context.Context, postTxID string) error

	// DeleteAllPosts and DeleteAllVoteOptions are maintenance operations.
	// They are never called on the ingestion hot path.
	DeleteAllPosts(ctx context.Context) error
	DeleteAllVoteOptions(ctx context.Context) error
}
