package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/mapfeed/mapfeed-indexer/common/errs"
	"github.com/mapfeed/mapfeed-indexer/modules/posts/entity"
)

const upsertPost = `
INSERT INTO posts ("txid", "post_id", "content", "title", "description", "author_address", "block_height", "created_at", "tags", "is_vote", "vote_question", "total_options", "options_hash", "media_type", "raw_image_data", "is_locked", "lock_amount", "lock_duration", "unlock_height")
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT ("txid") DO UPDATE SET
	"post_id" = EXCLUDED."post_id",
	"content" = EXCLUDED."content",
	"title" = EXCLUDED."title",
	"description" = EXCLUDED."description",
	"author_address" = EXCLUDED."author_address",
	"block_height" = EXCLUDED."block_height",
	"created_at" = EXCLUDED."created_at",
	"tags" = EXCLUDED."tags",
	"is_vote" = EXCLUDED."is_vote",
	"vote_question" = EXCLUDED."vote_question",
	"total_options" = EXCLUDED."total_options",
	"options_hash" = EXCLUDED."options_hash",
	"media_type" = EXCLUDED."media_type",
	"raw_image_data" = EXCLUDED."raw_image_data",
	"is_locked" = EXCLUDED."is_locked",
	"lock_amount" = EXCLUDED."lock_amount",
	"lock_duration" = EXCLUDED."lock_duration",
	"unlock_height" = EXCLUDED."unlock_height"
`

func (r *Repository) UpsertPost(ctx context.Context, post *entity.Post) error {
	params := mapPostToParams(post)
	if _, err := r.db.Exec(ctx, upsertPost,
		params.TxID, params.PostID, params.Content, params.Title, params.Description,
		params.AuthorAddress, params.BlockHeight, params.CreatedAt, params.Tags,
		params.IsVote, params.VoteQuestion, params.TotalOptions, params.OptionsHash,
		params.MediaType, params.RawImageData, params.IsLocked, params.LockAmount,
		params.LockDuration, params.UnlockHeight,
	); err != nil {
		return errors.Wrap(err, "error during exec")
	}
	return nil
}

const upsertVoteOption = `
INSERT INTO vote_options ("txid", "post_txid", "content", "option_index", "lock_amount", "lock_duration", "lock_percentage")
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT ("txid", "option_index") DO UPDATE SET
	"post_txid" = EXCLUDED."post_txid",
	"content" = EXCLUDED."content",
	"lock_amount" = EXCLUDED."lock_amount",
	"lock_duration" = EXCLUDED."lock_duration",
	"lock_percentage" = EXCLUDED."lock_percentage"
`

func (r *Repository) UpsertVoteOption(ctx context.Context, option *entity.VoteOption) error {
	if _, err := r.db.Exec(ctx, upsertVoteOption,
		option.TxID, option.PostTxID, option.Content, option.OptionIndex,
		option.LockAmount, option.LockDuration, option.LockPercentage,
	); err != nil {
		return errors.Wrap(err, "error during exec")
	}
	return nil
}

const selectPostByTxID = selectPostColumns + ` FROM posts WHERE "txid" = $1`

func (r *Repository) GetPostByTxID(ctx context.Context, txid string) (*entity.Post, error) {
	row := r.db.QueryRow(ctx, selectPostByTxID, txid)
	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.WithStack(errs.NotFound)
		}
		return nil, errors.Wrap(err, "error during query")
	}
	return post, nil
}

const selectPostByPostID = selectPostColumns + ` FROM posts WHERE "post_id" = $1 ORDER BY "block_height" = -1, "block_height" ASC LIMIT 1`

func (r *Repository) GetPostByPostID(ctx context.Context, postID string) (*entity.Post, error) {
	row := r.db.QueryRow(ctx, selectPostByPostID, postID)
	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.WithStack(errs.NotFound)
		}
		return nil, errors.Wrap(err, "error during query")
	}
	return post, nil
}

const selectLatestBlockHeight = `SELECT MAX("block_height") FROM posts WHERE "block_height" >= 0`

func (r *Repository) GetLatestBlockHeight(ctx context.Context) (int64, error) {
	var height *int64
	if err := r.db.QueryRow(ctx, selectLatestBlockHeight).Scan(&height); err != nil {
		return 0, errors.Wrap(err, "error during query")
	}
	if height == nil {
		return 0, errors.WithStack(errs.NotFound)
	}
	return *height, nil
}

const selectVoteOptionsByPostTxID = `
SELECT "txid", "post_txid", "content", "option_index", "lock_amount", "lock_duration", "lock_percentage"
FROM vote_options WHERE "post_txid" = $1 ORDER BY "option_index" ASC
`

func (r *Repository) GetVoteOptionsByPostTxID(ctx context.Context, postTxID string) ([]*entity.VoteOption, error) {
	rows, err := r.db.Query(ctx, selectVoteOptionsByPostTxID, postTxID)
	if err != nil {
		return nil, errors.Wrap(err, "error during query")
	}
	defer rows.Close()

	var options []*entity.VoteOption
	for rows.Next() {
		var option entity.VoteOption
		if err := rows.Scan(
			&option.TxID, &option.PostTxID, &option.Content, &option.OptionIndex,
			&option.LockAmount, &option.LockDuration, &option.LockPercentage,
		); err != nil {
			return nil, errors.Wrap(err, "error during scan")
		}
		options = append(options, &option)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error during iteration")
	}
	return options, nil
}

const recalculateLockPercentages = `
UPDATE vote_options AS v SET "lock_percentage" = CASE
	WHEN t.total > 0 THEN v."lock_amount" * 100.0 / t.total
	ELSE 0
END
FROM (
	SELECT SUM("lock_amount") AS total FROM vote_options WHERE "post_txid" = $1
) AS t
WHERE v."post_txid" = $1
`

func (r *Repository) RecalculateLockPercentages(ctx context.Context, postTxID string) error {
	if _, err := r.db.Exec(ctx, recalculateLockPercentages, postTxID); err != nil {
		return errors.Wrap(err, "error during exec")
	}
	return nil
}

func (r *Repository) DeleteAllPosts(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM posts`); err != nil {
		return errors.Wrap(err, "error during exec")
	}
	return nil
}

func (r *Repository) DeleteAllVoteOptions(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM vote_options`); err != nil {
		return errors.Wrap(err, "error during exec")
	}
	return nil
}
