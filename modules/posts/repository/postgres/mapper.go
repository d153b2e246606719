package postgres

import (
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mapfeed/mapfeed-indexer/modules/posts/entity"
)

const selectPostColumns = `
SELECT "txid", "post_id", "content", "title", "description", "author_address", "block_height", "created_at", "tags", "is_vote", "vote_question", "total_options", "options_hash", "media_type", "raw_image_data", "is_locked", "lock_amount", "lock_duration", "unlock_height"`

// postParams carries nullable column values for the upsert statement.
type postParams struct {
	TxID          string
	PostID        string
	Content       string
	Title         string
	Description   string
	AuthorAddress *string
	BlockHeight   int64
	CreatedAt     time.Time
	Tags          []string
	IsVote        bool
	VoteQuestion  *string
	TotalOptions  int64
	OptionsHash   *string
	MediaType     *string
	RawImageData  *string
	IsLocked      bool
	LockAmount    int64
	LockDuration  int64
	UnlockHeight  int64
}

func mapPostToParams(post *entity.Post) postParams {
	params := postParams{
		TxID:          post.TxID,
		PostID:        post.PostID,
		Content:       post.Content,
		Title:         post.Title,
		Description:   post.Description,
		AuthorAddress: nullableString(post.AuthorAddress),
		BlockHeight:   post.BlockHeight,
		CreatedAt:     post.CreatedAt.UTC(),
		Tags:          post.Tags,
		IsVote:        post.IsVote,
		VoteQuestion:  nullableString(post.VoteQuestion),
		TotalOptions:  post.TotalOptions,
		OptionsHash:   nullableString(post.OptionsHash),
		MediaType:     nullableString(post.MediaType),
		RawImageData:  nullableString(post.RawImageData),
		IsLocked:      post.IsLocked,
		LockAmount:    post.LockAmount,
		LockDuration:  post.LockDuration,
		UnlockHeight:  post.UnlockHeight,
	}
	if params.Tags == nil {
		params.Tags = []string{}
	}
	return params
}

func scanPost(row pgx.Row) (*entity.Post, error) {
	var (
		post          entity.Post
		authorAddress *string
		voteQuestion  *string
		optionsHash   *string
		mediaType     *string
		rawImageData  *string
	)
	if err := row.Scan(
		&post.TxID, &post.PostID, &post.Content, &post.Title, &post.Description,
		&authorAddress, &post.BlockHeight, &post.CreatedAt, &post.Tags,
		&post.IsVote, &voteQuestion, &post.TotalOptions, &optionsHash,
		&mediaType, &rawImageData, &post.IsLocked, &post.LockAmount,
		&post.LockDuration, &post.UnlockHeight,
	); err != nil {
		return nil, err
	}
	post.AuthorAddress = stringValue(authorAddress)
	post.VoteQuestion = stringValue(voteQuestion)
	post.OptionsHash = stringValue(optionsHash)
	post.MediaType = stringValue(mediaType)
	post.RawImageData = stringValue(rawImageData)
	return &post, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
