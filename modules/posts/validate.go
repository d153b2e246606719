package posts

import (
	"regexp"

	"github.com/cockroachdb/errors"

	"github.com/mapfeed/mapfeed-indexer/core/types"
)

var txidPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// ValidatePost rejects posts that must never reach persistence. Validation
// failures are terminal, they are logged and not retried.
func ValidatePost(post *ParsedPost) error {
	if post == nil {
		return errors.Wrap(ErrValidation, "nil post")
	}
	if !txidPattern.MatchString(post.TxID) {
		return errors.Wrapf(ErrValidation, "malformed txid %q", post.TxID)
	}
	if post.BlockHeight < types.MempoolHeight {
		return errors.Wrapf(ErrValidation, "invalid block height %d", post.BlockHeight)
	}
	if post.PostID == "" {
		return errors.Wrap(ErrValidation, "empty post id")
	}
	if post.Vote != nil {
		seen := make(map[int64]struct{}, len(post.Vote.Options))
		for _, option := range post.Vote.Options {
			if option.Index < 0 {
				return errors.Wrapf(ErrValidation, "negative option index %d", option.Index)
			}
			if _, dup := seen[option.Index]; dup {
				return errors.Wrapf(ErrDuplicateOptionIndex, "index %d", option.Index)
			}
			seen[option.Index] = struct{}{}
		}
	}
	return nil
}

// ValidateOrphanOption applies the same terminal checks to a standalone
// vote option before it is queued or attached.
func ValidateOrphanOption(option *OrphanOption) error {
	if option == nil {
		return errors.Wrap(ErrValidation, "nil option")
	}
	if !txidPattern.MatchString(option.TxID) {
		return errors.Wrapf(ErrValidation, "malformed txid %q", option.TxID)
	}
	if option.PostID == "" {
		return errors.Wrap(ErrValidation, "empty post id")
	}
	if option.Index < 0 {
		return errors.Wrapf(ErrValidation, "negative option index %d", option.Index)
	}
	return nil
}
