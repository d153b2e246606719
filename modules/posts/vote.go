package posts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/mapfeed/mapfeed-indexer/modules/posts/protocol"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger"
	"github.com/mapfeed/mapfeed-indexer/pkg/logger/slogx"
)

// VoteOption is one assembled option of a vote.
type VoteOption struct {
	Index          int64
	Text           string
	LockAmount     int64
	LockDuration   int64
	LockPercentage float64
}

// VoteAggregate is an assembled vote: the question plus every option that
// arrived in the same transaction.
type VoteAggregate struct {
	Question     string
	Options      []VoteOption
	TotalOptions int64
	OptionsHash  string
}

// AssembleVote builds a vote aggregate from a question component and the
// vote_option components of the same transaction whose parent sequence
// points at the question. Options are ordered by declared index; duplicate
// indices reject the whole vote. A declared options hash that does not match
// the recomputed one also rejects the vote.
func AssembleVote(question *protocol.Component, options []*protocol.Component) (*VoteAggregate, error) {
	if question == nil || question.Type != protocol.TypeVoteQuestion {
		return nil, errors.Wrap(ErrValidation, "not a vote question component")
	}

	aggregate := &VoteAggregate{
		Question:     question.Fields.Str("question"),
		TotalOptions: question.Fields.Int("total_options"),
		OptionsHash:  strings.ToLower(strings.TrimSpace(question.Fields.Str("options_hash"))),
	}
	if aggregate.Question == "" {
		aggregate.Question = question.Fields.Str("content")
	}

	seen := make(map[int64]struct{}, len(options))
	for _, option := range options {
		if option.Type != protocol.TypeVoteOption {
			continue
		}
		if option.HasParent && option.ParentSequence != question.Sequence {
			logger.Debug("Vote option skipped, parent sequence does not match the question",
				slogx.String("post_id", option.PostID),
				slogx.Int64("option_sequence", option.Sequence),
				slogx.Int64("parent_sequence", option.ParentSequence),
				slogx.Int64("question_sequence", question.Sequence),
			)
			continue
		}
		index := option.Fields.Int("option_index")
		if _, dup := seen[index]; dup {
			return nil, errors.Wrapf(ErrDuplicateOptionIndex, "index %d", index)
		}
		seen[index] = struct{}{}
		aggregate.Options = append(aggregate.Options, VoteOption{
			Index:        index,
			Text:         option.Fields.Str("content"),
			LockAmount:   option.Fields.Int("lock_amount"),
			LockDuration: option.Fields.Int("lock_duration"),
		})
	}
	sort.Slice(aggregate.Options, func(i, j int) bool {
		return aggregate.Options[i].Index < aggregate.Options[j].Index
	})

	if aggregate.OptionsHash != "" && len(aggregate.Options) > 0 {
		computed := ComputeOptionsHash(aggregate.Options)
		if computed != aggregate.OptionsHash {
			return nil, HashMismatchError{Declared: aggregate.OptionsHash, Computed: computed}
		}
	}

	RecomputeLockPercentages(aggregate.Options)
	return aggregate, nil
}

// ComputeOptionsHash returns the canonical integrity hash of a vote's
// options: sha256 over the "index:text" pairs sorted by index and joined
// with "|". Option order in the input does not affect the result.
func ComputeOptionsHash(options []VoteOption) string {
	sorted := make([]VoteOption, len(options))
	copy(sorted, options)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	pairs := make([]string, 0, len(sorted))
	for _, option := range sorted {
		pairs = append(pairs, fmt.Sprintf("%d:%s", option.Index, option.Text))
	}
	sum := sha256.Sum256([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(sum[:])
}

// RecomputeLockPercentages sets each option's share of the total locked
// amount, in percent. All shares are 0 while nothing is locked; otherwise
// they sum to 100 within rounding tolerance.
func RecomputeLockPercentages(options []VoteOption) {
	total := decimal.Zero
	for _, option := range options {
		if option.LockAmount > 0 {
			total = total.Add(decimal.NewFromInt(option.LockAmount))
		}
	}
	if total.IsZero() {
		for i := range options {
			options[i].LockPercentage = 0
		}
		return
	}
	hundred := decimal.NewFromInt(100)
	for i := range options {
		amount := decimal.NewFromInt(options[i].LockAmount)
		options[i].LockPercentage = amount.Mul(hundred).Div(total).Round(4).InexactFloat64()
	}
}
