package posts

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapfeed/mapfeed-indexer/modules/posts/protocol"
)

func classifyFields(t *testing.T, pairs ...string) *protocol.Component {
	t.Helper()
	pushes := [][]byte{protocol.Marker, []byte("SET")}
	for _, pair := range pairs {
		pushes = append(pushes, []byte(pair))
	}
	fields, ok := protocol.DecodeOutput(buildScript(t, pushes...))
	require.True(t, ok)
	component, ok := protocol.Classify(fields)
	require.True(t, ok)
	return component
}

func TestComputeOptionsHash(t *testing.T) {
	t.Run("matches reference digest", func(t *testing.T) {
		expected := sha256.Sum256([]byte("0:Yes|1:No"))
		actual := ComputeOptionsHash([]VoteOption{
			{Index: 0, Text: "Yes"},
			{Index: 1, Text: "No"},
		})
		assert.Equal(t, hex.EncodeToString(expected[:]), actual)
	})

	t.Run("input order does not matter", func(t *testing.T) {
		a := ComputeOptionsHash([]VoteOption{{Index: 0, Text: "Yes"}, {Index: 1, Text: "No"}})
		b := ComputeOptionsHash([]VoteOption{{Index: 1, Text: "No"}, {Index: 0, Text: "Yes"}})
		assert.Equal(t, a, b)
	})

	t.Run("deterministic", func(t *testing.T) {
		options := []VoteOption{{Index: 2, Text: "c"}, {Index: 0, Text: "a"}, {Index: 1, Text: "b"}}
		assert.Equal(t, ComputeOptionsHash(options), ComputeOptionsHash(options))
	})
}

func TestAssembleVote(t *testing.T) {
	question := func(t *testing.T, extra ...string) *protocol.Component {
		pairs := append([]string{"type", "vote_question", "post_id", "p1", "sequence", "0", "question", "Favorite color?", "total_options", "2"}, extra...)
		return classifyFields(t, pairs...)
	}
	option := func(t *testing.T, index, text string, extra ...string) *protocol.Component {
		pairs := append([]string{"type", "vote_option", "post_id", "p1", "sequence", "1", "parent_sequence", "0", "option_index", index, "content", text}, extra...)
		return classifyFields(t, pairs...)
	}

	t.Run("assembles sorted options", func(t *testing.T) {
		vote, err := AssembleVote(question(t), []*protocol.Component{
			option(t, "1", "Blue"),
			option(t, "0", "Red"),
		})
		require.NoError(t, err)
		assert.Equal(t, "Favorite color?", vote.Question)
		assert.Equal(t, int64(2), vote.TotalOptions)
		require.Len(t, vote.Options, 2)
		assert.Equal(t, "Red", vote.Options[0].Text)
		assert.Equal(t, "Blue", vote.Options[1].Text)
	})

	t.Run("duplicate option index rejects the vote", func(t *testing.T) {
		_, err := AssembleVote(question(t), []*protocol.Component{
			option(t, "0", "Red"),
			option(t, "0", "Blue"),
		})
		assert.ErrorIs(t, err, ErrDuplicateOptionIndex)
	})

	t.Run("options of another question are ignored", func(t *testing.T) {
		other := classifyFields(t, "type", "vote_option", "post_id", "p1", "sequence", "3", "parent_sequence", "7", "option_index", "0", "content", "Elsewhere")
		vote, err := AssembleVote(question(t), []*protocol.Component{other, option(t, "0", "Red")})
		require.NoError(t, err)
		require.Len(t, vote.Options, 1)
		assert.Equal(t, "Red", vote.Options[0].Text)
	})

	t.Run("declared hash is verified", func(t *testing.T) {
		declared := ComputeOptionsHash([]VoteOption{{Index: 0, Text: "Yes"}, {Index: 1, Text: "No"}})
		vote, err := AssembleVote(question(t, "options_hash", declared), []*protocol.Component{
			option(t, "0", "Yes"),
			option(t, "1", "No"),
		})
		require.NoError(t, err)
		assert.Equal(t, declared, vote.OptionsHash)
	})

	t.Run("hash mismatch rejects the vote", func(t *testing.T) {
		_, err := AssembleVote(question(t, "options_hash", "deadbeef"), []*protocol.Component{
			option(t, "0", "Yes"),
			option(t, "1", "No"),
		})
		var mismatch HashMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "deadbeef", mismatch.Declared)
		assert.NotEmpty(t, mismatch.Computed)
	})
}

func TestRecomputeLockPercentages(t *testing.T) {
	t.Run("shares sum to one hundred", func(t *testing.T) {
		options := []VoteOption{
			{Index: 0, LockAmount: 300},
			{Index: 1, LockAmount: 100},
		}
		RecomputeLockPercentages(options)
		assert.InDelta(t, 75, options[0].LockPercentage, 0.0001)
		assert.InDelta(t, 25, options[1].LockPercentage, 0.0001)
		assert.InDelta(t, 100, options[0].LockPercentage+options[1].LockPercentage, 0.0001)
	})

	t.Run("no locks means all zero", func(t *testing.T) {
		options := []VoteOption{{Index: 0}, {Index: 1}}
		RecomputeLockPercentages(options)
		assert.Zero(t, options[0].LockPercentage)
		assert.Zero(t, options[1].LockPercentage)
	})

	t.Run("uneven split stays within rounding tolerance", func(t *testing.T) {
		options := []VoteOption{
			{Index: 0, LockAmount: 1},
			{Index: 1, LockAmount: 1},
			{Index: 2, LockAmount: 1},
		}
		RecomputeLockPercentages(options)
		sum := options[0].LockPercentage + options[1].LockPercentage + options[2].LockPercentage
		assert.InDelta(t, 100, sum, 0.001)
	})
}
