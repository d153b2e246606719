package posts

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePost(t *testing.T) {
	t.Run("script tags are stripped", func(t *testing.T) {
		post := &ParsedPost{Content: PostContent{Text: `Hello <script>alert("x")</script> world`}}
		SanitizePost(post, 0)
		assert.Equal(t, "Hello  world", post.Content.Text)
	})

	t.Run("javascript urls are stripped", func(t *testing.T) {
		post := &ParsedPost{Content: PostContent{Text: "click javascript:steal() here"}}
		SanitizePost(post, 0)
		assert.NotContains(t, post.Content.Text, "javascript:")
	})

	t.Run("text is truncated to the configured bound", func(t *testing.T) {
		post := &ParsedPost{Content: PostContent{Text: strings.Repeat("a", 100)}}
		SanitizePost(post, 10)
		assert.Len(t, post.Content.Text, 10)
	})

	t.Run("truncation never splits a multi-byte rune", func(t *testing.T) {
		// 11 bytes cuts the sixth two-byte rune in half
		post := &ParsedPost{Content: PostContent{Text: strings.Repeat("é", 100)}}
		SanitizePost(post, 11)
		assert.True(t, utf8.ValidString(post.Content.Text))
		assert.Equal(t, strings.Repeat("é", 5), post.Content.Text)

		post = &ParsedPost{Content: PostContent{Text: strings.Repeat("猫", 100)}}
		SanitizePost(post, 10)
		assert.True(t, utf8.ValidString(post.Content.Text))
		assert.Equal(t, strings.Repeat("猫", 3), post.Content.Text)
	})

	t.Run("vote text is sanitized too", func(t *testing.T) {
		post := &ParsedPost{
			Vote: &VoteAggregate{
				Question: "<script>x</script>Choose",
				Options:  []VoteOption{{Index: 0, Text: "A<script>y</script>"}},
			},
		}
		SanitizePost(post, 0)
		assert.Equal(t, "Choose", post.Vote.Question)
		assert.Equal(t, "A", post.Vote.Options[0].Text)
	})

	t.Run("images outside the allow list are dropped", func(t *testing.T) {
		post := &ParsedPost{Images: []ImagePayload{
			{ContentType: "image/png", Base64Data: "x"},
			{ContentType: "application/octet-stream", Base64Data: "y"},
		}}
		SanitizePost(post, 0)
		assert.Len(t, post.Images, 1)
		assert.Equal(t, "image/png", post.Images[0].ContentType)
	})
}

func TestValidatePost(t *testing.T) {
	valid := func() *ParsedPost {
		return &ParsedPost{TxID: testTxID("ab"), PostID: "p1", BlockHeight: 800000}
	}

	t.Run("valid post", func(t *testing.T) {
		assert.NoError(t, ValidatePost(valid()))
	})

	t.Run("malformed txid", func(t *testing.T) {
		post := valid()
		post.TxID = "nothex"
		assert.ErrorIs(t, ValidatePost(post), ErrValidation)
	})

	t.Run("invalid block height", func(t *testing.T) {
		post := valid()
		post.BlockHeight = -2
		assert.ErrorIs(t, ValidatePost(post), ErrValidation)
	})

	t.Run("mempool height is allowed", func(t *testing.T) {
		post := valid()
		post.BlockHeight = -1
		assert.NoError(t, ValidatePost(post))
	})

	t.Run("empty post id", func(t *testing.T) {
		post := valid()
		post.PostID = ""
		assert.ErrorIs(t, ValidatePost(post), ErrValidation)
	})

	t.Run("duplicate vote option index", func(t *testing.T) {
		post := valid()
		post.Vote = &VoteAggregate{Options: []VoteOption{{Index: 1}, {Index: 1}}}
		assert.ErrorIs(t, ValidatePost(post), ErrDuplicateOptionIndex)
	})

	t.Run("negative option index", func(t *testing.T) {
		post := valid()
		post.Vote = &VoteAggregate{Options: []VoteOption{{Index: -1}}}
		assert.ErrorIs(t, ValidatePost(post), ErrValidation)
	})
}

func TestValidateOrphanOption(t *testing.T) {
	t.Run("valid option", func(t *testing.T) {
		assert.NoError(t, ValidateOrphanOption(&OrphanOption{TxID: testTxID("cd"), PostID: "p1", Index: 0}))
	})

	t.Run("malformed txid", func(t *testing.T) {
		assert.ErrorIs(t, ValidateOrphanOption(&OrphanOption{TxID: "xyz", PostID: "p1"}), ErrValidation)
	})

	t.Run("negative index", func(t *testing.T) {
		assert.ErrorIs(t, ValidateOrphanOption(&OrphanOption{TxID: testTxID("cd"), PostID: "p1", Index: -2}), ErrValidation)
	})
}
