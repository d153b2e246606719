package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldsOf(t *testing.T, pairs ...string) Fields {
	t.Helper()
	pushes := append([][]byte{Marker, []byte("SET")}, kv(pairs...)...)
	fields, ok := DecodeOutput(buildOutput(t, pushes...))
	require.True(t, ok)
	return fields
}

func TestClassify(t *testing.T) {
	t.Run("content component", func(t *testing.T) {
		component, ok := Classify(fieldsOf(t, "type", "content", "post_id", "p1", "sequence", "0", "content", "Hello"))
		require.True(t, ok)
		assert.Equal(t, TypeContent, component.Type)
		assert.Equal(t, "p1", component.PostID)
		assert.Equal(t, int64(0), component.Sequence)
		assert.False(t, component.HasParent)
	})

	t.Run("vote option carries parent sequence", func(t *testing.T) {
		component, ok := Classify(fieldsOf(t, "type", "vote_option", "post_id", "p1", "sequence", "2", "parent_sequence", "1", "option_index", "0"))
		require.True(t, ok)
		assert.Equal(t, TypeVoteOption, component.Type)
		assert.True(t, component.HasParent)
		assert.Equal(t, int64(1), component.ParentSequence)
	})

	t.Run("image component selects raw payload", func(t *testing.T) {
		component, ok := Classify(fieldsOf(t, "type", "image", "post_id", "p1", "data", "payload-bytes"))
		require.True(t, ok)
		assert.Equal(t, []byte("payload-bytes"), component.Raw)
	})

	t.Run("image falls back to content payload", func(t *testing.T) {
		component, ok := Classify(fieldsOf(t, "type", "image", "post_id", "p1", "content", "payload-bytes"))
		require.True(t, ok)
		assert.Equal(t, []byte("payload-bytes"), component.Raw)
	})

	t.Run("missing type is discarded", func(t *testing.T) {
		_, ok := Classify(fieldsOf(t, "post_id", "p1", "content", "Hello"))
		assert.False(t, ok)
	})

	t.Run("missing post id is discarded", func(t *testing.T) {
		_, ok := Classify(fieldsOf(t, "type", "content", "content", "Hello"))
		assert.False(t, ok)
	})

	t.Run("unknown type is discarded", func(t *testing.T) {
		_, ok := Classify(fieldsOf(t, "type", "like", "post_id", "p1"))
		assert.False(t, ok)
	})
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text unchanged", "Hello world", "Hello world"},
		{"marker stripped", string(Marker) + "Hello", "Hello"},
		{"nul bytes stripped", "Hel\x00lo", "Hello"},
		{"leading junk trimmed", "*!? Hello", "Hello"},
		{"whitespace trimmed", "  Hello  ", "Hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanText(tt.input))
		})
	}
}
