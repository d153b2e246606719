package protocol

import (
	"strings"
	"unicode"
)

type ComponentType string

const (
	TypeContent      ComponentType = "content"
	TypeImage        ComponentType = "image"
	TypeVoteQuestion ComponentType = "vote_question"
	TypeVoteOption   ComponentType = "vote_option"
	TypeTags         ComponentType = "tags"
)

var componentTypes = map[string]ComponentType{
	"content":       TypeContent,
	"image":         TypeImage,
	"vote_question": TypeVoteQuestion,
	"vote_option":   TypeVoteOption,
	"tags":          TypeTags,
}

// Component is one decoded, typed unit extracted from a single transaction
// output. Components from the same transaction sharing a PostID belong to
// one logical post, ordered by Sequence ascending.
type Component struct {
	Type           ComponentType
	PostID         string
	Sequence       int64
	ParentSequence int64
	HasParent      bool
	Fields         Fields

	// Raw holds the payload bytes for image and vote components.
	Raw []byte
}

// textFields receive best-effort cleanup of leaked protocol metadata.
var textFields = []string{"content", "title", "description", "question"}

// Classify turns a decoded field map into a typed Component. Outputs missing
// "type" or "post_id" cannot be attributed to any post and are discarded
// (ok=false).
func Classify(fields Fields) (*Component, bool) {
	if !fields.Has("type") || !fields.Has("post_id") {
		return nil, false
	}
	componentType, ok := componentTypes[strings.ToLower(strings.TrimSpace(fields.Str("type")))]
	if !ok {
		return nil, false
	}
	postID := strings.TrimSpace(fields.Str("post_id"))
	if postID == "" {
		return nil, false
	}

	for _, name := range textFields {
		if value, ok := fields[name]; ok && value.kind == KindString {
			value.str = CleanText(value.str)
			fields[name] = value
		}
	}

	component := &Component{
		Type:     componentType,
		PostID:   postID,
		Sequence: fields.Int("sequence"),
		Fields:   fields,
	}
	if fields.Has("parent_sequence") {
		component.ParentSequence = fields.Int("parent_sequence")
		component.HasParent = true
	}

	switch componentType {
	case TypeImage, TypeVoteQuestion, TypeVoteOption:
		if fields.Has("data") {
			component.Raw = fields.Bytes("data")
		} else {
			component.Raw = fields.Bytes("content")
		}
	}

	return component, true
}

// CleanText strips known protocol marker substrings and the non-alphanumeric
// lead-in runes that upstream encoding occasionally leaks into free text.
// This is cosmetic and best-effort, not guaranteed complete.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, string(Marker), "")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.TrimSpace(s)
}
