package posts

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var scriptLikePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script.*?>.*?</script>`),
	regexp.MustCompile(`(?is)<script.*?>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on(load|click|error|mouseover)\s*=`),
}

// SanitizePost bounds free text and drops images outside the media
// allow-list before the post is handed to storage. Mutates in place.
func SanitizePost(post *ParsedPost, maxContentLength int) {
	post.Content.Text = sanitizeText(post.Content.Text, maxContentLength)
	post.Content.Title = sanitizeText(post.Content.Title, maxContentLength)
	post.Content.Description = sanitizeText(post.Content.Description, maxContentLength)
	if post.Vote != nil {
		post.Vote.Question = sanitizeText(post.Vote.Question, maxContentLength)
		for i := range post.Vote.Options {
			post.Vote.Options[i].Text = sanitizeText(post.Vote.Options[i].Text, maxContentLength)
		}
	}

	kept := post.Images[:0]
	for _, image := range post.Images {
		if isAllowedMediaType(image.ContentType) {
			kept = append(kept, image)
		}
	}
	post.Images = kept
}

func sanitizeText(s string, maxLength int) string {
	for _, pattern := range scriptLikePatterns {
		s = pattern.ReplaceAllString(s, "")
	}
	s = strings.TrimSpace(s)
	if maxLength > 0 && len(s) > maxLength {
		// The bound is in bytes, so the cut point can land inside a
		// multi-byte rune. Postgres rejects invalid UTF-8, walk back to
		// the nearest rune boundary.
		cut := maxLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

func isAllowedMediaType(contentType string) bool {
	for _, allowed := range allowedMediaTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}
