package posts

import (
	"bytes"
	"encoding/base64"
	"regexp"
	"strings"
)

// ImagePayload is a validated image recovered from an image component.
type ImagePayload struct {
	Base64Data  string
	ContentType string
	SourceTag   string
}

var allowedMediaTypes = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
	"tiff": "image/tiff",
}

var (
	dataURIPattern = regexp.MustCompile(`data:image/([a-zA-Z+]+);base64,([A-Za-z0-9+/=\s]+)`)
	nonBase64      = regexp.MustCompile(`[^A-Za-z0-9+/=]`)
)

var imageMagics = []struct {
	prefix      []byte
	contentType string
}{
	{[]byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
	{[]byte{0x89, 0x50, 0x4E, 0x47}, "image/png"},
	{[]byte("GIF8"), "image/gif"},
	{[]byte{0x42, 0x4D}, "image/bmp"},
	{[]byte("RIFF"), "image/webp"},
	{[]byte{0x49, 0x49, 0x2A, 0x00}, "image/tiff"},
	{[]byte{0x4D, 0x4D, 0x00, 0x2A}, "image/tiff"},
}

// ExtractImage recovers a validated image payload from an image component's
// raw bytes. Strategies are tried in order and the first candidate that
// survives magic byte validation wins. Returns nil when no strategy yields a
// valid image; the post itself stays valid in that case.
func ExtractImage(raw []byte) *ImagePayload {
	if len(raw) == 0 {
		return nil
	}
	text := string(raw)

	if payload := extractDataURI(text); payload != nil {
		return payload
	}
	if payload := extractRawBase64(text); payload != nil {
		return payload
	}
	return extractFromMagicBytes(raw)
}

// extractDataURI handles the data:image/<fmt>;base64,<payload> form. The
// declared format is only trusted after the decoded bytes pass magic byte
// validation.
func extractDataURI(text string) *ImagePayload {
	m := dataURIPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	format := strings.ToLower(strings.TrimSuffix(m[1], "+xml"))
	if _, ok := allowedMediaTypes[format]; !ok {
		return nil
	}
	cleaned := cleanBase64(m[2])
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil
	}
	if format == "svg" {
		if !looksLikeSVG(decoded) {
			return nil
		}
		return &ImagePayload{Base64Data: cleaned, ContentType: "image/svg+xml", SourceTag: "data_uri"}
	}
	contentType := detectContentType(decoded)
	if contentType == "" {
		return nil
	}
	return &ImagePayload{Base64Data: cleaned, ContentType: contentType, SourceTag: "data_uri"}
}

// extractRawBase64 looks for bare base64 JPEG ("/9j/") or PNG ("iVBORw0KGg")
// markers appearing anywhere in the decoded text.
func extractRawBase64(text string) *ImagePayload {
	for _, marker := range []string{"/9j/", "iVBORw0KGg"} {
		idx := strings.Index(text, marker)
		if idx < 0 {
			continue
		}
		candidate := cleanBase64(text[idx:])
		// Trim to a decodable length.
		if rem := len(candidate) % 4; rem != 0 {
			candidate = candidate[:len(candidate)-rem]
		}
		decoded, err := base64.StdEncoding.DecodeString(candidate)
		if err != nil || len(decoded) == 0 {
			continue
		}
		contentType := detectContentType(decoded)
		if contentType == "" {
			continue
		}
		return &ImagePayload{Base64Data: candidate, ContentType: contentType, SourceTag: "raw_base64"}
	}
	return nil
}

// extractFromMagicBytes scans the raw buffer for an embedded JPEG or PNG
// signature and re-encodes the remainder of the buffer from that offset.
func extractFromMagicBytes(raw []byte) *ImagePayload {
	for _, sig := range [][]byte{{0xFF, 0xD8, 0xFF}, {0x89, 0x50, 0x4E, 0x47}} {
		idx := bytes.Index(raw, sig)
		if idx < 0 {
			continue
		}
		payload := raw[idx:]
		contentType := detectContentType(payload)
		if contentType == "" {
			continue
		}
		return &ImagePayload{
			Base64Data:  base64.StdEncoding.EncodeToString(payload),
			ContentType: contentType,
			SourceTag:   "magic_bytes",
		}
	}
	return nil
}

// detectContentType matches the buffer's leading bytes against known image
// signatures. Returns the empty string for anything unrecognized.
func detectContentType(data []byte) string {
	for _, magic := range imageMagics {
		if bytes.HasPrefix(data, magic.prefix) {
			return magic.contentType
		}
	}
	return ""
}

func looksLikeSVG(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return bytes.HasPrefix(trimmed, []byte("<svg")) || bytes.HasPrefix(trimmed, []byte("<?xml"))
}

func cleanBase64(s string) string {
	return nonBase64.ReplaceAllString(s, "")
}
