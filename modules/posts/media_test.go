package posts

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pngBytes  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52}
	jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00, 0x01}
)

func TestExtractImageDataURI(t *testing.T) {
	t.Run("valid png data uri", func(t *testing.T) {
		raw := []byte("data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes))
		payload := ExtractImage(raw)
		require.NotNil(t, payload)
		assert.Equal(t, "image/png", payload.ContentType)
		assert.Equal(t, "data_uri", payload.SourceTag)

		decoded, err := base64.StdEncoding.DecodeString(payload.Base64Data)
		require.NoError(t, err)
		assert.Equal(t, pngBytes, decoded)
	})

	t.Run("declared format is not trusted without magic bytes", func(t *testing.T) {
		raw := []byte("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("definitely not an image")))
		assert.Nil(t, ExtractImage(raw))
	})

	t.Run("data uri with whitespace in payload", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString(jpegBytes)
		raw := []byte("data:image/jpeg;base64," + encoded[:8] + "\n" + encoded[8:])
		payload := ExtractImage(raw)
		require.NotNil(t, payload)
		assert.Equal(t, "image/jpeg", payload.ContentType)
	})
}

func TestExtractImageRawBase64(t *testing.T) {
	t.Run("jpeg marker embedded in text", func(t *testing.T) {
		raw := []byte("some leading text " + base64.StdEncoding.EncodeToString(jpegBytes))
		payload := ExtractImage(raw)
		require.NotNil(t, payload)
		assert.Equal(t, "image/jpeg", payload.ContentType)
		assert.Equal(t, "raw_base64", payload.SourceTag)
	})

	t.Run("png marker embedded in text", func(t *testing.T) {
		raw := []byte("prefix " + base64.StdEncoding.EncodeToString(pngBytes))
		payload := ExtractImage(raw)
		require.NotNil(t, payload)
		assert.Equal(t, "image/png", payload.ContentType)
	})
}

func TestExtractImageMagicBytes(t *testing.T) {
	t.Run("png signature inside binary buffer", func(t *testing.T) {
		raw := append([]byte("garbage header"), pngBytes...)
		payload := ExtractImage(raw)
		require.NotNil(t, payload)
		assert.Equal(t, "image/png", payload.ContentType)
		assert.Equal(t, "magic_bytes", payload.SourceTag)

		decoded, err := base64.StdEncoding.DecodeString(payload.Base64Data)
		require.NoError(t, err)
		assert.Equal(t, pngBytes, decoded)
	})

	t.Run("arbitrary binary never becomes an image", func(t *testing.T) {
		assert.Nil(t, ExtractImage([]byte{0x00, 0x01, 0x02, 0x03, 0x04}))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, ExtractImage(nil))
	})
}
