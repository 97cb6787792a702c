// Package media handles attachment bytes moving between Discord and the
// agent: downloads, MIME sniffing from magic bytes, and fitting inbound
// images into the limits vision models accept.
package media

import (
	"encoding/base64"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Vision model limits for inbound images
const (
	MaxDimension = 2000            // Max width or height in pixels
	MaxBytes     = 5 * 1024 * 1024 // 5MB max encoded size
	MaxQuality   = 85              // Starting JPEG quality
)

// SupportedMIMETypes are the image types the agent accepts.
var SupportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ImageData is an image ready to hand to the agent.
type ImageData struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Base64 returns the image bytes base64-encoded.
func (img *ImageData) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// DetectMIME returns the MIME type from magic bytes (not file extension).
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsSupported reports whether the agent accepts this image type.
func IsSupported(mimeType string) bool {
	return SupportedMIMETypes[mimeType]
}

// IsImageMIME reports whether a declared content type is an image.
func IsImageMIME(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}

// IsAudioMIME reports whether a declared content type is audio.
func IsAudioMIME(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "audio/")
}

// IsImageFile sniffs the file at path. Returns the detected MIME type and
// whether it is a supported image. Unreadable files are not images.
func IsImageFile(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false
	}
	mime := mt.String()
	return mime, IsSupported(mime)
}
