package upload

import (
	"errors"
	"net/http"
	"strings"
)

var allowedMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ErrUnsupportedImage is returned for uploads that are not a supported
// raster image.
var ErrUnsupportedImage = errors.New("unsupported image type")

// SniffImage detects the content type from the first bytes of an upload and
// checks it against the whitelist of supported formats. Returns the detected
// mime type. SVG and anything scriptable is rejected outright.
func SniffImage(head []byte) (string, error) {
	detected := http.DetectContentType(head)

	if strings.HasPrefix(detected, "text/html") || strings.HasPrefix(detected, "application/xhtml") {
		return "", ErrUnsupportedImage
	}
	if strings.HasPrefix(detected, "text/xml") || strings.HasPrefix(detected, "application/xml") || detected == "image/svg+xml" {
		return "", ErrUnsupportedImage
	}

	if allowedMime[detected] {
		return detected, nil
	}
	return "", ErrUnsupportedImage
}
