package assets

import (
	"fmt"
	"mime"

	"github.com/vincent-petithory/dataurl"
)

var extensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/webp":    "webp",
	"image/gif":     "gif",
	"image/svg+xml": "svg",
}

// extensionFor maps a media type to a file extension, defaulting to bin.
func extensionFor(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return "bin"
	}
	if ext, ok := extensions[mt]; ok {
		return ext
	}
	return "bin"
}

// decodeDataURL returns the content type and payload of an inline blob.
func decodeDataURL(ref string) (string, []byte, error) {
	du, err := dataurl.DecodeString(ref)
	if err != nil {
		return "", nil, fmt.Errorf("%w: decode data URL: %v", ErrUnsupportedReference, err)
	}
	return du.ContentType(), du.Data, nil
}
