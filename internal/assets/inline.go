package assets

import (
	"context"
	"fmt"
	"strings"

	"github.com/vincent-petithory/dataurl"
)

// InlineRelocator keeps assets inside the local store. Inline blobs are
// re-encoded canonically; http(s) URLs are already fetchable and pass through.
type InlineRelocator struct{}

func (InlineRelocator) Relocate(ctx context.Context, _ Target, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch {
	case isRemoteURL(ref):
		return ref, nil
	case strings.HasPrefix(ref, "data:"):
		contentType, data, err := decodeDataURL(ref)
		if err != nil {
			return "", err
		}
		return dataurl.New(data, contentType).String(), nil
	}
	return "", fmt.Errorf("%w: %.32q", ErrUnsupportedReference, ref)
}

func isRemoteURL(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}
