package domain

import "strings"

// DataURLPrefix marks an image reference carried inline instead of by URL.
const DataURLPrefix = "data:"

// IsInlineImage reports whether ref is an inline data URL rather than a
// fetchable remote reference.
func IsInlineImage(ref string) bool {
	return strings.HasPrefix(ref, DataURLPrefix)
}

// ExceedsInlineLimit reports whether ref is an inline blob longer than limit
// bytes. A limit <= 0 disables the check.
func ExceedsInlineLimit(ref string, limit int) bool {
	return limit > 0 && IsInlineImage(ref) && len(ref) > limit
}
