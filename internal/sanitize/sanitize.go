// Package sanitize normalizes and validates identifiers that end up in
// collection names, file names and glob patterns.
//
// Collection names must be safe as file and URL path components for every
// vector store: 1-64 characters of [A-Za-z0-9_-]. Identifier produces the
// stricter lowercase form used for generated names.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the longest collection name the vector stores
	// accept.
	MaxIdentifierLength = 64

	// hashSuffixLength is "_" plus eight hex digits.
	hashSuffixLength = 9

	// DefaultIdentifier replaces inputs that sanitize to nothing.
	DefaultIdentifier = "default"
)

// Identifier lowercases s, replaces every character outside [a-z0-9_] with
// an underscore, collapses and trims underscores, and truncates the result
// to MaxIdentifierLength with a hash suffix so distinct long inputs stay
// distinct.
//
//	"Notion Pages" -> "notion_pages"
//	"code/ios"     -> "code_ios"
//	"" or "!!!"    -> "default"
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_")
	if out == "" {
		return DefaultIdentifier
	}
	if len(out) > MaxIdentifierLength {
		out = truncateWithHash(out)
	}
	return out
}

func truncateWithHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	return strings.TrimRight(s[:MaxIdentifierLength-hashSuffixLength], "_") + suffix
}
