package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks decomposes characters and drops combining marks, so accented
// letters reduce to their ASCII base ("é" -> "e") before normalization.
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SuggestName converts an arbitrary source field name into a safe, lowercase
// identifier suitable for a modern column name.
//
// Rules:
//   - accent folding ("Naïve Café" -> "Naive Cafe")
//   - lower-case
//   - every run of characters outside [a-z0-9] becomes a single underscore
//   - leading/trailing underscores are stripped
//
// Two distinct source names may collide after this transform; collisions are
// allowed and left to the caller to resolve.
func SuggestName(s string) string {
	if folded, _, err := transform.String(foldMarks, s); err == nil {
		s = folded
	}
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
