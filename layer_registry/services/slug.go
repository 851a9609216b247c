package services

import (
	"fmt"
	"strings"
	"unicode"
)

// slugify derives the base slug from a layer name: runs of whitespace become
// single hyphens, characters outside [A-Za-z0-9-] are dropped, and repeated
// hyphens collapse. Case is preserved.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// nextSlug suffixes the base with an incrementing integer: base, base_1,
// base_2, ...
func nextSlug(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, attempt)
}
