package identity

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

// NaturalKey is the in-process form of (source, external_id).
func NaturalKey(source, externalID string) string {
	return strings.ToLower(strings.TrimSpace(source)) + "|" + strings.TrimSpace(externalID)
}

// Fold lowercases, strips accents and collapses whitespace so that
// "  Roma  Centro" and "roma centro" compare equal.
func Fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return multiSpaceRegex.ReplaceAllString(b.String(), " ")
}
