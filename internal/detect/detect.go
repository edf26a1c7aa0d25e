// Package detect decides whether free text contains a phone-number-shaped substring.
package detect

import (
	"regexp"
	"strings"
)

// numberPattern accepts an optional country prefix (+CC or a single digit),
// then 3+3+4 digits with optional single whitespace between groups.
// Whitespace covers the Unicode space separators as well as ASCII, so text
// pasted with non-breaking spaces still matches.
var numberPattern = regexp.MustCompile(
	`(?:\+\d{1,3}|\d)?(?:` + space + `?\d{3}){2}` + space + `?\d{4}`)

const space = `[\s\v\x{00A0}\x{1680}\x{2000}-\x{200A}\x{2028}\x{2029}\x{202F}\x{205F}\x{3000}\x{FEFF}]`

// ContainsNumber reports whether any substring of text matches the number shape.
// It is a presence test only; the number itself is not validated.
func ContainsNumber(text string) bool {
	if text == "" {
		return false
	}
	return numberPattern.MatchString(text)
}

// Find returns the leftmost number-shaped substring of text with its
// separators replaced by plain spaces, or "" when there is none.
func Find(text string) string {
	m := numberPattern.FindString(text)
	if m == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r == '+' || (r >= '0' && r <= '9') {
			return r
		}
		return ' '
	}, m)
}
