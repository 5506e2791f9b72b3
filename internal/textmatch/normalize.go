// Package textmatch provides the shared normalization and edit-distance
// similarity primitives used by the consensus engine, the deterministic
// verifier, and the golden-set gate. All three must compare fields with the
// same rules, so the comparator lives here and nowhere else.
package textmatch

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiSpace = regexp.MustCompile(`\s{2,}`)

// stripDiacritics decomposes to NFD and removes combining marks, so that
// "Constitución" and "Constitucion" normalize identically.
var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips diacritics, and collapses whitespace.
func Normalize(s string) string {
	n := strings.ToLower(strings.TrimSpace(s))
	if out, _, err := transform.String(stripDiacritics, n); err == nil {
		n = out
	}
	n = multiSpace.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// DigitsOnly strips every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ocrConfusions maps characters OCR engines commonly misread for digits.
var ocrConfusions = map[rune]rune{
	'O': '0', 'o': '0',
	'I': '1', 'i': '1', 'L': '1', 'l': '1',
	'Z': '2', 'z': '2',
	'S': '5', 's': '5',
	'B': '8', 'b': '8',
}

// FoldOCRDigits rewrites commonly-confused letters to their digit
// counterparts before digit extraction ("S0l23" → "50123").
func FoldOCRDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if d, ok := ocrConfusions[r]; ok {
			b.WriteRune(d)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
