// Package fold provides the diacritic- and case-folding primitives shared by
// the normalization pipeline and the phonetic matcher.
//
// Folding is fixed by contract: NFD decomposition, removal of combining
// marks, NFC recomposition. [Key] additionally lower-cases the result and is
// the canonical lookup key for variant maps and phonetic comparison.
package fold

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripper removes combining marks after NFD decomposition and recomposes
// the remainder, turning e.g. "ë" into "e" while leaving ASCII untouched.
var stripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Strip returns s with all diacritic marks removed. Case is preserved.
// On a malformed input the original string is returned unchanged.
func Strip(s string) string {
	out, _, err := transform.String(stripper, s)
	if err != nil {
		return s
	}
	return out
}

// Key returns the case- and accent-folded lookup key for s.
func Key(s string) string {
	return strings.ToLower(Strip(s))
}

// NFC applies Unicode NFC normalization to s.
func NFC(s string) string {
	return norm.NFC.String(s)
}

// StripWithMap folds s rune by rune and returns the folded string together
// with a byte-index map from folded positions back to positions in s.
// offsets has len(folded)+1 entries; offsets[i] is the byte offset in s of
// the original rune that produced folded byte i, and the final entry equals
// len(s). The map lets callers run accent-agnostic regex matches on the
// folded text and splice replacements into the original.
func StripWithMap(s string) (folded string, offsets []int) {
	var b strings.Builder
	b.Grow(len(s))
	offsets = make([]int, 0, len(s)+1)

	for i, r := range s {
		fr := Strip(string(r))
		if fr == "" {
			// A bare combining mark folds to nothing.
			continue
		}
		for range len(fr) {
			offsets = append(offsets, i)
		}
		b.WriteString(fr)
	}
	offsets = append(offsets, len(s))
	return b.String(), offsets
}
