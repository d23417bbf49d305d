package normalize

import (
	"strings"

	"github.com/mondzorgtools/dictaat/internal/lexicon"
	"github.com/mondzorgtools/dictaat/internal/normalize/fold"
)

// contextWords enable number-word aggregation and suppress a second
// "element" prefix in front of an already-qualified number.
var contextWords = map[string]struct{}{
	"element":   {},
	"tand":      {},
	"kies":      {},
	"molaar":    {},
	"premolaar": {},
}

// unitTokens guard digit pairs that denote a measurement, not a tooth.
var unitTokens = map[string]struct{}{
	"mm": {},
	"cm": {},
	"%":  {},
	"ml": {},
}

// stageElements implements S2: recognition of tooth-element numbers.
//
// A valid element is a two-digit number with both digits in 1–8 (first digit
// 1–4 permanent, 5–8 deciduous; second digit the tooth position). The parser
// walks the token stream left to right, so ties between rules resolve by
// earliest position; at a single position the pair form wins over the
// article form, which wins over number words, which win over a bare pair.
func stageElements(s string, snap *lexicon.Snapshot) string {
	return mapUnprotected(s, func(seg string) string {
		return mapTokens(seg, func(tokens []string) []string {
			return parseElements(tokens, snap)
		})
	})
}

func parseElements(tokens []string, snap *lexicon.Snapshot) []string {
	out := make([]string, 0, len(tokens))

	prevWord := func() string {
		if len(out) == 0 {
			return ""
		}
		core, _ := splitTrailingPunct(out[len(out)-1])
		return strings.ToLower(core)
	}
	contextPrev := func() bool {
		_, ok := contextWords[prevWord()]
		return ok
	}
	// emit appends the recognized element number, prefixing "element" unless
	// a context word already qualifies it (negative lookbehind, rule 3).
	emit := func(dd string) {
		if !contextPrev() {
			out = append(out, "element")
		}
		out = append(out, dd)
	}

	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		core, punct := splitTrailingPunct(tok)

		// Comma-list guard (rule 2): members of a spaced single-digit list
		// ("1, 2, 3") keep their attached comma and pass through untouched.
		if isSingleDigit(core) && strings.HasPrefix(punct, ",") {
			out = append(out, tok)
			i++
			continue
		}

		// Pair forms (rule 4): d sep d with an explicit separator token.
		if d1, ok := singleDigitByte(core); ok && punct == "" && i+2 < len(tokens) {
			if isSeparatorToken(tokens[i+1], snap.ElementSeparators) {
				c2, p2 := splitTrailingPunct(tokens[i+2])
				if d2, ok2 := singleDigitByte(c2); ok2 && validElement(d1, d2) && !unitAt(tokens, i+3) {
					emit(string([]byte{d1, d2}) + p2)
					i += 3
					continue
				}
			}
		}

		// Pair forms with a whitespace separator: two adjacent single digits.
		if _, spaceSep := snap.ElementSeparators[' ']; spaceSep {
			if d1, ok := singleDigitByte(core); ok && punct == "" && i+1 < len(tokens) {
				c2, p2 := splitTrailingPunct(tokens[i+1])
				if d2, ok2 := singleDigitByte(c2); ok2 && validElement(d1, d2) && !unitAt(tokens, i+2) {
					emit(string([]byte{d1, d2}) + p2)
					i += 2
					continue
				}
			}
		}

		// Article cleanup (rule 5): "de DD" → "element DD".
		if strings.EqualFold(core, "de") && punct == "" && i+1 < len(tokens) {
			c2, p2 := splitTrailingPunct(tokens[i+1])
			if dd, ok := twoDigitElement(c2); ok && !unitAt(tokens, i+2) {
				out = append(out, "element", dd+p2)
				i += 2
				continue
			}
		}

		// Number-word pairs (rule 6): two consecutive Dutch digit words whose
		// mapped digits form a valid element.
		if punct == "" && i+1 < len(tokens) {
			c2, p2 := splitTrailingPunct(tokens[i+1])
			d1, ok1 := digitWordValue(snap, core, eenAllowed(snap, tokens, i, contextPrev()))
			d2, ok2 := digitWordValue(snap, c2, eenAllowed(snap, tokens, i+1, contextPrev()))
			if ok1 && ok2 && len(d1) == 1 && len(d2) == 1 && validElement(d1[0], d2[0]) && !unitAt(tokens, i+2) {
				emit(d1 + d2 + p2)
				i += 2
				continue
			}
		}

		// Bare element numbers, guarded by the unit rule (rule 1) and the
		// negative lookbehind (rule 3).
		if dd, ok := twoDigitElement(core); ok && !contextPrev() && !unitAt(tokens, i+1) {
			out = append(out, "element", dd+punct)
			i++
			continue
		}

		out = append(out, tok)
		i++
	}
	return out
}

// digitWordValue resolves a Dutch number word to its digit string. The word
// "een" doubles as the indefinite article and is a digit only when allowEen
// holds.
func digitWordValue(snap *lexicon.Snapshot, word string, allowEen bool) (string, bool) {
	key := fold.Key(word)
	d, ok := snap.DigitWords[key]
	if !ok {
		return "", false
	}
	if key == "een" && !allowEen {
		return "", false
	}
	return d, true
}

// eenAllowed reports whether "een" at position i may act as a digit: either
// a dental-context word is adjacent (the emitted predecessor or the token
// after the number-word pair), or the word sits between separator tokens.
func eenAllowed(snap *lexicon.Snapshot, tokens []string, i int, contextPrev bool) bool {
	if contextPrev {
		return true
	}
	if i+2 < len(tokens) {
		after, _ := splitTrailingPunct(tokens[i+2])
		if _, ok := contextWords[strings.ToLower(after)]; ok {
			return true
		}
	}
	prevSep := i > 0 && isSeparatorToken(tokens[i-1], snap.ElementSeparators)
	nextSep := i+1 < len(tokens) && isSeparatorToken(tokens[i+1], snap.ElementSeparators)
	return prevSep && nextSep
}

func isSingleDigit(s string) bool {
	return len(s) == 1 && s[0] >= '0' && s[0] <= '9'
}

func singleDigitByte(s string) (byte, bool) {
	if isSingleDigit(s) {
		return s[0], true
	}
	return 0, false
}

// validElement reports whether the digit pair identifies a tooth: first
// digit 1–8 (quadrant), second digit 1–8 (position).
func validElement(d1, d2 byte) bool {
	return d1 >= '1' && d1 <= '8' && d2 >= '1' && d2 <= '8'
}

// twoDigitElement returns the token when it is exactly a valid two-digit
// element number.
func twoDigitElement(s string) (string, bool) {
	if len(s) == 2 && validElement(s[0], s[1]) {
		return s, true
	}
	return "", false
}

// isSeparatorToken reports whether tok is a lone separator character.
func isSeparatorToken(tok string, separators map[rune]struct{}) bool {
	runes := []rune(tok)
	if len(runes) != 1 {
		return false
	}
	_, ok := separators[runes[0]]
	return ok
}

// unitAt reports whether the token at idx is a unit token (rule 1).
func unitAt(tokens []string, idx int) bool {
	if idx >= len(tokens) {
		return false
	}
	core, _ := splitTrailingPunct(tokens[idx])
	_, ok := unitTokens[strings.ToLower(core)]
	return ok
}
