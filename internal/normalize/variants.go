package normalize

import (
	"regexp"
	"strings"

	"github.com/mondzorgtools/dictaat/internal/lexicon"
	"github.com/mondzorgtools/dictaat/internal/normalize/fold"
	"github.com/mondzorgtools/dictaat/internal/normalize/phonetic"
)

// stageVariants implements S4: token windows (longest first, up to the
// longest variant key) are looked up in the variant map after case and
// accent folding; hits are replaced by their canonical form with the
// original trailing punctuation preserved.
func stageVariants(s string, snap *lexicon.Snapshot) string {
	if len(snap.Variants) == 0 {
		return s
	}
	maxWords := snap.MaxVariantWords()

	return mapUnprotected(s, func(seg string) string {
		return mapTokens(seg, func(tokens []string) []string {
			out := make([]string, 0, len(tokens))
			i := 0
			for i < len(tokens) {
				replaced := false
				for n := windowLimit(maxWords, len(tokens)-i); n >= 1; n-- {
					phrase, punct, ok := tokenWindow(tokens, i, n)
					if !ok {
						continue
					}
					canonical, hit := snap.Variants[fold.Key(phrase)]
					if !hit {
						continue
					}
					out = appendPhrase(out, canonical, punct)
					i += n
					replaced = true
					break
				}
				if !replaced {
					out = append(out, tokens[i])
					i++
				}
			}
			return out
		})
	})
}

// numericRange matches tokens like "14-18" that the hyphen prepass must
// leave intact.
var numericRange = regexp.MustCompile(`^\d+-\d+$`)

// stageHyphens implements S4.5: hyphenated tokens that are neither canonical
// terms nor numeric ranges are split into separate words.
func stageHyphens(s string, snap *lexicon.Snapshot) string {
	return mapUnprotected(s, func(seg string) string {
		return mapTokens(seg, func(tokens []string) []string {
			for i, tok := range tokens {
				core, punct := splitTrailingPunct(tok)
				if !strings.Contains(core, "-") || core == "-" {
					continue
				}
				if numericRange.MatchString(core) {
					continue
				}
				if snap.IsCanonical(core) || len(snap.CanonicalsForFold(fold.Key(core))) > 0 {
					continue
				}
				tokens[i] = strings.ReplaceAll(core, "-", " ") + punct
			}
			return tokens
		})
	})
}

// stagePhonetic implements S5: every unprotected, non-numeric token (and
// multi-token window) is scored against the canonical set; the best
// candidate at or above the snapshot threshold replaces the window.
func stagePhonetic(s string, snap *lexicon.Snapshot, m *phonetic.Matcher) string {
	if len(snap.CanonicalList) == 0 {
		return s
	}
	maxWords := 1
	for _, c := range snap.CanonicalList {
		if n := len(strings.Fields(c)); n > maxWords {
			maxWords = n
		}
	}

	return mapUnprotected(s, func(seg string) string {
		return mapTokens(seg, func(tokens []string) []string {
			out := make([]string, 0, len(tokens))
			i := 0
			for i < len(tokens) {
				core, _ := splitTrailingPunct(tokens[i])
				if phoneticSkip(core, snap) {
					out = append(out, tokens[i])
					i++
					continue
				}

				matched := false
				for n := windowLimit(maxWords, len(tokens)-i); n >= 1; n-- {
					phrase, punct, ok := tokenWindow(tokens, i, n)
					if !ok || windowHasSkip(tokens, i, n, snap) {
						continue
					}
					best, found := m.Best(phrase, snap.CanonicalList)
					if !found {
						continue
					}
					out = appendPhrase(out, best.Canonical, punct)
					i += n
					matched = true
					break
				}
				if !matched {
					out = append(out, tokens[i])
					i++
				}
			}
			return out
		})
	})
}

// stageDiacritics implements S5.5: a token whose folded form equals the
// folded form of exactly one canonical is replaced by that canonical,
// restoring its diacritics.
func stageDiacritics(s string, snap *lexicon.Snapshot) string {
	return mapUnprotected(s, func(seg string) string {
		return mapTokens(seg, func(tokens []string) []string {
			for i, tok := range tokens {
				core, punct := splitTrailingPunct(tok)
				if core == "" || snap.IsCanonical(core) {
					continue
				}
				candidates := snap.CanonicalsForFold(fold.Key(core))
				if len(candidates) == 1 {
					tokens[i] = candidates[0] + punct
				}
			}
			return tokens
		})
	})
}

// ─── Window helpers ──────────────────────────────────────────────────────────

func windowLimit(maxWords, remaining int) int {
	if maxWords > remaining {
		return remaining
	}
	return maxWords
}

// tokenWindow joins tokens[i:i+n] into a lookup phrase. Only the last token
// may carry trailing punctuation, which is returned separately; windows with
// internal punctuation do not form a phrase.
func tokenWindow(tokens []string, i, n int) (phrase, punct string, ok bool) {
	for k := i; k < i+n-1; k++ {
		if _, p := splitTrailingPunct(tokens[k]); p != "" {
			return "", "", false
		}
	}
	lastCore, lastPunct := splitTrailingPunct(tokens[i+n-1])
	if lastCore == "" {
		return "", "", false
	}
	if n == 1 {
		return lastCore, lastPunct, true
	}
	parts := make([]string, 0, n)
	parts = append(parts, tokens[i:i+n-1]...)
	parts = append(parts, lastCore)
	return strings.Join(parts, " "), lastPunct, true
}

// appendPhrase emits a (possibly multi-word) replacement, reattaching the
// trailing punctuation to its last word.
func appendPhrase(out []string, phrase, punct string) []string {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return out
	}
	out = append(out, words...)
	if punct != "" {
		out[len(out)-1] += punct
	}
	return out
}

// phoneticSkip reports whether a token is exempt from phonetic promotion:
// empty cores, anything numeric, separators, and terms that are already
// canonical.
func phoneticSkip(core string, snap *lexicon.Snapshot) bool {
	if len([]rune(core)) <= 2 {
		return true
	}
	if strings.ContainsAny(core, "0123456789") {
		return true
	}
	return snap.IsCanonical(core)
}

func windowHasSkip(tokens []string, i, n int, snap *lexicon.Snapshot) bool {
	for k := i; k < i+n; k++ {
		core, _ := splitTrailingPunct(tokens[k])
		if phoneticSkip(core, snap) {
			return true
		}
	}
	return false
}
