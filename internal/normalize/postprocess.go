package normalize

import (
	"regexp"
	"strings"

	"github.com/mondzorgtools/dictaat/internal/lexicon"
)

var (
	// danglingPunct reattaches separators that earlier stages spaced apart.
	danglingPunct = regexp.MustCompile(` +([;,])`)

	unitSuffix  = regexp.MustCompile(`(\d+) (mm|cm|ml)\b`)
	percentUnit = regexp.MustCompile(`(\d+) %`)
	digitDot    = regexp.MustCompile(`(\d)\.(\d)`)
)

// stagePostprocess implements S6: whitespace and punctuation cleanup, unit
// compaction, element dedupe, leading-article removal and sentence-dot
// stripping, each behind its snapshot flag.
func stagePostprocess(s string, snap *lexicon.Snapshot) string {
	s = mapUnprotected(s, func(seg string) string {
		seg = spaceRun.ReplaceAllString(seg, " ")
		seg = danglingPunct.ReplaceAllString(seg, "$1")

		if snap.Post.CompactUnits {
			seg = unitSuffix.ReplaceAllString(seg, "$1$2")
			seg = percentUnit.ReplaceAllString(seg, "$1%")
		}
		if snap.Post.DedupeElements {
			seg = mapTokens(seg, dedupeElements)
		}
		if snap.Post.StripLeadingArticle {
			seg = mapTokens(seg, stripArticles)
		}
		if snap.Post.RemoveSentenceDots {
			seg = removeSentenceDots(seg, snap)
		}
		return seg
	})

	// Edge whitespace is trimmed on the final text only; trimming inside
	// mapUnprotected would eat spaces that border protected spans.
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

// dedupeElements collapses immediate repetitions: a doubled "element" marker
// and a fully repeated "element NN" group. Runs of three or more collapse via
// repeated passes to a fixed point. The surviving token keeps the trailing
// punctuation of the last repetition.
func dedupeElements(tokens []string) []string {
	for {
		out := make([]string, 0, len(tokens))
		i := 0
		changed := false
		for i < len(tokens) {
			core, _ := splitTrailingPunct(tokens[i])
			lower := strings.ToLower(core)

			// "element element" → "element".
			if lower == "element" && i+1 < len(tokens) {
				next, _ := splitTrailingPunct(tokens[i+1])
				if strings.EqualFold(next, "element") {
					i++
					changed = true
					continue
				}
			}

			// "element NN element NN" → "element NN".
			if lower == "element" && i+3 < len(tokens) {
				n1, _ := splitTrailingPunct(tokens[i+1])
				m, _ := splitTrailingPunct(tokens[i+2])
				n2, _ := splitTrailingPunct(tokens[i+3])
				if strings.EqualFold(m, "element") && n1 == n2 && n1 != "" {
					out = append(out, tokens[i+2], tokens[i+3])
					i += 4
					changed = true
					continue
				}
			}

			out = append(out, tokens[i])
			i++
		}
		tokens = out
		if !changed {
			return tokens
		}
	}
}

// stripArticles removes the article "de" directly in front of an element
// reference; the S2 parser already supplies the "element" qualifier.
func stripArticles(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		core, punct := splitTrailingPunct(tokens[i])
		if punct == "" && strings.EqualFold(core, "de") && i+1 < len(tokens) {
			next, _ := splitTrailingPunct(tokens[i+1])
			if strings.EqualFold(next, "element") {
				continue
			}
		}
		out = append(out, tokens[i])
	}
	return out
}

// removeSentenceDots strips periods from the segment while keeping the dots
// that belong to abbreviations from the lexicon ("ca.") and to decimal
// numbers ("3.5"). Shielded dots are swapped for a placeholder, the rest are
// removed, then the placeholder is restored.
func removeSentenceDots(seg string, snap *lexicon.Snapshot) string {
	for _, abbr := range snap.Abbreviations() {
		shielded := strings.ReplaceAll(abbr, ".", dotPlaceholder)
		seg = strings.ReplaceAll(seg, abbr, shielded)
	}
	for {
		next := digitDot.ReplaceAllString(seg, "$1"+dotPlaceholder+"$2")
		if next == seg {
			break
		}
		seg = next
	}
	seg = strings.ReplaceAll(seg, ".", "")
	return strings.ReplaceAll(seg, dotPlaceholder, ".")
}
