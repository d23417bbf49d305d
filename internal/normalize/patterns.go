package normalize

import (
	"regexp"
	"strings"

	"github.com/mondzorgtools/dictaat/internal/lexicon"
	"github.com/mondzorgtools/dictaat/internal/normalize/fold"
)

// stagePatterns implements S3: the user's ordered custom rewrites. Matching
// is accent-agnostic — every regex (already compiled against folded text by
// the loader) runs on an accent-folded copy of the segment, and replacements
// are spliced into the original via the fold index map, preserving the
// untouched surroundings byte for byte.
func stagePatterns(s string, snap *lexicon.Snapshot) string {
	if len(snap.Patterns) == 0 {
		return s
	}
	return mapUnprotected(s, func(seg string) string {
		for _, p := range snap.Patterns {
			seg = replaceFolded(seg, p.Regex, p.Replacement)
		}
		return seg
	})
}

// replaceFolded applies re against the folded form of seg and substitutes
// repl (with $1-style group references) at the corresponding positions of
// the original.
func replaceFolded(seg string, re *regexp.Regexp, repl string) string {
	folded, offsets := fold.StripWithMap(seg)
	matches := re.FindAllStringSubmatchIndex(folded, -1)
	if len(matches) == 0 {
		return seg
	}

	var b strings.Builder
	b.Grow(len(seg))
	prev := 0
	for _, m := range matches {
		start, end := offsets[m[0]], offsets[m[1]]
		if start < prev {
			continue
		}
		b.WriteString(seg[prev:start])
		b.Write(re.ExpandString(nil, repl, folded, m))
		prev = end
	}
	b.WriteString(seg[prev:])
	return b.String()
}
