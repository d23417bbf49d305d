package normalize

import (
	"regexp"
	"strings"

	"github.com/mondzorgtools/dictaat/internal/lexicon"
)

// spaceRun matches runs of horizontal whitespace.
var spaceRun = regexp.MustCompile(`[ \t]{2,}`)

// stagePreprocess implements S1: a separator character sitting directly
// between two digits gets a space on both sides ("14;15" → "14 ; 15"), and
// redundant whitespace is collapsed. Case is untouched.
func stagePreprocess(s string, snap *lexicon.Snapshot) string {
	re := digitSeparatorPattern(snap.Separators)
	return mapUnprotected(s, func(seg string) string {
		if re != nil {
			// Replacements do not overlap within one pass ("1;2;3" only
			// spaces the first separator), so iterate to a fixed point.
			for {
				next := re.ReplaceAllString(seg, "$1 $2 $3")
				if next == seg {
					break
				}
				seg = next
			}
		}
		return spaceRun.ReplaceAllString(seg, " ")
	})
}

// digitSeparatorPattern builds the digit-separator-digit pattern for the
// configured separator set. Whitespace separators need no spacing and are
// excluded; nil is returned when no printable separator remains.
func digitSeparatorPattern(separators map[rune]struct{}) *regexp.Regexp {
	var class strings.Builder
	for r := range separators {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if r == '-' {
			// A bare hyphen forms a range inside a character class.
			class.WriteString(`\-`)
			continue
		}
		class.WriteString(regexp.QuoteMeta(string(r)))
	}
	if class.Len() == 0 {
		return nil
	}
	return regexp.MustCompile(`(\d)([` + class.String() + `])(\d)`)
}
