// Package phonetic implements the fuzzy canonical-term matcher used by the
// normalization pipeline, blending folded Levenshtein distance with a gated
// Soundex bonus.
//
// The algorithm proceeds in two layers:
//
//  1. Base scoring: for a token t and candidate c the base score is
//     1 − L/max(|t|,|c|), where L is the Levenshtein distance between the
//     accent-folded, lower-cased forms.
//
//  2. Soundex gate: when the base score is within 0.06 below the acceptance
//     threshold and the Soundex codes of the folded forms agree, a bonus of
//     0.05 is added (capped at 1.0). The bonus lets near-threshold matches
//     with matching pronunciation pass, without promoting dissimilar words
//     that merely sound alike.
//
// Multi-word windows are matched word-for-word against multi-word candidates:
// every word must reach the per-word floor, and the window average must reach
// the bigram or trigram floor before the overall threshold applies.
//
// Two guards protect against false promotions of dental terminology:
// a morphology guard (Latin-suffix endings never map onto -um/-us nouns) and
// a core check (generic anatomical prefixes such as "inter-" or "mesio-" do
// not count towards the match core).
//
// The Matcher is read-only after construction and safe for concurrent use.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/mondzorgtools/dictaat/internal/normalize/fold"
)

const (
	// DefaultThreshold is the default acceptance score.
	DefaultThreshold = 0.84

	// soundexGateMargin is how far below the threshold the base score may sit
	// for the Soundex bonus to be considered.
	soundexGateMargin = 0.06

	// soundexBonus is added when the gate opens and the codes agree.
	soundexBonus = 0.05

	// perWordFloor is the minimum per-word score inside a multi-word window.
	perWordFloor = 0.60

	// bigramFloor and trigramFloor are the minimum average scores for
	// two-word and three-or-more-word windows respectively.
	bigramFloor  = 0.70
	trigramFloor = 0.75

	// minCoreAgreement is the number of characters of non-prefix agreement
	// required when a generic prefix is involved in the match.
	minCoreAgreement = 5
)

// genericPrefixes lists the anatomical and positional prefixes that do not
// contribute to the match core.
var genericPrefixes = []string{
	"inter", "mesio", "disto", "supra", "peri", "extra", "intra",
	"post", "pre", "sub", "re", "co",
}

// morphologySuffixes pairs token endings that must never be promoted to
// candidate endings (adjective forms vs. Latin nouns).
var (
	guardedTokenSuffixes     = []string{"eer", "air", "aal"}
	guardedCandidateSuffixes = []string{"um", "us"}
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum combined score required for a promotion.
// Default: [DefaultThreshold].
func WithThreshold(t float64) Option {
	return func(m *Matcher) {
		m.threshold = t
	}
}

// Matcher scores tokens and token windows against a candidate set.
// All methods are safe for concurrent use.
type Matcher struct {
	threshold float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{threshold: DefaultThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Threshold returns the configured acceptance threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match holds a successful candidate promotion.
type Match struct {
	// Canonical is the winning candidate in its original spelling.
	Canonical string

	// Score is the combined similarity score in [0, 1].
	Score float64
}

// Best returns the highest-scoring candidate for phrase, which may be a
// single token or a space-separated window. The boolean is false when no
// candidate reaches the threshold or every candidate is rejected by a guard.
//
// Ties resolve by higher score, then by longer candidate, then by
// lexicographic order of the candidate.
func (m *Matcher) Best(phrase string, candidates []string) (Match, bool) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" || len(candidates) == 0 {
		return Match{}, false
	}

	words := strings.Fields(phrase)

	var best Match
	found := false

	for _, cand := range candidates {
		score, ok := m.score(words, phrase, cand)
		if !ok {
			continue
		}
		if !found || better(Match{Canonical: cand, Score: score}, best) {
			best = Match{Canonical: cand, Score: score}
			found = true
		}
	}
	return best, found
}

// score computes the combined score of phrase against cand and reports
// whether the candidate is acceptable under the threshold and guards.
func (m *Matcher) score(words []string, phrase, cand string) (float64, bool) {
	candWords := strings.Fields(cand)

	var score float64
	if len(words) > 1 || len(candWords) > 1 {
		// The window must align with the full candidate: same word count,
		// word i scored against word i.
		if len(words) != len(candWords) {
			return 0, false
		}
		sum := 0.0
		for i := range words {
			ws := m.wordScore(words[i], candWords[i])
			if ws < perWordFloor {
				return 0, false
			}
			sum += ws
		}
		score = sum / float64(len(words))
		floor := bigramFloor
		if len(words) >= 3 {
			floor = trigramFloor
		}
		if score < floor {
			return 0, false
		}
	} else {
		score = m.wordScore(phrase, cand)
	}

	if score < m.threshold {
		return 0, false
	}
	if violatesMorphology(phrase, cand) {
		return 0, false
	}
	if !coreAgrees(phrase, cand) {
		return 0, false
	}
	return score, true
}

// wordScore computes the base Levenshtein score for a single word pair plus
// the gated Soundex bonus.
func (m *Matcher) wordScore(token, cand string) float64 {
	ft := fold.Key(token)
	fc := fold.Key(cand)
	if ft == "" || fc == "" {
		return 0
	}
	if ft == fc {
		return 1.0
	}

	maxLen := len([]rune(ft))
	if l := len([]rune(fc)); l > maxLen {
		maxLen = l
	}
	dist := matchr.Levenshtein(ft, fc)
	base := 1.0 - float64(dist)/float64(maxLen)
	if base < 0 {
		base = 0
	}

	if base >= m.threshold-soundexGateMargin && matchr.Soundex(ft) == matchr.Soundex(fc) {
		base += soundexBonus
		if base > 1.0 {
			base = 1.0
		}
	}
	return base
}

// better reports whether a should win over b under the tie-break rules.
func better(a, b Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.Canonical) != len(b.Canonical) {
		return len(a.Canonical) > len(b.Canonical)
	}
	return a.Canonical < b.Canonical
}

// violatesMorphology reports whether token carries an adjective ending that
// must not be rewritten to a Latin -um/-us noun.
func violatesMorphology(token, cand string) bool {
	ft := fold.Key(token)
	fc := fold.Key(cand)
	for _, ts := range guardedTokenSuffixes {
		if !strings.HasSuffix(ft, ts) {
			continue
		}
		for _, cs := range guardedCandidateSuffixes {
			if strings.HasSuffix(fc, cs) {
				return true
			}
		}
	}
	return false
}

// coreAgrees enforces the generic-prefix core check: when token or candidate
// starts with a generic prefix, the prefix is stripped from both sides and
// the remaining cores must agree on at least [minCoreAgreement] characters.
// Agreement is measured as max(len) minus the Levenshtein distance of the
// cores. Pairs without any generic prefix pass unconditionally — the whole
// word is the core and the base score already covers it.
func coreAgrees(token, cand string) bool {
	ft := fold.Key(token)
	fc := fold.Key(cand)

	coreT, strippedT := stripGenericPrefix(ft)
	coreC, strippedC := stripGenericPrefix(fc)
	if !strippedT && !strippedC {
		return true
	}

	lt := len([]rune(coreT))
	lc := len([]rune(coreC))
	maxLen := lt
	if lc > maxLen {
		maxLen = lc
	}
	if maxLen == 0 {
		return false
	}
	agreement := maxLen - matchr.Levenshtein(coreT, coreC)
	return agreement >= minCoreAgreement
}

// stripGenericPrefix removes one leading generic prefix (with an optional
// trailing hyphen) from s and reports whether anything was stripped.
func stripGenericPrefix(s string) (string, bool) {
	for _, p := range genericPrefixes {
		if rest, ok := strings.CutPrefix(s, p); ok && rest != "" {
			rest = strings.TrimPrefix(rest, "-")
			return rest, true
		}
	}
	return s, false
}
