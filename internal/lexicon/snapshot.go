// Package lexicon loads per-user dental lexicon documents from the document
// store and assembles them into immutable [Snapshot] values consumed by the
// normalization pipeline.
//
// A snapshot bundles four documents: the user lexicon, the global lexicon,
// the protected-words list, and the pipeline configuration. Snapshots are
// read-only after construction; the [Cache] hands the same value to every
// concurrent request until it is invalidated.
package lexicon

import (
	"regexp"
	"slices"
	"strings"

	"github.com/mondzorgtools/dictaat/internal/normalize/fold"
)

// DefaultPhoneticThreshold is used when the configuration document does not
// pin a threshold.
const DefaultPhoneticThreshold = 0.84

// DefaultSeparators is the element-separator set used when the user has no
// configuration document at all.
const DefaultSeparators = "- ,;/"

// defaultDigitWords maps Dutch number words to digit strings. "een" is
// context-conditional and is resolved by the pipeline, not here.
var defaultDigitWords = map[string]string{
	"een":   "1",
	"twee":  "2",
	"drie":  "3",
	"vier":  "4",
	"vijf":  "5",
	"zes":   "6",
	"zeven": "7",
	"acht":  "8",
	"negen": "9",
}

// Pattern is a single custom rewrite rule. The regex is compiled against
// accent-folded text; see [Snapshot.Patterns].
type Pattern struct {
	// Regex matches on the accent-folded, case-preserving form of the text.
	Regex *regexp.Regexp

	// Replacement is substituted for each match. $1-style references refer
	// to capture groups of Regex.
	Replacement string
}

// PostprocessFlags enables the optional S6 cleanup passes.
type PostprocessFlags struct {
	RemoveSentenceDots  bool
	CompactUnits        bool
	DedupeElements      bool
	StripLeadingArticle bool
}

// StageSwitches enables or disables individual pipeline stages. The zero
// value disables everything; [defaultStages] turns everything on.
type StageSwitches struct {
	Protect    bool
	Preprocess bool
	Elements   bool
	Patterns   bool
	Variants   bool
	Hyphens    bool
	Phonetic   bool
	Diacritics bool
	Postproc   bool
}

func defaultStages() StageSwitches {
	return StageSwitches{
		Protect:    true,
		Preprocess: true,
		Elements:   true,
		Patterns:   true,
		Variants:   true,
		Hyphens:    true,
		Phonetic:   true,
		Diacritics: true,
		Postproc:   true,
	}
}

// Snapshot is the immutable lexicon + configuration bundle for one user.
// All maps and slices must be treated as read-only; mutations require
// building a new Snapshot through [Loader.Load].
type Snapshot struct {
	// Canonicals is the set of authoritative spellings, NFC-normalized.
	Canonicals map[string]struct{}

	// CanonicalList holds the canonicals in sorted order for deterministic
	// iteration during phonetic matching.
	CanonicalList []string

	// Variants maps fold.Key(variant) to its canonical spelling.
	Variants map[string]string

	// Patterns is the ordered custom rewrite sequence.
	Patterns []Pattern

	// Protected lists words preserved verbatim by the pipeline.
	Protected []string

	// Separators are the characters spaced out by the S1 preprocessing pass.
	Separators map[rune]struct{}

	// ElementSeparators are the characters accepted between two digits by
	// the S2 pair-form rule.
	ElementSeparators map[rune]struct{}

	// DigitWords maps Dutch number words to digit strings.
	DigitWords map[string]string

	// PhoneticThreshold is the S5 acceptance score in [0, 1].
	PhoneticThreshold float64

	// Post holds the S6 feature flags.
	Post PostprocessFlags

	// Stages holds the per-stage switches.
	Stages StageSwitches

	// Derived lookup structures, built once by finalize.
	maxVariantWords  int
	foldedCanonicals map[string][]string
	abbreviations    []string
}

// finalize computes the derived lookup structures. Called exactly once at
// the end of snapshot assembly.
func (s *Snapshot) finalize() {
	s.CanonicalList = make([]string, 0, len(s.Canonicals))
	for c := range s.Canonicals {
		s.CanonicalList = append(s.CanonicalList, c)
	}
	slices.Sort(s.CanonicalList)

	s.maxVariantWords = 1
	for v := range s.Variants {
		if n := len(strings.Fields(v)); n > s.maxVariantWords {
			s.maxVariantWords = n
		}
	}

	s.foldedCanonicals = make(map[string][]string, len(s.Canonicals))
	for _, c := range s.CanonicalList {
		key := fold.Key(c)
		s.foldedCanonicals[key] = append(s.foldedCanonicals[key], c)
	}

	for _, c := range s.CanonicalList {
		if strings.HasSuffix(c, ".") && len(c) > 1 {
			s.abbreviations = append(s.abbreviations, c)
		}
	}
}

// MaxVariantWords returns the word count of the longest variant key.
func (s *Snapshot) MaxVariantWords() int { return s.maxVariantWords }

// IsCanonical reports whether term is a canonical spelling.
func (s *Snapshot) IsCanonical(term string) bool {
	_, ok := s.Canonicals[term]
	return ok
}

// CanonicalsForFold returns every canonical whose folded form equals key.
func (s *Snapshot) CanonicalsForFold(key string) []string {
	return s.foldedCanonicals[key]
}

// Abbreviations returns the canonicals ending in a dot, sorted. These are
// shielded from the S6 sentence-dot removal.
func (s *Snapshot) Abbreviations() []string { return s.abbreviations }
