// Package normalize implements the deterministic dental text-normalization
// pipeline.
//
// Raw transcripts from the ASR collaborator are rewritten into the canonical
// dental vocabulary of a [lexicon.Snapshot]: tooth element numbers, canonical
// Dutch terminology, and protected brand or acronym words. The rewrite is a
// pure function of its inputs — no I/O, no global state, no time dependence —
// and runs as an ordered sequence of stages:
//
//	S0    protected wrap        — sentinel-guard protected words
//	S0.5  unicode normalization — NFC, non-breaking spaces
//	S1    preprocessing         — separator spacing, whitespace
//	S2    element parsing       — tooth element numbers
//	S3    pattern replacement   — user regex rewrites, accent-agnostic
//	S4    variant generation    — variant → canonical lookup
//	S4.5  hyphen prepass        — split non-canonical hyphenations
//	S5    phonetic matching     — fuzzy promotion to canonicals
//	S5.5  diacritics restore    — unique folded forms regain accents
//	S6    postprocessing        — units, dedupe, articles, sentence dots
//	S7    protected unwrap      — strip sentinels
//
// Every stage skips substrings bounded by the protection sentinels, so a
// protected word survives the whole pipeline byte for byte. Each executed
// stage records its intermediate output in [Result.Debug].
package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mondzorgtools/dictaat/internal/lexicon"
	"github.com/mondzorgtools/dictaat/internal/normalize/fold"
	"github.com/mondzorgtools/dictaat/internal/normalize/phonetic"
)

// Protection sentinels. Both are Unicode private-use code points that are
// stripped before the result is returned; they never appear in
// [Result.NormalizedText].
const (
	sentinelOpen  = "\uFFF0"
	sentinelClose = "\uFFF1"

	// dotPlaceholder shields abbreviation and inter-digit dots during the S6
	// sentence-dot pass.
	dotPlaceholder = "\uFFF2"
)

// StageTrace records the output of one executed pipeline stage.
type StageTrace struct {
	Stage string `json:"stage"`
	Text  string `json:"text"`
}

// Result is the outcome of a [Normalize] call.
type Result struct {
	// NormalizedText is the canonical rewrite of the input.
	NormalizedText string `json:"normalized_text"`

	// Debug lists the intermediate text after each executed stage, in
	// execution order. Disabled stages are omitted.
	Debug []StageTrace `json:"debug"`

	// Language echoes the input language tag.
	Language string `json:"language"`
}

// Normalize rewrites text into the canonical vocabulary of snap.
//
// It fails only when snap lacks a separator or element-separator set; every
// other input produces a result, possibly equal to the input. The call is
// safe for concurrent use with a shared snapshot.
func Normalize(text, language string, snap *lexicon.Snapshot) (*Result, error) {
	if len(snap.Separators) == 0 {
		return nil, &lexicon.ConfigMissingError{Key: "normalization.separators"}
	}
	if len(snap.ElementSeparators) == 0 {
		return nil, &lexicon.ConfigMissingError{Key: "normalization.element_separators"}
	}

	res := &Result{Language: language}

	// Sentinels are reserved; scrub any that arrive in the input so the
	// no-leak invariant holds for arbitrary callers.
	s := strings.NewReplacer(sentinelOpen, "", sentinelClose, "", dotPlaceholder, "").Replace(text)

	run := func(stage string, enabled bool, fn func(string) string) {
		if !enabled {
			return
		}
		s = fn(s)
		res.Debug = append(res.Debug, StageTrace{Stage: stage, Text: s})
	}

	matcher := phonetic.New(phonetic.WithThreshold(snap.PhoneticThreshold))

	run("s0_protect", snap.Stages.Protect, func(t string) string { return wrapProtected(t, snap) })
	run("s0_5_unicode", true, stageUnicode)
	run("s1_preprocess", snap.Stages.Preprocess, func(t string) string { return stagePreprocess(t, snap) })
	run("s2_elements", snap.Stages.Elements, func(t string) string { return stageElements(t, snap) })
	run("s3_patterns", snap.Stages.Patterns, func(t string) string { return stagePatterns(t, snap) })
	run("s4_variants", snap.Stages.Variants, func(t string) string { return stageVariants(t, snap) })
	run("s4_5_hyphens", snap.Stages.Hyphens, func(t string) string { return stageHyphens(t, snap) })
	run("s5_phonetic", snap.Stages.Phonetic, func(t string) string { return stagePhonetic(t, snap, matcher) })
	run("s5_5_diacritics", snap.Stages.Diacritics, func(t string) string { return stageDiacritics(t, snap) })
	run("s6_postprocess", snap.Stages.Postproc, func(t string) string { return stagePostprocess(t, snap) })
	run("s7_unwrap", true, unwrapProtected)

	res.NormalizedText = s
	return res, nil
}

// ─── Protection (S0 / S7) ────────────────────────────────────────────────────

// wrapProtected wraps every protected-word occurrence in sentinels. Matching
// is case-insensitive on word boundaries; the wrapped text keeps its source
// casing. Longer words are wrapped first so that a shorter protected word
// never splits a longer one.
func wrapProtected(s string, snap *lexicon.Snapshot) string {
	words := make([]string, 0, len(snap.Protected))
	for _, w := range snap.Protected {
		if strings.TrimSpace(w) != "" {
			words = append(words, w)
		}
	}
	// Stable longest-first order.
	for i := 1; i < len(words); i++ {
		for j := i; j > 0 && len(words[j]) > len(words[j-1]); j-- {
			words[j], words[j-1] = words[j-1], words[j]
		}
	}

	for _, w := range words {
		re := protectedPattern(w)
		s = mapUnprotected(s, func(seg string) string {
			return re.ReplaceAllStringFunc(seg, func(m string) string {
				return sentinelOpen + m + sentinelClose
			})
		})
	}
	return s
}

// protectedPattern compiles the case-insensitive word-boundary pattern for a
// protected word. Boundary assertions are applied only next to word
// characters so that protected terms like "A2" or "e.max" still match.
func protectedPattern(w string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(w)
	first, _ := utf8.DecodeRuneInString(w)
	last, _ := utf8.DecodeLastRuneInString(w)
	if isWordRune(first) {
		quoted = `\b` + quoted
	}
	if isWordRune(last) {
		quoted = quoted + `\b`
	}
	return regexp.MustCompile(`(?i)` + quoted)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// unwrapProtected strips the sentinels, restoring the inner text verbatim.
func unwrapProtected(s string) string {
	return strings.NewReplacer(sentinelOpen, "", sentinelClose, "").Replace(s)
}

// ─── Unicode normalization (S0.5) ────────────────────────────────────────────

// stageUnicode applies NFC to the unprotected segments and converts
// non-breaking spaces to ordinary spaces.
func stageUnicode(s string) string {
	return mapUnprotected(s, func(seg string) string {
		seg = strings.ReplaceAll(seg, "\u00a0", " ")
		return fold.NFC(seg)
	})
}

// ─── Segment helpers ─────────────────────────────────────────────────────────

// mapUnprotected applies fn to every substring of s that lies outside a
// sentinel-bounded span. Protected spans (including their sentinels) are
// copied through untouched.
func mapUnprotected(s string, fn func(string) string) string {
	if !strings.Contains(s, sentinelOpen) {
		return fn(s)
	}

	var b strings.Builder
	b.Grow(len(s))
	rest := s
	for {
		open := strings.Index(rest, sentinelOpen)
		if open < 0 {
			b.WriteString(fn(rest))
			break
		}
		b.WriteString(fn(rest[:open]))

		closeRel := strings.Index(rest[open:], sentinelClose)
		if closeRel < 0 {
			// Unbalanced sentinel; copy the remainder verbatim.
			b.WriteString(rest[open:])
			break
		}
		end := open + closeRel + len(sentinelClose)
		b.WriteString(rest[open:end])
		rest = rest[end:]
	}
	return b.String()
}

// mapTokens applies fn to the whitespace-separated tokens of each line of
// seg, preserving leading and trailing whitespace of the segment so that
// boundaries against protected spans stay intact.
func mapTokens(seg string, fn func(tokens []string) []string) string {
	trimmedLeft := strings.TrimLeft(seg, " \t\r\n")
	lead := seg[:len(seg)-len(trimmedLeft)]
	core := strings.TrimRight(trimmedLeft, " \t\r\n")
	trail := trimmedLeft[len(core):]
	if core == "" {
		return seg
	}

	lines := strings.Split(core, "\n")
	for i, line := range lines {
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		lines[i] = strings.Join(fn(tokens), " ")
	}
	return lead + strings.Join(lines, "\n") + trail
}

// splitTrailingPunct splits tok into its core and a trailing run of
// punctuation characters.
func splitTrailingPunct(tok string) (core, punct string) {
	i := len(tok)
	for i > 0 {
		c := tok[i-1]
		switch c {
		case '.', ',', ';', ':', '!', '?', ')', ']', '}', '"', '\'':
			i--
		default:
			return tok[:i], tok[i:]
		}
	}
	return "", tok
}
