package normalize

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// inputWords is the vocabulary for generated transcripts: Dutch filler,
// dental context words, number words, digits, separators and units.
var inputWords = []string{
	"de", "het", "een", "en", "met", "op", "bij",
	"element", "tand", "kies", "molaar",
	"twee", "drie", "vier", "vijf", "zes", "zeven", "acht",
	"1", "2", "3", "4", "14", "26", "38", "47", "99",
	",", ";", "-", "/",
	"mm", "cm", "%",
	"restauratie", "kroon", "vulling", "occlusie", "karies", "circa",
	"e.max",
}

func transcriptGen() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		words := rapid.SliceOfN(rapid.SampledFrom(inputWords), 0, 12).Draw(t, "words")
		return strings.Join(words, " ")
	})
}

func TestNormalizeDeterministic(t *testing.T) {
	t.Parallel()
	snap := loadSnapshot(t, testDocs())

	rapid.Check(t, func(t *rapid.T) {
		in := transcriptGen().Draw(t, "in")
		a, err := Normalize(in, "nl", snap)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		b, err := Normalize(in, "nl", snap)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if a.NormalizedText != b.NormalizedText {
			t.Fatalf("non-deterministic: %q vs %q", a.NormalizedText, b.NormalizedText)
		}
	})
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()
	snap := loadSnapshot(t, testDocs())

	rapid.Check(t, func(t *rapid.T) {
		in := transcriptGen().Draw(t, "in")
		once, err := Normalize(in, "nl", snap)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		twice, err := Normalize(once.NormalizedText, "nl", snap)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", once.NormalizedText, err)
		}
		if twice.NormalizedText != once.NormalizedText {
			t.Fatalf("not idempotent on %q: %q then %q",
				in, once.NormalizedText, twice.NormalizedText)
		}
	})
}

func TestNormalizeNoSentinelLeak(t *testing.T) {
	t.Parallel()
	snap := loadSnapshot(t, testDocs())

	rapid.Check(t, func(t *rapid.T) {
		in := transcriptGen().Draw(t, "in")
		// Splice reserved code points into arbitrary positions.
		if rapid.Bool().Draw(t, "open") {
			in = sentinelOpen + in
		}
		if rapid.Bool().Draw(t, "close") {
			in += sentinelClose
		}
		if rapid.Bool().Draw(t, "dot") {
			in += dotPlaceholder
		}
		res, err := Normalize(in, "nl", snap)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if strings.ContainsAny(res.NormalizedText, sentinelOpen+sentinelClose+dotPlaceholder) {
			t.Fatalf("sentinel in output: %q", res.NormalizedText)
		}
	})
}

func TestNormalizeProtectedVerbatim(t *testing.T) {
	t.Parallel()
	snap := loadSnapshot(t, testDocs())

	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.SliceOfN(rapid.SampledFrom(inputWords), 0, 4).Draw(t, "prefix")
		suffix := rapid.SliceOfN(rapid.SampledFrom(inputWords), 0, 4).Draw(t, "suffix")
		in := strings.Join(append(append(prefix, "e.max"), suffix...), " ")

		res, err := Normalize(in, "nl", snap)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if !strings.Contains(res.NormalizedText, "e.max") {
			t.Fatalf("protected word lost: %q → %q", in, res.NormalizedText)
		}
	})
}

func TestNormalizeEmittedElementsValid(t *testing.T) {
	t.Parallel()
	snap := loadSnapshot(t, testDocs())

	// Inputs without the word "element", so every "element NN" in the output
	// was emitted by the parser and must satisfy the element constraint.
	words := make([]string, 0, len(inputWords))
	for _, w := range inputWords {
		if w != "element" {
			words = append(words, w)
		}
	}

	rapid.Check(t, func(t *rapid.T) {
		in := strings.Join(rapid.SliceOfN(rapid.SampledFrom(words), 0, 12).Draw(t, "words"), " ")
		res, err := Normalize(in, "nl", snap)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		tokens := strings.Fields(res.NormalizedText)
		for i, tok := range tokens {
			if tok != "element" || i+1 >= len(tokens) {
				continue
			}
			num, _ := splitTrailingPunct(tokens[i+1])
			if len(num) != 2 || !validElement(num[0], num[1]) {
				t.Fatalf("invalid element %q emitted for %q: %q", num, in, res.NormalizedText)
			}
		}
	})
}
