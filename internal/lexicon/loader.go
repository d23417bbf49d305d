package lexicon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mondzorgtools/dictaat/internal/normalize/fold"
)

// ConfigMissingError reports a required configuration key that is absent
// from an explicitly provided configuration document.
type ConfigMissingError struct {
	// Key is the dotted path of the missing key.
	Key string
}

func (e *ConfigMissingError) Error() string {
	return "lexicon: missing required config key: " + e.Key
}

// abbrSuffix marks lexicon categories whose entries are abbreviations.
const abbrSuffix = "_abbr"

// Loader assembles [Snapshot] values from the document store.
// It is stateless and safe for concurrent use.
type Loader struct {
	store Store
}

// NewLoader returns a Loader backed by store.
func NewLoader(store Store) *Loader {
	return &Loader{store: store}
}

// ─── Document shapes ─────────────────────────────────────────────────────────

// lexiconDoc is the shape of the user and global lexicon documents.
type lexiconDoc struct {
	// Lexicon maps category name to canonical to accepted variants.
	Lexicon map[string]map[string][]string `json:"lexicon"`

	// CustomPatterns is an ordered list of regex rewrites.
	CustomPatterns []patternDoc `json:"custom_patterns"`
}

type patternDoc struct {
	Match   string `json:"match"`
	Replace string `json:"replace"`
}

// configDoc is the shape of the configuration document. Pointer fields
// distinguish "absent" from "explicitly empty" so that required keys can be
// reported as CONFIG_MISSING instead of silently defaulted.
type configDoc struct {
	VariantGeneration *struct {
		Enabled *bool `json:"enabled"`
	} `json:"variant_generation"`

	Phonetic *struct {
		Enabled   *bool    `json:"enabled"`
		Threshold *float64 `json:"threshold"`
	} `json:"phonetic"`

	Postprocess *struct {
		RemoveSentenceDots  *bool `json:"remove_sentence_dots"`
		CompactUnits        *bool `json:"compact_units"`
		DedupeElements      *bool `json:"dedupe_elements"`
		StripLeadingArticle *bool `json:"strip_leading_article"`
	} `json:"postprocess"`

	Normalization *struct {
		Separators        *[]string         `json:"separators"`
		ElementSeparators *[]string         `json:"element_separators"`
		DigitWords        map[string]string `json:"digit_words"`
		Protect           *bool             `json:"protect"`
		Preprocess        *bool             `json:"preprocess"`
		Elements          *bool             `json:"elements"`
		Patterns          *bool             `json:"patterns"`
		Hyphens           *bool             `json:"hyphens"`
		Diacritics        *bool             `json:"diacritics"`
	} `json:"normalization"`
}

// ─── Load ────────────────────────────────────────────────────────────────────

// Load reads the user's documents and builds an immutable [Snapshot].
//
// The global lexicon and protected-words documents are read from
// [GlobalUserID]; the lexicon and config documents are per-user with a
// fall-back to the global user. A completely absent config document yields
// the built-in defaults; an explicit config document that omits
// normalization.separators or normalization.element_separators fails with a
// [ConfigMissingError].
func (l *Loader) Load(ctx context.Context, userID string) (*Snapshot, error) {
	snap := &Snapshot{
		Canonicals:        make(map[string]struct{}),
		Variants:          make(map[string]string),
		Separators:        make(map[rune]struct{}),
		ElementSeparators: make(map[rune]struct{}),
		DigitWords:        make(map[string]string),
		PhoneticThreshold: DefaultPhoneticThreshold,
		Post: PostprocessFlags{
			RemoveSentenceDots:  true,
			CompactUnits:        true,
			DedupeElements:      true,
			StripLeadingArticle: true,
		},
		Stages: defaultStages(),
	}

	if err := l.applyConfig(ctx, userID, snap); err != nil {
		return nil, err
	}

	global, err := l.lexiconDocument(ctx, GlobalUserID, DocGlobalLexicon)
	if err != nil {
		return nil, err
	}
	user, err := l.lexiconDocument(ctx, userID, DocLexicon)
	if err != nil {
		return nil, err
	}

	// Main categories first so that abbreviation promotion can test against
	// the assembled canonical set.
	for _, doc := range []*lexiconDoc{global, user} {
		if doc == nil {
			continue
		}
		addMainCategories(snap, doc.Lexicon)
	}
	for _, doc := range []*lexiconDoc{global, user} {
		if doc == nil {
			continue
		}
		addAbbreviationCategories(snap, doc.Lexicon)
	}

	for _, doc := range []*lexiconDoc{global, user} {
		if doc == nil {
			continue
		}
		if err := appendPatterns(snap, doc.CustomPatterns); err != nil {
			return nil, err
		}
	}

	protected, err := l.protectedWords(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap.Protected = protected

	snap.finalize()
	return snap, nil
}

// applyConfig reads and applies the configuration document for userID.
func (l *Loader) applyConfig(ctx context.Context, userID string, snap *Snapshot) error {
	body, err := l.store.Document(ctx, userID, DocConfig)
	if errors.Is(err, ErrDocumentNotFound) {
		body, err = l.store.Document(ctx, GlobalUserID, DocConfig)
	}
	if errors.Is(err, ErrDocumentNotFound) {
		// No config at all: the documented defaults apply.
		addSeparators(snap.Separators, strings.Split(DefaultSeparators, ""))
		addSeparators(snap.ElementSeparators, strings.Split(DefaultSeparators, ""))
		for w, d := range defaultDigitWords {
			snap.DigitWords[w] = d
		}
		return nil
	}
	if err != nil {
		return err
	}

	var cfg configDoc
	if err := json.Unmarshal(body, &cfg); err != nil {
		return fmt.Errorf("lexicon: decode config for %q: %w", userID, err)
	}

	if cfg.Normalization == nil || cfg.Normalization.Separators == nil {
		return &ConfigMissingError{Key: "normalization.separators"}
	}
	if cfg.Normalization.ElementSeparators == nil {
		return &ConfigMissingError{Key: "normalization.element_separators"}
	}

	n := cfg.Normalization
	addSeparators(snap.Separators, *n.Separators)
	addSeparators(snap.ElementSeparators, *n.ElementSeparators)

	if len(n.DigitWords) > 0 {
		for w, d := range n.DigitWords {
			snap.DigitWords[fold.Key(w)] = d
		}
	} else {
		for w, d := range defaultDigitWords {
			snap.DigitWords[w] = d
		}
	}

	setBool(&snap.Stages.Protect, n.Protect)
	setBool(&snap.Stages.Preprocess, n.Preprocess)
	setBool(&snap.Stages.Elements, n.Elements)
	setBool(&snap.Stages.Patterns, n.Patterns)
	setBool(&snap.Stages.Hyphens, n.Hyphens)
	setBool(&snap.Stages.Diacritics, n.Diacritics)

	if cfg.VariantGeneration != nil {
		setBool(&snap.Stages.Variants, cfg.VariantGeneration.Enabled)
	}
	if cfg.Phonetic != nil {
		setBool(&snap.Stages.Phonetic, cfg.Phonetic.Enabled)
		if cfg.Phonetic.Threshold != nil {
			t := *cfg.Phonetic.Threshold
			if t < 0 || t > 1 {
				slog.Warn("phonetic threshold out of range, using default",
					"user_id", userID, "threshold", t)
			} else {
				snap.PhoneticThreshold = t
			}
		}
	}
	if cfg.Postprocess != nil {
		p := cfg.Postprocess
		setBool(&snap.Post.RemoveSentenceDots, p.RemoveSentenceDots)
		setBool(&snap.Post.CompactUnits, p.CompactUnits)
		setBool(&snap.Post.DedupeElements, p.DedupeElements)
		setBool(&snap.Post.StripLeadingArticle, p.StripLeadingArticle)
	}
	return nil
}

// lexiconDocument reads and decodes one lexicon document, returning nil when
// the document does not exist.
func (l *Loader) lexiconDocument(ctx context.Context, userID, name string) (*lexiconDoc, error) {
	body, err := l.store.Document(ctx, userID, name)
	if errors.Is(err, ErrDocumentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc lexiconDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("lexicon: decode %s for %q: %w", name, userID, err)
	}
	return &doc, nil
}

// protectedWords reads the flat protected-words list, preferring a per-user
// document over the global one. Both may be absent.
func (l *Loader) protectedWords(ctx context.Context, userID string) ([]string, error) {
	var words []string
	for _, uid := range []string{GlobalUserID, userID} {
		body, err := l.store.Document(ctx, uid, DocProtectedWords)
		if errors.Is(err, ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var list []string
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("lexicon: decode protected words for %q: %w", uid, err)
		}
		words = append(words, list...)
	}
	return words, nil
}

// ─── Assembly helpers ────────────────────────────────────────────────────────

// addMainCategories merges every non-abbreviation category into the snapshot:
// canonicals join the canonical set and every variant (plus the canonical
// itself) maps to the canonical under its folded key.
func addMainCategories(snap *Snapshot, categories map[string]map[string][]string) {
	for category, entries := range categories {
		if strings.HasSuffix(category, abbrSuffix) {
			continue
		}
		for canonical, variants := range entries {
			canonical = fold.NFC(strings.TrimSpace(canonical))
			if canonical == "" {
				continue
			}
			snap.Canonicals[canonical] = struct{}{}
			snap.Variants[fold.Key(canonical)] = canonical
			for _, v := range variants {
				if key := fold.Key(strings.TrimSpace(v)); key != "" {
					snap.Variants[key] = canonical
				}
			}
		}
	}
}

// addAbbreviationCategories merges the *_abbr categories: their variants
// always contribute to the variant map, but the abbreviation canonical is
// promoted into the canonical set only when it already exists there via a
// main category.
func addAbbreviationCategories(snap *Snapshot, categories map[string]map[string][]string) {
	for category, entries := range categories {
		if !strings.HasSuffix(category, abbrSuffix) {
			continue
		}
		for canonical, variants := range entries {
			canonical = fold.NFC(strings.TrimSpace(canonical))
			if canonical == "" {
				continue
			}
			for _, v := range variants {
				if key := fold.Key(strings.TrimSpace(v)); key != "" {
					snap.Variants[key] = canonical
				}
			}
			if _, promoted := snap.Canonicals[canonical]; promoted {
				snap.Variants[fold.Key(canonical)] = canonical
			}
		}
	}
}

// appendPatterns compiles and appends custom rewrite patterns in order.
// Patterns are compiled against accent-folded text, making the match
// accent-agnostic by construction.
func appendPatterns(snap *Snapshot, patterns []patternDoc) error {
	for i, p := range patterns {
		if strings.TrimSpace(p.Match) == "" {
			continue
		}
		re, err := regexp.Compile(fold.Strip(p.Match))
		if err != nil {
			return fmt.Errorf("lexicon: compile custom pattern %d (%q): %w", i, p.Match, err)
		}
		snap.Patterns = append(snap.Patterns, Pattern{Regex: re, Replacement: p.Replace})
	}
	return nil
}

func addSeparators(set map[rune]struct{}, seps []string) {
	for _, s := range seps {
		for _, r := range s {
			set[r] = struct{}{}
		}
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
