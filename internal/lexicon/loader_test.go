package lexicon

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func putJSON(t *testing.T, store *MemStore, userID, name string, doc any) {
	t.Helper()
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal %s/%s: %v", userID, name, err)
	}
	store.Put(userID, name, body)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	store := NewMemStore()

	snap, err := NewLoader(store).Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, r := range DefaultSeparators {
		if _, ok := snap.Separators[r]; !ok {
			t.Errorf("default separator %q missing", r)
		}
		if _, ok := snap.ElementSeparators[r]; !ok {
			t.Errorf("default element separator %q missing", r)
		}
	}
	if snap.PhoneticThreshold != DefaultPhoneticThreshold {
		t.Errorf("threshold = %v, want %v", snap.PhoneticThreshold, DefaultPhoneticThreshold)
	}
	if got := snap.DigitWords["vier"]; got != "4" {
		t.Errorf("DigitWords[vier] = %q, want 4", got)
	}
	if !snap.Stages.Phonetic || !snap.Post.DedupeElements {
		t.Error("default switches not all on")
	}
}

func TestLoadConfigMissingSeparators(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	putJSON(t, store, "u1", DocConfig, map[string]any{
		"normalization": map[string]any{
			"element_separators": []string{";"},
		},
	})

	_, err := NewLoader(store).Load(context.Background(), "u1")
	var missing *ConfigMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want ConfigMissingError", err)
	}
	if missing.Key != "normalization.separators" {
		t.Errorf("key = %q, want normalization.separators", missing.Key)
	}
}

func TestLoadConfigMissingElementSeparators(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	putJSON(t, store, "u1", DocConfig, map[string]any{
		"normalization": map[string]any{
			"separators": []string{";"},
		},
	})

	_, err := NewLoader(store).Load(context.Background(), "u1")
	var missing *ConfigMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want ConfigMissingError", err)
	}
	if missing.Key != "normalization.element_separators" {
		t.Errorf("key = %q, want normalization.element_separators", missing.Key)
	}
}

func TestLoadUserConfigOverridesGlobal(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	putJSON(t, store, GlobalUserID, DocConfig, map[string]any{
		"normalization": map[string]any{
			"separators":         []string{";"},
			"element_separators": []string{";"},
		},
		"phonetic": map[string]any{"threshold": 0.9},
	})
	putJSON(t, store, "u1", DocConfig, map[string]any{
		"normalization": map[string]any{
			"separators":         []string{","},
			"element_separators": []string{","},
		},
		"phonetic": map[string]any{"threshold": 0.7},
	})

	snap, err := NewLoader(store).Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := snap.Separators[',']; !ok {
		t.Error("user separator missing")
	}
	if _, ok := snap.Separators[';']; ok {
		t.Error("global separator leaked into user config")
	}
	if snap.PhoneticThreshold != 0.7 {
		t.Errorf("threshold = %v, want user value 0.7", snap.PhoneticThreshold)
	}
}

func TestLoadMergesLexicons(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	putJSON(t, store, GlobalUserID, DocGlobalLexicon, map[string]any{
		"lexicon": map[string]any{
			"anatomie": map[string][]string{
				"occlusie": {"oclusie"},
			},
		},
	})
	putJSON(t, store, "u1", DocLexicon, map[string]any{
		"lexicon": map[string]any{
			"eigen": map[string][]string{
				"cariës": {"karies", "caries"},
			},
		},
		"custom_patterns": []map[string]string{
			{"match": `klasse (\d)`, "replace": "klasse-$1"},
		},
	})

	snap, err := NewLoader(store).Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !snap.IsCanonical("occlusie") || !snap.IsCanonical("cariës") {
		t.Errorf("canonicals = %v", snap.CanonicalList)
	}
	if got := snap.Variants["karies"]; got != "cariës" {
		t.Errorf("Variants[karies] = %q, want cariës", got)
	}
	// The canonical maps to itself for stable lookups.
	if got := snap.Variants["occlusie"]; got != "occlusie" {
		t.Errorf("Variants[occlusie] = %q", got)
	}
	if len(snap.Patterns) != 1 {
		t.Fatalf("patterns = %d, want 1", len(snap.Patterns))
	}
	if !snap.Patterns[0].Regex.MatchString("klasse 2") {
		t.Error("custom pattern does not match")
	}
}

func TestLoadAbbreviationPromotion(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	putJSON(t, store, GlobalUserID, DocGlobalLexicon, map[string]any{
		"lexicon": map[string]any{
			"algemeen": map[string][]string{
				"ca.": {},
			},
			"algemeen_abbr": map[string][]string{
				"ca.":  {"circa"},
				"bijv": {"bijvoorbeeld"},
			},
		},
	})

	snap, err := NewLoader(store).Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// "ca." exists in a main category, so its abbreviation entry is promoted.
	if got := snap.Variants["circa"]; got != "ca." {
		t.Errorf("Variants[circa] = %q, want ca.", got)
	}
	if !snap.IsCanonical("ca.") {
		t.Error("ca. not canonical")
	}
	// "bijv" has no main-category entry: variants bind, canonical does not.
	if got := snap.Variants["bijvoorbeeld"]; got != "bijv" {
		t.Errorf("Variants[bijvoorbeeld] = %q, want bijv", got)
	}
	if snap.IsCanonical("bijv") {
		t.Error("abbreviation-only canonical was promoted")
	}
	// Abbreviation shield list derives from canonicals ending in a dot.
	abbrs := snap.Abbreviations()
	if len(abbrs) != 1 || abbrs[0] != "ca." {
		t.Errorf("Abbreviations() = %v, want [ca.]", abbrs)
	}
}

func TestLoadProtectedWords(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	putJSON(t, store, GlobalUserID, DocProtectedWords, []string{"e.max"})
	putJSON(t, store, "u1", DocProtectedWords, []string{"NobelActive"})

	snap, err := NewLoader(store).Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Protected) != 2 || snap.Protected[0] != "e.max" || snap.Protected[1] != "NobelActive" {
		t.Errorf("Protected = %v", snap.Protected)
	}
}

func TestLoadBadPattern(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	putJSON(t, store, "u1", DocLexicon, map[string]any{
		"custom_patterns": []map[string]string{
			{"match": `(`, "replace": "x"},
		},
	})

	if _, err := NewLoader(store).Load(context.Background(), "u1"); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestCacheSharesAndInvalidates(t *testing.T) {
	t.Parallel()
	store := NewMemStore()
	cache := NewCache(NewLoader(store))
	ctx := context.Background()

	a, err := cache.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	b, err := cache.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if a != b {
		t.Error("second lookup rebuilt the snapshot")
	}

	cache.Invalidate("u1")
	c, err := cache.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if a == c {
		t.Error("invalidated snapshot was reused")
	}
}
