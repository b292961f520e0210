package i18n

import (
    "testing"
    "testing/fstest"
)

func TestResolveHonorsQValues(t *testing.T) {
    b, err := Default()
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    tests := map[string]string{
        "hi;q=0.8, en;q=0.9":   "en",
        "hi-IN,hi;q=0.9,en;q=0.5": "hi",
        "fr-FR":                "en",
        "":                     "en",
        "not a header;;;":      "en",
    }
    for header, want := range tests {
        if got := b.Resolve(header); got != want {
            t.Fatalf("Resolve(%q) = %s, want %s", header, got, want)
        }
    }
}

func TestTranslateFallsBack(t *testing.T) {
    fsys := fstest.MapFS{
        "en.yaml": {Data: []byte("greeting: Hello\nonly.en: English only\n")},
        "hi.yaml": {Data: []byte("greeting: नमस्ते\n")},
    }
    b, err := Load(fsys, "en", []string{"en", "hi"})
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    if got := b.T("hi", "greeting"); got != "नमस्ते" {
        t.Fatalf("expected hindi greeting, got %s", got)
    }
    if got := b.T("hi", "only.en"); got != "English only" {
        t.Fatalf("expected fallback text, got %s", got)
    }
    if got := b.T("hi", "missing.key"); got != "missing.key" {
        t.Fatalf("expected key echo, got %s", got)
    }
    if got := b.Supported(); len(got) != 2 || got[0] != "en" || got[1] != "hi" {
        t.Fatalf("unexpected supported list %v", got)
    }
}

func TestLoadRequiresFallbackCatalog(t *testing.T) {
    fsys := fstest.MapFS{"hi.yaml": {Data: []byte("greeting: नमस्ते\n")}}
    if _, err := Load(fsys, "en", []string{"en", "hi"}); err == nil {
        t.Fatal("expected error when fallback catalog is missing")
    }
}

func TestNormalize(t *testing.T) {
    b, err := Default()
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    for raw, want := range map[string]string{"HI": "hi", "hi-IN": "hi", " en ": "en", "ja": "", "": ""} {
        if got := b.Normalize(raw); got != want {
            t.Fatalf("Normalize(%q) = %q, want %q", raw, got, want)
        }
    }
}

func TestEmbeddedCatalogsShareKeys(t *testing.T) {
    b, err := Default()
    if err != nil {
        t.Fatalf("load: %v", err)
    }
    for key := range b.dict["en"] {
        if _, ok := b.dict["hi"][key]; !ok {
            t.Errorf("hi catalog missing %s", key)
        }
    }
    if got := b.Tf("en", "report.birth_date", "1990-08-15"); got != "Birth Date: 1990-08-15" {
        t.Fatalf("unexpected formatted text %q", got)
    }
}
