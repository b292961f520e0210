package i18n

import (
    "embed"
    "fmt"
    "io/fs"
    "sort"
    "strings"

    "golang.org/x/text/language"
    "gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var embedded embed.FS

type Bundle struct {
    dict      map[string]map[string]string
    fallback  string
    supported map[string]struct{}
    matcher   language.Matcher
    tags      []string
}

// Default loads the embedded English and Hindi catalogs with English as fallback.
func Default() (*Bundle, error) {
    sub, err := fs.Sub(embedded, "locales")
    if err != nil {
        return nil, err
    }
    return Load(sub, "en", []string{"en", "hi"})
}

// Load reads <lang>.yaml for each supported language from fsys.
func Load(fsys fs.FS, fallback string, supported []string) (*Bundle, error) {
    b := &Bundle{
        dict:      map[string]map[string]string{},
        fallback:  fallback,
        supported: map[string]struct{}{},
    }
    if len(supported) == 0 {
        supported = []string{fallback}
    }
    // the matcher returns the first tag on no match, so the fallback leads
    ordered := append([]string{fallback}, supported...)
    tags := make([]language.Tag, 0, len(ordered))
    for _, l := range ordered {
        if _, seen := b.supported[l]; seen {
            continue
        }
        b.supported[l] = struct{}{}
        tags = append(tags, language.Make(l))
        b.tags = append(b.tags, l)

        raw, err := fs.ReadFile(fsys, l+".yaml")
        if err != nil {
            // allow missing file for non-default locales
            if l == fallback {
                return nil, fmt.Errorf("load locale %s: %w", l, err)
            }
            continue
        }
        var m map[string]string
        if err := yaml.Unmarshal(raw, &m); err != nil {
            return nil, fmt.Errorf("unmarshal %s: %w", l, err)
        }
        b.dict[l] = m
    }
    if _, ok := b.dict[fallback]; !ok {
        return nil, fmt.Errorf("fallback locale %s not loaded", fallback)
    }
    b.matcher = language.NewMatcher(tags)
    return b, nil
}

func (b *Bundle) Supported() []string {
    out := make([]string, 0, len(b.supported))
    for k := range b.supported {
        out = append(out, k)
    }
    sort.Strings(out)
    return out
}

// Fallback returns the configured fallback language.
func (b *Bundle) Fallback() string { return b.fallback }

// IsSupported reports whether lang has a catalog slot.
func (b *Bundle) IsSupported(lang string) bool {
    _, ok := b.supported[lang]
    return ok
}

// Normalize maps a user supplied code such as "HI" or "hi-IN" to a supported language, or "".
func (b *Bundle) Normalize(raw string) string {
    raw = strings.ToLower(strings.TrimSpace(raw))
    if raw == "" {
        return ""
    }
    if b.IsSupported(raw) {
        return raw
    }
    if base, _, ok := strings.Cut(raw, "-"); ok && b.IsSupported(base) {
        return base
    }
    return ""
}

// T returns translation for key in lang, falling back to default and finally key.
func (b *Bundle) T(lang, key string) string {
    if lang != "" {
        if m, ok := b.dict[lang]; ok {
            if v, ok := m[key]; ok {
                return v
            }
        }
    }
    if m, ok := b.dict[b.fallback]; ok {
        if v, ok := m[key]; ok {
            return v
        }
    }
    return key
}

// Tf formats the translation for key with args.
func (b *Bundle) Tf(lang, key string, args ...any) string {
    return fmt.Sprintf(b.T(lang, key), args...)
}

// Resolve chooses best language from Accept-Language header.
func (b *Bundle) Resolve(acceptLang string) string {
    prefs, _, err := language.ParseAcceptLanguage(acceptLang)
    if err != nil || len(prefs) == 0 {
        return b.fallback
    }
    _, idx, conf := b.matcher.Match(prefs...)
    if conf == language.No {
        return b.fallback
    }
    return b.tags[idx]
}
