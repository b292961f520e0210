package oracle

import "strings"

// Delimiter separates the English and Hindi halves of a bilingual value.
const Delimiter = " ||| "

const delimiterToken = "|||"

// Bilingual is model text of the form "English ||| Hindi". The Hindi half may be missing.
type Bilingual string

// Split returns the trimmed primary and secondary segments. Segments past the second are ignored.
func (b Bilingual) Split() (primary, secondary string) {
	parts := strings.SplitN(string(b), delimiterToken, 3)
	primary = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		secondary = strings.TrimSpace(parts[1])
	}
	return primary, secondary
}

// Primary returns the English segment.
func (b Bilingual) Primary() string {
	p, _ := b.Split()
	return p
}

// Secondary returns the Hindi segment or "".
func (b Bilingual) Secondary() string {
	_, s := b.Split()
	return s
}

// NewBilingual joins two segments with the canonical delimiter.
func NewBilingual(primary, secondary string) Bilingual {
	primary = strings.TrimSpace(primary)
	secondary = strings.TrimSpace(secondary)
	if secondary == "" {
		return Bilingual(primary)
	}
	return Bilingual(primary + Delimiter + secondary)
}
