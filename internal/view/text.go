package view

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
)

// Bilingual is one model value prepared for the page.
type Bilingual struct {
	Primary   template.HTML
	Secondary template.HTML
}

// HasSecondary reports whether the secondary segment should be rendered.
func (b Bilingual) HasSecondary() bool { return b.Secondary != "" }

// textRenderer turns untrusted model text into safe inline HTML. Light markdown emphasis is
// honoured, anything else is escaped or stripped.
type textRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func newTextRenderer() *textRenderer {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	return &textRenderer{
		md:     goldmark.New(),
		policy: policy,
	}
}

// Inline renders s as sanitised inline HTML.
func (r *textRenderer) Inline(s string) template.HTML {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(s), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(s))
	}
	out := strings.TrimSpace(buf.String())
	// a single paragraph is unwrapped so the caller controls the block element
	if strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") && strings.Count(out, "<p>") == 1 {
		out = strings.TrimSuffix(strings.TrimPrefix(out, "<p>"), "</p>")
	}
	return template.HTML(r.policy.Sanitize(out))
}

// Bilingual splits a model value and renders both halves.
func (r *textRenderer) Bilingual(value oracle.Bilingual) Bilingual {
	primary, secondary := value.Split()
	return Bilingual{
		Primary:   r.Inline(primary),
		Secondary: r.Inline(secondary),
	}
}
