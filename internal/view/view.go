package view

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/anonymous-cmd-os/palmistry/internal/i18n"
	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
	"github.com/anonymous-cmd-os/palmistry/internal/session"
)

// Page is the data for one full page render.
type Page struct {
	Lang      string
	CSRFToken string
	Snapshot  session.Snapshot
	// Missing lists form fields still required after a submission attempt.
	Missing []string
	// Notice is a translation key shown above the form.
	Notice string
}

// Renderer executes the embedded layout for a visitor's state.
type Renderer struct {
	tmpl   *template.Template
	bundle *i18n.Bundle
	text   *textRenderer
	now    func() time.Time
}

// Option customises a Renderer.
type Option func(*Renderer)

// WithClock overrides the time source used for the footer year.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		if now != nil {
			r.now = now
		}
	}
}

// New parses the embedded templates.
func New(bundle *i18n.Bundle, opts ...Option) (*Renderer, error) {
	if bundle == nil {
		return nil, errors.New("view: i18n bundle is required")
	}
	r := &Renderer{
		bundle: bundle,
		text:   newTextRenderer(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	funcMap := template.FuncMap{
		"t":         bundle.T,
		"tf":        bundle.Tf,
		"bilingual": r.text.Bilingual,
		"year":      func() int { return r.now().Year() },
		"otherLang": r.otherLang,
		"missing":   contains,
		"errorText": r.errorText,
		"dict":      dict,
	}
	tmpl, err := template.New("_root").Funcs(funcMap).ParseFS(templates, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("view: parse templates: %w", err)
	}
	r.tmpl = tmpl
	return r, nil
}

// Render writes the base layout with status. The page is buffered so a template error never
// leaves a half-written response.
func (r *Renderer) Render(w http.ResponseWriter, status int, page Page) error {
	if page.Lang == "" {
		page.Lang = r.bundle.Fallback()
	}
	if page.Snapshot.State.Phase == "" {
		page.Snapshot.State.Phase = session.PhaseIdle
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "base", page); err != nil {
		return fmt.Errorf("view: render: %w", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Language", page.Lang)
	if page.Snapshot.State.Phase == session.PhaseAnalyzing {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func (r *Renderer) otherLang(lang string) string {
	for _, l := range r.bundle.Supported() {
		if l != lang {
			return l
		}
	}
	return lang
}

// errorText localises the stored failure message when it is the generic one.
func (r *Renderer) errorText(lang, message string) string {
	if message == "" || message == oracle.GenericFailureMessage {
		return r.bundle.T(lang, "error.message")
	}
	return message
}

func dict(pairs ...any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, errors.New("view: dict needs key/value pairs")
	}
	out := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("view: dict key %v is not a string", pairs[i])
		}
		out[key] = pairs[i+1]
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
