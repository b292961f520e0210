package handlers

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/anonymous-cmd-os/palmistry/internal/i18n"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/observability"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/requestctx"
	"github.com/anonymous-cmd-os/palmistry/internal/session"
)

const (
	csrfFormField  = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
	localeCookie   = "hl"
)

type ctxKey string

const (
	ctxKeyVisitor ctxKey = "visitor"
	ctxKeyIsHTMX  ctxKey = "is_htmx"
)

func withVisitor(ctx context.Context, v *session.Visitor) context.Context {
	return context.WithValue(ctx, ctxKeyVisitor, v)
}

func visitorFrom(ctx context.Context) *session.Visitor {
	v, _ := ctx.Value(ctxKeyVisitor).(*session.Visitor)
	return v
}

// isHTMX reports whether the request was issued by htmx.
func isHTMX(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeyIsHTMX).(bool)
	return v
}

// HTMX marks requests coming from htmx so handlers can adapt responses.
func HTMX(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is := r.Header.Get("HX-Request") == "true"
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyIsHTMX, is)))
	})
}

// Visitor loads the signed visitor cookie, exposes the visitor id to logging and persists the
// cookie just before the first byte of the response.
func Visitor(cookies *session.CookieManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visitor := cookies.Load(r)
			cookies.Touch(visitor)
			if _, err := visitor.EnsureCSRFToken(); err != nil {
				requestctx.Logger(r.Context()).Error("csrf token generation failed", zap.Error(err))
			}

			ctx := withVisitor(r.Context(), visitor)
			ctx = requestctx.WithVisitorID(ctx, visitor.ID())
			visitorID := observability.SanitizeVisitorID(visitor.ID())
			requestctx.Annotate(ctx, "visitor_id", visitorID)
			logger := observability.WithRequestFields(requestctx.Logger(ctx), zap.String("visitor_id", visitorID))
			ctx = requestctx.WithLogger(ctx, logger)

			cw := &cookieWriter{ResponseWriter: w}
			cw.persist = func() {
				if err := cookies.Save(w, visitor); err != nil {
					logger.Error("session cookie save failed", zap.Error(err))
				}
			}
			next.ServeHTTP(cw, r.WithContext(ctx))
			cw.once.Do(cw.persist)
		})
	}
}

// Locale resolves the UI language from ?hl=, the visitor cookie, the hl cookie or
// Accept-Language, in that order.
func Locale(bundle *i18n.Bundle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visitor := visitorFrom(r.Context())
			lang := ""
			if q := bundle.Normalize(r.URL.Query().Get("hl")); q != "" {
				lang = q
				http.SetCookie(w, &http.Cookie{Name: localeCookie, Value: q, Path: "/", SameSite: http.SameSiteLaxMode})
			} else if visitor != nil && bundle.IsSupported(visitor.Locale()) {
				lang = visitor.Locale()
			} else if c, err := r.Cookie(localeCookie); err == nil && bundle.Normalize(c.Value) != "" {
				lang = bundle.Normalize(c.Value)
			} else {
				lang = bundle.Resolve(r.Header.Get("Accept-Language"))
			}
			if visitor != nil {
				visitor.SetLocale(lang)
			}
			requestctx.Annotate(r.Context(), "locale", lang)
			w.Header().Add("Vary", "Accept-Language")
			next.ServeHTTP(w, r.WithContext(requestctx.WithLocale(r.Context(), lang)))
		})
	}
}

// cookieWriter runs persist once, before headers are sent.
type cookieWriter struct {
	http.ResponseWriter
	once    sync.Once
	persist func()
}

func (c *cookieWriter) WriteHeader(status int) {
	c.once.Do(c.persist)
	c.ResponseWriter.WriteHeader(status)
}

func (c *cookieWriter) Write(b []byte) (int, error) {
	c.once.Do(c.persist)
	return c.ResponseWriter.Write(b)
}

func (c *cookieWriter) Flush() {
	c.once.Do(c.persist)
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *cookieWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
