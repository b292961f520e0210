package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey  contextKey = "github.com/anonymous-cmd-os/palmistry/internal/platform/requestctx/logger"
	traceContextKey   contextKey = "github.com/anonymous-cmd-os/palmistry/internal/platform/requestctx/trace"
	visitorContextKey contextKey = "github.com/anonymous-cmd-os/palmistry/internal/platform/requestctx/visitor"
	localeContextKey  contextKey = "github.com/anonymous-cmd-os/palmistry/internal/platform/requestctx/locale"
	fieldsContextKey  contextKey = "github.com/anonymous-cmd-os/palmistry/internal/platform/requestctx/fields"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	if !ok {
		return TraceInfo{}, false
	}
	return info, true
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, ok := Trace(ctx)
	if !ok {
		return ""
	}
	return info.TraceID
}

// WithVisitorID records the anonymous visitor identifier resolved from the session cookie.
func WithVisitorID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, visitorContextKey, id)
}

// VisitorID returns the visitor identifier or an empty string.
func VisitorID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(visitorContextKey).(string)
	return id
}

// WithLocale stores the negotiated UI language.
func WithLocale(ctx context.Context, lang string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, localeContextKey, lang)
}

// Locale returns the negotiated UI language or an empty string.
func Locale(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	lang, _ := ctx.Value(localeContextKey).(string)
	return lang
}

// Fields collects values that inner handlers learn about a request, such as the visitor id, so
// the outer request logger can attach them to the completion line.
type Fields struct {
	mu     sync.Mutex
	keys   []string
	values map[string]string
}

// WithFields installs an empty Fields collector on the context.
func WithFields(ctx context.Context) (context.Context, *Fields) {
	if ctx == nil {
		ctx = context.Background()
	}
	f := &Fields{values: make(map[string]string)}
	return context.WithValue(ctx, fieldsContextKey, f), f
}

// Annotate records key=value on the request's collector. It does nothing when none is installed.
func Annotate(ctx context.Context, key, value string) {
	if ctx == nil || key == "" {
		return
	}
	f, ok := ctx.Value(fieldsContextKey).(*Fields)
	if !ok || f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.values[key]; !seen {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Each calls fn for every recorded field in the order keys were first annotated.
func (f *Fields) Each(fn func(key, value string)) {
	if f == nil {
		return
	}
	f.mu.Lock()
	keys := append([]string(nil), f.keys...)
	values := make(map[string]string, len(f.values))
	for k, v := range f.values {
		values[k] = v
	}
	f.mu.Unlock()
	for _, k := range keys {
		fn(k, values[k])
	}
}
