package testutil

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/anonymous-cmd-os/palmistry/internal/handlers"
	"github.com/anonymous-cmd-os/palmistry/internal/i18n"
	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/observability"
	"github.com/anonymous-cmd-os/palmistry/internal/session"
	"github.com/anonymous-cmd-os/palmistry/internal/view"
)

// Revealer serves both the page flow and the JSON API.
type Revealer interface {
	oracle.Revealer
	handlers.EncodedRevealer
}

// ServerConfig holds the collaborators wired into a test server.
type ServerConfig struct {
	Revealer      Revealer
	Logger        *zap.Logger
	MaxImageBytes int64
	RetryPolicy   session.RetryPolicy
	Clock         func() time.Time
	Store         *session.Store
}

// ServerOption customises the HTTP server configuration for tests.
type ServerOption func(*ServerConfig)

// WithRevealer wires a custom reading implementation.
func WithRevealer(r Revealer) ServerOption {
	return func(cfg *ServerConfig) {
		cfg.Revealer = r
	}
}

// WithLogger routes request logs to logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(cfg *ServerConfig) {
		cfg.Logger = logger
	}
}

// WithMaxImageBytes lowers the upload limit.
func WithMaxImageBytes(n int64) ServerOption {
	return func(cfg *ServerConfig) {
		cfg.MaxImageBytes = n
	}
}

// WithRetryPolicy selects how "Try Again" treats previous input.
func WithRetryPolicy(p session.RetryPolicy) ServerOption {
	return func(cfg *ServerConfig) {
		cfg.RetryPolicy = p
	}
}

// WithClock fixes the clock used for rendering.
func WithClock(clock func() time.Time) ServerOption {
	return func(cfg *ServerConfig) {
		cfg.Clock = clock
	}
}

// WithStore shares a session store with the test.
func WithStore(store *session.Store) ServerOption {
	return func(cfg *ServerConfig) {
		cfg.Store = store
	}
}

// NewServer constructs an httptest server running the full HTTP stack with sensible defaults.
func NewServer(t testing.TB, opts ...ServerOption) *httptest.Server {
	t.Helper()

	cfg := ServerConfig{
		Revealer:      StaticRevealer{},
		Logger:        zap.NewNop(),
		MaxImageBytes: 1 << 20,
		Clock:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Store == nil {
		cfg.Store = session.NewStore(session.WithMachineOptions(session.WithRetryPolicy(cfg.RetryPolicy)))
	}

	bundle, err := i18n.Default()
	if err != nil {
		t.Fatalf("load i18n: %v", err)
	}
	renderer, err := view.New(bundle, view.WithClock(cfg.Clock))
	if err != nil {
		t.Fatalf("parse views: %v", err)
	}
	cookies, err := session.NewCookieManager(session.CookieConfig{
		CookieName: "oracle_session",
		HashKey:    []byte("0123456789abcdef0123456789abcdef"),
		BlockKey:   []byte("fedcba9876543210fedcba9876543210"),
	})
	if err != nil {
		t.Fatalf("cookie manager: %v", err)
	}
	pages, err := handlers.NewPageHandlers(handlers.PageDeps{
		Store:         cfg.Store,
		Cookies:       cookies,
		Revealer:      cfg.Revealer,
		Renderer:      renderer,
		Bundle:        bundle,
		MaxImageBytes: cfg.MaxImageBytes,
	})
	if err != nil {
		t.Fatalf("page handlers: %v", err)
	}
	static, err := view.StaticFS()
	if err != nil {
		t.Fatalf("static fs: %v", err)
	}
	api := handlers.NewAPIHandlers(cfg.Revealer, handlers.WithMaxImageBytes(cfg.MaxImageBytes))

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(cfg.Logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(cfg.Logger),
		),
		handlers.WithStaticFiles(static),
		handlers.WithPageRoutes(pages.Routes),
		handlers.WithAPIRoutes(api.Routes),
	)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

// NewClient returns a client for ts that keeps cookies between requests.
func NewClient(t testing.TB, ts *httptest.Server) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := ts.Client()
	client.Jar = jar
	return client
}

// StaticRevealer always returns the same reading.
type StaticRevealer struct {
	Result oracle.Result
	Err    error
}

func (s StaticRevealer) Reveal(context.Context, oracle.Submission) (oracle.Reading, error) {
	return s.reading()
}

func (s StaticRevealer) RevealEncoded(context.Context, string, oracle.EncodedImage, oracle.EncodedImage) (oracle.Reading, error) {
	return s.reading()
}

func (s StaticRevealer) reading() (oracle.Reading, error) {
	if s.Err != nil {
		return oracle.Reading{}, s.Err
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return oracle.Reading{ID: "rdg_static", Result: s.Result, StartedAt: now, CompletedAt: now}, nil
}
