package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/anonymous-cmd-os/palmistry/internal/handlers"
	"github.com/anonymous-cmd-os/palmistry/internal/health"
	"github.com/anonymous-cmd-os/palmistry/internal/i18n"
	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/config"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/observability"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/secrets"
	"github.com/anonymous-cmd-os/palmistry/internal/session"
	"github.com/anonymous-cmd-os/palmistry/internal/view"
)

const secretHealthReference = "secret://system/healthz?version=latest"

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the web app and the JSON reading API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	startedAt := time.Now().UTC()

	logger, err := newLogger(opts)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx = observability.WithLogger(ctx, logger)

	cfg, fetcher, err := loadConfig(ctx, logger, opts)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	service, client, err := newReadingService(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}

	policy := session.RetryKeepInput
	if !cfg.Reading.RetryKeepsInput {
		policy = session.RetryClearInput
	}
	store := session.NewStore(
		session.WithIdleTTL(cfg.Session.IdleTTL),
		session.WithMachineOptions(
			session.WithRetryPolicy(policy),
			session.WithLogger(eventLogger(logger.Named("session"))),
		),
	)

	hashKey, blockKey := sessionKeys(cfg, logger)
	cookies, err := session.NewCookieManager(session.CookieConfig{
		CookieName:   cfg.Session.CookieName,
		HashKey:      hashKey,
		BlockKey:     blockKey,
		CookieSecure: cfg.Session.Secure,
	})
	if err != nil {
		return fmt.Errorf("initialise cookie manager: %w", err)
	}

	bundle, err := i18n.Default()
	if err != nil {
		return fmt.Errorf("load translations: %w", err)
	}
	renderer, err := view.New(bundle)
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}
	static, err := view.StaticFS()
	if err != nil {
		return fmt.Errorf("static assets: %w", err)
	}

	pages, err := handlers.NewPageHandlers(handlers.PageDeps{
		Store:         store,
		Cookies:       cookies,
		Revealer:      service,
		Renderer:      renderer,
		Bundle:        bundle,
		MaxImageBytes: cfg.Uploads.MaxImageBytes,
	})
	if err != nil {
		return fmt.Errorf("initialise page handlers: %w", err)
	}
	api := handlers.NewAPIHandlers(service, handlers.WithMaxImageBytes(cfg.Uploads.MaxImageBytes))

	build := health.BuildInfo{
		Version:     buildVersion(cfg),
		CommitSHA:   buildCommit(cfg),
		Environment: cfg.Security.Environment,
		StartedAt:   startedAt,
	}
	checker, err := health.NewChecker(dependencyChecks(client, fetcher))
	if err != nil {
		return fmt.Errorf("initialise health checks: %w", err)
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthReporter(checker),
	)

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithStaticFiles(static),
		handlers.WithPageRoutes(pages.Routes),
		handlers.WithAPIRoutes(api.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := httpLogger.With(zap.String("addr", server.Addr), zap.String("model", client.Model()))
	serveErr := make(chan error, 1)
	go func() {
		serverLogger.Info("mystic palm oracle listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			serverLogger.Error("http server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

// sessionKeys returns the configured cookie keys. Outside production a missing hash key is
// replaced by a random one, which invalidates visitor cookies on every restart.
func sessionKeys(cfg config.Config, logger *zap.Logger) ([]byte, []byte) {
	hashKey := []byte(cfg.Session.HashKey)
	blockKey := []byte(cfg.Session.BlockKey)
	if len(hashKey) == 0 {
		logger.Warn("session hash key not configured; using an ephemeral key",
			zap.String("environment", cfg.Security.Environment))
		hashKey = securecookie.GenerateRandomKey(32)
		if len(blockKey) == 0 {
			blockKey = securecookie.GenerateRandomKey(32)
		}
	}
	return hashKey, blockKey
}

func dependencyChecks(client *oracle.GenAIClient, fetcher *secrets.Fetcher) []health.DependencyCheck {
	checks := []health.DependencyCheck{{
		Name:    "gemini",
		Timeout: 3 * time.Second,
		Check:   client.Ping,
	}}
	if fetcher != nil && fetcher.Remote() {
		checks = append(checks, health.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				// bypass the cache so every check reaches Secret Manager
				fetcher.Invalidate(secretHealthReference)
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || errors.Is(err, secrets.ErrNotFound) {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return checks
}

func buildVersion(cfg config.Config) string {
	if version != "dev" {
		return version
	}
	return cfg.Build.Version
}

func buildCommit(cfg config.Config) string {
	if commit != "unknown" {
		return commit
	}
	return cfg.Build.CommitSHA
}
