package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/anonymous-cmd-os/palmistry/internal/oracle"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/config"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/observability"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/requestctx"
	"github.com/anonymous-cmd-os/palmistry/internal/platform/secrets"
)

func newLogger(opts *rootOptions) (*zap.Logger, error) {
	if strings.TrimSpace(opts.logLevel) != "" {
		return observability.NewLoggerWithLevel(opts.logLevel)
	}
	return observability.NewLogger()
}

// loadConfig resolves the environment, builds the secret fetcher and loads the configuration.
// The caller owns the returned fetcher.
func loadConfig(ctx context.Context, logger *zap.Logger, opts *rootOptions) (config.Config, *secrets.Fetcher, error) {
	envOpts := []config.Option{config.WithEnvFile(opts.envFile)}

	envValues, err := config.EnvironmentValues(envOpts...)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("read environment values: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("initialise secret fetcher: %w", err)
	}

	cfg, err := config.Load(ctx, append(envOpts,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)...)
	if err != nil {
		_ = fetcher.Close()
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, fetcher, nil
}

func newReadingService(ctx context.Context, cfg config.Config, logger *zap.Logger) (*oracle.Service, *oracle.GenAIClient, error) {
	client, err := oracle.NewGenAIClient(ctx, cfg.Oracle.APIKey, oracle.WithModel(cfg.Oracle.Model))
	if err != nil {
		return nil, nil, fmt.Errorf("initialise gemini client: %w", err)
	}
	service, err := oracle.NewService(oracle.ServiceDeps{
		Client: client,
		Logger: eventLogger(logger.Named("oracle")),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialise reading service: %w", err)
	}
	return service, client, nil
}

// eventLogger adapts zap to the event logger used by service deps.
func eventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		// request-scoped loggers carry trace and visitor fields
		target := logger
		if ctxLogger := observability.FromContext(ctx); ctxLogger != requestctx.NoopLogger() {
			target = ctxLogger.Named(logger.Name())
		}
		target.Info(event, zFields...)
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("ORACLE_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	fallbackPath := lookup("ORACLE_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("ORACLE_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		lowered := make(map[string]string, len(projectMap))
		for k, v := range projectMap {
			lowered[strings.ToLower(k)] = v
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if project := lookup("ORACLE_SECRET_DEFAULT_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if pins := secretVersionPins(lookup("ORACLE_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("ORACLE_SECRET_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	if !hasSecretReference(env) {
		// nothing to resolve remotely, skip dialling Secret Manager
		opts = append(opts, secrets.WithoutSecretManager())
	}

	return secrets.NewFetcher(ctx, opts...)
}

func hasSecretReference(env map[string]string) bool {
	for _, key := range []string{"ORACLE_GEMINI_API_KEY", "ORACLE_SESSION_HASH_KEY", "ORACLE_SESSION_BLOCK_KEY"} {
		value := strings.TrimSpace(env[key])
		if strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://") {
			return true
		}
	}
	return false
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{"Oracle.APIKey"}
	switch strings.ToLower(strings.TrimSpace(env["ORACLE_SECURITY_ENVIRONMENT"])) {
	case "prod", "production":
		required = append(required, "Session.HashKey")
	}
	return required
}

// secretVersionPins parses "ref=version" pairs, normalising refs to secret:// form.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
