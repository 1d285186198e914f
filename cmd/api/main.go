package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/homeservices-storefront/api/internal/di"
	"github.com/homeservices-storefront/api/internal/handlers"
	"github.com/homeservices-storefront/api/internal/platform/auth"
	"github.com/homeservices-storefront/api/internal/platform/config"
	"github.com/homeservices-storefront/api/internal/platform/idempotency"
	"github.com/homeservices-storefront/api/internal/platform/observability"
	"github.com/homeservices-storefront/api/internal/platform/secrets"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	backends, err := newBackends(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise backends", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, backends, di.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase auth", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier, auth.WithUserGetter(verifier))

	router, err := newRouter(cfg, container, authenticator, buildInfoFromEnv(envValues, cfg, startedAt), logger)
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newRouter(cfg config.Config, container *di.Container, authenticator *auth.Authenticator, build handlers.BuildInfo, logger *zap.Logger) (http.Handler, error) {
	svc := container.Services

	idempotent := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithOptionalKey(),
		idempotency.WithTTL(cfg.Checkout.IdempotencyTTL),
	)

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthReadiness(container.Readiness),
	)
	public := handlers.NewPublicHandlers(container.Catalog(), container.Gate)
	cart := handlers.NewCartHandlers(authenticator, svc.Cart, svc.Orders, handlers.WithCartCatalog(container.Catalog()))
	addresses := handlers.NewAddressHandlers(authenticator, svc.Addresses)
	profile := handlers.NewProfileHandlers(authenticator, svc.Profiles)
	checkout := handlers.NewCheckoutHandlers(authenticator, svc.Checkout, svc.Addresses,
		handlers.WithCallbackURL(cfg.Gateway.CallbackURL),
		handlers.WithCheckoutMiddlewares(idempotent),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithDeviceHeader(cfg.Server.DeviceIDHeader),
		handlers.WithCORS(cfg.CORS.AllowedOrigins...),
		handlers.WithRateLimits(cfg.RateLimits.DefaultPerMinute, cfg.RateLimits.CheckoutPerMinute, cfg.RateLimits.WebhookBurst),
		handlers.WithPublicRoutes(public.Routes),
		handlers.WithCartRoutes(cart.Routes),
		handlers.WithMeRoutes(addresses.Routes, profile.Routes),
		handlers.WithCheckoutRoutes(checkout.Routes),
	}

	if secret := strings.TrimSpace(cfg.Gateway.WebhookSecret); secret != "" && svc.Checkout != nil {
		validator := auth.NewHMACValidator(secret, auth.WithSignatureHeader(cfg.Security.WebhookSignatureHeader))
		webhooks := handlers.NewWebhookHandlers(svc.Checkout)
		opts = append(opts,
			handlers.WithWebhookMiddlewares(validator.RequireSignature()),
			handlers.WithWebhookRoutes(webhooks.Routes),
		)
	} else {
		logger.Warn("gateway webhook secret not configured; webhooks disabled")
	}

	if upstream := strings.TrimSpace(cfg.RouteGate.UpstreamURL); upstream != "" {
		proxy, err := handlers.NewPageProxy(upstream)
		if err != nil {
			return nil, err
		}
		opts = append(opts, handlers.WithPageHandler(proxy, container.Gate.Middleware))
	}

	return handlers.NewRouter(opts...), nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	} else {
		opts = append(opts, secrets.WithoutSecretManager())
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the selected gateway cannot run without. Webhook
// signing is only enforced outside local development.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	switch strings.ToLower(strings.TrimSpace(env["API_GATEWAY_PROVIDER"])) {
	case "stripe":
		required = append(required, "Gateway.StripeAPIKey")
	default:
		required = append(required, "Gateway.SecretKey")
	}

	environment := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	if environment != "" && environment != "local" {
		required = append(required, "Gateway.WebhookSecret")
	}
	if strings.TrimSpace(env["API_REDIS_ADDR"]) != "" && strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	return required
}
