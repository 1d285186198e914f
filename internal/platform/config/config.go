package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultRedisPrefix        = "storefront"
	defaultCatalogTimeout     = 10 * time.Second
	defaultCatalogRPS         = 20
	defaultCatalogBurst       = 5
	defaultGatewayProvider    = "http"
	defaultGatewayTimeout     = 15 * time.Second
	defaultGatewayCurrency    = "NGN"
	defaultOrderIDAttempts    = 3
	defaultPollAttempts       = 10
	defaultPollInterval       = 3 * time.Second
	defaultCartTTL            = 30 * 24 * time.Hour
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultServiceRadiusKM    = 50
	defaultNotFoundPath       = "/not-found"
	defaultRouteCacheTTL      = 5 * time.Minute
	defaultEventsTopic        = "storefront-orders"
	defaultRateLimitDefault   = 120
	defaultRateLimitCheckout  = 30
	defaultRateLimitWebhook   = 60
	defaultSecurityEnv        = "local"
	defaultWebhookSigHeader   = "X-Paystack-Signature"
	defaultDeviceIDHeader     = "X-Device-ID"
	defaultServiceCenterLat   = 6.5244
	defaultServiceCenterLng   = 3.3792
	defaultRouteAllowListPath = "/,/cart,/checkout,/payment/return,/account,/addresses,/help,/categories,/not-found"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	Catalog     CatalogConfig
	Gateway     GatewayConfig
	Checkout    CheckoutConfig
	ServiceArea ServiceAreaConfig
	RouteGate   RouteGateConfig
	Events      EventsConfig
	RateLimits  RateLimitConfig
	CORS        CORSConfig
	Security    SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	DeviceIDHeader string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig points at the device storage backend. An empty Addr selects the in-memory store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// CatalogConfig locates the services catalog API.
type CatalogConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// GatewayConfig selects and configures the card payment gateway.
type GatewayConfig struct {
	Provider      string
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	CallbackURL   string
	StripeAPIKey  string
	SuccessURL    string
	CancelURL     string
	Currency      string
	Timeout       time.Duration
}

// CheckoutConfig tunes order submission and verification polling.
type CheckoutConfig struct {
	DeliveryFee     int
	OrderIDAttempts int
	PollAttempts    int
	PollInterval    time.Duration
	CartTTL         time.Duration
	IdempotencyTTL  time.Duration
}

// ServiceAreaConfig defines the circle inside which addresses are serviceable.
type ServiceAreaConfig struct {
	CenterLat float64
	CenterLng float64
	RadiusKM  float64
}

// RouteGateConfig configures page path gating.
type RouteGateConfig struct {
	AllowList    []string
	NotFoundPath string
	CacheTTL     time.Duration
	// UpstreamURL is the web tier that gated page requests are proxied to. Empty disables proxying.
	UpstreamURL string
}

// EventsConfig enables Pub/Sub order events.
type EventsConfig struct {
	Enabled   bool
	ProjectID string
	Topic     string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute  int
	CheckoutPerMinute int
	WebhookBurst      int
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig groups webhook and environment settings.
type SecurityConfig struct {
	Environment            string
	WebhookSignatureHeader string
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Gateway.SecretKey") as mandatory secrets.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := mergedValues(options)
	if err != nil {
		return Config{}, err
	}
	env := source(values)

	cfg := Config{
		Server: ServerConfig{
			Port:           env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:    env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			DeviceIDHeader: env.str("API_SERVER_DEVICE_ID_HEADER", defaultDeviceIDHeader),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:     env.str("API_REDIS_ADDR", ""),
			Password: env.str("API_REDIS_PASSWORD", ""),
			DB:       env.integer("API_REDIS_DB", 0),
			Prefix:   env.str("API_REDIS_PREFIX", defaultRedisPrefix),
		},
		Catalog: CatalogConfig{
			BaseURL:           env.str("API_CATALOG_BASE_URL", ""),
			Timeout:           env.duration("API_CATALOG_TIMEOUT", defaultCatalogTimeout),
			RequestsPerSecond: env.float("API_CATALOG_RPS", defaultCatalogRPS),
			Burst:             env.integer("API_CATALOG_BURST", defaultCatalogBurst),
		},
		Gateway: GatewayConfig{
			Provider:      strings.ToLower(env.str("API_GATEWAY_PROVIDER", defaultGatewayProvider)),
			BaseURL:       env.str("API_GATEWAY_BASE_URL", ""),
			SecretKey:     env.str("API_GATEWAY_SECRET_KEY", ""),
			WebhookSecret: env.str("API_GATEWAY_WEBHOOK_SECRET", ""),
			CallbackURL:   env.str("API_GATEWAY_CALLBACK_URL", ""),
			StripeAPIKey:  env.str("API_GATEWAY_STRIPE_API_KEY", ""),
			SuccessURL:    env.str("API_GATEWAY_SUCCESS_URL", ""),
			CancelURL:     env.str("API_GATEWAY_CANCEL_URL", ""),
			Currency:      env.str("API_GATEWAY_CURRENCY", defaultGatewayCurrency),
			Timeout:       env.duration("API_GATEWAY_TIMEOUT", defaultGatewayTimeout),
		},
		Checkout: CheckoutConfig{
			DeliveryFee:     env.integer("API_CHECKOUT_DELIVERY_FEE", 0),
			OrderIDAttempts: env.integer("API_CHECKOUT_ORDER_ID_ATTEMPTS", defaultOrderIDAttempts),
			PollAttempts:    env.integer("API_CHECKOUT_POLL_ATTEMPTS", defaultPollAttempts),
			PollInterval:    env.duration("API_CHECKOUT_POLL_INTERVAL", defaultPollInterval),
			CartTTL:         env.duration("API_CHECKOUT_CART_TTL", defaultCartTTL),
			IdempotencyTTL:  env.duration("API_CHECKOUT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		ServiceArea: ServiceAreaConfig{
			CenterLat: env.float("API_SERVICE_AREA_CENTER_LAT", defaultServiceCenterLat),
			CenterLng: env.float("API_SERVICE_AREA_CENTER_LNG", defaultServiceCenterLng),
			RadiusKM:  env.float("API_SERVICE_AREA_RADIUS_KM", defaultServiceRadiusKM),
		},
		RouteGate: RouteGateConfig{
			AllowList:    env.csv("API_ROUTEGATE_ALLOW_LIST", defaultRouteAllowListPath),
			NotFoundPath: env.str("API_ROUTEGATE_NOT_FOUND_PATH", defaultNotFoundPath),
			CacheTTL:     env.duration("API_ROUTEGATE_CACHE_TTL", defaultRouteCacheTTL),
			UpstreamURL:  env.str("API_ROUTEGATE_UPSTREAM_URL", ""),
		},
		Events: EventsConfig{
			Enabled:   env.boolean("API_EVENTS_ENABLED", false),
			ProjectID: env.str("API_EVENTS_PROJECT_ID", ""),
			Topic:     env.str("API_EVENTS_TOPIC", defaultEventsTopic),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:  env.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			CheckoutPerMinute: env.integer("API_RATELIMIT_CHECKOUT_PER_MIN", defaultRateLimitCheckout),
			WebhookBurst:      env.integer("API_RATELIMIT_WEBHOOK_BURST", defaultRateLimitWebhook),
		},
		CORS: CORSConfig{
			AllowedOrigins: env.csv("API_CORS_ALLOWED_ORIGINS", ""),
		},
		Security: SecurityConfig{
			Environment:            strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnv)),
			WebhookSignatureHeader: env.str("API_SECURITY_WEBHOOK_SIGNATURE_HEADER", defaultWebhookSigHeader),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Gateway.SecretKey", &cfg.Gateway.SecretKey},
		{"Gateway.WebhookSecret", &cfg.Gateway.WebhookSecret},
		{"Gateway.StripeAPIKey", &cfg.Gateway.StripeAPIKey},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(strings.TrimSpace(cfg.Server.DeviceIDHeader) != "", "Server.DeviceIDHeader")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(cfg.Catalog.BaseURL != "", "Catalog.BaseURL")
	require(cfg.Catalog.RequestsPerSecond > 0, "Catalog.RequestsPerSecond")

	switch cfg.Gateway.Provider {
	case "http":
		require(cfg.Gateway.BaseURL != "", "Gateway.BaseURL")
	case "stripe":
		require(cfg.Gateway.SuccessURL != "", "Gateway.SuccessURL")
	default:
		missing = append(missing, "Gateway.Provider")
	}

	require(cfg.Checkout.DeliveryFee >= 0, "Checkout.DeliveryFee")
	require(cfg.Checkout.OrderIDAttempts > 0, "Checkout.OrderIDAttempts")
	require(cfg.Checkout.PollAttempts > 0, "Checkout.PollAttempts")
	require(cfg.Checkout.PollInterval > 0, "Checkout.PollInterval")
	require(cfg.ServiceArea.RadiusKM > 0, "ServiceArea.RadiusKM")
	require(strings.HasPrefix(cfg.RouteGate.NotFoundPath, "/"), "RouteGate.NotFoundPath")
	if cfg.Events.Enabled {
		require(cfg.Events.Topic != "", "Events.Topic")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
