package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/homeservices-storefront/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	basePath     string
	middlewares  []func(http.Handler) http.Handler
	health       *HealthHandlers
	deviceHeader string
	corsOrigins  []string

	public   RouteRegistrar
	me       RouteRegistrar
	cart     RouteRegistrar
	checkout RouteRegistrar
	webhooks RouteRegistrar
	pages    http.Handler

	defaultLimiter  rateLimiter
	checkoutLimiter rateLimiter
	webhookLimiter  rateLimiter

	webhookMiddlewares []func(http.Handler) http.Handler
	pageMiddlewares    []func(http.Handler) http.Handler
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	rateLimitWindow   = time.Minute
	errorNotFoundCode = "route_not_found"
)

// NewRouter constructs the chi router with shared middleware and the storefront route groups.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath:     defaultAPIPrefix,
		deviceHeader: defaultDeviceHeader,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	if len(cfg.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", cfg.deviceHeader},
			ExposedHeaders:   []string{cfg.deviceHeader, "X-Idempotent-Replay", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		api.Route("/webhooks", func(group chi.Router) {
			group.Use(rateLimitMiddleware(cfg.webhookLimiter, remoteKey, rateLimitWindow))
			for _, mw := range cfg.webhookMiddlewares {
				if mw != nil {
					group.Use(mw)
				}
			}
			mountOrNotImplemented(group, cfg.webhooks, "webhooks")
		})

		api.Group(func(app chi.Router) {
			app.Use(DeviceMiddleware(cfg.deviceHeader))
			app.Use(rateLimitMiddleware(cfg.defaultLimiter, deviceKey, rateLimitWindow))

			app.Route("/public", func(group chi.Router) {
				mountOrNotImplemented(group, cfg.public, "public")
			})
			app.Route("/me", func(group chi.Router) {
				mountOrNotImplemented(group, cfg.me, "me")
			})
			app.Route("/checkout", func(group chi.Router) {
				group.Use(rateLimitMiddleware(cfg.checkoutLimiter, deviceKey, rateLimitWindow))
				mountOrNotImplemented(group, cfg.checkout, "checkout")
			})
			if cfg.cart != nil {
				cfg.cart(app)
			} else {
				registerNotImplementedRoute(app, "/cart", "cart")
				registerNotImplementedRoute(app, "/cart/*", "cart")
			}
		})
	})

	if cfg.pages != nil {
		var pages http.Handler = cfg.pages
		for i := len(cfg.pageMiddlewares) - 1; i >= 0; i-- {
			if mw := cfg.pageMiddlewares[i]; mw != nil {
				pages = mw(pages)
			}
		}
		r.Method(http.MethodGet, "/*", pages)
		r.Method(http.MethodHead, "/*", pages)
	}

	return r
}

func mountOrNotImplemented(group chi.Router, registrar RouteRegistrar, name string) {
	if registrar != nil {
		registrar(group)
		return
	}
	registerNotImplemented(group, name)
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithDeviceHeader names the header carrying the storefront device id.
func WithDeviceHeader(header string) Option {
	return func(cfg *routerConfig) {
		if header != "" {
			cfg.deviceHeader = header
		}
	}
}

// WithCORS allows browser calls from the listed origins.
func WithCORS(origins ...string) Option {
	return func(cfg *routerConfig) {
		for _, origin := range origins {
			if origin != "" {
				cfg.corsOrigins = append(cfg.corsOrigins, origin)
			}
		}
	}
}

// WithRateLimits throttles API calls per device, checkout calls more tightly, and webhook
// deliveries per source address. Zero disables a limit.
func WithRateLimits(defaultPerMinute, checkoutPerMinute, webhookBurst int) Option {
	return func(cfg *routerConfig) {
		cfg.defaultLimiter = newKeyedRateLimiter(defaultPerMinute, 0, nil)
		cfg.checkoutLimiter = newKeyedRateLimiter(checkoutPerMinute, 0, nil)
		cfg.webhookLimiter = newKeyedRateLimiter(webhookBurst, webhookBurst, nil)
	}
}

// WithPublicRoutes configures the registrar responsible for public endpoints.
func WithPublicRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.public = reg
	}
}

// WithMeRoutes configures the registrar responsible for user scoped endpoints.
func WithMeRoutes(reg ...RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.me = combineRegistrars(reg...)
	}
}

// WithCartRoutes configures the registrar responsible for cart endpoints. It is handed the API
// router so it can register both /cart and /cart:restore.
func WithCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.cart = reg
	}
}

// WithCheckoutRoutes configures the registrar responsible for checkout endpoints.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.checkout = reg
	}
}

// WithWebhookRoutes configures the registrar responsible for webhook endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.webhooks = reg
	}
}

// WithWebhookMiddlewares configures middlewares applied to the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.webhookMiddlewares = append(cfg.webhookMiddlewares, mw...)
	}
}

// WithPageHandler serves every non-API GET through handler, wrapped by mw in order.
func WithPageHandler(handler http.Handler, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.pages = handler
		cfg.pageMiddlewares = append(cfg.pageMiddlewares, mw...)
	}
}

func combineRegistrars(regs ...RouteRegistrar) RouteRegistrar {
	var kept []RouteRegistrar
	for _, reg := range regs {
		if reg != nil {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return func(r chi.Router) {
		for _, reg := range kept {
			reg(r)
		}
	}
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}

func registerNotImplementedRoute(r chi.Router, path string, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc(path, handler)
}
