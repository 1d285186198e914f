package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/homeservices-storefront/api/internal/handlers"
	"github.com/homeservices-storefront/api/internal/platform/config"
	"github.com/homeservices-storefront/api/internal/platform/idempotency"
	"github.com/homeservices-storefront/api/internal/platform/kvstore"
	"github.com/homeservices-storefront/api/internal/platform/observability"
	"github.com/homeservices-storefront/api/internal/repositories"
	"github.com/homeservices-storefront/api/internal/repositories/kv"
	"github.com/homeservices-storefront/api/internal/routegate"
	"github.com/homeservices-storefront/api/internal/services"
)

// Catalog is what the container needs from the services catalog client.
type Catalog interface {
	handlers.CatalogReader
	routegate.ExistenceChecker
}

// Backends carries the externally dialled clients. main builds them from configuration; tests
// pass in-memory stand-ins.
type Backends struct {
	KV        kvstore.Store
	Addresses repositories.AddressRepository
	Orders    repositories.OrderRepository
	Profiles  repositories.ProfileRepository
	Catalog   Catalog
	Payments  services.PaymentGateway
	Events    services.EventPublisher
	Probes    []repositories.Probe
	Closers   []func(context.Context) error
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart      services.CartService
	Addresses services.AddressService
	Orders    services.OrderSubmitter
	Profiles  services.ProfileService
	Checkout  services.CheckoutService
}

// Container wires repositories, services and supporting infrastructure for runtime use.
type Container struct {
	Config      config.Config
	Services    Services
	Gate        *routegate.Gate
	Idempotency idempotency.Store
	Readiness   repositories.ReadinessRepository

	catalog Catalog
	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger *zap.Logger
	clock  func() time.Time
	random func(n int) int
}

// WithLogger sets the base logger each service derives its event logger from.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the clock handed to every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRandom overrides the order id generator's randomness source.
func WithRandom(random func(n int) int) Option {
	return func(o *containerOptions) {
		o.random = random
	}
}

// NewContainer constructs the runtime dependencies on top of backends.
func NewContainer(ctx context.Context, cfg config.Config, backends Backends, opts ...Option) (*Container, error) {
	options := containerOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if backends.KV == nil {
		return nil, errors.New("di: kv store is required")
	}
	if backends.Catalog == nil {
		return nil, errors.New("di: catalog is required")
	}

	svc, err := buildServices(cfg, backends, options)
	if err != nil {
		return nil, err
	}

	existence, err := kv.NewExistenceCache(backends.KV)
	if err != nil {
		return nil, err
	}
	gate, err := routegate.New(backends.Catalog, routegate.Config{
		AllowList:    cfg.RouteGate.AllowList,
		NotFoundPath: cfg.RouteGate.NotFoundPath,
		CacheTTL:     cfg.RouteGate.CacheTTL,
		Cache:        existence,
		Logger:       options.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("di: route gate: %w", err)
	}

	idem, err := idempotency.NewKVStore(backends.KV)
	if err != nil {
		return nil, err
	}

	probes := append([]repositories.Probe{{Name: "kv", Check: backends.KV.Ping}}, backends.Probes...)
	readiness, err := repositories.NewReadinessRepository(probes, repositories.WithProbeClock(options.clock))
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:      cfg,
		Services:    svc,
		Gate:        gate,
		Idempotency: idem,
		Readiness:   readiness,
		catalog:     backends.Catalog,
		closers:     backends.Closers,
	}, nil
}

// Catalog returns the catalog reader used by the public handlers.
func (c *Container) Catalog() handlers.CatalogReader {
	if c == nil {
		return nil
	}
	return c.catalog
}

// Close releases backend clients in reverse registration order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if c.closers[i] == nil {
			continue
		}
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(cfg config.Config, backends Backends, options containerOptions) (Services, error) {
	var svc Services
	logger := options.logger

	cartState, err := kv.NewCartStateRepository(backends.KV, cfg.Checkout.CartTTL)
	if err != nil {
		return svc, err
	}
	svc.Cart, err = services.NewCartService(services.CartServiceDeps{
		Repository: cartState,
		Clock:      options.clock,
		Logger:     observability.EventLogger(logger, "cart"),
	})
	if err != nil {
		return svc, fmt.Errorf("di: cart service: %w", err)
	}

	if backends.Addresses != nil {
		// The slot holds the active address until it changes; it carries no expiry.
		cache, err := kv.NewAddressCache(backends.KV, 0)
		if err != nil {
			return svc, err
		}
		svc.Addresses, err = services.NewAddressService(services.AddressServiceDeps{
			Remote: backends.Addresses,
			Cache:  cache,
			ServiceArea: services.ServiceArea{
				CenterLat: cfg.ServiceArea.CenterLat,
				CenterLng: cfg.ServiceArea.CenterLng,
				RadiusKM:  cfg.ServiceArea.RadiusKM,
			},
			Clock:  options.clock,
			Logger: observability.EventLogger(logger, "addresses"),
		})
		if err != nil {
			return svc, fmt.Errorf("di: address service: %w", err)
		}
	}

	if backends.Profiles != nil {
		svc.Profiles, err = services.NewProfileService(services.ProfileServiceDeps{
			Profiles: backends.Profiles,
			Clock:    options.clock,
			Logger:   observability.EventLogger(logger, "profiles"),
		})
		if err != nil {
			return svc, fmt.Errorf("di: profile service: %w", err)
		}
	}

	if backends.Orders != nil {
		svc.Orders, err = services.NewOrderSubmitter(services.OrderSubmissionDeps{
			Orders:      backends.Orders,
			Events:      backends.Events,
			Random:      options.random,
			MaxAttempts: cfg.Checkout.OrderIDAttempts,
			Clock:       options.clock,
			Logger:      observability.EventLogger(logger, "orders"),
		})
		if err != nil {
			return svc, fmt.Errorf("di: order submitter: %w", err)
		}
	}

	if svc.Orders != nil && backends.Payments != nil {
		svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
			Carts:        svc.Cart,
			Orders:       svc.Orders,
			Payments:     backends.Payments,
			Profiles:     svc.Profiles,
			Events:       backends.Events,
			DeliveryFee:  cfg.Checkout.DeliveryFee,
			PollAttempts: cfg.Checkout.PollAttempts,
			PollInterval: cfg.Checkout.PollInterval,
			Clock:        options.clock,
			Logger:       observability.EventLogger(logger, "checkout"),
		})
		if err != nil {
			return svc, fmt.Errorf("di: checkout service: %w", err)
		}
	}

	return svc, nil
}
