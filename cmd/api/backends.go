package main

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/homeservices-storefront/api/internal/catalog"
	"github.com/homeservices-storefront/api/internal/di"
	"github.com/homeservices-storefront/api/internal/payments"
	"github.com/homeservices-storefront/api/internal/platform/config"
	"github.com/homeservices-storefront/api/internal/platform/events"
	pfirestore "github.com/homeservices-storefront/api/internal/platform/firestore"
	"github.com/homeservices-storefront/api/internal/platform/kvstore"
	"github.com/homeservices-storefront/api/internal/platform/observability"
	"github.com/homeservices-storefront/api/internal/repositories"
	firestoreRepo "github.com/homeservices-storefront/api/internal/repositories/firestore"
)

// newBackends dials every external dependency. On failure the clients opened so far are closed.
func newBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (backends di.Backends, err error) {
	defer func() {
		if err == nil {
			return
		}
		for i := len(backends.Closers) - 1; i >= 0; i-- {
			_ = backends.Closers[i](context.Background())
		}
	}()

	provider := pfirestore.NewProvider(cfg.Firestore)
	if _, err = provider.Client(ctx); err != nil {
		return backends, fmt.Errorf("firestore: %w", err)
	}
	backends.Closers = append(backends.Closers, provider.Close)
	backends.Probes = append(backends.Probes, repositories.Probe{Name: "firestore", Check: provider.Ping})

	if backends.Addresses, err = firestoreRepo.NewAddressRepository(provider); err != nil {
		return backends, err
	}
	if backends.Orders, err = firestoreRepo.NewOrderRepository(provider); err != nil {
		return backends, err
	}
	if backends.Profiles, err = firestoreRepo.NewProfileRepository(provider); err != nil {
		return backends, err
	}

	if backends.KV, err = newKVStore(ctx, cfg.Redis, logger, &backends); err != nil {
		return backends, err
	}

	if backends.Catalog, err = catalog.NewClient(catalog.ClientConfig{
		BaseURL:           cfg.Catalog.BaseURL,
		Timeout:           cfg.Catalog.Timeout,
		RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
		Burst:             cfg.Catalog.Burst,
		Logger:            observability.EventLogger(logger, "catalog"),
	}); err != nil {
		return backends, err
	}

	if backends.Payments, err = newPaymentManager(cfg.Gateway, logger); err != nil {
		return backends, err
	}

	backends.Events = events.NopPublisher{}
	if cfg.Events.Enabled {
		client, perr := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if perr != nil {
			return backends, fmt.Errorf("pubsub: %w", perr)
		}
		topic := client.Topic(cfg.Events.Topic)
		backends.Closers = append(backends.Closers, func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		if backends.Events, err = events.NewPubSubPublisher(topic); err != nil {
			return backends, err
		}
	}

	return backends, nil
}

func newKVStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger, backends *di.Backends) (kvstore.Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		logger.Warn("redis address not configured; device storage is in-memory and per instance")
		return kvstore.NewMemoryStore(nil), nil
	}
	client, err := kvstore.NewRedisClient(ctx, kvstore.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		return nil, err
	}
	backends.Closers = append(backends.Closers, func(context.Context) error { return client.Close() })
	store, err := kvstore.NewRedisStore(client, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// newPaymentManager registers the configured gateway under its provider name. Stripe is also
// registered when a key is present so that references minted before a provider switch still verify.
func newPaymentManager(cfg config.GatewayConfig, logger *zap.Logger) (*payments.Manager, error) {
	gateways := make(map[string]payments.Gateway, 2)

	if cfg.Provider == "http" || strings.TrimSpace(cfg.BaseURL) != "" {
		gw, err := payments.NewHTTPGateway(payments.HTTPGatewayConfig{
			Name:        "http",
			BaseURL:     cfg.BaseURL,
			SecretKey:   cfg.SecretKey,
			Currency:    cfg.Currency,
			CallbackURL: cfg.CallbackURL,
			Timeout:     cfg.Timeout,
			Logger:      observability.EventLogger(logger, "payments.http"),
		})
		if err != nil {
			return nil, err
		}
		gateways["http"] = gw
	}

	if cfg.Provider == "stripe" || strings.TrimSpace(cfg.StripeAPIKey) != "" {
		gw, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey:     cfg.StripeAPIKey,
			SuccessURL: cfg.SuccessURL,
			CancelURL:  cfg.CancelURL,
			Currency:   cfg.Currency,
			Logger:     observability.EventLogger(logger, "payments.stripe"),
		})
		if err != nil {
			return nil, err
		}
		gateways["stripe"] = gw
	}

	return payments.NewManager(gateways, payments.WithDefaultProvider(cfg.Provider))
}
