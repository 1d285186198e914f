package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	domain "github.com/homeservices-storefront/api/internal/domain"
)

const (
	defaultTimeout      = 8 * time.Second
	maxCatalogBodyBytes = 4 << 20
)

// ErrCategoryNotFound indicates the catalog has no such category.
var ErrCategoryNotFound = errors.New("catalog: category not found")

// StatusError reports an unexpected upstream status.
type StatusError struct {
	Endpoint string
	Status   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog: %s returned status %d", e.Endpoint, e.Status)
}

// ClientConfig configures the services catalog client.
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            func(context.Context, string, map[string]any)
}

// Client talks to the external services catalog API.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  func(context.Context, string, map[string]any)
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("catalog: base url is required")
	}
	parsed, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("catalog: parse base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Client{base: parsed, http: httpClient, limiter: limiter, logger: logger}, nil
}

// DecodeSpecialties accepts either the Specialties or the legacy specialties key.
func DecodeSpecialties(data []byte) ([]domain.ServiceOffering, error) {
	// encoding/json matches struct keys case-insensitively, so the spellings are looked up explicitly.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("catalog: decode specialties: %w", err)
	}
	for _, key := range []string{"Specialties", "specialties"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		var records []map[string]any
		if err := decoder.Decode(&records); err != nil {
			return nil, fmt.Errorf("catalog: decode %s: %w", key, err)
		}
		if len(records) > 0 {
			return NormalizeAll(records), nil
		}
	}
	return []domain.ServiceOffering{}, nil
}

// ListSpecialties returns the normalised offerings for a category.
func (c *Client) ListSpecialties(ctx context.Context, category string) ([]domain.ServiceOffering, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, ErrCategoryNotFound
	}
	endpoint := c.endpoint("categories", category)
	status, body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, ErrCategoryNotFound
	case status < 200 || status > 299:
		return nil, &StatusError{Endpoint: endpoint, Status: status}
	}
	return DecodeSpecialties(body)
}

// ServiceExists reports whether a service slug resolves in the catalog.
func (c *Client) ServiceExists(ctx context.Context, slug string) (bool, error) {
	return c.exists(ctx, c.endpoint("services", slug))
}

// ProviderExists reports whether a provider slug resolves in the catalog.
func (c *Client) ProviderExists(ctx context.Context, slug string) (bool, error) {
	return c.exists(ctx, c.endpoint("providers", slug))
}

func (c *Client) exists(ctx context.Context, endpoint string) (bool, error) {
	status, _, err := c.get(ctx, endpoint)
	if err != nil {
		return false, err
	}
	switch {
	case status >= 200 && status <= 299:
		return true, nil
	case status == http.StatusNotFound:
		return false, nil
	default:
		return false, &StatusError{Endpoint: endpoint, Status: status}
	}
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.base
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(strings.TrimSpace(segment)))
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (c *Client) get(ctx context.Context, endpoint string) (int, []byte, error) {
	if c == nil {
		return 0, nil, errors.New("catalog: client not initialised")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger(ctx, "catalog.request_failed", map[string]any{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
		return 0, nil, fmt.Errorf("catalog: request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("catalog: read response: %w", err)
	}

	c.logger(ctx, "catalog.request", map[string]any{
		"endpoint": endpoint,
		"status":   resp.StatusCode,
		"latency":  time.Since(started).String(),
	})
	return resp.StatusCode, body, nil
}
