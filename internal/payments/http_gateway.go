package payments

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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultGatewayTimeout = 15 * time.Second
	maxGatewayBodyBytes   = 1 << 20
)

var gatewayTracer = otel.Tracer("github.com/homeservices-storefront/api/internal/payments")

// HTTPGatewayConfig configures the card gateway spoken to over plain HTTPS.
type HTTPGatewayConfig struct {
	Name        string
	BaseURL     string
	SecretKey   string
	Currency    string
	CallbackURL string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      func(context.Context, string, map[string]any)
}

// HTTPGateway calls POST {base}/payments/initialize and GET {base}/payments/verify/{reference}.
type HTTPGateway struct {
	name        string
	base        *url.URL
	secretKey   string
	currency    string
	callbackURL string
	http        *http.Client
	logger      func(context.Context, string, map[string]any)
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway validates cfg and constructs the gateway client.
func NewHTTPGateway(cfg HTTPGatewayConfig) (*HTTPGateway, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("payments: gateway base url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("payments: parse gateway base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("payments: gateway base url %q must be absolute", raw)
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultGatewayTimeout
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		name = "http"
	}

	return &HTTPGateway{
		name:        name,
		base:        base,
		secretKey:   strings.TrimSpace(cfg.SecretKey),
		currency:    strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		callbackURL: strings.TrimSpace(cfg.CallbackURL),
		http:        client,
		logger:      logger,
	}, nil
}

type gatewayEnvelope struct {
	Success *bool           `json:"success"`
	Status  json.RawMessage `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	AuthorizationURL      string `json:"authorization_url"`
	AuthorizationURLCamel string `json:"authorizationUrl"`
	Reference             string `json:"reference"`
	AccessCode            string `json:"access_code"`
	AccessCodeCamel       string `json:"accessCode"`
}

type verifyData struct {
	Status    string         `json:"status"`
	Reference string         `json:"reference"`
	Amount    int            `json:"amount"`
	Currency  string         `json:"currency"`
	Message   string         `json:"gateway_response"`
	PaidAt    string         `json:"paid_at"`
	Metadata  map[string]any `json:"metadata"`
}

// InitializePayment starts a card payment and returns the redirect details.
func (g *HTTPGateway) InitializePayment(ctx context.Context, req InitializeRequest) (Initialization, error) {
	ctx, span := gatewayTracer.Start(ctx, "payments.initialize", trace.WithAttributes(
		attribute.String("payments.provider", g.name),
		attribute.String("order.id", req.Metadata.OrderID),
	))
	defer span.End()

	if req.Currency == "" {
		req.Currency = g.currency
	}
	if req.CallbackURL == "" {
		req.CallbackURL = g.callbackURL
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Initialization{}, fmt.Errorf("payments: encode initialise request: %w", err)
	}

	envelope, err := g.do(ctx, http.MethodPost, "/payments/initialize", body)
	if err != nil {
		recordSpanError(span, err)
		return Initialization{}, err
	}

	var data initializeData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		recordSpanError(span, err)
		return Initialization{}, fmt.Errorf("payments: decode initialise response: %w", err)
	}
	authURL := firstNonEmpty(data.AuthorizationURL, data.AuthorizationURLCamel)
	if authURL == "" || data.Reference == "" {
		err := &GatewayError{Provider: g.name, Message: firstNonEmpty(envelope.Message, "missing authorization url or reference")}
		recordSpanError(span, err)
		return Initialization{}, err
	}

	g.logger(ctx, "payments.initialized", map[string]any{
		"provider":  g.name,
		"orderId":   req.Metadata.OrderID,
		"reference": data.Reference,
		"itemCount": len(req.Metadata.Items),
	})
	return Initialization{
		Provider:         g.name,
		AuthorizationURL: authURL,
		Reference:        data.Reference,
		AccessCode:       firstNonEmpty(data.AccessCode, data.AccessCodeCamel),
	}, nil
}

// VerifyPayment asks the gateway for the current state of reference.
func (g *HTTPGateway) VerifyPayment(ctx context.Context, reference string) (Verification, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Verification{}, errors.New("payments: reference is required")
	}
	ctx, span := gatewayTracer.Start(ctx, "payments.verify", trace.WithAttributes(
		attribute.String("payments.provider", g.name),
		attribute.String("payments.reference", reference),
	))
	defer span.End()

	envelope, err := g.do(ctx, http.MethodGet, "/payments/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		recordSpanError(span, err)
		return Verification{}, err
	}

	var data verifyData
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			recordSpanError(span, err)
			return Verification{}, fmt.Errorf("payments: decode verify response: %w", err)
		}
	}

	verification := Verification{
		Provider:  g.name,
		Reference: firstNonEmpty(data.Reference, reference),
		Status:    ParseStatus(data.Status),
		Amount:    data.Amount,
		Currency:  strings.ToUpper(data.Currency),
		Message:   firstNonEmpty(data.Message, envelope.Message),
		PaidAt:    parsePaidAt(data.PaidAt),
		OrderID:   metadataString(data.Metadata, "orderId"),
		UserID:    metadataString(data.Metadata, "userId"),
	}
	span.SetAttributes(attribute.String("payments.status", string(verification.Status)))
	return verification, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte) (gatewayEnvelope, error) {
	endpoint := g.base.String() + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return gatewayEnvelope{}, fmt.Errorf("payments: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.secretKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.secretKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		g.logger(ctx, "payments.request.failed", map[string]any{"endpoint": path, "method": method, "error": err.Error()})
		return gatewayEnvelope{}, fmt.Errorf("payments: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBodyBytes))
	if err != nil {
		return gatewayEnvelope{}, fmt.Errorf("payments: read response: %w", err)
	}

	envelope, decodeErr := decodeEnvelope(payload)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := http.StatusText(resp.StatusCode)
		if decodeErr == nil && envelope.Message != "" {
			message = envelope.Message
		}
		g.logger(ctx, "payments.request.failed", map[string]any{
			"endpoint":   path,
			"method":     method,
			"statusCode": resp.StatusCode,
			"bodyBytes":  len(payload),
		})
		return gatewayEnvelope{}, &GatewayError{Provider: g.name, StatusCode: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return gatewayEnvelope{}, fmt.Errorf("payments: decode response from %s: %w", path, decodeErr)
	}
	if !envelope.succeeded() {
		return gatewayEnvelope{}, &GatewayError{Provider: g.name, Message: firstNonEmpty(envelope.Message, "request was not successful")}
	}
	return envelope, nil
}

// decodeEnvelope accepts {success|status, message, data} or a flat object, which is treated as data.
func decodeEnvelope(payload []byte) (gatewayEnvelope, error) {
	var envelope gatewayEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return gatewayEnvelope{}, err
	}
	if len(envelope.Data) == 0 {
		envelope.Data = payload
	}
	return envelope, nil
}

func (e gatewayEnvelope) succeeded() bool {
	if e.Success != nil {
		return *e.Success
	}
	if len(e.Status) > 0 {
		var flag bool
		if err := json.Unmarshal(e.Status, &flag); err == nil {
			return flag
		}
	}
	return true
}

func parsePaidAt(raw string) *time.Time {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	parsed = parsed.UTC()
	return &parsed
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if value, ok := metadata[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
