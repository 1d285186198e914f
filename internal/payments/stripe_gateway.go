package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultMinorUnitFactor = 100

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGatewayConfig configures the Stripe Checkout backed gateway.
type StripeGatewayConfig struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
	Currency   string
	// MinorUnitFactor converts storefront amounts into the smallest currency unit.
	MinorUnitFactor int64
	Backends        *stripe.Backends
	Sessions        stripeSessionAPI
	Logger          func(context.Context, string, map[string]any)
	Clock           func() time.Time
}

// StripeGateway maps the Gateway contract onto Stripe Checkout Sessions. The session id is the
// payment reference.
type StripeGateway struct {
	sessions   stripeSessionAPI
	successURL string
	cancelURL  string
	currency   string
	factor     int64
	logger     func(context.Context, string, map[string]any)
	clock      func() time.Time
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs the gateway using cfg.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	sessions := cfg.Sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}
	successURL := strings.TrimSpace(cfg.SuccessURL)
	if successURL == "" {
		return nil, errors.New("stripe: success url is required")
	}
	factor := cfg.MinorUnitFactor
	if factor <= 0 {
		factor = defaultMinorUnitFactor
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "ngn"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &StripeGateway{
		sessions:   sessions,
		successURL: successURL,
		cancelURL:  firstNonEmpty(cfg.CancelURL, successURL),
		currency:   currency,
		factor:     factor,
		logger:     logger,
		clock:      func() time.Time { return clock().UTC() },
	}, nil
}

// InitializePayment creates a Checkout Session; its URL is the authorisation URL.
func (g *StripeGateway) InitializePayment(ctx context.Context, req InitializeRequest) (Initialization, error) {
	ctx, span := gatewayTracer.Start(ctx, "payments.initialize", trace.WithAttributes(
		attribute.String("payments.provider", "stripe"),
		attribute.String("order.id", req.Metadata.OrderID),
	))
	defer span.End()

	currency := strings.ToLower(firstNonEmpty(req.Currency, g.currency))
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withReturnParams(g.successURL, req.Metadata.OrderID)),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(req.Metadata.OrderID),
		Metadata: map[string]string{
			"orderId":  req.Metadata.OrderID,
			"userId":   req.Metadata.UserID,
			"userName": req.Metadata.UserName,
		},
	}
	params.Context = ctx
	if req.Metadata.OrderID != "" {
		params.SetIdempotencyKey("init-" + req.Metadata.OrderID)
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Metadata.Items)+1)
	itemised := 0
	for _, item := range req.Metadata.Items {
		if item.Quantity <= 0 {
			continue
		}
		lines = append(lines, g.lineItem(currency, firstNonEmpty(item.Name, "Service"), int64(item.UnitPrice), int64(item.Quantity)))
		itemised += item.UnitPrice * item.Quantity
	}
	// Fees, tips and discounts are folded into a single adjustment line when they exist.
	if remainder := req.Amount - itemised; remainder > 0 || len(lines) == 0 {
		lines = append(lines, g.lineItem(currency, "Delivery and fees", int64(max(remainder, 0)), 1))
	} else if remainder < 0 {
		lines = []*stripe.CheckoutSessionLineItemParams{g.lineItem(currency, "Order "+req.Metadata.OrderID, int64(req.Amount), 1)}
	}
	params.LineItems = lines

	session, err := g.sessions.New(params)
	if err != nil {
		recordSpanError(span, err)
		return Initialization{}, stripeError("create checkout session", err)
	}

	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.Metadata.OrderID,
	})
	return Initialization{
		Provider:         "stripe",
		AuthorizationURL: session.URL,
		Reference:        session.ID,
	}, nil
}

// VerifyPayment reads the Checkout Session behind reference.
func (g *StripeGateway) VerifyPayment(ctx context.Context, reference string) (Verification, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Verification{}, errors.New("stripe: reference is required")
	}
	ctx, span := gatewayTracer.Start(ctx, "payments.verify", trace.WithAttributes(
		attribute.String("payments.provider", "stripe"),
		attribute.String("payments.reference", reference),
	))
	defer span.End()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := g.sessions.Get(reference, params)
	if err != nil {
		recordSpanError(span, err)
		return Verification{}, stripeError("get checkout session", err)
	}

	status := StatusPending
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		status = StatusSuccess
	case session.Status == stripe.CheckoutSessionStatusExpired:
		status = StatusFailed
	}

	verification := Verification{
		Provider:  "stripe",
		Reference: session.ID,
		Status:    status,
		Amount:    int(session.AmountTotal / g.factor),
		Currency:  strings.ToUpper(string(session.Currency)),
		OrderID:   firstNonEmpty(session.Metadata["orderId"], session.ClientReferenceID),
		UserID:    session.Metadata["userId"],
		Message:   string(session.PaymentStatus),
	}
	if status == StatusSuccess {
		paidAt := g.clock()
		verification.PaidAt = &paidAt
	}
	span.SetAttributes(attribute.String("payments.status", string(status)))
	return verification, nil
}

func (g *StripeGateway) lineItem(currency, name string, unitAmount, quantity int64) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(quantity),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(currency),
			UnitAmount: stripe.Int64(unitAmount * g.factor),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
		},
	}
}

// withReturnParams appends orderId and the session placeholder Stripe substitutes on redirect.
func withReturnParams(successURL, orderID string) string {
	parsed, err := url.Parse(successURL)
	if err != nil {
		return successURL
	}
	query := parsed.Query()
	if orderID != "" {
		query.Set("orderId", orderID)
	}
	parsed.RawQuery = query.Encode()
	separator := "&"
	if parsed.RawQuery == "" {
		separator = "?"
	}
	return parsed.String() + separator + "reference={CHECKOUT_SESSION_ID}"
}

func stripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
		return &GatewayError{Provider: "stripe", StatusCode: stripeErr.HTTPStatusCode, Message: stripeErr.Msg}
	}
	return fmt.Errorf("stripe: %s: %w", op, err)
}
