package payments

import (
	"context"
	"strings"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type fakeStripeSessions struct {
	created *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeStripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	return f.session, f.err
}

func (f *fakeStripeSessions) Get(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	session := *f.session
	session.ID = id
	return &session, nil
}

func TestStripeGatewayInitializeBuildsSession(t *testing.T) {
	sessions := &fakeStripeSessions{session: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}}
	gw, err := NewStripeGateway(StripeGatewayConfig{
		Sessions:   sessions,
		SuccessURL: "https://shop.example/checkout/return",
		Currency:   "NGN",
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}

	init, err := gw.InitializePayment(context.Background(), InitializeRequest{
		Email:  "ada@example.com",
		Amount: 500,
		Metadata: Metadata{
			OrderID: "AB12345",
			UserID:  "uid-1",
			Items:   []LineItem{{Name: "Deep clean (S)", Quantity: 2, UnitPrice: 150}},
		},
	})
	if err != nil {
		t.Fatalf("InitializePayment: %v", err)
	}
	if init.Reference != "cs_test_1" || init.AuthorizationURL == "" {
		t.Fatalf("unexpected initialization %+v", init)
	}

	params := sessions.created
	if params == nil {
		t.Fatalf("expected session params")
	}
	if got := *params.ClientReferenceID; got != "AB12345" {
		t.Fatalf("unexpected client reference %q", got)
	}
	if !strings.Contains(*params.SuccessURL, "orderId=AB12345") || !strings.HasSuffix(*params.SuccessURL, "reference={CHECKOUT_SESSION_ID}") {
		t.Fatalf("unexpected success url %q", *params.SuccessURL)
	}
	if len(params.LineItems) != 2 {
		t.Fatalf("expected item line plus fee line, got %d", len(params.LineItems))
	}
	var total int64
	for _, line := range params.LineItems {
		total += *line.PriceData.UnitAmount * *line.Quantity
	}
	if total != 500*100 {
		t.Fatalf("expected line items to sum to 50000 minor units, got %d", total)
	}
}

func TestStripeGatewayVerifyMapsStatus(t *testing.T) {
	cases := []struct {
		session stripe.CheckoutSession
		want    Status
	}{
		{stripe.CheckoutSession{PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid, AmountTotal: 50000}, StatusSuccess},
		{stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusExpired}, StatusFailed},
		{stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusOpen}, StatusPending},
	}
	for _, tc := range cases {
		session := tc.session
		session.Metadata = map[string]string{"orderId": "AB12345"}
		gw, _ := NewStripeGateway(StripeGatewayConfig{Sessions: &fakeStripeSessions{session: &session}, SuccessURL: "https://shop.example/r"})
		v, err := gw.VerifyPayment(context.Background(), "cs_test_1")
		if err != nil {
			t.Fatalf("VerifyPayment: %v", err)
		}
		if v.Status != tc.want || v.OrderID != "AB12345" {
			t.Fatalf("unexpected verification %+v, want %s", v, tc.want)
		}
	}
}

func TestStripeGatewayClientErrorIsDefinitive(t *testing.T) {
	sessions := &fakeStripeSessions{err: &stripe.Error{HTTPStatusCode: 400, Msg: "No such checkout session"}}
	gw, _ := NewStripeGateway(StripeGatewayConfig{Sessions: sessions, SuccessURL: "https://shop.example/r"})
	_, err := gw.VerifyPayment(context.Background(), "cs_missing")
	if gwErr, ok := AsGatewayError(err); !ok || gwErr.StatusCode != 400 {
		t.Fatalf("expected gateway error, got %v", err)
	}
}
