package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/payments"
)

type fakeGateway struct {
	mu            sync.Mutex
	initReqs      []payments.InitializeRequest
	init          payments.Initialization
	initErr       error
	verifications []payments.Verification
	verifyErr     error
	verifyCalls   int
}

func (g *fakeGateway) InitializePayment(_ context.Context, req payments.InitializeRequest) (payments.Initialization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initReqs = append(g.initReqs, req)
	if g.initErr != nil {
		return payments.Initialization{}, g.initErr
	}
	return g.init, nil
}

func (g *fakeGateway) VerifyPayment(_ context.Context, reference string) (payments.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return payments.Verification{}, g.verifyErr
	}
	if len(g.verifications) == 0 {
		return payments.Verification{Reference: reference, Status: payments.StatusPending}, nil
	}
	idx := g.verifyCalls - 1
	if idx >= len(g.verifications) {
		idx = len(g.verifications) - 1
	}
	v := g.verifications[idx]
	v.Reference = reference
	return v, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls
}

type fakeProfiles struct {
	profile *UserProfile
}

func (p fakeProfiles) GetUserProfile(context.Context, string) (*UserProfile, error) {
	return p.profile, nil
}

func (p fakeProfiles) UpdateProfile(context.Context, string, ProfilePatch) (UserProfile, error) {
	return UserProfile{}, errors.New("not supported")
}

type checkoutFixture struct {
	carts   CartService
	repo    *fakeOrderRepo
	gateway *fakeGateway
	events  *fakePublisher
	svc     CheckoutService
}

func newCheckoutFixture(t *testing.T) checkoutFixture {
	t.Helper()
	carts := newTestCartService(t)
	repo := newFakeOrderRepo()
	events := &fakePublisher{}
	orders, err := NewOrderSubmitter(OrderSubmissionDeps{Orders: repo, Events: events})
	if err != nil {
		t.Fatalf("NewOrderSubmitter: %v", err)
	}
	gateway := &fakeGateway{init: payments.Initialization{
		Provider:         "paystack",
		AuthorizationURL: "https://checkout.example.com/pay/abc",
		Reference:        "ref-abc",
	}}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Carts:        carts,
		Orders:       orders,
		Payments:     gateway,
		Profiles:     fakeProfiles{profile: &UserProfile{UID: "user-1", DisplayName: "Thandi Mokoena"}},
		Events:       events,
		DeliveryFee:  25,
		PollAttempts: 5,
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return checkoutFixture{carts: carts, repo: repo, gateway: gateway, events: events, svc: svc}
}

func (f checkoutFixture) fillCart(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.carts.AddItem(ctx, "device-1", sizedOffering().WithSize("L"), 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, "device-1", ServiceOffering{ID: 9, Name: "Lawn", Price: []int{100}, Type: "garden"}, 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
}

func cardRequest() CardPaymentRequest {
	return CardPaymentRequest{CheckoutRequest: CheckoutRequest{
		DeviceID: "device-1",
		Customer: OrderCustomer{UserID: "user-1", Email: "thandi@example.com"},
		Address:  Address{ID: "addr-1", Street: "1 Main Rd", Town: "Joburg"},
	}}
}

func TestProcessCardPaymentRedirectsAndClearsCart(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.fillCart(t)

	res := fx.svc.ProcessCardPayment(context.Background(), cardRequest())
	if !res.Success() || res.State != StateRedirected {
		t.Fatalf("expected redirect, got %+v", res)
	}
	want := []CheckoutState{StateIdle, StateOrderCreated, StatePaymentInitializing, StateRedirected}
	if len(res.Trail) != len(want) {
		t.Fatalf("unexpected trail %v", res.Trail)
	}
	for i := range want {
		if res.Trail[i] != want[i] {
			t.Fatalf("unexpected trail %v", res.Trail)
		}
	}
	if res.AuthorizationURL != "https://checkout.example.com/pay/abc" || res.Reference != "ref-abc" {
		t.Fatalf("unexpected gateway fields %+v", res)
	}

	if len(fx.gateway.initReqs) != 1 {
		t.Fatalf("expected one initialise call")
	}
	req := fx.gateway.initReqs[0]
	if req.Amount != 2*150+100+25 || req.Email != "thandi@example.com" {
		t.Fatalf("unexpected initialise request %+v", req)
	}
	if req.Metadata.OrderID != res.OrderID || req.Metadata.UserName != "Thandi Mokoena" || len(req.Metadata.Items) != 2 {
		t.Fatalf("unexpected metadata %+v", req.Metadata)
	}

	cart, _ := fx.carts.Load(context.Background(), "device-1")
	if len(cart.Items) != 0 {
		t.Fatalf("expected cart cleared after initialisation, got %+v", cart.Items)
	}
	if len(fx.repo.updates) != 1 || fx.repo.updates[0].PaymentReference != "ref-abc" {
		t.Fatalf("expected reference recorded on the order, got %+v", fx.repo.updates)
	}
}

func TestProcessCardPaymentOrderCreationFailure(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.fillCart(t)
	fx.repo.createErr = errors.New("unavailable")

	res := fx.svc.ProcessCardPayment(context.Background(), cardRequest())
	if res.State != StateError || res.Message != "order creation failed" || !res.Retryable {
		t.Fatalf("unexpected result %+v", res)
	}
	if !errors.Is(res.Error, ErrOrderCreationFailed) {
		t.Fatalf("expected ErrOrderCreationFailed, got %v", res.Error)
	}
	if len(fx.gateway.initReqs) != 0 {
		t.Fatalf("gateway must not be called without an order")
	}
	cart, _ := fx.carts.Load(context.Background(), "device-1")
	if cart.TotalItems != 3 {
		t.Fatalf("cart must survive a failed checkout, got %+v", cart)
	}
}

func TestProcessCardPaymentGatewayFailures(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		state   CheckoutState
		message string
	}{
		{"rejected", &payments.GatewayError{Provider: "paystack", StatusCode: 400, Message: "Invalid email"}, StateFailed, "Invalid email"},
		{"rejected without message", &payments.GatewayError{Provider: "paystack", StatusCode: 422}, StateFailed, "payment initialization failed"},
		{"gateway unavailable", &payments.GatewayError{Provider: "paystack", StatusCode: 503, Message: "upstream busy"}, StateError, "payment initialization failed"},
		{"transport", errors.New("connection reset"), StateError, "payment initialization failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newCheckoutFixture(t)
			fx.fillCart(t)
			fx.gateway.initErr = tc.err

			res := fx.svc.ProcessCardPayment(context.Background(), cardRequest())
			if res.State != tc.state || res.Message != tc.message || !errors.Is(res.Error, ErrPaymentInitFailed) {
				t.Fatalf("unexpected result %+v", res)
			}
			cart, _ := fx.carts.Load(context.Background(), "device-1")
			if cart.TotalItems != 3 {
				t.Fatalf("cart must not be cleared when initialisation fails")
			}
		})
	}
}

func TestProcessCardPaymentValidation(t *testing.T) {
	fx := newCheckoutFixture(t)

	res := fx.svc.ProcessCardPayment(context.Background(), cardRequest())
	if !errors.Is(res.Error, ErrCheckoutCartEmpty) || res.State != StateIdle {
		t.Fatalf("expected empty cart error, got %+v", res)
	}

	req := cardRequest()
	req.Customer.Email = ""
	if res := fx.svc.ProcessCardPayment(context.Background(), req); !errors.Is(res.Error, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %+v", res)
	}
}

func TestProcessCardPaymentRejectsClientDiscounts(t *testing.T) {
	cases := map[string]func(*CardPaymentRequest){
		"promo":  func(r *CardPaymentRequest) { r.PromoCode = "ANYTHING"; r.PromoDiscount = 425 },
		"code":   func(r *CardPaymentRequest) { r.PromoCode = "SPRING" },
		"wallet": func(r *CardPaymentRequest) { r.WalletUsed = 425 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			fx := newCheckoutFixture(t)
			fx.fillCart(t)
			req := cardRequest()
			mutate(&req)

			res := fx.svc.ProcessCardPayment(context.Background(), req)
			if res.State != StateIdle || !errors.Is(res.Error, ErrCheckoutInvalidInput) {
				t.Fatalf("expected the discount to be refused, got %+v", res)
			}
			if len(fx.gateway.initReqs) != 0 || len(fx.repo.global) != 0 {
				t.Fatalf("no order or payment may be created for a refused discount")
			}
		})
	}
}

func TestProcessCardPaymentRefusesZeroAmount(t *testing.T) {
	fx := newCheckoutFixture(t)
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Carts:    fx.carts,
		Orders:   mustSubmitter(t, fx.repo),
		Payments: fx.gateway,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	if _, err := fx.carts.AddItem(context.Background(), "device-1", ServiceOffering{ID: 4, Name: "Free quote", Price: []int{0}}, 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	res := svc.ProcessCardPayment(context.Background(), cardRequest())
	if !errors.Is(res.Error, ErrCheckoutInvalidInput) || len(fx.gateway.initReqs) != 0 {
		t.Fatalf("expected a zero card charge to be refused, got %+v", res)
	}
}

func TestProcessCardPaymentKeepsLinesAddedDuringCheckout(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.fillCart(t)
	carts := &racingCart{CartService: fx.carts}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Carts:       carts,
		Orders:      mustSubmitter(t, fx.repo),
		Payments:    fx.gateway,
		DeliveryFee: 25,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	res := svc.ProcessCardPayment(context.Background(), cardRequest())
	if res.State != StateRedirected || len(res.Order.Items) != 2 {
		t.Fatalf("expected the order to hold the two loaded lines, got %+v", res)
	}
	cart, _ := fx.carts.Load(context.Background(), "device-1")
	if len(cart.Items) != 1 || cart.Items[0].ID != 12 || cart.TotalItems != 1 {
		t.Fatalf("expected only the late line to remain, got %+v", cart.Items)
	}
}

// racingCart adds a line right after the checkout snapshot is read.
type racingCart struct {
	CartService
	raced bool
}

func (c *racingCart) Load(ctx context.Context, deviceID string) (Cart, error) {
	cart, err := c.CartService.Load(ctx, deviceID)
	if err == nil && !c.raced {
		c.raced = true
		_, err = c.CartService.AddItem(ctx, deviceID, ServiceOffering{ID: 12, Name: "Windows", Price: []int{80}}, 1)
	}
	return cart, err
}

func mustSubmitter(t *testing.T, repo *fakeOrderRepo) OrderSubmitter {
	t.Helper()
	orders, err := NewOrderSubmitter(OrderSubmissionDeps{Orders: repo})
	if err != nil {
		t.Fatalf("NewOrderSubmitter: %v", err)
	}
	return orders
}

func TestBookCashConfirmsWithoutGateway(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.fillCart(t)

	res := fx.svc.BookCash(context.Background(), CashBookingRequest{CheckoutRequest: cardRequest().CheckoutRequest})
	if !res.Success() || res.State != StateSuccess || res.Order.PaymentMethod != domain.PaymentMethodCash {
		t.Fatalf("unexpected cash result %+v", res)
	}
	if len(fx.gateway.initReqs) != 0 {
		t.Fatalf("cash bookings must not reach the gateway")
	}
	cart, _ := fx.carts.Load(context.Background(), "device-1")
	if len(cart.Items) != 0 {
		t.Fatalf("expected cart cleared")
	}
}

func TestPollVerificationSucceedsAfterPending(t *testing.T) {
	fx := newCheckoutFixture(t)
	paidAt := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	fx.gateway.verifications = []payments.Verification{
		{Status: payments.StatusPending},
		{Status: payments.StatusPending},
		{Status: payments.StatusPending},
		{Status: payments.StatusSuccess, Amount: 425, OrderID: "AB12345", UserID: "user-1", PaidAt: &paidAt},
	}

	res := fx.svc.PollVerification(context.Background(), "ref-abc", PollOptions{MaxAttempts: 4, Interval: time.Millisecond})
	if res.State != StateSuccess || res.Attempts != 4 {
		t.Fatalf("expected success on the 4th attempt, got %+v", res)
	}
	if res.Verification == nil || res.Verification.Amount != 425 || res.OrderID != "AB12345" {
		t.Fatalf("expected final payment data, got %+v", res.Verification)
	}
	if len(fx.repo.updates) != 1 || fx.repo.updates[0].PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected the order to be marked paid, got %+v", fx.repo.updates)
	}
	if got := fx.events.types(); len(got) != 1 || got[0] != EventPaymentVerified {
		t.Fatalf("expected payment.verified, got %v", got)
	}
}

func TestPollVerificationStopsOnFailure(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.gateway.verifications = []payments.Verification{{Status: payments.StatusPending}, {Status: payments.StatusFailed, Message: "Declined"}}

	res := fx.svc.PollVerification(context.Background(), "ref-abc", PollOptions{})
	if res.State != StateFailed || res.Attempts != 2 || res.Message != "Declined" {
		t.Fatalf("unexpected result %+v", res)
	}
	if fx.gateway.calls() != 2 {
		t.Fatalf("expected polling to stop early, got %d calls", fx.gateway.calls())
	}
}

func TestPollVerificationTimesOut(t *testing.T) {
	fx := newCheckoutFixture(t)
	res := fx.svc.PollVerification(context.Background(), "ref-abc", PollOptions{MaxAttempts: 3, Interval: time.Millisecond})
	if res.State != StateTimeout || res.Attempts != 3 || res.Error != nil {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestPollVerificationHonoursCancellation(t *testing.T) {
	fx := newCheckoutFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for fx.gateway.calls() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res := fx.svc.PollVerification(ctx, "ref-abc", PollOptions{MaxAttempts: 50, Interval: time.Hour})
	if res.State != StateCancelled || res.Error != nil {
		t.Fatalf("expected cancelled without error, got %+v", res)
	}
	if fx.gateway.calls() != 1 {
		t.Fatalf("expected no further attempts after cancellation, got %d", fx.gateway.calls())
	}
}

func TestVerifyPaymentDistinguishesErrorFromFailure(t *testing.T) {
	fx := newCheckoutFixture(t)
	fx.gateway.verifyErr = errors.New("bad gateway body")
	if res := fx.svc.VerifyPayment(context.Background(), "ref-abc"); res.State != StateError || !errors.Is(res.Error, ErrPaymentIndeterminate) {
		t.Fatalf("expected error state, got %+v", res)
	}

	fx.gateway.verifyErr = &payments.GatewayError{Provider: "paystack", StatusCode: 400, Message: "Transaction reference not found"}
	if res := fx.svc.VerifyPayment(context.Background(), "ref-abc"); res.State != StateFailed {
		t.Fatalf("expected failed state, got %+v", res)
	}
}

func TestPollVerificationRetriesAfterGatewayOutage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"message":"upstream busy"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":true,"data":{"status":"success","reference":"ref-abc","amount":425,"metadata":{"orderId":"AB12345","userId":"user-1"}}}`)
	}))
	defer srv.Close()

	gateway, err := payments.NewHTTPGateway(payments.HTTPGatewayConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewHTTPGateway: %v", err)
	}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Carts:    newTestCartService(t),
		Orders:   mustSubmitter(t, newFakeOrderRepo()),
		Payments: gateway,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	first := svc.VerifyPayment(context.Background(), "ref-abc")
	if first.State != StateError || !errors.Is(first.Error, ErrPaymentIndeterminate) {
		t.Fatalf("expected an outage to be indeterminate, got %+v", first)
	}

	calls.Store(0)
	res := svc.PollVerification(context.Background(), "ref-abc", PollOptions{MaxAttempts: 3, Interval: time.Millisecond})
	if res.State != StateSuccess || res.Attempts != 2 || res.OrderID != "AB12345" {
		t.Fatalf("expected success on the second attempt, got %+v", res)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected two verify calls, got %d", got)
	}
}

func TestResolveReturnWithOrderOnlyIsCashConfirmation(t *testing.T) {
	fx := newCheckoutFixture(t)
	res := fx.svc.ResolveReturn(context.Background(), ReturnParams{OrderID: "AB12345"})
	if res.State != StateSuccess || !res.CashBooking || res.OrderID != "AB12345" {
		t.Fatalf("unexpected result %+v", res)
	}
	if fx.gateway.calls() != 0 {
		t.Fatalf("cash confirmations must not verify")
	}

	fx.gateway.verifications = []payments.Verification{{Status: payments.StatusSuccess}}
	res = fx.svc.ResolveReturn(context.Background(), ReturnParams{Reference: "ref-abc", OrderID: "AB12345"})
	if res.State != StateSuccess || res.CashBooking || res.OrderID != "AB12345" {
		t.Fatalf("unexpected card return result %+v", res)
	}

	if res := fx.svc.ResolveReturn(context.Background(), ReturnParams{}); !errors.Is(res.Error, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %+v", res)
	}
}

func TestHandleGatewayEvent(t *testing.T) {
	fx := newCheckoutFixture(t)
	ctx := context.Background()

	if err := fx.svc.HandleGatewayEvent(ctx, payments.WebhookEvent{Reference: "ref-1", Status: payments.StatusPending}); err != nil {
		t.Fatalf("pending events should be ignored, got %v", err)
	}
	if len(fx.repo.updates) != 0 {
		t.Fatalf("pending events must not touch the order")
	}

	err := fx.svc.HandleGatewayEvent(ctx, payments.WebhookEvent{Event: "charge.success", Reference: "ref-1", Status: payments.StatusSuccess, OrderID: "AB12345", UserID: "user-1"})
	if err != nil {
		t.Fatalf("HandleGatewayEvent: %v", err)
	}
	if len(fx.repo.updates) != 1 || fx.repo.updates[0].Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected order confirmed, got %+v", fx.repo.updates)
	}

	fx.gateway.verifications = []payments.Verification{{Status: payments.StatusFailed}}
	if err := fx.svc.HandleGatewayEvent(ctx, payments.WebhookEvent{Reference: "ref-2", Status: payments.StatusFailed}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected events without an order to be rejected, got %v", err)
	}
}

func TestCheckoutTransitions(t *testing.T) {
	allowed := [][2]CheckoutState{
		{StateIdle, StateOrderCreated},
		{StateOrderCreated, StatePaymentInitializing},
		{StatePaymentInitializing, StateRedirected},
		{StateRedirected, StateVerifying},
		{StateVerifying, StateSuccess},
		{StatePending, StateTimeout},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}
	denied := [][2]CheckoutState{
		{StateIdle, StateRedirected},
		{StateSuccess, StateFailed},
		{StateFailed, StateVerifying},
		{StateRedirected, StateSuccess},
	}
	for _, pair := range denied {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}
	flow := newCheckoutFlow(StateIdle)
	if err := flow.advance(StateSuccess); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}
