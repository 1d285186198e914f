package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/payments"
)

const (
	checkoutMetricNamespace     = "github.com/homeservices-storefront/api/internal/services/checkout"
	defaultPollAttempts         = 10
	defaultPollInterval         = 3 * time.Second
	messageOrderCreationFailed  = "order creation failed"
	messagePaymentInitFailed    = "payment initialization failed"
	messageVerificationFailed   = "payment was not successful"
	messageVerificationUnknown  = "payment status could not be confirmed"
	messageVerificationTimedOut = "payment confirmation is taking longer than expected"

	// EventPaymentVerified is published when a payment reaches a definitive outcome.
	EventPaymentVerified = "payment.verified"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout input.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutCartEmpty indicates there is nothing to check out.
	ErrCheckoutCartEmpty = errors.New("checkout: cart is empty")
	// ErrCheckoutUnavailable indicates a checkout dependency could not be reached.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrOrderCreationFailed indicates the order could not be persisted; the attempt may be retried.
	ErrOrderCreationFailed = errors.New("checkout: order creation failed")
	// ErrPaymentInitFailed indicates the gateway refused to start the payment.
	ErrPaymentInitFailed = errors.New("checkout: payment initialization failed")
	// ErrPaymentIndeterminate indicates the payment outcome is unknown.
	ErrPaymentIndeterminate = errors.New("checkout: payment outcome unknown")
	// ErrIllegalTransition indicates a checkout flow tried to move between unrelated states.
	ErrIllegalTransition = errors.New("checkout: illegal state transition")
)

// CheckoutState is a node of the checkout state machine.
type CheckoutState string

const (
	StateIdle                CheckoutState = "idle"
	StateOrderCreated        CheckoutState = "order_created"
	StatePaymentInitializing CheckoutState = "payment_initializing"
	StateRedirected          CheckoutState = "redirected_to_gateway"
	StateVerifying           CheckoutState = "verifying"
	StatePending             CheckoutState = "pending"
	StateSuccess             CheckoutState = "success"
	StateFailed              CheckoutState = "failed"
	StateError               CheckoutState = "error"
	StateTimeout             CheckoutState = "timeout"
	StateCancelled           CheckoutState = "cancelled"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	StateIdle:                {StateOrderCreated, StateError},
	StateOrderCreated:        {StatePaymentInitializing, StateSuccess},
	StatePaymentInitializing: {StateRedirected, StateFailed, StateError},
	StateRedirected:          {StateVerifying},
	StateVerifying:           {StatePending, StateSuccess, StateFailed, StateError, StateTimeout, StateCancelled},
	StatePending:             {StateVerifying, StateTimeout, StateCancelled},
	StateError:               {StateVerifying, StateTimeout, StateCancelled},
}

// CanTransition reports whether the checkout state machine allows from -> to.
func CanTransition(from, to CheckoutState) bool {
	for _, next := range checkoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s CheckoutState) Terminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateTimeout, StateCancelled:
		return true
	}
	return false
}

type checkoutFlow struct {
	trail []CheckoutState
}

func newCheckoutFlow(start CheckoutState) *checkoutFlow {
	return &checkoutFlow{trail: []CheckoutState{start}}
}

func (f *checkoutFlow) state() CheckoutState {
	return f.trail[len(f.trail)-1]
}

func (f *checkoutFlow) advance(next CheckoutState) error {
	if !CanTransition(f.state(), next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, f.state(), next)
	}
	f.trail = append(f.trail, next)
	return nil
}

func (f *checkoutFlow) history() []CheckoutState {
	return append([]CheckoutState(nil), f.trail...)
}

// CheckoutRequest carries what both payment paths need to compose an order.
type CheckoutRequest struct {
	DeviceID             string
	Customer             OrderCustomer
	Address              Address
	DeliveryInstructions string
	TipAmount            int
	PromoCode            string
	PromoDiscount        int
	WalletUsed           int
}

// CardPaymentRequest starts a card checkout.
type CardPaymentRequest struct {
	CheckoutRequest
	CallbackURL string
}

// CashBookingRequest books an order paid in cash on completion.
type CashBookingRequest struct {
	CheckoutRequest
}

// CheckoutResult describes where a checkout attempt ended.
type CheckoutResult struct {
	State            CheckoutState
	Trail            []CheckoutState
	OrderID          string
	Order            *Order
	Provider         string
	AuthorizationURL string
	Reference        string
	Amount           int
	Message          string
	Retryable        bool
	Error            error
}

// Success reports whether the attempt reached its happy-path state.
func (r CheckoutResult) Success() bool {
	return r.Error == nil && (r.State == StateRedirected || r.State == StateSuccess)
}

// VerificationResult describes the outcome of verifying a payment reference.
type VerificationResult struct {
	State        CheckoutState
	Reference    string
	OrderID      string
	CashBooking  bool
	Attempts     int
	Verification *payments.Verification
	Message      string
	Error        error
}

// PollOptions bounds PollVerification; zero values use the configured defaults.
type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
}

// ReturnParams are the query parameters of the gateway return page.
type ReturnParams struct {
	Reference string
	OrderID   string
}

// CheckoutServiceDeps wires order submission, the cart and the payment gateway.
type CheckoutServiceDeps struct {
	Carts        CartService
	Orders       OrderSubmitter
	Payments     PaymentGateway
	Profiles     ProfileService
	Events       EventPublisher
	DeliveryFee  int
	PollAttempts int
	PollInterval time.Duration
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
	Meter        metric.Meter
}

type checkoutService struct {
	carts        CartService
	orders       OrderSubmitter
	payments     PaymentGateway
	profiles     ProfileService
	events       EventPublisher
	deliveryFee  int
	pollAttempts int
	pollInterval time.Duration
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)

	outcomes        metric.Int64Counter
	outcomesEnabled bool
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order submitter is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if deps.DeliveryFee < 0 {
		return nil, errors.New("checkout service: delivery fee must not be negative")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	attempts := deps.PollAttempts
	if attempts <= 0 {
		attempts = defaultPollAttempts
	}
	interval := deps.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(checkoutMetricNamespace)
	}
	outcomes, err := meter.Int64Counter(
		"checkout.outcomes",
		metric.WithDescription("Count of checkout and verification attempts by operation and final state"),
	)
	if err != nil {
		logger(context.Background(), "checkout.metrics.unavailable", map[string]any{"error": err.Error()})
	}

	return &checkoutService{
		carts:           deps.Carts,
		orders:          deps.Orders,
		payments:        deps.Payments,
		profiles:        deps.Profiles,
		events:          deps.Events,
		deliveryFee:     deps.DeliveryFee,
		pollAttempts:    attempts,
		pollInterval:    interval,
		now:             func() time.Time { return clock().UTC() },
		logger:          logger,
		outcomes:        outcomes,
		outcomesEnabled: err == nil,
	}, nil
}

// ProcessCardPayment creates the order, starts the gateway payment and clears the cart once the
// gateway hands back an authorization URL.
func (s *checkoutService) ProcessCardPayment(ctx context.Context, req CardPaymentRequest) CheckoutResult {
	flow := newCheckoutFlow(StateIdle)
	result := s.placeOrder(ctx, flow, req.CheckoutRequest, domain.PaymentMethodCard)
	if result.Error != nil {
		s.record(ctx, "card", result.State)
		return result.CheckoutResult
	}
	order := result.order

	_ = flow.advance(StatePaymentInitializing)
	amount := order.TotalAmount
	init, err := s.payments.InitializePayment(ctx, payments.InitializeRequest{
		Email:       order.UserEmail,
		Amount:      amount,
		CallbackURL: strings.TrimSpace(req.CallbackURL),
		Metadata: payments.Metadata{
			OrderID:  order.OrderID,
			UserID:   order.UserID,
			UserName: order.UserName,
			Items:    lineItems(order),
		},
	})
	if err == nil && strings.TrimSpace(init.AuthorizationURL) == "" {
		err = &payments.GatewayError{Provider: init.Provider, Message: "gateway returned no authorization url"}
	}
	if err != nil {
		state := StateError
		message := messagePaymentInitFailed
		if gwErr, ok := payments.AsGatewayError(err); ok && !gwErr.Temporary() {
			state = StateFailed
			if msg := strings.TrimSpace(gwErr.Message); msg != "" {
				message = msg
			}
			s.markOrder(ctx, order, domain.PaymentStatusUpdate{Status: domain.OrderStatusFailed, PaymentStatus: domain.PaymentStatusFailed})
		}
		_ = flow.advance(state)
		s.logger(ctx, "checkout.payment.init_failed", map[string]any{
			"orderId": order.OrderID,
			"amount":  amount,
			"error":   err.Error(),
		})
		s.record(ctx, "card", state)
		return CheckoutResult{
			State:   state,
			Trail:   flow.history(),
			OrderID: order.OrderID,
			Order:   &order,
			Amount:  amount,
			Message: message,
			Error:   fmt.Errorf("%w: %v", ErrPaymentInitFailed, err),
		}
	}

	if init.Reference != "" {
		order.PaymentReference = init.Reference
		s.markOrder(ctx, order, domain.PaymentStatusUpdate{PaymentReference: init.Reference})
	}
	s.releaseCart(ctx, req.DeviceID, order)
	_ = flow.advance(StateRedirected)

	s.logger(ctx, "checkout.payment.initialized", map[string]any{
		"orderId":   order.OrderID,
		"provider":  init.Provider,
		"reference": init.Reference,
		"amount":    amount,
	})
	s.record(ctx, "card", StateRedirected)
	return CheckoutResult{
		State:            StateRedirected,
		Trail:            flow.history(),
		OrderID:          order.OrderID,
		Order:            &order,
		Provider:         init.Provider,
		AuthorizationURL: init.AuthorizationURL,
		Reference:        init.Reference,
		Amount:           amount,
	}
}

// BookCash persists a cash order and clears the cart. No gateway is involved.
func (s *checkoutService) BookCash(ctx context.Context, req CashBookingRequest) CheckoutResult {
	flow := newCheckoutFlow(StateIdle)
	result := s.placeOrder(ctx, flow, req.CheckoutRequest, domain.PaymentMethodCash)
	if result.Error != nil {
		s.record(ctx, "cash", result.State)
		return result.CheckoutResult
	}
	order := result.order
	s.releaseCart(ctx, req.DeviceID, order)
	_ = flow.advance(StateSuccess)
	s.record(ctx, "cash", StateSuccess)
	return CheckoutResult{
		State:   StateSuccess,
		Trail:   flow.history(),
		OrderID: order.OrderID,
		Order:   &order,
		Amount:  order.TotalAmount,
	}
}

type placedOrder struct {
	CheckoutResult
	order Order
}

// releaseCart drops the ordered lines from the device cart. Lines added while the order was being
// placed stay in the cart.
func (s *checkoutService) releaseCart(ctx context.Context, deviceID string, order Order) {
	if _, err := s.carts.RemoveOrderedItems(ctx, deviceID, order.Items); err != nil {
		s.logger(ctx, "checkout.cart.clear_failed", map[string]any{"orderId": order.OrderID, "error": err.Error()})
	}
}

func (s *checkoutService) placeOrder(ctx context.Context, flow *checkoutFlow, req CheckoutRequest, method string) placedOrder {
	fail := func(state CheckoutState, message string, retryable bool, err error) placedOrder {
		if state != StateIdle {
			_ = flow.advance(state)
		}
		return placedOrder{CheckoutResult: CheckoutResult{
			State:     flow.state(),
			Trail:     flow.history(),
			Message:   message,
			Retryable: retryable,
			Error:     err,
		}}
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" || strings.TrimSpace(req.Customer.UserID) == "" {
		return fail(StateIdle, "sign in to complete checkout", false, ErrCheckoutInvalidInput)
	}
	if method == domain.PaymentMethodCard && strings.TrimSpace(req.Customer.Email) == "" {
		return fail(StateIdle, "an email address is required for card payments", false, ErrCheckoutInvalidInput)
	}

	cart, err := s.carts.Load(ctx, deviceID)
	if err != nil {
		s.logger(ctx, "checkout.cart.load_failed", map[string]any{"deviceId": deviceID, "error": err.Error()})
		return fail(StateIdle, "your cart could not be loaded", true, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err))
	}
	if len(cart.Items) == 0 {
		return fail(StateIdle, "your cart is empty", false, ErrCheckoutCartEmpty)
	}
	// No promotion or wallet ledger backs these amounts yet, so a client cannot claim them.
	if strings.TrimSpace(req.PromoCode) != "" || req.PromoDiscount != 0 || req.WalletUsed != 0 {
		return fail(StateIdle, "promo codes and wallet credit are not available", false, ErrCheckoutInvalidInput)
	}

	customer := req.Customer
	if strings.TrimSpace(customer.Name) == "" && s.profiles != nil {
		if profile, err := s.profiles.GetUserProfile(ctx, customer.UserID); err == nil && profile != nil {
			customer.Name = profile.DisplayName
			if strings.TrimSpace(customer.Email) == "" {
				customer.Email = profile.Email
			}
		}
	}

	order, err := BuildOrder(OrderInputs{
		Customer:             customer,
		Items:                cart.Items,
		Address:              req.Address,
		DeliveryFee:          s.deliveryFee,
		TipAmount:            req.TipAmount,
		DeliveryInstructions: req.DeliveryInstructions,
		PaymentMethod:        method,
		PromoCode:            req.PromoCode,
		PromoDiscount:        req.PromoDiscount,
		WalletUsed:           req.WalletUsed,
		CreatedAt:            s.now(),
	})
	if err != nil {
		return fail(StateIdle, err.Error(), false, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err))
	}
	if method == domain.PaymentMethodCard && order.TotalAmount <= 0 {
		return fail(StateIdle, "a card payment needs an amount above zero", false, ErrCheckoutInvalidInput)
	}

	submitted, err := s.orders.SubmitOrder(ctx, order, customer.UserID)
	if err != nil {
		s.logger(ctx, "checkout.order.failed", map[string]any{
			"userId": customer.UserID,
			"items":  len(order.Items),
			"total":  order.TotalAmount,
			"error":  err.Error(),
		})
		return fail(StateError, messageOrderCreationFailed, true, fmt.Errorf("%w: %v", ErrOrderCreationFailed, err))
	}
	_ = flow.advance(StateOrderCreated)
	return placedOrder{order: submitted.Order}
}

// VerifyPayment asks the gateway for the outcome of reference and settles the order ledgers when
// the outcome is definitive.
func (s *checkoutService) VerifyPayment(ctx context.Context, reference string) VerificationResult {
	result := s.verifyOnce(ctx, strings.TrimSpace(reference))
	s.record(ctx, "verify", result.State)
	return result
}

func (s *checkoutService) verifyOnce(ctx context.Context, reference string) VerificationResult {
	flow := newCheckoutFlow(StateVerifying)
	if reference == "" {
		_ = flow.advance(StateError)
		return VerificationResult{State: StateError, Message: messageVerificationUnknown, Error: ErrCheckoutInvalidInput}
	}

	verification, err := s.payments.VerifyPayment(ctx, reference)
	if err != nil {
		if gwErr, ok := payments.AsGatewayError(err); ok && !gwErr.Temporary() {
			_ = flow.advance(StateFailed)
			message := strings.TrimSpace(gwErr.Message)
			if message == "" {
				message = messageVerificationFailed
			}
			return VerificationResult{State: StateFailed, Reference: reference, Message: message, Error: err}
		}
		s.logger(ctx, "checkout.verify.error", map[string]any{"reference": reference, "error": err.Error()})
		_ = flow.advance(StateError)
		return VerificationResult{
			State:     StateError,
			Reference: reference,
			Message:   messageVerificationUnknown,
			Error:     fmt.Errorf("%w: %v", ErrPaymentIndeterminate, err),
		}
	}
	if verification.Reference == "" {
		verification.Reference = reference
	}

	result := VerificationResult{
		Reference:    reference,
		OrderID:      verification.OrderID,
		Verification: &verification,
	}
	switch verification.Status {
	case payments.StatusSuccess:
		result.State = StateSuccess
	case payments.StatusFailed:
		result.State = StateFailed
		result.Message = firstNonBlank(verification.Message, messageVerificationFailed)
	default:
		result.State = StatePending
		result.Message = messageVerificationTimedOut
	}
	_ = flow.advance(result.State)

	if result.State == StateSuccess || result.State == StateFailed {
		if err := s.settle(ctx, verification); err != nil {
			s.logger(ctx, "checkout.settle.failed", map[string]any{"reference": reference, "orderId": verification.OrderID, "error": err.Error()})
		}
	}
	return result
}

// PollVerification repeats VerifyPayment until a definitive outcome, the attempt budget runs out
// (timeout) or ctx is cancelled (cancelled).
func (s *checkoutService) PollVerification(ctx context.Context, reference string, opts PollOptions) VerificationResult {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = s.pollAttempts
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = s.pollInterval
	}
	reference = strings.TrimSpace(reference)

	var last VerificationResult
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return s.pollCancelled(ctx, reference, attempt-1, last)
		}
		last = s.verifyOnce(ctx, reference)
		last.Attempts = attempt
		if last.State == StateSuccess || last.State == StateFailed {
			s.record(ctx, "poll", last.State)
			return last
		}
		if reference == "" {
			s.record(ctx, "poll", last.State)
			return last
		}
		if ctx.Err() != nil {
			return s.pollCancelled(ctx, reference, attempt, last)
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.pollCancelled(ctx, reference, attempt, last)
		case <-timer.C:
		}
	}

	s.logger(ctx, "checkout.poll.timeout", map[string]any{"reference": reference, "attempts": attempts})
	s.record(ctx, "poll", StateTimeout)
	return VerificationResult{
		State:        StateTimeout,
		Reference:    reference,
		OrderID:      last.OrderID,
		Attempts:     attempts,
		Verification: last.Verification,
		Message:      messageVerificationTimedOut,
	}
}

func (s *checkoutService) pollCancelled(ctx context.Context, reference string, attempts int, last VerificationResult) VerificationResult {
	s.record(ctx, "poll", StateCancelled)
	return VerificationResult{
		State:        StateCancelled,
		Reference:    reference,
		OrderID:      last.OrderID,
		Attempts:     attempts,
		Verification: last.Verification,
	}
}

// ResolveReturn interprets the gateway return page: a reference is polled, an order id alone is a
// confirmed cash booking.
func (s *checkoutService) ResolveReturn(ctx context.Context, params ReturnParams) VerificationResult {
	reference := strings.TrimSpace(params.Reference)
	orderID := strings.TrimSpace(params.OrderID)
	switch {
	case reference != "":
		result := s.PollVerification(ctx, reference, PollOptions{})
		if result.OrderID == "" {
			result.OrderID = orderID
		}
		return result
	case orderID != "":
		s.record(ctx, "return", StateSuccess)
		return VerificationResult{State: StateSuccess, OrderID: orderID, CashBooking: true}
	default:
		return VerificationResult{State: StateError, Message: messageVerificationUnknown, Error: ErrCheckoutInvalidInput}
	}
}

// HandleGatewayEvent settles the order named by a verified gateway callback. Pending events are
// ignored.
func (s *checkoutService) HandleGatewayEvent(ctx context.Context, event payments.WebhookEvent) error {
	if strings.TrimSpace(event.Reference) == "" {
		return ErrCheckoutInvalidInput
	}
	if event.Status != payments.StatusSuccess && event.Status != payments.StatusFailed {
		s.logger(ctx, "checkout.webhook.ignored", map[string]any{"event": event.Event, "reference": event.Reference})
		return nil
	}
	verification := payments.Verification{
		Reference: event.Reference,
		Status:    event.Status,
		OrderID:   event.OrderID,
		UserID:    event.UserID,
	}
	if verification.OrderID == "" || verification.UserID == "" {
		remote, err := s.payments.VerifyPayment(ctx, event.Reference)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPaymentIndeterminate, err)
		}
		verification.OrderID = firstNonBlank(verification.OrderID, remote.OrderID)
		verification.UserID = firstNonBlank(verification.UserID, remote.UserID)
		verification.Amount = remote.Amount
		verification.Provider = remote.Provider
	}
	if verification.OrderID == "" || verification.UserID == "" {
		return fmt.Errorf("%w: event %s carries no order", ErrCheckoutInvalidInput, event.Reference)
	}
	s.record(ctx, "webhook", CheckoutState(event.Status))
	return s.settle(ctx, verification)
}

func (s *checkoutService) settle(ctx context.Context, v payments.Verification) error {
	if v.OrderID == "" || v.UserID == "" {
		return nil
	}
	update := domain.PaymentStatusUpdate{PaymentReference: v.Reference}
	switch v.Status {
	case payments.StatusSuccess:
		update.Status = domain.OrderStatusConfirmed
		update.PaymentStatus = domain.PaymentStatusPaid
	case payments.StatusFailed:
		update.Status = domain.OrderStatusFailed
		update.PaymentStatus = domain.PaymentStatusFailed
	default:
		return nil
	}
	if err := s.orders.UpdatePaymentStatus(ctx, v.UserID, v.OrderID, update); err != nil {
		return err
	}
	if s.events != nil {
		if _, err := s.events.Publish(ctx, EventPaymentVerified, v.OrderID, map[string]any{
			"orderId":   v.OrderID,
			"reference": v.Reference,
			"status":    string(v.Status),
			"amount":    v.Amount,
			"provider":  v.Provider,
		}); err != nil {
			s.logger(ctx, "checkout.event.failed", map[string]any{"orderId": v.OrderID, "error": err.Error()})
		}
	}
	return nil
}

func (s *checkoutService) markOrder(ctx context.Context, order Order, update domain.PaymentStatusUpdate) {
	if err := s.orders.UpdatePaymentStatus(ctx, order.UserID, order.OrderID, update); err != nil {
		s.logger(ctx, "checkout.order.update_failed", map[string]any{"orderId": order.OrderID, "error": err.Error()})
	}
}

func (s *checkoutService) record(ctx context.Context, operation string, state CheckoutState) {
	if !s.outcomesEnabled {
		return
	}
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("state", string(state)),
	))
}

func lineItems(order Order) []payments.LineItem {
	items := make([]payments.LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.LineItem{
			CartID:    item.CartID,
			Name:      item.Service.DisplayName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Amount:    item.LineTotal,
		})
	}
	return items
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
