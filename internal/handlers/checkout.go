package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/homeservices-storefront/api/internal/platform/auth"
	"github.com/homeservices-storefront/api/internal/platform/httpx"
	"github.com/homeservices-storefront/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers drives order creation and payment for the signed-in customer.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	addresses   services.AddressService
	callbackURL string
	middlewares []func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCallbackURL sets the gateway return URL used when a request does not name one.
func WithCallbackURL(url string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.callbackURL = strings.TrimSpace(url)
	}
}

// WithCheckoutMiddlewares wraps the mutating checkout endpoints, typically with idempotency.
func WithCheckoutMiddlewares(mw ...func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.middlewares = append(h.middlewares, mw...)
	}
}

// NewCheckoutHandlers constructs the checkout endpoints.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, addresses services.AddressService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{authn: authn, checkout: checkout, addresses: addresses}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Group(func(mutating chi.Router) {
		for _, mw := range h.middlewares {
			if mw != nil {
				mutating.Use(mw)
			}
		}
		mutating.Post("/card", h.payByCard)
		mutating.Post("/cash", h.bookCash)
	})
	r.Get("/verify/{reference}", h.verify)
	r.Get("/return", h.resolveReturn)
}

type checkoutRequest struct {
	AddressID            string `json:"addressId" validate:"max=128"`
	DeliveryInstructions string `json:"deliveryInstructions" validate:"max=500"`
	TipAmount            int    `json:"tipAmount" validate:"gte=0"`
	PromoCode            string `json:"promoCode" validate:"max=40"`
	PromoDiscount        int    `json:"promoDiscount" validate:"gte=0"`
	WalletUsed           int    `json:"walletUsed" validate:"gte=0"`
	CallbackURL          string `json:"callbackUrl" validate:"omitempty,url,max=1024"`
}

type checkoutPayload struct {
	State            services.CheckoutState   `json:"state"`
	Trail            []services.CheckoutState `json:"trail"`
	OrderID          string                   `json:"orderId,omitempty"`
	Order            *orderPayload            `json:"order,omitempty"`
	Provider         string                   `json:"provider,omitempty"`
	AuthorizationURL string                   `json:"authorizationUrl,omitempty"`
	Reference        string                   `json:"reference,omitempty"`
	Amount           int                      `json:"amount,omitempty"`
	Message          string                   `json:"message,omitempty"`
	Retryable        bool                     `json:"retryable"`
}

type verificationPayload struct {
	State       services.CheckoutState `json:"state"`
	Reference   string                 `json:"reference,omitempty"`
	OrderID     string                 `json:"orderId,omitempty"`
	CashBooking bool                   `json:"cashBooking"`
	Attempts    int                    `json:"attempts"`
	Amount      int                    `json:"amount,omitempty"`
	PaidAt      string                 `json:"paidAt,omitempty"`
	Message     string                 `json:"message,omitempty"`
}

type orderPayload struct {
	OrderID              string             `json:"orderId"`
	Status               string             `json:"status"`
	Items                []orderItemPayload `json:"items"`
	Subtotal             int                `json:"subtotal"`
	DeliveryFee          int                `json:"deliveryFee"`
	TipAmount            int                `json:"tipAmount"`
	TotalAmount          int                `json:"totalAmount"`
	DeliveryAddress      string             `json:"deliveryAddress"`
	DeliveryInstructions string             `json:"deliveryInstructions,omitempty"`
	PaymentMethod        string             `json:"paymentMethod"`
	PaymentStatus        string             `json:"paymentStatus"`
	ServiceTypes         []string           `json:"serviceTypes"`
	PromoCode            *string            `json:"promoCode,omitempty"`
	PromoDiscount        *int               `json:"promoDiscount,omitempty"`
	WalletUsed           *int               `json:"walletUsed,omitempty"`
	CreatedAt            string             `json:"createdAt"`
}

type orderItemPayload struct {
	CartID    string `json:"cartId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unitPrice"`
	LineTotal int    `json:"lineTotal"`
}

func (h *CheckoutHandlers) payByCard(w http.ResponseWriter, r *http.Request) {
	base, req, ok := h.prepare(w, r)
	if !ok {
		return
	}
	callback := strings.TrimSpace(req.CallbackURL)
	if callback == "" {
		callback = h.callbackURL
	}
	result := h.checkout.ProcessCardPayment(r.Context(), services.CardPaymentRequest{
		CheckoutRequest: base,
		CallbackURL:     callback,
	})
	writeCheckoutResult(r.Context(), w, result, http.StatusOK)
}

func (h *CheckoutHandlers) bookCash(w http.ResponseWriter, r *http.Request) {
	base, _, ok := h.prepare(w, r)
	if !ok {
		return
	}
	result := h.checkout.BookCash(r.Context(), services.CashBookingRequest{CheckoutRequest: base})
	writeCheckoutResult(r.Context(), w, result, http.StatusCreated)
}

// prepare decodes the body and resolves the delivery address from the caller's address book.
func (h *CheckoutHandlers) prepare(w http.ResponseWriter, r *http.Request) (services.CheckoutRequest, checkoutRequest, bool) {
	var req checkoutRequest
	if h.checkout == nil || h.addresses == nil {
		serviceUnavailable(w, r, "checkout")
		return services.CheckoutRequest{}, req, false
	}
	deviceID, ok := requireDevice(w, r)
	if !ok {
		return services.CheckoutRequest{}, req, false
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return services.CheckoutRequest{}, req, false
	}
	if !decodeRequest(w, r, maxCheckoutRequestBody, &req) {
		return services.CheckoutRequest{}, req, false
	}

	ctx := r.Context()
	store, err := h.addresses.Open(ctx, services.AddressSession{DeviceID: deviceID, UserID: identity.UID})
	if err != nil {
		writeAddressError(ctx, w, err)
		return services.CheckoutRequest{}, req, false
	}
	address, found := pickAddress(store.Snapshot(), strings.TrimSpace(req.AddressID))
	if !found {
		httpx.WriteError(ctx, w, httpx.NewError("address_required", "choose a delivery address before checking out", http.StatusUnprocessableEntity))
		return services.CheckoutRequest{}, req, false
	}

	return services.CheckoutRequest{
		DeviceID: deviceID,
		Customer: services.OrderCustomer{
			UserID: identity.UID,
			Email:  identity.Email,
			Name:   identity.Name,
		},
		Address:              address,
		DeliveryInstructions: req.DeliveryInstructions,
		TipAmount:            req.TipAmount,
		PromoCode:            req.PromoCode,
		PromoDiscount:        req.PromoDiscount,
		WalletUsed:           req.WalletUsed,
	}, req, true
}

func pickAddress(state services.AddressState, id string) (services.Address, bool) {
	if id == "" {
		if state.Active == nil {
			return services.Address{}, false
		}
		return *state.Active, true
	}
	for _, addr := range state.Addresses {
		if addr.ID == id {
			return addr, true
		}
	}
	return services.Address{}, false
}

func (h *CheckoutHandlers) verify(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		serviceUnavailable(w, r, "checkout")
		return
	}
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "payment reference is required", http.StatusBadRequest))
		return
	}
	writeVerification(r.Context(), w, h.checkout.VerifyPayment(r.Context(), reference))
}

func (h *CheckoutHandlers) resolveReturn(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		serviceUnavailable(w, r, "checkout")
		return
	}
	query := r.URL.Query()
	params := services.ReturnParams{
		Reference: strings.TrimSpace(firstQuery(query.Get("reference"), query.Get("trxref"))),
		OrderID:   strings.TrimSpace(query.Get("orderId")),
	}
	if params.Reference == "" && params.OrderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "reference or orderId is required", http.StatusBadRequest))
		return
	}
	writeVerification(r.Context(), w, h.checkout.ResolveReturn(r.Context(), params))
}

func firstQuery(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func writeCheckoutResult(ctx context.Context, w http.ResponseWriter, result services.CheckoutResult, successStatus int) {
	payload := checkoutPayload{
		State:            result.State,
		Trail:            result.Trail,
		OrderID:          result.OrderID,
		Provider:         result.Provider,
		AuthorizationURL: result.AuthorizationURL,
		Reference:        result.Reference,
		Amount:           result.Amount,
		Message:          result.Message,
		Retryable:        result.Retryable,
	}
	if result.Order != nil {
		order := buildOrderPayload(*result.Order)
		payload.Order = &order
	}
	if result.Success() {
		writeJSONResponse(w, successStatus, payload)
		return
	}

	status, code := http.StatusInternalServerError, "checkout_error"
	switch {
	case errors.Is(result.Error, services.ErrCheckoutInvalidInput):
		status, code = http.StatusBadRequest, "invalid_checkout"
	case errors.Is(result.Error, services.ErrCheckoutCartEmpty):
		status, code = http.StatusConflict, "cart_empty"
	case errors.Is(result.Error, services.ErrCheckoutUnavailable):
		status, code = http.StatusServiceUnavailable, "checkout_unavailable"
	case errors.Is(result.Error, services.ErrOrderCreationFailed):
		status, code = http.StatusServiceUnavailable, "order_creation_failed"
	case errors.Is(result.Error, services.ErrPaymentInitFailed) && result.State == services.StateFailed:
		status, code = http.StatusPaymentRequired, "payment_init_failed"
	case errors.Is(result.Error, services.ErrPaymentInitFailed):
		status, code = http.StatusBadGateway, "payment_gateway_error"
	}
	message := result.Message
	if message == "" {
		message = "checkout failed"
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status).WithDetails(map[string]any{"checkout": payload}))
}

func writeVerification(ctx context.Context, w http.ResponseWriter, result services.VerificationResult) {
	payload := verificationPayload{
		State:       result.State,
		Reference:   result.Reference,
		OrderID:     result.OrderID,
		CashBooking: result.CashBooking,
		Attempts:    result.Attempts,
		Message:     result.Message,
	}
	if v := result.Verification; v != nil {
		payload.Amount = v.Amount
		if v.PaidAt != nil {
			payload.PaidAt = v.PaidAt.UTC().Format(time.RFC3339)
		}
	}
	writeNoStore(w)
	switch {
	case errors.Is(result.Error, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment reference is required", http.StatusBadRequest))
	default:
		// Failed, pending and indeterminate outcomes are states for the return page, not transport errors.
		writeJSONResponse(w, http.StatusOK, payload)
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		OrderID:              order.OrderID,
		Status:               order.Status,
		Items:                make([]orderItemPayload, 0, len(order.Items)),
		Subtotal:             order.Subtotal,
		DeliveryFee:          order.DeliveryFee,
		TipAmount:            order.TipAmount,
		TotalAmount:          order.TotalAmount,
		DeliveryAddress:      formatAddress(order.DeliveryAddress.Street, order.DeliveryAddress.Suburb, order.DeliveryAddress.Town),
		DeliveryInstructions: order.DeliveryInstructions,
		PaymentMethod:        order.PaymentMethod,
		PaymentStatus:        order.PaymentStatus,
		ServiceTypes:         append([]string(nil), order.ServiceTypes...),
		PromoCode:            order.PromoCode,
		PromoDiscount:        order.PromoDiscount,
		WalletUsed:           order.WalletUsed,
		CreatedAt:            order.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, item := range order.Items {
		name := item.Service.DisplayName
		if name == "" {
			name = item.Service.Name
		}
		payload.Items = append(payload.Items, orderItemPayload{
			CartID:    item.CartID,
			Name:      name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	return payload
}

func formatAddress(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ", ")
}
