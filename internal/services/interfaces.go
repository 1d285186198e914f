package services

import (
	"context"

	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	ServiceOffering = domain.ServiceOffering
	Cart            = domain.Cart
	CartLineItem    = domain.CartLineItem
	Address         = domain.Address
	AddressInput    = domain.AddressInput
	Order           = domain.Order
	OrderLineItem   = domain.OrderLineItem
	UserProfile     = domain.UserProfile
	ProfilePatch    = domain.ProfilePatch
)

// CartService manages the device-scoped guest cart.
type CartService interface {
	Load(ctx context.Context, deviceID string) (Cart, error)
	AddItem(ctx context.Context, deviceID string, offering ServiceOffering, quantity int) (Cart, error)
	UpdateQuantity(ctx context.Context, deviceID string, cartID string, quantity int) (Cart, error)
	RemoveItem(ctx context.Context, deviceID string, cartID string) (Cart, error)
	ClearCart(ctx context.Context, deviceID string) error
	RemoveOrderedItems(ctx context.Context, deviceID string, items []OrderLineItem) (Cart, error)
	RestoreFromOrder(ctx context.Context, deviceID string, order Order) (Cart, error)
}

// AddressService opens per-session address stores.
type AddressService interface {
	Open(ctx context.Context, session AddressSession) (*AddressStore, error)
}

// OrderSubmitter persists orders to the global and per-user ledgers.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, order Order, ownerID string) (SubmitResult, error)
	GetOrder(ctx context.Context, ownerID string, orderID string) (Order, error)
	UpdatePaymentStatus(ctx context.Context, ownerID string, orderID string, update domain.PaymentStatusUpdate) error
}

// CheckoutService sequences order creation, payment initialisation and verification.
type CheckoutService interface {
	ProcessCardPayment(ctx context.Context, req CardPaymentRequest) CheckoutResult
	BookCash(ctx context.Context, req CashBookingRequest) CheckoutResult
	VerifyPayment(ctx context.Context, reference string) VerificationResult
	PollVerification(ctx context.Context, reference string, opts PollOptions) VerificationResult
	ResolveReturn(ctx context.Context, params ReturnParams) VerificationResult
	HandleGatewayEvent(ctx context.Context, event payments.WebhookEvent) error
}

// ProfileService reads and edits customer profiles.
type ProfileService interface {
	GetUserProfile(ctx context.Context, uid string) (*UserProfile, error)
	UpdateProfile(ctx context.Context, uid string, patch ProfilePatch) (UserProfile, error)
}

// PaymentGateway is the subset of payments.Manager used by checkout.
type PaymentGateway interface {
	InitializePayment(ctx context.Context, req payments.InitializeRequest) (payments.Initialization, error)
	VerifyPayment(ctx context.Context, reference string) (payments.Verification, error)
}

// EventPublisher emits domain events such as order.created.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, subject string, data any) (string, error)
}

func noopLogger(context.Context, string, map[string]any) {}
