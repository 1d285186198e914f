package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/repositories"
)

const (
	defaultOrderIDAttempts = 3
	orderIDLetters         = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// EventOrderCreated is published once both ledgers hold the order.
	EventOrderCreated = "order.created"
)

var (
	// ErrOrderNotFound indicates the order does not exist in the requested ledger.
	ErrOrderNotFound = errors.New("orders: not found")
	// ErrOrderIDExhausted indicates every generated order id collided with an existing order.
	ErrOrderIDExhausted = errors.New("orders: could not allocate a unique order id")
	// ErrOrderPersistence wraps ledger write failures.
	ErrOrderPersistence = errors.New("orders: persistence failed")
)

// OrderSubmissionDeps wires the ledgers and the event stream.
type OrderSubmissionDeps struct {
	Orders      repositories.OrderRepository
	Events      EventPublisher
	Random      func(n int) int
	MaxAttempts int
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// SubmitResult carries the persisted order and its id.
type SubmitResult struct {
	OrderID string
	Order   Order
}

type orderSubmitter struct {
	orders   repositories.OrderRepository
	events   EventPublisher
	random   func(n int) int
	attempts int
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderSubmitter constructs the order submission service.
func NewOrderSubmitter(deps OrderSubmissionDeps) (OrderSubmitter, error) {
	if deps.Orders == nil {
		return nil, errors.New("order submitter: order repository is required")
	}
	random := deps.Random
	if random == nil {
		random = rand.Intn
	}
	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultOrderIDAttempts
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &orderSubmitter{
		orders:   deps.Orders,
		events:   deps.Events,
		random:   random,
		attempts: attempts,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// NewOrderID draws two uppercase letters and five digits from random, which must return a
// uniform value in [0, n).
func NewOrderID(random func(n int) int) string {
	if random == nil {
		random = rand.Intn
	}
	var b strings.Builder
	b.Grow(7)
	for i := 0; i < 2; i++ {
		b.WriteByte(orderIDLetters[random(len(orderIDLetters))])
	}
	for i := 0; i < 5; i++ {
		b.WriteByte(byte('0' + random(10)))
	}
	return b.String()
}

// SubmitOrder writes the identical sanitized document to the global and owner ledgers. An id that
// already exists in the global ledger is replaced by a fresh one up to the configured attempts.
func (s *orderSubmitter) SubmitOrder(ctx context.Context, order Order, ownerID string) (SubmitResult, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return SubmitResult{}, fmt.Errorf("%w: owner id is required", ErrOrderInvalidInput)
	}
	if len(order.Items) == 0 {
		return SubmitResult{}, fmt.Errorf("%w: no items", ErrOrderInvalidInput)
	}
	if order.UserID == "" {
		order.UserID = ownerID
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	for attempt := 1; attempt <= s.attempts; attempt++ {
		order.OrderID = NewOrderID(s.random)
		doc, err := OrderDocument(order)
		if err != nil {
			return SubmitResult{}, err
		}
		err = s.orders.CreateLedgers(ctx, order.OrderID, ownerID, doc)
		if errors.Is(err, repositories.ErrOrderIDTaken) {
			s.logger(ctx, "orders.id.collision", map[string]any{"orderId": order.OrderID, "attempt": attempt})
			continue
		}
		if err != nil {
			s.logger(ctx, "orders.submit.failed", map[string]any{
				"orderId": order.OrderID,
				"ownerId": ownerID,
				"items":   len(order.Items),
				"error":   err.Error(),
			})
			return SubmitResult{}, fmt.Errorf("%w: %v", ErrOrderPersistence, err)
		}

		s.logger(ctx, "orders.submitted", map[string]any{
			"orderId":       order.OrderID,
			"ownerId":       ownerID,
			"totalAmount":   order.TotalAmount,
			"paymentMethod": order.PaymentMethod,
		})
		s.publish(ctx, EventOrderCreated, order.OrderID, map[string]any{
			"orderId":       order.OrderID,
			"userId":        order.UserID,
			"totalAmount":   order.TotalAmount,
			"paymentMethod": order.PaymentMethod,
			"serviceTypes":  order.ServiceTypes,
		})
		return SubmitResult{OrderID: order.OrderID, Order: order}, nil
	}
	return SubmitResult{}, ErrOrderIDExhausted
}

// GetOrder reads the order from the owner's ledger, or the global ledger when ownerID is blank.
func (s *orderSubmitter) GetOrder(ctx context.Context, ownerID string, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.Get(ctx, strings.TrimSpace(ownerID), orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("%w: %v", ErrOrderPersistence, err)
	}
	return order, nil
}

// UpdatePaymentStatus patches status fields on both ledgers.
func (s *orderSubmitter) UpdatePaymentStatus(ctx context.Context, ownerID string, orderID string, update domain.PaymentStatusUpdate) error {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("%w: owner and order id are required", ErrOrderInvalidInput)
	}
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = s.now()
	}
	if err := s.orders.UpdatePaymentStatus(ctx, ownerID, orderID, update); err != nil {
		if repositories.IsNotFound(err) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("%w: %v", ErrOrderPersistence, err)
	}
	return nil
}

func (s *orderSubmitter) publish(ctx context.Context, eventType, subject string, data any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Publish(ctx, eventType, subject, data); err != nil {
		s.logger(ctx, "orders.event.failed", map[string]any{"eventType": eventType, "subject": subject, "error": err.Error()})
	}
}
