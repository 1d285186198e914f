package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound indicates no line carries the requested cart id.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartUnavailable indicates the device storage cannot be reached.
	ErrCartUnavailable = errors.New("cart: unavailable")
	// ErrCartConflict indicates concurrent writers kept racing on the same cart.
	ErrCartConflict = errors.New("cart: conflict")
)

// CartServiceDeps wires the device cart repository.
type CartServiceDeps struct {
	Repository repositories.CartStateRepository
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type cartStore struct {
	repo   repositories.CartStateRepository
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewCartService constructs the cart store.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errors.New("cart service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &cartStore{
		repo:   deps.Repository,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *cartStore) Load(ctx context.Context, deviceID string) (Cart, error) {
	if strings.TrimSpace(deviceID) == "" {
		return Cart{}, ErrCartInvalidInput
	}
	cart, err := s.repo.Load(ctx, deviceID)
	if err != nil {
		return Cart{}, translateCartError(err)
	}
	return cart, nil
}

// AddItem merges into an existing line with the same (id, selectedSize) or appends a new one.
func (s *cartStore) AddItem(ctx context.Context, deviceID string, offering ServiceOffering, quantity int) (Cart, error) {
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 || offering.ID == 0 || strings.TrimSpace(deviceID) == "" {
		return Cart{}, ErrCartInvalidInput
	}

	now := s.now()
	merged := false
	cart, err := s.repo.Mutate(ctx, deviceID, func(cart *domain.Cart) error {
		merged = false
		for i := range cart.Items {
			line := &cart.Items[i]
			if line.ID == offering.ID && line.SelectedSize == offering.SelectedSize {
				line.Quantity += quantity
				merged = true
				break
			}
		}
		if !merged {
			cart.Items = append(cart.Items, domain.CartLineItem{
				CartID:          NewCartID(offering, now),
				ServiceOffering: offering.Clone(),
				Quantity:        quantity,
				AddedAt:         now,
			})
		}
		cart.TotalItems += quantity
		cart.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Cart{}, translateCartError(err)
	}

	s.logger(ctx, "cart.item.added", map[string]any{
		"offeringId": offering.ID,
		"size":       offering.SelectedSize,
		"quantity":   quantity,
		"merged":     merged,
		"totalItems": cart.TotalItems,
	})
	return cart, nil
}

// UpdateQuantity sets the quantity of the line; zero removes it.
func (s *cartStore) UpdateQuantity(ctx context.Context, deviceID string, cartID string, quantity int) (Cart, error) {
	if quantity < 0 {
		return Cart{}, ErrCartInvalidInput
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, deviceID, cartID)
	}
	id := strings.TrimSpace(cartID)
	if id == "" || strings.TrimSpace(deviceID) == "" {
		return Cart{}, ErrCartInvalidInput
	}

	now := s.now()
	cart, err := s.repo.Mutate(ctx, deviceID, func(cart *domain.Cart) error {
		for i := range cart.Items {
			if cart.Items[i].CartID != id {
				continue
			}
			cart.TotalItems += quantity - cart.Items[i].Quantity
			if cart.TotalItems < 0 {
				cart.TotalItems = 0
			}
			cart.Items[i].Quantity = quantity
			cart.UpdatedAt = now
			return nil
		}
		return ErrCartItemNotFound
	})
	if err != nil {
		return Cart{}, translateCartError(err)
	}
	return cart, nil
}

// RemoveItem deletes the line. Removing an unknown cart id leaves the cart untouched.
func (s *cartStore) RemoveItem(ctx context.Context, deviceID string, cartID string) (Cart, error) {
	id := strings.TrimSpace(cartID)
	if id == "" || strings.TrimSpace(deviceID) == "" {
		return Cart{}, ErrCartInvalidInput
	}

	now := s.now()
	cart, err := s.repo.Mutate(ctx, deviceID, func(cart *domain.Cart) error {
		for i := range cart.Items {
			if cart.Items[i].CartID != id {
				continue
			}
			cart.TotalItems -= cart.Items[i].Quantity
			if cart.TotalItems < 0 {
				cart.TotalItems = 0
			}
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			cart.UpdatedAt = now
			return nil
		}
		return nil
	})
	if err != nil {
		return Cart{}, translateCartError(err)
	}
	return cart, nil
}

func (s *cartStore) ClearCart(ctx context.Context, deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return ErrCartInvalidInput
	}
	if err := s.repo.Clear(ctx, deviceID); err != nil {
		return translateCartError(err)
	}
	s.logger(ctx, "cart.cleared", nil)
	return nil
}

// RemoveOrderedItems takes the ordered quantities out of the cart by cart id. Lines added or
// topped up after the order snapshot keep whatever was not ordered.
func (s *cartStore) RemoveOrderedItems(ctx context.Context, deviceID string, items []OrderLineItem) (Cart, error) {
	if strings.TrimSpace(deviceID) == "" {
		return Cart{}, ErrCartInvalidInput
	}
	ordered := make(map[string]int, len(items))
	for _, item := range items {
		if id := strings.TrimSpace(item.CartID); id != "" && item.Quantity > 0 {
			ordered[id] += item.Quantity
		}
	}
	if len(ordered) == 0 {
		return s.Load(ctx, deviceID)
	}

	now := s.now()
	removed := 0
	cart, err := s.repo.Mutate(ctx, deviceID, func(cart *domain.Cart) error {
		removed = 0
		kept := cart.Items[:0]
		total := 0
		for _, line := range cart.Items {
			if qty, ok := ordered[line.CartID]; ok {
				taken := min(qty, line.Quantity)
				line.Quantity -= taken
				removed += taken
			}
			if line.Quantity > 0 {
				kept = append(kept, line)
				total += line.Quantity
			}
		}
		cart.Items = kept
		cart.TotalItems = total
		if removed > 0 {
			cart.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return Cart{}, translateCartError(err)
	}
	s.logger(ctx, "cart.ordered_items.removed", map[string]any{"removed": removed, "remaining": cart.TotalItems})
	return cart, nil
}

// RestoreFromOrder re-adds the snapshot items of an unpaid order into an empty cart, so a
// customer who abandoned the gateway can retry.
func (s *cartStore) RestoreFromOrder(ctx context.Context, deviceID string, order Order) (Cart, error) {
	if strings.TrimSpace(deviceID) == "" {
		return Cart{}, ErrCartInvalidInput
	}
	if order.PaymentStatus != domain.PaymentStatusPending && order.PaymentStatus != domain.PaymentStatusFailed {
		return Cart{}, ErrCartInvalidInput
	}

	now := s.now()
	restored := 0
	cart, err := s.repo.Mutate(ctx, deviceID, func(cart *domain.Cart) error {
		restored = 0
		if len(cart.Items) > 0 {
			return nil
		}
		for _, item := range order.Items {
			if item.Quantity <= 0 {
				continue
			}
			offering := offeringFromSnapshot(item.Service)
			cartID := strings.TrimSpace(item.CartID)
			if cartID == "" {
				cartID = NewCartID(offering, now)
			}
			cart.Items = append(cart.Items, domain.CartLineItem{
				CartID:          cartID,
				ServiceOffering: offering,
				Quantity:        item.Quantity,
				AddedAt:         now,
			})
			cart.TotalItems += item.Quantity
			restored++
		}
		if restored > 0 {
			cart.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return Cart{}, translateCartError(err)
	}
	s.logger(ctx, "cart.restored", map[string]any{"orderId": order.OrderID, "lines": restored})
	return cart, nil
}

// NewCartID composes the line identity from id, size and the creation instant.
func NewCartID(offering ServiceOffering, at time.Time) string {
	size := strings.TrimSpace(offering.SelectedSize)
	if size == "" {
		size = "default"
	}
	return fmt.Sprintf("%s-%s-%d", strconv.FormatInt(offering.ID, 10), size, at.UnixMilli())
}

func offeringFromSnapshot(snap domain.OfferingSnapshot) ServiceOffering {
	provider, _ := domain.LookupProvider(snap.Provider)
	return ServiceOffering{
		ID:            snap.ID,
		Name:          snap.Name,
		Introduction:  snap.Introduction,
		Price:         append([]int(nil), snap.Price...),
		Size:          append([]string(nil), snap.Size...),
		Img:           snap.Img,
		Type:          snap.Type,
		Material:      snap.Material,
		Provider:      provider,
		ProviderLabel: domain.DisplayLabel(provider, snap.Provider),
		Time:          snap.Time,
		Details:       append([]domain.Detail(nil), snap.Details...),
		SelectedSize:  snap.SelectedSize,
		IsSizeVariant: snap.IsSizeVariant,
		OriginalID:    snap.OriginalID,
	}
}

func translateCartError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCartItemNotFound) || errors.Is(err, ErrCartInvalidInput) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return ErrCartConflict
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}
