package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/platform/kvstore"
	"github.com/homeservices-storefront/api/internal/repositories"
)

// CartKeyPrefix namespaces persisted carts; the full key is cart-storage:{deviceID}.
const CartKeyPrefix = "cart-storage"

// CartStateRepository keeps the complete device cart JSON-encoded under a single key.
type CartStateRepository struct {
	store kvstore.Store
	ttl   time.Duration
}

var _ repositories.CartStateRepository = (*CartStateRepository)(nil)

// NewCartStateRepository binds the cart repository to store. ttl <= 0 keeps carts forever.
func NewCartStateRepository(store kvstore.Store, ttl time.Duration) (*CartStateRepository, error) {
	if store == nil {
		return nil, errors.New("cart state repository requires kv store")
	}
	return &CartStateRepository{store: store, ttl: ttl}, nil
}

// Load returns the stored cart or an empty one.
func (r *CartStateRepository) Load(ctx context.Context, deviceID string) (domain.Cart, error) {
	key, err := cartKey(deviceID)
	if err != nil {
		return domain.Cart{}, err
	}
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return emptyCart(), nil
		}
		return domain.Cart{}, err
	}
	return decodeCart(raw)
}

// Mutate applies fn inside an optimistic read-modify-write so concurrent requests for the
// same device never lose updates.
func (r *CartStateRepository) Mutate(ctx context.Context, deviceID string, fn repositories.CartMutation) (domain.Cart, error) {
	if fn == nil {
		return domain.Cart{}, errors.New("cart state repository: mutation is required")
	}
	key, err := cartKey(deviceID)
	if err != nil {
		return domain.Cart{}, err
	}

	var result domain.Cart
	err = r.store.Update(ctx, key, r.ttl, func(current []byte, exists bool) ([]byte, error) {
		cart := emptyCart()
		if exists {
			decoded, err := decodeCart(current)
			if err != nil {
				return nil, err
			}
			cart = decoded
		}
		if err := fn(&cart); err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(cart)
		if err != nil {
			return nil, fmt.Errorf("encode cart: %w", err)
		}
		result = cart
		return encoded, nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return result, nil
}

// Clear deletes the stored cart.
func (r *CartStateRepository) Clear(ctx context.Context, deviceID string) error {
	key, err := cartKey(deviceID)
	if err != nil {
		return err
	}
	return r.store.Delete(ctx, key)
}

func cartKey(deviceID string) (string, error) {
	id := strings.TrimSpace(deviceID)
	if id == "" {
		return "", errors.New("cart state repository: device id is required")
	}
	return CartKeyPrefix + ":" + id, nil
}

func emptyCart() domain.Cart {
	return domain.Cart{Items: []domain.CartLineItem{}}
}

func decodeCart(raw []byte) (domain.Cart, error) {
	var cart domain.Cart
	if err := json.Unmarshal(raw, &cart); err != nil {
		return domain.Cart{}, fmt.Errorf("decode cart: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartLineItem{}
	}
	return cart, nil
}
