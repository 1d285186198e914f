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

// AddressKeyPrefix namespaces the device address slot.
const AddressKeyPrefix = "address-storage"

// AddressCache is the single-slot device address cache.
type AddressCache struct {
	store kvstore.Store
	ttl   time.Duration
}

var _ repositories.AddressCache = (*AddressCache)(nil)

// NewAddressCache binds the cache to store.
func NewAddressCache(store kvstore.Store, ttl time.Duration) (*AddressCache, error) {
	if store == nil {
		return nil, errors.New("address cache requires kv store")
	}
	return &AddressCache{store: store, ttl: ttl}, nil
}

// Load returns the cached address or nil.
func (c *AddressCache) Load(ctx context.Context, deviceID string) (*domain.Address, error) {
	key, err := addressKey(deviceID)
	if err != nil {
		return nil, err
	}
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var projection cachedAddress
	if err := json.Unmarshal(raw, &projection); err != nil {
		return nil, fmt.Errorf("decode cached address: %w", err)
	}
	addr := projection.toDomain()
	return &addr, nil
}

// Save overwrites the slot with the minimal projection of addr.
func (c *AddressCache) Save(ctx context.Context, deviceID string, addr domain.Address) error {
	key, err := addressKey(deviceID)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(projectAddress(addr))
	if err != nil {
		return fmt.Errorf("encode cached address: %w", err)
	}
	return c.store.Set(ctx, key, encoded, c.ttl)
}

// Clear empties the slot.
func (c *AddressCache) Clear(ctx context.Context, deviceID string) error {
	key, err := addressKey(deviceID)
	if err != nil {
		return err
	}
	return c.store.Delete(ctx, key)
}

func addressKey(deviceID string) (string, error) {
	id := strings.TrimSpace(deviceID)
	if id == "" {
		return "", errors.New("address cache: device id is required")
	}
	return AddressKeyPrefix + ":" + id, nil
}

type cachedAddress struct {
	ID             string    `json:"id"`
	Street         string    `json:"street"`
	Suburb         string    `json:"suburb,omitempty"`
	Town           string    `json:"town,omitempty"`
	Country        string    `json:"country,omitempty"`
	Zip            string    `json:"zip,omitempty"`
	AdditionalInfo string    `json:"additionalInfo,omitempty"`
	Label          string    `json:"label"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	IsValid        bool      `json:"isValid"`
	Timestamp      time.Time `json:"timestamp"`
}

func projectAddress(addr domain.Address) cachedAddress {
	return cachedAddress{
		ID:             addr.ID,
		Street:         addr.Street,
		Suburb:         addr.Suburb,
		Town:           addr.Town,
		Country:        addr.Country,
		Zip:            addr.Zip,
		AdditionalInfo: addr.AdditionalInfo,
		Label:          addr.Label,
		Lat:            addr.Lat,
		Lng:            addr.Lng,
		IsValid:        addr.IsValid,
		Timestamp:      addr.Timestamp,
	}
}

// The cached slot always holds the active address.
func (c cachedAddress) toDomain() domain.Address {
	return domain.Address{
		ID:             c.ID,
		Street:         c.Street,
		Suburb:         c.Suburb,
		Town:           c.Town,
		Country:        c.Country,
		Zip:            c.Zip,
		AdditionalInfo: c.AdditionalInfo,
		Label:          c.Label,
		Selected:       true,
		Lat:            c.Lat,
		Lng:            c.Lng,
		IsValid:        c.IsValid,
		Timestamp:      c.Timestamp,
	}
}
