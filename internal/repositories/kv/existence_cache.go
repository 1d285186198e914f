package kv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/homeservices-storefront/api/internal/platform/kvstore"
	"github.com/homeservices-storefront/api/internal/repositories"
)

const existenceKeyPrefix = "route-exists"

// ExistenceCache memoises catalog lookups for the route gate.
type ExistenceCache struct {
	store kvstore.Store
}

var _ repositories.ExistenceCache = (*ExistenceCache)(nil)

// NewExistenceCache binds the cache to store.
func NewExistenceCache(store kvstore.Store) (*ExistenceCache, error) {
	if store == nil {
		return nil, errors.New("existence cache requires kv store")
	}
	return &ExistenceCache{store: store}, nil
}

// Lookup returns the memoised answer for key.
func (c *ExistenceCache) Lookup(ctx context.Context, key string) (bool, bool, error) {
	raw, err := c.store.Get(ctx, existenceKey(key))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return false, false, nil
		}
		return false, false, err
	}
	return string(raw) == "1", true, nil
}

// Store memoises exists for ttl.
func (c *ExistenceCache) Store(ctx context.Context, key string, exists bool, ttl time.Duration) error {
	value := []byte("0")
	if exists {
		value = []byte("1")
	}
	return c.store.Set(ctx, existenceKey(key), value, ttl)
}

func existenceKey(key string) string {
	return existenceKeyPrefix + ":" + strings.ToLower(strings.TrimSpace(key))
}
