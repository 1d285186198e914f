package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/platform/kvstore"
)

func TestCartStateLoadEmpty(t *testing.T) {
	repo, err := NewCartStateRepository(kvstore.NewMemoryStore(nil), 0)
	if err != nil {
		t.Fatalf("NewCartStateRepository: %v", err)
	}
	cart, err := repo.Load(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cart.Items == nil || len(cart.Items) != 0 || cart.TotalItems != 0 {
		t.Fatalf("expected empty cart, got %+v", cart)
	}
}

func TestCartStateMutatePersistsUnderFixedKey(t *testing.T) {
	store := kvstore.NewMemoryStore(nil)
	repo, _ := NewCartStateRepository(store, time.Hour)
	ctx := context.Background()

	_, err := repo.Mutate(ctx, "device-1", func(cart *domain.Cart) error {
		cart.Items = append(cart.Items, domain.CartLineItem{CartID: "5-S-1", Quantity: 2})
		cart.TotalItems = 2
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if _, err := store.Get(ctx, "cart-storage:device-1"); err != nil {
		t.Fatalf("expected cart-storage key to exist: %v", err)
	}

	cart, _ := repo.Load(ctx, "device-1")
	if cart.TotalItems != 2 || len(cart.Items) != 1 {
		t.Fatalf("unexpected cart %+v", cart)
	}
}

func TestCartStateMutateAbortsOnError(t *testing.T) {
	repo, _ := NewCartStateRepository(kvstore.NewMemoryStore(nil), 0)
	ctx := context.Background()
	boom := errors.New("invalid")

	if _, err := repo.Mutate(ctx, "device-1", func(*domain.Cart) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	cart, _ := repo.Load(ctx, "device-1")
	if len(cart.Items) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestCartStateConcurrentMutations(t *testing.T) {
	repo, _ := NewCartStateRepository(kvstore.NewMemoryStore(nil), 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.Mutate(ctx, "device-1", func(cart *domain.Cart) error {
				cart.TotalItems++
				return nil
			})
		}()
	}
	wg.Wait()

	cart, _ := repo.Load(ctx, "device-1")
	if cart.TotalItems != 25 {
		t.Fatalf("expected 25, got %d", cart.TotalItems)
	}
}

func TestCartStateRequiresDeviceID(t *testing.T) {
	repo, _ := NewCartStateRepository(kvstore.NewMemoryStore(nil), 0)
	if _, err := repo.Load(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank device id")
	}
}

func TestAddressCacheRoundTrip(t *testing.T) {
	cache, err := NewAddressCache(kvstore.NewMemoryStore(nil), 0)
	if err != nil {
		t.Fatalf("NewAddressCache: %v", err)
	}
	ctx := context.Background()

	got, err := cache.Load(ctx, "device-1")
	if err != nil || got != nil {
		t.Fatalf("expected empty slot, got %+v %v", got, err)
	}

	if err := cache.Save(ctx, "device-1", domain.Address{ID: "a1", Street: "1 Marina", Label: "Home", IsValid: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = cache.Load(ctx, "device-1")
	if err != nil || got == nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != "a1" || got.Street != "1 Marina" || !got.Selected || !got.IsValid {
		t.Fatalf("unexpected cached address %+v", got)
	}

	if err := cache.Clear(ctx, "device-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := cache.Load(ctx, "device-1"); got != nil {
		t.Fatalf("expected cleared slot")
	}
}

func TestExistenceCache(t *testing.T) {
	now := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	store := kvstore.NewMemoryStore(func() time.Time { return now })
	cache, _ := NewExistenceCache(store)
	ctx := context.Background()

	if _, found, _ := cache.Lookup(ctx, "service:deep-clean"); found {
		t.Fatalf("expected miss")
	}
	_ = cache.Store(ctx, "service:deep-clean", true, time.Minute)
	_ = cache.Store(ctx, "service:unknown", false, time.Minute)

	if exists, found, _ := cache.Lookup(ctx, "SERVICE:deep-clean"); !found || !exists {
		t.Fatalf("expected cached hit")
	}
	if exists, found, _ := cache.Lookup(ctx, "service:unknown"); !found || exists {
		t.Fatalf("expected cached negative")
	}

	now = now.Add(2 * time.Minute)
	if _, found, _ := cache.Lookup(ctx, "service:deep-clean"); found {
		t.Fatalf("expected expiry")
	}
}
