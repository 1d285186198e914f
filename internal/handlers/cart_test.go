package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/platform/kvstore"
	"github.com/homeservices-storefront/api/internal/repositories/kv"
	"github.com/homeservices-storefront/api/internal/services"
)

type stubOrderSubmitter struct {
	orders map[string]services.Order
	err    error
}

func (s *stubOrderSubmitter) SubmitOrder(context.Context, services.Order, string) (services.SubmitResult, error) {
	return services.SubmitResult{}, errors.New("not implemented")
}

func (s *stubOrderSubmitter) GetOrder(_ context.Context, ownerID string, orderID string) (services.Order, error) {
	if s.err != nil {
		return services.Order{}, s.err
	}
	order, ok := s.orders[ownerID+"/"+orderID]
	if !ok {
		return services.Order{}, services.ErrOrderNotFound
	}
	return order, nil
}

func (s *stubOrderSubmitter) UpdatePaymentStatus(context.Context, string, string, domain.PaymentStatusUpdate) error {
	return nil
}

func newCartRouter(t *testing.T, orders services.OrderSubmitter) (http.Handler, services.CartService) {
	t.Helper()
	repo, err := kv.NewCartStateRepository(kvstore.NewMemoryStore(nil), time.Hour)
	if err != nil {
		t.Fatalf("NewCartStateRepository: %v", err)
	}
	carts, err := services.NewCartService(services.CartServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	router := chi.NewRouter()
	NewCartHandlers(nil, carts, orders).Routes(router)
	return router, carts
}

const deepCleanBody = `{"offering":{"id":11,"name":"Deep Clean","price":[450,650],"size":["2 rooms","4 rooms"],"provider":"cleaners","selectedSize":"4 rooms","isSizeVariant":true,"originalId":10},"quantity":2}`

func TestCartHandlersAddAndMergeItems(t *testing.T) {
	router, _ := newCartRouter(t, nil)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodPost, "/cart/items", deepCleanBody), "device-1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("add #%d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodGet, "/cart", ""), "device-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got == "" {
		t.Fatalf("expected no-store cache headers")
	}
	var payload struct {
		Items []struct {
			CartID      string `json:"cartId"`
			Quantity    int    `json:"quantity"`
			DisplayName string `json:"displayName"`
			ActualPrice int    `json:"actualPrice"`
			LineTotal   int    `json:"lineTotal"`
		} `json:"items"`
		TotalItems int `json:"totalItems"`
		Subtotal   int `json:"subtotal"`
	}
	decodeBody(t, rec, &payload)
	if len(payload.Items) != 1 {
		t.Fatalf("expected merged single line, got %d", len(payload.Items))
	}
	item := payload.Items[0]
	if item.Quantity != 4 || payload.TotalItems != 4 {
		t.Fatalf("expected quantity 4, got line=%d total=%d", item.Quantity, payload.TotalItems)
	}
	if item.DisplayName != "Deep Clean (4 rooms)" || item.ActualPrice != 650 || item.LineTotal != 2600 {
		t.Fatalf("unexpected line %+v", item)
	}
	if payload.Subtotal != 2600 {
		t.Fatalf("expected subtotal 2600, got %d", payload.Subtotal)
	}
	if item.CartID == "" {
		t.Fatalf("expected cart id")
	}
}

func TestCartHandlersScopedPerDevice(t *testing.T) {
	router, _ := newCartRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodPost, "/cart/items", deepCleanBody), "device-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodGet, "/cart", ""), "device-2"))
	var payload cartPayload
	decodeBody(t, rec, &payload)
	if payload.TotalItems != 0 || len(payload.Items) != 0 {
		t.Fatalf("expected empty cart for other device, got %+v", payload)
	}
}

func TestCartHandlersValidation(t *testing.T) {
	router, _ := newCartRouter(t, nil)

	cases := []struct {
		name string
		req  *http.Request
		code string
	}{
		{"missing device", newJSONRequest(http.MethodGet, "/cart", ""), "device_required"},
		{"missing offering id", withDevice(newJSONRequest(http.MethodPost, "/cart/items", `{"offering":{"name":"x","price":[1]}}`), "d"), "invalid_request"},
		{"negative quantity", withDevice(newJSONRequest(http.MethodPost, "/cart/items", `{"offering":{"id":1,"name":"x","price":[1]},"quantity":-1}`), "d"), "invalid_request"},
		{"quantity required on patch", withDevice(newJSONRequest(http.MethodPatch, "/cart/items/abc", `{}`), "d"), "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, tc.req)
			assertErrorCode(t, rec, http.StatusBadRequest, tc.code)
		})
	}
}

func TestCartHandlersUpdateRemoveAndClear(t *testing.T) {
	router, carts := newCartRouter(t, nil)
	ctx := context.Background()
	cart, err := carts.AddItem(ctx, "device-1", services.ServiceOffering{ID: 5, Name: "Gutter Clean", Price: []int{300}}, 1)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := carts.AddItem(ctx, "device-1", services.ServiceOffering{ID: 6, Name: "Window Wash", Price: []int{120}}, 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	cartID := cart.Items[0].CartID

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodPatch, "/cart/items/"+cartID, `{"quantity":3}`), "device-1"))
	var payload cartPayload
	decodeBody(t, rec, &payload)
	if rec.Code != http.StatusOK || payload.TotalItems != 4 || payload.Subtotal != 1020 {
		t.Fatalf("unexpected update result %d %+v", rec.Code, payload)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodPatch, "/cart/items/missing", `{"quantity":3}`), "device-1"))
	assertErrorCode(t, rec, http.StatusNotFound, "cart_item_not_found")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodDelete, "/cart/items/"+cartID, ""), "device-1"))
	payload = cartPayload{}
	decodeBody(t, rec, &payload)
	if rec.Code != http.StatusOK || payload.TotalItems != 1 || len(payload.Items) != 1 {
		t.Fatalf("unexpected remove result %d %+v", rec.Code, payload)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodDelete, "/cart", ""), "device-1"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	current, err := carts.Load(ctx, "device-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(current.Items) != 0 {
		t.Fatalf("expected cleared cart, got %+v", current)
	}
}

func TestCartHandlersRestoreFromOrder(t *testing.T) {
	orders := &stubOrderSubmitter{orders: map[string]services.Order{
		"user-1/HS12345": {
			OrderID:       "HS12345",
			PaymentStatus: domain.PaymentStatusPending,
			Items: []services.OrderLineItem{{
				CartID:   "5-default-1",
				Quantity: 2,
				Service:  domain.OfferingSnapshot{ID: 5, Name: "Gutter Clean", Price: []int{300}, Provider: "gardening"},
			}},
		},
		"user-1/HS99999": {OrderID: "HS99999", PaymentStatus: domain.PaymentStatusPaid},
	}}
	router, _ := newCartRouter(t, orders)

	t.Run("requires identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodPost, "/cart:restore", `{"orderId":"HS12345"}`), "device-1"))
		assertErrorCode(t, rec, http.StatusUnauthorized, "unauthenticated")
	})

	t.Run("unknown order", func(t *testing.T) {
		req := withIdentity(withDevice(newJSONRequest(http.MethodPost, "/cart:restore", `{"orderId":"HS00000"}`), "device-1"), "user-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assertErrorCode(t, rec, http.StatusNotFound, "order_not_found")
	})

	t.Run("paid order", func(t *testing.T) {
		req := withIdentity(withDevice(newJSONRequest(http.MethodPost, "/cart:restore", `{"orderId":"HS99999"}`), "device-1"), "user-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assertErrorCode(t, rec, http.StatusConflict, "order_not_restorable")
	})

	t.Run("pending order", func(t *testing.T) {
		req := withIdentity(withDevice(newJSONRequest(http.MethodPost, "/cart:restore", `{"orderId":"HS12345"}`), "device-1"), "user-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var payload cartPayload
		decodeBody(t, rec, &payload)
		if payload.TotalItems != 2 || payload.Subtotal != 600 {
			t.Fatalf("unexpected restored cart %+v", payload)
		}
	})
}

func TestCartHandlersPriceFromCatalog(t *testing.T) {
	repo, err := kv.NewCartStateRepository(kvstore.NewMemoryStore(nil), time.Hour)
	if err != nil {
		t.Fatalf("NewCartStateRepository: %v", err)
	}
	carts, err := services.NewCartService(services.CartServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	reader := &stubCatalog{offerings: map[string][]domain.ServiceOffering{
		"home": {{ID: 10, Name: "Deep Clean", Price: []int{450, 650}, Size: []string{"2 rooms", "4 rooms"}, Provider: domain.ProviderCleaning}},
	}}
	router := chi.NewRouter()
	NewCartHandlers(nil, carts, nil, WithCartCatalog(reader)).Routes(router)

	cheap := `{"offering":{"id":11,"name":"Deep Clean","price":[1,1],"size":["2 rooms","4 rooms"],"selectedSize":"4 rooms","isSizeVariant":true,"originalId":10},"category":"home","quantity":2}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodPost, "/cart/items", cheap), "device-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload cartPayload
	decodeBody(t, rec, &payload)
	if payload.Subtotal != 1300 || len(payload.Items) != 1 || payload.Items[0].ActualPrice != 650 {
		t.Fatalf("expected the listed price, got %+v", payload)
	}

	cases := map[string]string{
		"unknown offering": `{"offering":{"id":99,"name":"Fake","price":[1]},"category":"home","quantity":1}`,
		"unknown size":     `{"offering":{"id":10,"name":"Deep Clean","price":[1],"selectedSize":"9 rooms"},"category":"home","quantity":1}`,
		"unknown category": `{"offering":{"id":10,"name":"Deep Clean","price":[1]},"category":"garden","quantity":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodPost, "/cart/items", body), "device-2"))
			assertErrorCode(t, rec, http.StatusUnprocessableEntity, "offering_not_found")
		})
	}

	reader.err = errors.New("catalog down")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodPost, "/cart/items", cheap), "device-1"))
	assertErrorCode(t, rec, http.StatusBadGateway, "catalog_unavailable")
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	router := chi.NewRouter()
	NewCartHandlers(nil, nil, nil).Routes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withDevice(newJSONRequest(http.MethodGet, "/cart", ""), "device-1"))
	assertErrorCode(t, rec, http.StatusServiceUnavailable, "cart_service_unavailable")
}
