package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRouterHealthEndpoints(t *testing.T) {
	router := NewRouter()
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestRouterNotImplementedGroups(t *testing.T) {
	router := NewRouter()
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/public/providers"},
		{http.MethodGet, "/api/v1/me/addresses"},
		{http.MethodGet, "/api/v1/cart"},
		{http.MethodPost, "/api/v1/cart/items"},
		{http.MethodPost, "/api/v1/checkout/card"},
		{http.MethodPost, "/api/v1/webhooks/payments"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assertErrorCode(t, rec, http.StatusNotImplemented, "not_implemented")
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	router := NewRouter()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assertErrorCode(t, rec, http.StatusNotFound, errorNotFoundCode)
}

func TestRouterScopesAPIToDevice(t *testing.T) {
	var cartDevice string
	router := NewRouter(
		WithDeviceHeader("X-Storefront-Device"),
		WithCartRoutes(func(r chi.Router) {
			r.Get("/cart", func(w http.ResponseWriter, r *http.Request) {
				cartDevice, _ = requireDevice(w, r)
				w.WriteHeader(http.StatusOK)
			})
		}),
		WithWebhookRoutes(func(r chi.Router) {
			r.Post("/payments", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-Storefront-Device", "device-9")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || cartDevice != "device-9" {
		t.Fatalf("expected device-scoped cart call, got %d device=%q", rec.Code, cartDevice)
	}
	if rec.Header().Get("X-Storefront-Device") != "device-9" {
		t.Fatalf("expected device header echoed")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected webhook through, got %d", rec.Code)
	}
	if rec.Header().Get("X-Storefront-Device") != "" {
		t.Fatalf("webhooks must not be device scoped")
	}
}

func TestRouterCheckoutRateLimit(t *testing.T) {
	router := NewRouter(
		WithRateLimits(100, 1, 10),
		WithCheckoutRoutes(func(r chi.Router) {
			r.Post("/cash", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			})
		}),
	)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/cash", nil)
		req.Header.Set(defaultDeviceHeader, "device-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}
	if rec := send(); rec.Code != http.StatusCreated {
		t.Fatalf("expected first checkout through, got %d", rec.Code)
	}
	assertErrorCode(t, send(), http.StatusTooManyRequests, "rate_limited")
}

func TestRouterWebhookMiddlewares(t *testing.T) {
	reject := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	called := false
	router := NewRouter(
		WithWebhookMiddlewares(reject),
		WithWebhookRoutes(func(r chi.Router) {
			r.Post("/payments", func(w http.ResponseWriter, r *http.Request) { called = true })
		}),
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", nil))
	if rec.Code != http.StatusUnauthorized || called {
		t.Fatalf("expected webhook middleware to reject, got %d called=%v", rec.Code, called)
	}
}

func TestRouterPageHandlerRunsBehindGate(t *testing.T) {
	var order []string
	gate := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "gate")
			next.ServeHTTP(w, r)
		})
	}
	pages := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "page:"+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	router := NewRouter(WithPageHandler(pages, gate))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p/deep-clean", nil))
	if rec.Code != http.StatusOK || len(order) != 2 || order[0] != "gate" || order[1] != "page:/p/deep-clean" {
		t.Fatalf("unexpected page dispatch %d %v", rec.Code, order)
	}

	order = nil
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || len(order) != 0 {
		t.Fatalf("health checks must bypass the page handler, got %v", order)
	}
}

func TestRouterCORS(t *testing.T) {
	router := NewRouter(WithCORS("https://shop.example.com"))
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/cart", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Fatalf("expected allowed origin, got %q", got)
	}
}
