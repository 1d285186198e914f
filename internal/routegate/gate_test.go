package routegate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/homeservices-storefront/api/internal/platform/kvstore"
	"github.com/homeservices-storefront/api/internal/repositories/kv"
)

type fakeChecker struct {
	mu        sync.Mutex
	services  map[string]bool
	providers map[string]bool
	err       error
	calls     int
}

func (c *fakeChecker) ServiceExists(_ context.Context, slug string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.services[slug], nil
}

func (c *fakeChecker) ProviderExists(_ context.Context, slug string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.providers[slug], nil
}

func newTestGate(t *testing.T, checker *fakeChecker) *Gate {
	t.Helper()
	cache, err := kv.NewExistenceCache(kvstore.NewMemoryStore(nil))
	if err != nil {
		t.Fatalf("NewExistenceCache: %v", err)
	}
	gate, err := New(checker, Config{
		AllowList:    []string{"/", "/cart", "/checkout/"},
		NotFoundPath: "/not-found",
		Cache:        cache,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return gate
}

func TestDecide(t *testing.T) {
	checker := &fakeChecker{
		services:  map[string]bool{"deep-clean": true},
		providers: map[string]bool{"sparkle": true},
	}
	gate := newTestGate(t, checker)

	cases := []struct {
		path    string
		allowed bool
		reason  string
		rewrite string
	}{
		{"/", true, ReasonStatic, ""},
		{"/cart/", true, ReasonStatic, ""},
		{"/checkout", true, ReasonStatic, ""},
		{"/not-found", true, ReasonStatic, ""},
		{"/help/billing", true, ReasonPattern, ""},
		{"/categories/cleaning", true, ReasonPattern, ""},
		{"/categories/cleaning/windows", true, ReasonPattern, ""},
		{"/categories/a/b/c", false, ReasonNoMatch, "/not-found?from=%2Fcategories%2Fa%2Fb%2Fc"},
		{"/p/deep-clean", true, ReasonExists, ""},
		{"/p/unknown", false, ReasonNotFound, "/not-found?from=%2Fp%2Funknown"},
		{"/s/sparkle", true, ReasonExists, ""},
		{"/s/ghost", false, ReasonNotFound, "/not-found?from=%2Fs%2Fghost"},
		{"/admin", false, ReasonNoMatch, "/not-found?from=%2Fadmin"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			got := gate.Decide(context.Background(), tc.path)
			if got.Allowed != tc.allowed || got.Reason != tc.reason || got.Rewrite != tc.rewrite {
				t.Fatalf("Decide(%q) = %+v", tc.path, got)
			}
		})
	}
}

func TestDecideCachesExistenceChecks(t *testing.T) {
	checker := &fakeChecker{services: map[string]bool{"deep-clean": true}}
	gate := newTestGate(t, checker)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		gate.Decide(ctx, "/p/deep-clean")
		gate.Decide(ctx, "/p/missing")
	}
	if checker.calls != 2 {
		t.Fatalf("expected positive and negative answers to be cached, got %d calls", checker.calls)
	}
}

func TestDecideRewritesWhenCheckFails(t *testing.T) {
	checker := &fakeChecker{err: errors.New("catalog down")}
	gate := newTestGate(t, checker)

	got := gate.Decide(context.Background(), "/p/deep-clean")
	if got.Allowed || got.Reason != ReasonCheckFailed {
		t.Fatalf("expected check failure to deny, got %+v", got)
	}

	checker.err = nil
	checker.services = map[string]bool{"deep-clean": true}
	if got := gate.Decide(context.Background(), "/p/deep-clean"); !got.Allowed {
		t.Fatalf("expected failures not to be cached, got %+v", got)
	}
}

func TestMiddlewareRewritesDeniedPaths(t *testing.T) {
	gate := newTestGate(t, &fakeChecker{})
	var seenPath, seenQuery, seenOriginal string
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		seenQuery = r.URL.Query().Get("from")
		seenOriginal = r.Header.Get("X-Original-Path")
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/p/ghost?ref=ad", nil))
	if seenPath != "/not-found" || seenQuery != "/p/ghost" || seenOriginal != "/p/ghost" {
		t.Fatalf("unexpected rewrite path=%q from=%q original=%q", seenPath, seenQuery, seenOriginal)
	}

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/cart", nil))
	if seenPath != "/cart" {
		t.Fatalf("expected allowed path untouched, got %q", seenPath)
	}

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/anything", nil))
	if seenPath != "/anything" {
		t.Fatalf("expected non-GET requests to pass through, got %q", seenPath)
	}
}
