package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/homeservices-storefront/api/internal/catalog"
	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/routegate"
)

type stubCatalog struct {
	offerings map[string][]domain.ServiceOffering
	err       error
}

func (s *stubCatalog) ListSpecialties(_ context.Context, category string) ([]domain.ServiceOffering, error) {
	if s.err != nil {
		return nil, s.err
	}
	offerings, ok := s.offerings[category]
	if !ok {
		return nil, catalog.ErrCategoryNotFound
	}
	return offerings, nil
}

type stubResolver struct {
	paths []string
}

func (s *stubResolver) Decide(_ context.Context, path string) routegate.Decision {
	s.paths = append(s.paths, path)
	if path == "/p/deep-clean" {
		return routegate.Decision{Path: path, Allowed: true, Reason: "exists"}
	}
	return routegate.Decision{Path: path, Allowed: false, Rewrite: "/not-found", Reason: "not_found"}
}

func newPublicRouter(reader CatalogReader, resolver RouteResolver) http.Handler {
	router := chi.NewRouter()
	NewPublicHandlers(reader, resolver).Routes(router)
	return router
}

func TestPublicHandlersCategoryGroupsByProvider(t *testing.T) {
	reader := &stubCatalog{offerings: map[string][]domain.ServiceOffering{
		"home": {
			{ID: 1, Name: "Deep Clean", Price: []int{450, 650}, Size: []string{"2 rooms", "4 rooms"}, Provider: domain.ProviderCleaning},
			{ID: 2, Name: "Geyser Service", Price: []int{900}, Provider: domain.ProviderPlumbing},
			{ID: 3, Name: "Carpet Shampoo", Price: []int{300}, Provider: domain.ProviderCleaning},
		},
	}}
	router := newPublicRouter(reader, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(http.MethodGet, "/catalog/HOME", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Category string `json:"category"`
		Total    int    `json:"total"`
		Sections []struct {
			Key       string `json:"key"`
			Label     string `json:"label"`
			Offerings []struct {
				ID          int64 `json:"id"`
				ActualPrice int   `json:"actualPrice"`
				Variants    []struct {
					SelectedSize  string `json:"selectedSize"`
					IsSizeVariant bool   `json:"isSizeVariant"`
					OriginalID    int64  `json:"originalId"`
				} `json:"variants"`
			} `json:"offerings"`
		} `json:"sections"`
	}
	decodeBody(t, rec, &payload)
	if payload.Category != "home" || payload.Total != 3 {
		t.Fatalf("unexpected header %+v", payload)
	}
	if len(payload.Sections) != 2 || payload.Sections[0].Key != "cleaning" || payload.Sections[1].Key != "plumbing" {
		t.Fatalf("unexpected sections %+v", payload.Sections)
	}
	cleaning := payload.Sections[0]
	if cleaning.Label != "Cleaning" || len(cleaning.Offerings) != 2 || cleaning.Offerings[1].ID != 3 {
		t.Fatalf("unexpected cleaning section %+v", cleaning)
	}
	variants := cleaning.Offerings[0].Variants
	if len(variants) != 2 || variants[1].SelectedSize != "4 rooms" || !variants[1].IsSizeVariant || variants[1].OriginalID != 1 {
		t.Fatalf("unexpected variants %+v", variants)
	}
	if len(payload.Sections[1].Offerings[0].Variants) != 0 {
		t.Fatalf("single-size offerings must not expand into variants")
	}
}

func TestPublicHandlersCategoryErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	newPublicRouter(&stubCatalog{}, nil).ServeHTTP(rec, newJSONRequest(http.MethodGet, "/catalog/unknown", ""))
	assertErrorCode(t, rec, http.StatusNotFound, "category_not_found")

	rec = httptest.NewRecorder()
	newPublicRouter(&stubCatalog{err: errors.New("timeout")}, nil).ServeHTTP(rec, newJSONRequest(http.MethodGet, "/catalog/home", ""))
	assertErrorCode(t, rec, http.StatusBadGateway, "catalog_unavailable")
}

func TestPublicHandlersProviders(t *testing.T) {
	rec := httptest.NewRecorder()
	newPublicRouter(nil, nil).ServeHTTP(rec, newJSONRequest(http.MethodGet, "/providers", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Providers []domain.ProviderInfo `json:"providers"`
	}
	decodeBody(t, rec, &payload)
	if len(payload.Providers) != len(domain.Providers()) {
		t.Fatalf("expected %d providers, got %d", len(domain.Providers()), len(payload.Providers))
	}
}

func TestPublicHandlersResolveRoute(t *testing.T) {
	resolver := &stubResolver{}
	router := newPublicRouter(nil, resolver)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(http.MethodGet, "/routes:resolve?path=%2Fp%2Fghost", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var decision routegate.Decision
	decodeBody(t, rec, &decision)
	if decision.Allowed || decision.Rewrite != "/not-found" || decision.Reason != "not_found" {
		t.Fatalf("unexpected decision %+v", decision)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, newJSONRequest(http.MethodGet, "/routes:resolve?path=p", ""))
	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
	if len(resolver.paths) != 1 || resolver.paths[0] != "/p/ghost" {
		t.Fatalf("unexpected resolver calls %v", resolver.paths)
	}
}
