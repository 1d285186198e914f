package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/homeservices-storefront/api/internal/catalog"
	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/platform/httpx"
	"github.com/homeservices-storefront/api/internal/routegate"
)

// CatalogReader lists the normalised offerings of a category.
type CatalogReader interface {
	ListSpecialties(ctx context.Context, category string) ([]domain.ServiceOffering, error)
}

// RouteResolver decides whether a storefront page path may be served.
type RouteResolver interface {
	Decide(ctx context.Context, path string) routegate.Decision
}

// PublicHandlers serves unauthenticated catalog and routing lookups.
type PublicHandlers struct {
	catalog CatalogReader
	routes  RouteResolver
}

// NewPublicHandlers constructs the public endpoints.
func NewPublicHandlers(catalog CatalogReader, routes RouteResolver) *PublicHandlers {
	return &PublicHandlers{catalog: catalog, routes: routes}
}

// Routes wires the /public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/providers", h.listProviders)
	r.Get("/catalog/{category}", h.listCategory)
	r.Get("/routes:resolve", h.resolveRoute)
}

type providerSection struct {
	domain.ProviderInfo
	Label     string            `json:"label"`
	Offerings []offeringPayload `json:"offerings"`
}

type offeringPayload struct {
	domain.ServiceOffering
	DisplayName string                   `json:"displayName"`
	ActualPrice int                      `json:"actualPrice"`
	Variants    []domain.ServiceOffering `json:"variants,omitempty"`
}

type categoryPayload struct {
	Category string            `json:"category"`
	Total    int               `json:"total"`
	Sections []providerSection `json:"sections"`
}

func (h *PublicHandlers) listProviders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSONResponse(w, http.StatusOK, map[string]any{"providers": domain.Providers()})
}

func (h *PublicHandlers) listCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	category := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "category")))
	offerings, err := h.catalog.ListSpecialties(ctx, category)
	if err != nil {
		if errors.Is(err, catalog.ErrCategoryNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("category_not_found", "category not found", http.StatusNotFound))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "services catalog is unavailable", http.StatusBadGateway))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSONResponse(w, http.StatusOK, categoryPayload{
		Category: category,
		Total:    len(offerings),
		Sections: groupByProvider(offerings),
	})
}

// groupByProvider keeps catalog order inside a section and orders sections by first appearance.
func groupByProvider(offerings []domain.ServiceOffering) []providerSection {
	index := make(map[string]int)
	sections := make([]providerSection, 0)
	for _, offering := range offerings {
		label := offering.ProviderLabel
		if label == "" {
			label = offering.Provider.Info().DisplayName
		}
		key := string(offering.Provider) + "|" + label
		pos, ok := index[key]
		if !ok {
			pos = len(sections)
			index[key] = pos
			sections = append(sections, providerSection{ProviderInfo: offering.Provider.Info(), Label: label})
		}
		sections[pos].Offerings = append(sections[pos].Offerings, buildOfferingPayload(offering))
	}
	return sections
}

func buildOfferingPayload(offering domain.ServiceOffering) offeringPayload {
	payload := offeringPayload{
		ServiceOffering: offering,
		DisplayName:     offering.DisplayName(),
		ActualPrice:     offering.ActualPrice(),
	}
	if len(offering.Size) > 1 {
		for _, size := range offering.Size {
			payload.Variants = append(payload.Variants, offering.WithSize(size))
		}
	}
	return payload
}

func (h *PublicHandlers) resolveRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.routes == nil {
		serviceUnavailable(w, r, "routing")
		return
	}
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" || !strings.HasPrefix(path, "/") {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "path must be an absolute page path", http.StatusBadRequest))
		return
	}
	writeNoStore(w)
	writeJSONResponse(w, http.StatusOK, h.routes.Decide(ctx, path))
}
