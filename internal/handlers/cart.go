package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/homeservices-storefront/api/internal/catalog"
	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/platform/auth"
	"github.com/homeservices-storefront/api/internal/platform/httpx"
	"github.com/homeservices-storefront/api/internal/repositories"
	"github.com/homeservices-storefront/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the device cart. Carts are keyed by device, so no authentication is
// needed except to restore an order the caller owns.
type CartHandlers struct {
	authn   *auth.Authenticator
	carts   services.CartService
	orders  services.OrderSubmitter
	catalog CatalogReader
}

// CartOption customises the cart handlers.
type CartOption func(*CartHandlers)

// WithCartCatalog prices added offerings from the catalog instead of the request body.
func WithCartCatalog(reader CatalogReader) CartOption {
	return func(h *CartHandlers) {
		h.catalog = reader
	}
}

// NewCartHandlers constructs the cart endpoints.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, orders services.OrderSubmitter, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{authn: authn, carts: carts, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

var errOfferingNotListed = errors.New("offering is not listed in the catalog")

// Routes wires /cart and /cart:restore onto the API router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/cart", func(cart chi.Router) {
		cart.Get("/", h.getCart)
		cart.Delete("/", h.clearCart)
		cart.Post("/items", h.addItem)
		cart.Patch("/items/{cartID}", h.updateItem)
		cart.Delete("/items/{cartID}", h.removeItem)
	})
	r.Group(func(restore chi.Router) {
		if h.authn != nil {
			restore.Use(h.authn.RequireFirebaseAuth())
		}
		restore.Post("/cart:restore", h.restoreCart)
	})
}

type addItemRequest struct {
	Offering offeringRequest `json:"offering" validate:"required"`
	Category string          `json:"category" validate:"max=120"`
	Quantity int             `json:"quantity" validate:"gte=0,lte=99"`
}

type offeringRequest struct {
	ID            int64           `json:"id" validate:"required"`
	Name          string          `json:"name" validate:"required,max=200"`
	Introduction  string          `json:"introduction" validate:"max=2000"`
	Price         []int           `json:"price" validate:"required,min=1,dive,gte=0"`
	Size          []string        `json:"size" validate:"dive,max=80"`
	Img           string          `json:"img" validate:"max=1024"`
	Type          string          `json:"type" validate:"max=120"`
	Material      string          `json:"material" validate:"max=200"`
	Provider      string          `json:"provider" validate:"max=120"`
	Time          string          `json:"time" validate:"max=80"`
	Details       []domain.Detail `json:"details" validate:"max=50"`
	SelectedSize  string          `json:"selectedSize" validate:"max=80"`
	IsSizeVariant bool            `json:"isSizeVariant"`
	OriginalID    int64           `json:"originalId"`
}

func (o offeringRequest) toDomain() services.ServiceOffering {
	provider, _ := domain.LookupProvider(o.Provider)
	return services.ServiceOffering{
		ID:            o.ID,
		Name:          strings.TrimSpace(o.Name),
		Introduction:  strings.TrimSpace(o.Introduction),
		Price:         append([]int(nil), o.Price...),
		Size:          append([]string(nil), o.Size...),
		Img:           strings.TrimSpace(o.Img),
		Type:          strings.TrimSpace(o.Type),
		Material:      strings.TrimSpace(o.Material),
		Provider:      provider,
		ProviderLabel: domain.DisplayLabel(provider, o.Provider),
		Time:          strings.TrimSpace(o.Time),
		Details:       append([]domain.Detail(nil), o.Details...),
		SelectedSize:  strings.TrimSpace(o.SelectedSize),
		IsSizeVariant: o.IsSizeVariant,
		OriginalID:    o.OriginalID,
	}
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0,lte=99"`
}

type restoreCartRequest struct {
	OrderID string `json:"orderId" validate:"required,max=32"`
}

type cartPayload struct {
	Items      []cartItemPayload `json:"items"`
	TotalItems int               `json:"totalItems"`
	Subtotal   int               `json:"subtotal"`
	UpdatedAt  string            `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	services.CartLineItem
	DisplayName string `json:"displayName"`
	ActualPrice int    `json:"actualPrice"`
	LineTotal   int    `json:"lineTotal"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.Load(r.Context(), deviceID)
	if err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if !decodeRequest(w, r, maxCartBodySize, &req) {
		return
	}
	ctx := r.Context()
	offering := req.Offering.toDomain()
	if h.catalog != nil {
		priced, err := h.priceOffering(ctx, req.Category, offering)
		if err != nil {
			if errors.Is(err, errOfferingNotListed) || errors.Is(err, catalog.ErrCategoryNotFound) {
				httpx.WriteError(ctx, w, httpx.NewError("offering_not_found", "this service is no longer offered", http.StatusUnprocessableEntity))
				return
			}
			httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "services catalog is unavailable", http.StatusBadGateway))
			return
		}
		offering = priced
	}
	cart, err := h.carts.AddItem(ctx, deviceID, offering, req.Quantity)
	if err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

// priceOffering replaces the client's copy of the offering with the catalog listing. The category
// defaults to the offering type.
func (h *CartHandlers) priceOffering(ctx context.Context, category string, requested services.ServiceOffering) (services.ServiceOffering, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		category = strings.ToLower(strings.TrimSpace(requested.Type))
	}
	if category == "" {
		return services.ServiceOffering{}, errOfferingNotListed
	}
	listed, err := h.catalog.ListSpecialties(ctx, category)
	if err != nil {
		return services.ServiceOffering{}, err
	}
	for _, candidate := range listed {
		if candidate.ID != requested.ID && (requested.OriginalID == 0 || candidate.ID != requested.OriginalID) {
			continue
		}
		size := requested.SelectedSize
		if size == "" {
			priced := candidate.Clone()
			priced.ID = requested.ID
			return priced, nil
		}
		if !slices.Contains(candidate.Size, size) {
			return services.ServiceOffering{}, errOfferingNotListed
		}
		priced := candidate.WithSize(size)
		priced.ID = requested.ID
		return priced, nil
	}
	return services.ServiceOffering{}, errOfferingNotListed
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if !decodeRequest(w, r, maxCartBodySize, &req) {
		return
	}
	cart, err := h.carts.UpdateQuantity(r.Context(), deviceID, chi.URLParam(r, "cartID"), *req.Quantity)
	if err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), deviceID, chi.URLParam(r, "cartID"))
	if err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}
	if err := h.carts.ClearCart(r.Context(), deviceID); err != nil {
		writeCartError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) restoreCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil || h.orders == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	deviceID, ok := requireDevice(w, r)
	if !ok {
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req restoreCartRequest
	if !decodeRequest(w, r, maxCartBodySize, &req) {
		return
	}

	ctx := r.Context()
	order, err := h.orders.GetOrder(ctx, identity.UID, req.OrderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("order_lookup_failed", "order could not be loaded", http.StatusServiceUnavailable))
		return
	}
	cart, err := h.carts.RestoreFromOrder(ctx, deviceID, order)
	if err != nil {
		if errors.Is(err, services.ErrCartInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("order_not_restorable", "only unpaid orders can be restored", http.StatusConflict))
			return
		}
		writeCartError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func writeCart(w http.ResponseWriter, status int, cart services.Cart) {
	writeNoStore(w)
	writeJSONResponse(w, status, buildCartPayload(cart))
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		Items:      make([]cartItemPayload, 0, len(cart.Items)),
		TotalItems: cart.TotalItems,
		Subtotal:   cart.Subtotal(),
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = cart.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			CartLineItem: item,
			DisplayName:  item.DisplayName(),
			ActualPrice:  item.ActualPrice(),
			LineTotal:    item.LineTotal(),
		})
	}
	return payload
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable), repositories.IsUnavailable(err):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart storage is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}
