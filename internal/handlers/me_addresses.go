package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/homeservices-storefront/api/internal/platform/auth"
	"github.com/homeservices-storefront/api/internal/platform/httpx"
	"github.com/homeservices-storefront/api/internal/services"
)

const maxAddressBodySize = 8 * 1024

// AddressHandlers exposes the address book. Signed-in callers work against their remote
// collection; anonymous callers get the single device slot.
type AddressHandlers struct {
	authn     *auth.Authenticator
	addresses services.AddressService
}

// NewAddressHandlers constructs the address endpoints.
func NewAddressHandlers(authn *auth.Authenticator, addresses services.AddressService) *AddressHandlers {
	return &AddressHandlers{authn: authn, addresses: addresses}
}

// Routes wires the /me/addresses endpoints.
func (h *AddressHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/addresses", func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.OptionalFirebaseAuth())
		}
		r.Get("/", h.listAddresses)
		r.Post("/", h.createAddress)
		r.Post("/{addressID}:select", h.selectAddress)
		r.Delete("/{addressID}", h.deleteAddress)
	})
}

type addressRequest struct {
	Street         string  `json:"street" validate:"required,max=300"`
	Suburb         string  `json:"suburb" validate:"max=300"`
	Town           string  `json:"town" validate:"max=300"`
	Country        string  `json:"country" validate:"max=300"`
	Zip            string  `json:"zip" validate:"max=32"`
	AdditionalInfo string  `json:"additionalInfo" validate:"max=300"`
	Label          string  `json:"label" validate:"max=40"`
	Selected       bool    `json:"selected"`
	Lat            float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng            float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func (req addressRequest) toInput() services.AddressInput {
	return services.AddressInput{
		Street:         req.Street,
		Suburb:         req.Suburb,
		Town:           req.Town,
		Country:        req.Country,
		Zip:            req.Zip,
		AdditionalInfo: req.AdditionalInfo,
		Label:          req.Label,
		Selected:       req.Selected,
		Lat:            req.Lat,
		Lng:            req.Lng,
	}
}

type addressMutationPayload struct {
	Address *services.Address `json:"address,omitempty"`
	services.AddressState
}

func (h *AddressHandlers) open(w http.ResponseWriter, r *http.Request) (*services.AddressStore, bool) {
	if h.addresses == nil {
		serviceUnavailable(w, r, "address")
		return nil, false
	}
	deviceID, ok := requireDevice(w, r)
	if !ok {
		return nil, false
	}
	session := services.AddressSession{DeviceID: deviceID}
	if identity := currentIdentity(r); identity != nil {
		session.UserID = identity.UID
	}
	store, err := h.addresses.Open(r.Context(), session)
	if err != nil {
		writeAddressError(r.Context(), w, err)
		return nil, false
	}
	return store, true
}

func (h *AddressHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	store, ok := h.open(w, r)
	if !ok {
		return
	}
	writeNoStore(w)
	writeJSONResponse(w, http.StatusOK, store.Snapshot())
}

func (h *AddressHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !decodeRequest(w, r, maxAddressBodySize, &req) {
		return
	}
	store, ok := h.open(w, r)
	if !ok {
		return
	}
	result := store.SaveAddress(r.Context(), req.toInput())
	if !result.Success {
		writeAddressError(r.Context(), w, result.Error)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+result.Address.ID)
	writeJSONResponse(w, http.StatusCreated, addressMutationPayload{Address: result.Address, AddressState: store.Snapshot()})
}

func (h *AddressHandlers) selectAddress(w http.ResponseWriter, r *http.Request) {
	store, ok := h.open(w, r)
	if !ok {
		return
	}
	result := store.SetActiveAddressByID(r.Context(), chi.URLParam(r, "addressID"))
	if !result.Success {
		writeAddressError(r.Context(), w, result.Error)
		return
	}
	writeJSONResponse(w, http.StatusOK, addressMutationPayload{Address: result.Address, AddressState: store.Snapshot()})
}

func (h *AddressHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	store, ok := h.open(w, r)
	if !ok {
		return
	}
	result := store.DeleteAddress(r.Context(), chi.URLParam(r, "addressID"))
	if !result.Success {
		writeAddressError(r.Context(), w, result.Error)
		return
	}
	writeJSONResponse(w, http.StatusOK, addressMutationPayload{AddressState: store.Snapshot()})
}

func writeAddressError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAddressInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_address", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "address not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAddressPending):
		httpx.WriteError(ctx, w, httpx.NewError("address_pending", "address is still being saved", http.StatusConflict))
	case errors.Is(err, services.ErrAddressSyncFailed):
		httpx.WriteError(ctx, w, httpx.NewError("address_sync_failed", "address change could not be saved; nothing was changed", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("address_error", "address operation failed", http.StatusInternalServerError))
	}
}
