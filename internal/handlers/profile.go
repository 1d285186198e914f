package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/homeservices-storefront/api/internal/platform/auth"
	"github.com/homeservices-storefront/api/internal/platform/httpx"
	"github.com/homeservices-storefront/api/internal/services"
)

const maxProfileBodySize = 4 * 1024

// ProfileHandlers serves the signed-in customer's profile.
type ProfileHandlers struct {
	authn    *auth.Authenticator
	profiles services.ProfileService
}

// NewProfileHandlers constructs the profile endpoints.
func NewProfileHandlers(authn *auth.Authenticator, profiles services.ProfileService) *ProfileHandlers {
	return &ProfileHandlers{authn: authn, profiles: profiles}
}

// Routes wires /me/profile.
func (h *ProfileHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/profile", func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth())
		}
		r.Get("/", h.getProfile)
		r.Patch("/", h.updateProfile)
	})
}

type profilePayload struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Complete    bool   `json:"complete"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

type updateProfileRequest struct {
	DisplayName *string `json:"displayName" validate:"omitnil,max=400"`
	Phone       *string `json:"phone" validate:"omitnil,max=40"`
}

func (h *ProfileHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	if h.profiles == nil {
		serviceUnavailable(w, r, "profile")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	profile, err := h.profiles.GetUserProfile(r.Context(), identity.UID)
	if err != nil {
		writeProfileError(r.Context(), w, err)
		return
	}
	if profile == nil {
		profile = &services.UserProfile{UID: identity.UID, DisplayName: identity.Name, Email: identity.Email}
	}
	writeNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildProfilePayload(*profile, identity))
}

func (h *ProfileHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	if h.profiles == nil {
		serviceUnavailable(w, r, "profile")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if !decodeRequest(w, r, maxProfileBodySize, &req) {
		return
	}
	if req.DisplayName == nil && req.Phone == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "no editable fields supplied", http.StatusBadRequest))
		return
	}
	saved, err := h.profiles.UpdateProfile(r.Context(), identity.UID, services.ProfilePatch{
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
	})
	if err != nil {
		writeProfileError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProfilePayload(saved, identity))
}

func buildProfilePayload(profile services.UserProfile, identity *auth.Identity) profilePayload {
	payload := profilePayload{
		UID:         profile.UID,
		DisplayName: profile.DisplayName,
		Email:       strings.TrimSpace(profile.Email),
		Phone:       profile.Phone,
		Complete:    services.ProfileComplete(&profile),
	}
	if payload.Email == "" && identity != nil {
		payload.Email = identity.Email
	}
	if !profile.UpdatedAt.IsZero() {
		payload.UpdatedAt = profile.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return payload
}

func writeProfileError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrProfileInvalidPhone):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_phone", "phone number is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrProfileInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_profile_field", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProfileUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile store is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("profile_error", "profile operation failed", http.StatusInternalServerError))
	}
}
