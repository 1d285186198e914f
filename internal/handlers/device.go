package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/homeservices-storefront/api/internal/platform/requestctx"
)

const (
	defaultDeviceHeader = "X-Device-ID"
	maxDeviceIDLength   = 128
)

// DeviceMiddleware scopes device-local storage. A missing or malformed header gets a fresh
// UUID, and the effective id is always echoed back so the browser can persist it.
func DeviceMiddleware(header string) func(http.Handler) http.Handler {
	header = strings.TrimSpace(header)
	if header == "" {
		header = defaultDeviceHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID := strings.TrimSpace(r.Header.Get(header))
			if !validDeviceID(deviceID) {
				deviceID = uuid.NewString()
			}
			w.Header().Set(header, deviceID)
			next.ServeHTTP(w, r.WithContext(requestctx.WithDeviceID(r.Context(), deviceID)))
		})
	}
}

func validDeviceID(id string) bool {
	if id == "" || len(id) > maxDeviceIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
