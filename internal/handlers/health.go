package handlers

import (
	"net/http"
	"time"

	domain "github.com/homeservices-storefront/api/internal/domain"
	"github.com/homeservices-storefront/api/internal/platform/httpx"
	"github.com/homeservices-storefront/api/internal/repositories"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build     BuildInfo
	readiness repositories.ReadinessRepository
	clock     func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the version metadata reported by both probes.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthReadiness sets the dependency probes run by /readyz.
func WithHealthReadiness(readiness repositories.ReadinessRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.readiness = readiness
	}
}

// WithHealthClock overrides the clock used for uptime.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

func (h *HealthHandlers) basePayload() map[string]any {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    domain.HealthStatusOK,
		"uptime":    now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp": now.Format(time.RFC3339),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commitSha"] = h.build.CommitSHA
	}
	if h.build.Environment != "" {
		payload["environment"] = h.build.Environment
	}
	return payload
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeNoStore(w)
	writeJSONResponse(w, http.StatusOK, h.basePayload())
}

// Readyz runs dependency probes. Degraded dependencies still report ready; errors do not.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	payload := h.basePayload()
	if h.readiness == nil {
		writeNoStore(w)
		writeJSONResponse(w, http.StatusOK, payload)
		return
	}
	report, err := h.readiness.Collect(r.Context())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("readiness_failed", err.Error(), http.StatusServiceUnavailable))
		return
	}
	payload["status"] = report.Status
	payload["checks"] = report.Checks
	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeNoStore(w)
	writeJSONResponse(w, status, payload)
}
