package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/homeservices-storefront/api/internal/domain"
)

type stubReadiness struct {
	report domain.ReadinessReport
	err    error
}

func (s stubReadiness) Collect(context.Context) (domain.ReadinessReport, error) {
	return s.report, s.err
}

func TestHealthzReportsBuildInfo(t *testing.T) {
	started := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthClock(func() time.Time { return started.Add(90 * time.Second) }),
		WithHealthBuildInfo(BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "staging", StartedAt: started}),
	)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]any
	decodeBody(t, rec, &payload)
	if payload["status"] != domain.HealthStatusOK || payload["version"] != "1.4.0" || payload["uptime"] != "1m30s" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestReadyzStatusFollowsReport(t *testing.T) {
	cases := []struct {
		name   string
		probe  stubReadiness
		status int
	}{
		{"ok", stubReadiness{report: domain.ReadinessReport{Status: domain.HealthStatusOK}}, http.StatusOK},
		{"degraded still ready", stubReadiness{report: domain.ReadinessReport{Status: domain.HealthStatusDegraded}}, http.StatusOK},
		{"error", stubReadiness{report: domain.ReadinessReport{Status: domain.HealthStatusError}}, http.StatusServiceUnavailable},
		{"collect failed", stubReadiness{err: errors.New("boom")}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(WithHealthReadiness(tc.probe))
			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
		})
	}
}
