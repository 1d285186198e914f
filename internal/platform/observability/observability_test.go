package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/homeservices-storefront/api/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if got := spanCtx.TraceID().String(); got != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", got)
	}
	if got := spanCtx.SpanID().String(); got != "0000000000000001" {
		t.Fatalf("unexpected span id %s", got)
	}
	if !spanCtx.IsSampled() {
		t.Fatalf("expected sampled flag")
	}

	for _, header := range []string{"", "abc/1", "105445aa7843bc8bf206b12000100000/", "105445aa7843bc8bf206b12000100000"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logEvent := EventLogger(zap.New(core), "cart")

	logEvent(context.Background(), "cart.item_added", map[string]any{"quantity": 2, "cartId": "5-L-1"})
	logEvent(context.Background(), "cart.persist.failed", map[string]any{"error": "boom"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].LoggerName != "cart" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[0].ContextMap()["event"] != "cart.item_added" {
		t.Fatalf("expected event field, got %v", entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for failures, got %v", entries[1].Level)
	}
}

func TestRequestLoggerIncludesDeviceID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestctx.WithDeviceID(r.Context(), "device-1")
			CaptureContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			})).ServeHTTP(w, r.WithContext(ctx))
		}),
	))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["device_id"] != "device***" {
		t.Fatalf("expected masked device id field, got %v", fields)
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("expected status field, got %v", fields["status"])
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 4xx, got %v", entries[0].Level)
	}
}

func TestSanitizers(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"empty route", SanitizeRoute(""), "/"},
		{"route pattern", SanitizeRoute("/api/v1/checkout/verify/{reference}"), "/api/v1/checkout/verify/{reference}"},
		{"raw reference", SanitizeRoute("/api/v1/checkout/verify/ref_9f8e7d6c"), "/api/v1/checkout/verify/ref_9f***"},
		{"control characters", SanitizeRoute("/cart\n\x00items"), "/cartitems"},
		{"method", SanitizeMethod("post\r"), "POST"},
		{"short device", SanitizeDeviceID("abc"), "***"},
		{"uuid device", SanitizeDeviceID("3f2b8c1e-9a4d-4e7b-8c6a-1d2e3f4a5b6c"), "3f2b8c***"},
		{"blank device", SanitizeDeviceID(""), ""},
		{"user id", SanitizeUserID("uid-123"), "uid-123"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, tc.got)
		}
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
