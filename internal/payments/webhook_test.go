package payments

import (
	"errors"
	"testing"

	"github.com/homeservices-storefront/api/internal/platform/auth"
)

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"ref_1"}}`)
	signature := auth.NewHMACValidator("whsec").Sign(body)

	if err := VerifyWebhookSignature("whsec", body, signature); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := VerifyWebhookSignature("other", body, signature); !errors.Is(err, auth.ErrSignatureMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := VerifyWebhookSignature("", body, signature); err == nil {
		t.Fatalf("expected error when secret missing")
	}
}

func TestParseWebhookEvent(t *testing.T) {
	event, err := ParseWebhookEvent([]byte(`{"event":"charge.success","data":{"reference":"ref_1","status":"ongoing","metadata":{"orderId":"AB12345","userId":"uid-1"}}}`))
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	if event.Status != StatusSuccess || event.OrderID != "AB12345" || event.UserID != "uid-1" {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := ParseWebhookEvent([]byte(`{"event":"charge.success","data":{}}`)); err == nil {
		t.Fatalf("expected error for missing reference")
	}
}
