package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/homeservices-storefront/api/internal/platform/auth"
)

// WebhookEvent is the normalised body of a gateway callback.
type WebhookEvent struct {
	Event     string
	Reference string
	Status    Status
	OrderID   string
	UserID    string
}

// VerifyWebhookSignature checks the HMAC-SHA512 signature the gateway computes over the raw body.
func VerifyWebhookSignature(secret string, body []byte, signature string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("payments: webhook secret is not configured")
	}
	return auth.NewHMACValidator(secret).Verify(body, signature)
}

// ParseWebhookEvent decodes {event, data{reference, status, metadata{orderId, userId}}}.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string         `json:"reference"`
			Status    string         `json:"status"`
			Metadata  map[string]any `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("payments: decode webhook: %w", err)
	}
	reference := strings.TrimSpace(payload.Data.Reference)
	if reference == "" {
		return WebhookEvent{}, errors.New("payments: webhook reference is required")
	}

	status := ParseStatus(payload.Data.Status)
	switch strings.ToLower(strings.TrimSpace(payload.Event)) {
	case "charge.success":
		status = StatusSuccess
	case "charge.failed":
		status = StatusFailed
	}
	return WebhookEvent{
		Event:     strings.TrimSpace(payload.Event),
		Reference: reference,
		Status:    status,
		OrderID:   metadataString(payload.Data.Metadata, "orderId"),
		UserID:    metadataString(payload.Data.Metadata, "userId"),
	}, nil
}
