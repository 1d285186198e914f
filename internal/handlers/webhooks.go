package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/homeservices-storefront/api/internal/payments"
	"github.com/homeservices-storefront/api/internal/platform/httpx"
	"github.com/homeservices-storefront/api/internal/platform/requestctx"
	"github.com/homeservices-storefront/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// PaymentEventHandler settles orders from gateway callbacks.
type PaymentEventHandler interface {
	HandleGatewayEvent(ctx context.Context, event payments.WebhookEvent) error
}

// WebhookHandlers receives gateway callbacks. Signature checks run as group middleware.
type WebhookHandlers struct {
	events PaymentEventHandler
}

// NewWebhookHandlers constructs the webhook endpoints.
func NewWebhookHandlers(events PaymentEventHandler) *WebhookHandlers {
	return &WebhookHandlers{events: events}
}

// Routes wires /webhooks/payments.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.handlePayment)
}

func (h *WebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		serviceUnavailable(w, r, "webhook")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read webhook body", http.StatusBadRequest))
		return
	}
	event, err := payments.ParseWebhookEvent(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", err.Error(), http.StatusBadRequest))
		return
	}

	logger := requestctx.Logger(ctx).Named("webhooks")
	if err := h.events.HandleGatewayEvent(ctx, event); err != nil {
		logger.Warn("payment event not applied",
			zap.String("event", event.Event),
			zap.String("reference", event.Reference),
			zap.Error(err),
		)
		if errors.Is(err, services.ErrCheckoutInvalidInput) {
			// Acknowledge events without an order so the gateway stops redelivering them.
			writeJSONResponse(w, http.StatusAccepted, map[string]any{"status": "ignored"})
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("webhook_retry", "payment event could not be applied", http.StatusServiceUnavailable))
		return
	}
	logger.Info("payment event applied", zap.String("reference", event.Reference), zap.String("status", string(event.Status)))
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ok"})
}
