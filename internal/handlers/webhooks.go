package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/casacustomz/api/internal/platform/httpx"
	"github.com/casacustomz/api/internal/platform/observability"
	"github.com/casacustomz/api/internal/platform/requestctx"
	"github.com/casacustomz/api/internal/services"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodySize    = 512 * 1024
)

// WebhookHandlers receives payment provider notifications.
type WebhookHandlers struct {
	reconciler services.WebhookReconciler
	metrics    *observability.Metrics
}

func NewWebhookHandlers(reconciler services.WebhookReconciler, metrics *observability.Metrics) *WebhookHandlers {
	return &WebhookHandlers{reconciler: reconciler, metrics: metrics}
}

// Routes registers the /webhooks endpoints. /stripe is kept as an alias for provider dashboards
// configured before the generic path existed.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment-provider", h.handlePaymentEvent)
	r.Post("/stripe", h.handlePaymentEvent)
}

func (h *WebhookHandlers) handlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		serviceUnavailable(ctx, w, "webhook")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		badRequest(ctx, w, "unable to read request body")
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload too large", http.StatusRequestEntityTooLarge))
		return
	}

	outcome, err := h.reconciler.HandleWebhook(ctx, payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrWebhookInvalidSignature):
			h.metrics.RecordWebhook(ctx, "unknown", "rejected")
			requestctx.Logger(ctx).Warn("webhook signature rejected")
		case errors.Is(err, services.ErrWebhookInvalidInput), errors.Is(err, services.ErrOrderInvalidInput):
			// Redelivery cannot fix a verified event that fails to decode or apply.
			h.metrics.RecordWebhook(ctx, string(outcome.EventType), services.ReconcileActionInvalid)
			requestctx.Logger(ctx).Error("webhook event acknowledged without processing",
				zap.String("eventType", string(outcome.EventType)),
				zap.String("authorizationId", outcome.AuthorizationID),
				zap.Error(err),
			)
			httpx.WriteJSON(w, http.StatusOK, map[string]any{
				"received": true,
				"action":   services.ReconcileActionInvalid,
			})
			return
		default:
			h.metrics.RecordWebhook(ctx, string(outcome.EventType), "failed")
			requestctx.Logger(ctx).Error("webhook processing failed",
				zap.String("eventType", string(outcome.EventType)),
				zap.String("authorizationId", outcome.AuthorizationID),
				zap.Error(err),
			)
			httpx.WriteError(ctx, w, httpx.NewError("webhook_processing_failed", "webhook could not be processed", http.StatusInternalServerError))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}

	h.metrics.RecordWebhook(ctx, string(outcome.EventType), outcome.Action)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"action":   outcome.Action,
	})
}
