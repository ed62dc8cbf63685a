package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/casacustomz/api/internal/platform/httpx"
	"github.com/casacustomz/api/internal/platform/observability"
	"github.com/casacustomz/api/internal/platform/requestctx"
	"github.com/casacustomz/api/internal/services"
)

// InternalHandlers serves operator and scheduler endpoints behind service authentication.
type InternalHandlers struct {
	reconciler services.WebhookReconciler
	metrics    *observability.Metrics
}

func NewInternalHandlers(reconciler services.WebhookReconciler, metrics *observability.Metrics) *InternalHandlers {
	return &InternalHandlers{reconciler: reconciler, metrics: metrics}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/reconcile/{authorizationID}", h.reconcile)
}

// reconcile re-runs the payment succeeded path for one authorization, recreating its order from
// the provider snapshot when it is missing.
func (h *InternalHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		serviceUnavailable(ctx, w, "reconcile")
		return
	}
	authorizationID := strings.TrimSpace(chi.URLParam(r, "authorizationID"))
	if authorizationID == "" {
		badRequest(ctx, w, "authorization id is required")
		return
	}

	outcome, err := h.reconciler.Replay(ctx, authorizationID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.metrics.RecordWebhook(ctx, "replay", outcome.Action)
	requestctx.Logger(ctx).Info("authorization reconciled",
		zap.String("authorizationId", authorizationID),
		zap.String("action", outcome.Action),
		zap.String("orderNumber", outcome.OrderNumber),
	)

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"authorizationId": authorizationID,
		"action":          outcome.Action,
		"orderId":         outcome.OrderID,
		"orderNumber":     outcome.OrderNumber,
	})
}
