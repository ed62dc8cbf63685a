package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/casacustomz/api/internal/platform/httpx"
	"github.com/casacustomz/api/internal/platform/requestctx"
	"github.com/casacustomz/api/internal/services"
)

var invalidInputErrors = []error{
	services.ErrCheckoutInvalidInput,
	services.ErrOrderInvalidInput,
	services.ErrCatalogInvalidInput,
	services.ErrAdminInvalidInput,
	services.ErrWebhookInvalidInput,
}

// writeServiceError maps service sentinels onto the JSON error envelope. Unknown errors are logged
// with the request logger and surface as a bare 500.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	httpx.WriteError(ctx, w, serviceError(ctx, err))
}

func serviceError(ctx context.Context, err error) httpx.Error {
	var pending *services.CheckoutPendingError
	if errors.As(err, &pending) {
		code, message := "payment_outcome_unknown", "payment is being confirmed; the order will be created once it settles"
		if errors.Is(err, services.ErrCheckoutPersistPending) {
			code, message = "order_pending", "payment succeeded; the order is being finalised"
		}
		return httpx.NewError(code, message, http.StatusAccepted).WithDetails(map[string]any{
			"authorizationId": pending.AuthorizationID,
		})
	}

	if fields := services.FieldErrors(err); len(fields) > 0 {
		return validationFailed(fields...)
	}

	for _, sentinel := range invalidInputErrors {
		if errors.Is(err, sentinel) {
			return httpx.NewError("invalid_request", invalidInputMessage(err, sentinel), http.StatusBadRequest)
		}
	}

	switch {
	case errors.Is(err, services.ErrCheckoutPaymentDeclined):
		apiErr := httpx.NewError("payment_declined", "the payment method was declined", http.StatusPaymentRequired)
		if code := services.DeclineCode(err); code != "" {
			apiErr = apiErr.WithDetails(map[string]any{"declineCode": code})
		}
		return apiErr
	case errors.Is(err, services.ErrCheckoutAuthenticationRequired):
		return httpx.NewError("authentication_required", "the payment requires customer authentication", http.StatusPaymentRequired)
	case errors.Is(err, services.ErrCheckoutPaymentIncomplete):
		return httpx.NewError("payment_incomplete", "payment has not been completed for the order total", http.StatusPaymentRequired)
	case errors.Is(err, services.ErrCheckoutPaymentOutcomeUnknown):
		return httpx.NewError("payment_outcome_unknown", "the payment outcome is not yet known", http.StatusGatewayTimeout)
	case errors.Is(err, services.ErrCheckoutPaymentNotFound):
		return httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound)
	case errors.Is(err, services.ErrCheckoutPaymentUnavailable):
		return httpx.NewError("payment_unavailable", "payment provider unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, services.ErrOrderNotFound):
		return httpx.NewError("order_not_found", "order not found", http.StatusNotFound)
	case errors.Is(err, services.ErrOrderInvalidState):
		return httpx.NewError("invalid_status_transition", "order cannot move to the requested status", http.StatusConflict)
	case errors.Is(err, services.ErrOrderConflict):
		return httpx.NewError("order_conflict", "payment is already linked to a different order", http.StatusConflict)
	case errors.Is(err, services.ErrOrderNumberExhausted):
		return httpx.NewError("order_number_unavailable", "could not allocate an order number; retry shortly", http.StatusServiceUnavailable)
	case errors.Is(err, services.ErrOrderUnavailable), errors.Is(err, services.ErrCatalogUnavailable):
		return httpx.NewError("unavailable", "service temporarily unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, services.ErrAdminSetupComplete):
		return httpx.NewError("setup_complete", "admin setup has already been completed", http.StatusForbidden)
	case errors.Is(err, services.ErrAdminInvalidCredentials):
		return httpx.NewError("invalid_credentials", "invalid username or password", http.StatusUnauthorized)
	case errors.Is(err, services.ErrAdminUnauthorized):
		return httpx.ErrUnauthorized
	case errors.Is(err, services.ErrWebhookInvalidSignature):
		return httpx.NewError("invalid_signature", "invalid signature", http.StatusBadRequest)
	case errors.Is(err, services.ErrWebhookNotReplayable):
		return httpx.NewError("not_replayable", "authorization has not succeeded", http.StatusConflict)
	case errors.Is(err, context.DeadlineExceeded):
		return httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout)
	}

	requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
	return httpx.ErrInternal
}

func actorID(ctx context.Context) string {
	if actor, ok := requestctx.ActorFrom(ctx); ok {
		return actor.ID
	}
	return ""
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func badRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func validationFailed(fields ...services.FieldError) httpx.Error {
	return httpx.NewError("validation_failed", "request validation failed", http.StatusBadRequest).WithDetails(map[string]any{
		"fields": fields,
	})
}

func invalidField(ctx context.Context, w http.ResponseWriter, field, message string) {
	httpx.WriteError(ctx, w, validationFailed(services.FieldError{Field: field, Message: message}))
}

// invalidInputMessage strips the sentinel prefix so that only the field level reason reaches the client.
func invalidInputMessage(err, sentinel error) string {
	message := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if message == "" || message == err.Error() {
		return "request is invalid"
	}
	return message
}
