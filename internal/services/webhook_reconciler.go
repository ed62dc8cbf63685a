package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/payments"
)

// Reconcile actions reported in ReconcileOutcome.Action.
const (
	ReconcileActionIgnored        = "ignored"
	ReconcileActionNoop           = "noop"
	ReconcileActionUpdated        = "updated"
	ReconcileActionOrderRecreated = "order_recreated"
	ReconcileActionConverged      = "order_converged"
	ReconcileActionUnreconciled   = "unreconciled"
	ReconcileActionOrderMissing   = "order_missing"
	// ReconcileActionInvalid marks a verified event that can never be applied. It is acknowledged.
	ReconcileActionInvalid = "invalid"
)

var (
	// ErrWebhookInvalidSignature indicates the payload failed signature verification.
	ErrWebhookInvalidSignature = errors.New("webhook: invalid signature")
	// ErrWebhookInvalidInput indicates the event or replay request was malformed.
	ErrWebhookInvalidInput = errors.New("webhook: invalid input")
	// ErrWebhookNotReplayable indicates the authorization has not succeeded and cannot create an order.
	ErrWebhookNotReplayable = errors.New("webhook: authorization not succeeded")
)

// WebhookReconcilerDeps wires collaborators for provider event reconciliation.
type WebhookReconcilerDeps struct {
	Orders       OrderService
	Gateway      payments.Gateway
	Unreconciled UnreconciledChargePublisher
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type webhookReconciler struct {
	orders       OrderService
	gateway      payments.Gateway
	unreconciled UnreconciledChargePublisher
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookReconciler constructs the reconciler. Every handler is safe to re-run for the same event.
func NewWebhookReconciler(deps WebhookReconcilerDeps) (WebhookReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("webhook reconciler: order service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("webhook reconciler: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &webhookReconciler{
		orders:       deps.Orders,
		gateway:      deps.Gateway,
		unreconciled: deps.Unreconciled,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandleWebhook verifies the raw payload before anything is parsed, then dispatches the event.
func (r *webhookReconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (ReconcileOutcome, error) {
	if strings.TrimSpace(signature) == "" {
		return ReconcileOutcome{}, ErrWebhookInvalidSignature
	}
	event, err := r.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			r.logger(ctx, "webhook.signature.invalid", map[string]any{"error": err.Error()})
			return ReconcileOutcome{}, ErrWebhookInvalidSignature
		}
		return ReconcileOutcome{}, fmt.Errorf("%w: %v", ErrWebhookInvalidInput, err)
	}
	return r.HandleEvent(ctx, event)
}

func (r *webhookReconciler) HandleEvent(ctx context.Context, event payments.Event) (ReconcileOutcome, error) {
	outcome := ReconcileOutcome{EventType: event.Type, AuthorizationID: event.AuthorizationID}

	var err error
	switch event.Type {
	case payments.EventAuthorizationSucceeded:
		outcome, err = r.reconcileSucceeded(ctx, succeededCharge{
			authorizationID: event.AuthorizationID,
			eventID:         event.ID,
			amount:          event.Amount,
			currency:        event.Currency,
			metadata:        event.Metadata,
		})
	case payments.EventAuthorizationFailed:
		outcome, err = r.applyUpdate(ctx, outcome, PaymentUpdateCommand{
			AuthorizationID: event.AuthorizationID,
			PaymentStatus:   domain.PaymentStatusFailed,
			Reason:          strings.TrimSpace(event.FailureCode + " " + event.FailureMessage),
		})
	case payments.EventDisputeCreated:
		if outcome.AuthorizationID, err = r.resolveAuthorization(ctx, event); err != nil {
			return outcome, err
		}
		cmd := PaymentUpdateCommand{AuthorizationID: outcome.AuthorizationID}
		if d := event.Dispute; d != nil {
			cmd.Dispute = &domain.Dispute{ID: d.ID, Reason: d.Reason, Status: d.Status, Amount: d.Amount, OpenedAt: d.CreatedAt}
			cmd.Reason = d.Reason
		}
		if cmd.Dispute == nil {
			return outcome, fmt.Errorf("%w: dispute event %s has no dispute details", ErrWebhookInvalidInput, event.ID)
		}
		outcome, err = r.applyUpdate(ctx, outcome, cmd)
	case payments.EventRefundSucceeded:
		if outcome.AuthorizationID, err = r.resolveAuthorization(ctx, event); err != nil {
			return outcome, err
		}
		cmd := PaymentUpdateCommand{AuthorizationID: outcome.AuthorizationID, PaymentStatus: domain.PaymentStatusRefunded, RefundedTotal: event.Amount}
		if rf := event.Refund; rf != nil {
			cmd.Refund = &domain.RefundInfo{ID: rf.ID, Status: rf.Status, Amount: rf.Amount, Reason: rf.Reason, RefundedAt: event.CreatedAt}
			cmd.Reason = rf.Reason
		}
		outcome, err = r.applyUpdate(ctx, outcome, cmd)
	default:
		outcome.Action = ReconcileActionIgnored
		r.logger(ctx, "webhook.event.ignored", map[string]any{
			"eventId":   event.ID,
			"eventType": event.ProviderType,
		})
		return outcome, nil
	}
	outcome.EventType = event.Type
	if err != nil {
		r.logger(ctx, "webhook.event.failed", map[string]any{
			"eventId":         event.ID,
			"eventType":       string(event.Type),
			"authorizationId": outcome.AuthorizationID,
			"error":           err.Error(),
		})
		return outcome, err
	}
	r.logger(ctx, "webhook.event.processed", map[string]any{
		"eventId":         event.ID,
		"eventType":       string(event.Type),
		"authorizationId": outcome.AuthorizationID,
		"action":          outcome.Action,
		"orderNumber":     outcome.OrderNumber,
	})
	return outcome, nil
}

// Replay runs the success path for an authorization fetched from the provider.
func (r *webhookReconciler) Replay(ctx context.Context, authorizationID string) (ReconcileOutcome, error) {
	authorizationID = strings.TrimSpace(authorizationID)
	if authorizationID == "" {
		return ReconcileOutcome{}, fmt.Errorf("%w: authorization id is required", ErrWebhookInvalidInput)
	}
	details, err := r.gateway.Retrieve(ctx, authorizationID)
	if err != nil {
		return ReconcileOutcome{}, translatePaymentError(err)
	}
	if details.Status != payments.StatusSucceeded {
		return ReconcileOutcome{AuthorizationID: authorizationID}, fmt.Errorf("%w: status %s", ErrWebhookNotReplayable, details.Status)
	}
	outcome, err := r.reconcileSucceeded(ctx, succeededCharge{
		authorizationID: details.ID,
		eventID:         "replay:" + details.ID,
		amount:          details.Amount,
		currency:        details.Currency,
		metadata:        details.Metadata,
	})
	outcome.EventType = payments.EventAuthorizationSucceeded
	return outcome, err
}

type succeededCharge struct {
	authorizationID string
	eventID         string
	amount          int64
	currency        string
	metadata        map[string]string
}

func (r *webhookReconciler) reconcileSucceeded(ctx context.Context, charge succeededCharge) (ReconcileOutcome, error) {
	outcome := ReconcileOutcome{EventType: payments.EventAuthorizationSucceeded, AuthorizationID: charge.authorizationID}
	if strings.TrimSpace(charge.authorizationID) == "" {
		return outcome, fmt.Errorf("%w: authorization id missing", ErrWebhookInvalidInput)
	}

	result, err := r.orders.ApplyPaymentUpdate(ctx, PaymentUpdateCommand{
		AuthorizationID: charge.authorizationID,
		PaymentStatus:   domain.PaymentStatusSucceeded,
	})
	if err == nil {
		return withOrder(outcome, result), nil
	}
	if !errors.Is(err, ErrOrderNotFound) {
		return outcome, err
	}

	snap, err := decodeSnapshotMetadata(charge.metadata)
	if err != nil {
		return r.unreconciledCharge(ctx, outcome, charge, "no usable order snapshot: "+err.Error())
	}
	cmd, err := snap.createCommand(charge.authorizationID, domain.OrderSourceWebhook)
	if err != nil {
		return r.unreconciledCharge(ctx, outcome, charge, err.Error())
	}
	if required := cmd.Totals.Rounded().MinorUnits(); charge.amount < required {
		return r.unreconciledCharge(ctx, outcome, charge, fmt.Sprintf("charged %d below snapshot total %d", charge.amount, required))
	}

	created, err := r.orders.Create(ctx, cmd)
	switch {
	case err == nil:
	case errors.Is(err, ErrOrderConflict), errors.Is(err, ErrOrderInvalidInput):
		return r.unreconciledCharge(ctx, outcome, charge, "order recreation rejected: "+err.Error())
	default:
		return outcome, err
	}

	outcome.OrderID = created.Order.ID
	outcome.OrderNumber = created.Order.OrderNumber
	outcome.Action = ReconcileActionConverged
	if created.Created {
		outcome.Action = ReconcileActionOrderRecreated
		r.logger(ctx, "webhook.order.recreated", map[string]any{
			"authorizationId": charge.authorizationID,
			"orderNumber":     created.Order.OrderNumber,
			"eventId":         charge.eventID,
		})
	}
	return outcome, nil
}

// unreconciledCharge records money taken without an order. Failing to publish returns an error so the
// provider redelivers the event.
func (r *webhookReconciler) unreconciledCharge(ctx context.Context, outcome ReconcileOutcome, charge succeededCharge, reason string) (ReconcileOutcome, error) {
	outcome.Action = ReconcileActionUnreconciled
	record := UnreconciledCharge{
		AuthorizationID: charge.authorizationID,
		EventID:         charge.eventID,
		Amount:          charge.amount,
		Currency:        charge.currency,
		CustomerEmail:   charge.metadata[MetadataCustomerEmail],
		Reason:          reason,
		Metadata:        summaryMetadata(charge.metadata),
		DetectedAt:      r.now(),
	}
	r.logger(ctx, "webhook.unreconciled_charge", map[string]any{
		"authorizationId": record.AuthorizationID,
		"eventId":         record.EventID,
		"amount":          record.Amount,
		"email":           record.CustomerEmail,
		"reason":          reason,
		"severity":        "ERROR",
	})
	if r.unreconciled == nil {
		return outcome, nil
	}
	if err := r.unreconciled.PublishUnreconciledCharge(ctx, record); err != nil {
		return outcome, fmt.Errorf("webhook: publish unreconciled charge %s: %w", record.AuthorizationID, err)
	}
	return outcome, nil
}

func (r *webhookReconciler) applyUpdate(ctx context.Context, outcome ReconcileOutcome, cmd PaymentUpdateCommand) (ReconcileOutcome, error) {
	if strings.TrimSpace(cmd.AuthorizationID) == "" {
		return outcome, fmt.Errorf("%w: authorization id missing", ErrWebhookInvalidInput)
	}
	result, err := r.orders.ApplyPaymentUpdate(ctx, cmd)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			outcome.Action = ReconcileActionOrderMissing
			r.logger(ctx, "webhook.order.missing", map[string]any{
				"authorizationId": cmd.AuthorizationID,
				"paymentStatus":   string(cmd.PaymentStatus),
			})
			return outcome, nil
		}
		return outcome, err
	}
	return withOrder(outcome, result), nil
}

func (r *webhookReconciler) resolveAuthorization(ctx context.Context, event payments.Event) (string, error) {
	if id := strings.TrimSpace(event.AuthorizationID); id != "" {
		return id, nil
	}
	if strings.TrimSpace(event.ChargeID) == "" {
		return "", fmt.Errorf("%w: event %s references neither authorization nor charge", ErrWebhookInvalidInput, event.ID)
	}
	id, err := r.gateway.ResolveCharge(ctx, event.ChargeID)
	if err != nil {
		return "", fmt.Errorf("webhook: resolve charge %s: %w", event.ChargeID, err)
	}
	return id, nil
}

func withOrder(outcome ReconcileOutcome, result PaymentUpdateResult) ReconcileOutcome {
	outcome.OrderID = result.Order.ID
	outcome.OrderNumber = result.Order.OrderNumber
	outcome.Action = ReconcileActionNoop
	if result.Changed {
		outcome.Action = ReconcileActionUpdated
	}
	return outcome
}

// summaryMetadata drops snapshot chunks so queued records stay small.
func summaryMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		if strings.HasPrefix(key, metadataSnapshotPrefix) {
			continue
		}
		out[key] = value
	}
	return out
}
