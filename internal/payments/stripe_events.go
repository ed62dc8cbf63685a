package payments

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// VerifyWebhook checks the Stripe-Signature header against the raw payload and normalises the event.
// Unknown event types are returned with EventUnknown so callers can acknowledge them.
func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (Event, error) {
	opts := webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}
	if g.tolerance > 0 {
		opts.Tolerance = g.tolerance
	}
	raw, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, opts)
	if err != nil {
		return Event{}, &Error{Kind: ErrorKindInvalidSignature, Op: "verify_webhook", Message: "invalid signature", Err: err}
	}
	return normalizeStripeEvent(raw)
}

func normalizeStripeEvent(raw stripe.Event) (Event, error) {
	event := Event{
		ID:           raw.ID,
		Type:         EventUnknown,
		ProviderType: string(raw.Type),
		CreatedAt:    time.Unix(raw.Created, 0).UTC(),
	}
	if raw.Data == nil {
		return event, nil
	}

	switch raw.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(raw.Data.Raw, &intent); err != nil {
			return Event{}, &Error{Kind: ErrorKindInvalidRequest, Op: "verify_webhook", Message: fmt.Sprintf("decode payment intent: %v", err), Err: err}
		}
		event.Type = EventAuthorizationSucceeded
		event.Status = StatusSucceeded
		if raw.Type == "payment_intent.payment_failed" {
			event.Type = EventAuthorizationFailed
			event.Status = StatusFailed
		}
		event.AuthorizationID = intent.ID
		event.Amount = intent.Amount
		event.Currency = string(intent.Currency)
		event.Metadata = intent.Metadata
		if intent.LatestCharge != nil {
			event.ChargeID = intent.LatestCharge.ID
		}
		if last := intent.LastPaymentError; last != nil {
			event.FailureCode = string(last.Code)
			if last.DeclineCode != "" {
				event.FailureCode = string(last.DeclineCode)
			}
			event.FailureMessage = last.Msg
		}
	case "charge.dispute.created":
		var dispute stripe.Dispute
		if err := json.Unmarshal(raw.Data.Raw, &dispute); err != nil {
			return Event{}, &Error{Kind: ErrorKindInvalidRequest, Op: "verify_webhook", Message: fmt.Sprintf("decode dispute: %v", err), Err: err}
		}
		event.Type = EventDisputeCreated
		if dispute.PaymentIntent != nil {
			event.AuthorizationID = dispute.PaymentIntent.ID
		}
		if dispute.Charge != nil {
			event.ChargeID = dispute.Charge.ID
		}
		event.Amount = dispute.Amount
		event.Currency = string(dispute.Currency)
		event.Dispute = &DisputeDetails{
			ID:        dispute.ID,
			Reason:    string(dispute.Reason),
			Status:    string(dispute.Status),
			Amount:    dispute.Amount,
			CreatedAt: time.Unix(dispute.Created, 0).UTC(),
		}
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(raw.Data.Raw, &charge); err != nil {
			return Event{}, &Error{Kind: ErrorKindInvalidRequest, Op: "verify_webhook", Message: fmt.Sprintf("decode charge: %v", err), Err: err}
		}
		event.Type = EventRefundSucceeded
		event.Status = StatusRefunded
		event.ChargeID = charge.ID
		if charge.PaymentIntent != nil {
			event.AuthorizationID = charge.PaymentIntent.ID
		}
		event.Amount = charge.AmountRefunded
		event.Currency = string(charge.Currency)
		refund := &Refund{
			AuthorizationID: event.AuthorizationID,
			ChargeID:        charge.ID,
			Status:          string(stripe.RefundStatusSucceeded),
			Amount:          charge.AmountRefunded,
			Currency:        string(charge.Currency),
		}
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 && charge.Refunds.Data[0] != nil {
			latest := charge.Refunds.Data[0]
			refund.ID = latest.ID
			refund.Reason = string(latest.Reason)
			if latest.Amount > 0 {
				refund.Amount = latest.Amount
			}
			if latest.Status != "" {
				refund.Status = string(latest.Status)
			}
		}
		event.Refund = refund
	}
	return event, nil
}
