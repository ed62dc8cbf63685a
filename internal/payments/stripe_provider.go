package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeChargeAPI interface {
	Get(id string, params *stripe.ChargeParams) (*stripe.Charge, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
	charges stripeChargeAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey                    string
	WebhookSecret             string
	AccountID                 string
	StatementDescriptorSuffix string
	Timeout                   time.Duration
	WebhookTolerance          time.Duration
	Backends                  *stripe.Backends
	Logger                    StripeLogger
	Clock                     func() time.Time
	Clients                   *stripeClients
}

// StripeGateway implements Gateway using Stripe PaymentIntents.
type StripeGateway struct {
	api           stripeClients
	account       string
	descriptor    string
	webhookSecret string
	tolerance     time.Duration
	timeout       time.Duration
	clock         func() time.Time
	logger        StripeLogger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe backed Gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
			charges: sc.Charges,
		}
	}
	if clients.intents == nil || clients.refunds == nil || clients.charges == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &StripeGateway{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		descriptor:    strings.TrimSpace(cfg.StatementDescriptorSuffix),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		tolerance:     cfg.WebhookTolerance,
		timeout:       timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Authorize creates a PaymentIntent and confirms it when a payment method token is supplied.
func (g *StripeGateway) Authorize(ctx context.Context, req AuthorizationRequest) (Authorization, error) {
	if req.AmountMinor <= 0 {
		return Authorization{}, &Error{Kind: ErrorKindInvalidRequest, Op: "authorize", Message: "amount must be positive"}
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	g.scope(&params.Params, req.IdempotencyKey)
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	if g.descriptor != "" {
		params.StatementDescriptorSuffix = stripe.String(g.descriptor)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if s := req.Shipping; s != nil {
		params.Shipping = &stripe.ShippingDetailsParams{
			Name:  stripe.String(s.Name),
			Phone: stripe.String(s.Phone),
			Address: &stripe.AddressParams{
				Line1:      stripe.String(s.Line1),
				City:       stripe.String(s.City),
				State:      stripe.String(s.State),
				PostalCode: stripe.String(s.PostalCode),
				Country:    stripe.String(defaultString(s.Country, "US")),
			},
		}
	}

	params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{Enabled: stripe.Bool(true)}
	if token := strings.TrimSpace(req.PaymentMethodToken); token != "" {
		params.PaymentMethod = stripe.String(token)
		params.Confirm = stripe.Bool(true)
		params.AutomaticPaymentMethods.AllowRedirects = stripe.String("never")
	}
	params.AddExpand("latest_charge")

	intent, err := g.api.intents.New(params)
	if err != nil {
		return Authorization{}, g.mapError(ctx, "authorize", err)
	}

	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
		"amount":        intent.Amount,
	})
	return authorizationFromIntent(intent)
}

// Confirm confirms an existing PaymentIntent with the supplied payment method.
func (g *StripeGateway) Confirm(ctx context.Context, req ConfirmRequest) (Authorization, error) {
	if strings.TrimSpace(req.AuthorizationID) == "" {
		return Authorization{}, &Error{Kind: ErrorKindInvalidRequest, Op: "confirm", Message: "authorization id is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	g.scope(&params.Params, "")
	if pm := strings.TrimSpace(req.PaymentMethodID); pm != "" {
		params.PaymentMethod = stripe.String(pm)
	}
	if req.ReturnURL != "" {
		params.ReturnURL = stripe.String(req.ReturnURL)
	}
	params.AddExpand("latest_charge")

	intent, err := g.api.intents.Confirm(req.AuthorizationID, params)
	if err != nil {
		return Authorization{}, g.mapError(ctx, "confirm", err)
	}
	g.logger(ctx, "payments.stripe.intent.confirmed", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
	})
	return authorizationFromIntent(intent)
}

// Retrieve loads a PaymentIntent with its latest charge.
func (g *StripeGateway) Retrieve(ctx context.Context, authorizationID string) (PaymentDetails, error) {
	if strings.TrimSpace(authorizationID) == "" {
		return PaymentDetails{}, &Error{Kind: ErrorKindInvalidRequest, Op: "retrieve", Message: "authorization id is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	g.scope(&params.Params, "")
	params.AddExpand("latest_charge")

	intent, err := g.api.intents.Get(authorizationID, params)
	if err != nil {
		return PaymentDetails{}, g.mapError(ctx, "retrieve", err)
	}
	return paymentDetailsFromIntent(intent), nil
}

// Refund refunds the latest charge of the PaymentIntent, fully unless an amount is given.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	if strings.TrimSpace(req.AuthorizationID) == "" {
		return Refund{}, &Error{Kind: ErrorKindInvalidRequest, Op: "refund", Message: "authorization id is required"}
	}

	details, err := g.Retrieve(ctx, req.AuthorizationID)
	if err != nil {
		return Refund{}, err
	}
	if len(details.Charges) == 0 {
		return Refund{}, &Error{Kind: ErrorKindInvalidRequest, Op: "refund", Message: "no charges found for authorization", AuthorizationID: req.AuthorizationID}
	}
	charge := details.Charges[0]

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.RefundParams{Charge: stripe.String(charge.ID)}
	params.Context = ctx
	g.scope(&params.Params, "")
	if req.AmountMinor != nil {
		params.Amount = stripe.Int64(*req.AmountMinor)
	}
	reason := mapStripeRefundReason(req.Reason)
	if reason == "" {
		reason = string(stripe.RefundReasonRequestedByCustomer)
	}
	params.Reason = stripe.String(reason)
	params.AddMetadata("original_payment_intent", req.AuthorizationID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	refund, err := g.api.refunds.New(params)
	if err != nil {
		return Refund{}, g.mapError(ctx, "refund", err)
	}
	g.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": req.AuthorizationID,
		"refund":        refund.ID,
		"amount":        refund.Amount,
	})
	return Refund{
		ID:              refund.ID,
		AuthorizationID: req.AuthorizationID,
		ChargeID:        charge.ID,
		Status:          string(refund.Status),
		Amount:          refund.Amount,
		Currency:        string(refund.Currency),
		Reason:          string(refund.Reason),
	}, nil
}

// ResolveCharge fetches a charge and returns its PaymentIntent id.
func (g *StripeGateway) ResolveCharge(ctx context.Context, chargeID string) (string, error) {
	if strings.TrimSpace(chargeID) == "" {
		return "", &Error{Kind: ErrorKindInvalidRequest, Op: "resolve_charge", Message: "charge id is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.ChargeParams{}
	params.Context = ctx
	g.scope(&params.Params, "")

	charge, err := g.api.charges.Get(chargeID, params)
	if err != nil {
		return "", g.mapError(ctx, "resolve_charge", err)
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return "", &Error{Kind: ErrorKindNotFound, Op: "resolve_charge", Message: fmt.Sprintf("charge %s has no payment intent", chargeID)}
	}
	return charge.PaymentIntent.ID, nil
}

func (g *StripeGateway) scope(params *stripe.Params, idempotencyKey string) {
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
}

func (g *StripeGateway) mapError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: ErrorKindTimeout, Op: op, Message: "provider call timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: ErrorKindTimeout, Op: op, Message: "provider call timed out", Err: err}
	}

	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return &Error{Kind: ErrorKindUnavailable, Op: op, Message: err.Error(), Err: err}
	}

	mapped := &Error{
		Op:          op,
		Code:        string(serr.Code),
		DeclineCode: string(serr.DeclineCode),
		Message:     serr.Msg,
		Err:         err,
	}
	if serr.PaymentIntent != nil {
		mapped.AuthorizationID = serr.PaymentIntent.ID
	}
	switch {
	case serr.Code == "authentication_required" || serr.Code == "payment_intent_authentication_failure":
		mapped.Kind = ErrorKindAuthenticationRequired
	case serr.Type == stripe.ErrorTypeCard || serr.Code == "payment_intent_payment_attempt_failed":
		mapped.Kind = ErrorKindDeclined
	case serr.Code == "resource_missing" || serr.HTTPStatusCode == 404:
		mapped.Kind = ErrorKindNotFound
	case serr.HTTPStatusCode >= 500 || serr.HTTPStatusCode == 429 || serr.Type == stripe.ErrorTypeAPI:
		mapped.Kind = ErrorKindUnavailable
	default:
		mapped.Kind = ErrorKindInvalidRequest
	}
	return mapped
}

func authorizationFromIntent(intent *stripe.PaymentIntent) (Authorization, error) {
	if intent == nil {
		return Authorization{}, &Error{Kind: ErrorKindUnavailable, Message: "empty payment intent response"}
	}
	auth := Authorization{
		ID:           intent.ID,
		Status:       mapIntentStatus(intent),
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     string(intent.Currency),
		Charges:      chargesFromIntent(intent),
	}
	switch auth.Status {
	case StatusRequiresAction:
		return auth, &Error{Kind: ErrorKindAuthenticationRequired, Op: "authorize", Message: "customer authentication required", AuthorizationID: intent.ID}
	case StatusFailed:
		mapped := &Error{Kind: ErrorKindDeclined, Op: "authorize", Message: "payment was declined", AuthorizationID: intent.ID}
		if last := intent.LastPaymentError; last != nil {
			mapped.DeclineCode = string(last.DeclineCode)
			mapped.Code = string(last.Code)
			if last.Msg != "" {
				mapped.Message = last.Msg
			}
		}
		return auth, mapped
	}
	return auth, nil
}

func paymentDetailsFromIntent(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}
	metadata := make(map[string]string, len(intent.Metadata))
	for k, v := range intent.Metadata {
		metadata[k] = v
	}
	return PaymentDetails{
		ID:             intent.ID,
		Status:         mapIntentStatus(intent),
		Amount:         intent.Amount,
		AmountReceived: intent.AmountReceived,
		Currency:       string(intent.Currency),
		Metadata:       metadata,
		Charges:        chargesFromIntent(intent),
		CreatedAt:      time.Unix(intent.Created, 0).UTC(),
	}
}

func chargesFromIntent(intent *stripe.PaymentIntent) []Charge {
	if intent == nil || intent.LatestCharge == nil || intent.LatestCharge.ID == "" {
		return nil
	}
	c := intent.LatestCharge
	return []Charge{{
		ID:             c.ID,
		Amount:         c.Amount,
		AmountRefunded: c.AmountRefunded,
		Status:         string(c.Status),
		ReceiptURL:     c.ReceiptURL,
		Paid:           c.Paid,
		Refunded:       c.Refunded,
		CreatedAt:      time.Unix(c.Created, 0).UTC(),
	}}
}

// mapIntentStatus returns a failed status for an intent that went back to requires_payment_method after a decline.
func mapIntentStatus(intent *stripe.PaymentIntent) Status {
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		if c := intent.LatestCharge; c != nil && c.Amount > 0 && c.AmountRefunded >= c.Amount {
			return StatusRefunded
		}
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	case stripe.PaymentIntentStatusRequiresAction:
		return StatusRequiresAction
	case stripe.PaymentIntentStatusProcessing:
		return StatusProcessing
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if intent.LastPaymentError != nil {
			return StatusFailed
		}
		return StatusPending
	default:
		return StatusPending
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
