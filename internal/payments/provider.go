package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status enumerates the normalised authorization states shared across providers.
type Status string

const (
	// StatusPending indicates the authorization awaits a payment method or confirmation.
	StatusPending Status = "pending"
	// StatusRequiresAction indicates the customer must complete an authentication step.
	StatusRequiresAction Status = "requires_action"
	// StatusProcessing indicates the provider is still settling the authorization.
	StatusProcessing Status = "processing"
	// StatusSucceeded indicates the provider reports the payment as collected.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider reports a failure or cancellation.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been fully refunded.
	StatusRefunded Status = "refunded"
)

// DefaultTimeout bounds every provider call when the caller does not configure one.
const DefaultTimeout = 15 * time.Second

// ShippingDetails is forwarded to the provider for fraud screening and receipts.
type ShippingDetails struct {
	Name       string
	Phone      string
	Line1      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// AuthorizationRequest captures the payload required to create a payment authorization.
// When PaymentMethodToken is set the authorization is confirmed immediately.
type AuthorizationRequest struct {
	AmountMinor        int64
	Currency           string
	Description        string
	Metadata           map[string]string
	PaymentMethodToken string
	ReceiptEmail       string
	Shipping           *ShippingDetails
	IdempotencyKey     string
}

// Authorization is the provider's view of a created or confirmed authorization.
type Authorization struct {
	ID           string
	Status       Status
	ClientSecret string
	Amount       int64
	Currency     string
	Charges      []Charge
}

// ConfirmRequest confirms an existing authorization with a payment method.
type ConfirmRequest struct {
	AuthorizationID string
	PaymentMethodID string
	ReturnURL       string
}

// Charge summarises a provider charge belonging to an authorization.
type Charge struct {
	ID             string
	Amount         int64
	AmountRefunded int64
	Status         string
	ReceiptURL     string
	Paid           bool
	Refunded       bool
	CreatedAt      time.Time
}

// PaymentDetails normalises provider specific authorization fields for reconciliation.
type PaymentDetails struct {
	ID             string
	Status         Status
	Amount         int64
	AmountReceived int64
	Currency       string
	Metadata       map[string]string
	Charges        []Charge
	CreatedAt      time.Time
}

// RefundRequest defines a refund attempt. A nil AmountMinor refunds the full amount.
type RefundRequest struct {
	AuthorizationID string
	AmountMinor     *int64
	Reason          string
	Metadata        map[string]string
}

// Refund is the provider's refund record.
type Refund struct {
	ID              string
	AuthorizationID string
	ChargeID        string
	Status          string
	Amount          int64
	Currency        string
	Reason          string
}

// Gateway is the contract the checkout and reconciliation flows depend on.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (Authorization, error)
	Confirm(ctx context.Context, req ConfirmRequest) (Authorization, error)
	Retrieve(ctx context.Context, authorizationID string) (PaymentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
	// ResolveCharge returns the authorization that owns the given charge.
	ResolveCharge(ctx context.Context, chargeID string) (string, error)
	VerifyWebhook(payload []byte, signatureHeader string) (Event, error)
}

// ErrorKind classifies provider failures into a closed set.
type ErrorKind string

const (
	ErrorKindDeclined               ErrorKind = "declined"
	ErrorKindAuthenticationRequired ErrorKind = "authentication_required"
	ErrorKindUnavailable            ErrorKind = "unavailable"
	ErrorKindTimeout                ErrorKind = "timeout"
	ErrorKindInvalidRequest         ErrorKind = "invalid_request"
	ErrorKindNotFound               ErrorKind = "not_found"
	ErrorKindInvalidSignature       ErrorKind = "invalid_signature"
)

// Error is returned by every Gateway method on failure.
type Error struct {
	Kind            ErrorKind
	Op              string
	DeclineCode     string
	Code            string
	Message         string
	AuthorizationID string
	Err             error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("payments: %s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("payments: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors of the same kind so callers can compare against the sentinels below.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil {
		return false
	}
	return other.Op == "" && other.Message == "" && e.Kind == other.Kind
}

var (
	// ErrInvalidSignature is returned when webhook signature verification fails.
	ErrInvalidSignature = &Error{Kind: ErrorKindInvalidSignature}
	// ErrDeclined matches any declined payment error.
	ErrDeclined = &Error{Kind: ErrorKindDeclined}
	// ErrAuthenticationRequired matches authorizations awaiting customer authentication.
	ErrAuthenticationRequired = &Error{Kind: ErrorKindAuthenticationRequired}
	// ErrUnavailable matches provider outages.
	ErrUnavailable = &Error{Kind: ErrorKindUnavailable}
	// ErrTimeout matches calls whose outcome is unknown.
	ErrTimeout = &Error{Kind: ErrorKindTimeout}
	// ErrInvalidRequest matches requests the provider rejected as malformed.
	ErrInvalidRequest = &Error{Kind: ErrorKindInvalidRequest}
	// ErrNotFound matches unknown authorizations or charges.
	ErrNotFound = &Error{Kind: ErrorKindNotFound}
)

// KindOf extracts the error kind, returning an empty kind for non payment errors.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

// EventType names the normalised webhook events.
type EventType string

const (
	EventAuthorizationSucceeded EventType = "authorization.succeeded"
	EventAuthorizationFailed    EventType = "authorization.failed"
	EventDisputeCreated         EventType = "dispute.created"
	EventRefundSucceeded        EventType = "refund.succeeded"
	EventUnknown                EventType = "unknown"
)

// DisputeDetails describes a chargeback carried by a dispute event.
type DisputeDetails struct {
	ID        string
	Reason    string
	Status    string
	Amount    int64
	CreatedAt time.Time
}

// Event is a verified, provider independent webhook notification.
type Event struct {
	ID              string
	Type            EventType
	ProviderType    string
	AuthorizationID string
	ChargeID        string
	Status          Status
	Amount          int64
	Currency        string
	Metadata        map[string]string
	FailureCode     string
	FailureMessage  string
	Dispute         *DisputeDetails
	Refund          *Refund
	CreatedAt       time.Time
}
