package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/payments"
	"github.com/casacustomz/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	LineItem           = domain.LineItem
	Customization      = domain.Customization
	Customer           = domain.Customer
	Address            = domain.Address
	Totals             = domain.Totals
	PricingRules       = domain.PricingRules
	CaseType           = domain.CaseType
	CatalogEntry       = domain.CatalogEntry
	CatalogKind        = domain.CatalogKind
	AdminAccount       = domain.AdminAccount
	OrderAnalytics     = domain.OrderAnalytics
	SystemHealthReport = domain.SystemHealthReport
	OrderListFilter    = repositories.OrderListFilter
)

// PricingEngine computes authoritative order totals.
type PricingEngine interface {
	ComputeTotals(items []LineItem, region string) (Totals, error)
	// ResolveCharge compares server totals with an untrusted client total and picks the amount to authorize.
	ResolveCharge(server Totals, clientTotal *decimal.Decimal) ChargeResolution
	Rules() PricingRules
}

// ChargeResolution describes how the authorization amount was chosen.
type ChargeResolution struct {
	Server      decimal.Decimal
	Client      *decimal.Decimal
	Amount      decimal.Decimal
	AmountMinor int64
	Difference  decimal.Decimal
	Mismatch    bool
}

// OrderNumberAllocator hands out unique human readable order numbers.
type OrderNumberAllocator interface {
	Generate(now time.Time) string
	Allocate(ctx context.Context) (string, error)
}

// OrderService owns order creation, reads, admin listings and every status mutation.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (OrderCreateResult, error)
	GetByID(ctx context.Context, orderID string) (Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (Order, error)
	GetByAuthorizationID(ctx context.Context, authorizationID string) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error)
	Analytics(ctx context.Context, rangeKey string) (OrderAnalytics, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	ApplyPaymentUpdate(ctx context.Context, cmd PaymentUpdateCommand) (PaymentUpdateResult, error)
}

// CheckoutService turns carts into paid orders and exposes the payment endpoints.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	CreatePaymentIntent(ctx context.Context, cmd CheckoutCommand) (PaymentIntentResult, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (payments.Authorization, error)
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (OrderCreateResult, error)
	GetPaymentIntent(ctx context.Context, authorizationID string) (payments.PaymentDetails, error)
	Refund(ctx context.Context, cmd RefundCommand) (payments.Refund, error)
	Quote(ctx context.Context, items []LineItem, region string) (Quote, error)
}

// WebhookReconciler applies provider notifications to orders.
type WebhookReconciler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (ReconcileOutcome, error)
	HandleEvent(ctx context.Context, event payments.Event) (ReconcileOutcome, error)
	Replay(ctx context.Context, authorizationID string) (ReconcileOutcome, error)
}

// CatalogService manages the product configuration catalog.
type CatalogService interface {
	EnsureDefaults(ctx context.Context) (int, error)
	List(ctx context.Context, kind CatalogKind, activeOnly bool) ([]CatalogEntry, error)
	Upsert(ctx context.Context, cmd CatalogUpsertCommand) (CatalogEntry, error)
	CaseTypes() []CaseType
	ValidateText(text string) TextValidation
}

// AdminAuthService authenticates operators of the admin surface.
type AdminAuthService interface {
	NeedsSetup(ctx context.Context) (bool, error)
	Setup(ctx context.Context, cmd AdminSetupCommand) (AdminSession, error)
	Login(ctx context.Context, cmd AdminLoginCommand) (AdminSession, error)
	Verify(ctx context.Context, token string) (AdminAccount, error)
}

// AdminTokenIssuer signs and verifies admin session tokens.
type AdminTokenIssuer interface {
	IssueAdminToken(claims domain.AdminSessionClaims) (string, error)
	ParseAdminToken(token string) (domain.AdminSessionClaims, error)
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// UnreconciledChargePublisher queues charges that have no order and cannot be recreated automatically.
type UnreconciledChargePublisher interface {
	PublishUnreconciledCharge(ctx context.Context, charge UnreconciledCharge) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// UnreconciledCharge is the durable record of money taken without a matching order.
type UnreconciledCharge struct {
	AuthorizationID string
	EventID         string
	Amount          int64
	Currency        string
	CustomerEmail   string
	Reason          string
	Metadata        map[string]string
	DetectedAt      time.Time
}

// CreateOrderCommand carries a fully priced order for persistence.
type CreateOrderCommand struct {
	Customer            Customer
	ShippingAddress     Address
	BillingAddress      *Address
	Items               []LineItem
	Totals              Totals
	AuthorizationID     string
	PaymentMethod       string
	PaymentStatus       domain.PaymentStatus
	Status              OrderStatus
	SpecialInstructions string
	MarketingOptIn      bool
	Source              domain.OrderSource
	ActorID             string
}

// OrderCreateResult reports whether the call created the order or converged to an existing one.
type OrderCreateResult struct {
	Order   Order
	Created bool
}

// OrderStatusTransitionCommand drives the order status state machine.
type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	TrackingNumber string
	Carrier        string
	Notes          string
	ActorID        string
}

// PaymentUpdateCommand applies a payment provider outcome to the order linked to an authorization.
type PaymentUpdateCommand struct {
	AuthorizationID string
	PaymentStatus   domain.PaymentStatus
	Dispute         *domain.Dispute
	Refund          *domain.RefundInfo
	// RefundedTotal is the provider reported cumulative refund in minor units, zero when unknown.
	RefundedTotal int64
	Reason        string
}

// PaymentUpdateResult reports what an update did.
type PaymentUpdateResult struct {
	Order   Order
	Changed bool
	Skipped string
}

// CheckoutItem is a cart line as submitted by the client.
type CheckoutItem struct {
	Device   string
	CaseType string
	Text     string
	Color    string
	Font     string
	FontSize int
	Logo     bool
	Price    decimal.Decimal
	Quantity int
}

// CheckoutCommand is the untrusted checkout submission.
type CheckoutCommand struct {
	Customer            Customer
	ShippingAddress     Address
	BillingAddress      *Address
	Items               []CheckoutItem
	ClientTotal         *decimal.Decimal
	PaymentMethodToken  string
	SpecialInstructions string
	MarketingOptIn      bool
	IdempotencyKey      string
}

// CheckoutResult is returned for a completed checkout.
type CheckoutResult struct {
	Order           Order
	Created         bool
	AuthorizationID string
	Charged         ChargeResolution
}

// PaymentIntentResult is returned when an authorization is created for client side confirmation.
type PaymentIntentResult struct {
	Authorization payments.Authorization
	Totals        Totals
	Charged       ChargeResolution
}

// ConfirmPaymentCommand confirms a pending authorization.
type ConfirmPaymentCommand struct {
	AuthorizationID string
	PaymentMethodID string
}

// PlaceOrderCommand persists an order for an authorization the client already confirmed.
type PlaceOrderCommand struct {
	Checkout        CheckoutCommand
	AuthorizationID string
}

// RefundCommand refunds an authorization. Amount is in major units; nil refunds everything.
type RefundCommand struct {
	AuthorizationID string
	Amount          *decimal.Decimal
	Reason          string
	ActorID         string
}

// Quote is the read-only preview of server pricing.
type Quote struct {
	Totals  Totals
	TaxRate decimal.Decimal
}

// ReconcileOutcome summarises what the reconciler did with an event.
type ReconcileOutcome struct {
	EventType       payments.EventType
	AuthorizationID string
	Action          string
	OrderID         string
	OrderNumber     string
}

// CatalogUpsertCommand updates a catalog entry from the admin surface.
type CatalogUpsertCommand struct {
	Kind       CatalogKind
	Name       string
	Attributes map[string]string
	Active     *bool
	SortOrder  *int
	ActorID    string
}

// TextValidation is the outcome of validating customization text.
type TextValidation struct {
	Valid     bool
	Sanitized string
	Length    int
	MaxLength int
	Errors    []string
}

// AdminSetupCommand creates the first admin account.
type AdminSetupCommand struct {
	Username string
	Email    string
	Password string
}

// AdminLoginCommand authenticates an admin.
type AdminLoginCommand struct {
	Username string
	Password string
}

// AdminSession is issued on successful setup or login.
type AdminSession struct {
	Token     string
	ExpiresAt time.Time
	Account   AdminAccount
}
