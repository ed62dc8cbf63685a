package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is reserved for orders that exist before payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates payment succeeded and the order awaits printing.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusPrinted indicates the personalised product has been printed.
	OrderStatusPrinted OrderStatus = "printed"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier reported delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusPrinted,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// ParseOrderStatus normalises raw input into a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range OrderStatuses {
		if status == known {
			return status, true
		}
	}
	return "", false
}

// PaymentStatus mirrors the provider-side state of the authorization linked to an order.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// OrderSource records which path created the order record.
type OrderSource string

const (
	OrderSourceCheckout OrderSource = "checkout"
	OrderSourceOrderAPI OrderSource = "order_api"
	OrderSourceWebhook  OrderSource = "webhook"
)

// Customer holds the contact snapshot captured at checkout.
type Customer struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// FullName joins first and last name.
func (c Customer) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Address is a postal address. Region is the two letter state code used for tax and shipping.
type Address struct {
	Street     string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// Customization is the personalisation payload of a line item.
type Customization struct {
	Text     string
	Color    string
	Font     string
	FontSize int
	Logo     bool
}

// LineItem is an immutable order line.
type LineItem struct {
	Device        string
	CaseType      string
	Customization Customization
	UnitPrice     decimal.Decimal
	Quantity      int
}

// LineTotal returns unit price times quantity without rounding.
func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Dispute captures a chargeback opened against the order's payment.
type Dispute struct {
	ID       string
	Reason   string
	Status   string
	Amount   int64
	OpenedAt time.Time
}

// RefundInfo captures one refund issued against the order's payment.
type RefundInfo struct {
	ID         string
	Status     string
	Amount     int64
	Reason     string
	RefundedAt time.Time
}

// PaymentInfo links an order to its provider authorization.
type PaymentInfo struct {
	AuthorizationID string
	Method          string
	Status          PaymentStatus
	Dispute         *Dispute
	Refunds         []RefundInfo
	// AmountRefunded is the cumulative refunded amount in minor units.
	AmountRefunded int64
}

// LatestRefund returns the most recently recorded refund, or nil.
func (p PaymentInfo) LatestRefund() *RefundInfo {
	if len(p.Refunds) == 0 {
		return nil
	}
	latest := p.Refunds[len(p.Refunds)-1]
	return &latest
}

// FullyRefunded reports whether refunds cover the charged total.
func (p PaymentInfo) FullyRefunded(totalMinor int64) bool {
	return totalMinor > 0 && p.AmountRefunded >= totalMinor
}

// Fulfillment holds production and shipping progress. EstimatedDelivery is derived, never set directly.
type Fulfillment struct {
	TrackingNumber    string
	Carrier           string
	PrintedAt         *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	EstimatedDelivery *time.Time
	Notes             string
}

// Order is the central storefront record.
type Order struct {
	ID                  string
	OrderNumber         string
	Customer            Customer
	ShippingAddress     Address
	BillingAddress      *Address
	Items               []LineItem
	Totals              Totals
	Status              OrderStatus
	Payment             PaymentInfo
	Fulfillment         Fulfillment
	SpecialInstructions string
	MarketingOptIn      bool
	Source              OrderSource
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// EffectiveBillingAddress returns the billing address, defaulting to the shipping address.
func (o Order) EffectiveBillingAddress() Address {
	if o.BillingAddress != nil {
		return *o.BillingAddress
	}
	return o.ShippingAddress
}

// SortOrder defines ascending/descending ordering.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// Page packages offset paginated results with their totals.
type Page[T any] struct {
	Items      []T
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// OrderAnalytics aggregates order metrics over a time window.
type OrderAnalytics struct {
	Range             string
	From              time.Time
	To                time.Time
	TotalRevenue      decimal.Decimal
	TotalOrders       int
	AverageOrderValue decimal.Decimal
	StatusCounts      map[OrderStatus]int
	RecentOrders      []Order
}

// CatalogKind names a product configuration list.
type CatalogKind string

const (
	CatalogKindDevice  CatalogKind = "device"
	CatalogKindColor   CatalogKind = "color"
	CatalogKindFont    CatalogKind = "font"
	CatalogKindCarrier CatalogKind = "carrier"
)

// CatalogKinds lists every catalog kind.
var CatalogKinds = []CatalogKind{CatalogKindDevice, CatalogKindColor, CatalogKindFont, CatalogKindCarrier}

// CatalogEntry is a single selectable option in the product configuration catalog.
type CatalogEntry struct {
	Kind       CatalogKind
	Name       string
	Attributes map[string]string
	Active     bool
	SortOrder  int
	UpdatedAt  time.Time
}

// AdminRole gates the admin surface.
type AdminRole string

const (
	AdminRoleAdmin      AdminRole = "admin"
	AdminRoleSuperAdmin AdminRole = "super_admin"
)

// AdminAccount is a locally managed operator account.
type AdminAccount struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         AdminRole
	Active       bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AdminSessionClaims is the verified content of an admin session token.
type AdminSessionClaims struct {
	AccountID string
	Username  string
	Role      AdminRole
	IssuedAt  time.Time
	ExpiresAt time.Time
}
