package handlers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/casacustomz/api/internal/domain"
	"github.com/casacustomz/api/internal/services"
)

type customerPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

type addressPayload struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country,omitempty"`
}

type itemPayload struct {
	Device   string          `json:"device"`
	CaseType string          `json:"caseType"`
	Text     string          `json:"text"`
	Color    string          `json:"color"`
	Font     string          `json:"font"`
	FontSize int             `json:"fontSize,omitempty"`
	Logo     bool            `json:"logo"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type paymentInfoPayload struct {
	PaymentIntentID string `json:"paymentIntentId"`
	PaymentMethod   string `json:"paymentMethod,omitempty"`
}

// checkoutRequest is the cart submission shared by checkout, create-intent and order placement.
// Client subtotal, shipping and tax are accepted for compatibility and ignored; only the total
// takes part in charge resolution.
type checkoutRequest struct {
	CustomerInfo        customerPayload    `json:"customerInfo"`
	ShippingAddress     addressPayload     `json:"shippingAddress"`
	BillingAddress      *addressPayload    `json:"billingAddress,omitempty"`
	Items               []itemPayload      `json:"items"`
	Subtotal            *decimal.Decimal   `json:"subtotal,omitempty"`
	Shipping            *decimal.Decimal   `json:"shipping,omitempty"`
	Tax                 *decimal.Decimal   `json:"tax,omitempty"`
	Total               *decimal.Decimal   `json:"total,omitempty"`
	PaymentInfo         paymentInfoPayload `json:"paymentInfo"`
	PaymentMethodID     string             `json:"paymentMethodId,omitempty"`
	SpecialInstructions string             `json:"specialInstructions,omitempty"`
	Marketing           bool               `json:"marketing"`
}

func (r checkoutRequest) command(idempotencyKey string) services.CheckoutCommand {
	cmd := services.CheckoutCommand{
		Customer: domain.Customer{
			FirstName: r.CustomerInfo.FirstName,
			LastName:  r.CustomerInfo.LastName,
			Email:     r.CustomerInfo.Email,
			Phone:     r.CustomerInfo.Phone,
		},
		ShippingAddress:     r.ShippingAddress.address(),
		ClientTotal:         r.Total,
		PaymentMethodToken:  strings.TrimSpace(r.PaymentMethodID),
		SpecialInstructions: r.SpecialInstructions,
		MarketingOptIn:      r.Marketing,
		IdempotencyKey:      strings.TrimSpace(idempotencyKey),
	}
	if r.BillingAddress != nil {
		billing := r.BillingAddress.address()
		cmd.BillingAddress = &billing
	}
	cmd.Items = make([]services.CheckoutItem, 0, len(r.Items))
	for _, item := range r.Items {
		cmd.Items = append(cmd.Items, services.CheckoutItem{
			Device:   item.Device,
			CaseType: item.CaseType,
			Text:     item.Text,
			Color:    item.Color,
			Font:     item.Font,
			FontSize: item.FontSize,
			Logo:     item.Logo,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}
	return cmd
}

func (a addressPayload) address() domain.Address {
	return domain.Address{
		Street:     a.Address,
		City:       a.City,
		Region:     a.State,
		PostalCode: a.ZipCode,
		Country:    a.Country,
	}
}

func newAddressPayload(a domain.Address) addressPayload {
	return addressPayload{
		Address: a.Street,
		City:    a.City,
		State:   a.Region,
		ZipCode: a.PostalCode,
		Country: a.Country,
	}
}

// itemResponse mirrors itemPayload with the unit price rendered as a JSON number.
type itemResponse struct {
	Device   string      `json:"device"`
	CaseType string      `json:"caseType"`
	Text     string      `json:"text"`
	Color    string      `json:"color"`
	Font     string      `json:"font"`
	FontSize int         `json:"fontSize,omitempty"`
	Logo     bool        `json:"logo"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

func newItemPayloads(items []domain.LineItem) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, itemResponse{
			Device:   item.Device,
			CaseType: item.CaseType,
			Text:     item.Customization.Text,
			Color:    item.Customization.Color,
			Font:     item.Customization.Font,
			FontSize: item.Customization.FontSize,
			Logo:     item.Customization.Logo,
			Price:    money(item.UnitPrice),
			Quantity: item.Quantity,
		})
	}
	return out
}

// money renders an amount as a bare JSON number with two decimals.
func money(amount decimal.Decimal) json.Number {
	return json.Number(amount.StringFixed(2))
}

func minorMoney(cents int64) json.Number {
	return money(domain.FromMinorUnits(cents))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

type totalsPayload struct {
	Subtotal json.Number `json:"subtotal"`
	Shipping json.Number `json:"shipping"`
	Tax      json.Number `json:"tax"`
	Total    json.Number `json:"total"`
}

func newTotalsPayload(t domain.Totals) totalsPayload {
	return totalsPayload{
		Subtotal: money(t.Subtotal),
		Shipping: money(t.Shipping),
		Tax:      money(t.Tax),
		Total:    money(t.Total),
	}
}

type disputePayload struct {
	ID       string      `json:"id"`
	Reason   string      `json:"reason,omitempty"`
	Status   string      `json:"status,omitempty"`
	Amount   json.Number `json:"amount"`
	OpenedAt string      `json:"openedAt,omitempty"`
}

type refundInfoPayload struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Amount     json.Number `json:"amount"`
	Reason     string      `json:"reason,omitempty"`
	RefundedAt string      `json:"refundedAt,omitempty"`
}

type paymentPayload struct {
	PaymentIntentID string              `json:"paymentIntentId"`
	PaymentMethod   string              `json:"paymentMethod,omitempty"`
	PaymentStatus   string              `json:"paymentStatus"`
	Dispute         *disputePayload     `json:"dispute,omitempty"`
	Refund          *refundInfoPayload  `json:"refund,omitempty"`
	Refunds         []refundInfoPayload `json:"refunds,omitempty"`
	AmountRefunded  json.Number         `json:"amountRefunded,omitempty"`
}

func newPaymentPayload(p domain.PaymentInfo) paymentPayload {
	payload := paymentPayload{
		PaymentIntentID: p.AuthorizationID,
		PaymentMethod:   p.Method,
		PaymentStatus:   string(p.Status),
	}
	if p.Dispute != nil {
		payload.Dispute = &disputePayload{
			ID:       p.Dispute.ID,
			Reason:   p.Dispute.Reason,
			Status:   p.Dispute.Status,
			Amount:   minorMoney(p.Dispute.Amount),
			OpenedAt: formatTime(p.Dispute.OpenedAt),
		}
	}
	for _, rf := range p.Refunds {
		payload.Refunds = append(payload.Refunds, refundInfoPayload{
			ID:         rf.ID,
			Status:     rf.Status,
			Amount:     minorMoney(rf.Amount),
			Reason:     rf.Reason,
			RefundedAt: formatTime(rf.RefundedAt),
		})
	}
	if n := len(payload.Refunds); n > 0 {
		latest := payload.Refunds[n-1]
		payload.Refund = &latest
	}
	if p.AmountRefunded > 0 {
		payload.AmountRefunded = minorMoney(p.AmountRefunded)
	}
	return payload
}

// orderSummaryPayload is returned to shoppers after an order is placed.
type orderSummaryPayload struct {
	ID              string         `json:"id"`
	OrderNumber     string         `json:"orderNumber"`
	Total           json.Number    `json:"total"`
	Status          string         `json:"status"`
	CustomerEmail   string         `json:"customerEmail"`
	CustomerName    string         `json:"customerName"`
	Items           []itemResponse `json:"items"`
	ShippingAddress addressPayload `json:"shippingAddress"`
	CreatedAt       string         `json:"createdAt"`
	PaymentInfo     paymentPayload `json:"paymentInfo"`
}

func newOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		Total:           money(order.Totals.Total),
		Status:          string(order.Status),
		CustomerEmail:   order.Customer.Email,
		CustomerName:    order.Customer.FullName(),
		Items:           newItemPayloads(order.Items),
		ShippingAddress: newAddressPayload(order.ShippingAddress),
		CreatedAt:       formatTime(order.CreatedAt),
		PaymentInfo:     newPaymentPayload(order.Payment),
	}
}

// orderPayload is the full admin view of an order.
type orderPayload struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	Status          string          `json:"status"`
	CustomerInfo    customerPayload `json:"customerInfo"`
	ShippingAddress addressPayload  `json:"shippingAddress"`
	BillingAddress  addressPayload  `json:"billingAddress"`
	Items           []itemResponse  `json:"items"`
	totalsPayload
	PaymentInfo         paymentPayload `json:"paymentInfo"`
	TrackingNumber      string         `json:"trackingNumber,omitempty"`
	Carrier             string         `json:"carrier,omitempty"`
	PrintedAt           *string        `json:"printedAt,omitempty"`
	ShippedAt           *string        `json:"shippedAt,omitempty"`
	DeliveredAt         *string        `json:"deliveredAt,omitempty"`
	EstimatedDelivery   *string        `json:"estimatedDelivery,omitempty"`
	Notes               string         `json:"notes,omitempty"`
	SpecialInstructions string         `json:"specialInstructions,omitempty"`
	Marketing           bool           `json:"marketing"`
	Source              string         `json:"source"`
	CreatedAt           string         `json:"createdAt"`
	UpdatedAt           string         `json:"updatedAt"`
}

func newOrderPayload(order domain.Order) orderPayload {
	return orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		CustomerInfo: customerPayload{
			FirstName: order.Customer.FirstName,
			LastName:  order.Customer.LastName,
			Email:     order.Customer.Email,
			Phone:     order.Customer.Phone,
		},
		ShippingAddress:     newAddressPayload(order.ShippingAddress),
		BillingAddress:      newAddressPayload(order.EffectiveBillingAddress()),
		Items:               newItemPayloads(order.Items),
		totalsPayload:       newTotalsPayload(order.Totals),
		PaymentInfo:         newPaymentPayload(order.Payment),
		TrackingNumber:      order.Fulfillment.TrackingNumber,
		Carrier:             order.Fulfillment.Carrier,
		PrintedAt:           formatTimePtr(order.Fulfillment.PrintedAt),
		ShippedAt:           formatTimePtr(order.Fulfillment.ShippedAt),
		DeliveredAt:         formatTimePtr(order.Fulfillment.DeliveredAt),
		EstimatedDelivery:   formatTimePtr(order.Fulfillment.EstimatedDelivery),
		Notes:               order.Fulfillment.Notes,
		SpecialInstructions: order.SpecialInstructions,
		Marketing:           order.MarketingOptIn,
		Source:              string(order.Source),
		CreatedAt:           formatTime(order.CreatedAt),
		UpdatedAt:           formatTime(order.UpdatedAt),
	}
}

type timelinePayload struct {
	Ordered    *string `json:"ordered"`
	Processing *string `json:"processing"`
	Printed    *string `json:"printed"`
	Shipped    *string `json:"shipped"`
	Delivered  *string `json:"delivered"`
}

// trackingPayload is the public tracking view; it omits contact details beyond the name.
type trackingPayload struct {
	OrderNumber       string          `json:"orderNumber"`
	Status            string          `json:"status"`
	CustomerName      string          `json:"customerName"`
	Items             []itemResponse  `json:"items"`
	Total             json.Number     `json:"total"`
	ShippingAddress   addressPayload  `json:"shippingAddress"`
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	Carrier           string          `json:"carrier,omitempty"`
	EstimatedDelivery *string         `json:"estimatedDelivery,omitempty"`
	CreatedAt         string          `json:"createdAt"`
	Timeline          timelinePayload `json:"timeline"`
}

func newTrackingPayload(order domain.Order) trackingPayload {
	created := formatTimePtr(&order.CreatedAt)
	timeline := timelinePayload{
		Ordered:   created,
		Printed:   formatTimePtr(order.Fulfillment.PrintedAt),
		Shipped:   formatTimePtr(order.Fulfillment.ShippedAt),
		Delivered: formatTimePtr(order.Fulfillment.DeliveredAt),
	}
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusCancelled {
		timeline.Processing = created
	}
	return trackingPayload{
		OrderNumber:       order.OrderNumber,
		Status:            string(order.Status),
		CustomerName:      order.Customer.FullName(),
		Items:             newItemPayloads(order.Items),
		Total:             money(order.Totals.Total),
		ShippingAddress:   newAddressPayload(order.ShippingAddress),
		TrackingNumber:    order.Fulfillment.TrackingNumber,
		Carrier:           order.Fulfillment.Carrier,
		EstimatedDelivery: formatTimePtr(order.Fulfillment.EstimatedDelivery),
		CreatedAt:         formatTime(order.CreatedAt),
		Timeline:          timeline,
	}
}
