// Package jobs publishes order events and unreconciled charges to a message broker.
package jobs

import (
	"strings"
	"time"

	"github.com/casacustomz/api/internal/services"
)

type orderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type unreconciledChargeMessage struct {
	AuthorizationID string            `json:"authorizationId"`
	EventID         string            `json:"eventId,omitempty"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	CustomerEmail   string            `json:"customerEmail,omitempty"`
	Reason          string            `json:"reason"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	DetectedAt      time.Time         `json:"detectedAt"`
}

func newOrderEventMessage(event services.OrderEvent) orderEventMessage {
	return orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	}
}

func newUnreconciledChargeMessage(charge services.UnreconciledCharge) unreconciledChargeMessage {
	return unreconciledChargeMessage{
		AuthorizationID: charge.AuthorizationID,
		EventID:         charge.EventID,
		Amount:          charge.Amount,
		Currency:        strings.ToLower(charge.Currency),
		CustomerEmail:   charge.CustomerEmail,
		Reason:          charge.Reason,
		Metadata:        charge.Metadata,
		DetectedAt:      charge.DetectedAt.UTC(),
	}
}

// orderEventAttributes are the routing attributes subscribers filter on.
func orderEventAttributes(event services.OrderEvent) map[string]string {
	attrs := make(map[string]string, 3)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.CurrentStatus)
	return attrs
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
