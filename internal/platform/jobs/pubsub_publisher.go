package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/casacustomz/api/internal/services"
)

// PubSubPublisher sends order events and unreconciled charges to two Pub/Sub topics.
type PubSubPublisher struct {
	orders       *pubsub.Topic
	unreconciled *pubsub.Topic
}

var (
	_ services.OrderEventPublisher         = (*PubSubPublisher)(nil)
	_ services.UnreconciledChargePublisher = (*PubSubPublisher)(nil)
)

// NewPubSubPublisher wraps existing topics. Order events are ordered by order id, so the
// order topic has message ordering enabled.
func NewPubSubPublisher(orders, unreconciled *pubsub.Topic) (*PubSubPublisher, error) {
	if orders == nil || unreconciled == nil {
		return nil, errors.New("pubsub publisher: both topics are required")
	}
	orders.EnableMessageOrdering = true
	return &PubSubPublisher{orders: orders, unreconciled: unreconciled}, nil
}

// OpenPubSubPublisher looks up the configured topics on client.
func OpenPubSubPublisher(client *pubsub.Client, orderTopic, unreconciledTopic string) (*PubSubPublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub publisher: client is required")
	}
	return NewPubSubPublisher(client.Topic(orderTopic), client.Topic(unreconciledTopic))
}

func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	data, err := json.Marshal(newOrderEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	result := p.orders.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  orderEventAttributes(event),
		OrderingKey: event.OrderID,
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed ordered publish pauses the key until resumed.
		p.orders.ResumePublish(event.OrderID)
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

func (p *PubSubPublisher) PublishUnreconciledCharge(ctx context.Context, charge services.UnreconciledCharge) error {
	data, err := json.Marshal(newUnreconciledChargeMessage(charge))
	if err != nil {
		return fmt.Errorf("marshal unreconciled charge: %w", err)
	}
	attrs := make(map[string]string, 2)
	setAttr(attrs, "authorizationId", charge.AuthorizationID)
	setAttr(attrs, "reason", charge.Reason)
	result := p.unreconciled.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish unreconciled charge %s: %w", charge.AuthorizationID, err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.orders.Stop()
	p.unreconciled.Stop()
}
