package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/casacustomz/api/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher sends order events and unreconciled charges to Kafka topics. Order events are
// keyed by order id so that one order's events stay on one partition.
type KafkaPublisher struct {
	orders       messageWriter
	unreconciled messageWriter
}

var (
	_ services.OrderEventPublisher         = (*KafkaPublisher)(nil)
	_ services.UnreconciledChargePublisher = (*KafkaPublisher)(nil)
)

// NewKafkaPublisher builds one long lived writer per topic.
func NewKafkaPublisher(brokers []string, orderTopic, unreconciledTopic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: brokers are required")
	}
	if orderTopic == "" || unreconciledTopic == "" {
		return nil, errors.New("kafka publisher: topics are required")
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return newKafkaPublisher(newWriter(orderTopic), newWriter(unreconciledTopic)), nil
}

func newKafkaPublisher(orders, unreconciled messageWriter) *KafkaPublisher {
	return &KafkaPublisher{orders: orders, unreconciled: unreconciled}
}

func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	payload, err := json.Marshal(newOrderEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	msg := kafka.Message{Key: []byte(event.OrderID), Value: payload, Headers: headers(orderEventAttributes(event))}
	if err := p.orders.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) PublishUnreconciledCharge(ctx context.Context, charge services.UnreconciledCharge) error {
	payload, err := json.Marshal(newUnreconciledChargeMessage(charge))
	if err != nil {
		return fmt.Errorf("marshal unreconciled charge: %w", err)
	}
	msg := kafka.Message{Key: []byte(charge.AuthorizationID), Value: payload}
	if err := p.unreconciled.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish unreconciled charge %s: %w", charge.AuthorizationID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return errors.Join(p.orders.Close(), p.unreconciled.Close())
}

func headers(attrs map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}
