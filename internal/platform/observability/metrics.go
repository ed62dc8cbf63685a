package observability

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/casacustomz/api"

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	requests  metric.Int64Counter
	checkouts metric.Int64Counter
	webhooks  metric.Int64Counter
}

// NewMetrics registers the counters on the given provider, or the global one when nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	requests, err := meter.Int64Counter("http.server.requests",
		metric.WithDescription("HTTP requests by route and status"))
	if err != nil {
		return nil, err
	}
	checkouts, err := meter.Int64Counter("checkout.outcomes",
		metric.WithDescription("Checkout attempts by outcome"))
	if err != nil {
		return nil, err
	}
	webhooks, err := meter.Int64Counter("webhook.events",
		metric.WithDescription("Payment provider notifications by type and reconciler action"))
	if err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, checkouts: checkouts, webhooks: webhooks}, nil
}

func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
		attribute.String("http.response.status_code", strconv.Itoa(status)),
	))
}

// RecordCheckout counts a checkout attempt, e.g. outcome "created", "converged", "declined".
func (m *Metrics) RecordCheckout(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordWebhook(ctx context.Context, eventType, action string) {
	if m == nil {
		return
	}
	m.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("action", action),
	))
}
