package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/casacustomz/api/internal/domain"
)

// ErrPricingInvalidInput signals items the engine refuses to price.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// PricingEngineDeps configures the rule based pricing engine.
type PricingEngineDeps struct {
	Rules *PricingRules
}

// RulePricingEngine prices carts from a static rule table. It performs no I/O.
type RulePricingEngine struct {
	rules PricingRules
}

var _ PricingEngine = (*RulePricingEngine)(nil)

// NewPricingEngine builds a pricing engine, falling back to the default US rules.
func NewPricingEngine(deps PricingEngineDeps) (*RulePricingEngine, error) {
	rules := domain.DefaultPricingRules()
	if deps.Rules != nil {
		rules = *deps.Rules
	}
	if rules.FreeShippingThreshold.IsNegative() {
		return nil, errors.New("pricing engine: free shipping threshold must not be negative")
	}
	if rules.DefaultTaxRate.IsNegative() || rules.DefaultShipping.IsNegative() {
		return nil, errors.New("pricing engine: default tax rate and shipping must not be negative")
	}
	if rules.PriceTolerance.IsNegative() {
		return nil, errors.New("pricing engine: price tolerance must not be negative")
	}
	return &RulePricingEngine{rules: rules}, nil
}

// Rules returns the active rule set for read-only previews.
func (e *RulePricingEngine) Rules() PricingRules {
	return e.rules
}

// ComputeTotals returns unrounded totals. Callers round once via Totals.Rounded at the boundary.
func (e *RulePricingEngine) ComputeTotals(items []LineItem, region string) (Totals, error) {
	if len(items) == 0 {
		return Totals{}, fmt.Errorf("%w: at least one item is required", ErrPricingInvalidInput)
	}

	subtotal := decimal.Zero
	for i, item := range items {
		if !item.UnitPrice.IsPositive() {
			return Totals{}, fmt.Errorf("%w: items[%d] price must be positive", ErrPricingInvalidInput, i)
		}
		if item.Quantity < 1 {
			return Totals{}, fmt.Errorf("%w: items[%d] quantity must be at least 1", ErrPricingInvalidInput, i)
		}
		subtotal = subtotal.Add(item.LineTotal())
	}

	shipping := e.shippingFor(subtotal, region)
	tax := subtotal.Add(shipping).Mul(e.rules.TaxRate(region))

	return Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}, nil
}

func (e *RulePricingEngine) shippingFor(subtotal decimal.Decimal, region string) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(e.rules.FreeShippingThreshold) {
		return decimal.Zero
	}
	return e.rules.ShippingCost(region)
}

// ResolveCharge never authorizes less than the server total. A client total above the server total
// by more than the tolerance wins; anything else charges the server total.
func (e *RulePricingEngine) ResolveCharge(server Totals, clientTotal *decimal.Decimal) ChargeResolution {
	serverTotal := server.Rounded().Total
	resolution := ChargeResolution{
		Server: serverTotal,
		Amount: serverTotal,
	}
	if clientTotal != nil {
		client := clientTotal.Round(2)
		resolution.Client = &client
		resolution.Difference = serverTotal.Sub(client).Abs()
		resolution.Mismatch = resolution.Difference.GreaterThan(e.rules.PriceTolerance)
		if resolution.Mismatch && client.GreaterThan(serverTotal) {
			resolution.Amount = client
		}
	}
	resolution.AmountMinor = domain.MinorUnits(resolution.Amount)
	return resolution
}
