package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the single currency the storefront charges in.
const Currency = "usd"

// Totals holds the monetary breakdown of an order. Values are unrounded until Rounded is called.
type Totals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Rounded returns the breakdown rounded half away from zero to cents. Total is the sum of the
// rounded components so persisted totals always add up.
func (t Totals) Rounded() Totals {
	rounded := Totals{
		Subtotal: t.Subtotal.Round(2),
		Shipping: t.Shipping.Round(2),
		Tax:      t.Tax.Round(2),
	}
	rounded.Total = rounded.Subtotal.Add(rounded.Shipping).Add(rounded.Tax)
	return rounded
}

// Consistent reports whether Total equals the sum of the components.
func (t Totals) Consistent() bool {
	return t.Total.Equal(t.Subtotal.Add(t.Shipping).Add(t.Tax))
}

// MinorUnits converts the total into integer cents for the payment boundary.
func (t Totals) MinorUnits() int64 {
	return MinorUnits(t.Total)
}

// MinorUnits rounds a decimal amount to cents and returns it as an integer.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// FromMinorUnits converts integer cents back into a decimal amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// ShippingZone groups regions that share a flat shipping cost.
type ShippingZone struct {
	Name    string
	Regions []string
	Cost    decimal.Decimal
}

// PricingRules parameterise the pricing engine.
type PricingRules struct {
	FreeShippingThreshold decimal.Decimal
	Zones                 []ShippingZone
	DefaultShipping       decimal.Decimal
	TaxRates              map[string]decimal.Decimal
	DefaultTaxRate        decimal.Decimal
	PriceTolerance        decimal.Decimal
}

// ShippingCost returns the zone cost for the region ignoring the free shipping threshold.
func (r PricingRules) ShippingCost(region string) decimal.Decimal {
	code := NormalizeRegion(region)
	for _, zone := range r.Zones {
		for _, candidate := range zone.Regions {
			if NormalizeRegion(candidate) == code {
				return zone.Cost
			}
		}
	}
	return r.DefaultShipping
}

// TaxRate returns the rate for the region, falling back to the default rate.
func (r PricingRules) TaxRate(region string) decimal.Decimal {
	if rate, ok := r.TaxRates[NormalizeRegion(region)]; ok {
		return rate
	}
	return r.DefaultTaxRate
}

// NormalizeRegion upper-cases and trims a region code.
func NormalizeRegion(region string) string {
	return strings.ToUpper(strings.TrimSpace(region))
}

// DefaultPricingRules returns the storefront's standard US pricing.
func DefaultPricingRules() PricingRules {
	rates := map[string]string{
		"AL": "0.04", "AK": "0.00", "AZ": "0.056", "AR": "0.065", "CA": "0.0725",
		"CO": "0.029", "CT": "0.0635", "DE": "0.00", "FL": "0.06", "GA": "0.04",
		"HI": "0.04", "ID": "0.06", "IL": "0.0625", "IN": "0.07", "IA": "0.06",
		"KS": "0.065", "KY": "0.06", "LA": "0.045", "ME": "0.055", "MD": "0.06",
		"MA": "0.0625", "MI": "0.06", "MN": "0.06875", "MS": "0.07", "MO": "0.04225",
		"MT": "0.00", "NE": "0.055", "NV": "0.0685", "NH": "0.00", "NJ": "0.06625",
		"NM": "0.05125", "NY": "0.08", "NC": "0.0475", "ND": "0.05", "OH": "0.0575",
		"OK": "0.045", "OR": "0.00", "PA": "0.06", "RI": "0.07", "SC": "0.06",
		"SD": "0.045", "TN": "0.07", "TX": "0.0625", "UT": "0.0485", "VT": "0.06",
		"VA": "0.053", "WA": "0.065", "WV": "0.06", "WI": "0.05", "WY": "0.04",
	}
	taxRates := make(map[string]decimal.Decimal, len(rates))
	for region, rate := range rates {
		taxRates[region] = decimal.RequireFromString(rate)
	}

	return PricingRules{
		FreeShippingThreshold: decimal.NewFromInt(25),
		Zones: []ShippingZone{
			{
				Name:    "western",
				Regions: []string{"CA", "OR", "WA", "NV", "AZ", "UT", "CO", "ID", "MT", "WY"},
				Cost:    decimal.RequireFromString("4.99"),
			},
			{
				Name:    "central",
				Regions: []string{"TX", "OK", "KS", "NE", "ND", "SD", "MN", "IA", "MO", "AR", "LA"},
				Cost:    decimal.RequireFromString("5.99"),
			},
		},
		DefaultShipping: decimal.RequireFromString("6.99"),
		TaxRates:        taxRates,
		DefaultTaxRate:  decimal.RequireFromString("0.085"),
		PriceTolerance:  decimal.RequireFromString("0.05"),
	}
}

// CaseType describes a product tier and its base price.
type CaseType struct {
	Code        string
	Name        string
	Description string
	Price       decimal.Decimal
}

// DefaultCaseTypes lists the sellable case tiers.
func DefaultCaseTypes() []CaseType {
	return []CaseType{
		{Code: "CLASSIC", Name: "Classic", Description: "Slim protective case with a glossy finish", Price: decimal.RequireFromString("5.95")},
		{Code: "PREMIUM", Name: "Premium", Description: "Shock absorbing case with raised edges", Price: decimal.RequireFromString("8.95")},
	}
}
