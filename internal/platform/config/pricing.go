package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	domain "github.com/casacustomz/api/internal/domain"
)

// pricingFile mirrors the YAML layout of a pricing override file. Omitted keys keep the built-in
// values, so a file may override a single tax rate.
type pricingFile struct {
	FreeShippingThreshold *string           `yaml:"freeShippingThreshold"`
	DefaultShipping       *string           `yaml:"defaultShipping"`
	DefaultTaxRate        *string           `yaml:"defaultTaxRate"`
	PriceTolerance        *string           `yaml:"priceTolerance"`
	TaxRates              map[string]string `yaml:"taxRates"`
	Zones                 []pricingZone     `yaml:"zones"`
}

type pricingZone struct {
	Name    string   `yaml:"name"`
	Regions []string `yaml:"regions"`
	Cost    string   `yaml:"cost"`
}

// LoadPricingRules reads a YAML override file on top of domain.DefaultPricingRules. An empty path
// returns the defaults.
func LoadPricingRules(path string) (domain.PricingRules, error) {
	rules := domain.DefaultPricingRules()
	path = strings.TrimSpace(path)
	if path == "" {
		return rules, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.PricingRules{}, fmt.Errorf("config: read pricing rules %s: %w", path, err)
	}
	return ParsePricingRules(raw)
}

// ParsePricingRules applies YAML overrides to the default pricing rules.
func ParsePricingRules(raw []byte) (domain.PricingRules, error) {
	rules := domain.DefaultPricingRules()
	var file pricingFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return domain.PricingRules{}, fmt.Errorf("config: parse pricing rules: %w", err)
	}

	for _, field := range []struct {
		name   string
		raw    *string
		target *decimal.Decimal
	}{
		{"freeShippingThreshold", file.FreeShippingThreshold, &rules.FreeShippingThreshold},
		{"defaultShipping", file.DefaultShipping, &rules.DefaultShipping},
		{"defaultTaxRate", file.DefaultTaxRate, &rules.DefaultTaxRate},
		{"priceTolerance", file.PriceTolerance, &rules.PriceTolerance},
	} {
		if field.raw == nil {
			continue
		}
		value, err := parseMoney(field.name, *field.raw)
		if err != nil {
			return domain.PricingRules{}, err
		}
		*field.target = value
	}

	for region, rawRate := range file.TaxRates {
		rate, err := parseMoney("taxRates."+region, rawRate)
		if err != nil {
			return domain.PricingRules{}, err
		}
		if rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return domain.PricingRules{}, fmt.Errorf("config: taxRates.%s must be a fraction below 1", region)
		}
		rules.TaxRates[domain.NormalizeRegion(region)] = rate
	}

	if len(file.Zones) > 0 {
		zones := make([]domain.ShippingZone, 0, len(file.Zones))
		for _, zone := range file.Zones {
			if strings.TrimSpace(zone.Name) == "" || len(zone.Regions) == 0 {
				return domain.PricingRules{}, errors.New("config: shipping zones need a name and at least one region")
			}
			cost, err := parseMoney("zones."+zone.Name, zone.Cost)
			if err != nil {
				return domain.PricingRules{}, err
			}
			regions := make([]string, 0, len(zone.Regions))
			for _, region := range zone.Regions {
				regions = append(regions, domain.NormalizeRegion(region))
			}
			zones = append(zones, domain.ShippingZone{Name: zone.Name, Regions: regions, Cost: cost})
		}
		rules.Zones = zones
	}
	return rules, nil
}

func parseMoney(name, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("config: %s: %w", name, err)
	}
	if value.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("config: %s must not be negative", name)
	}
	return value, nil
}
