package rules

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Config holds the price rule factors.
type Config struct {
	// DiscountFactor turns a list-A price into the highest allowed unit price.
	DiscountFactor decimal.Decimal `json:"discount_factor" mapstructure:"discount_factor"`

	// MarkupFactor turns a list-B price into the highest allowed unit price.
	MarkupFactor decimal.Decimal `json:"markup_factor" mapstructure:"markup_factor"`
}

// DefaultConfig returns the contract factors: list-A prices carry a 68%
// discount, list-B prices allow a 10% markup.
func DefaultConfig() *Config {
	return &Config{
		DiscountFactor: decimal.RequireFromString("0.32"),
		MarkupFactor:   decimal.RequireFromString("1.10"),
	}
}

// Validate checks if the rule configuration is valid
func (c *Config) Validate() error {
	if !c.DiscountFactor.IsPositive() || c.DiscountFactor.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("discount factor must be in (0, 1], got %s", c.DiscountFactor)
	}
	if c.MarkupFactor.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("markup factor must be at least 1, got %s", c.MarkupFactor)
	}
	return nil
}
