// Package pricing computes the authoritative order total for a cart. All
// arithmetic is exact; the only rounding happens when the final total is
// converted to cents.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bullionstore-backend/internal/cart"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
)

var hundred = decimal.NewFromInt(100)

// PricedOrder is derived per attempt and never persisted on its own.
type PricedOrder struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Shipping  decimal.Decimal `json:"shipping"`
	Insurance decimal.Decimal `json:"insurance"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`

	SubtotalMinorUnits int64          `json:"subtotalMinorUnits"`
	TotalMinorUnits    int64          `json:"totalMinorUnits"`
	Currency           enums.Currency `json:"currency"`
}

// SurchargeMinorUnits is everything charged on top of the line items.
func (p PricedOrder) SurchargeMinorUnits() int64 {
	return p.TotalMinorUnits - p.SubtotalMinorUnits
}

// Engine applies the configured shipping fee and rates.
type Engine struct {
	shipping      decimal.Decimal
	insuranceRate decimal.Decimal
	taxRate       decimal.Decimal
	currency      enums.Currency
	maxLineItems  int
}

// NewEngine parses the pricing constants once at boot.
func NewEngine(cfg config.PricingConfig, maxLineItems int) (*Engine, error) {
	shipping, err := parseNonNegative("shipping fee", cfg.ShippingFee)
	if err != nil {
		return nil, err
	}
	insurance, err := parseNonNegative("insurance rate", cfg.InsuranceRate)
	if err != nil {
		return nil, err
	}
	tax, err := parseNonNegative("tax rate", cfg.TaxRate)
	if err != nil {
		return nil, err
	}
	currency, err := enums.ParseCurrency(strings.ToUpper(strings.TrimSpace(cfg.Currency)))
	if err != nil {
		return nil, err
	}
	return &Engine{
		shipping:      shipping,
		insuranceRate: insurance,
		taxRate:       tax,
		currency:      currency,
		maxLineItems:  maxLineItems,
	}, nil
}

// ComputeTotal prices items. Empty or malformed carts fail with INVALID_CART.
func (e *Engine) ComputeTotal(items []cart.LineItem) (PricedOrder, error) {
	if err := cart.Validate(items, e.maxLineItems); err != nil {
		return PricedOrder{}, err
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	insurance := subtotal.Mul(e.insuranceRate)
	tax := subtotal.Mul(e.taxRate)
	total := subtotal.Add(e.shipping).Add(insurance).Add(tax)

	return PricedOrder{
		Subtotal:           subtotal,
		Shipping:           e.shipping,
		Insurance:          insurance,
		Tax:                tax,
		Total:              total,
		SubtotalMinorUnits: toMinorUnits(subtotal),
		TotalMinorUnits:    toMinorUnits(total),
		Currency:           e.currency,
	}, nil
}

// Currency reports the settlement currency.
func (e *Engine) Currency() enums.Currency {
	return e.currency
}

// toMinorUnits rounds half-up; amounts are never negative here so
// half-away-from-zero is equivalent.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func parseNonNegative(name, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", name)
	}
	return value, nil
}
