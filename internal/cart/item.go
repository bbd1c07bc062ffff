// Package cart holds the untrusted cart snapshot handed to checkout and the
// checks every snapshot must pass before it is priced.
package cart

import (
	"github.com/shopspring/decimal"
)

// LineItem is one cart line as sent by the storefront.
type LineItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	Weight    string          `json:"weight,omitempty"`
	Metal     string          `json:"metal,omitempty"`
	Mint      string          `json:"mint,omitempty"`
	Purity    string          `json:"purity,omitempty"`
	ImageRef  string          `json:"imageRef,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// UnitMinorUnits returns the unit price in cents. Callers must validate first;
// prices with sub-cent precision are rejected there.
func (i LineItem) UnitMinorUnits() int64 {
	return i.UnitPrice.Mul(hundred).IntPart()
}

// LineTotal is unitPrice * quantity, unrounded.
func (i LineItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Snapshot is an ordered, immutable view of the cart for one attempt.
type Snapshot struct {
	Items []LineItem
}

// NewSnapshot copies items so later mutation by the caller cannot leak into
// an attempt in flight.
func NewSnapshot(items []LineItem) Snapshot {
	cp := make([]LineItem, len(items))
	copy(cp, items)
	return Snapshot{Items: cp}
}

// Len returns the number of lines.
func (s Snapshot) Len() int {
	return len(s.Items)
}

// Units returns the total quantity across lines.
func (s Snapshot) Units() int {
	total := 0
	for _, item := range s.Items {
		total += item.Quantity
	}
	return total
}
