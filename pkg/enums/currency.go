package enums

import "slices"

// Currency is the ISO 4217 code totals are quoted in. The storefront only sells
// in US dollars; adding a code here also needs a matching minor unit scale.
type Currency string

const CurrencyUSD Currency = "USD"

var currencies = []Currency{CurrencyUSD}

func (c Currency) String() string { return string(c) }

func (c Currency) IsValid() bool { return slices.Contains(currencies, c) }

// ParseCurrency expects an upper case ISO code.
func ParseCurrency(value string) (Currency, error) {
	return parseMember("currency", currencies, value)
}
