package square

import (
	"strings"
	"unicode/utf8"

	sq "github.com/square/square-go-sdk"
)

// Square rejects payment notes longer than this many characters.
const maxNoteLength = 500

type PaymentCreateParams struct {
	AmountMinorUnits int64
	Currency         string
	LocationID       string
	CustomerID       string
	SourceID         string
	IdempotencyKey   string
	BuyerEmail       string
	Note             string
	ReferenceID      string
}

// request builds an autocompleting payment. Blank optional fields stay nil so
// Square applies its own defaults.
func (p PaymentCreateParams) request() *sq.CreatePaymentRequest {
	autocomplete := true
	req := &sq.CreatePaymentRequest{
		IdempotencyKey:    p.IdempotencyKey,
		SourceID:          p.SourceID,
		Autocomplete:      &autocomplete,
		LocationID:        optional(p.LocationID),
		CustomerID:        optional(p.CustomerID),
		BuyerEmailAddress: optional(p.BuyerEmail),
		ReferenceID:       optional(p.ReferenceID),
		Note:              optional(clip(strings.TrimSpace(p.Note), maxNoteLength)),
	}
	if p.AmountMinorUnits > 0 {
		req.AmountMoney = money(p.AmountMinorUnits, p.Currency)
	}
	return req
}

func money(amount int64, currency string) *sq.Money {
	code := sq.Currency(strings.ToUpper(strings.TrimSpace(currency)))
	if code == "" {
		code = "USD"
	}
	return &sq.Money{Amount: &amount, Currency: &code}
}

// optional trims value and returns nil when nothing is left.
func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
