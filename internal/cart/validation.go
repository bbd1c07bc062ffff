package cart

import (
	"fmt"
	"strings"

	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
)

// Violation describes why a single line was rejected.
type Violation struct {
	Index  int    `json:"index"`
	ItemID string `json:"item_id,omitempty"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Validate rejects empty carts and malformed lines with an INVALID_CART error
// listing every violation. maxItems <= 0 disables the line cap.
func Validate(items []LineItem, maxItems int) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidCart, "cart is empty")
	}
	if maxItems > 0 && len(items) > maxItems {
		return pkgerrors.New(pkgerrors.CodeInvalidCart, fmt.Sprintf("cart has %d lines, at most %d allowed", len(items), maxItems))
	}

	var violations []Violation
	add := func(idx int, item LineItem, field, reason string) {
		violations = append(violations, Violation{
			Index:  idx,
			ItemID: item.ID,
			Field:  field,
			Reason: reason,
		})
	}
	for idx, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			add(idx, item, "id", "id is required")
		}
		if strings.TrimSpace(item.Name) == "" {
			add(idx, item, "name", "name is required")
		}
		if !item.UnitPrice.IsPositive() {
			add(idx, item, "unitPrice", "unit price must be greater than zero")
		} else if !item.UnitPrice.Equal(item.UnitPrice.Truncate(2)) {
			add(idx, item, "unitPrice", "unit price must be a whole number of cents")
		}
		if item.Quantity < 1 {
			add(idx, item, "quantity", "quantity must be at least 1")
		}
	}
	if len(violations) == 0 {
		return nil
	}
	first := violations[0]
	return pkgerrors.New(pkgerrors.CodeInvalidCart, fmt.Sprintf("line %d: %s", first.Index+1, first.Reason)).WithDetails(map[string]any{
		"violations": violations,
	})
}

// VerifyHash rejects a cart whose canonical hash differs from the one the
// client displayed. An empty expected hash skips the check.
func VerifyHash(items []LineItem, expected string) error {
	expected = strings.TrimSpace(strings.ToLower(expected))
	if expected == "" {
		return nil
	}
	if Hash(items) != expected {
		return pkgerrors.New(pkgerrors.CodeInvalidCart, "cart changed since it was displayed, refresh and try again")
	}
	return nil
}
