package cart

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Hash returns the sha256 of the canonical cart encoding: one
// "id|unitCents|quantity" row per line, in cart order.
func Hash(items []LineItem) string {
	h := sha256.New()
	for _, item := range items {
		h.Write([]byte(strings.TrimSpace(item.ID)))
		h.Write([]byte{'|'})
		h.Write([]byte(strconv.FormatInt(item.UnitMinorUnits(), 10)))
		h.Write([]byte{'|'})
		h.Write([]byte(strconv.Itoa(item.Quantity)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Summary renders "id:qty:unitCents" entries joined by commas, truncated to
// limit bytes on an entry boundary. limit <= 0 means no limit.
func Summary(items []LineItem, limit int) string {
	var b strings.Builder
	for idx, item := range items {
		entry := strings.TrimSpace(item.ID) + ":" + strconv.Itoa(item.Quantity) + ":" + strconv.FormatInt(item.UnitMinorUnits(), 10)
		if idx > 0 {
			entry = "," + entry
		}
		if limit > 0 && b.Len()+len(entry) > limit {
			break
		}
		b.WriteString(entry)
	}
	return b.String()
}

// ParseSummary reverses Summary. Names are not part of the summary, so each
// line's Name is its id.
func ParseSummary(summary string) ([]LineItem, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, nil
	}
	entries := strings.Split(summary, ",")
	items := make([]LineItem, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("malformed cart summary entry %q", entry)
		}
		qty, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("malformed quantity in %q: %w", entry, err)
		}
		cents, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed unit amount in %q: %w", entry, err)
		}
		items = append(items, LineItem{
			ID:        parts[0],
			Name:      parts[0],
			UnitPrice: decimal.New(cents, -2),
			Quantity:  qty,
		})
	}
	return items, nil
}
