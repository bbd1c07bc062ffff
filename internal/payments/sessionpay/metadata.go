package sessionpay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/angelmondragon/bullionstore-backend/internal/cart"
	"github.com/angelmondragon/bullionstore-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
)

// Metadata keys read back by the Stripe webhook.
const (
	MetaAttemptID = "attempt_id"
	MetaCartHash  = "cart_snapshot_hash"
	MetaUserID    = "user_id"
	MetaItemCount = "item_count"

	// MetaCartSummaryPrefix numbers the summary chunks: cart_summary_0,
	// cart_summary_1 and so on.
	MetaCartSummaryPrefix = "cart_summary_"
)

// Stripe caps metadata at 50 keys with values of 500 characters.
const (
	maxMetadataKeys  = 50
	maxMetadataValue = 500
)

func metadata(sub checkout.Submission) (map[string]string, error) {
	meta := map[string]string{
		MetaAttemptID: sub.Attempt.ID,
		MetaCartHash:  sub.Attempt.CartSnapshotHash,
		MetaItemCount: strconv.Itoa(len(sub.Items)),
	}
	if uid := sub.Attempt.Customer.UserID; uid != "" {
		meta[MetaUserID] = uid
	}
	chunks, err := summaryChunks(sub.Items, maxMetadataKeys-len(meta))
	if err != nil {
		return nil, err
	}
	for idx, chunk := range chunks {
		meta[summaryKey(idx)] = chunk
	}
	return meta, nil
}

// summaryChunks packs whole summary entries into values Stripe accepts. An
// entry is never split across two chunks.
func summaryChunks(items []cart.LineItem, maxChunks int) ([]string, error) {
	var (
		chunks []string
		b      strings.Builder
	)
	for _, item := range items {
		entry := cart.Summary([]cart.LineItem{item}, 0)
		if len(entry) > maxMetadataValue {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidCart,
				fmt.Sprintf("line %s does not fit in checkout session metadata", item.ID))
		}
		if b.Len() > 0 && b.Len()+1+len(entry) > maxMetadataValue {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(entry)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	if len(chunks) > maxChunks {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidCart, "cart is too large for a hosted checkout session")
	}
	return chunks, nil
}

// CartSummary rejoins the numbered summary chunks of a session's metadata.
func CartSummary(meta map[string]string) string {
	var parts []string
	for idx := 0; ; idx++ {
		chunk, ok := meta[summaryKey(idx)]
		if !ok {
			break
		}
		parts = append(parts, chunk)
	}
	return strings.Join(parts, ",")
}

func summaryKey(idx int) string {
	return MetaCartSummaryPrefix + strconv.Itoa(idx)
}
