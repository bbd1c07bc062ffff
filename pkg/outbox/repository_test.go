package outbox

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bullionstore-backend/pkg/db/models"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
)

func TestRepositoryDeletePublishedBefore(t *testing.T) {
	conn := openTestDB(t)
	repo := NewRepository(conn)

	now := time.Now().UTC()
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-time.Hour)
	cutoff := now.Add(-30 * 24 * time.Hour)

	seed := func(aggregateID string, createdAt time.Time, publishedAt *time.Time, attempts int) {
		require.NoError(t, conn.Create(&models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventPaymentRecorded,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   aggregateID,
			Payload:       []byte(`{}`),
			CreatedAt:     createdAt,
			PublishedAt:   publishedAt,
			AttemptCount:  attempts,
		}).Error)
	}
	seed("published_old", old, &old, 0)
	seed("published_recent", recent, &recent, 0)
	seed("exhausted_old", old, nil, 10)
	seed("pending_old", old, nil, 2)

	deleted, err := repo.DeletePublishedBefore(context.Background(), nil, cutoff, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Order("aggregate_id").Find(&remaining).Error)
	ids := make([]string, 0, len(remaining))
	for _, row := range remaining {
		ids = append(ids, row.AggregateID)
	}
	assert.Equal(t, []string{"pending_old", "published_recent"}, ids)
}

func TestDLQRepositoryDeleteFailedBefore(t *testing.T) {
	conn := openTestDB(t)
	dlq := NewDLQRepository(conn)
	now := time.Now().UTC()

	for _, failedAt := range []time.Time{now.Add(-100 * 24 * time.Hour), now.Add(-time.Hour)} {
		require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
			EventID:       uuid.New(),
			EventType:     enums.EventPaymentRecorded,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   "sq_pay_" + uuid.NewString()[:8],
			Payload:       []byte(`{}`),
			ErrorReason:   enums.OutboxDLQReasonNonRetryable,
			FailedAt:      failedAt,
		}))
	}

	deleted, err := dlq.DeleteFailedBefore(context.Background(), nil, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var left int64
	require.NoError(t, conn.Model(&models.OutboxDLQ{}).Count(&left).Error)
	assert.EqualValues(t, 1, left)
}

func TestClipErrorKeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("a", maxDLQErrorLen-1) + "é"
	clipped := clipError(msg)
	assert.Len(t, clipped, maxDLQErrorLen-1)
	assert.True(t, utf8.ValidString(clipped))
}
