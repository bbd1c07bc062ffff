package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type directTx struct{}

func (directTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeOutbox struct {
	cutoff   time.Time
	attempts int
	err      error
}

func (f *fakeOutbox) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttempts int) (int64, error) {
	f.cutoff, f.attempts = cutoff, minAttempts
	return 12, f.err
}

type fakeDLQ struct {
	cutoff time.Time
}

func (f *fakeDLQ) DeleteFailedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

var frozenNow = time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC)

func TestOutboxRetentionJobUsesWindowAndAttempts(t *testing.T) {
	store := &fakeOutbox{}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:            quietLogger(),
		DB:                directTx{},
		Outbox:            store,
		RetentionDays:     7,
		ExhaustedAttempts: 4,
	})
	require.NoError(t, err)
	job.(*pruneJob).now = func() time.Time { return frozenNow }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "outbox-retention", job.Name())
	assert.Equal(t, frozenNow.Add(-7*day), store.cutoff)
	assert.Equal(t, 4, store.attempts)
}

func TestOutboxRetentionJobDefaults(t *testing.T) {
	store := &fakeOutbox{}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: quietLogger(), DB: directTx{}, Outbox: store})
	require.NoError(t, err)
	job.(*pruneJob).now = func() time.Time { return frozenNow }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, frozenNow.Add(-defaultOutboxRetentionDays*day), store.cutoff)
	assert.Equal(t, defaultExhaustedAttempts, store.attempts)
}

func TestOutboxRetentionJobWrapsErrors(t *testing.T) {
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: quietLogger(),
		DB:     directTx{},
		Outbox: &fakeOutbox{err: errors.New("lock timeout")},
	})
	require.NoError(t, err)
	assert.ErrorContains(t, job.Run(context.Background()), "outbox-retention: lock timeout")
}

func TestDLQRetentionJob(t *testing.T) {
	store := &fakeDLQ{}
	job, err := NewDLQRetentionJob(DLQRetentionJobParams{Logger: quietLogger(), DB: directTx{}, DeadLetters: store})
	require.NoError(t, err)
	job.(*pruneJob).now = func() time.Time { return frozenNow }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "dlq-retention", job.Name())
	assert.Equal(t, frozenNow.Add(-defaultDLQRetentionDays*day), store.cutoff)
}

func TestRetentionJobsValidateDeps(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: quietLogger(), DB: directTx{}})
	assert.Error(t, err)
	_, err = NewDLQRetentionJob(DLQRetentionJobParams{DB: directTx{}, DeadLetters: &fakeDLQ{}})
	assert.Error(t, err)
}
