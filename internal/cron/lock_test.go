package cron

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	values map[string]string
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryLockStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestRedisLockExcludesSecondHolder(t *testing.T) {
	store := newMemoryLockStore()
	ctx := context.Background()

	first, err := NewRedisLock(store, "bs:lock:cron-worker:test", 0)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "bs:lock:cron-worker:test", 0)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// a non-owner release must not free the lock
	require.NoError(t, second.Release(ctx))
	assert.Contains(t, store.values, "bs:lock:cron-worker:test")

	require.NoError(t, first.Release(ctx))
	assert.Empty(t, store.values)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseAfterExpiry(t *testing.T) {
	store := newMemoryLockStore()
	lock, err := NewRedisLock(store, "bs:lock", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	delete(store.values, "bs:lock")
	assert.NoError(t, lock.Release(context.Background()))
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "key", 0)
	assert.Error(t, err)
	_, err = NewRedisLock(newMemoryLockStore(), "", 0)
	assert.Error(t, err)
}

func TestRedisLockLeavesTakenOverLease(t *testing.T) {
	store := newMemoryLockStore()
	lock, err := NewRedisLock(store, "bs:lock:cron-worker:prod", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// lease expired and another replica took it
	store.values["bs:lock:cron-worker:prod"] = "other-replica"
	require.NoError(t, lock.Release(context.Background()))
	assert.Equal(t, "other-replica", store.values["bs:lock:cron-worker:prod"])
}
