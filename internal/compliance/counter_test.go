package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisSendCounterSlidingWindow(t *testing.T) {
	client, _ := setupTestRedis(t)
	counter := NewRedisSendCounter(client, 24*time.Hour, nil)
	ctx := context.Background()
	now := time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC)

	require.NoError(t, counter.Record(ctx, "lead-1", "c1:1", now.Add(-30*time.Hour)))
	require.NoError(t, counter.Record(ctx, "lead-1", "c2:2", now.Add(-5*time.Hour)))
	require.NoError(t, counter.Record(ctx, "lead-1", "c3:3", now.Add(-time.Hour)))
	require.NoError(t, counter.Record(ctx, "lead-2", "c4:1", now.Add(-time.Hour)))

	n, err := counter.CountSince(ctx, "lead-1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = counter.CountSince(ctx, "lead-1", now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = counter.CountSince(ctx, "lead-3", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisSendCounterDedupesByKey(t *testing.T) {
	client, _ := setupTestRedis(t)
	counter := NewRedisSendCounter(client, time.Hour, nil)
	ctx := context.Background()
	now := time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC)

	require.NoError(t, counter.Record(ctx, "lead-1", "c1:1", now))
	require.NoError(t, counter.Record(ctx, "lead-1", "c1:1", now.Add(time.Second)))

	n, err := counter.CountSince(ctx, "lead-1", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisSendCounterPrunesOldEntries(t *testing.T) {
	client, mr := setupTestRedis(t)
	counter := NewRedisSendCounter(client, time.Hour, nil)
	ctx := context.Background()
	now := time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC)

	require.NoError(t, counter.Record(ctx, "lead-1", "old", now.Add(-2*time.Hour)))
	require.NoError(t, counter.Record(ctx, "lead-1", "new", now))

	members, err := mr.ZMembers("reengage:sends:lead-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, members)
	assert.Equal(t, time.Hour, mr.TTL("reengage:sends:lead-1"))
}

func TestRedisSendCounterErrorsWhenRedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	counter := NewRedisSendCounter(client, time.Hour, nil)
	mr.Close()

	_, err := counter.CountSince(context.Background(), "lead-1", time.Now())
	assert.Error(t, err)
}

func TestMemorySendCounter(t *testing.T) {
	counter := NewMemorySendCounter()
	ctx := context.Background()
	now := time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC)

	require.NoError(t, counter.Record(ctx, "lead-1", "a", now.Add(-2*time.Hour)))
	require.NoError(t, counter.Record(ctx, "lead-1", "b", now))
	require.NoError(t, counter.Record(ctx, "lead-1", "b", now))

	n, err := counter.CountSince(ctx, "lead-1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, _ = counter.CountSince(ctx, "lead-1", now.Add(-3*time.Hour))
	assert.Equal(t, 2, n)
}
