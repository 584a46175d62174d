package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("EVENTRELAY_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRepository(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	stream := fmt.Sprintf("eventrelay-test-%d", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	repo, err := NewRedisWithClient(client, stream, nil)
	require.NoError(t, err)
	assert.True(t, repo.TestConnection(ctx))
	require.NoError(t, repo.CreateTable(ctx))

	records := append(sampleRecords(2), logRecord())
	require.NoError(t, repo.Add(ctx, records))

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "orders/1", entries[0].Values[fieldKey])
	assert.Equal(t, "1", entries[0].Values[fieldSequence])
	assert.Equal(t, `{"n":1}`, entries[0].Values[fieldPayload])
	assert.Contains(t, entries[2].Values[fieldLog], "connection reset")

	require.NoError(t, repo.Close())
	assert.NoError(t, client.Ping(ctx).Err(), "a borrowed client stays open")
}

func TestRedisCreateTableRejectsOtherTypes(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	key := fmt.Sprintf("eventrelay-test-string-%d", time.Now().UnixNano())
	require.NoError(t, client.Set(ctx, key, "x", time.Minute).Err())
	t.Cleanup(func() { client.Del(context.Background(), key) })

	repo, err := NewRedisWithClient(client, key, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, repo.CreateTable(ctx), "not a stream")
}

func TestRedisConstructorValidation(t *testing.T) {
	_, err := NewRedis("not a url", "stream", nil)
	assert.Error(t, err)

	_, err = NewRedisWithClient(nil, "stream", nil)
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	_, err = NewRedisWithClient(client, "", nil)
	assert.Error(t, err)
}

func TestRedisValues(t *testing.T) {
	v, err := redisValues(logRecord())
	require.NoError(t, err)
	assert.Equal(t, "orders/log", v[fieldKey])
	assert.Equal(t, "2026-04-01T10:00:00Z", v[fieldCreatedAt])
	assert.Contains(t, string(v[fieldLog].([]byte)), `"TraceID":"4bf92f3577b34da6a3ce929d0e0e4736"`)

	plain, err := redisValues(sampleRecords(1)[0])
	require.NoError(t, err)
	assert.NotContains(t, plain, fieldLog)
}
