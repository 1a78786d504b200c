package queue

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *RedisQueue {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	q, err := NewRedisQueue(ctx, logger, "redis://"+endpoint+"/0", "drip:test")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = q.Close()
	})

	return q
}

func TestRedisQueue_Lifecycle(t *testing.T) {
	q := setupRedis(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, NewProcessTask("now"), 0))
	require.NoError(t, q.Enqueue(ctx, NewProcessTask("soon"), time.Second))
	require.NoError(t, q.Enqueue(ctx, NewProcessTask("later"), time.Hour))

	moved, err := q.PromoteDue(ctx, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	first, err := q.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "now", first.EnrollmentID)

	second, err := q.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "soon", second.EnrollmentID)

	require.NoError(t, q.Ack(ctx, "w1", first))

	processing, err := q.client.LLen(ctx, q.processingKey("w1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing)

	recovered, err := q.Recover(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	again, err := q.Reserve(ctx, "w2", time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "soon", again.EnrollmentID)

	require.NoError(t, q.Retry(ctx, "w2", again, now))

	moved, err = q.PromoteDue(ctx, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	retried, err := q.Reserve(ctx, "w2", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Attempt)

	require.NoError(t, q.Bury(ctx, "w2", retried))

	dead, err := q.client.LLen(ctx, q.deadKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	empty, err := q.Reserve(ctx, "w2", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = q.client.ZScore(ctx, q.delayedKey(), "missing").Result()
	assert.ErrorIs(t, err, redis.Nil)
}
