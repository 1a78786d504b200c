package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_EnqueueReserveAck(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	first := NewProcessTask("e1")
	second := NewProcessTask("e2")

	require.NoError(t, q.Enqueue(ctx, first, 0))
	require.NoError(t, q.Enqueue(ctx, second, 0))

	task, err := q.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "e1", task.EnrollmentID)
	assert.Equal(t, TypeProcessEnrollment, task.Type)

	require.NoError(t, q.Ack(ctx, "w1", task))

	task, err = q.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "e2", task.EnrollmentID)
}

func TestMemoryQueue_ReserveTimesOut(t *testing.T) {
	q := NewMemoryQueue()

	task, err := q.Reserve(context.Background(), "w1", 10*time.Millisecond)

	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestMemoryQueue_ReserveWakesOnEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, NewProcessTask("late"), 0)
	}()

	task, err := q.Reserve(ctx, "w1", 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "late", task.EnrollmentID)
}

func TestMemoryQueue_PromoteDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q := NewMemoryQueue().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewProcessTask("later"), time.Hour))
	require.NoError(t, q.Enqueue(ctx, NewProcessTask("due"), time.Minute))

	assert.Equal(t, now.Add(time.Hour), q.Delayed()["later"])

	moved, err := q.PromoteDue(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	ready, delayed, _ := q.Stats()
	assert.Equal(t, 1, ready)
	assert.Equal(t, 1, delayed)

	task, err := q.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "due", task.EnrollmentID)
}

func TestMemoryQueue_RetryAndBury(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewProcessTask("e1"), 0))

	task, err := q.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)

	retryAt := time.Now().Add(time.Minute)
	require.NoError(t, q.Retry(ctx, "w1", task, retryAt))

	moved, err := q.PromoteDue(ctx, retryAt)
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	retried, err := q.Reserve(ctx, "w1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Attempt)
	assert.Equal(t, task.ID, retried.ID)

	require.NoError(t, q.Bury(ctx, "w1", retried))

	ready, delayed, dead := q.Stats()
	assert.Zero(t, ready)
	assert.Zero(t, delayed)
	assert.Equal(t, 1, dead)
}

func TestMemoryQueue_Recover(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewProcessTask("e1"), 0))

	_, err := q.Reserve(ctx, "crashed", time.Second)
	require.NoError(t, err)

	recovered, err := q.Recover(ctx, "crashed")
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	task, err := q.Reserve(ctx, "w2", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "e1", task.EnrollmentID)
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(context.Background(), NewProcessTask("e1"), 0), ErrClosed)

	_, err := q.Reserve(context.Background(), "w1", time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}
