package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/adapters/queue"
	"github.com/sachin-iam/sortify/internal/core"
)

func entries(ids ...string) []core.RefinementEntry {
	out := make([]core.RefinementEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.RefinementEntry{MessageID: id, UserID: "u1", EnqueuedAt: time.Now()})
	}
	return out
}

func TestMemoryQueueFIFO(t *testing.T) {
	q := queue.NewMemoryQueue(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, q.EnqueueBatch(ctx, entries("m1", "m2", "m3")))
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"m1", "m2", "m3"} {
		delivery, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, delivery.Entry().MessageID)
		require.NoError(t, delivery.Ack())
	}
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := queue.NewMemoryQueue(zap.NewNop())
	ctx := context.Background()

	got := make(chan string, 1)
	go func() {
		delivery, err := q.Dequeue(ctx)
		if err != nil {
			got <- "error: " + err.Error()
			return
		}
		got <- delivery.Entry().MessageID
	}()

	// Consumer should be parked, not failing
	select {
	case v := <-got:
		t.Fatalf("dequeue returned early: %s", v)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.EnqueueBatch(ctx, entries("m1")))

	select {
	case v := <-got:
		assert.Equal(t, "m1", v)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	q := queue.NewMemoryQueue(zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueNackRequeuesWithBumpedAttempts(t *testing.T) {
	q := queue.NewMemoryQueue(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, q.EnqueueBatch(ctx, entries("m1")))

	delivery, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivery.Entry().Attempts)
	require.NoError(t, delivery.Nack(true))

	redelivered, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", redelivered.Entry().MessageID)
	assert.Equal(t, 1, redelivered.Entry().Attempts)
}

func TestMemoryQueueNackWithoutRequeueDrops(t *testing.T) {
	q := queue.NewMemoryQueue(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, q.EnqueueBatch(ctx, entries("m1")))
	delivery, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, delivery.Nack(false))
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueueCloseWakesConsumers(t *testing.T) {
	q := queue.NewMemoryQueue(zap.NewNop())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not wake up on close")
	}

	assert.Error(t, q.EnqueueBatch(context.Background(), entries("m1")))
}
