package queue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/metrics"
)

// MemoryQueue is an in-process FIFO implementation of the refinement queue.
// Idle consumers block on a condition variable instead of polling. Nacked
// deliveries rejoin the tail with their attempt count bumped, which gives the
// same at-least-once semantics as the broker-backed variant within one process.
type MemoryQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries []core.RefinementEntry
	closed  bool
	logger  *zap.Logger
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(logger *zap.Logger) *MemoryQueue {
	q := &MemoryQueue{logger: logger}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// EnqueueBatch adds entries to the tail of the queue.
func (q *MemoryQueue) EnqueueBatch(_ context.Context, entries []core.RefinementEntry) error {
	if len(entries) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue is closed: %w", core.ErrValidation)
	}
	q.entries = append(q.entries, entries...)
	metrics.RefinementQueueDepth.Set(float64(len(q.entries)))
	q.cond.Broadcast()
	return nil
}

// Dequeue blocks until an entry is available or the context is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (core.QueueDelivery, error) {
	// Wake the cond wait when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.entries) == 0 {
		if q.closed {
			return nil, fmt.Errorf("queue is closed: %w", core.ErrValidation)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}

	entry := q.entries[0]
	q.entries = q.entries[1:]
	metrics.RefinementQueueDepth.Set(float64(len(q.entries)))
	return &memoryDelivery{queue: q, entry: entry}, nil
}

// Len returns the number of entries waiting.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close wakes all blocked consumers and rejects further work.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return nil
}

type memoryDelivery struct {
	queue *MemoryQueue
	entry core.RefinementEntry
}

func (d *memoryDelivery) Entry() *core.RefinementEntry {
	return &d.entry
}

func (d *memoryDelivery) Ack() error {
	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	if !requeue {
		return nil
	}
	redelivered := d.entry
	redelivered.Attempts++
	return d.queue.EnqueueBatch(context.Background(), []core.RefinementEntry{redelivered})
}
