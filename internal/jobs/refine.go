package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/limiter"
	"github.com/sachin-iam/sortify/internal/metrics"
)

// RefinePool consumes the refinement queue and upgrades Phase 1 labels with
// the ML pass. Delivery is at-least-once: an entry is acknowledged only after
// its result is persisted, failed entries are redelivered with a bumped
// attempt count, and entries that exhaust their attempts are dropped with the
// Phase 1 label left in place.
type RefinePool struct {
	queue      core.RefinementQueue
	messages   core.MessageStore
	classifier *core.Classifier
	limiter    *limiter.Limiter
	logger     *zap.Logger

	workers     int
	maxAttempts int
	wg          sync.WaitGroup
}

// NewRefinePool creates a refinement worker pool.
func NewRefinePool(
	queue core.RefinementQueue,
	messages core.MessageStore,
	classifier *core.Classifier,
	lim *limiter.Limiter,
	logger *zap.Logger,
	workers int,
	maxAttempts int,
) *RefinePool {
	if workers <= 0 {
		workers = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RefinePool{
		queue:       queue,
		messages:    messages,
		classifier:  classifier,
		limiter:     lim,
		logger:      logger,
		workers:     workers,
		maxAttempts: maxAttempts,
	}
}

// Start launches the workers. They stop when ctx is cancelled or the queue
// closes.
func (p *RefinePool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("Started refinement workers",
		zap.Int("workers", p.workers),
		zap.Int("max_attempts", p.maxAttempts))
}

// Stop waits for the workers to drain.
func (p *RefinePool) Stop() {
	p.wg.Wait()
}

func (p *RefinePool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		delivery, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("Refinement dequeue failed",
				zap.Int("worker", id),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.handle(ctx, id, delivery)
	}
}

// handle processes one delivery and settles it. The attempt count lives in
// the entry payload so redelivered work carries its history across queue
// backends and process restarts.
func (p *RefinePool) handle(ctx context.Context, worker int, delivery core.QueueDelivery) {
	entry := delivery.Entry()

	err := p.refineOne(ctx, entry)
	if err == nil {
		if ackErr := delivery.Ack(); ackErr != nil {
			p.logger.Warn("Failed to ack refinement entry",
				zap.String("message_id", entry.MessageID),
				zap.Error(ackErr))
		}
		return
	}

	if ctx.Err() != nil {
		// Shutting down: requeue so the entry is redelivered on the next run.
		// The interrupted delivery still counts against its attempts.
		_ = delivery.Nack(true)
		return
	}

	if entry.Attempts+1 >= p.maxAttempts {
		p.logger.Error("Dropping refinement entry after max attempts; keeping rule-based label",
			zap.Int("worker", worker),
			zap.String("message_id", entry.MessageID),
			zap.String("user_id", entry.UserID),
			zap.Int("attempts", entry.Attempts+1),
			zap.Error(err))
		_ = delivery.Ack()
		return
	}

	p.logger.Warn("Refinement attempt failed; requeueing",
		zap.Int("worker", worker),
		zap.String("message_id", entry.MessageID),
		zap.Int("attempts", entry.Attempts+1),
		zap.Error(err))
	if nackErr := delivery.Nack(true); nackErr != nil {
		p.logger.Error("Failed to requeue refinement entry",
			zap.String("message_id", entry.MessageID),
			zap.Error(nackErr))
	}
}

// refineOne classifies one message with the ML pass and persists the result.
// A vanished message is not an error: the entry is stale and gets dropped.
func (p *RefinePool) refineOne(ctx context.Context, entry *core.RefinementEntry) error {
	msg, err := p.messages.GetMessage(ctx, entry.UserID, entry.MessageID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			p.logger.Debug("Skipping refinement for deleted message",
				zap.String("message_id", entry.MessageID))
			return nil
		}
		return err
	}

	// Synced messages keep only the snippet; fall back to it when the full
	// body was dropped after Phase 1.
	body := msg.Body
	if body == "" {
		body = msg.Snippet
	}

	if err := p.limiter.Acquire(ctx); err != nil {
		return err
	}
	result, err := p.classifier.ClassifyRefine(ctx, msg.Subject, body, msg.UserID)
	p.limiter.Release()
	if err != nil {
		return err
	}

	if err := p.messages.UpdateClassification(ctx, msg.UserID, msg.ID, result); err != nil {
		return err
	}
	metrics.MessagesClassified.WithLabelValues(string(core.MethodPhase2ML)).Inc()
	return nil
}
