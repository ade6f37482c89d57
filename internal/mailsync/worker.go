package mailsync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/limiter"
	"github.com/sachin-iam/sortify/internal/metrics"
)

// Worker pulls new messages from the mailbox provider into the store. Sync is
// incremental: only messages newer than the stored high-water mark are listed,
// already-synced IDs are skipped, and each new message gets an immediate fast
// classification so it is never visible unlabeled. Running the same sync twice
// produces no duplicates.
type Worker struct {
	provider   core.MailboxProvider
	messages   core.MessageStore
	categories *core.CategoryService
	classifier *core.Classifier
	limiter    *limiter.Limiter
	logger     *zap.Logger

	initialWindow int
	interval      time.Duration
}

// Stats summarizes one sync cycle.
type Stats struct {
	Listed  int
	Skipped int
	Synced  int
	Failed  int
}

// NewWorker creates a sync worker. initialWindow bounds how many messages the
// very first sync of a mailbox pulls in.
func NewWorker(
	provider core.MailboxProvider,
	messages core.MessageStore,
	categories *core.CategoryService,
	classifier *core.Classifier,
	lim *limiter.Limiter,
	logger *zap.Logger,
	initialWindow int,
	interval time.Duration,
) *Worker {
	if initialWindow <= 0 {
		initialWindow = 500
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Worker{
		provider:      provider,
		messages:      messages,
		categories:    categories,
		classifier:    classifier,
		limiter:       lim,
		logger:        logger,
		initialWindow: initialWindow,
		interval:      interval,
	}
}

// Sync runs one incremental cycle for the user. Listing failures abort the
// cycle; per-message fetch or persist failures are counted and retried on the
// next cycle because the high-water mark only advances through stored rows.
func (w *Worker) Sync(ctx context.Context, userID string) (Stats, error) {
	var stats Stats

	if _, err := w.categories.EnsureFallback(ctx, userID); err != nil {
		return stats, fmt.Errorf("failed to ensure fallback category: %w", err)
	}
	categories, err := w.categories.List(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("failed to load categories: %w", err)
	}

	mark, err := w.messages.HighWaterMark(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("failed to read high-water mark: %w", err)
	}
	initial := mark.IsZero()

	var skipped, synced, failed atomic.Int64
	pageToken := ""
	for {
		ids, next, err := w.provider.ListMessageIDs(ctx, userID, mark, pageToken)
		if err != nil {
			return w.collect(&stats, &skipped, &synced, &failed),
				fmt.Errorf("failed to list mailbox messages: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.limiter.Max())
		for _, id := range ids {
			if id == "" {
				continue
			}
			stats.Listed++
			id := id
			g.Go(func() error {
				w.syncOne(gctx, userID, id, categories, &skipped, &synced, &failed)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return w.collect(&stats, &skipped, &synced, &failed), err
		}

		if initial && stats.Listed >= w.initialWindow {
			w.logger.Info("Initial sync window reached",
				zap.String("user_id", userID),
				zap.Int("window", w.initialWindow))
			break
		}
		if next == "" {
			break
		}
		pageToken = next
	}

	w.collect(&stats, &skipped, &synced, &failed)
	w.logger.Info("Mailbox sync finished",
		zap.String("user_id", userID),
		zap.Int("listed", stats.Listed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("synced", stats.Synced),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

// Run syncs on a fixed interval until the context is cancelled. One cycle
// runs immediately on start.
func (w *Worker) Run(ctx context.Context, userID string) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Sync(ctx, userID); err != nil {
			w.logger.Error("Mailbox sync failed",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// syncOne fetches, classifies and stores a single message. Failures are
// logged and counted; the ID is listed again next cycle because the
// high-water mark never moved past it.
func (w *Worker) syncOne(ctx context.Context, userID, id string, categories []*core.Category, skipped, synced, failed *atomic.Int64) {
	exists, err := w.messages.HasMessage(ctx, userID, id)
	if err != nil {
		failed.Add(1)
		w.logger.Warn("Failed to check message presence",
			zap.String("message_id", id),
			zap.Error(err))
		return
	}
	if exists {
		skipped.Add(1)
		return
	}

	if err := w.limiter.Acquire(ctx); err != nil {
		failed.Add(1)
		return
	}
	msg, err := w.provider.GetMessage(ctx, userID, id)
	w.limiter.Release()
	if err != nil {
		failed.Add(1)
		w.logger.Warn("Failed to fetch message",
			zap.String("message_id", id),
			zap.Error(err))
		return
	}

	msg.ApplyClassification(w.classifier.ClassifyFast(msg, categories))

	// The body served its classification purpose; only the snippet is kept so
	// the store stays bounded. Phase 2 refines from subject and snippet.
	msg.Body = ""
	msg.IsFullContentLoaded = false

	if err := w.messages.UpsertMessage(ctx, msg); err != nil {
		failed.Add(1)
		w.logger.Warn("Failed to store message",
			zap.String("message_id", id),
			zap.Error(err))
		return
	}
	synced.Add(1)
	metrics.MessagesSynced.Inc()
}

func (w *Worker) collect(stats *Stats, skipped, synced, failed *atomic.Int64) Stats {
	stats.Skipped = int(skipped.Load())
	stats.Synced = int(synced.Load())
	stats.Failed = int(failed.Load())
	return *stats
}
