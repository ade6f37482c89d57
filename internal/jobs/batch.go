package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/metrics"
)

// BatchProcessor drives Phase 1 of a reclassification job: it pages through
// the user's messages in fixed-size batches, runs the fast classifier over
// each batch with a bounded worker pool, persists results and emits throttled
// progress events. Batches run in index order so observed progress is
// monotonic; message order within a batch is unspecified.
type BatchProcessor struct {
	jobs       core.JobStore
	messages   core.MessageStore
	categories core.CategoryStore
	classifier *core.Classifier
	sink       core.ProgressSink
	logger     *zap.Logger

	batchSize        int
	workers          int
	progressInterval time.Duration
}

// NewBatchProcessor creates a batch processor.
func NewBatchProcessor(
	jobs core.JobStore,
	messages core.MessageStore,
	categories core.CategoryStore,
	classifier *core.Classifier,
	sink core.ProgressSink,
	logger *zap.Logger,
	batchSize int,
	workers int,
	progressInterval time.Duration,
) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = 100
	}
	if workers <= 0 {
		workers = 1
	}
	if progressInterval <= 0 {
		progressInterval = 5 * time.Second
	}
	return &BatchProcessor{
		jobs:             jobs,
		messages:         messages,
		categories:       categories,
		classifier:       classifier,
		sink:             sink,
		logger:           logger,
		batchSize:        batchSize,
		workers:          workers,
		progressInterval: progressInterval,
	}
}

// Run executes the job to a terminal state. Called once per job, detached
// from the request that triggered it. Per-message classification errors are
// counted, not fatal; store-level failures abort the job with status failed.
func (p *BatchProcessor) Run(ctx context.Context, job *core.ReclassificationJob) error {
	categories, err := p.categories.ListCategories(ctx, job.UserID)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("failed to load categories: %w", err))
	}

	total, err := p.messages.CountMessages(ctx, job.UserID)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("failed to count messages: %w", err))
	}

	now := time.Now()
	job.Status = core.JobStatusProcessing
	job.StartedAt = now
	job.LastProgressUpdate = now
	job.TotalMessages = total
	job.TotalBatches = (total + p.batchSize - 1) / p.batchSize
	if err := p.jobs.UpdateJob(ctx, job); err != nil {
		return p.fail(ctx, job, fmt.Errorf("failed to start job: %w", err))
	}
	p.sink.Publish(job.UserID, job.Snapshot())

	start := time.Now()
	lastEmit := start
	lastEmitProcessed := 0

	for batch := 0; batch < job.TotalBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, job, fmt.Errorf("cancelled before batch %d: %w", batch, core.ErrCancelled))
		}

		// Cap the page at the snapshot total so messages synced mid-job never
		// push processed past it; they are covered by the next job.
		remaining := job.TotalMessages - job.ProcessedMessages
		limit := p.batchSize
		if remaining < limit {
			limit = remaining
		}
		page, err := p.messages.ListMessagesPage(ctx, job.UserID, batch*p.batchSize, limit)
		if err != nil {
			return p.fail(ctx, job, fmt.Errorf("failed to page batch %d: %w", batch, err))
		}
		if len(page) == 0 {
			break
		}

		succeeded, failed := p.classifyBatch(ctx, page, categories)
		job.CurrentBatchIndex = batch
		job.ProcessedMessages += len(page)
		job.SuccessfulCount += succeeded
		job.FailedCount += failed
		p.updateRate(job, start)
		job.LastProgressUpdate = time.Now()

		if err := p.jobs.UpdateJob(ctx, job); err != nil {
			return p.fail(ctx, job, fmt.Errorf("failed to checkpoint batch %d: %w", batch, err))
		}

		// Throttled emission: every progressInterval, or every 10% of progress.
		tenPercent := job.TotalMessages / 10
		if time.Since(lastEmit) >= p.progressInterval ||
			(tenPercent > 0 && job.ProcessedMessages-lastEmitProcessed >= tenPercent) {
			p.sink.Publish(job.UserID, job.Snapshot())
			lastEmit = time.Now()
			lastEmitProcessed = job.ProcessedMessages
		}
	}

	completed := time.Now()
	job.Status = core.JobStatusCompleted
	job.CompletedAt = &completed
	job.LastProgressUpdate = completed
	// If messages were deleted mid-run the paging comes up short; shrink the
	// total so the completed job reads processed == total.
	job.TotalMessages = job.ProcessedMessages
	job.EstimatedSecondsRemaining = 0
	if err := p.jobs.UpdateJob(ctx, job); err != nil {
		return p.fail(ctx, job, fmt.Errorf("failed to complete job: %w", err))
	}

	metrics.JobsFinished.WithLabelValues(string(core.JobStatusCompleted)).Inc()
	p.sink.Publish(job.UserID, job.Snapshot())
	p.logger.Info("Reclassification job completed",
		zap.String("job_id", job.ID),
		zap.String("user_id", job.UserID),
		zap.String("category", job.CategoryName),
		zap.Int("total", job.TotalMessages),
		zap.Int("failed", job.FailedCount),
		zap.Duration("elapsed", completed.Sub(start)))
	return nil
}

// classifyBatch classifies one page with bounded concurrency. The fast pass
// is local and never fails, so the only failure mode is persistence; those
// are counted per message and never abort the batch.
func (p *BatchProcessor) classifyBatch(ctx context.Context, page []*core.Message, categories []*core.Category) (succeeded, failed int) {
	var ok, bad atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, msg := range page {
		msg := msg
		g.Go(func() error {
			result := p.classifier.ClassifyFast(msg, categories)
			if err := p.messages.UpdateClassification(gctx, msg.UserID, msg.ID, result); err != nil {
				bad.Add(1)
				p.logger.Warn("Failed to persist classification",
					zap.String("message_id", msg.ID),
					zap.Error(err))
				return nil
			}
			ok.Add(1)
			metrics.MessagesClassified.WithLabelValues(string(core.MethodPhase1Rule)).Inc()
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}

// updateRate recomputes the processing rate and remaining-time estimate,
// guarding the zero-elapsed and zero-rate cases.
func (p *BatchProcessor) updateRate(job *core.ReclassificationJob, start time.Time) {
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		job.RatePerSecond = 0
		job.EstimatedSecondsRemaining = 0
		return
	}
	job.RatePerSecond = float64(job.ProcessedMessages) / elapsed
	if job.RatePerSecond <= 0 {
		job.EstimatedSecondsRemaining = 0
		return
	}
	remaining := float64(job.TotalMessages - job.ProcessedMessages)
	job.EstimatedSecondsRemaining = int(remaining / job.RatePerSecond)
}

// fail transitions the job to the failed terminal state, best-effort persists
// it and publishes the final event.
func (p *BatchProcessor) fail(ctx context.Context, job *core.ReclassificationJob, cause error) error {
	completed := time.Now()
	job.Status = core.JobStatusFailed
	job.ErrorMessage = cause.Error()
	job.CompletedAt = &completed
	job.LastProgressUpdate = completed

	// The store may be the thing that failed; a detached context would not
	// help, so persist with whatever context remains and log otherwise.
	if err := p.jobs.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		p.logger.Error("Failed to persist job failure",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}

	metrics.JobsFinished.WithLabelValues(string(core.JobStatusFailed)).Inc()
	p.sink.Publish(job.UserID, job.Snapshot())
	p.logger.Error("Reclassification job failed",
		zap.String("job_id", job.ID),
		zap.String("user_id", job.UserID),
		zap.String("category", job.CategoryName),
		zap.Error(cause))

	if errors.Is(cause, core.ErrCancelled) {
		return core.ErrCancelled
	}
	return cause
}
