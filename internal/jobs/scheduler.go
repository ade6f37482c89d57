package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
)

// refineProbeAttempts bounds how long the scheduler waits for the ML service
// before handing Phase 2 to the queue anyway; the workers retry per entry.
const (
	refineProbeAttempts = 3
	refineProbeBackoff  = 2 * time.Second
)

// Scheduler orchestrates reclassification jobs: idempotent starts, the
// Phase 1 to Phase 2 hand-off, cancellation, crash recovery and terminal-job
// cleanup. Running jobs are tracked in a registry owned by the scheduler, not
// in shared global state, so concurrent jobs for different categories never
// interfere.
type Scheduler struct {
	jobs       core.JobStore
	messages   core.MessageStore
	batch      *BatchProcessor
	queue      core.RefinementQueue
	classifier *core.Classifier
	sink       core.ProgressSink
	logger     *zap.Logger

	cleanupFrequency time.Duration
	retention        time.Duration

	mu      sync.Mutex
	baseCtx context.Context
	running map[string]context.CancelFunc // jobID -> cancel

	wg              sync.WaitGroup
	phase2Enqueued  atomic.Int64
	jobsStarted     atomic.Int64
	jobsDeduplicate atomic.Int64
}

// Stats is a point-in-time view of scheduler activity.
type Stats struct {
	ActiveJobs        int   `json:"active_jobs"`
	JobsStarted       int64 `json:"jobs_started"`
	JobsDeduplicated  int64 `json:"jobs_deduplicated"`
	Phase2Enqueued    int64 `json:"phase2_enqueued"`
	RefinementBacklog int   `json:"refinement_backlog"`
}

// NewScheduler creates a scheduler.
func NewScheduler(
	jobs core.JobStore,
	messages core.MessageStore,
	batch *BatchProcessor,
	queue core.RefinementQueue,
	classifier *core.Classifier,
	sink core.ProgressSink,
	logger *zap.Logger,
	cleanupFrequency time.Duration,
	retention time.Duration,
) *Scheduler {
	if cleanupFrequency <= 0 {
		cleanupFrequency = time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Scheduler{
		jobs:             jobs,
		messages:         messages,
		batch:            batch,
		queue:            queue,
		classifier:       classifier,
		sink:             sink,
		logger:           logger,
		cleanupFrequency: cleanupFrequency,
		retention:        retention,
		baseCtx:          context.Background(),
		running:          make(map[string]context.CancelFunc),
	}
}

// Start recovers orphaned jobs and launches the cleanup loop. Jobs started
// afterwards run under ctx; cancelling it stops every running job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if err := s.recoverOrphans(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.cleanupLoop(ctx)
	return nil
}

// Stop waits for running jobs and the cleanup loop to wind down. Callers
// cancel the Start context first.
func (s *Scheduler) Stop() {
	s.wg.Wait()
}

// StartJob triggers reclassification for a (user, category) pair and returns
// immediately with the job record. A second trigger while a job for the same
// pair is still active returns the existing job instead of creating one.
func (s *Scheduler) StartJob(ctx context.Context, userID, categoryName, categoryID string) (*core.ReclassificationJob, error) {
	if userID == "" || categoryName == "" {
		return nil, fmt.Errorf("user and category name are required: %w", core.ErrValidation)
	}

	now := time.Now()
	job := &core.ReclassificationJob{
		ID:                 uuid.NewString(),
		UserID:             userID,
		CategoryID:         categoryID,
		CategoryName:       categoryName,
		Status:             core.JobStatusPending,
		CreatedAt:          now,
		LastProgressUpdate: now,
	}

	stored, created, err := s.jobs.CreateIfNoActive(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if !created {
		s.jobsDeduplicate.Add(1)
		s.logger.Debug("Reusing active reclassification job",
			zap.String("job_id", stored.ID),
			zap.String("user_id", userID),
			zap.String("category", categoryName))
		return stored, nil
	}

	s.mu.Lock()
	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.running[stored.ID] = cancel
	s.mu.Unlock()

	s.jobsStarted.Add(1)
	s.wg.Add(1)
	go s.runJob(runCtx, stored)

	s.logger.Info("Started reclassification job",
		zap.String("job_id", stored.ID),
		zap.String("user_id", userID),
		zap.String("category", categoryName))
	return stored, nil
}

// Reclassify adapts StartJob to the hook signature the category service
// expects.
func (s *Scheduler) Reclassify(ctx context.Context, userID, categoryName, categoryID string) error {
	_, err := s.StartJob(ctx, userID, categoryName, categoryID)
	return err
}

// GetJob returns the current state of a job.
func (s *Scheduler) GetJob(ctx context.Context, jobID string) (*core.ReclassificationJob, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// CancelJob stops a pending or processing job. The running batch observes the
// cancellation cooperatively and records the failed state itself; cancelling
// an already-terminal job is a validation error.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("job %s is already %s: %w", jobID, job.Status, core.ErrValidation)
	}

	s.mu.Lock()
	cancel, ok := s.running[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
		s.logger.Info("Cancelled reclassification job", zap.String("job_id", jobID))
		return nil
	}

	// Not in this process's registry: a pending row left by a crashed
	// predecessor. Terminate it directly.
	completed := time.Now()
	job.Status = core.JobStatusFailed
	job.ErrorMessage = "cancelled by user"
	job.CompletedAt = &completed
	job.LastProgressUpdate = completed
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	s.sink.Publish(job.UserID, job.Snapshot())
	return nil
}

// Stats returns scheduler counters plus the current refinement backlog.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	active := len(s.running)
	s.mu.Unlock()
	return Stats{
		ActiveJobs:        active,
		JobsStarted:       s.jobsStarted.Load(),
		JobsDeduplicated:  s.jobsDeduplicate.Load(),
		Phase2Enqueued:    s.phase2Enqueued.Load(),
		RefinementBacklog: s.queue.Len(),
	}
}

// runJob supervises one job: Phase 1 to completion, then the Phase 2 hand-off.
// Refinement work is enqueued only after Phase 1 completes successfully.
func (s *Scheduler) runJob(ctx context.Context, job *core.ReclassificationJob) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.running[job.ID]; ok {
			cancel()
			delete(s.running, job.ID)
		}
		s.mu.Unlock()
	}()

	if err := s.batch.Run(ctx, job); err != nil {
		// Terminal failed state and the final event are already recorded by
		// the batch processor.
		return
	}

	s.enqueueRefinement(ctx, job)
}

// enqueueRefinement snapshots the user's message IDs and queues them for the
// ML pass. Queue failures do not touch the completed Phase 1 result; the next
// job retries the refinement.
func (s *Scheduler) enqueueRefinement(ctx context.Context, job *core.ReclassificationJob) {
	s.probeRefineBackend(ctx)

	ids, err := s.messages.ListMessageIDs(ctx, job.UserID)
	if err != nil {
		s.logger.Error("Failed to snapshot messages for refinement",
			zap.String("job_id", job.ID),
			zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	now := time.Now()
	entries := make([]core.RefinementEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, core.RefinementEntry{
			MessageID:  id,
			UserID:     job.UserID,
			EnqueuedAt: now,
		})
	}
	if err := s.queue.EnqueueBatch(ctx, entries); err != nil {
		s.logger.Error("Failed to enqueue refinement work",
			zap.String("job_id", job.ID),
			zap.Int("entries", len(entries)),
			zap.Error(err))
		return
	}

	s.phase2Enqueued.Add(int64(len(entries)))
	s.logger.Info("Enqueued refinement pass",
		zap.String("job_id", job.ID),
		zap.String("user_id", job.UserID),
		zap.Int("entries", len(entries)))
}

// probeRefineBackend waits briefly for the ML service to report healthy. The
// hand-off proceeds either way since the workers retry per entry; the probe
// just avoids burning attempts during a predictable cold start.
func (s *Scheduler) probeRefineBackend(ctx context.Context) {
	for attempt := 1; attempt <= refineProbeAttempts; attempt++ {
		err := s.classifier.RefineHealthy(ctx)
		if err == nil {
			return
		}
		s.logger.Warn("Refine backend not healthy",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == refineProbeAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(refineProbeBackoff):
		}
	}
}

// recoverOrphans marks jobs left pending or processing by a crashed process
// as failed. Users re-trigger reclassification; the operation is idempotent
// so nothing is lost by not resuming mid-batch.
func (s *Scheduler) recoverOrphans(ctx context.Context) error {
	orphans, err := s.jobs.ListJobsByStatus(ctx, core.JobStatusPending, core.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to list orphaned jobs: %w", err)
	}

	for _, job := range orphans {
		completed := time.Now()
		job.Status = core.JobStatusFailed
		job.ErrorMessage = "interrupted by restart"
		job.CompletedAt = &completed
		job.LastProgressUpdate = completed
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("failed to recover job %s: %w", job.ID, err)
		}
		s.logger.Warn("Recovered orphaned job",
			zap.String("job_id", job.ID),
			zap.String("user_id", job.UserID),
			zap.String("category", job.CategoryName))
	}
	if len(orphans) > 0 {
		s.logger.Info("Orphaned job recovery finished", zap.Int("recovered", len(orphans)))
	}
	return nil
}

// cleanupLoop periodically purges terminal jobs past the retention window.
func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.retention)
			purged, err := s.jobs.PurgeTerminalBefore(ctx, cutoff)
			if err != nil {
				s.logger.Error("Failed to purge terminal jobs", zap.Error(err))
				continue
			}
			if purged > 0 {
				s.logger.Info("Purged terminal jobs", zap.Int("purged", purged))
			}
		}
	}
}
