package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/adapters/progressws"
	"github.com/sachin-iam/sortify/internal/config"
	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/factory"
	"github.com/sachin-iam/sortify/internal/jobs"
	"github.com/sachin-iam/sortify/internal/limiter"
	"github.com/sachin-iam/sortify/internal/logging"
	"github.com/sachin-iam/sortify/internal/mailsync"
	"github.com/sachin-iam/sortify/internal/progress"
)

// Limiters carries the per-dependency concurrency limits. Separate instances
// so the mailbox API and the ML service cannot starve each other.
type Limiters struct {
	Mailbox *limiter.Limiter
	Refine  *limiter.Limiter
}

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewQueueFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewRefineFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewMailboxFactory); err != nil {
		return nil, err
	}

	// Register persistence ports
	if err := container.Provide(func(f *factory.StoreFactory) (*factory.Stores, error) {
		return f.CreateStores()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *factory.Stores) core.MessageStore {
		return s.Messages
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *factory.Stores) core.CategoryStore {
		return s.Categories
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *factory.Stores) core.JobStore {
		return s.Jobs
	}); err != nil {
		return nil, err
	}

	// Register category service
	if err := container.Provide(core.NewCategoryService); err != nil {
		return nil, err
	}

	// Register concurrency limiters
	if err := container.Provide(func(cfg *config.Config) Limiters {
		return Limiters{
			Mailbox: limiter.New(cfg.GetMailbox().MaxConcurrentFetches),
			Refine:  limiter.New(cfg.GetRefine().MaxConcurrentCalls),
		}
	}); err != nil {
		return nil, err
	}

	// Register refine backends and classifier
	if err := container.Provide(func(f *factory.RefineFactory, categories *core.CategoryService) ([]core.RefineClient, error) {
		return f.CreateRefineClients(categories)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(core.NewClassifier); err != nil {
		return nil, err
	}

	// Register refinement queue
	if err := container.Provide(func(f *factory.QueueFactory) (core.RefinementQueue, error) {
		return f.CreateQueue()
	}); err != nil {
		return nil, err
	}

	// Register mailbox provider
	if err := container.Provide(func(f *factory.MailboxFactory) (core.MailboxProvider, error) {
		return f.CreateProvider(context.Background())
	}); err != nil {
		return nil, err
	}

	// Register progress fan-out
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *progress.Publisher {
		return progress.NewPublisher(cfg.GetInt("progress.buffer_size"), logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(p *progress.Publisher) core.ProgressSink {
		return p
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(progressws.NewHub); err != nil {
		return nil, err
	}

	// Register batch processor
	if err := container.Provide(func(
		jobStore core.JobStore,
		messages core.MessageStore,
		categories core.CategoryStore,
		classifier *core.Classifier,
		sink core.ProgressSink,
		logger *zap.Logger,
		cfg *config.Config,
	) (*jobs.BatchProcessor, error) {
		jobsConfig := cfg.GetJobs()
		progressInterval, err := cfg.GetDuration("jobs.progress_interval")
		if err != nil {
			return nil, err
		}
		return jobs.NewBatchProcessor(
			jobStore, messages, categories, classifier, sink, logger,
			jobsConfig.BatchSize, jobsConfig.BatchWorkers, progressInterval,
		), nil
	}); err != nil {
		return nil, err
	}

	// Register scheduler
	if err := container.Provide(func(
		jobStore core.JobStore,
		messages core.MessageStore,
		batch *jobs.BatchProcessor,
		queue core.RefinementQueue,
		classifier *core.Classifier,
		sink core.ProgressSink,
		logger *zap.Logger,
		cfg *config.Config,
	) (*jobs.Scheduler, error) {
		cleanupFrequency, err := cfg.GetDuration("jobs.cleanup_frequency")
		if err != nil {
			return nil, err
		}
		retention, err := cfg.GetDuration("jobs.retention")
		if err != nil {
			return nil, err
		}
		return jobs.NewScheduler(
			jobStore, messages, batch, queue, classifier, sink, logger,
			cleanupFrequency, retention,
		), nil
	}); err != nil {
		return nil, err
	}

	// Register refinement worker pool
	if err := container.Provide(func(
		queue core.RefinementQueue,
		messages core.MessageStore,
		classifier *core.Classifier,
		limiters Limiters,
		logger *zap.Logger,
		cfg *config.Config,
	) *jobs.RefinePool {
		refineConfig := cfg.GetRefine()
		return jobs.NewRefinePool(
			queue, messages, classifier, limiters.Refine, logger,
			refineConfig.Workers, refineConfig.MaxAttempts,
		)
	}); err != nil {
		return nil, err
	}

	// Register mailbox sync worker
	if err := container.Provide(func(
		provider core.MailboxProvider,
		messages core.MessageStore,
		categories *core.CategoryService,
		classifier *core.Classifier,
		limiters Limiters,
		logger *zap.Logger,
		cfg *config.Config,
	) (*mailsync.Worker, error) {
		mailboxConfig := cfg.GetMailbox()
		interval, err := cfg.GetDuration("mailbox.sync_interval")
		if err != nil {
			return nil, err
		}
		return mailsync.NewWorker(
			provider, messages, categories, classifier, limiters.Mailbox, logger,
			mailboxConfig.InitialWindow, interval,
		), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}
