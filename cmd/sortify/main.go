package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/adapters/progressws"
	"github.com/sachin-iam/sortify/internal/config"
	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/di"
	"github.com/sachin-iam/sortify/internal/jobs"
	"github.com/sachin-iam/sortify/internal/mailsync"
	"github.com/sachin-iam/sortify/internal/metrics"
	"github.com/sachin-iam/sortify/internal/progress"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	categories *core.CategoryService,
	scheduler *jobs.Scheduler,
	refinePool *jobs.RefinePool,
	syncWorker *mailsync.Worker,
	publisher *progress.Publisher,
	hub *progressws.Hub,
	queue core.RefinementQueue,
) error {
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Category mutations trigger reclassification through the scheduler
	categories.SetReclassifyHook(scheduler.Reclassify)

	// Progress observers: structured log plus the WebSocket hub
	publisher.AddSink(progress.NewLogSink(logger))
	publisher.AddSink(hub)
	wsAddr := cfg.GetString("progress.ws_listen_address")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/ws/progress", hub)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		logger.Info("Progress WebSocket server listening", zap.String("address", wsAddr))
		if err := http.ListenAndServe(wsAddr, mux); err != nil {
			logger.Error("Progress WebSocket server failed", zap.Error(err))
		}
	}()

	if cfg.GetBool("metrics.enabled") {
		metrics.StartServer(cfg.GetString("metrics.listen_address"), logger)
	}

	// Recover jobs orphaned by the previous run, then accept new work
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
		return err
	}
	refinePool.Start(ctx)

	userID := cfg.GetMailbox().UserID
	go syncWorker.Run(ctx, userID)

	logger.Info("Sortify started", zap.String("user_id", userID))

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	cancel()
	scheduler.Stop()
	refinePool.Stop()
	publisher.Close()
	if err := queue.Close(); err != nil {
		logger.Error("Failed to close refinement queue", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
