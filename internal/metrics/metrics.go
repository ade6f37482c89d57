package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	MessagesSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sortify_messages_synced_total",
		Help: "The total number of messages fetched from the mailbox provider",
	})

	MessagesClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sortify_messages_classified_total",
		Help: "The total number of classification results persisted",
	}, []string{"method"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sortify_jobs_finished_total",
		Help: "The total number of reclassification jobs reaching a terminal state",
	}, []string{"status"})

	RefinementQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sortify_refinement_queue_depth",
		Help: "Entries waiting for the ML refinement pass",
	})

	RefineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sortify_refine_latency_seconds",
		Help:    "Latency of ML refinement calls.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	ProgressEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sortify_progress_events_dropped_total",
		Help: "Progress events dropped because a sink buffer was full",
	})
)

// StartServer runs an HTTP server exposing Prometheus metrics.
func StartServer(addr string, logger *zap.Logger) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}
