package progress

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/metrics"
)

// Publisher fans progress events out to registered sinks. Delivery is
// decoupled per sink through a buffered channel and a dedicated goroutine, so
// a slow or unavailable observer never blocks the pipeline. Events that
// arrive while a sink's buffer is full are dropped and counted.
type Publisher struct {
	mu         sync.Mutex
	sinks      []*sinkWorker
	bufferSize int
	logger     *zap.Logger
	closed     bool
}

type sinkWorker struct {
	sink core.ProgressSink
	ch   chan delivery
	done chan struct{}
}

type delivery struct {
	userID string
	event  core.ProgressEvent
}

// NewPublisher creates a publisher. bufferSize is the per-sink event buffer.
func NewPublisher(bufferSize int, logger *zap.Logger) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Publisher{
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// AddSink registers a sink and starts its delivery goroutine.
func (p *Publisher) AddSink(sink core.ProgressSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	w := &sinkWorker{
		sink: sink,
		ch:   make(chan delivery, p.bufferSize),
		done: make(chan struct{}),
	}
	p.sinks = append(p.sinks, w)

	go func() {
		defer close(w.done)
		for d := range w.ch {
			w.sink.Publish(d.userID, d.event)
		}
	}()
}

// Publish hands the event to every sink without blocking.
func (p *Publisher) Publish(userID string, event core.ProgressEvent) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	sinks := p.sinks
	p.mu.Unlock()

	for _, w := range sinks {
		select {
		case w.ch <- delivery{userID: userID, event: event}:
		default:
			metrics.ProgressEventsDropped.Inc()
			p.logger.Debug("Dropped progress event for slow sink",
				zap.String("job_id", event.JobID),
				zap.String("user_id", userID))
		}
	}
}

// Close drains and stops all sink workers.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sinks := p.sinks
	p.mu.Unlock()

	for _, w := range sinks {
		close(w.ch)
		<-w.done
	}
}

// LogSink writes progress events to the structured log. Used as the default
// observer when no external sink is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed progress sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs the event.
func (s *LogSink) Publish(userID string, event core.ProgressEvent) {
	s.logger.Info("Job progress",
		zap.String("user_id", userID),
		zap.String("job_id", event.JobID),
		zap.String("status", string(event.Status)),
		zap.Int("processed", event.ProcessedMessages),
		zap.Int("total", event.TotalMessages),
		zap.Float64("rate_per_second", event.RatePerSecond))
}
