package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/adapters/queue"
	"github.com/sachin-iam/sortify/internal/config"
	"github.com/sachin-iam/sortify/internal/core"
)

// QueueFactory creates refinement queues based on configuration
type QueueFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewQueueFactory creates a new queue factory
func NewQueueFactory(cfg *config.Config, logger *zap.Logger) *QueueFactory {
	return &QueueFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateQueue creates a refinement queue based on the configuration
func (f *QueueFactory) CreateQueue() (core.RefinementQueue, error) {
	queueConfig := f.cfg.GetQueue()

	switch queueConfig.Type {
	case "memory":
		return queue.NewMemoryQueue(f.logger), nil
	case "amqp":
		return queue.NewAMQPQueue(queueConfig.AMQPURL, queueConfig.AMQPQueue, f.logger)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", queueConfig.Type)
	}
}
