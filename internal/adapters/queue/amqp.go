package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/core"
	"github.com/sachin-iam/sortify/internal/metrics"
)

// AMQPQueue is a RabbitMQ-backed refinement queue. Entries are published as
// JSON to a durable queue and consumed with manual acknowledgement, so a
// worker crash before Ack redelivers the entry.
type AMQPQueue struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string
	logger    *zap.Logger

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewAMQPQueue connects to the broker and declares the durable queue. Idempotent.
func NewAMQPQueue(url, queueName string, logger *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	// One unacked delivery per consumer keeps redelivery windows small.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	return &AMQPQueue{
		conn:      conn,
		ch:        ch,
		queueName: queueName,
		logger:    logger,
	}, nil
}

// EnqueueBatch publishes entries to the tail of the queue.
func (q *AMQPQueue) EnqueueBatch(ctx context.Context, entries []core.RefinementEntry) error {
	for _, entry := range entries {
		body, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode refinement entry: %w", err)
		}
		err = q.ch.PublishWithContext(ctx,
			"",          // default exchange
			q.queueName, // routing key
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
			})
		if err != nil {
			return fmt.Errorf("failed to publish refinement entry: %w", core.ErrUpstreamUnavailable)
		}
	}
	metrics.RefinementQueueDepth.Add(float64(len(entries)))
	return nil
}

// Dequeue blocks until a delivery arrives or the context is done.
func (q *AMQPQueue) Dequeue(ctx context.Context) (core.QueueDelivery, error) {
	deliveries, err := q.consumer()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return nil, fmt.Errorf("consumer channel closed: %w", core.ErrUpstreamUnavailable)
		}
		var entry core.RefinementEntry
		if err := json.Unmarshal(d.Body, &entry); err != nil {
			// Poison message: drop it rather than redeliver forever.
			q.logger.Error("Dropping undecodable refinement entry", zap.Error(err))
			_ = d.Nack(false, false)
			return q.Dequeue(ctx)
		}
		metrics.RefinementQueueDepth.Dec()
		return &amqpDelivery{queue: q, d: d, entry: entry}, nil
	}
}

// Len returns the number of messages waiting in the broker queue.
func (q *AMQPQueue) Len() int {
	state, err := q.ch.QueueDeclarePassive(q.queueName, true, false, false, false, nil)
	if err != nil {
		return 0
	}
	return state.Messages
}

// Close shuts down the channel and connection.
func (q *AMQPQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

func (q *AMQPQueue) consumer() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(
		q.queueName,
		"",    // consumer tag
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", core.ErrUpstreamUnavailable)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

type amqpDelivery struct {
	queue *AMQPQueue
	d     amqp.Delivery
	entry core.RefinementEntry
}

func (d *amqpDelivery) Entry() *core.RefinementEntry {
	return &d.entry
}

func (d *amqpDelivery) Ack() error {
	return d.d.Ack(false)
}

// Nack republishes the entry with its attempt count bumped. Attempts ride in
// the payload, so broker-side requeue (which would preserve the old count)
// is not used.
func (d *amqpDelivery) Nack(requeue bool) error {
	if requeue {
		redelivered := d.entry
		redelivered.Attempts++
		if err := d.queue.EnqueueBatch(context.Background(), []core.RefinementEntry{redelivered}); err != nil {
			return err
		}
	}
	return d.d.Ack(false)
}
