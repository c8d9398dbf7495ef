package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Queue is the preferred tier: jobs go onto a durable RabbitMQ queue and a
// separate worker process executes them, isolating failures from the
// request path and leaving retry/backoff to the broker.
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
}

// NewQueue connects to the broker and declares the durable work queue.
func NewQueue(url, queueName string) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &Queue{conn: conn, channel: channel, queue: q}, nil
}

func (q *Queue) Name() string { return "queue" }

// Submit publishes the job as a persistent message.
func (q *Queue) Submit(ctx context.Context, job Job) error {
	if q.conn == nil || q.conn.IsClosed() {
		return fmt.Errorf("queue connection is closed")
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.channel.PublishWithContext(
		ctx,
		"",           // exchange
		q.queue.Name, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// Consume runs jobs from the queue through the runner until the context is
// cancelled. Failed jobs are nacked back for redelivery; fan-out is
// idempotent so redelivery is safe.
func (q *Queue) Consume(ctx context.Context, runner Runner) error {
	if err := q.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		q.queue.Name,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume jobs: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("queue delivery channel closed")
			}
			handleDelivery(ctx, msg, runner)
		}
	}
}

// handleDelivery runs one queued job and settles the message. A first
// failure is requeued once; a redelivered message that fails again is
// discarded so a poison job cannot hot-loop and starve the queue behind it.
func handleDelivery(ctx context.Context, msg amqp.Delivery, runner Runner) {
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		logrus.Errorf("discarding malformed job: %v", err)
		msg.Nack(false, false)
		return
	}

	if err := runner.Run(ctx, job); err != nil {
		fields := logrus.Fields{
			"kind":            job.Kind,
			"notification_id": job.NotificationID,
		}
		if msg.Redelivered {
			logrus.WithFields(fields).Errorf("job failed again after redelivery, discarding: %v", err)
			msg.Nack(false, false)
			return
		}
		logrus.WithFields(fields).Errorf("job failed, requeueing: %v", err)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

// Close shuts down the channel and connection.
func (q *Queue) Close() error {
	var errs []error
	if q.channel != nil {
		if err := q.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors while closing queue: %v", errs)
	}
	return nil
}
