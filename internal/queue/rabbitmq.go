package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// EmailJob is one outbound email carried from the notifier to the mail worker.
type EmailJob struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// RabbitMQ publishes and consumes email jobs on one durable queue.
type RabbitMQ struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger

	// amqp channels are not safe for concurrent publishing.
	mu sync.Mutex
}

// NewRabbitMQ dials the broker, opens a channel and declares the queue.
func NewRabbitMQ(url, queueName string, logger *zap.Logger) (*RabbitMQ, error) {
	if url == "" {
		return nil, errors.New("RabbitMQ URL cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	logger.Info("Connected to RabbitMQ", zap.String("queue", queueName))
	return &RabbitMQ{conn: conn, channel: ch, queueName: queueName, logger: logger}, nil
}

// EnqueueEmail publishes an email job as a persistent JSON message.
func (q *RabbitMQ) EnqueueEmail(ctx context.Context, to, subject, body string) error {
	payload, err := encodeJob(EmailJob{To: to, Subject: subject, Body: body})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.channel.Publish(
		"",          // exchange
		q.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("failed to publish email job to %s: %w", q.queueName, err)
	}
	return nil
}

// Consume delivers jobs to handler until ctx is cancelled or the channel closes.
// A job is acked when handler returns nil and dropped otherwise; handler owns retries.
// A job interrupted by shutdown is requeued.
func (q *RabbitMQ) Consume(ctx context.Context, handler func(context.Context, EmailJob) error) error {
	msgs, err := q.channel.Consume(
		q.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer for queue %s: %w", q.queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("RabbitMQ delivery channel closed")
			}
			job, err := decodeJob(d.Body)
			if err != nil {
				q.logger.Warn("Discarding malformed email job", zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			if err := handler(ctx, job); err != nil {
				if ctx.Err() != nil {
					_ = d.Nack(false, true)
					return nil
				}
				q.logger.Warn("Email job failed", zap.String("to", job.To), zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close closes the channel and connection.
func (q *RabbitMQ) Close() error {
	var lastErr error
	if q.channel != nil {
		if err := q.channel.Close(); err != nil {
			lastErr = err
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func encodeJob(job EmailJob) ([]byte, error) {
	if job.To == "" {
		return nil, errors.New("email job recipient cannot be empty")
	}
	b, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode email job: %w", err)
	}
	return b, nil
}

func decodeJob(body []byte) (EmailJob, error) {
	var job EmailJob
	if err := json.Unmarshal(body, &job); err != nil {
		return EmailJob{}, fmt.Errorf("failed to decode email job: %w", err)
	}
	if job.To == "" {
		return EmailJob{}, errors.New("email job recipient is empty")
	}
	return job, nil
}
