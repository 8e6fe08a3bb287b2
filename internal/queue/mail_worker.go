package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"
)

// Sender delivers one email.
type Sender interface {
	Send(to, subject, body string) error
}

// MailWorker drains email jobs and delivers them through a Sender, retrying
// transient SMTP failures with exponential backoff.
type MailWorker struct {
	sender         Sender
	logger         *zap.Logger
	maxElapsedTime time.Duration
}

// NewMailWorker creates a worker that gives up on a job after maxElapsedTime.
func NewMailWorker(sender Sender, logger *zap.Logger, maxElapsedTime time.Duration) *MailWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxElapsedTime <= 0 {
		maxElapsedTime = 2 * time.Minute
	}
	return &MailWorker{sender: sender, logger: logger, maxElapsedTime: maxElapsedTime}
}

// Handle delivers one job. It is the handler passed to RabbitMQ.Consume.
func (w *MailWorker) Handle(ctx context.Context, job EmailJob) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = w.maxElapsedTime

	attempt := 0
	cancelled := false
	err := backoff.Retry(func() error {
		if ctx.Err() != nil {
			// Stop retrying once shutdown has begun; the job goes back to the queue.
			cancelled = true
			return nil
		}
		attempt++
		err := w.sender.Send(job.To, job.Subject, job.Body)
		if err != nil {
			w.logger.Debug("Email delivery attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, b)
	if err != nil {
		return err
	}
	if cancelled {
		return ctx.Err()
	}
	w.logger.Info("Email delivered", zap.String("to", job.To), zap.Int("attempts", attempt))
	return nil
}
