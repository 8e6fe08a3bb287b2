package core

import (
	"context"
	"errors"
	"time"

	"nuvex-backend-go/internal/db"
	"nuvex-backend-go/internal/metrics"
)

const defaultExternalTimeout = 5 * time.Second

// externalCaller bounds every call to a dependency with a timeout and records its latency.
type externalCaller struct {
	timeout time.Duration
	metrics *metrics.Metrics
}

func newExternalCaller(timeout time.Duration, m *metrics.Metrics) externalCaller {
	if timeout <= 0 {
		timeout = defaultExternalTimeout
	}
	return externalCaller{timeout: timeout, metrics: m}
}

// do runs fn under a deadline. Repository not-found and already-exists errors are
// returned unchanged so callers can map them; anything else becomes an *ExternalError.
func (c externalCaller) do(ctx context.Context, service, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	c.metrics.ObserveExternalCall(service, op, err, time.Since(start))
	if err == nil {
		return nil
	}
	if errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrAlreadyExists) {
		return err
	}
	return &ExternalError{Service: service, Op: op, Err: err}
}

// notFoundAs replaces a repository not-found error with the domain sentinel.
func notFoundAs(err, sentinel error) error {
	if err != nil && errors.Is(err, db.ErrNotFound) {
		return sentinel
	}
	return err
}
