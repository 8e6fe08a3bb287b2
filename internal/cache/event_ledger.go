package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	eventKeyPrefix = "webhook:event:"

	stateProcessing = "processing"
	stateDone       = "done"

	// A claim that is never completed or released (crash mid-handler) frees itself after this.
	processingTTL = 5 * time.Minute
)

// EventLedger records which webhook event IDs have been handled.
// An event is claimed before it is processed and marked done only after the handler
// succeeds, so a failed attempt can be retried by the next delivery.
type EventLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEventLedger creates a ledger that remembers handled events for ttl.
func NewEventLedger(client *redis.Client, ttl time.Duration) *EventLedger {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &EventLedger{client: client, ttl: ttl}
}

// Claim reserves eventID for processing. It returns false when the event is already
// handled or another delivery is processing it.
func (l *EventLedger) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event ID cannot be empty")
	}
	ok, err := l.client.SetNX(ctx, eventKeyPrefix+eventID, stateProcessing, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim event %s: %w", eventID, err)
	}
	return ok, nil
}

// Complete marks eventID as handled.
func (l *EventLedger) Complete(ctx context.Context, eventID string) error {
	if err := l.client.Set(ctx, eventKeyPrefix+eventID, stateDone, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete event %s: %w", eventID, err)
	}
	return nil
}

// Release drops the claim on eventID so a later delivery can process it again.
func (l *EventLedger) Release(ctx context.Context, eventID string) error {
	if err := l.client.Del(ctx, eventKeyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("failed to release event %s: %w", eventID, err)
	}
	return nil
}

// State returns "processing", "done" or "" for an unknown event.
func (l *EventLedger) State(ctx context.Context, eventID string) (string, error) {
	v, err := l.client.Get(ctx, eventKeyPrefix+eventID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read event %s: %w", eventID, err)
	}
	return v, nil
}

// Ping reports whether Redis is reachable.
func (l *EventLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
