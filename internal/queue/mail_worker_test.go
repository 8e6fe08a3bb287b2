package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySender struct {
	failures int
	calls    int
	sent     []EmailJob
}

func (s *flakySender) Send(to, subject, body string) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("421 service not available")
	}
	s.sent = append(s.sent, EmailJob{To: to, Subject: subject, Body: body})
	return nil
}

func TestMailWorkerRetriesTransientFailures(t *testing.T) {
	sender := &flakySender{failures: 2}
	worker := NewMailWorker(sender, nil, 10*time.Second)

	err := worker.Handle(context.Background(), EmailJob{To: "ana@example.com", Subject: "s", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, 3, sender.calls)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ana@example.com", sender.sent[0].To)
}

func TestMailWorkerGivesUp(t *testing.T) {
	sender := &flakySender{failures: 1000}
	worker := NewMailWorker(sender, nil, time.Millisecond)

	err := worker.Handle(context.Background(), EmailJob{To: "ana@example.com", Subject: "s", Body: "b"})
	assert.Error(t, err)
	assert.Empty(t, sender.sent)
}

func TestMailWorkerStopsOnCancelledContext(t *testing.T) {
	sender := &flakySender{}
	worker := NewMailWorker(sender, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := worker.Handle(ctx, EmailJob{To: "ana@example.com"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sender.calls)
}

func TestEmailJobCodec(t *testing.T) {
	_, err := encodeJob(EmailJob{Subject: "no recipient"})
	assert.Error(t, err)

	payload, err := encodeJob(EmailJob{To: "ana@example.com", Subject: "Armazenamento", Body: "quase cheio"})
	require.NoError(t, err)

	job, err := decodeJob(payload)
	require.NoError(t, err)
	assert.Equal(t, "Armazenamento", job.Subject)

	_, err = decodeJob([]byte(`{"subject":"x"}`))
	assert.Error(t, err)
	_, err = decodeJob([]byte(`not json`))
	assert.Error(t, err)
}
