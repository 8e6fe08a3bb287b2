package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"nuvex-backend-go/internal/core"
	"nuvex-backend-go/internal/db"
	"nuvex-backend-go/internal/metrics"
	"nuvex-backend-go/internal/models"
)

// DueDateJob scans every morning for documents due in core.DueReminderDays days
// and hands them to the notifier.
type DueDateJob struct {
	documents db.DocumentRepository
	notifier  core.NotificationService
	metrics   *metrics.Metrics
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewDueDateJob creates the due-date reminder job. timeout bounds one full scan.
func NewDueDateJob(documents db.DocumentRepository, notifier core.NotificationService, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *DueDateJob {
	if documents == nil || notifier == nil {
		panic("DueDateJob requires a document repository and a notifier")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &DueDateJob{
		documents: documents,
		notifier:  notifier,
		metrics:   m,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules the scan with a standard five-field cron spec evaluated in UTC.
func (j *DueDateJob) Start(spec string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return errors.New("due date job is already running")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, j.runScheduled); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	c.Start()
	j.cron = c
	j.running = true

	j.logger.Info("Due date job scheduled", zap.String("schedule", spec))
	return nil
}

// Stop unschedules the job and waits for a scan in progress to finish.
func (j *DueDateJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
	j.logger.Info("Due date job stopped")
}

func (j *DueDateJob) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.Run(ctx)
	if err != nil {
		j.logger.Error("Due date scan failed", zap.Error(err))
		return
	}
	j.logger.Info("Due date scan finished", zap.Int("documents", n))
}

// Run performs one scan and returns how many documents were handed to the notifier.
// The window is the whole UTC day that lies DueReminderDays ahead of today.
func (j *DueDateJob) Run(ctx context.Context) (int, error) {
	from := startOfDay(j.now()).AddDate(0, 0, core.DueReminderDays)
	to := from.AddDate(0, 0, 1)

	start := time.Now()
	docs, err := j.documents.ListDueBetween(ctx, from, to)
	j.metrics.ObserveExternalCall("firestore", "list_due_documents", err, time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("failed to list documents due on %s: %w", from.Format("2006-01-02"), err)
	}

	clientNames := make(map[string]string)
	for _, doc := range docs {
		if doc.ClientName == "" {
			doc.ClientName = j.clientName(ctx, doc, clientNames)
		}
		j.notifier.NotifyDocumentDue(doc.AccountID, doc)
	}
	return len(docs), nil
}

// clientName resolves the display name of a document's client, caching per scan.
// A lookup failure leaves the name empty; the reminder is still worth sending.
func (j *DueDateJob) clientName(ctx context.Context, doc *models.Document, cache map[string]string) string {
	key := doc.AccountID + "/" + doc.ClientID
	if name, ok := cache[key]; ok {
		return name
	}
	client, err := j.documents.GetClient(ctx, doc.AccountID, doc.ClientID)
	if err != nil {
		j.logger.Warn("Could not resolve client for due reminder",
			zap.String("accountID", doc.AccountID), zap.String("clientID", doc.ClientID), zap.Error(err))
		cache[key] = ""
		return ""
	}
	cache[key] = client.FullName
	return client.FullName
}

func startOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
