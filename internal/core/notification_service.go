package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nuvex-backend-go/internal/db"
	"nuvex-backend-go/internal/metrics"
	"nuvex-backend-go/internal/models"
)

// DueReminderDays is how many calendar days before its due date a document reminder is sent.
const DueReminderDays = 4

const defaultNotificationTimeout = 10 * time.Second

// notificationService implements the NotificationService interface.
// Every notification runs on its own goroutine with a detached context so the
// request that triggered it is never delayed or failed by it.
type notificationService struct {
	notifications db.NotificationRepository
	accounts      db.AccountRepository
	emails        EmailQueue
	timeout       time.Duration
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
	wg            sync.WaitGroup
}

type emailMessage struct {
	subject string
	body    string
}

// NewNotificationService creates a new NotificationService. emails may be nil,
// in which case only inbox entries are written.
func NewNotificationService(notifications db.NotificationRepository, accounts db.AccountRepository, emails EmailQueue, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) NotificationService {
	if notifications == nil {
		panic("NotificationRepository cannot be nil for NotificationService")
	}
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &notificationService{
		notifications: notifications,
		accounts:      accounts,
		emails:        emails,
		timeout:       timeout,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *notificationService) NotifyStorageLimit(accountID string, used int64) {
	gb := float64(used) / (1024 * 1024 * 1024)
	msg := fmt.Sprintf("Atenção! Você está quase atingindo o limite de armazenamento. Já foram usados %.2f GB.", gb)
	s.dispatch(accountID, models.Notification{
		Message:  msg,
		Type:     "alert",
		Category: models.CategoryStorage,
		Priority: models.PriorityHigh,
		Icon:     "storage",
		Metadata: map[string]interface{}{"storageUsed": used},
	}, &emailMessage{subject: "Limite de armazenamento - Nuvex", body: msg})
}

func (s *notificationService) NotifyTrialEnding(accountID string, trialEnd time.Time) {
	daysLeft := daysUntil(s.now(), trialEnd)
	if daysLeft < 0 {
		daysLeft = 0
	}
	msg := fmt.Sprintf("Seu período de teste expira em %d dia(s). Ative um plano para continuar utilizando o serviço.", daysLeft)
	s.dispatch(accountID, models.Notification{
		Message:  msg,
		Type:     "system",
		Category: models.CategorySubscription,
		Priority: models.PriorityNormal,
		Icon:     "subscriptions",
		Metadata: map[string]interface{}{"isTrial": true, "daysLeft": daysLeft, "trialEnd": trialEnd.UTC().Format(time.RFC3339)},
	}, &emailMessage{subject: "Seu período de teste está acabando - Nuvex", body: msg})
}

func (s *notificationService) NotifyDocumentUploaded(accountID string, doc *models.Document) {
	s.dispatch(accountID, models.Notification{
		Message:  fmt.Sprintf("O documento \"%s\" foi enviado com sucesso.", doc.DocumentName),
		Type:     "user",
		Category: models.CategoryUpload,
		Priority: models.PriorityNormal,
		Icon:     "file_upload",
		Metadata: map[string]interface{}{"clientId": doc.ClientID, "documentName": doc.DocumentName},
	}, nil)
}

func (s *notificationService) NotifyDocumentDownloaded(accountID string, doc *models.Document) {
	s.dispatch(accountID, models.Notification{
		Message:  fmt.Sprintf("O documento \"%s\" foi baixado.", doc.DocumentName),
		Type:     "user",
		Category: models.CategoryDownload,
		Priority: models.PriorityLow,
		Icon:     "file_download",
		Metadata: map[string]interface{}{"documentName": doc.DocumentName},
	}, nil)
}

// NotifyDocumentDue sends the due-date reminder, but only when the document is
// exactly DueReminderDays calendar days away from its due date.
func (s *notificationService) NotifyDocumentDue(accountID string, doc *models.Document) {
	if doc.DueDate == nil {
		return
	}
	daysLeft := daysUntil(s.now(), *doc.DueDate)
	if daysLeft != DueReminderDays {
		return
	}
	due := doc.DueDate.UTC().Format("02/01/2006")
	s.dispatch(accountID, models.Notification{
		Message: fmt.Sprintf("O documento \"%s\" do cliente \"%s\" estará vencendo em %d dias (vencimento: %s).",
			doc.DocumentName, doc.ClientName, DueReminderDays, due),
		Type:     "alert",
		Category: models.CategoryDocumentDue,
		Priority: models.PriorityHigh,
		Icon:     "event",
		Metadata: map[string]interface{}{
			"clientName":   doc.ClientName,
			"documentName": doc.DocumentName,
			"dueDate":      doc.DueDate.UTC().Format(time.RFC3339),
			"daysLeft":     daysLeft,
		},
	}, nil)
}

func (s *notificationService) Wait() { s.wg.Wait() }

func (s *notificationService) dispatch(accountID string, n models.Notification, email *emailMessage) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		_, err := s.notifications.Create(ctx, accountID, &n)
		s.metrics.RecordNotification(n.Category, err)
		if err != nil {
			s.logger.Warn("Failed to write notification",
				zap.String("account_id", accountID),
				zap.String("category", n.Category),
				zap.Error(err))
		}
		if email != nil {
			s.sendEmail(ctx, accountID, email)
		}
	}()
}

func (s *notificationService) sendEmail(ctx context.Context, accountID string, email *emailMessage) {
	if s.emails == nil || s.accounts == nil {
		return
	}
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		s.logger.Warn("Failed to load account for notification email", zap.String("account_id", accountID), zap.Error(err))
		return
	}
	if account.Email == "" {
		return
	}
	if err := s.emails.EnqueueEmail(ctx, account.Email, email.subject, email.body); err != nil {
		s.logger.Warn("Failed to enqueue notification email", zap.String("account_id", accountID), zap.Error(err))
	}
}

// daysUntil counts whole calendar days (UTC) from now to t. Negative when t is in the past.
func daysUntil(now, t time.Time) int {
	today := now.UTC().Truncate(24 * time.Hour)
	day := t.UTC().Truncate(24 * time.Hour)
	return int(day.Sub(today).Hours() / 24)
}
