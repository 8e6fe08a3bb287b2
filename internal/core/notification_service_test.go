package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"nuvex-backend-go/internal/models"
)

func newTestNotifier(repo *fakeNotificationRepo, emails *fakeEmailQueue, logger *zap.Logger) *notificationService {
	accounts := newFakeAccounts(&models.Account{ID: "acc1", Email: "owner@example.com"})
	var queue EmailQueue
	if emails != nil {
		queue = emails
	}
	svc := NewNotificationService(repo, accounts, queue, time.Second, nil, logger).(*notificationService)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestNotifyStorageLimitWritesInboxAndEmail(t *testing.T) {
	repo := &fakeNotificationRepo{}
	emails := &fakeEmailQueue{}
	svc := newTestNotifier(repo, emails, nil)

	svc.NotifyStorageLimit("acc1", 9*gb+gb/2)
	svc.Wait()

	items := repo.forAccount("acc1")
	require.Len(t, items, 1)
	assert.Equal(t, "Atenção! Você está quase atingindo o limite de armazenamento. Já foram usados 9.50 GB.", items[0].Message)
	assert.Equal(t, models.CategoryStorage, items[0].Category)
	assert.Equal(t, models.PriorityHigh, items[0].Priority)
	assert.Equal(t, "alert", items[0].Type)
	assert.Equal(t, []string{"owner@example.com|Limite de armazenamento - Nuvex"}, emails.list())
}

func TestNotifyDocumentEventsSkipEmail(t *testing.T) {
	repo := &fakeNotificationRepo{}
	emails := &fakeEmailQueue{}
	svc := newTestNotifier(repo, emails, nil)
	doc := &models.Document{ClientID: "cli1", DocumentName: "balanço.pdf"}

	svc.NotifyDocumentUploaded("acc1", doc)
	svc.NotifyDocumentDownloaded("acc1", doc)
	svc.Wait()

	items := repo.forAccount("acc1")
	require.Len(t, items, 2)
	categories := []string{items[0].Category, items[1].Category}
	assert.ElementsMatch(t, []string{models.CategoryUpload, models.CategoryDownload}, categories)
	assert.Empty(t, emails.list())
}

func TestNotifyDocumentDueOnlyAtReminderDistance(t *testing.T) {
	tests := []struct {
		name string
		due  time.Time
		want int
	}{
		{name: "four days ahead", due: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), want: 1},
		{name: "four days ahead late in the day", due: time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC), want: 1},
		{name: "three days ahead", due: time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC), want: 0},
		{name: "five days ahead", due: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeNotificationRepo{}
			svc := newTestNotifier(repo, nil, nil)
			due := tt.due

			svc.NotifyDocumentDue("acc1", &models.Document{DocumentName: "DAS", ClientName: "Maria", DueDate: &due})
			svc.Wait()

			items := repo.forAccount("acc1")
			require.Len(t, items, tt.want)
			if tt.want == 1 {
				assert.Equal(t, "O documento \"DAS\" do cliente \"Maria\" estará vencendo em 4 dias (vencimento: 14/03/2025).", items[0].Message)
				assert.Equal(t, models.CategoryDocumentDue, items[0].Category)
			}
		})
	}
}

func TestNotificationFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	repo := &fakeNotificationRepo{err: errBoom}
	svc := newTestNotifier(repo, nil, zap.New(core))

	svc.NotifyDocumentDownloaded("acc1", &models.Document{DocumentName: "x"})
	svc.Wait()

	entries := logs.FilterMessage("Failed to write notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "acc1", entries[0].ContextMap()["account_id"])
}

func TestNotifyTrialEndingMessage(t *testing.T) {
	repo := &fakeNotificationRepo{}
	emails := &fakeEmailQueue{}
	svc := newTestNotifier(repo, emails, nil)

	svc.NotifyTrialEnding("acc1", testNow.AddDate(0, 0, 3))
	svc.Wait()

	items := repo.forAccount("acc1")
	require.Len(t, items, 1)
	assert.Equal(t, "Seu período de teste expira em 3 dia(s). Ative um plano para continuar utilizando o serviço.", items[0].Message)
	assert.Equal(t, models.CategorySubscription, items[0].Category)
	assert.Len(t, emails.list(), 1)
}

func TestDaysUntil(t *testing.T) {
	assert.Equal(t, 4, daysUntil(testNow, time.Date(2025, 3, 14, 1, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, daysUntil(testNow, testNow.Add(time.Hour)))
	assert.Equal(t, -1, daysUntil(testNow, testNow.AddDate(0, 0, -1)))
}
