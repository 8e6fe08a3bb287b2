package core

import (
	"context"
	"io"
	"time"

	"nuvex-backend-go/internal/billing"
	"nuvex-backend-go/internal/models"
	"nuvex-backend-go/internal/objectstore"
)

// BillingProvider is the payment processor. *billing.StripeProvider implements it.
type BillingProvider interface {
	CreateCustomer(ctx context.Context, accountID, email, name string) (string, error)
	CreateSubscriptionCheckout(ctx context.Context, in billing.CheckoutParams) (*billing.CheckoutSession, error)
	CreateSetupCheckout(ctx context.Context, accountID, customerID string) (*billing.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
	GetSetupSession(ctx context.Context, sessionID string) (*billing.SetupSession, error)
	ResolveSetupPaymentMethod(ctx context.Context, setup *billing.SetupSession, customerID string) (*models.PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string) (*billing.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	GetSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error)
	GetPrice(ctx context.Context, priceID string) (*billing.Price, error)
	ListPlans(ctx context.Context) ([]billing.Price, error)
	// ParseWebhook verifies the signature before decoding anything.
	ParseWebhook(payload []byte, signatureHeader string) (*billing.Event, error)
}

// ObjectStorage stores document bytes. *objectstore.Router implements it.
type ObjectStorage interface {
	Put(ctx context.Context, in objectstore.PutInput) (*objectstore.StoredObject, error)
	Delete(ctx context.Context, backendName, key string) error
	DownloadURL(ctx context.Context, backendName, key, storedURL string) (string, error)
}

// EmailQueue hands outbound mail to the worker. *queue.RabbitMQ implements it.
type EmailQueue interface {
	EnqueueEmail(ctx context.Context, to, subject, body string) error
}

// EventLedger records processed webhook event IDs. *cache.EventLedger implements it.
type EventLedger interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

// IdentityProvider manages login identities. *identity.FirebaseIdentity implements it.
type IdentityProvider interface {
	CreateUser(ctx context.Context, email, password, displayName string) (string, error)
	DeleteUser(ctx context.Context, uid string) error
	CustomToken(ctx context.Context, uid string) (string, error)
}

// LifecycleService owns the subscription state machine of an account.
// It is the only writer of status, trial, plan and transaction fields.
type LifecycleService interface {
	// StartTrial fills the trial fields of a new account and persists it.
	StartTrial(ctx context.Context, account *models.Account, extended bool) error
	// CheckTrialExpiration moves a trial whose end has passed to expired. Calling it again is a no-op.
	CheckTrialExpiration(ctx context.Context, accountID string) (*models.Account, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error)
	ActivatePlan(ctx context.Context, accountID string, annual bool) (*models.Account, error)
	// RenewIfDue starts a new term when auto-billing is on and the current one has ended.
	RenewIfDue(ctx context.Context, accountID string) (bool, error)
	CancelSubscription(ctx context.Context, accountID string) error
}

// BillingService covers the customer-facing billing flows around the lifecycle.
type BillingService interface {
	ListPlans(ctx context.Context) ([]billing.Price, error)
	CreateCheckoutSession(ctx context.Context, accountID string, annual bool) (*billing.CheckoutSession, error)
	CreatePaymentMethodSession(ctx context.Context, accountID string) (*billing.CheckoutSession, error)
	ConfirmPaymentMethod(ctx context.Context, accountID, sessionID string) (*models.PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, accountID, paymentMethodID string) error
	CreatePortalSession(ctx context.Context, accountID string) (string, error)
}

// QuotaService enforces the per-account storage limit.
type QuotaService interface {
	// Reserve adds delta bytes to the account's usage or fails with a *CapacityError.
	Reserve(ctx context.Context, accountID string, delta int64) (int64, error)
	// Release subtracts delta bytes. Usage never drops below zero.
	Release(ctx context.Context, accountID string, delta int64) (int64, error)
	// CheckNearLimit reports whether usage reached the alert threshold and sends a storage alert if so.
	CheckNearLimit(ctx context.Context, accountID string) (bool, error)
	Limit() int64
}

// DocumentService manages client documents and their bytes.
type DocumentService interface {
	Upload(ctx context.Context, accountID string, req models.UploadDocumentRequest, body io.Reader) (*models.Document, error)
	Download(ctx context.Context, accountID, clientID, documentID string) (*DownloadResult, error)
	Delete(ctx context.Context, accountID, clientID, documentID string) error
	StorageOverview(ctx context.Context, accountID string) (*StorageOverview, error)
}

// NotificationService writes inbox entries and alert emails without blocking the caller.
type NotificationService interface {
	NotifyStorageLimit(accountID string, used int64)
	NotifyTrialEnding(accountID string, trialEnd time.Time)
	NotifyDocumentUploaded(accountID string, doc *models.Document)
	NotifyDocumentDownloaded(accountID string, doc *models.Document)
	NotifyDocumentDue(accountID string, doc *models.Document)
	// Wait blocks until every pending notification finished.
	Wait()
}

// AccountService handles signup and account reads.
type AccountService interface {
	Signup(ctx context.Context, req models.SignupRequest) (*SignupResult, error)
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// WebhookResult tells the handler what happened to a delivered event.
type WebhookResult struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	// Outcome is one of processed, duplicate or ignored.
	Outcome string `json:"outcome"`
}

// Webhook outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// DownloadResult is a resolved download link for a document.
type DownloadResult struct {
	URL      string           `json:"url"`
	Document *models.Document `json:"document"`
}

// StorageOverview summarises an account's usage and its documents.
type StorageOverview struct {
	StorageUsed  int64             `json:"storageUsed"`
	StorageLimit int64             `json:"storageLimit"`
	NearLimit    bool              `json:"nearLimit"`
	Documents    []DocumentSummary `json:"documents"`
}

// DocumentSummary is one row of the storage overview.
type DocumentSummary struct {
	*models.Document
	DocumentAge int `json:"documentAge"`
}

// SignupResult is returned after a successful signup.
type SignupResult struct {
	Account     *models.Account `json:"account"`
	CustomToken string          `json:"customToken"`
}
