package db

import (
	"context"
	"time"

	"nuvex-backend-go/internal/models"
)

// AccountRepository defines the storage operations on account documents.
// Writes are always partial: callers name the fields they own and nothing else is touched.
type AccountRepository interface {
	GetByID(ctx context.Context, accountID string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	// UpdateFields patches the named top-level fields. A nil value clears the field.
	UpdateFields(ctx context.Context, accountID string, fields map[string]interface{}) error
	// UpdateBilling patches billing fields and, when txn is not nil, appends it to the
	// transaction log in the same atomic write. A txn whose Reference is already logged
	// is skipped; the returned bool reports whether it was appended.
	UpdateBilling(ctx context.Context, accountID string, fields map[string]interface{}, txn *models.Transaction) (bool, error)
	// ReserveStorage atomically adds delta to storageUsed unless the result would exceed limit.
	// It returns the counter value observed by the check and whether the delta was applied.
	ReserveStorage(ctx context.Context, accountID string, delta, limit int64) (used int64, reserved bool, err error)
	// ReleaseStorage atomically subtracts delta from storageUsed, clamped at zero, and returns the new value.
	ReleaseStorage(ctx context.Context, accountID string, delta int64) (int64, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Account, error)
	FindByCustomerID(ctx context.Context, customerID string) (*models.Account, error)
}

// DocumentRepository defines the storage operations on client documents.
type DocumentRepository interface {
	GetClient(ctx context.Context, accountID, clientID string) (*models.Client, error)
	Create(ctx context.Context, doc *models.Document) (string, error)
	GetByID(ctx context.Context, accountID, clientID, documentID string) (*models.Document, error)
	Delete(ctx context.Context, accountID, clientID, documentID string) error
	ListByAccount(ctx context.Context, accountID string) ([]*models.Document, error)
	TouchAccess(ctx context.Context, accountID, clientID, documentID string, at time.Time) error
	// ListDueBetween returns documents of every account whose due date falls in [from, to).
	ListDueBetween(ctx context.Context, from, to time.Time) ([]*models.Document, error)
}

// NotificationRepository defines the storage operations on the per-account notification inbox.
type NotificationRepository interface {
	Create(ctx context.Context, accountID string, notification *models.Notification) (string, error)
}
