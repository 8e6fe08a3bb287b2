package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nuvex-backend-go/internal/db"
	"nuvex-backend-go/internal/metrics"
	"nuvex-backend-go/internal/models"
)

// NearLimitRatio is the share of the limit at which a storage alert is sent.
// With the default 10 GiB limit this is 9 GiB.
const NearLimitRatio = 0.9

// quotaService implements the QuotaService interface.
type quotaService struct {
	accounts db.AccountRepository
	notifier NotificationService
	limit    int64
	external externalCaller
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewQuotaService creates a new QuotaService. notifier may be nil, in which case
// CheckNearLimit only reports.
func NewQuotaService(accounts db.AccountRepository, notifier NotificationService, limit int64, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) QuotaService {
	if accounts == nil {
		panic("AccountRepository cannot be nil for QuotaService")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &quotaService{
		accounts: accounts,
		notifier: notifier,
		limit:    limit,
		external: newExternalCaller(timeout, m),
		metrics:  m,
		logger:   logger,
	}
}

func (s *quotaService) Limit() int64 { return s.limit }

// Reserve adds delta to the account's storage counter in one atomic read-check-write.
// Two concurrent reservations can never both pass against the same headroom.
func (s *quotaService) Reserve(ctx context.Context, accountID string, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, newValidationError("size", "must be greater than 0")
	}

	var (
		used     int64
		reserved bool
	)
	err := s.external.do(ctx, "firestore", "reserve_storage", func(ctx context.Context) error {
		var err error
		used, reserved, err = s.accounts.ReserveStorage(ctx, accountID, delta, s.limit)
		return err
	})
	if err != nil {
		s.metrics.RecordReservation("error")
		return 0, notFoundAs(err, ErrAccountNotFound)
	}
	if !reserved {
		s.metrics.RecordReservation("rejected")
		s.logger.Info("Storage reservation rejected",
			zap.String("account_id", accountID),
			zap.Int64("used", used),
			zap.Int64("requested", delta),
			zap.Int64("limit", s.limit))
		return used, &CapacityError{Used: used, Requested: delta, Limit: s.limit}
	}
	s.metrics.RecordReservation("accepted")
	return used + delta, nil
}

// Release subtracts delta from the storage counter. The repository clamps at zero,
// so releasing more than is in use leaves the counter at 0.
func (s *quotaService) Release(ctx context.Context, accountID string, delta int64) (int64, error) {
	if delta < 0 {
		return 0, newValidationError("size", "must not be negative")
	}

	var used int64
	err := s.external.do(ctx, "firestore", "release_storage", func(ctx context.Context) error {
		var err error
		used, err = s.accounts.ReleaseStorage(ctx, accountID, delta)
		return err
	})
	if err != nil {
		return 0, notFoundAs(err, ErrAccountNotFound)
	}
	s.metrics.RecordRelease(delta)
	return used, nil
}

// CheckNearLimit reads the account's usage and sends a storage alert when it is at or above the threshold.
func (s *quotaService) CheckNearLimit(ctx context.Context, accountID string) (bool, error) {
	account, err := getAccount(ctx, s.external, s.accounts, accountID)
	if err != nil {
		return false, err
	}
	return s.alertIfNearLimit(accountID, account.StorageUsed), nil
}

func (s *quotaService) alertIfNearLimit(accountID string, used int64) bool {
	if !isNearLimit(used, s.limit) {
		return false
	}
	if s.notifier != nil {
		s.notifier.NotifyStorageLimit(accountID, used)
	}
	return true
}

func isNearLimit(used, limit int64) bool {
	return limit > 0 && float64(used) >= float64(limit)*NearLimitRatio
}

// getAccount loads an account through the external caller and maps not-found to ErrAccountNotFound.
func getAccount(ctx context.Context, ext externalCaller, accounts db.AccountRepository, accountID string) (*models.Account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", ErrAccountNotFound)
	}
	var account *models.Account
	err := ext.do(ctx, "firestore", "get_account", func(ctx context.Context) error {
		var err error
		account, err = accounts.GetByID(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, notFoundAs(err, ErrAccountNotFound)
	}
	return account, nil
}
