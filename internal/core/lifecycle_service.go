package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nuvex-backend-go/internal/billing"
	"nuvex-backend-go/internal/db"
	"nuvex-backend-go/internal/metrics"
	"nuvex-backend-go/internal/models"
)

// Plan term lengths in days.
const (
	MonthlyTermDays = 30
	AnnualTermDays  = 365
)

// LifecycleConfig carries the plan catalog and trial lengths.
type LifecycleConfig struct {
	PlanName          string
	MonthlyPriceID    string
	AnnualPriceID     string
	DefaultTrialDays  int
	ExtendedTrialDays int
	// ExternalCallTimeout bounds each call to Stripe and Firestore.
	ExternalCallTimeout time.Duration
}

func (c LifecycleConfig) priceID(annual bool) string {
	if annual {
		return c.AnnualPriceID
	}
	return c.MonthlyPriceID
}

func (c LifecycleConfig) trialDays(extended bool) int {
	if extended && c.ExtendedTrialDays > 0 {
		return c.ExtendedTrialDays
	}
	if c.DefaultTrialDays > 0 {
		return c.DefaultTrialDays
	}
	return 7
}

// lifecycleService implements the LifecycleService interface.
type lifecycleService struct {
	accounts db.AccountRepository
	billing  BillingProvider
	ledger   EventLedger
	notifier NotificationService
	cfg      LifecycleConfig
	external externalCaller
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewLifecycleService creates a new LifecycleService. ledger and notifier may be nil.
// Without a ledger, duplicate invoice deliveries are still absorbed by the
// transaction reference check in the repository.
func NewLifecycleService(accounts db.AccountRepository, provider BillingProvider, ledger EventLedger, notifier NotificationService, cfg LifecycleConfig, m *metrics.Metrics, logger *zap.Logger) LifecycleService {
	if accounts == nil {
		panic("AccountRepository cannot be nil for LifecycleService")
	}
	if provider == nil {
		panic("BillingProvider cannot be nil for LifecycleService")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PlanName == "" {
		cfg.PlanName = "Adamantium"
	}
	return &lifecycleService{
		accounts: accounts,
		billing:  provider,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		external: newExternalCaller(cfg.ExternalCallTimeout, m),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// StartTrial sets the trial window on a new account and creates it.
func (s *lifecycleService) StartTrial(ctx context.Context, account *models.Account, extended bool) error {
	if account == nil || account.ID == "" {
		return newValidationError("account", "is required")
	}
	now := s.now().UTC()
	days := s.cfg.trialDays(extended)
	trialEnd := now.AddDate(0, 0, days)

	account.Status = models.StatusTrial
	account.TrialPeriod = days
	account.TrialStart = &now
	account.TrialEnd = &trialEnd
	account.PlanName = s.cfg.PlanName
	account.AutoBilling = false
	account.StorageUsed = 0
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}

	err := s.external.do(ctx, "firestore", "create_account", func(ctx context.Context) error {
		return s.accounts.Create(ctx, account)
	})
	if err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			return fmt.Errorf("%w: account %s already exists", ErrEmailInUse, account.ID)
		}
		return err
	}
	s.metrics.RecordTransition("none", string(models.StatusTrial))
	s.logger.Info("Trial started",
		zap.String("account_id", account.ID),
		zap.Int("trial_days", days),
		zap.Time("trial_end", trialEnd))
	return nil
}

// CheckTrialExpiration moves a trial account whose trialEnd has passed to expired.
// Any other state, or a trial still running, is returned unchanged.
func (s *lifecycleService) CheckTrialExpiration(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := getAccount(ctx, s.external, s.accounts, accountID)
	if err != nil {
		return nil, err
	}
	if account.Status != models.StatusTrial || account.TrialEnd == nil || !s.now().After(*account.TrialEnd) {
		return account, nil
	}

	err = s.external.do(ctx, "firestore", "expire_trial", func(ctx context.Context) error {
		return s.accounts.UpdateFields(ctx, accountID, map[string]interface{}{"status": models.StatusExpired})
	})
	if err != nil {
		return nil, notFoundAs(err, ErrAccountNotFound)
	}
	s.recordTransition(accountID, account.Status, models.StatusExpired)
	account.Status = models.StatusExpired
	return account, nil
}

// ActivatePlan starts a paid term immediately using the account's saved card.
// An existing subscription is cancelled before the new one is created.
func (s *lifecycleService) ActivatePlan(ctx context.Context, accountID string, annual bool) (*models.Account, error) {
	account, err := getAccount(ctx, s.external, s.accounts, accountID)
	if err != nil {
		return nil, err
	}
	if account.StripeCustomerID == "" {
		return nil, ErrBillingNotLinked
	}
	if account.DefaultPaymentMethod == "" {
		return nil, ErrNoPaymentMethod
	}

	priceID := s.cfg.priceID(annual)
	price, err := s.getPrice(ctx, priceID)
	if err != nil {
		return nil, err
	}
	if !price.Recurring {
		return nil, fmt.Errorf("%w: %s", ErrPriceNotRecurring, priceID)
	}

	sub, err := s.replaceSubscription(ctx, account, priceID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	term := termDays(price.Interval)
	end := now.AddDate(0, 0, term)
	period := "Mensal"
	if annual {
		period = "Anual"
	}
	fields := map[string]interface{}{
		"planName":             s.cfg.PlanName,
		"planId":               priceID,
		"planStartDate":        now,
		"planEndDate":          end,
		"planDurationDays":     term,
		"status":               models.StatusActive,
		"stripeSubscriptionId": sub.ID,
		"autoBilling":          true,
		"trialEnd":             nil,
	}
	txn := &models.Transaction{
		Date:        now.Format("2006-01-02"),
		Description: fmt.Sprintf("Ativação %s %s", s.cfg.PlanName, period),
		Amount:      billing.FormatBRL(price.UnitAmount),
		Status:      models.TransactionStatusCompleted,
		Reference:   sub.ID,
	}
	if err := s.updateBilling(ctx, accountID, fields, txn); err != nil {
		s.logger.Error("Subscription created but account update failed",
			zap.String("account_id", accountID),
			zap.String("subscription_id", sub.ID),
			zap.Error(err))
		return nil, err
	}
	s.recordTransition(accountID, account.Status, models.StatusActive)

	account.PlanName = s.cfg.PlanName
	account.PlanID = priceID
	account.PlanStartDate = &now
	account.PlanEndDate = &end
	account.PlanDurationDays = term
	account.Status = models.StatusActive
	account.StripeSubscriptionID = sub.ID
	account.AutoBilling = true
	account.TrialEnd = nil
	account.Transactions = append(account.Transactions, *txn)
	return account, nil
}

// RenewIfDue creates a new term for an active, auto-billed account whose plan has ended.
// It returns false without side effects when nothing is due.
func (s *lifecycleService) RenewIfDue(ctx context.Context, accountID string) (bool, error) {
	account, err := getAccount(ctx, s.external, s.accounts, accountID)
	if err != nil {
		return false, err
	}
	if account.Status != models.StatusActive || !account.AutoBilling || account.PlanEndDate == nil {
		return false, nil
	}
	if !s.now().After(*account.PlanEndDate) {
		return false, nil
	}
	if account.StripeCustomerID == "" {
		return false, ErrBillingNotLinked
	}
	if account.DefaultPaymentMethod == "" {
		return false, ErrNoPaymentMethod
	}

	priceID := account.PlanID
	if priceID == "" {
		priceID = s.cfg.MonthlyPriceID
	}
	price, err := s.getPrice(ctx, priceID)
	if err != nil {
		return false, err
	}
	if !price.Recurring {
		s.logger.Warn("Renewal aborted, price is not recurring",
			zap.String("account_id", accountID),
			zap.String("price_id", priceID))
		return false, fmt.Errorf("%w: %s", ErrPriceNotRecurring, priceID)
	}

	sub, err := s.replaceSubscription(ctx, account, priceID)
	if err != nil {
		return false, err
	}

	now := s.now().UTC()
	term := termDays(price.Interval)
	product := price.ProductName
	if product == "" {
		product = s.cfg.PlanName
	}
	fields := map[string]interface{}{
		"planStartDate":        now,
		"planEndDate":          now.AddDate(0, 0, term),
		"planDurationDays":     term,
		"stripeSubscriptionId": sub.ID,
	}
	txn := &models.Transaction{
		Date:        now.Format("2006-01-02"),
		Description: "Renovação automática " + product,
		Amount:      billing.FormatBRL(price.UnitAmount),
		Status:      models.TransactionStatusCompleted,
		Reference:   sub.ID,
	}
	if err := s.updateBilling(ctx, accountID, fields, txn); err != nil {
		s.logger.Error("Renewal subscription created but account update failed",
			zap.String("account_id", accountID),
			zap.String("subscription_id", sub.ID),
			zap.Error(err))
		return false, err
	}
	s.recordTransition(accountID, models.StatusActive, models.StatusActive)
	return true, nil
}

// CancelSubscription stops billing and clears the plan. The customer id is kept
// so saved cards stay usable for a later activation.
func (s *lifecycleService) CancelSubscription(ctx context.Context, accountID string) error {
	account, err := getAccount(ctx, s.external, s.accounts, accountID)
	if err != nil {
		return err
	}
	if account.StripeSubscriptionID != "" {
		err := s.external.do(ctx, "stripe", "cancel_subscription", func(ctx context.Context) error {
			return s.billing.CancelSubscription(ctx, account.StripeSubscriptionID)
		})
		if err != nil {
			return err
		}
	}

	fields := map[string]interface{}{
		"planName":             nil,
		"planStartDate":        nil,
		"planEndDate":          nil,
		"status":               models.StatusInactive,
		"stripeSubscriptionId": nil,
		"autoBilling":          false,
	}
	err = s.external.do(ctx, "firestore", "cancel_subscription", func(ctx context.Context) error {
		return s.accounts.UpdateFields(ctx, accountID, fields)
	})
	if err != nil {
		return notFoundAs(err, ErrAccountNotFound)
	}
	s.recordTransition(accountID, account.Status, models.StatusInactive)
	return nil
}

// replaceSubscription cancels the account's current subscription, if any, and then
// creates a new one on the default card. When creation fails after the cancel, the
// stale subscription id is cleared so the next attempt does not cancel it twice.
func (s *lifecycleService) replaceSubscription(ctx context.Context, account *models.Account, priceID string) (*billing.Subscription, error) {
	cancelled := false
	if account.StripeSubscriptionID != "" {
		err := s.external.do(ctx, "stripe", "cancel_subscription", func(ctx context.Context) error {
			return s.billing.CancelSubscription(ctx, account.StripeSubscriptionID)
		})
		if err != nil {
			return nil, err
		}
		cancelled = true
	}

	var sub *billing.Subscription
	err := s.external.do(ctx, "stripe", "create_subscription", func(ctx context.Context) error {
		var err error
		sub, err = s.billing.CreateSubscription(ctx, account.StripeCustomerID, priceID, account.DefaultPaymentMethod)
		return err
	})
	if err != nil {
		if cancelled {
			clearErr := s.external.do(ctx, "firestore", "clear_subscription", func(ctx context.Context) error {
				return s.accounts.UpdateFields(ctx, account.ID, map[string]interface{}{"stripeSubscriptionId": nil})
			})
			if clearErr != nil {
				s.logger.Warn("Failed to clear cancelled subscription id",
					zap.String("account_id", account.ID),
					zap.Error(clearErr))
			}
		}
		return nil, err
	}
	return sub, nil
}

func (s *lifecycleService) getPrice(ctx context.Context, priceID string) (*billing.Price, error) {
	if priceID == "" {
		return nil, newValidationError("priceId", "is not configured")
	}
	var price *billing.Price
	err := s.external.do(ctx, "stripe", "get_price", func(ctx context.Context) error {
		var err error
		price, err = s.billing.GetPrice(ctx, priceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return price, nil
}

func (s *lifecycleService) updateBilling(ctx context.Context, accountID string, fields map[string]interface{}, txn *models.Transaction) error {
	err := s.external.do(ctx, "firestore", "update_billing", func(ctx context.Context) error {
		appended, err := s.accounts.UpdateBilling(ctx, accountID, fields, txn)
		if err == nil && txn != nil && !appended {
			s.logger.Info("Transaction already recorded, skipped",
				zap.String("account_id", accountID),
				zap.String("reference", txn.Reference))
		}
		return err
	})
	return notFoundAs(err, ErrAccountNotFound)
}

func (s *lifecycleService) recordTransition(accountID string, from, to models.AccountStatus) {
	s.metrics.RecordTransition(string(from), string(to))
	if from != to {
		s.logger.Info("Account status changed",
			zap.String("account_id", accountID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	}
}

// termDays maps a price interval to the plan term: a year is 365 days, anything else 30.
func termDays(interval string) int {
	if interval == billing.IntervalYear {
		return AnnualTermDays
	}
	return MonthlyTermDays
}
