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

// billingService implements the BillingService interface. It manages the Stripe
// customer and its cards but leaves status and plan fields to the lifecycle.
type billingService struct {
	accounts db.AccountRepository
	billing  BillingProvider
	cfg      LifecycleConfig
	external externalCaller
	logger   *zap.Logger
	now      func() time.Time
}

// NewBillingService creates a new BillingService.
func NewBillingService(accounts db.AccountRepository, provider BillingProvider, cfg LifecycleConfig, m *metrics.Metrics, logger *zap.Logger) BillingService {
	if accounts == nil {
		panic("AccountRepository cannot be nil for BillingService")
	}
	if provider == nil {
		panic("BillingProvider cannot be nil for BillingService")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &billingService{
		accounts: accounts,
		billing:  provider,
		cfg:      cfg,
		external: newExternalCaller(cfg.ExternalCallTimeout, m),
		logger:   logger,
		now:      time.Now,
	}
}

// ListPlans returns the active recurring prices of the catalog.
func (s *billingService) ListPlans(ctx context.Context) ([]billing.Price, error) {
	var plans []billing.Price
	err := s.external.do(ctx, "stripe", "list_plans", func(ctx context.Context) error {
		var err error
		plans, err = s.billing.ListPlans(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return plans, nil
}

// CreateCheckoutSession opens a hosted subscription checkout with the account's trial length.
// The trial window itself is written when the completed-checkout webhook arrives.
func (s *billingService) CreateCheckoutSession(ctx context.Context, accountID string, annual bool) (*billing.CheckoutSession, error) {
	account, err := getAccount(ctx, s.external, s.accounts, accountID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return nil, err
	}

	trialDays := account.TrialPeriod
	if trialDays <= 0 {
		trialDays = s.cfg.trialDays(false)
	}
	start := s.now().UTC()
	params := billing.CheckoutParams{
		AccountID:  accountID,
		CustomerID: customerID,
		PriceID:    s.cfg.priceID(annual),
		TrialDays:  trialDays,
		TrialStart: start,
		TrialEnd:   start.AddDate(0, 0, trialDays),
	}
	if params.PriceID == "" {
		return nil, newValidationError("priceId", "is not configured")
	}

	var session *billing.CheckoutSession
	err = s.external.do(ctx, "stripe", "create_checkout_session", func(ctx context.Context) error {
		var err error
		session, err = s.billing.CreateSubscriptionCheckout(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CreatePaymentMethodSession opens a setup-mode checkout for saving a card.
func (s *billingService) CreatePaymentMethodSession(ctx context.Context, accountID string) (*billing.CheckoutSession, error) {
	account, err := getAccount(ctx, s.external, s.accounts, accountID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return nil, err
	}

	var session *billing.CheckoutSession
	err = s.external.do(ctx, "stripe", "create_setup_session", func(ctx context.Context) error {
		var err error
		session, err = s.billing.CreateSetupCheckout(ctx, accountID, customerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ConfirmPaymentMethod records the card saved by a finished setup session and makes it the default.
func (s *billingService) ConfirmPaymentMethod(ctx context.Context, accountID, sessionID string) (*models.PaymentMethod, error) {
	if sessionID == "" {
		return nil, newValidationError("sessionId", "is required")
	}
	account, err := getAccount(ctx, s.external, s.accounts, accountID)
	if err != nil {
		return nil, err
	}
	if account.StripeCustomerID == "" {
		return nil, ErrBillingNotLinked
	}

	var setup *billing.SetupSession
	err = s.external.do(ctx, "stripe", "get_setup_session", func(ctx context.Context) error {
		var err error
		setup, err = s.billing.GetSetupSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if setup.AccountID != "" && setup.AccountID != accountID {
		return nil, newValidationError("sessionId", "belongs to another account")
	}

	var pm *models.PaymentMethod
	err = s.external.do(ctx, "stripe", "resolve_payment_method", func(ctx context.Context) error {
		var err error
		pm, err = s.billing.ResolveSetupPaymentMethod(ctx, setup, account.StripeCustomerID)
		return err
	})
	if err != nil {
		if errors.Is(err, billing.ErrNoPaymentMethod) {
			return nil, ErrNoPaymentMethod
		}
		return nil, err
	}

	methods := make([]models.PaymentMethod, 0, len(account.PaymentMethods)+1)
	for _, m := range account.PaymentMethods {
		if m.StripePaymentMethodID != pm.StripePaymentMethodID {
			methods = append(methods, m)
		}
	}
	methods = append(methods, *pm)

	err = s.external.do(ctx, "firestore", "save_payment_method", func(ctx context.Context) error {
		return s.accounts.UpdateFields(ctx, accountID, map[string]interface{}{
			"paymentMethods":       methods,
			"defaultPaymentMethod": pm.StripePaymentMethodID,
		})
	})
	if err != nil {
		return nil, notFoundAs(err, ErrAccountNotFound)
	}
	s.logger.Info("Payment method saved",
		zap.String("account_id", accountID),
		zap.String("brand", pm.Brand))
	return pm, nil
}

// DeletePaymentMethod detaches one of the account's own cards.
func (s *billingService) DeletePaymentMethod(ctx context.Context, accountID, paymentMethodID string) error {
	if paymentMethodID == "" {
		return newValidationError("paymentMethodId", "is required")
	}
	account, err := getAccount(ctx, s.external, s.accounts, accountID)
	if err != nil {
		return err
	}

	remaining := make([]models.PaymentMethod, 0, len(account.PaymentMethods))
	owned := false
	for _, m := range account.PaymentMethods {
		if m.StripePaymentMethodID == paymentMethodID {
			owned = true
			continue
		}
		remaining = append(remaining, m)
	}
	if !owned {
		return fmt.Errorf("%w: %s", ErrPaymentMethodNotFound, paymentMethodID)
	}

	err = s.external.do(ctx, "stripe", "detach_payment_method", func(ctx context.Context) error {
		return s.billing.DetachPaymentMethod(ctx, paymentMethodID)
	})
	if err != nil {
		return err
	}

	fields := map[string]interface{}{"paymentMethods": remaining}
	if account.DefaultPaymentMethod == paymentMethodID {
		fields["defaultPaymentMethod"] = nil
	}
	err = s.external.do(ctx, "firestore", "remove_payment_method", func(ctx context.Context) error {
		return s.accounts.UpdateFields(ctx, accountID, fields)
	})
	return notFoundAs(err, ErrAccountNotFound)
}

// CreatePortalSession returns a customer portal link for an account linked to Stripe.
func (s *billingService) CreatePortalSession(ctx context.Context, accountID string) (string, error) {
	account, err := getAccount(ctx, s.external, s.accounts, accountID)
	if err != nil {
		return "", err
	}
	if account.StripeCustomerID == "" {
		return "", ErrBillingNotLinked
	}
	var url string
	err = s.external.do(ctx, "stripe", "create_portal_session", func(ctx context.Context) error {
		var err error
		url, err = s.billing.CreatePortalSession(ctx, account.StripeCustomerID)
		return err
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// ensureCustomer returns the account's Stripe customer, creating and saving one on first use.
func (s *billingService) ensureCustomer(ctx context.Context, account *models.Account) (string, error) {
	if account.StripeCustomerID != "" {
		return account.StripeCustomerID, nil
	}
	var customerID string
	err := s.external.do(ctx, "stripe", "create_customer", func(ctx context.Context) error {
		var err error
		customerID, err = s.billing.CreateCustomer(ctx, account.ID, account.Email, account.FullName)
		return err
	})
	if err != nil {
		return "", err
	}
	err = s.external.do(ctx, "firestore", "save_customer", func(ctx context.Context) error {
		return s.accounts.UpdateFields(ctx, account.ID, map[string]interface{}{"stripeCustomerId": customerID})
	})
	if err != nil {
		return "", notFoundAs(err, ErrAccountNotFound)
	}
	account.StripeCustomerID = customerID
	s.logger.Info("Billing customer created", zap.String("account_id", account.ID))
	return customerID, nil
}
