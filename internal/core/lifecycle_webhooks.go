package core

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"nuvex-backend-go/internal/billing"
	"nuvex-backend-go/internal/db"
	"nuvex-backend-go/internal/models"
)

// HandleWebhook verifies and applies one billing event. The signature is checked
// before anything else is read. Each event ID is claimed in the ledger first, so a
// redelivered event is acknowledged without touching the account again. A failed
// event releases its claim and returns an error, which makes the processor retry.
func (s *lifecycleService) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	ev, err := s.billing.ParseWebhook(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			s.metrics.RecordWebhookEvent("unknown", "invalid_signature")
			return nil, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
		}
		s.metrics.RecordWebhookEvent("unknown", "malformed")
		return nil, newValidationError("payload", err.Error())
	}

	result := &WebhookResult{EventID: ev.ID, EventType: ev.Type}
	log := s.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	claimed := s.claim(ctx, ev.ID, log)
	if !claimed {
		result.Outcome = OutcomeDuplicate
		s.metrics.RecordWebhookEvent(ev.Type, OutcomeDuplicate)
		log.Info("Duplicate webhook event acknowledged")
		return result, nil
	}

	handled, err := s.dispatchEvent(ctx, ev, log)
	if err != nil {
		s.release(ctx, ev.ID, log)
		s.metrics.RecordWebhookEvent(ev.Type, "error")
		log.Error("Webhook event failed", zap.Error(err))
		return nil, err
	}
	s.complete(ctx, ev.ID, log)

	result.Outcome = OutcomeProcessed
	if !handled {
		result.Outcome = OutcomeIgnored
	}
	s.metrics.RecordWebhookEvent(ev.Type, result.Outcome)
	return result, nil
}

func (s *lifecycleService) dispatchEvent(ctx context.Context, ev *billing.Event, log *zap.Logger) (bool, error) {
	switch ev.Type {
	case billing.EventCheckoutSessionCompleted:
		if ev.Checkout == nil || ev.Checkout.Mode != billing.CheckoutModeSubscription {
			return false, nil
		}
		return s.onCheckoutCompleted(ctx, ev.Checkout, log)
	case billing.EventInvoicePaymentSucceeded:
		if ev.Invoice == nil || ev.Invoice.BillingReason != billing.BillingReasonSubscriptionCycle {
			return false, nil
		}
		return s.onSubscriptionCyclePaid(ctx, ev.Invoice, log)
	case billing.EventSubscriptionTrialWillEnd:
		if ev.Subscription == nil {
			return false, nil
		}
		return s.onTrialWillEnd(ctx, ev.Subscription, log)
	default:
		return false, nil
	}
}

// onCheckoutCompleted links the new subscription and takes the trial window from it.
// A session whose account no longer exists is ignored.
func (s *lifecycleService) onCheckoutCompleted(ctx context.Context, c *billing.CheckoutCompleted, log *zap.Logger) (bool, error) {
	if c.SubscriptionID == "" {
		return false, newValidationError("subscription", "missing on completed checkout session")
	}
	account, err := s.resolveCheckoutAccount(ctx, c)
	if errors.Is(err, ErrAccountNotFound) {
		log.Warn("No account for completed checkout",
			zap.String("session_id", c.SessionID),
			zap.String("account_id", c.AccountID),
			zap.String("customer_id", c.CustomerID))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var sub *billing.Subscription
	err = s.external.do(ctx, "stripe", "get_subscription", func(ctx context.Context) error {
		var err error
		sub, err = s.billing.GetSubscription(ctx, c.SubscriptionID)
		return err
	})
	if err != nil {
		return false, err
	}

	fields := map[string]interface{}{
		"stripeSubscriptionId": sub.ID,
		"planName":             s.cfg.PlanName,
		"autoBilling":          true,
	}
	if c.CustomerID != "" {
		fields["stripeCustomerId"] = c.CustomerID
	}
	if sub.PriceID != "" {
		fields["planId"] = sub.PriceID
	}
	to := account.Status
	if !sub.TrialEnd.IsZero() {
		to = models.StatusTrial
		fields["status"] = models.StatusTrial
		fields["trialStart"] = sub.TrialStart
		fields["trialEnd"] = sub.TrialEnd
		fields["planEndDate"] = sub.TrialEnd
	}

	err = s.external.do(ctx, "firestore", "link_subscription", func(ctx context.Context) error {
		return s.accounts.UpdateFields(ctx, account.ID, fields)
	})
	if err != nil {
		return false, notFoundAs(err, ErrAccountNotFound)
	}
	s.recordTransition(account.ID, account.Status, to)
	log.Info("Subscription linked", zap.String("account_id", account.ID), zap.String("subscription_id", sub.ID))
	return true, nil
}

func (s *lifecycleService) resolveCheckoutAccount(ctx context.Context, c *billing.CheckoutCompleted) (*models.Account, error) {
	if c.AccountID != "" {
		return getAccount(ctx, s.external, s.accounts, c.AccountID)
	}
	if c.CustomerID == "" {
		return nil, fmt.Errorf("%w: checkout session %s carries no account reference", ErrAccountNotFound, c.SessionID)
	}
	var account *models.Account
	err := s.external.do(ctx, "firestore", "find_by_customer", func(ctx context.Context) error {
		var err error
		account, err = s.accounts.FindByCustomerID(ctx, c.CustomerID)
		return err
	})
	if err != nil {
		return nil, notFoundAs(err, ErrAccountNotFound)
	}
	return account, nil
}

// onSubscriptionCyclePaid activates the account for the paid period and logs the
// payment. The invoice id is the transaction reference, so a second delivery of the
// same invoice never appends a second entry.
func (s *lifecycleService) onSubscriptionCyclePaid(ctx context.Context, inv *billing.InvoicePaid, log *zap.Logger) (bool, error) {
	account, found, err := s.findBySubscription(ctx, inv.SubscriptionID)
	if err != nil {
		return false, err
	}
	if !found {
		log.Warn("No account for paid subscription", zap.String("subscription_id", inv.SubscriptionID))
		return false, nil
	}

	var sub *billing.Subscription
	err = s.external.do(ctx, "stripe", "get_subscription", func(ctx context.Context) error {
		var err error
		sub, err = s.billing.GetSubscription(ctx, inv.SubscriptionID)
		return err
	})
	if err != nil {
		return false, err
	}

	fields := map[string]interface{}{
		"status":        models.StatusActive,
		"trialEnd":      nil,
		"planStartDate": sub.CurrentPeriodStart,
		"planEndDate":   sub.CurrentPeriodEnd,
	}
	txn := &models.Transaction{
		Date:        s.now().UTC().Format("2006-01-02"),
		Description: "Assinatura " + s.cfg.PlanName,
		Amount:      billing.FormatBRL(inv.AmountPaid),
		Status:      models.TransactionStatusCompleted,
		Reference:   inv.InvoiceID,
	}
	if err := s.updateBilling(ctx, account.ID, fields, txn); err != nil {
		return false, err
	}
	s.recordTransition(account.ID, account.Status, models.StatusActive)
	log.Info("Subscription payment recorded",
		zap.String("account_id", account.ID),
		zap.String("invoice_id", inv.InvoiceID),
		zap.Int64("amount_paid", inv.AmountPaid))
	return true, nil
}

// onTrialWillEnd only sends a reminder. It never changes account state, so a failed
// lookup is logged and the event is not retried.
func (s *lifecycleService) onTrialWillEnd(ctx context.Context, ev *billing.SubscriptionEvent, log *zap.Logger) (bool, error) {
	account, found, err := s.findBySubscription(ctx, ev.SubscriptionID)
	if err != nil {
		log.Warn("Trial reminder skipped, account lookup failed",
			zap.String("subscription_id", ev.SubscriptionID),
			zap.Error(err))
		return false, nil
	}
	if !found {
		log.Warn("No account for subscription ending its trial", zap.String("subscription_id", ev.SubscriptionID))
		return false, nil
	}
	trialEnd := ev.TrialEnd
	if trialEnd.IsZero() && account.TrialEnd != nil {
		trialEnd = *account.TrialEnd
	}
	if s.notifier != nil {
		s.notifier.NotifyTrialEnding(account.ID, trialEnd)
	}
	return true, nil
}

func (s *lifecycleService) findBySubscription(ctx context.Context, subscriptionID string) (*models.Account, bool, error) {
	if subscriptionID == "" {
		return nil, false, nil
	}
	var account *models.Account
	err := s.external.do(ctx, "firestore", "find_by_subscription", func(ctx context.Context) error {
		var err error
		account, err = s.accounts.FindBySubscriptionID(ctx, subscriptionID)
		return err
	})
	if errors.Is(err, db.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return account, true, nil
}

// claim returns true when the event should be processed. If the ledger is
// unreachable the event is processed anyway; the transaction reference check still
// keeps invoice handling idempotent.
func (s *lifecycleService) claim(ctx context.Context, eventID string, log *zap.Logger) bool {
	if s.ledger == nil {
		return true
	}
	claimed, err := s.ledger.Claim(ctx, eventID)
	if err != nil {
		log.Warn("Event ledger unavailable, processing without dedupe", zap.Error(err))
		return true
	}
	return claimed
}

func (s *lifecycleService) complete(ctx context.Context, eventID string, log *zap.Logger) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Complete(ctx, eventID); err != nil {
		log.Warn("Failed to mark webhook event done", zap.Error(err))
	}
}

func (s *lifecycleService) release(ctx context.Context, eventID string, log *zap.Logger) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Release(ctx, eventID); err != nil {
		log.Warn("Failed to release webhook event claim", zap.Error(err))
	}
}
