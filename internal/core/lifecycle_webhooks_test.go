package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuvex-backend-go/internal/billing"
	"nuvex-backend-go/internal/models"
)

func invoiceEvent(eventID, invoiceID, subID string, amount int64) *billing.Event {
	return &billing.Event{
		ID:   eventID,
		Type: billing.EventInvoicePaymentSucceeded,
		Invoice: &billing.InvoicePaid{
			InvoiceID:      invoiceID,
			BillingReason:  billing.BillingReasonSubscriptionCycle,
			AmountPaid:     amount,
			Currency:       "brl",
			SubscriptionID: subID,
		},
	}
}

func periodSubscription(id string) *billing.Subscription {
	return &billing.Subscription{
		ID:                 id,
		Status:             "active",
		CurrentPeriodStart: testNow,
		CurrentPeriodEnd:   testNow.AddDate(0, 1, 0),
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f := newLifecycleFixture(t, &models.Account{ID: "acc1", Status: models.StatusTrial, StripeSubscriptionID: "sub_1"})
	f.billing.events["evt"] = invoiceEvent("evt_1", "in_1", "sub_1", 4990)

	_, err := f.svc.HandleWebhook(context.Background(), []byte("evt"), "forged")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWebhookSignature))
	assert.Equal(t, models.StatusTrial, f.accounts.get("acc1").Status)
	assert.Empty(t, f.ledger.state)
}

func TestHandleWebhookMalformedPayload(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.svc.HandleWebhook(context.Background(), []byte("garbage"), "valid")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestHandleWebhookCheckoutCompletedStartsTrialFromSubscription(t *testing.T) {
	f := newLifecycleFixture(t, &models.Account{ID: "acc1", Status: models.StatusExpired})
	trialStart := testNow
	trialEnd := testNow.AddDate(0, 0, 7)
	f.billing.subscriptions["sub_1"] = &billing.Subscription{ID: "sub_1", PriceID: "price_monthly", TrialStart: trialStart, TrialEnd: trialEnd}
	f.billing.events["checkout"] = &billing.Event{
		ID:   "evt_checkout",
		Type: billing.EventCheckoutSessionCompleted,
		Checkout: &billing.CheckoutCompleted{
			SessionID:      "cs_1",
			Mode:           billing.CheckoutModeSubscription,
			AccountID:      "acc1",
			CustomerID:     "cus_1",
			SubscriptionID: "sub_1",
		},
	}

	res, err := f.svc.HandleWebhook(context.Background(), []byte("checkout"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	stored := f.accounts.get("acc1")
	assert.Equal(t, models.StatusTrial, stored.Status)
	assert.Equal(t, "sub_1", stored.StripeSubscriptionID)
	assert.Equal(t, "cus_1", stored.StripeCustomerID)
	assert.Equal(t, trialEnd, *stored.TrialEnd)
	assert.Equal(t, trialEnd, *stored.PlanEndDate)
	assert.True(t, stored.AutoBilling)
	assert.Equal(t, "done", f.ledger.state["evt_checkout"])
}

func TestHandleWebhookSetupCheckoutIgnored(t *testing.T) {
	f := newLifecycleFixture(t, &models.Account{ID: "acc1", Status: models.StatusTrial})
	f.billing.events["setup"] = &billing.Event{
		ID:       "evt_setup",
		Type:     billing.EventCheckoutSessionCompleted,
		Checkout: &billing.CheckoutCompleted{Mode: billing.CheckoutModeSetup, AccountID: "acc1"},
	}

	res, err := f.svc.HandleWebhook(context.Background(), []byte("setup"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Zero(t, f.accounts.updates)
}

func TestHandleWebhookInvoiceDoubleDeliveryAppendsOnce(t *testing.T) {
	f := newLifecycleFixture(t, &models.Account{ID: "acc1", Status: models.StatusTrial, TrialEnd: at(testNow), StripeSubscriptionID: "sub_1"})
	f.billing.subscriptions["sub_1"] = periodSubscription("sub_1")
	f.billing.events["invoice"] = invoiceEvent("evt_1", "in_1", "sub_1", 4990)

	first, err := f.svc.HandleWebhook(context.Background(), []byte("invoice"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, first.Outcome)

	second, err := f.svc.HandleWebhook(context.Background(), []byte("invoice"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	stored := f.accounts.get("acc1")
	require.Len(t, stored.Transactions, 1)
	assert.Equal(t, "Assinatura Adamantium", stored.Transactions[0].Description)
	assert.Equal(t, "R$ 49,90", stored.Transactions[0].Amount)
	assert.Equal(t, models.TransactionStatusCompleted, stored.Transactions[0].Status)
	assert.Equal(t, "in_1", stored.Transactions[0].Reference)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Nil(t, stored.TrialEnd)
}

func TestHandleWebhookInvoiceRedeliveredWithNewEventIDAppendsOnce(t *testing.T) {
	f := newLifecycleFixture(t, &models.Account{ID: "acc1", Status: models.StatusActive, StripeSubscriptionID: "sub_1"})
	f.billing.subscriptions["sub_1"] = periodSubscription("sub_1")
	f.billing.events["a"] = invoiceEvent("evt_a", "in_1", "sub_1", 4990)
	f.billing.events["b"] = invoiceEvent("evt_b", "in_1", "sub_1", 4990)

	_, err := f.svc.HandleWebhook(context.Background(), []byte("a"), "valid")
	require.NoError(t, err)
	_, err = f.svc.HandleWebhook(context.Background(), []byte("b"), "valid")
	require.NoError(t, err)

	assert.Len(t, f.accounts.get("acc1").Transactions, 1)
}

func TestHandleWebhookLedgerDownStillDedupesByReference(t *testing.T) {
	f := newLifecycleFixture(t, &models.Account{ID: "acc1", Status: models.StatusActive, StripeSubscriptionID: "sub_1"})
	f.ledger.claimErr = errBoom
	f.billing.subscriptions["sub_1"] = periodSubscription("sub_1")
	f.billing.events["invoice"] = invoiceEvent("evt_1", "in_1", "sub_1", 4990)

	for i := 0; i < 2; i++ {
		res, err := f.svc.HandleWebhook(context.Background(), []byte("invoice"), "valid")
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, res.Outcome)
	}
	assert.Len(t, f.accounts.get("acc1").Transactions, 1)
}

func TestHandleWebhookFailureReleasesClaim(t *testing.T) {
	f := newLifecycleFixture(t, &models.Account{ID: "acc1", Status: models.StatusTrial, StripeSubscriptionID: "sub_1"})
	f.billing.events["invoice"] = invoiceEvent("evt_1", "in_1", "sub_1", 4990)
	f.billing.errs["GetSubscription"] = errBoom

	_, err := f.svc.HandleWebhook(context.Background(), []byte("invoice"), "valid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExternalDependency))
	_, claimed := f.ledger.state["evt_1"]
	assert.False(t, claimed, "a failed event must be retryable")

	delete(f.billing.errs, "GetSubscription")
	f.billing.subscriptions["sub_1"] = periodSubscription("sub_1")
	res, err := f.svc.HandleWebhook(context.Background(), []byte("invoice"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Len(t, f.accounts.get("acc1").Transactions, 1)
}

func TestHandleWebhookInvoiceForUnknownSubscriptionIgnored(t *testing.T) {
	f := newLifecycleFixture(t)
	f.billing.events["invoice"] = invoiceEvent("evt_1", "in_1", "sub_unknown", 4990)

	res, err := f.svc.HandleWebhook(context.Background(), []byte("invoice"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}

func TestHandleWebhookTrialWillEndNotifiesOnly(t *testing.T) {
	f := newLifecycleFixture(t, &models.Account{ID: "acc1", Status: models.StatusTrial, StripeSubscriptionID: "sub_1"})
	f.billing.events["trial"] = &billing.Event{
		ID:           "evt_trial",
		Type:         billing.EventSubscriptionTrialWillEnd,
		Subscription: &billing.SubscriptionEvent{SubscriptionID: "sub_1", TrialEnd: testNow.AddDate(0, 0, 3)},
	}

	res, err := f.svc.HandleWebhook(context.Background(), []byte("trial"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, []string{"trial:acc1"}, f.notifier.list())
	assert.Zero(t, f.accounts.updates)
}

func TestHandleWebhookTrialWillEndLookupFailureIgnored(t *testing.T) {
	f := newLifecycleFixture(t, &models.Account{ID: "acc1", Status: models.StatusTrial, StripeSubscriptionID: "sub_1"})
	f.accounts.failOn("FindBySubscriptionID", errBoom)
	f.billing.events["trial"] = &billing.Event{
		ID:           "evt_trial",
		Type:         billing.EventSubscriptionTrialWillEnd,
		Subscription: &billing.SubscriptionEvent{SubscriptionID: "sub_1", TrialEnd: testNow.AddDate(0, 0, 3)},
	}

	res, err := f.svc.HandleWebhook(context.Background(), []byte("trial"), "valid")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Empty(t, f.notifier.list())
	assert.Equal(t, "done", f.ledger.state["evt_trial"])
}

func TestHandleWebhookCheckoutForMissingAccountIgnored(t *testing.T) {
	tests := []struct {
		name     string
		checkout *billing.CheckoutCompleted
	}{
		{
			name:     "deleted account",
			checkout: &billing.CheckoutCompleted{SessionID: "cs_1", AccountID: "acc_gone", CustomerID: "cus_1", SubscriptionID: "sub_1"},
		},
		{
			name:     "unknown customer",
			checkout: &billing.CheckoutCompleted{SessionID: "cs_2", CustomerID: "cus_unknown", SubscriptionID: "sub_1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLifecycleFixture(t, &models.Account{ID: "acc1", Status: models.StatusTrial, StripeCustomerID: "cus_1"})
			f.billing.subscriptions["sub_1"] = &billing.Subscription{ID: "sub_1", TrialStart: testNow, TrialEnd: testNow.AddDate(0, 0, 7)}
			tt.checkout.Mode = billing.CheckoutModeSubscription
			f.billing.events["checkout"] = &billing.Event{ID: "evt_checkout", Type: billing.EventCheckoutSessionCompleted, Checkout: tt.checkout}

			res, err := f.svc.HandleWebhook(context.Background(), []byte("checkout"), "valid")
			require.NoError(t, err)
			assert.Equal(t, OutcomeIgnored, res.Outcome)
			assert.Zero(t, f.accounts.updates)
			assert.Equal(t, "done", f.ledger.state["evt_checkout"])
		})
	}
}

func TestTrialToActiveEndToEnd(t *testing.T) {
	f := newLifecycleFixture(t)
	signup := testNow
	f.svc.now = func() time.Time { return signup }

	require.NoError(t, f.svc.StartTrial(context.Background(), &models.Account{ID: "acc1", Email: "a@example.com"}, false))
	assert.Equal(t, signup.AddDate(0, 0, 7), *f.accounts.get("acc1").TrialEnd)

	f.svc.now = func() time.Time { return signup.AddDate(0, 0, 8) }
	account, err := f.svc.CheckTrialExpiration(context.Background(), "acc1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, account.Status)

	require.NoError(t, f.accounts.UpdateFields(context.Background(), "acc1", map[string]interface{}{
		"stripeCustomerId":     "cus_1",
		"defaultPaymentMethod": "pm_1",
	}))
	account, err = f.svc.ActivatePlan(context.Background(), "acc1", false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, account.Status)
	assert.Equal(t, signup.AddDate(0, 0, 8+30), *account.PlanEndDate)
	assert.Len(t, f.accounts.get("acc1").Transactions, 1)
}
