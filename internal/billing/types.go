package billing

import "time"

// Event types the lifecycle reacts to.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventSubscriptionTrialWillEnd = "customer.subscription.trial_will_end"

	BillingReasonSubscriptionCycle = "subscription_cycle"
	CheckoutModeSubscription       = "subscription"
	CheckoutModeSetup              = "setup"

	IntervalMonth = "month"
	IntervalYear  = "year"

	// MetadataAccountID is the metadata key linking Stripe objects to an account.
	MetadataAccountID = "userId"
)

// Event is a verified webhook event with the payload of the types we handle decoded.
type Event struct {
	ID   string
	Type string

	Checkout     *CheckoutCompleted
	Invoice      *InvoicePaid
	Subscription *SubscriptionEvent
}

// CheckoutCompleted is the data of checkout.session.completed.
type CheckoutCompleted struct {
	SessionID      string
	Mode           string
	AccountID      string
	CustomerID     string
	SubscriptionID string
}

// InvoicePaid is the data of invoice.payment_succeeded.
type InvoicePaid struct {
	InvoiceID      string
	BillingReason  string
	AmountPaid     int64
	Currency       string
	CustomerID     string
	SubscriptionID string
}

// SubscriptionEvent is the data of customer.subscription.* events.
type SubscriptionEvent struct {
	SubscriptionID string
	CustomerID     string
	TrialEnd       time.Time
}

// Subscription is the subset of a Stripe subscription the lifecycle reads.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	TrialStart         time.Time
	TrialEnd           time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// Price is a catalog price with its product.
type Price struct {
	ID                 string   `json:"id"`
	Recurring          bool     `json:"recurring"`
	Interval           string   `json:"interval,omitempty"`
	UnitAmount         int64    `json:"price"`
	Currency           string   `json:"currency"`
	ProductID          string   `json:"productId,omitempty"`
	ProductName        string   `json:"name"`
	ProductDescription string   `json:"description"`
	Benefits           []string `json:"benefits"`
}

// CheckoutParams describes a subscription-mode checkout session.
type CheckoutParams struct {
	AccountID  string
	CustomerID string
	PriceID    string
	TrialDays  int
	TrialStart time.Time
	TrialEnd   time.Time
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a created hosted checkout page.
type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url,omitempty"`
}

// SetupSession is a completed setup-mode checkout session.
type SetupSession struct {
	ID            string
	AccountID     string
	SetupIntentID string
}
