package models

import "time"

// AccountStatus is the billing state of an account.
type AccountStatus string

const (
	StatusTrial    AccountStatus = "trial"
	StatusActive   AccountStatus = "active"
	StatusExpired  AccountStatus = "expired"
	StatusInactive AccountStatus = "inactive"
)

// TransactionStatusCompleted is the only status ever written to the transaction log.
const TransactionStatusCompleted = "Concluído"

// Account is one tenant. The Firebase Auth UID is the document ID.
type Account struct {
	ID                   string          `json:"id" firestore:"-"`
	Email                string          `json:"email" firestore:"email"`
	FullName             string          `json:"fullName" firestore:"fullName"`
	Role                 string          `json:"role,omitempty" firestore:"role,omitempty"`
	Status               AccountStatus   `json:"status" firestore:"status"`
	TrialPeriod          int             `json:"trialPeriod" firestore:"trialPeriod"`
	TrialStart           *time.Time      `json:"trialStart,omitempty" firestore:"trialStart"`
	TrialEnd             *time.Time      `json:"trialEnd,omitempty" firestore:"trialEnd"`
	PlanName             string          `json:"planName,omitempty" firestore:"planName"`
	PlanID               string          `json:"planId,omitempty" firestore:"planId"`
	PlanStartDate        *time.Time      `json:"planStartDate,omitempty" firestore:"planStartDate"`
	PlanEndDate          *time.Time      `json:"planEndDate,omitempty" firestore:"planEndDate"`
	PlanDurationDays     int             `json:"planDurationDays,omitempty" firestore:"planDurationDays"`
	AutoBilling          bool            `json:"autoBilling" firestore:"autoBilling"`
	StorageUsed          int64           `json:"storageUsed" firestore:"storageUsed"`
	StripeCustomerID     string          `json:"stripeCustomerId,omitempty" firestore:"stripeCustomerId"`
	StripeSubscriptionID string          `json:"stripeSubscriptionId,omitempty" firestore:"stripeSubscriptionId"`
	DefaultPaymentMethod string          `json:"defaultPaymentMethod,omitempty" firestore:"defaultPaymentMethod"`
	PaymentMethods       []PaymentMethod `json:"paymentMethods,omitempty" firestore:"paymentMethods"`
	Transactions         []Transaction   `json:"transactions,omitempty" firestore:"transactions"`
	CreatedAt            time.Time       `json:"createdAt" firestore:"createdAt"`
}

// Transaction is one entry of the append-only billing log.
// Reference carries the external id (invoice, subscription) the entry was derived
// from; it is what keeps a redelivered invoice from being logged twice.
type Transaction struct {
	Date        string `json:"date" firestore:"date"`
	Description string `json:"description" firestore:"description"`
	Amount      string `json:"amount" firestore:"amount"`
	Status      string `json:"status" firestore:"status"`
	Reference   string `json:"reference,omitempty" firestore:"reference,omitempty"`
}

// PaymentMethod is the card summary kept on the account.
type PaymentMethod struct {
	StripePaymentMethodID string `json:"stripePaymentMethodId" firestore:"stripePaymentMethodId"`
	Brand                 string `json:"brand" firestore:"brand"`
	CardNumber            string `json:"cardNumber" firestore:"cardNumber"`
	ExpiryDate            string `json:"expiryDate" firestore:"expiryDate"`
}

// HasTransaction reports whether an entry with the given reference is already logged.
func (a *Account) HasTransaction(reference string) bool {
	if reference == "" {
		return false
	}
	for _, t := range a.Transactions {
		if t.Reference == reference {
			return true
		}
	}
	return false
}
