package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"nuvex-backend-go/internal/models"
)

// ErrInvalidSignature is returned when a webhook payload fails signature verification.
var ErrInvalidSignature = errors.New("stripe webhook signature verification failed")

// ErrNoPaymentMethod is returned when a setup session finished without a card.
var ErrNoPaymentMethod = errors.New("no payment method attached to setup session")

// StripeProvider talks to the Stripe API through an explicitly constructed client.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	clientURL     string
}

// StripeConfig holds the settings for NewStripeProvider.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	ClientURL     string
	// HTTPTimeout bounds each HTTP round trip to Stripe.
	HTTPTimeout time.Duration
	// Backends overrides the API backends; tests point it at an httptest server.
	Backends *stripe.Backends
}

// NewStripeProvider creates a provider with its own Stripe client. Nothing is set on
// the stripe package globals.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key cannot be empty")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret cannot be empty")
	}
	backends := cfg.Backends
	if backends == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		backends = stripe.NewBackends(&http.Client{Timeout: timeout})
	}
	return &StripeProvider{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		clientURL:     cfg.ClientURL,
	}, nil
}

// CreateCustomer creates a Stripe customer tagged with the account ID.
func (p *StripeProvider) CreateCustomer(ctx context.Context, accountID, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.AddMetadata(MetadataAccountID, accountID)

	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return c.ID, nil
}

// CreateSubscriptionCheckout creates a subscription-mode checkout session with a trial.
func (p *StripeProvider) CreateSubscriptionCheckout(ctx context.Context, in CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Params:                   stripe.Params{Context: ctx},
		Customer:                 stripe.String(in.CustomerID),
		ClientReferenceID:        stripe.String(in.AccountID),
		Mode:                     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes:       stripe.StringSlice([]string{"card"}),
		BillingAddressCollection: stripe.String("required"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataAccountID: in.AccountID,
				"trialStart":      in.TrialStart.UTC().Format(time.RFC3339),
				"trialEnd":        in.TrialEnd.UTC().Format(time.RFC3339),
			},
		},
		SuccessURL: stripe.String(p.urlOr(in.SuccessURL, "/dashboard?success=true&session_id={CHECKOUT_SESSION_ID}")),
		CancelURL:  stripe.String(p.urlOr(in.CancelURL, "/billing?canceled=true")),
	}
	if in.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(in.TrialDays))
	}
	params.AddMetadata(MetadataAccountID, in.AccountID)

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// CreateSetupCheckout creates a setup-mode checkout session for saving a card.
func (p *StripeProvider) CreateSetupCheckout(ctx context.Context, accountID, customerID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Params:             stripe.Params{Context: ctx},
		Customer:           stripe.String(customerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSetup)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(p.clientURL + "/billing?success=true&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:          stripe.String(p.clientURL + "/billing?cancel=true"),
	}
	params.AddMetadata(MetadataAccountID, accountID)

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create setup session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// CreatePortalSession creates a customer portal session and returns its URL.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	s, err := p.api.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(p.clientURL + "/billing"),
	})
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return s.URL, nil
}

// GetSetupSession retrieves a setup-mode checkout session.
func (p *StripeProvider) GetSetupSession(ctx context.Context, sessionID string) (*SetupSession, error) {
	s, err := p.api.CheckoutSessions.Get(sessionID, &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	out := &SetupSession{ID: s.ID, AccountID: s.Metadata[MetadataAccountID]}
	if s.SetupIntent != nil {
		out.SetupIntentID = s.SetupIntent.ID
	}
	return out, nil
}

// ResolveSetupPaymentMethod finds the card saved by a setup session, attaches it to the
// customer and makes it the default for invoices. Without a setup intent the most
// recently added card of the customer is used.
func (p *StripeProvider) ResolveSetupPaymentMethod(ctx context.Context, setup *SetupSession, customerID string) (*models.PaymentMethod, error) {
	var pm *stripe.PaymentMethod
	if setup.SetupIntentID != "" {
		si, err := p.api.SetupIntents.Get(setup.SetupIntentID, &stripe.SetupIntentParams{Params: stripe.Params{Context: ctx}})
		if err != nil {
			return nil, fmt.Errorf("get setup intent: %w", err)
		}
		if si.PaymentMethod == nil || si.PaymentMethod.ID == "" {
			return nil, ErrNoPaymentMethod
		}
		pm, err = p.api.PaymentMethods.Get(si.PaymentMethod.ID, &stripe.PaymentMethodParams{Params: stripe.Params{Context: ctx}})
		if err != nil {
			return nil, fmt.Errorf("get payment method: %w", err)
		}
		if pm.Customer == nil || pm.Customer.ID != customerID {
			pm, err = p.api.PaymentMethods.Attach(pm.ID, &stripe.PaymentMethodAttachParams{
				Params:   stripe.Params{Context: ctx},
				Customer: stripe.String(customerID),
			})
			if err != nil {
				return nil, fmt.Errorf("attach payment method: %w", err)
			}
		}
		_, err = p.api.Customers.Update(customerID, &stripe.CustomerParams{
			Params: stripe.Params{Context: ctx},
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(pm.ID),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("set default payment method: %w", err)
		}
	} else {
		params := &stripe.PaymentMethodListParams{
			Customer: stripe.String(customerID),
			Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
		}
		params.Context = ctx
		params.Limit = stripe.Int64(1)
		iter := p.api.PaymentMethods.List(params)
		if iter.Next() {
			pm = iter.PaymentMethod()
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("list payment methods: %w", err)
		}
		if pm == nil {
			return nil, ErrNoPaymentMethod
		}
	}
	return toPaymentMethod(pm), nil
}

// DetachPaymentMethod removes a card from its customer.
func (p *StripeProvider) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	_, err := p.api.PaymentMethods.Detach(paymentMethodID, &stripe.PaymentMethodDetachParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return fmt.Errorf("detach payment method: %w", err)
	}
	return nil
}

// CreateSubscription subscribes the customer to priceID, charging paymentMethodID.
func (p *StripeProvider) CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		DefaultPaymentMethod: stripe.String(paymentMethodID),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			PaymentMethodTypes:       stripe.StringSlice([]string{"card"}),
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	s, err := p.api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return toSubscription(s), nil
}

// CancelSubscription cancels a subscription immediately.
func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	_, err := p.api.Subscriptions.Cancel(subscriptionID, &stripe.SubscriptionCancelParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	s, err := p.api.Subscriptions.Get(subscriptionID, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return toSubscription(s), nil
}

// GetPrice retrieves a price with its product expanded.
func (p *StripeProvider) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	params := &stripe.PriceParams{Params: stripe.Params{Context: ctx}}
	params.AddExpand("product")
	pr, err := p.api.Prices.Get(priceID, params)
	if err != nil {
		return nil, fmt.Errorf("get price: %w", err)
	}
	out := toPrice(pr)
	return &out, nil
}

// ListPlans lists active recurring prices with their products.
func (p *StripeProvider) ListPlans(ctx context.Context) ([]Price, error) {
	params := &stripe.PriceListParams{
		Active: stripe.Bool(true),
		Type:   stripe.String(string(stripe.PriceTypeRecurring)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)
	params.AddExpand("data.product")

	var plans []Price
	iter := p.api.Prices.List(params)
	for iter.Next() {
		plans = append(plans, toPrice(iter.Price()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	return plans, nil
}

// ParseWebhook verifies the signature of a raw webhook body and decodes the
// payload of the event types the lifecycle handles.
func (p *StripeProvider) ParseWebhook(payload []byte, signatureHeader string) (*Event, error) {
	return parseWebhook(payload, signatureHeader, p.webhookSecret)
}

func parseWebhook(payload []byte, signatureHeader, secret string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	switch out.Type {
	case EventCheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", out.Type, err)
		}
		c := &CheckoutCompleted{
			SessionID: s.ID,
			Mode:      string(s.Mode),
			AccountID: s.Metadata[MetadataAccountID],
		}
		if c.AccountID == "" {
			c.AccountID = s.ClientReferenceID
		}
		if s.Customer != nil {
			c.CustomerID = s.Customer.ID
		}
		if s.Subscription != nil {
			c.SubscriptionID = s.Subscription.ID
		}
		out.Checkout = c
	case EventInvoicePaymentSucceeded:
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode %s: %w", out.Type, err)
		}
		i := &InvoicePaid{
			InvoiceID:     inv.ID,
			BillingReason: string(inv.BillingReason),
			AmountPaid:    inv.AmountPaid,
			Currency:      string(inv.Currency),
		}
		if inv.Customer != nil {
			i.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			i.SubscriptionID = inv.Subscription.ID
		}
		out.Invoice = i
	case EventSubscriptionTrialWillEnd:
		var s stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", out.Type, err)
		}
		se := &SubscriptionEvent{SubscriptionID: s.ID, TrialEnd: unixTime(s.TrialEnd)}
		if s.Customer != nil {
			se.CustomerID = s.Customer.ID
		}
		out.Subscription = se
	}
	return out, nil
}

func (p *StripeProvider) urlOr(u, path string) string {
	if u != "" {
		return u
	}
	return p.clientURL + path
}

func toSubscription(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                 s.ID,
		Status:             string(s.Status),
		TrialStart:         unixTime(s.TrialStart),
		TrialEnd:           unixTime(s.TrialEnd),
		CurrentPeriodStart: unixTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(s.CurrentPeriodEnd),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		out.PriceID = s.Items.Data[0].Price.ID
	}
	return out
}

func toPrice(pr *stripe.Price) Price {
	out := Price{
		ID:         pr.ID,
		Recurring:  pr.Type == stripe.PriceTypeRecurring,
		UnitAmount: pr.UnitAmount,
		Currency:   string(pr.Currency),
		Benefits:   []string{},
	}
	if out.Currency == "" {
		out.Currency = "brl"
	}
	if pr.Recurring != nil {
		out.Interval = string(pr.Recurring.Interval)
	}
	if pr.Product != nil {
		out.ProductID = pr.Product.ID
		out.ProductName = pr.Product.Name
		out.ProductDescription = pr.Product.Description
		if raw := pr.Product.Metadata["benefits"]; raw != "" {
			var benefits []string
			if err := json.Unmarshal([]byte(raw), &benefits); err == nil {
				out.Benefits = benefits
			}
		}
	}
	return out
}

func toPaymentMethod(pm *stripe.PaymentMethod) *models.PaymentMethod {
	out := &models.PaymentMethod{StripePaymentMethodID: pm.ID}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.CardNumber = pm.Card.Last4
		out.ExpiryDate = strconv.FormatInt(pm.Card.ExpMonth, 10) + "/" + strconv.FormatInt(pm.Card.ExpYear, 10)
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
