package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"nuvex-backend-go/internal/billing"
	"nuvex-backend-go/internal/db"
	"nuvex-backend-go/internal/identity"
	"nuvex-backend-go/internal/models"
	"nuvex-backend-go/internal/objectstore"
)

var errBoom = errors.New("boom")

// fakeAccounts is an in-memory AccountRepository with the same partial-update and
// atomicity semantics as the Firestore one.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	errs     map[string]error
	stalls   map[string]bool
	updates  int
}

func newFakeAccounts(accounts ...*models.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: map[string]*models.Account{}, errs: map[string]error{}, stalls: map[string]bool{}}
	for _, a := range accounts {
		f.accounts[a.ID] = cloneAccount(a)
	}
	return f
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	c.PaymentMethods = append([]models.PaymentMethod(nil), a.PaymentMethods...)
	c.Transactions = append([]models.Transaction(nil), a.Transactions...)
	return &c
}

func (f *fakeAccounts) get(id string) *models.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil
	}
	return cloneAccount(a)
}

func (f *fakeAccounts) failOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

// stall makes method hang until its context is done, like a store that never answers.
func (f *fakeAccounts) stall(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stalls[method] = true
}

// enter fails calls made on a done context, as the Firestore client does.
func (f *fakeAccounts) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	stalled := f.stalls[method]
	f.mu.Unlock()
	if stalled {
		<-ctx.Done()
	}
	return ctx.Err()
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if err := f.enter(ctx, "GetByID"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["GetByID"]; err != nil {
		return nil, err
	}
	a, ok := f.accounts[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return cloneAccount(a), nil
}

func (f *fakeAccounts) Create(_ context.Context, a *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["Create"]; err != nil {
		return err
	}
	if _, ok := f.accounts[a.ID]; ok {
		return db.ErrAlreadyExists
	}
	f.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (f *fakeAccounts) UpdateFields(_ context.Context, id string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["UpdateFields"]; err != nil {
		return err
	}
	a, ok := f.accounts[id]
	if !ok {
		return db.ErrNotFound
	}
	f.updates++
	return applyFields(a, fields)
}

func (f *fakeAccounts) UpdateBilling(_ context.Context, id string, fields map[string]interface{}, txn *models.Transaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["UpdateBilling"]; err != nil {
		return false, err
	}
	a, ok := f.accounts[id]
	if !ok {
		return false, db.ErrNotFound
	}
	if err := applyFields(a, fields); err != nil {
		return false, err
	}
	f.updates++
	if txn == nil || a.HasTransaction(txn.Reference) {
		return false, nil
	}
	a.Transactions = append(a.Transactions, *txn)
	return true, nil
}

func (f *fakeAccounts) ReserveStorage(ctx context.Context, id string, delta, limit int64) (int64, bool, error) {
	if err := f.enter(ctx, "ReserveStorage"); err != nil {
		return 0, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["ReserveStorage"]; err != nil {
		return 0, false, err
	}
	a, ok := f.accounts[id]
	if !ok {
		return 0, false, db.ErrNotFound
	}
	used := a.StorageUsed
	if used+delta > limit {
		return used, false, nil
	}
	a.StorageUsed = used + delta
	return used, true, nil
}

func (f *fakeAccounts) ReleaseStorage(ctx context.Context, id string, delta int64) (int64, error) {
	if err := f.enter(ctx, "ReleaseStorage"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["ReleaseStorage"]; err != nil {
		return 0, err
	}
	a, ok := f.accounts[id]
	if !ok {
		return 0, db.ErrNotFound
	}
	a.StorageUsed -= delta
	if a.StorageUsed < 0 {
		a.StorageUsed = 0
	}
	return a.StorageUsed, nil
}

func (f *fakeAccounts) FindBySubscriptionID(ctx context.Context, subID string) (*models.Account, error) {
	if err := f.enter(ctx, "FindBySubscriptionID"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["FindBySubscriptionID"]; err != nil {
		return nil, err
	}
	for _, a := range f.accounts {
		if a.StripeSubscriptionID == subID {
			return cloneAccount(a), nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeAccounts) FindByCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	if err := f.enter(ctx, "FindByCustomerID"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["FindByCustomerID"]; err != nil {
		return nil, err
	}
	for _, a := range f.accounts {
		if a.StripeCustomerID == customerID {
			return cloneAccount(a), nil
		}
	}
	return nil, db.ErrNotFound
}

func timePtr(v interface{}) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	default:
		return nil, fmt.Errorf("unexpected time value %T", v)
	}
}

func stringOf(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case models.AccountStatus:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func applyFields(a *models.Account, fields map[string]interface{}) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fields[k]
		var err error
		switch k {
		case "status":
			a.Status = models.AccountStatus(stringOf(v))
		case "trialStart":
			a.TrialStart, err = timePtr(v)
		case "trialEnd":
			a.TrialEnd, err = timePtr(v)
		case "planStartDate":
			a.PlanStartDate, err = timePtr(v)
		case "planEndDate":
			a.PlanEndDate, err = timePtr(v)
		case "planName":
			a.PlanName = stringOf(v)
		case "planId":
			a.PlanID = stringOf(v)
		case "planDurationDays":
			a.PlanDurationDays, _ = v.(int)
		case "autoBilling":
			a.AutoBilling, _ = v.(bool)
		case "stripeCustomerId":
			a.StripeCustomerID = stringOf(v)
		case "stripeSubscriptionId":
			a.StripeSubscriptionID = stringOf(v)
		case "defaultPaymentMethod":
			a.DefaultPaymentMethod = stringOf(v)
		case "paymentMethods":
			pms, _ := v.([]models.PaymentMethod)
			a.PaymentMethods = append([]models.PaymentMethod(nil), pms...)
		default:
			return fmt.Errorf("unexpected field %q", k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// fakeBilling records the calls made to the payment processor.
type fakeBilling struct {
	mu            sync.Mutex
	calls         []string
	prices        map[string]*billing.Price
	subscriptions map[string]*billing.Subscription
	events        map[string]*billing.Event
	setup         *billing.SetupSession
	paymentMethod *models.PaymentMethod
	errs          map[string]error
	nextSub       int
	now           time.Time
}

func newFakeBilling(now time.Time) *fakeBilling {
	return &fakeBilling{
		prices: map[string]*billing.Price{
			"price_monthly": {ID: "price_monthly", Recurring: true, Interval: billing.IntervalMonth, UnitAmount: 4990, Currency: "brl", ProductName: "Adamantium"},
			"price_annual":  {ID: "price_annual", Recurring: true, Interval: billing.IntervalYear, UnitAmount: 49900, Currency: "brl", ProductName: "Adamantium"},
		},
		subscriptions: map[string]*billing.Subscription{},
		events:        map[string]*billing.Event{},
		errs:          map[string]error{},
		now:           now,
	}
}

func (f *fakeBilling) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	name := call
	for i, r := range call {
		if r == ':' {
			name = call[:i]
			break
		}
	}
	return f.errs[name]
}

func (f *fakeBilling) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBilling) CreateCustomer(_ context.Context, accountID, _, _ string) (string, error) {
	if err := f.record("CreateCustomer:" + accountID); err != nil {
		return "", err
	}
	return "cus_" + accountID, nil
}

func (f *fakeBilling) CreateSubscriptionCheckout(_ context.Context, in billing.CheckoutParams) (*billing.CheckoutSession, error) {
	if err := f.record("CreateSubscriptionCheckout:" + in.PriceID); err != nil {
		return nil, err
	}
	return &billing.CheckoutSession{ID: "cs_sub", URL: "https://checkout.example/cs_sub"}, nil
}

func (f *fakeBilling) CreateSetupCheckout(_ context.Context, accountID, _ string) (*billing.CheckoutSession, error) {
	if err := f.record("CreateSetupCheckout:" + accountID); err != nil {
		return nil, err
	}
	return &billing.CheckoutSession{ID: "cs_setup", URL: "https://checkout.example/cs_setup"}, nil
}

func (f *fakeBilling) CreatePortalSession(_ context.Context, customerID string) (string, error) {
	if err := f.record("CreatePortalSession:" + customerID); err != nil {
		return "", err
	}
	return "https://portal.example/" + customerID, nil
}

func (f *fakeBilling) GetSetupSession(_ context.Context, sessionID string) (*billing.SetupSession, error) {
	if err := f.record("GetSetupSession:" + sessionID); err != nil {
		return nil, err
	}
	if f.setup == nil {
		return nil, errBoom
	}
	return f.setup, nil
}

func (f *fakeBilling) ResolveSetupPaymentMethod(_ context.Context, _ *billing.SetupSession, customerID string) (*models.PaymentMethod, error) {
	if err := f.record("ResolveSetupPaymentMethod:" + customerID); err != nil {
		return nil, err
	}
	if f.paymentMethod == nil {
		return nil, billing.ErrNoPaymentMethod
	}
	return f.paymentMethod, nil
}

func (f *fakeBilling) DetachPaymentMethod(_ context.Context, pmID string) error {
	return f.record("DetachPaymentMethod:" + pmID)
}

func (f *fakeBilling) CreateSubscription(_ context.Context, customerID, priceID, _ string) (*billing.Subscription, error) {
	if err := f.record("CreateSubscription:" + priceID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSub++
	sub := &billing.Subscription{
		ID:                 fmt.Sprintf("sub_new_%d", f.nextSub),
		CustomerID:         customerID,
		Status:             "active",
		PriceID:            priceID,
		CurrentPeriodStart: f.now,
		CurrentPeriodEnd:   f.now.AddDate(0, 1, 0),
	}
	f.subscriptions[sub.ID] = sub
	return sub, nil
}

func (f *fakeBilling) CancelSubscription(_ context.Context, subID string) error {
	return f.record("CancelSubscription:" + subID)
}

func (f *fakeBilling) GetSubscription(_ context.Context, subID string) (*billing.Subscription, error) {
	if err := f.record("GetSubscription:" + subID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[subID]
	if !ok {
		return nil, errBoom
	}
	return sub, nil
}

func (f *fakeBilling) GetPrice(_ context.Context, priceID string) (*billing.Price, error) {
	if err := f.record("GetPrice:" + priceID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[priceID]
	if !ok {
		return nil, errBoom
	}
	return p, nil
}

func (f *fakeBilling) ListPlans(context.Context) ([]billing.Price, error) {
	if err := f.record("ListPlans"); err != nil {
		return nil, err
	}
	return []billing.Price{*f.prices["price_monthly"], *f.prices["price_annual"]}, nil
}

// ParseWebhook accepts the signature "valid" only and looks the event up by payload.
func (f *fakeBilling) ParseWebhook(payload []byte, sig string) (*billing.Event, error) {
	if sig != "valid" {
		return nil, fmt.Errorf("%w: bad signature", billing.ErrInvalidSignature)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[string(payload)]
	if !ok {
		return nil, errors.New("decode event: unexpected payload")
	}
	return ev, nil
}

// fakeLedger is an in-memory EventLedger.
type fakeLedger struct {
	mu       sync.Mutex
	state    map[string]string
	claimErr error
}

func newFakeLedger() *fakeLedger { return &fakeLedger{state: map[string]string{}} }

func (l *fakeLedger) Claim(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimErr != nil {
		return false, l.claimErr
	}
	if _, ok := l.state[id]; ok {
		return false, nil
	}
	l.state[id] = "processing"
	return true, nil
}

func (l *fakeLedger) Complete(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state[id] = "done"
	return nil
}

func (l *fakeLedger) Release(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.state, id)
	return nil
}

// fakeNotifier records notifications synchronously.
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) add(e string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *fakeNotifier) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func (n *fakeNotifier) NotifyStorageLimit(accountID string, used int64) {
	n.add(fmt.Sprintf("storage:%s:%d", accountID, used))
}
func (n *fakeNotifier) NotifyTrialEnding(accountID string, _ time.Time) { n.add("trial:" + accountID) }
func (n *fakeNotifier) NotifyDocumentUploaded(accountID string, d *models.Document) {
	n.add("upload:" + accountID + ":" + d.DocumentName)
}
func (n *fakeNotifier) NotifyDocumentDownloaded(accountID string, d *models.Document) {
	n.add("download:" + accountID + ":" + d.DocumentName)
}
func (n *fakeNotifier) NotifyDocumentDue(accountID string, d *models.Document) {
	n.add("due:" + accountID + ":" + d.DocumentName)
}
func (n *fakeNotifier) Wait() {}

// fakeDocuments is an in-memory DocumentRepository.
type fakeDocuments struct {
	mu      sync.Mutex
	clients map[string]*models.Client
	docs    map[string]*models.Document
	nextID  int
	errs    map[string]error
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{clients: map[string]*models.Client{}, docs: map[string]*models.Document{}, errs: map[string]error{}}
}

func docKey(a, c, d string) string { return a + "/" + c + "/" + d }

func (f *fakeDocuments) addClient(accountID, clientID, name string) {
	f.clients[accountID+"/"+clientID] = &models.Client{ID: clientID, FullName: name}
}

func (f *fakeDocuments) add(d *models.Document) {
	c := *d
	f.docs[docKey(d.AccountID, d.ClientID, d.ID)] = &c
}

func (f *fakeDocuments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func (f *fakeDocuments) GetClient(_ context.Context, accountID, clientID string) (*models.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[accountID+"/"+clientID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return c, nil
}

func (f *fakeDocuments) Create(_ context.Context, d *models.Document) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["Create"]; err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("doc_%d", f.nextID)
	c := *d
	c.ID = id
	f.docs[docKey(d.AccountID, d.ClientID, id)] = &c
	return id, nil
}

func (f *fakeDocuments) GetByID(_ context.Context, a, c, d string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docKey(a, c, d)]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocuments) Delete(_ context.Context, a, c, d string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["Delete"]; err != nil {
		return err
	}
	if _, ok := f.docs[docKey(a, c, d)]; !ok {
		return db.ErrNotFound
	}
	delete(f.docs, docKey(a, c, d))
	return nil
}

func (f *fakeDocuments) ListByAccount(_ context.Context, accountID string) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Document
	for _, d := range f.docs {
		if d.AccountID == accountID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDocuments) TouchAccess(_ context.Context, a, c, d string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docKey(a, c, d)]
	if !ok {
		return db.ErrNotFound
	}
	doc.LastAccessedAt = &at
	return nil
}

func (f *fakeDocuments) ListDueBetween(_ context.Context, from, to time.Time) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Document
	for _, d := range f.docs {
		if d.DueDate != nil && !d.DueDate.Before(from) && d.DueDate.Before(to) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeObjects is an in-memory ObjectStorage.
type fakeObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	puts      int
	// during runs inside every transfer, before the context is checked.
	during    func()
}

func newFakeObjects() *fakeObjects { return &fakeObjects{objects: map[string][]byte{}} }

func (o *fakeObjects) Put(ctx context.Context, in objectstore.PutInput) (*objectstore.StoredObject, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.puts++
	if o.during != nil {
		o.during()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.putErr != nil {
		return nil, o.putErr
	}
	if in.ContentType != models.FileTypePDF && in.ContentType != models.FileTypeJPEG && in.ContentType != models.FileTypePNG {
		return nil, objectstore.ErrUnsupportedType
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("pdfs/%s/%s/%d-%s", in.AccountID, in.ClientID, o.puts, in.Name)
	o.objects[key] = body
	return &objectstore.StoredObject{Backend: objectstore.BackendR2, Key: key, URL: "https://files.example/" + key}, nil
}

func (o *fakeObjects) Delete(ctx context.Context, _, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.during != nil {
		o.during()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.deleteErr != nil {
		return o.deleteErr
	}
	delete(o.objects, key)
	return nil
}

func (o *fakeObjects) DownloadURL(_ context.Context, _, key, _ string) (string, error) {
	return "https://signed.example/" + key, nil
}

func (o *fakeObjects) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

// fakeNotificationRepo records inbox writes.
type fakeNotificationRepo struct {
	mu    sync.Mutex
	items map[string][]models.Notification
	err   error
}

func (r *fakeNotificationRepo) Create(_ context.Context, accountID string, n *models.Notification) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if r.items == nil {
		r.items = map[string][]models.Notification{}
	}
	r.items[accountID] = append(r.items[accountID], *n)
	return fmt.Sprintf("n_%d", len(r.items[accountID])), nil
}

func (r *fakeNotificationRepo) forAccount(id string) []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.items[id]...)
}

// fakeEmailQueue records enqueued mail.
type fakeEmailQueue struct {
	mu   sync.Mutex
	sent []string
}

func (q *fakeEmailQueue) EnqueueEmail(_ context.Context, to, subject, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, to+"|"+subject)
	return nil
}

func (q *fakeEmailQueue) list() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.sent...)
}

// fakeIdentity is an in-memory IdentityProvider.
type fakeIdentity struct {
	mu      sync.Mutex
	users   map[string]string
	deleted []string
	next    int
}

func (i *fakeIdentity) CreateUser(_ context.Context, email, _, _ string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.users == nil {
		i.users = map[string]string{}
	}
	for _, e := range i.users {
		if e == email {
			return "", fmt.Errorf("%w: %s", identity.ErrEmailExists, email)
		}
	}
	i.next++
	uid := fmt.Sprintf("uid_%d", i.next)
	i.users[uid] = email
	return uid, nil
}

func (i *fakeIdentity) DeleteUser(_ context.Context, uid string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.users, uid)
	i.deleted = append(i.deleted, uid)
	return nil
}

func (i *fakeIdentity) CustomToken(_ context.Context, uid string) (string, error) {
	return "token-" + uid, nil
}
