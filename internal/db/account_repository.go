package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"nuvex-backend-go/internal/models"
)

const (
	usersCollection = "users"

	fieldStorageUsed  = "storageUsed"
	fieldTransactions = "transactions"
)

// firestoreAccountRepository implements the AccountRepository interface using Firestore.
type firestoreAccountRepository struct {
	client *firestore.Client
}

// NewFirestoreAccountRepository creates a new instance of firestoreAccountRepository.
func NewFirestoreAccountRepository(client *firestore.Client) AccountRepository {
	if client == nil {
		panic("Firestore client is not initialized for AccountRepository")
	}
	return &firestoreAccountRepository{client: client}
}

func (r *firestoreAccountRepository) doc(accountID string) *firestore.DocumentRef {
	return r.client.Collection(usersCollection).Doc(accountID)
}

// Create adds a new account document. The account ID (Firebase Auth UID) is the document ID.
func (r *firestoreAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		return errors.New("account ID cannot be empty for Create operation")
	}
	_, err := r.doc(account.ID).Create(ctx, account)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("account with ID '%s' already exists: %w", account.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create account with ID '%s': %w", account.ID, err)
	}
	return nil
}

// GetByID retrieves an account document by its ID.
func (r *firestoreAccountRepository) GetByID(ctx context.Context, accountID string) (*models.Account, error) {
	if accountID == "" {
		return nil, errors.New("accountID cannot be empty for GetByID operation")
	}
	snap, err := r.doc(accountID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("account with ID '%s' not found: %w", accountID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account with ID '%s': %w", accountID, err)
	}
	return decodeAccount(snap)
}

// UpdateFields patches only the given fields. Firestore Update fails on a missing
// document, so the account is never recreated by a stray write.
func (r *firestoreAccountRepository) UpdateFields(ctx context.Context, accountID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	_, err := r.doc(accountID).Update(ctx, toUpdates(fields))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("account with ID '%s' not found: %w", accountID, ErrNotFound)
		}
		return fmt.Errorf("failed to update account with ID '%s': %w", accountID, err)
	}
	return nil
}

// UpdateBilling applies fields and appends txn inside one Firestore transaction.
// Reading the log inside the transaction is what makes the reference check safe
// against two concurrent deliveries of the same invoice.
func (r *firestoreAccountRepository) UpdateBilling(ctx context.Context, accountID string, fields map[string]interface{}, txn *models.Transaction) (bool, error) {
	ref := r.doc(accountID)
	appended := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		appended = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		account, err := decodeAccount(snap)
		if err != nil {
			return err
		}

		updates := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			updates[k] = v
		}
		if txn != nil && !account.HasTransaction(txn.Reference) {
			entries := make([]models.Transaction, 0, len(account.Transactions)+1)
			entries = append(entries, account.Transactions...)
			updates[fieldTransactions] = append(entries, *txn)
			appended = true
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Update(ref, toUpdates(updates))
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, fmt.Errorf("account with ID '%s' not found: %w", accountID, ErrNotFound)
		}
		return false, fmt.Errorf("failed to update billing for account '%s': %w", accountID, err)
	}
	return appended, nil
}

// ReserveStorage checks the ceiling and increments storageUsed in one transaction.
func (r *firestoreAccountRepository) ReserveStorage(ctx context.Context, accountID string, delta, limit int64) (int64, bool, error) {
	ref := r.doc(accountID)
	var used int64
	reserved := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		reserved = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		used, err = storageUsedOf(snap)
		if err != nil {
			return err
		}
		if used+delta > limit {
			return nil
		}
		reserved = true
		return tx.Update(ref, []firestore.Update{{Path: fieldStorageUsed, Value: used + delta}})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, false, fmt.Errorf("account with ID '%s' not found: %w", accountID, ErrNotFound)
		}
		return 0, false, fmt.Errorf("failed to reserve storage for account '%s': %w", accountID, err)
	}
	return used, reserved, nil
}

// ReleaseStorage decrements storageUsed in one transaction, never below zero.
func (r *firestoreAccountRepository) ReleaseStorage(ctx context.Context, accountID string, delta int64) (int64, error) {
	ref := r.doc(accountID)
	var next int64
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		used, err := storageUsedOf(snap)
		if err != nil {
			return err
		}
		next = used - delta
		if next < 0 {
			next = 0
		}
		return tx.Update(ref, []firestore.Update{{Path: fieldStorageUsed, Value: next}})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, fmt.Errorf("account with ID '%s' not found: %w", accountID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to release storage for account '%s': %w", accountID, err)
	}
	return next, nil
}

// FindBySubscriptionID returns the account linked to a Stripe subscription.
func (r *firestoreAccountRepository) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Account, error) {
	return r.findOne(ctx, "stripeSubscriptionId", subscriptionID)
}

// FindByCustomerID returns the account linked to a Stripe customer.
func (r *firestoreAccountRepository) FindByCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	return r.findOne(ctx, "stripeCustomerId", customerID)
}

func (r *firestoreAccountRepository) findOne(ctx context.Context, field, value string) (*models.Account, error) {
	if value == "" {
		return nil, fmt.Errorf("%s cannot be empty: %w", field, ErrNotFound)
	}
	iter := r.client.Collection(usersCollection).Where(field, "==", value).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, fmt.Errorf("no account with %s '%s': %w", field, value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account by %s: %w", field, err)
	}
	return decodeAccount(snap)
}

func decodeAccount(snap *firestore.DocumentSnapshot) (*models.Account, error) {
	var account models.Account
	if err := snap.DataTo(&account); err != nil {
		return nil, fmt.Errorf("failed to decode account data for ID '%s': %w", snap.Ref.ID, err)
	}
	account.ID = snap.Ref.ID
	return &account, nil
}

// storageUsedOf reads the counter, treating a missing field as zero.
func storageUsedOf(snap *firestore.DocumentSnapshot) (int64, error) {
	v, err := snap.DataAt(fieldStorageUsed)
	if err != nil {
		// DataAt fails when the field is absent.
		return 0, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected type %T for %s", v, fieldStorageUsed)
	}
}

// toUpdates converts a field map into Firestore updates in a stable order.
func toUpdates(fields map[string]interface{}) []firestore.Update {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	updates := make([]firestore.Update, 0, len(keys))
	for _, k := range keys {
		updates = append(updates, firestore.Update{Path: k, Value: fields[k]})
	}
	return updates
}
