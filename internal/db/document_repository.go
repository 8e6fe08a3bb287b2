package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"nuvex-backend-go/internal/models"
)

const (
	clientsCollection   = "clients"
	documentsCollection = "documents"
)

// firestoreDocumentRepository implements DocumentRepository.
// Documents live at users/{accountId}/clients/{clientId}/documents/{documentId}.
type firestoreDocumentRepository struct {
	client *firestore.Client
}

// NewFirestoreDocumentRepository creates a new instance of firestoreDocumentRepository.
func NewFirestoreDocumentRepository(client *firestore.Client) DocumentRepository {
	if client == nil {
		panic("Firestore client is not initialized for DocumentRepository")
	}
	return &firestoreDocumentRepository{client: client}
}

func (r *firestoreDocumentRepository) clientRef(accountID, clientID string) *firestore.DocumentRef {
	return r.client.Collection(usersCollection).Doc(accountID).Collection(clientsCollection).Doc(clientID)
}

func (r *firestoreDocumentRepository) documentRef(accountID, clientID, documentID string) *firestore.DocumentRef {
	return r.clientRef(accountID, clientID).Collection(documentsCollection).Doc(documentID)
}

// GetClient retrieves the client grouping a document is uploaded under.
func (r *firestoreDocumentRepository) GetClient(ctx context.Context, accountID, clientID string) (*models.Client, error) {
	if accountID == "" || clientID == "" {
		return nil, errors.New("accountID and clientID cannot be empty for GetClient operation")
	}
	snap, err := r.clientRef(accountID, clientID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("client '%s' not found: %w", clientID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get client '%s': %w", clientID, err)
	}
	var c models.Client
	if err := snap.DataTo(&c); err != nil {
		return nil, fmt.Errorf("failed to decode client '%s': %w", clientID, err)
	}
	c.ID = snap.Ref.ID
	return &c, nil
}

// Create stores the document metadata and returns the generated document ID.
func (r *firestoreDocumentRepository) Create(ctx context.Context, doc *models.Document) (string, error) {
	ref, _, err := r.clientRef(doc.AccountID, doc.ClientID).Collection(documentsCollection).Add(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to create document for client '%s': %w", doc.ClientID, err)
	}
	doc.ID = ref.ID
	return ref.ID, nil
}

// GetByID retrieves one document.
func (r *firestoreDocumentRepository) GetByID(ctx context.Context, accountID, clientID, documentID string) (*models.Document, error) {
	snap, err := r.documentRef(accountID, clientID, documentID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("document '%s' not found: %w", documentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document '%s': %w", documentID, err)
	}
	return decodeDocument(snap)
}

// Delete removes the document metadata. Deleting a missing document is not an error.
func (r *firestoreDocumentRepository) Delete(ctx context.Context, accountID, clientID, documentID string) error {
	if _, err := r.documentRef(accountID, clientID, documentID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document '%s': %w", documentID, err)
	}
	return nil
}

// ListByAccount walks every client of the account and collects their documents.
func (r *firestoreDocumentRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.Document, error) {
	clients := r.client.Collection(usersCollection).Doc(accountID).Collection(clientsCollection).Documents(ctx)
	defer clients.Stop()

	var docs []*models.Document
	for {
		clientSnap, err := clients.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list clients for account '%s': %w", accountID, err)
		}
		var c models.Client
		if err := clientSnap.DataTo(&c); err != nil {
			return nil, fmt.Errorf("failed to decode client '%s': %w", clientSnap.Ref.ID, err)
		}

		iter := clientSnap.Ref.Collection(documentsCollection).Documents(ctx)
		for {
			snap, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, fmt.Errorf("failed to list documents for client '%s': %w", clientSnap.Ref.ID, err)
			}
			d, err := decodeDocument(snap)
			if err != nil {
				iter.Stop()
				return nil, err
			}
			d.ClientName = c.FullName
			docs = append(docs, d)
		}
		iter.Stop()
	}
	return docs, nil
}

// TouchAccess records the time the document was last downloaded.
func (r *firestoreDocumentRepository) TouchAccess(ctx context.Context, accountID, clientID, documentID string, at time.Time) error {
	_, err := r.documentRef(accountID, clientID, documentID).Update(ctx, []firestore.Update{
		{Path: "lastAccessedAt", Value: at},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("document '%s' not found: %w", documentID, ErrNotFound)
		}
		return fmt.Errorf("failed to update lastAccessedAt for document '%s': %w", documentID, err)
	}
	return nil
}

// ListDueBetween queries the documents collection group across all accounts.
func (r *firestoreDocumentRepository) ListDueBetween(ctx context.Context, from, to time.Time) ([]*models.Document, error) {
	iter := r.client.CollectionGroup(documentsCollection).
		Where("dueDate", ">=", from).
		Where("dueDate", "<", to).
		Documents(ctx)
	defer iter.Stop()

	var docs []*models.Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query documents due between %s and %s: %w", from.Format(time.RFC3339), to.Format(time.RFC3339), err)
		}
		d, err := decodeDocument(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// decodeDocument fills the path-derived IDs from users/{a}/clients/{c}/documents/{d}.
func decodeDocument(snap *firestore.DocumentSnapshot) (*models.Document, error) {
	var d models.Document
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to decode document '%s': %w", snap.Ref.ID, err)
	}
	d.ID = snap.Ref.ID
	if clientRef := snap.Ref.Parent.Parent; clientRef != nil {
		d.ClientID = clientRef.ID
		if accountRef := clientRef.Parent.Parent; accountRef != nil {
			d.AccountID = accountRef.ID
		}
	}
	return &d, nil
}
