package db

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"nuvex-backend-go/internal/models"
)

const notificationsCollection = "notifications"

type firestoreNotificationRepository struct {
	client *firestore.Client
}

// NewFirestoreNotificationRepository creates a repository for users/{id}/notifications.
func NewFirestoreNotificationRepository(client *firestore.Client) NotificationRepository {
	if client == nil {
		panic("Firestore client is not initialized for NotificationRepository")
	}
	return &firestoreNotificationRepository{client: client}
}

func (r *firestoreNotificationRepository) Create(ctx context.Context, accountID string, n *models.Notification) (string, error) {
	ref, _, err := r.client.Collection(usersCollection).Doc(accountID).Collection(notificationsCollection).Add(ctx, n)
	if err != nil {
		return "", fmt.Errorf("failed to create notification for account '%s': %w", accountID, err)
	}
	n.ID = ref.ID
	return ref.ID, nil
}
