package models

import "time"

// NotificationPriority orders notifications in the client inbox.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
)

// Notification categories written by the backend.
const (
	CategoryStorage      = "storage"
	CategorySubscription = "subscription"
	CategoryUpload       = "upload"
	CategoryDownload     = "download"
	CategoryDocumentDue  = "document-due"
)

// Notification is an entry in users/{id}/notifications.
type Notification struct {
	ID        string                 `json:"id" firestore:"-"`
	Message   string                 `json:"message" firestore:"message"`
	Type      string                 `json:"type" firestore:"type"` // system, user or alert
	Category  string                 `json:"category" firestore:"category"`
	Priority  NotificationPriority   `json:"priority" firestore:"priority"`
	Icon      string                 `json:"icon,omitempty" firestore:"icon,omitempty"`
	Read      bool                   `json:"read" firestore:"read"`
	Archived  bool                   `json:"archived" firestore:"archived"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" firestore:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp" firestore:"timestamp,serverTimestamp"`
}
