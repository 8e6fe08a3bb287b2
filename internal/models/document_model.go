package models

import "time"

// Supported upload content types.
const (
	FileTypePDF  = "application/pdf"
	FileTypeJPEG = "image/jpeg"
	FileTypePNG  = "image/png"
)

// Document is a file uploaded under one of the account's clients.
type Document struct {
	ID             string     `json:"id" firestore:"-"`
	AccountID      string     `json:"accountId" firestore:"-"`
	ClientID       string     `json:"clientId" firestore:"-"`
	ClientName     string     `json:"clientName,omitempty" firestore:"-"`
	DocumentName   string     `json:"documentName" firestore:"documentName"`
	FileURL        string     `json:"fileUrl" firestore:"fileUrl"`
	PreviewURL     string     `json:"previewUrl" firestore:"previewUrl"`
	FileType       string     `json:"fileType" firestore:"fileType"`
	Size           int64      `json:"size" firestore:"size"`
	Checksum       string     `json:"checksum,omitempty" firestore:"checksum,omitempty"`
	StorageBackend string     `json:"storageBackend" firestore:"storageBackend"`
	ObjectKey      string     `json:"objectKey" firestore:"objectKey"`
	Tag            string     `json:"tag,omitempty" firestore:"tag,omitempty"`
	DueDate        *time.Time `json:"dueDate,omitempty" firestore:"dueDate"`
	CreatedAt      time.Time  `json:"createdAt" firestore:"createdAt"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty" firestore:"lastAccessedAt,omitempty"`
}

// Client is the grouping documents are uploaded under.
type Client struct {
	ID       string `json:"id" firestore:"-"`
	FullName string `json:"fullName" firestore:"fullName"`
}
