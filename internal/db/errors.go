package db

import "errors"

var (
	// ErrNotFound is returned when a Firestore document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned when creating a document whose ID is taken.
	ErrAlreadyExists = errors.New("document already exists")
)
