package identity

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/auth"
)

// ErrEmailExists is returned when signing up with an email that already has a user.
var ErrEmailExists = errors.New("email already registered")

// FirebaseIdentity creates users and issues tokens through Firebase Auth.
type FirebaseIdentity struct {
	client *auth.Client
}

// NewFirebaseIdentity wraps an initialized Firebase Auth client.
func NewFirebaseIdentity(client *auth.Client) *FirebaseIdentity {
	if client == nil {
		panic("Firebase Auth client is not initialized for FirebaseIdentity")
	}
	return &FirebaseIdentity{client: client}
}

// CreateUser creates an email/password user and returns its UID.
func (f *FirebaseIdentity) CreateUser(ctx context.Context, email, password, displayName string) (string, error) {
	params := (&auth.UserToCreate{}).
		Email(email).
		Password(password).
		EmailVerified(false).
		Disabled(false)
	if displayName != "" {
		params = params.DisplayName(displayName)
	}
	u, err := f.client.CreateUser(ctx, params)
	if err != nil {
		if auth.IsEmailAlreadyExists(err) {
			return "", fmt.Errorf("%w: %s", ErrEmailExists, email)
		}
		return "", fmt.Errorf("create firebase user: %w", err)
	}
	return u.UID, nil
}

// DeleteUser removes a user. Signup uses it to roll back when the account document cannot be written.
func (f *FirebaseIdentity) DeleteUser(ctx context.Context, uid string) error {
	if err := f.client.DeleteUser(ctx, uid); err != nil {
		return fmt.Errorf("delete firebase user: %w", err)
	}
	return nil
}

// CustomToken mints a custom token the client exchanges for an ID token.
func (f *FirebaseIdentity) CustomToken(ctx context.Context, uid string) (string, error) {
	token, err := f.client.CustomToken(ctx, uid)
	if err != nil {
		return "", fmt.Errorf("mint custom token: %w", err)
	}
	return token, nil
}

// VerifyIDToken verifies a Firebase ID token sent by the client.
func (f *FirebaseIdentity) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	return f.client.VerifyIDToken(ctx, idToken)
}
