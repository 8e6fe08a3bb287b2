package db

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"nuvex-backend-go/internal/config"
)

// FirebaseClients groups the SDK clients built from one Firebase app.
// They are owned by the process bootstrap and passed to repositories explicitly.
type FirebaseClients struct {
	Firestore *firestore.Client
	Auth      *auth.Client
}

// Close releases the Firestore connection.
func (c *FirebaseClients) Close() error {
	if c == nil || c.Firestore == nil {
		return nil
	}
	return c.Firestore.Close()
}

// NewFirebaseClients initializes the Firebase Admin SDK and returns the Firestore and Auth clients.
// Credentials are resolved in order: a service account file, a base64 encoded service
// account JSON, then Application Default Credentials.
func NewFirebaseClients(ctx context.Context, appConfig *config.Config, logger *zap.Logger) (*FirebaseClients, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("NewFirebaseClients: appConfig cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	switch {
	case appConfig.GoogleApplicationCredentials != "":
		logger.Info("Initializing Firebase with credentials file", zap.String("path", appConfig.GoogleApplicationCredentials))
		if _, err := os.Stat(appConfig.GoogleApplicationCredentials); os.IsNotExist(err) {
			// ADC may still be configured in the environment.
			logger.Warn("Credentials file does not exist", zap.String("path", appConfig.GoogleApplicationCredentials))
		}
		opts = append(opts, option.WithCredentialsFile(appConfig.GoogleApplicationCredentials))
	case appConfig.FirebaseServiceAccountJSONBase64 != "":
		logger.Info("Initializing Firebase with base64 encoded service account JSON")
		decodedJSON, err := base64.StdEncoding.DecodeString(appConfig.FirebaseServiceAccountJSONBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode FIREBASE_SERVICE_ACCOUNT_JSON_BASE64: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(decodedJSON))
	default:
		logger.Info("Initializing Firebase using Application Default Credentials")
	}

	var firebaseAppConfig *firebase.Config
	if appConfig.FirebaseProjectID != "" {
		firebaseAppConfig = &firebase.Config{ProjectID: appConfig.FirebaseProjectID}
	}

	app, err := firebase.NewApp(ctx, firebaseAppConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}

	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("app.Firestore: %w", err)
	}
	logger.Info("Firestore client initialized successfully")

	authClient, err := app.Auth(ctx)
	if err != nil {
		_ = fsClient.Close()
		return nil, fmt.Errorf("app.Auth: %w", err)
	}
	logger.Info("Firebase Auth client initialized successfully")

	return &FirebaseClients{Firestore: fsClient, Auth: authClient}, nil
}
