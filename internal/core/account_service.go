package core

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"nuvex-backend-go/internal/identity"
	"nuvex-backend-go/internal/metrics"
	"nuvex-backend-go/internal/models"
)

// accountService implements the AccountService interface.
type accountService struct {
	identity  IdentityProvider
	lifecycle LifecycleService
	external  externalCaller
	logger    *zap.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(idp IdentityProvider, lifecycle LifecycleService, cfg LifecycleConfig, m *metrics.Metrics, logger *zap.Logger) AccountService {
	if idp == nil {
		panic("IdentityProvider cannot be nil for AccountService")
	}
	if lifecycle == nil {
		panic("LifecycleService cannot be nil for AccountService")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &accountService{
		identity:  idp,
		lifecycle: lifecycle,
		external:  newExternalCaller(cfg.ExternalCallTimeout, m),
		logger:    logger,
	}
}

// Signup creates the login identity and the account record, which starts in trial.
// When the account record cannot be written the identity is deleted again.
func (s *accountService) Signup(ctx context.Context, req models.SignupRequest) (*SignupResult, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var uid string
	err := s.external.do(ctx, "firebase_auth", "create_user", func(ctx context.Context) error {
		var err error
		uid, err = s.identity.CreateUser(ctx, req.Email, req.Password, req.FullName)
		return err
	})
	if err != nil {
		if errors.Is(err, identity.ErrEmailExists) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}

	account := &models.Account{
		ID:       uid,
		Email:    req.Email,
		FullName: req.FullName,
		Role:     "owner",
	}
	if err := s.lifecycle.StartTrial(ctx, account, req.Trial == "extended"); err != nil {
		s.rollback(ctx, uid)
		return nil, err
	}

	var token string
	err = s.external.do(ctx, "firebase_auth", "custom_token", func(ctx context.Context) error {
		var err error
		token, err = s.identity.CustomToken(ctx, uid)
		return err
	})
	if err != nil {
		// The account exists; the client can still sign in with email and password.
		s.logger.Warn("Failed to mint custom token after signup", zap.String("account_id", uid), zap.Error(err))
	}

	s.logger.Info("Account created", zap.String("account_id", uid))
	return &SignupResult{Account: account, CustomToken: token}, nil
}

// GetAccount returns the account after applying a pending trial expiry.
func (s *accountService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return s.lifecycle.CheckTrialExpiration(ctx, accountID)
}

func (s *accountService) rollback(ctx context.Context, uid string) {
	err := s.external.do(context.WithoutCancel(ctx), "firebase_auth", "delete_user", func(ctx context.Context) error {
		return s.identity.DeleteUser(ctx, uid)
	})
	if err != nil {
		s.logger.Error("Failed to roll back identity after signup failure", zap.String("account_id", uid), zap.Error(err))
	}
}
