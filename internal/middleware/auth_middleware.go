package middleware

import (
	"context"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Keys under which the authenticated caller is stored in the Gin context.
const (
	ContextAccountID   = "accountID"
	ContextEmail       = "userEmail"
	ContextDisplayName = "userDisplayName"
)

// ErrorResponse is a local definition for sending standardized error messages.
// It mirrors the one in internal/api/dto_models.go to avoid import cycles.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// TokenVerifier verifies Firebase ID tokens. *auth.Client satisfies it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// AuthMiddleware provides Gin middleware for Firebase token authentication.
type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
// It panics if verifier is nil, as authenticated routes cannot work without it.
func NewAuthMiddleware(verifier TokenVerifier, logger *zap.Logger) *AuthMiddleware {
	if verifier == nil {
		panic("token verifier is not initialized for AuthMiddleware")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{verifier: verifier, logger: logger}
}

// VerifyToken verifies the Firebase ID token in the Authorization header and stores
// the account ID (the token UID) in the Gin context for downstream handlers.
func (m *AuthMiddleware) VerifyToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Authorization header is required"})
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Authorization header format must be 'Bearer {token}'"})
			return
		}

		token, err := m.verifier.VerifyIDToken(c.Request.Context(), parts[1])
		if err != nil {
			// Details stay in the log; the client only learns the token was rejected.
			m.logger.Warn("Rejected Firebase ID token", zap.Error(err), zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid or expired authentication token"})
			return
		}

		c.Set(ContextAccountID, token.UID)
		if email, ok := token.Claims["email"].(string); ok {
			c.Set(ContextEmail, email)
		}
		if name, ok := token.Claims["name"].(string); ok {
			c.Set(ContextDisplayName, name)
		}
		c.Next()
	}
}
