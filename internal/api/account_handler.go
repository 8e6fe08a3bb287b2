package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nuvex-backend-go/internal/core"
	"nuvex-backend-go/internal/middleware"
	"nuvex-backend-go/internal/models"
)

// AccountHandler handles signup and the current account.
type AccountHandler struct {
	accounts core.AccountService
	logger   *zap.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts core.AccountService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// Signup handles POST /signup. It is public.
func (h *AccountHandler) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload", Details: err.Error()})
		return
	}

	res, err := h.accounts.Signup(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetCurrentAccount handles GET /accounts/me.
func (h *AccountHandler) GetCurrentAccount(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}

	account, err := h.accounts.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// accountIDFrom reads the account ID stored by the auth middleware. It writes a 401
// and returns false when the middleware did not run.
func accountIDFrom(c *gin.Context) (string, bool) {
	accountID := c.GetString(middleware.ContextAccountID)
	if accountID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "User ID not found in context"})
		return "", false
	}
	return accountID, true
}
