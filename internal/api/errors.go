package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nuvex-backend-go/internal/core"
)

// errorMapping is one row of the error table: the first matching sentinel decides
// the status and the message shown to the client.
type errorMapping struct {
	target  error
	status  int
	message string
}

var errorTable = []errorMapping{
	{core.ErrValidation, http.StatusBadRequest, "Invalid request"},
	{core.ErrWebhookSignature, http.StatusBadRequest, "Webhook signature verification failed"},
	{core.ErrNoPaymentMethod, http.StatusBadRequest, "No payment method on file"},
	{core.ErrBillingNotLinked, http.StatusBadRequest, "Account is not linked to the payment provider"},
	{core.ErrAccountNotFound, http.StatusNotFound, "Account not found"},
	{core.ErrClientNotFound, http.StatusNotFound, "Client not found"},
	{core.ErrDocumentNotFound, http.StatusNotFound, "Document not found"},
	{core.ErrPaymentMethodNotFound, http.StatusNotFound, "Payment method not found"},
	{core.ErrEmailInUse, http.StatusConflict, "Email already in use"},
	{core.ErrPriceNotRecurring, http.StatusConflict, "Plan price is not recurring"},
	{core.ErrStorageLimitExceeded, http.StatusRequestEntityTooLarge, "Storage limit exceeded"},
	{core.ErrExternalDependency, http.StatusBadGateway, "An upstream service failed, try again later"},
}

// statusFor returns the HTTP status and client message for err.
func statusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.message
		}
	}
	return http.StatusInternalServerError, "An unexpected internal server error occurred."
}

// respondError writes the reply for err. Validation and capacity errors carry their
// details; upstream and internal errors are logged and never echoed to the client.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, message := statusFor(err)

	var capErr *core.CapacityError
	if errors.As(err, &capErr) {
		c.JSON(status, CapacityDetails{Error: message, Used: capErr.Used, Requested: capErr.Requested, Limit: capErr.Limit})
		return
	}

	resp := ErrorResponse{Error: message}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}

	if status >= http.StatusInternalServerError {
		fields := []zap.Field{zap.String("path", c.FullPath()), zap.Error(err)}
		var extErr *core.ExternalError
		if errors.As(err, &extErr) {
			fields = append(fields, zap.String("service", extErr.Service), zap.String("operation", extErr.Op))
		}
		logger.Error("Request failed", fields...)
	} else if status != http.StatusNotFound && resp.Fields == nil {
		resp.Details = err.Error()
	}
	c.JSON(status, resp)
}
