package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors. Handlers match them with errors.Is through the table in internal/api/errors.go.
var (
	ErrValidation            = errors.New("validation failed")
	ErrAccountNotFound       = errors.New("account not found")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrClientNotFound        = errors.New("client not found")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	ErrStorageLimitExceeded  = errors.New("storage limit exceeded")
	ErrExternalDependency    = errors.New("external dependency failed")
	ErrWebhookSignature      = errors.New("webhook signature verification failed")
	ErrNoPaymentMethod       = errors.New("no default payment method")
	ErrBillingNotLinked      = errors.New("account has no billing customer")
	ErrPriceNotRecurring     = errors.New("price is not recurring")
	ErrEmailInUse            = errors.New("email already in use")
)

// CapacityError reports a rejected quota reservation with the numbers behind it.
type CapacityError struct {
	Used      int64
	Requested int64
	Limit     int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("storage limit exceeded: used %d bytes, requested %d bytes, limit %d bytes", e.Used, e.Requested, e.Limit)
}

// Is makes errors.Is(err, ErrStorageLimitExceeded) match.
func (e *CapacityError) Is(target error) bool { return target == ErrStorageLimitExceeded }

// ExternalError wraps a failed call to Stripe, Firestore, object storage or another
// dependency. Service and Op say which call failed; Err is the upstream error.
type ExternalError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrExternalDependency) match.
func (e *ExternalError) Is(target error) bool { return target == ErrExternalDependency }

// ValidationError lists the invalid request fields.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
