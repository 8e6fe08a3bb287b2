package models

// SignupRequest represents the request body for creating an account.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"fullName" validate:"required"`
	Trial    string `json:"trial,omitempty" validate:"omitempty,oneof=default extended"` // "extended" selects the longer trial
}

// CheckoutRequest represents the request body for starting a subscription checkout.
type CheckoutRequest struct {
	IsAnnual bool `json:"isAnnual"`
}

// ActivatePlanRequest represents the request body for activating a paid plan with the stored card.
type ActivatePlanRequest struct {
	IsAnnual bool `json:"isAnnual"`
}

// DeletePaymentMethodRequest represents the request body for removing a saved card.
type DeletePaymentMethodRequest struct {
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
}

// UploadDocumentRequest carries the metadata fields of a multipart document upload.
// The file itself travels separately as the "document" part.
type UploadDocumentRequest struct {
	ClientID     string `validate:"required"`
	DocumentName string `validate:"required,max=200"`
	FileType     string `validate:"required,oneof=application/pdf image/jpeg image/png"`
	Size         int64  `validate:"gt=0"`
	Tag          string `validate:"omitempty,max=64"`
	DueDate      string `validate:"omitempty"`
}
