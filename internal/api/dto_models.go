package api

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// SuccessResponse is a generic structure for simple success messages.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// PortalSessionResponse returns the URL for the Stripe Customer Portal.
type PortalSessionResponse struct {
	URL string `json:"url"`
}

// TrialStatusResponse is returned by the trial check.
type TrialStatusResponse struct {
	Status  string `json:"status"`
	Expired bool   `json:"expired"`
}

// RenewResponse reports whether a renewal ran.
type RenewResponse struct {
	Renewed bool `json:"renewed"`
}

// CapacityDetails accompanies a rejected upload.
type CapacityDetails struct {
	Error     string `json:"error"`
	Used      int64  `json:"storageUsed"`
	Requested int64  `json:"requested"`
	Limit     int64  `json:"storageLimit"`
}
