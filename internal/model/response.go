package model

// ListResponse is the standard envelope for admin list endpoints.
type ListResponse struct {
	Resource []map[string]interface{} `json:"resource"`
	Meta     *ResponseMeta            `json:"meta,omitempty"`
}

// ResponseMeta carries pagination information for list responses.
type ResponseMeta struct {
	Count  int    `json:"count"`
	Total  *int64 `json:"total,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the structured error body. Code is a stable machine-readable
// string from the gateway taxonomy (e.g. RATE_LIMIT_EXCEEDED).
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}
