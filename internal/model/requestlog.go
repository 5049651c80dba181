package model

import "time"

// RequestLog is one append-only usage record per proxied call. Logging is
// fire-and-forget: a failed insert never blocks or fails the response path.
type RequestLog struct {
	ID           string    `json:"id" db:"id"`
	AppID        string    `json:"app_id" db:"app_id"`
	PermissionID string    `json:"permission_id" db:"permission_id"`
	ResourceID   string    `json:"resource_id" db:"resource_id"`
	Action       string    `json:"action" db:"action"`
	Model        string    `json:"model" db:"model"`
	InputTokens  int64     `json:"input_tokens" db:"input_tokens"`
	OutputTokens int64     `json:"output_tokens" db:"output_tokens"`
	TotalTokens  int64     `json:"total_tokens" db:"total_tokens"`
	StatusCode   int       `json:"status_code" db:"status_code"`
	ErrorCode    string    `json:"error_code" db:"error_code"`
	Streamed     bool      `json:"streamed" db:"streamed"`
	LatencyMs    float64   `json:"latency_ms" db:"latency_ms"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// UsageSummary aggregates request logs for one app over a period.
type UsageSummary struct {
	AppID        string `json:"app_id" db:"app_id"`
	Requests     int64  `json:"requests" db:"requests"`
	InputTokens  int64  `json:"input_tokens" db:"input_tokens"`
	OutputTokens int64  `json:"output_tokens" db:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens" db:"total_tokens"`
	Errors       int64  `json:"errors" db:"errors"`
}
