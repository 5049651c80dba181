package model

import "time"

// Resource is an upstream credential the owner shares through the gateway.
// The ResourceID is the unique "type:provider" pair apps address in request
// paths (e.g. "llm:groq", "email:resend"). The secret is sealed at rest and
// never leaves the gateway.
type Resource struct {
	ID           int64             `json:"id" db:"id"`
	ResourceID   string            `json:"resource_id" db:"resource_id"`
	Name         string            `json:"name" db:"name"`
	ResourceType string            `json:"resource_type" db:"resource_type"`
	Provider     string            `json:"provider" db:"provider"`
	SecretEnc    string            `json:"-" db:"secret_enc"` // sealed, never expose
	Config       map[string]string `json:"config,omitempty"`  // provider overrides (base_url etc.)
	IsActive     bool              `json:"is_active" db:"is_active"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// Usage is the token accounting extracted from an upstream response.
type Usage struct {
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
	Model        string `json:"model,omitempty"`
}
