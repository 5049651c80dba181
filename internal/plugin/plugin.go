// Package plugin defines the provider plugin contract: a fixed capability set
// that normalizes heterogeneous upstream APIs behind one shape the gateway
// pipeline can drive. Each provider is a registered variant keyed by
// (resourceType, provider).
package plugin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/glueco/keywarden/internal/model"
)

// Credentials carries the decrypted upstream secret and resource-level
// configuration overrides into Execute.
type Credentials struct {
	Secret string
	Config map[string]string
}

// Options tunes a single Execute call. The context passed to Execute carries
// the inbound request's cancellation signal; Timeout bounds the upstream call
// independently of the PoP freshness window.
type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client returns the configured HTTP client, defaulting to
// http.DefaultClient. Timeouts are applied per-request via context so that
// streaming responses are not cut off by a client-level deadline.
func (o Options) Client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// Enforcement is the normalized descriptor of what ValidateAndShape enforced,
// surfaced for telemetry and usage accounting.
type Enforcement struct {
	Model     string `json:"model,omitempty"`
	Stream    bool   `json:"stream"`
	ToolUse   bool   `json:"tool_use"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Shaped is a validated, constraint-enforced request body ready for Execute.
type Shaped struct {
	Body        map[string]interface{}
	Enforcement Enforcement
}

// Result is an upstream response: exactly one of JSON (buffered) or Stream is
// set, matching the request's streaming flag.
type Result struct {
	JSON        []byte
	Stream      io.ReadCloser
	ContentType string
}

// UpstreamError is a provider failure translated into the gateway's uniform
// shape by MapError. Retryable is advisory only; the gateway never retries.
type UpstreamError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s (%d): %s", e.Code, e.Status, e.Message)
}

// ValidationError reports a structurally invalid input for the provider's
// schema (maps to INVALID_REQUEST).
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return e.Reason }

// ConstraintError reports an input that is well-formed but forbidden by the
// permission's constraints (maps to CONSTRAINT_VIOLATION).
type ConstraintError struct{ Reason string }

func (e *ConstraintError) Error() string { return e.Reason }

// Plugin is the contract every provider adapter implements.
type Plugin interface {
	ID() string
	ResourceType() string
	Provider() string
	Version() string
	Actions() []string

	// ValidateAndShape structurally validates input for action, enforces the
	// permission's constraints (allow-listed models reject, over-limit
	// max_tokens clamp down, streaming/tool-use reject when disallowed), and
	// returns the shaped body plus the normalized enforcement descriptor.
	ValidateAndShape(action string, input map[string]interface{}, constraints model.Constraints) (*Shaped, error)

	// Execute performs the upstream call. ctx carries the inbound request's
	// cancellation; a disconnecting caller must abort the upstream call.
	Execute(ctx context.Context, action string, shaped *Shaped, creds Credentials, opts Options) (*Result, error)

	// ExtractUsage derives token accounting from a buffered response body.
	// Streaming responses cannot report usage synchronously; plugins return
	// (nil, nil) when the body carries no usage.
	ExtractUsage(raw []byte) (*model.Usage, error)

	// MapError translates any Execute failure into the uniform upstream
	// error shape.
	MapError(err error) *UpstreamError
}

// SupportsAction reports whether action is in the plugin's action set.
func SupportsAction(p Plugin, action string) bool {
	for _, a := range p.Actions() {
		if a == action {
			return true
		}
	}
	return false
}
