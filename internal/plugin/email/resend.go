// Package email provides the bundled transactional email provider plugins.
package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/plugin"
)

// ActionSend is the single action email resources expose.
const ActionSend = "emails.send"

// Resend adapts the Resend transactional email API.
type Resend struct {
	baseURL string
}

func NewResend() *Resend {
	return &Resend{baseURL: "https://api.resend.com"}
}

func (p *Resend) ID() string           { return "email-resend" }
func (p *Resend) ResourceType() string { return "email" }
func (p *Resend) Provider() string     { return "resend" }
func (p *Resend) Version() string      { return "1" }
func (p *Resend) Actions() []string    { return []string{ActionSend} }

func (p *Resend) ValidateAndShape(action string, input map[string]interface{}, c model.Constraints) (*plugin.Shaped, error) {
	if action != ActionSend {
		return nil, &plugin.ValidationError{Reason: fmt.Sprintf("action %q not supported", action)}
	}

	from, ok := input["from"].(string)
	if !ok || from == "" {
		return nil, &plugin.ValidationError{Reason: "field \"from\" is required"}
	}
	recipients, err := recipientList(input["to"])
	if err != nil {
		return nil, err
	}
	if subject, ok := input["subject"].(string); !ok || subject == "" {
		return nil, &plugin.ValidationError{Reason: "field \"subject\" is required"}
	}

	if !c.SenderAllowed(from) {
		return nil, &plugin.ConstraintError{Reason: fmt.Sprintf("sender %q is not in the permission's allow-list", from)}
	}
	if c.MaxRecipients > 0 && len(recipients) > c.MaxRecipients {
		return nil, &plugin.ConstraintError{Reason: fmt.Sprintf("recipient count %d exceeds the permitted maximum of %d", len(recipients), c.MaxRecipients)}
	}

	shaped := make(map[string]interface{}, len(input))
	for k, v := range input {
		shaped[k] = v
	}
	return &plugin.Shaped{Body: shaped, Enforcement: plugin.Enforcement{}}, nil
}

func recipientList(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil, &plugin.ValidationError{Reason: "field \"to\" is required"}
		}
		return []string{t}, nil
	case []interface{}:
		if len(t) == 0 {
			return nil, &plugin.ValidationError{Reason: "field \"to\" must not be empty"}
		}
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok || s == "" {
				return nil, &plugin.ValidationError{Reason: "field \"to\" must contain email addresses"}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &plugin.ValidationError{Reason: "field \"to\" is required"}
	}
}

func (p *Resend) Execute(ctx context.Context, action string, shaped *plugin.Shaped, creds plugin.Credentials, opts plugin.Options) (*plugin.Result, error) {
	if action != ActionSend {
		return nil, &plugin.ValidationError{Reason: fmt.Sprintf("action %q not supported", action)}
	}
	base := strings.TrimRight(creds.Config["base_url"], "/")
	if base == "" {
		base = p.baseURL
	}
	headers := map[string]string{"Authorization": "Bearer " + creds.Secret}
	return plugin.PostJSON(ctx, opts, base+"/emails", headers, shaped.Body, false)
}

// ExtractUsage reports no token usage: email sends are accounted by request
// quota only.
func (p *Resend) ExtractUsage(raw []byte) (*model.Usage, error) {
	return nil, nil
}

func (p *Resend) MapError(err error) *plugin.UpstreamError {
	return plugin.MapHTTPError(err)
}
