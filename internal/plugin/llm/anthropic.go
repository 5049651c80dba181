package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/plugin"
)

// ActionMessages is the Anthropic Messages API action.
const ActionMessages = "messages"

const anthropicAPIVersion = "2023-06-01"

// defaultAnthropicMaxTokens is used when neither the caller nor the
// permission bounds max_tokens; the Anthropic API requires the field.
const defaultAnthropicMaxTokens = 4096

// Anthropic adapts the Anthropic Messages API, which differs from the OpenAI
// dialect in auth headers, required max_tokens, and usage field names.
type Anthropic struct {
	baseURL string
}

func NewAnthropic() *Anthropic {
	return &Anthropic{baseURL: "https://api.anthropic.com/v1"}
}

func (p *Anthropic) ID() string           { return "llm-anthropic" }
func (p *Anthropic) ResourceType() string { return "llm" }
func (p *Anthropic) Provider() string     { return "anthropic" }
func (p *Anthropic) Version() string      { return "1" }
func (p *Anthropic) Actions() []string    { return []string{ActionMessages} }

func (p *Anthropic) ValidateAndShape(action string, input map[string]interface{}, c model.Constraints) (*plugin.Shaped, error) {
	if action != ActionMessages {
		return nil, &plugin.ValidationError{Reason: fmt.Sprintf("action %q not supported", action)}
	}

	modelID, ok := input["model"].(string)
	if !ok || modelID == "" {
		return nil, &plugin.ValidationError{Reason: "field \"model\" is required"}
	}
	if _, ok := input["messages"].([]interface{}); !ok {
		return nil, &plugin.ValidationError{Reason: "field \"messages\" must be an array"}
	}
	if !c.ModelAllowed(modelID) {
		return nil, &plugin.ConstraintError{Reason: fmt.Sprintf("model %q is not in the permission's allow-list", modelID)}
	}

	shaped := make(map[string]interface{}, len(input))
	for k, v := range input {
		shaped[k] = v
	}

	enf := plugin.Enforcement{Model: modelID}
	enf.MaxTokens = clampMaxTokens(shaped, "max_tokens", c.MaxOutputTokens)
	if enf.MaxTokens == 0 {
		ceiling := c.MaxOutputTokens
		if ceiling == 0 {
			ceiling = defaultAnthropicMaxTokens
		}
		shaped["max_tokens"] = ceiling
		enf.MaxTokens = ceiling
	}

	if streamFlag, _ := shaped["stream"].(bool); streamFlag {
		if c.AllowStreaming != nil && !*c.AllowStreaming {
			return nil, &plugin.ConstraintError{Reason: "streaming is not permitted"}
		}
		enf.Stream = true
	}

	if hasTools(shaped) {
		if c.AllowTools != nil && !*c.AllowTools {
			return nil, &plugin.ConstraintError{Reason: "tool use is not permitted"}
		}
		enf.ToolUse = true
	}

	return &plugin.Shaped{Body: shaped, Enforcement: enf}, nil
}

func (p *Anthropic) Execute(ctx context.Context, action string, shaped *plugin.Shaped, creds plugin.Credentials, opts plugin.Options) (*plugin.Result, error) {
	if action != ActionMessages {
		return nil, &plugin.ValidationError{Reason: fmt.Sprintf("action %q not supported", action)}
	}
	base := strings.TrimRight(creds.Config["base_url"], "/")
	if base == "" {
		base = p.baseURL
	}
	headers := map[string]string{
		"x-api-key":         creds.Secret,
		"anthropic-version": anthropicAPIVersion,
	}
	return plugin.PostJSON(ctx, opts, base+"/messages", headers, shaped.Body, shaped.Enforcement.Stream)
}

func (p *Anthropic) ExtractUsage(raw []byte) (*model.Usage, error) {
	var resp struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse usage: %w", err)
	}
	if resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0 {
		return nil, nil
	}
	return &model.Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Model:        resp.Model,
	}, nil
}

func (p *Anthropic) MapError(err error) *plugin.UpstreamError {
	return plugin.MapHTTPError(err)
}
