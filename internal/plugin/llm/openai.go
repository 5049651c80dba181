// Package llm provides the bundled LLM provider plugins.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/plugin"
)

// Actions exposed by the OpenAI-compatible plugin.
const (
	ActionChatCompletions = "chat.completions"
	ActionEmbeddings      = "embeddings"
)

// OpenAICompatible adapts any provider speaking the OpenAI REST dialect
// (OpenAI itself, Groq, and most self-hosted inference servers). The provider
// name and default base URL distinguish registrations.
type OpenAICompatible struct {
	provider string
	baseURL  string
}

// NewOpenAI returns the plugin for api.openai.com.
func NewOpenAI() *OpenAICompatible {
	return &OpenAICompatible{provider: "openai", baseURL: "https://api.openai.com/v1"}
}

// NewGroq returns the plugin for api.groq.com, which speaks the OpenAI
// dialect unchanged.
func NewGroq() *OpenAICompatible {
	return &OpenAICompatible{provider: "groq", baseURL: "https://api.groq.com/openai/v1"}
}

func (p *OpenAICompatible) ID() string           { return "llm-" + p.provider }
func (p *OpenAICompatible) ResourceType() string { return "llm" }
func (p *OpenAICompatible) Provider() string     { return p.provider }
func (p *OpenAICompatible) Version() string      { return "1" }
func (p *OpenAICompatible) Actions() []string {
	return []string{ActionChatCompletions, ActionEmbeddings}
}

func (p *OpenAICompatible) ValidateAndShape(action string, input map[string]interface{}, c model.Constraints) (*plugin.Shaped, error) {
	switch action {
	case ActionChatCompletions:
		return shapeChat(input, c)
	case ActionEmbeddings:
		return shapeEmbeddings(input, c)
	default:
		return nil, &plugin.ValidationError{Reason: fmt.Sprintf("action %q not supported", action)}
	}
}

func shapeChat(input map[string]interface{}, c model.Constraints) (*plugin.Shaped, error) {
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

	// max_tokens is clamped down to the constraint ceiling, never rejected.
	// An absent field is pinned to the ceiling so the constraint cannot be
	// bypassed by omission.
	enf.MaxTokens = clampMaxTokens(shaped, "max_tokens", c.MaxOutputTokens)
	if mct := clampMaxTokens(shaped, "max_completion_tokens", c.MaxOutputTokens); mct > 0 {
		enf.MaxTokens = mct
	}
	if c.MaxOutputTokens > 0 && enf.MaxTokens == 0 {
		shaped["max_tokens"] = c.MaxOutputTokens
		enf.MaxTokens = c.MaxOutputTokens
	}

	if streamFlag, _ := shaped["stream"].(bool); streamFlag {
		if c.AllowStreaming != nil && !*c.AllowStreaming {
			return nil, &plugin.ConstraintError{Reason: "streaming is not permitted"}
		}
		enf.Stream = true
		// Ask the provider to append usage to the final stream chunk so the
		// gateway can account tokens after the stream completes.
		shaped["stream_options"] = map[string]interface{}{"include_usage": true}
	}

	if hasTools(shaped) {
		if c.AllowTools != nil && !*c.AllowTools {
			return nil, &plugin.ConstraintError{Reason: "tool use is not permitted"}
		}
		enf.ToolUse = true
	}

	return &plugin.Shaped{Body: shaped, Enforcement: enf}, nil
}

func shapeEmbeddings(input map[string]interface{}, c model.Constraints) (*plugin.Shaped, error) {
	modelID, ok := input["model"].(string)
	if !ok || modelID == "" {
		return nil, &plugin.ValidationError{Reason: "field \"model\" is required"}
	}
	if _, ok := input["input"]; !ok {
		return nil, &plugin.ValidationError{Reason: "field \"input\" is required"}
	}
	if !c.ModelAllowed(modelID) {
		return nil, &plugin.ConstraintError{Reason: fmt.Sprintf("model %q is not in the permission's allow-list", modelID)}
	}

	shaped := make(map[string]interface{}, len(input))
	for k, v := range input {
		shaped[k] = v
	}
	return &plugin.Shaped{Body: shaped, Enforcement: plugin.Enforcement{Model: modelID}}, nil
}

// clampMaxTokens lowers field to ceiling when set above it and returns the
// effective value (0 when the field is absent).
func clampMaxTokens(body map[string]interface{}, field string, ceiling int) int {
	v, ok := body[field]
	if !ok {
		return 0
	}
	n, ok := v.(float64) // JSON numbers decode as float64
	if !ok {
		return 0
	}
	val := int(n)
	if ceiling > 0 && val > ceiling {
		body[field] = ceiling
		return ceiling
	}
	return val
}

func hasTools(body map[string]interface{}) bool {
	if tools, ok := body["tools"].([]interface{}); ok && len(tools) > 0 {
		return true
	}
	_, ok := body["tool_choice"]
	return ok
}

func (p *OpenAICompatible) Execute(ctx context.Context, action string, shaped *plugin.Shaped, creds plugin.Credentials, opts plugin.Options) (*plugin.Result, error) {
	base := strings.TrimRight(creds.Config["base_url"], "/")
	if base == "" {
		base = p.baseURL
	}

	var path string
	switch action {
	case ActionChatCompletions:
		path = "/chat/completions"
	case ActionEmbeddings:
		path = "/embeddings"
	default:
		return nil, &plugin.ValidationError{Reason: fmt.Sprintf("action %q not supported", action)}
	}

	headers := map[string]string{"Authorization": "Bearer " + creds.Secret}
	return plugin.PostJSON(ctx, opts, base+path, headers, shaped.Body, shaped.Enforcement.Stream)
}

func (p *OpenAICompatible) ExtractUsage(raw []byte) (*model.Usage, error) {
	var resp struct {
		Model string `json:"model"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
			TotalTokens      int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse usage: %w", err)
	}
	if resp.Usage.TotalTokens == 0 && resp.Usage.PromptTokens == 0 {
		return nil, nil
	}
	total := resp.Usage.TotalTokens
	if total == 0 {
		total = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	return &model.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  total,
		Model:        resp.Model,
	}, nil
}

func (p *OpenAICompatible) MapError(err error) *plugin.UpstreamError {
	return plugin.MapHTTPError(err)
}
