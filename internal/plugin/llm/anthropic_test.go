package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/plugin"
)

func TestAnthropicRequiresMaxTokens(t *testing.T) {
	p := NewAnthropic()

	// No caller value, no constraint: default is supplied.
	shaped, err := p.ValidateAndShape(ActionMessages, map[string]interface{}{
		"model":    "claude-sonnet-4-20250514",
		"messages": []interface{}{},
	}, model.Constraints{})
	if err != nil {
		t.Fatalf("ValidateAndShape: %v", err)
	}
	if got := shaped.Body["max_tokens"]; got != defaultAnthropicMaxTokens {
		t.Errorf("max_tokens = %v, want default %d", got, defaultAnthropicMaxTokens)
	}

	// Constraint ceiling wins over the default.
	shaped, err = p.ValidateAndShape(ActionMessages, map[string]interface{}{
		"model":    "claude-sonnet-4-20250514",
		"messages": []interface{}{},
	}, model.Constraints{MaxOutputTokens: 512})
	if err != nil {
		t.Fatalf("ValidateAndShape: %v", err)
	}
	if got := shaped.Body["max_tokens"]; got != 512 {
		t.Errorf("max_tokens = %v, want ceiling 512", got)
	}

	// Over-ceiling caller value is clamped.
	shaped, err = p.ValidateAndShape(ActionMessages, map[string]interface{}{
		"model":      "claude-sonnet-4-20250514",
		"messages":   []interface{}{},
		"max_tokens": float64(9000),
	}, model.Constraints{MaxOutputTokens: 512})
	if err != nil {
		t.Fatalf("ValidateAndShape: %v", err)
	}
	if got := shaped.Body["max_tokens"]; got != 512 {
		t.Errorf("max_tokens = %v, want clamped 512", got)
	}
}

func TestAnthropicRejectsDisallowedModel(t *testing.T) {
	p := NewAnthropic()
	_, err := p.ValidateAndShape(ActionMessages, map[string]interface{}{
		"model":    "claude-opus-4-20250514",
		"messages": []interface{}{},
	}, model.Constraints{AllowedModels: []string{"claude-sonnet-4-20250514"}})

	var ce *plugin.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConstraintError", err)
	}
}

func TestAnthropicExecuteHeaders(t *testing.T) {
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "claude-sonnet-4-20250514",
			"usage": map[string]int{"input_tokens": 7, "output_tokens": 11},
		})
	}))
	defer srv.Close()

	p := NewAnthropic()
	shaped := &plugin.Shaped{Body: map[string]interface{}{"model": "claude-sonnet-4-20250514", "max_tokens": 512}}
	res, err := p.Execute(context.Background(), ActionMessages, shaped,
		plugin.Credentials{Secret: "sk-ant-test", Config: map[string]string{"base_url": srv.URL}},
		plugin.Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotKey != "sk-ant-test" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotVersion != anthropicAPIVersion {
		t.Errorf("anthropic-version = %q", gotVersion)
	}

	usage, err := p.ExtractUsage(res.JSON)
	if err != nil {
		t.Fatalf("ExtractUsage: %v", err)
	}
	if usage == nil || usage.InputTokens != 7 || usage.OutputTokens != 11 || usage.TotalTokens != 18 {
		t.Errorf("usage = %+v", usage)
	}
}
