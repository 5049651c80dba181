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

func boolPtr(b bool) *bool { return &b }

func TestShapeChatClampsMaxTokens(t *testing.T) {
	p := NewOpenAI()
	c := model.Constraints{MaxOutputTokens: 500}

	shaped, err := p.ValidateAndShape(ActionChatCompletions, map[string]interface{}{
		"model":      "gpt-4o-mini",
		"messages":   []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
		"max_tokens": float64(4000),
	}, c)
	if err != nil {
		t.Fatalf("ValidateAndShape: %v", err)
	}
	if got := shaped.Body["max_tokens"]; got != 500 {
		t.Errorf("max_tokens = %v, want clamped 500", got)
	}
	if shaped.Enforcement.MaxTokens != 500 {
		t.Errorf("Enforcement.MaxTokens = %d, want 500", shaped.Enforcement.MaxTokens)
	}
}

func TestShapeChatPinsAbsentMaxTokens(t *testing.T) {
	p := NewOpenAI()
	shaped, err := p.ValidateAndShape(ActionChatCompletions, map[string]interface{}{
		"model":    "gpt-4o-mini",
		"messages": []interface{}{},
	}, model.Constraints{MaxOutputTokens: 256})
	if err != nil {
		t.Fatalf("ValidateAndShape: %v", err)
	}
	if got := shaped.Body["max_tokens"]; got != 256 {
		t.Errorf("absent max_tokens = %v, want pinned 256", got)
	}
}

func TestShapeChatUnderLimitUntouched(t *testing.T) {
	p := NewOpenAI()
	shaped, err := p.ValidateAndShape(ActionChatCompletions, map[string]interface{}{
		"model":      "gpt-4o-mini",
		"messages":   []interface{}{},
		"max_tokens": float64(100),
	}, model.Constraints{MaxOutputTokens: 500})
	if err != nil {
		t.Fatalf("ValidateAndShape: %v", err)
	}
	if got := shaped.Body["max_tokens"]; got != float64(100) {
		t.Errorf("max_tokens = %v, want untouched 100", got)
	}
}

func TestShapeChatRejectsDisallowedModel(t *testing.T) {
	p := NewOpenAI()
	_, err := p.ValidateAndShape(ActionChatCompletions, map[string]interface{}{
		"model":    "gpt-4",
		"messages": []interface{}{},
	}, model.Constraints{AllowedModels: []string{"gpt-4o-mini"}})

	var ce *plugin.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConstraintError", err)
	}
}

func TestShapeChatStreaming(t *testing.T) {
	p := NewOpenAI()

	_, err := p.ValidateAndShape(ActionChatCompletions, map[string]interface{}{
		"model":    "gpt-4o-mini",
		"messages": []interface{}{},
		"stream":   true,
	}, model.Constraints{AllowStreaming: boolPtr(false)})
	var ce *plugin.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("streaming with allowStreaming=false: err = %v, want ConstraintError", err)
	}

	shaped, err := p.ValidateAndShape(ActionChatCompletions, map[string]interface{}{
		"model":    "gpt-4o-mini",
		"messages": []interface{}{},
		"stream":   true,
	}, model.Constraints{})
	if err != nil {
		t.Fatalf("ValidateAndShape: %v", err)
	}
	if !shaped.Enforcement.Stream {
		t.Error("Enforcement.Stream = false, want true")
	}
	so, ok := shaped.Body["stream_options"].(map[string]interface{})
	if !ok || so["include_usage"] != true {
		t.Errorf("stream_options = %v, want include_usage injected", shaped.Body["stream_options"])
	}
}

func TestShapeChatRejectsTools(t *testing.T) {
	p := NewOpenAI()
	_, err := p.ValidateAndShape(ActionChatCompletions, map[string]interface{}{
		"model":    "gpt-4o-mini",
		"messages": []interface{}{},
		"tools":    []interface{}{map[string]interface{}{"type": "function"}},
	}, model.Constraints{AllowTools: boolPtr(false)})

	var ce *plugin.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConstraintError", err)
	}
}

func TestShapeChatInvalidInput(t *testing.T) {
	p := NewOpenAI()
	cases := []struct {
		name  string
		input map[string]interface{}
	}{
		{"missing model", map[string]interface{}{"messages": []interface{}{}}},
		{"missing messages", map[string]interface{}{"model": "gpt-4o-mini"}},
		{"messages not array", map[string]interface{}{"model": "gpt-4o-mini", "messages": "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.ValidateAndShape(ActionChatCompletions, tc.input, model.Constraints{})
			var ve *plugin.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestExecuteUsesBaseURLOverride(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"gpt-4o-mini","usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`))
	}))
	defer srv.Close()

	p := NewOpenAI()
	shaped := &plugin.Shaped{Body: map[string]interface{}{"model": "gpt-4o-mini", "messages": []interface{}{}}}
	res, err := p.Execute(context.Background(), ActionChatCompletions, shaped,
		plugin.Credentials{Secret: "sk-test", Config: map[string]string{"base_url": srv.URL}},
		plugin.Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q, want /chat/completions", gotPath)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("upstream body = %v", gotBody)
	}

	usage, err := p.ExtractUsage(res.JSON)
	if err != nil {
		t.Fatalf("ExtractUsage: %v", err)
	}
	if usage == nil || usage.InputTokens != 10 || usage.OutputTokens != 20 || usage.TotalTokens != 30 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestExecuteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit reached"}}`))
	}))
	defer srv.Close()

	p := NewGroq()
	shaped := &plugin.Shaped{Body: map[string]interface{}{"model": "llama-3.3-70b"}}
	_, err := p.Execute(context.Background(), ActionChatCompletions, shaped,
		plugin.Credentials{Secret: "gsk-test", Config: map[string]string{"base_url": srv.URL}},
		plugin.Options{})
	if err == nil {
		t.Fatal("Execute: want error")
	}

	mapped := p.MapError(err)
	if mapped.Code != "UPSTREAM_RATE_LIMITED" || mapped.Status != http.StatusTooManyRequests {
		t.Errorf("mapped = %+v", mapped)
	}
	if mapped.Message != "rate limit reached" {
		t.Errorf("message = %q, want upstream message extracted", mapped.Message)
	}
	if !mapped.Retryable {
		t.Error("429 should be retryable")
	}
}

func TestExtractUsageAbsent(t *testing.T) {
	p := NewOpenAI()
	usage, err := p.ExtractUsage([]byte(`{"model":"gpt-4o-mini","choices":[]}`))
	if err != nil {
		t.Fatalf("ExtractUsage: %v", err)
	}
	if usage != nil {
		t.Errorf("usage = %+v, want nil when absent", usage)
	}
}
