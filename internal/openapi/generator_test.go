package openapi

import (
	"testing"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/plugin"
	"github.com/glueco/keywarden/internal/plugin/email"
	"github.com/glueco/keywarden/internal/plugin/llm"
)

func testRegistry() *plugin.Registry {
	reg := plugin.NewRegistry()
	reg.Register(llm.NewGroq())
	reg.Register(email.NewResend())
	return reg
}

func TestGenerateSpec(t *testing.T) {
	resources := []model.Resource{
		{ResourceID: "llm:groq", ResourceType: "llm", Provider: "groq", IsActive: true},
		{ResourceID: "email:resend", ResourceType: "email", Provider: "resend", IsActive: true},
	}

	doc := GenerateSpec(resources, testRegistry(), "https://kw.example.com/")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("OpenAPI version = %q", doc.OpenAPI)
	}
	if doc.Servers[0].URL != "https://kw.example.com" {
		t.Errorf("server URL not trimmed: %q", doc.Servers[0].URL)
	}

	chat := doc.Paths.Value("/r/llm/groq/chat/completions")
	if chat == nil || chat.Post == nil {
		t.Fatal("missing POST /r/llm/groq/chat/completions")
	}
	send := doc.Paths.Value("/r/email/resend/emails/send")
	if send == nil || send.Post == nil {
		t.Fatal("missing POST /r/email/resend/emails/send")
	}

	// Every operation requires the full PoP header set.
	found := map[string]bool{}
	for _, p := range chat.Post.Parameters {
		if p.Value != nil && p.Value.In == "header" && p.Value.Required {
			found[p.Value.Name] = true
		}
	}
	for _, h := range popHeaders {
		if !found[h] {
			t.Errorf("missing required header parameter %s", h)
		}
	}

	if chat.Post.Responses.Status(429) == nil {
		t.Error("missing 429 response")
	}
}

func TestGenerateSpecSkipsInactiveAndUnknown(t *testing.T) {
	resources := []model.Resource{
		{ResourceID: "llm:groq", ResourceType: "llm", Provider: "groq", IsActive: false},
		{ResourceID: "llm:mystery", ResourceType: "llm", Provider: "mystery", IsActive: true},
	}
	doc := GenerateSpec(resources, testRegistry(), "https://kw.example.com")
	if doc.Paths.Len() != 0 {
		t.Errorf("expected empty paths, got %d", doc.Paths.Len())
	}
}
