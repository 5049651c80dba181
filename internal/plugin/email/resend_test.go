package email

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/plugin"
)

func validSend() map[string]interface{} {
	return map[string]interface{}{
		"from":    "noreply@example.com",
		"to":      []interface{}{"a@example.com"},
		"subject": "hello",
		"text":    "body",
	}
}

func TestResendRejectsDisallowedSender(t *testing.T) {
	p := NewResend()
	input := validSend()
	input["from"] = "spoof@example.com"

	_, err := p.ValidateAndShape(ActionSend, input, model.Constraints{
		AllowedSenders: []string{"noreply@example.com"},
	})
	var ce *plugin.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConstraintError", err)
	}
}

func TestResendEnforcesMaxRecipients(t *testing.T) {
	p := NewResend()
	input := validSend()
	input["to"] = []interface{}{"a@example.com", "b@example.com", "c@example.com"}

	_, err := p.ValidateAndShape(ActionSend, input, model.Constraints{MaxRecipients: 2})
	var ce *plugin.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConstraintError", err)
	}

	if _, err := p.ValidateAndShape(ActionSend, input, model.Constraints{MaxRecipients: 3}); err != nil {
		t.Fatalf("3 recipients under limit 3: %v", err)
	}
}

func TestResendValidation(t *testing.T) {
	p := NewResend()
	cases := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"missing from", func(m map[string]interface{}) { delete(m, "from") }},
		{"missing to", func(m map[string]interface{}) { delete(m, "to") }},
		{"empty to list", func(m map[string]interface{}) { m["to"] = []interface{}{} }},
		{"missing subject", func(m map[string]interface{}) { delete(m, "subject") }},
		{"non-string recipient", func(m map[string]interface{}) { m["to"] = []interface{}{42} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validSend()
			tc.mutate(input)
			_, err := p.ValidateAndShape(ActionSend, input, model.Constraints{})
			var ve *plugin.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestResendSingleRecipientString(t *testing.T) {
	p := NewResend()
	input := validSend()
	input["to"] = "only@example.com"

	if _, err := p.ValidateAndShape(ActionSend, input, model.Constraints{MaxRecipients: 1}); err != nil {
		t.Fatalf("single string recipient: %v", err)
	}
}

func TestResendExecute(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Write([]byte(`{"id":"re_123"}`))
	}))
	defer srv.Close()

	p := NewResend()
	shaped, err := p.ValidateAndShape(ActionSend, validSend(), model.Constraints{})
	if err != nil {
		t.Fatalf("ValidateAndShape: %v", err)
	}
	res, err := p.Execute(context.Background(), ActionSend, shaped,
		plugin.Credentials{Secret: "re-key", Config: map[string]string{"base_url": srv.URL}},
		plugin.Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotAuth != "Bearer re-key" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotPath != "/emails" {
		t.Errorf("path = %q", gotPath)
	}

	usage, err := p.ExtractUsage(res.JSON)
	if err != nil || usage != nil {
		t.Errorf("ExtractUsage = %+v, %v; want nil, nil", usage, err)
	}
}
