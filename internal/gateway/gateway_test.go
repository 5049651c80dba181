package gateway

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/glueco/keywarden/internal/counter"
	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/plugin"
	"github.com/glueco/keywarden/internal/plugin/llm"
	"github.com/glueco/keywarden/internal/policy"
	"github.com/glueco/keywarden/internal/pop"
	"github.com/glueco/keywarden/internal/secret"
	"github.com/glueco/keywarden/internal/store"
)

type fixture struct {
	gw       *Gateway
	app      *model.App
	priv     ed25519.PrivateKey
	apps     map[string]*model.App
	perms    map[string]*model.Permission
	logs     []*model.RequestLog
	upstream *httptest.Server
}

type fakeApps struct{ apps map[string]*model.App }

func (f *fakeApps) GetApp(ctx context.Context, id string) (*model.App, error) {
	app, ok := f.apps[id]
	if !ok {
		return nil, pop.ErrAppNotFound
	}
	return app, nil
}

type fakePerms struct{ perms map[string]*model.Permission }

func (f *fakePerms) GetActivePermission(ctx context.Context, appID, resourceID, action string) (*model.Permission, error) {
	return f.perms[appID+":"+resourceID+":"+action], nil
}

type fakeResources struct{ resources map[string]*model.Resource }

func (f *fakeResources) GetResource(ctx context.Context, resourceID string) (*model.Resource, error) {
	res, ok := f.resources[resourceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return res, nil
}

type captureLogs struct{ records chan *model.RequestLog }

func (c *captureLogs) InsertRequestLog(ctx context.Context, rl *model.RequestLog) error {
	select {
	case c.records <- rl:
	default:
	}
	return nil
}

// newFixture wires a full gateway over in-memory stores and an httptest
// upstream speaking the OpenAI dialect.
func newFixture(t *testing.T, upstream http.Handler, perm *model.Permission) *fixture {
	t.Helper()

	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	app := &model.App{
		ID:        "app_1",
		Name:      "scheduler",
		Status:    model.AppActive,
		PublicKey: base64.RawURLEncoding.EncodeToString(pub),
	}

	box := secret.NewBox([]byte("master-key"))
	sealed, err := box.Seal("gsk-upstream-key")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	apps := map[string]*model.App{app.ID: app}
	perms := map[string]*model.Permission{}
	if perm != nil {
		perm.AppID = app.ID
		perms[app.ID+":"+perm.ResourceID+":"+perm.Action] = perm
	}

	counters := counter.NewMemory()
	t.Cleanup(func() { counters.Close() })

	registry := plugin.NewRegistry()
	registry.Register(llm.NewOpenAI())
	registry.Register(llm.NewGroq())

	logs := &captureLogs{records: make(chan *model.RequestLog, 16)}

	gw := New(Config{
		Verifier: pop.NewVerifier(&fakeApps{apps}, counters, 0),
		Resolver: policy.NewResolver(&fakePerms{perms}, nil),
		Enforcer: policy.NewEnforcer(counters, nil),
		Plugins:  registry,
		Resources: &fakeResources{resources: map[string]*model.Resource{
			"llm:groq": {
				ResourceID:   "llm:groq",
				ResourceType: "llm",
				Provider:     "groq",
				SecretEnc:    sealed,
				Config:       map[string]string{"base_url": srv.URL},
				IsActive:     true,
			},
		}},
		Secrets: box,
		Logs:    logs,
	})

	return &fixture{gw: gw, app: app, priv: priv, apps: apps, perms: perms, upstream: srv}
}

// signedRequest builds a PoP-signed request against the gateway.
func (f *fixture) signedRequest(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := fmt.Sprintf("nonce-%d-%s", time.Now().UnixNano(), path[len(path)-1:])

	canonical := pop.CanonicalString(method, r.URL.RequestURI(), f.app.ID, ts, nonce, body)
	r.Header.Set(pop.HeaderVersion, pop.Version)
	r.Header.Set(pop.HeaderAppID, f.app.ID)
	r.Header.Set(pop.HeaderTimestamp, ts)
	r.Header.Set(pop.HeaderNonce, nonce)
	r.Header.Set(pop.HeaderSignature, pop.Sign(f.priv, canonical))
	return r
}

func chatBody(t *testing.T, overrides map[string]interface{}) []byte {
	t.Helper()
	body := map[string]interface{}{
		"model":    "llama-3.1-8b-instant",
		"messages": []interface{}{map[string]interface{}{"role": "user", "content": "hi"}},
	}
	for k, v := range overrides {
		body[k] = v
	}
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return b
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error envelope %q: %v", rec.Body.String(), err)
	}
	return resp.Error.Code
}

func okUpstream() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "llama-3.1-8b-instant",
			"choices": []interface{}{
				map[string]interface{}{"message": map[string]interface{}{"role": "assistant", "content": "hello"}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})
}

func TestProxyHappyPath(t *testing.T) {
	f := newFixture(t, okUpstream(), &model.Permission{
		ID: "perm_1", ResourceID: "llm:groq", Action: "chat.completions",
		Status: model.PermissionActive,
	})

	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions", chatBody(t, nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["choices"]; !ok {
		t.Errorf("upstream response not passed through: %v", resp)
	}
}

func TestProxyV1PathAlias(t *testing.T) {
	f := newFixture(t, okUpstream(), &model.Permission{
		ID: "perm_1", ResourceID: "llm:groq", Action: "chat.completions",
		Status: model.PermissionActive,
	})

	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/v1/llm/groq/chat/completions", chatBody(t, nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRoutingCheckedBeforeAuth(t *testing.T) {
	f := newFixture(t, okUpstream(), nil)

	// No auth headers at all: an unknown destination still 404s.
	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, httptest.NewRequest("POST", "/llm/nope/chat/completions", strings.NewReader("{}")))
	if rec.Code != http.StatusNotFound || errCode(t, rec) != CodeUnknownResource {
		t.Errorf("unknown resource: status %d code %s", rec.Code, errCode(t, rec))
	}

	rec = httptest.NewRecorder()
	f.gw.ServeHTTP(rec, httptest.NewRequest("POST", "/llm/groq/images/generate", strings.NewReader("{}")))
	if rec.Code != http.StatusNotFound || errCode(t, rec) != CodeUnsupportedAction {
		t.Errorf("unsupported action: status %d code %s", rec.Code, errCode(t, rec))
	}

	// Known destination without auth headers fails authentication.
	rec = httptest.NewRecorder()
	f.gw.ServeHTTP(rec, httptest.NewRequest("POST", "/llm/groq/chat/completions", strings.NewReader("{}")))
	if rec.Code != http.StatusUnauthorized || errCode(t, rec) != CodeMissingAuth {
		t.Errorf("missing auth: status %d code %s", rec.Code, errCode(t, rec))
	}
}

func TestRateLimitThirdRequest(t *testing.T) {
	f := newFixture(t, okUpstream(), &model.Permission{
		ID: "perm_1", ResourceID: "llm:groq", Action: "chat.completions",
		Status:      model.PermissionActive,
		Rate:        &model.RateLimit{MaxRequests: 2, WindowSeconds: 60},
		Constraints: model.Constraints{AllowedModels: []string{"llama-3.1-8b-instant"}},
	})

	for i := 1; i <= 2; i++ {
		rec := httptest.NewRecorder()
		f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions", chatBody(t, nil)))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, body = %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions", chatBody(t, nil)))
	if rec.Code != http.StatusTooManyRequests || errCode(t, rec) != CodeRateLimitExceeded {
		t.Errorf("third request: status %d code %s", rec.Code, errCode(t, rec))
	}
}

func TestDisallowedModelRejectedBeforeUpstream(t *testing.T) {
	upstreamCalled := false
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalled = true
		w.Write([]byte("{}"))
	}), &model.Permission{
		ID: "perm_1", ResourceID: "llm:groq", Action: "chat.completions",
		Status:      model.PermissionActive,
		Constraints: model.Constraints{AllowedModels: []string{"llama-3.1-8b-instant"}},
	})

	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions",
		chatBody(t, map[string]interface{}{"model": "gpt-4"})))

	if rec.Code != http.StatusForbidden || errCode(t, rec) != CodeConstraintViolation {
		t.Errorf("status %d code %s", rec.Code, errCode(t, rec))
	}
	if upstreamCalled {
		t.Error("upstream was called despite constraint violation")
	}
}

func TestExhaustedRateOutranksConstraintViolation(t *testing.T) {
	f := newFixture(t, okUpstream(), &model.Permission{
		ID: "perm_1", ResourceID: "llm:groq", Action: "chat.completions",
		Status:      model.PermissionActive,
		Rate:        &model.RateLimit{MaxRequests: 1, WindowSeconds: 60},
		Constraints: model.Constraints{AllowedModels: []string{"llama-3.1-8b-instant"}},
	})

	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions", chatBody(t, nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// The rate is exhausted AND the model is disallowed: policy runs first,
	// so the caller sees the rate limit, not the constraint.
	rec = httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions",
		chatBody(t, map[string]interface{}{"model": "gpt-4"})))
	if rec.Code != http.StatusTooManyRequests || errCode(t, rec) != CodeRateLimitExceeded {
		t.Errorf("exhausted+violating request: status %d code %s, want 429 %s",
			rec.Code, errCode(t, rec), CodeRateLimitExceeded)
	}
}

func TestConstraintViolationConsumesRateSlot(t *testing.T) {
	f := newFixture(t, okUpstream(), &model.Permission{
		ID: "perm_1", ResourceID: "llm:groq", Action: "chat.completions",
		Status:      model.PermissionActive,
		Rate:        &model.RateLimit{MaxRequests: 1, WindowSeconds: 60},
		Constraints: model.Constraints{AllowedModels: []string{"llama-3.1-8b-instant"}},
	})

	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions",
		chatBody(t, map[string]interface{}{"model": "gpt-4"})))
	if rec.Code != http.StatusForbidden || errCode(t, rec) != CodeConstraintViolation {
		t.Fatalf("violating request: status %d code %s", rec.Code, errCode(t, rec))
	}

	// The increment is the enforcement point: the rejected request consumed
	// the only slot, so a well-formed follow-up is rate limited.
	rec = httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions", chatBody(t, nil)))
	if rec.Code != http.StatusTooManyRequests || errCode(t, rec) != CodeRateLimitExceeded {
		t.Errorf("follow-up request: status %d code %s, want 429 %s",
			rec.Code, errCode(t, rec), CodeRateLimitExceeded)
	}
}

func TestNonJSONBodyReachesPlugin(t *testing.T) {
	upstreamCalled := false
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalled = true
		w.Write([]byte("{}"))
	}), &model.Permission{
		ID: "perm_1", ResourceID: "llm:groq", Action: "chat.completions",
		Status: model.PermissionActive,
	})

	// A non-JSON body is passed to the plugin as empty input rather than
	// rejected by the pipeline; the plugin reports what is missing.
	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions", []byte("raw bytes, not json")))

	if rec.Code != http.StatusBadRequest || errCode(t, rec) != CodeInvalidRequest {
		t.Fatalf("status %d code %s", rec.Code, errCode(t, rec))
	}
	var resp model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !strings.Contains(resp.Error.Message, "model") {
		t.Errorf("message %q should come from the plugin's input validation", resp.Error.Message)
	}
	if upstreamCalled {
		t.Error("upstream was called with unparseable input")
	}
}

func TestPermissionDenied(t *testing.T) {
	f := newFixture(t, okUpstream(), nil)

	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions", chatBody(t, nil)))
	if rec.Code != http.StatusForbidden || errCode(t, rec) != CodePermissionDenied {
		t.Errorf("status %d code %s", rec.Code, errCode(t, rec))
	}
}

func TestInvalidSignature(t *testing.T) {
	f := newFixture(t, okUpstream(), &model.Permission{
		ID: "perm_1", ResourceID: "llm:groq", Action: "chat.completions",
		Status: model.PermissionActive,
	})

	body := chatBody(t, nil)
	r := f.signedRequest(t, "POST", "/llm/groq/chat/completions", body)
	// Tamper with the body after signing.
	tampered := bytes.Replace(body, []byte("hi"), []byte("ha"), 1)
	r.Body = io.NopCloser(bytes.NewReader(tampered))

	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized || errCode(t, rec) != CodeInvalidSignature {
		t.Errorf("status %d code %s", rec.Code, errCode(t, rec))
	}
}

func TestUpstreamErrorMapped(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}), &model.Permission{
		ID: "perm_1", ResourceID: "llm:groq", Action: "chat.completions",
		Status: model.PermissionActive,
	})

	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions", chatBody(t, nil)))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d", rec.Code)
	}
	if code := errCode(t, rec); code != "UPSTREAM_UNAVAILABLE" {
		t.Errorf("code = %s", code)
	}
}

func TestTokenBudgetBlocksAfterSpend(t *testing.T) {
	// Upstream reports 600 tokens per call; budget is 1000. First call
	// passes and records 600; second passes (600 < 1000) and records
	// another 600; third is blocked.
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "llama-3.1-8b-instant",
			"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 500, "total_tokens": 600},
		})
	}), &model.Permission{
		ID: "perm_1", ResourceID: "llm:groq", Action: "chat.completions",
		Status: model.PermissionActive,
		Tokens: &model.TokenBudget{Daily: 1000},
	})

	for i := 1; i <= 2; i++ {
		rec := httptest.NewRecorder()
		f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions", chatBody(t, nil)))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, body = %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions", chatBody(t, nil)))
	if rec.Code != http.StatusTooManyRequests || errCode(t, rec) != CodeBudgetExceeded {
		t.Errorf("status %d code %s", rec.Code, errCode(t, rec))
	}
}

func TestStreamingPassthrough(t *testing.T) {
	chunks := []string{
		`data: {"choices":[{"delta":{"content":"hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`,
		`data: [DONE]`,
	}
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if so, ok := body["stream_options"].(map[string]interface{}); !ok || so["include_usage"] != true {
			t.Errorf("include_usage not injected: %v", body["stream_options"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "%s\n\n", c)
		}
	}), &model.Permission{
		ID: "perm_1", ResourceID: "llm:groq", Action: "chat.completions",
		Status: model.PermissionActive,
	})

	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, f.signedRequest(t, "POST", "/llm/groq/chat/completions",
		chatBody(t, map[string]interface{}{"stream": true})))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, c := range chunks {
		if !strings.Contains(body, c) {
			t.Errorf("chunk %q missing from relayed stream", c)
		}
	}
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		path   string
		ok     bool
		want   string
		action string
	}{
		{"/llm/groq/chat/completions", true, "llm:groq", "chat.completions"},
		{"/v1/llm/groq/chat/completions", true, "llm:groq", "chat.completions"},
		{"/email/resend/emails/send", true, "email:resend", "emails.send"},
		{"/llm/anthropic/messages", true, "llm:anthropic", "messages"},
		{"/llm/groq", false, "", ""},
		{"/llm", false, "", ""},
		{"/", false, "", ""},
		{"/llm//chat", false, "", ""},
	}
	for _, tc := range cases {
		tgt, ok := parseTarget(tc.path)
		if ok != tc.ok {
			t.Errorf("parseTarget(%q) ok = %v, want %v", tc.path, ok, tc.ok)
			continue
		}
		if !ok {
			continue
		}
		if tgt.ResourceID() != tc.want || tgt.Action != tc.action {
			t.Errorf("parseTarget(%q) = %s %s, want %s %s", tc.path, tgt.ResourceID(), tgt.Action, tc.want, tc.action)
		}
	}
}
