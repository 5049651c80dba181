package pop

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/glueco/keywarden/internal/counter"
	"github.com/glueco/keywarden/internal/model"
)

type fakeApps map[string]*model.App

func (f fakeApps) GetApp(_ context.Context, id string) (*model.App, error) {
	app, ok := f[id]
	if !ok {
		return nil, ErrAppNotFound
	}
	return app, nil
}

func newTestApp(t *testing.T) (*model.App, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	app := &model.App{
		ID:        "app-7f3d2a10",
		Name:      "test app",
		Status:    model.AppActive,
		PublicKey: base64.RawURLEncoding.EncodeToString(pub),
	}
	return app, priv
}

func buildSigned(priv ed25519.PrivateKey, appID, method, target string, body []byte, ts time.Time, nonce string) map[string]string {
	tsStr := strconv.FormatInt(ts.Unix(), 10)
	canonical := CanonicalString(method, target, appID, tsStr, nonce, body)
	return map[string]string{
		HeaderVersion:   Version,
		HeaderAppID:     appID,
		HeaderTimestamp: tsStr,
		HeaderNonce:     nonce,
		HeaderSignature: Sign(priv, canonical),
	}
}

func TestVerifyHappyPath(t *testing.T) {
	app, priv := newTestApp(t)
	now := time.Now()
	v := NewVerifier(fakeApps{app.ID: app}, counter.NewMemoryAt(time.Now), 0)

	body := []byte(`{"model":"llama-3.1-8b-instant"}`)
	target := "/r/llm/groq/v1/chat/completions"
	headers := buildSigned(priv, app.ID, "POST", target, body, now, "nonce-0123456789abcdef")

	r := httptest.NewRequest("POST", target, nil)
	for k, val := range headers {
		r.Header.Set(k, val)
	}

	got, err := v.Verify(context.Background(), r, body)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != app.ID {
		t.Errorf("app ID: got %q, want %q", got.ID, app.ID)
	}
}

func TestVerifyTamperedFields(t *testing.T) {
	app, priv := newTestApp(t)
	now := time.Now()
	body := []byte(`{"input":"hello"}`)
	target := "/r/llm/groq/v1/chat/completions"

	tests := []struct {
		name   string
		mutate func(r *http.Request, body []byte) []byte
	}{
		{"flip body byte", func(r *http.Request, b []byte) []byte {
			b2 := append([]byte(nil), b...)
			b2[0] ^= 0x01
			return b2
		}},
		{"different path", func(r *http.Request, b []byte) []byte {
			r.URL.Path = "/r/llm/groq/v1/embeddings"
			return b
		}},
		{"different method", func(r *http.Request, b []byte) []byte {
			r.Method = "PUT"
			return b
		}},
		{"altered timestamp", func(r *http.Request, b []byte) []byte {
			r.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix()+5, 10))
			return b
		}},
		{"altered nonce", func(r *http.Request, b []byte) []byte {
			r.Header.Set(HeaderNonce, "nonce-fedcba9876543210")
			return b
		}},
	}

	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := NewVerifier(fakeApps{app.ID: app}, counter.NewMemoryAt(time.Now), 0)
			nonce := fmt.Sprintf("nonce-%016d", i)
			headers := buildSigned(priv, app.ID, "POST", target, body, now, nonce)
			r := httptest.NewRequest("POST", target, nil)
			for k, val := range headers {
				r.Header.Set(k, val)
			}
			sendBody := tc.mutate(r, body)
			if _, err := v.Verify(context.Background(), r, sendBody); !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("got %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestVerifyNonceReplay(t *testing.T) {
	app, priv := newTestApp(t)
	now := time.Now()
	v := NewVerifier(fakeApps{app.ID: app}, counter.NewMemoryAt(time.Now), 0)
	target := "/r/llm/groq/v1/chat/completions"
	headers := buildSigned(priv, app.ID, "POST", target, nil, now, "nonce-0000000000000001")

	mk := func() *http.Request {
		r := httptest.NewRequest("POST", target, nil)
		for k, val := range headers {
			r.Header.Set(k, val)
		}
		return r
	}

	if _, err := v.Verify(context.Background(), mk(), nil); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	if _, err := v.Verify(context.Background(), mk(), nil); !errors.Is(err, ErrInvalidNonce) {
		t.Errorf("replay: got %v, want ErrInvalidNonce", err)
	}
}

func TestVerifyStaleTimestamp(t *testing.T) {
	app, priv := newTestApp(t)
	stale := time.Now().Add(-10 * time.Minute)
	v := NewVerifier(fakeApps{app.ID: app}, counter.NewMemoryAt(time.Now), 0)
	target := "/r/llm/groq/v1/chat/completions"
	headers := buildSigned(priv, app.ID, "POST", target, nil, stale, "nonce-0000000000000002")

	r := httptest.NewRequest("POST", target, nil)
	for k, val := range headers {
		r.Header.Set(k, val)
	}
	if _, err := v.Verify(context.Background(), r, nil); !errors.Is(err, ErrExpiredTimestamp) {
		t.Errorf("got %v, want ErrExpiredTimestamp", err)
	}
}

func TestVerifyUnknownAppAndDisabled(t *testing.T) {
	app, priv := newTestApp(t)
	now := time.Now()
	target := "/r/llm/groq/v1/chat/completions"

	// Unknown app.
	v := NewVerifier(fakeApps{}, counter.NewMemoryAt(time.Now), 0)
	headers := buildSigned(priv, app.ID, "POST", target, nil, now, "nonce-0000000000000003")
	r := httptest.NewRequest("POST", target, nil)
	for k, val := range headers {
		r.Header.Set(k, val)
	}
	if _, err := v.Verify(context.Background(), r, nil); !errors.Is(err, ErrAppNotFound) {
		t.Errorf("got %v, want ErrAppNotFound", err)
	}

	// Suspended app fails after a correct signature.
	suspended := *app
	suspended.Status = model.AppSuspended
	v = NewVerifier(fakeApps{app.ID: &suspended}, counter.NewMemoryAt(time.Now), 0)
	headers = buildSigned(priv, app.ID, "POST", target, nil, now, "nonce-0000000000000004")
	r = httptest.NewRequest("POST", target, nil)
	for k, val := range headers {
		r.Header.Set(k, val)
	}
	if _, err := v.Verify(context.Background(), r, nil); !errors.Is(err, ErrAppDisabled) {
		t.Errorf("got %v, want ErrAppDisabled", err)
	}
}

func TestVerifyHeaderValidation(t *testing.T) {
	app, priv := newTestApp(t)
	now := time.Now()
	v := NewVerifier(fakeApps{app.ID: app}, counter.NewMemoryAt(time.Now), 0)
	target := "/r/llm/groq/v1/chat/completions"

	// Missing signature header.
	headers := buildSigned(priv, app.ID, "POST", target, nil, now, "nonce-0000000000000005")
	r := httptest.NewRequest("POST", target, nil)
	for k, val := range headers {
		if k == HeaderSignature {
			continue
		}
		r.Header.Set(k, val)
	}
	if _, err := v.Verify(context.Background(), r, nil); !errors.Is(err, ErrMissingAuth) {
		t.Errorf("missing sig: got %v, want ErrMissingAuth", err)
	}

	// Unsupported version.
	headers = buildSigned(priv, app.ID, "POST", target, nil, now, "nonce-0000000000000006")
	r = httptest.NewRequest("POST", target, nil)
	for k, val := range headers {
		r.Header.Set(k, val)
	}
	r.Header.Set(HeaderVersion, "2")
	if _, err := v.Verify(context.Background(), r, nil); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("bad version: got %v, want ErrUnsupportedVersion", err)
	}

	// Nonce too short.
	headers = buildSigned(priv, app.ID, "POST", target, nil, now, "short")
	r = httptest.NewRequest("POST", target, nil)
	for k, val := range headers {
		r.Header.Set(k, val)
	}
	if _, err := v.Verify(context.Background(), r, nil); !errors.Is(err, ErrInvalidNonce) {
		t.Errorf("short nonce: got %v, want ErrInvalidNonce", err)
	}
}
