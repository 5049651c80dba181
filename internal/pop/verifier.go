package pop

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/glueco/keywarden/internal/counter"
	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/store"
)

// Verification failures, in the order the checks run. The caller maps these
// to wire error codes; the verifier itself never writes responses.
var (
	ErrMissingAuth        = errors.New("missing authentication headers")
	ErrUnsupportedVersion = errors.New("unsupported pop protocol version")
	ErrExpiredTimestamp   = errors.New("timestamp outside freshness window")
	ErrInvalidNonce       = errors.New("nonce invalid or already used")
	ErrAppNotFound        = errors.New("app not found")
	ErrInvalidSignature   = errors.New("signature verification failed")
	ErrAppDisabled        = errors.New("app is not active")
)

// DefaultSkew is the timestamp freshness window. Seen nonces are remembered
// for the same duration: a replay outside the window is already rejected by
// the timestamp check, so the nonce record may be forgotten.
const DefaultSkew = 300 * time.Second

// minNonceLen is the minimum accepted nonce length in characters. Nonces
// carry at least 16 bytes of randomness; any reasonable encoding of that is
// at least 16 characters.
const minNonceLen = 16

// AppSource resolves app IDs to registered apps. Implementations return
// ErrAppNotFound or store.ErrNotFound (possibly wrapped) when no such app
// exists.
type AppSource interface {
	GetApp(ctx context.Context, id string) (*model.App, error)
}

// Verifier validates PoP signatures, timestamp freshness, and nonce
// uniqueness. Nonce state lives in the counter store so replay protection is
// an atomic check-and-record even across concurrent requests.
type Verifier struct {
	apps   AppSource
	nonces counter.Store
	skew   time.Duration
	now    func() time.Time
}

// NewVerifier creates a Verifier. skew <= 0 selects DefaultSkew.
func NewVerifier(apps AppSource, nonces counter.Store, skew time.Duration) *Verifier {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return &Verifier{apps: apps, nonces: nonces, skew: skew, now: time.Now}
}

// SetClock overrides the verifier's clock. Intended for tests.
func (v *Verifier) SetClock(now func() time.Time) { v.now = now }

// Verify authenticates the request against the raw body bytes. Checks
// short-circuit in a fixed order; the app record is fetched before signature
// verification out of necessity, but signature failure and disabled status
// are still reported distinctly after it. On success the authenticated app
// is returned.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, body []byte) (*model.App, error) {
	version := r.Header.Get(HeaderVersion)
	appID := r.Header.Get(HeaderAppID)
	ts := r.Header.Get(HeaderTimestamp)
	nonce := r.Header.Get(HeaderNonce)
	sig := r.Header.Get(HeaderSignature)

	if version == "" || appID == "" || ts == "" || nonce == "" || sig == "" {
		return nil, ErrMissingAuth
	}
	if version != Version {
		return nil, ErrUnsupportedVersion
	}

	tsSec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrExpiredTimestamp
	}
	drift := v.now().Unix() - tsSec
	if drift < 0 {
		drift = -drift
	}
	if time.Duration(drift)*time.Second > v.skew {
		return nil, ErrExpiredTimestamp
	}

	if len(nonce) < minNonceLen {
		return nil, ErrInvalidNonce
	}
	fresh, err := v.nonces.SetNX(ctx, "nonce:"+appID+":"+nonce, v.skew)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, ErrInvalidNonce
	}

	app, err := v.apps.GetApp(ctx, appID)
	if err != nil {
		if errors.Is(err, ErrAppNotFound) || errors.Is(err, store.ErrNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, err
	}

	pub, err := app.Ed25519PublicKey()
	if err != nil {
		return nil, ErrInvalidSignature
	}
	rawSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || len(rawSig) != ed25519.SignatureSize {
		return nil, ErrInvalidSignature
	}

	canonical := CanonicalString(r.Method, r.URL.RequestURI(), appID, ts, nonce, body)
	if !ed25519.Verify(pub, []byte(canonical), rawSig) {
		return nil, ErrInvalidSignature
	}

	if app.Status != model.AppActive {
		return nil, ErrAppDisabled
	}
	return app, nil
}
