// Package pairing implements the connect handshake primitives: one-time
// pairing codes, the pairing string apps scan, and signed connection handles.
// Encoding and verification live together so the formats cannot drift between
// issuance and checking.
package pairing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CodeTTL is how long a minted pairing code stays redeemable.
const CodeTTL = 10 * time.Minute

// HandleTTL is the lifetime of a minted connection handle.
const HandleTTL = time.Hour

const pairingPrefix = "pair"

var (
	// ErrInvalidHandle covers malformed handles and HMAC mismatches.
	ErrInvalidHandle = errors.New("invalid connection handle")
	// ErrExpiredHandle is returned for a structurally valid, correctly
	// signed handle whose exp has passed.
	ErrExpiredHandle = errors.New("connection handle expired")
	// ErrInvalidPairingString is returned for strings that are not
	// pair::<gatewayUrl>::<code>.
	ErrInvalidPairingString = errors.New("invalid pairing string")
)

// codeAlphabet excludes ambiguous characters (0/O, 1/I/l) so codes survive
// being read aloud or retyped.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// NewCode mints a random pairing code of the form XXXX-XXXX.
func NewCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	chars := make([]byte, 8)
	for i, b := range buf {
		chars[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(chars[:4]) + "-" + string(chars[4:]), nil
}

// PairingString renders the scannable string handed to the target app.
func PairingString(gatewayURL, code string) string {
	return pairingPrefix + "::" + gatewayURL + "::" + code
}

// ParsePairingString splits a pairing string back into its gateway URL and
// code. Gateway URLs may themselves contain "://", so the code is taken from
// the final separator.
func ParsePairingString(s string) (gatewayURL, code string, err error) {
	rest, ok := strings.CutPrefix(s, pairingPrefix+"::")
	if !ok {
		return "", "", ErrInvalidPairingString
	}
	idx := strings.LastIndex(rest, "::")
	if idx <= 0 || idx == len(rest)-2 {
		return "", "", ErrInvalidPairingString
	}
	return rest[:idx], rest[idx+2:], nil
}

// handlePayload is the JSON body of a connection handle.
type handlePayload struct {
	GatewayURL string `json:"gatewayUrl"`
	AppID      string `json:"appId"`
	Exp        int64  `json:"exp"`
}

// Handle is a verified connection handle's contents.
type Handle struct {
	GatewayURL string
	AppID      string
	ExpiresAt  time.Time
}

// IsValid reports whether the handle is still live at time now.
func (h *Handle) IsValid(now time.Time) bool {
	return now.Before(h.ExpiresAt)
}

// Issuer mints and verifies connection handles with a shared HMAC key. The
// handle is a stateless bearer capability: verification needs no store
// lookup.
type Issuer struct {
	key []byte
	now func() time.Time
}

// NewIssuer creates an Issuer over the given HMAC key.
func NewIssuer(key []byte) *Issuer {
	return &Issuer{key: key, now: time.Now}
}

// SetClock overrides the time source for tests.
func (i *Issuer) SetClock(now func() time.Time) { i.now = now }

// Mint issues a handle for appID bound to gatewayURL, expiring after
// HandleTTL.
func (i *Issuer) Mint(gatewayURL, appID string) (string, time.Time, error) {
	exp := i.now().Add(HandleTTL).Truncate(time.Second)
	payload, err := json.Marshal(handlePayload{
		GatewayURL: gatewayURL,
		AppID:      appID,
		Exp:        exp.Unix(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode handle: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + i.sign(encoded), exp, nil
}

// Verify checks a handle's HMAC and expiry and returns its contents. The
// signature is checked before expiry so a tampered exp cannot change the
// error path.
func (i *Issuer) Verify(handle string) (*Handle, error) {
	encoded, sig, ok := strings.Cut(handle, ".")
	if !ok || encoded == "" || sig == "" {
		return nil, ErrInvalidHandle
	}
	if subtle.ConstantTimeCompare([]byte(i.sign(encoded)), []byte(sig)) != 1 {
		return nil, ErrInvalidHandle
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidHandle
	}
	var p handlePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrInvalidHandle
	}

	h := &Handle{
		GatewayURL: p.GatewayURL,
		AppID:      p.AppID,
		ExpiresAt:  time.Unix(p.Exp, 0),
	}
	if !h.IsValid(i.now()) {
		return nil, ErrExpiredHandle
	}
	return h, nil
}

func (i *Issuer) sign(encoded string) string {
	mac := hmac.New(sha256.New, i.key)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
