// Package pop implements the proof-of-possession scheme that authenticates
// every proxied request. Apps sign a canonical serialization of the request
// with their Ed25519 private key; the gateway verifies the signature against
// the public key registered at pairing time.
package pop

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Version is the only protocol version this build understands.
const Version = "1"

// Header names carrying the PoP material.
const (
	HeaderVersion   = "x-pop-v"
	HeaderAppID     = "x-app-id"
	HeaderTimestamp = "x-ts"
	HeaderNonce     = "x-nonce"
	HeaderSignature = "x-sig"
)

// CanonicalString builds the deterministic byte string an app signs. Fields
// are newline-joined: protocol tag, uppercased method, path+query, app ID,
// unix-seconds timestamp, nonce, and the base64url SHA-256 of the raw body.
// The body hash is always computed, even for an empty body, so "no body" and
// "omitted body" are never ambiguous.
func CanonicalString(method, pathAndQuery, appID, timestamp, nonce string, body []byte) string {
	sum := sha256.Sum256(body)
	return strings.Join([]string{
		"v" + Version,
		strings.ToUpper(method),
		pathAndQuery,
		appID,
		timestamp,
		nonce,
		base64.RawURLEncoding.EncodeToString(sum[:]),
	}, "\n")
}

// Sign produces the base64url signature over the canonical string. Used by
// the client SDK side of the handshake and by tests.
func Sign(priv ed25519.PrivateKey, canonical string) string {
	sig := ed25519.Sign(priv, []byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sig)
}
