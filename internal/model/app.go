package model

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"
)

// AppStatus is the lifecycle state of a paired target app.
type AppStatus string

const (
	AppActive    AppStatus = "ACTIVE"
	AppSuspended AppStatus = "SUSPENDED"
	AppRevoked   AppStatus = "REVOKED"
)

// App is a third-party application that has completed the pairing handshake.
// Each app holds its own Ed25519 keypair; the gateway stores only the public
// key and authenticates every request by proof-of-possession signature.
// Revoked apps fail all future authentication.
type App struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Homepage    string    `json:"homepage" db:"homepage"`
	Status      AppStatus `json:"status" db:"status"`
	PublicKey   string    `json:"public_key" db:"public_key"` // base64url raw Ed25519 key
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Ed25519PublicKey decodes the stored public key into a usable Ed25519 key.
func (a *App) Ed25519PublicKey() (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(a.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
