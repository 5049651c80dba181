package store

import "errors"

// ErrNotFound is returned when a requested record does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrCodeConsumed is returned when redeeming a pairing code that was already
// consumed. Exactly one of two concurrent redemptions succeeds; the loser
// sees this error.
var ErrCodeConsumed = errors.New("pairing code already consumed")

// ErrCodeExpired is returned when redeeming a pairing code past its TTL.
var ErrCodeExpired = errors.New("pairing code expired")
