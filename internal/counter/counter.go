// Package counter provides the atomic counter store backing rate limits,
// request quotas, token budgets, and nonce replay protection. It is the only
// resource the gateway mutates concurrently per app, so every mutating
// operation is an atomic conditional update rather than read-then-write.
package counter

import (
	"context"
	"time"
)

// Store is the counter service contract. Window identity is baked into keys
// by the caller (e.g. "rl:<app>:<perm>:1712000000"), so windows reset
// deterministically without double-counting across the boundary.
type Store interface {
	// IncrWithLimit atomically increments key only if the resulting count
	// stays at or below limit. It returns the current count and whether the
	// increment was applied. Two concurrent calls can never both consume the
	// last remaining slot.
	IncrWithLimit(ctx context.Context, key string, limit int64, ttl time.Duration) (count int64, allowed bool, err error)

	// Add unconditionally adds n to key. Used for after-the-fact token usage
	// accounting where the spend is already committed upstream.
	Add(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)

	// Get returns the current count for key, zero if absent.
	Get(ctx context.Context, key string) (int64, error)

	// SetNX records key iff it is absent, with the given TTL, and reports
	// whether it was recorded. This is the atomic check-and-record primitive
	// behind nonce replay protection.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Close releases backend resources.
	Close() error
}
