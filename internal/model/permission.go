package model

import "time"

// PermissionStatus is the lifecycle state of a permission grant.
type PermissionStatus string

const (
	PermissionActive  PermissionStatus = "ACTIVE"
	PermissionRevoked PermissionStatus = "REVOKED"
)

// RateLimit caps sustained request throughput over a fixed window.
type RateLimit struct {
	MaxRequests   int `json:"maxRequests"`
	WindowSeconds int `json:"windowSeconds"`
}

// Burst caps short-term request throughput; it composes with RateLimit and
// is checked first.
type Burst struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"windowSeconds"`
}

// Quota caps request counts per calendar day and month. Zero means unlimited.
type Quota struct {
	Daily   int64 `json:"daily,omitempty"`
	Monthly int64 `json:"monthly,omitempty"`
}

// TokenBudget caps accumulated LLM token spend per calendar day and month.
// Zero means unlimited. Enforcement is against usage already recorded, so a
// budget blocks further spend once exceeded rather than predicting the cost
// of the request in flight.
type TokenBudget struct {
	Daily   int64 `json:"daily,omitempty"`
	Monthly int64 `json:"monthly,omitempty"`
}

// TimeWindow restricts a permission to an hour range, optionally limited to
// specific weekdays. EndHour is exclusive. A window where StartHour > EndHour
// wraps around midnight (e.g. 22..6).
type TimeWindow struct {
	StartHour int            `json:"startHour"`
	EndHour   int            `json:"endHour"`
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
}

// Contains reports whether t falls inside the window. The caller is expected
// to pass t already converted to the gateway's configured timezone.
func (w TimeWindow) Contains(t time.Time) bool {
	if len(w.Weekdays) > 0 {
		ok := false
		for _, d := range w.Weekdays {
			if t.Weekday() == d {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	h := t.Hour()
	if w.StartHour == w.EndHour {
		return true // degenerate window: all day
	}
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	// Wrap-around window, e.g. 22..6.
	return h >= w.StartHour || h < w.EndHour
}

// Permission grants one app one action on one resource, carrying its own
// policy bundle. At most one ACTIVE permission governs a given
// (app, resource, action) triple at call time.
type Permission struct {
	ID          string           `json:"id" db:"id"`
	AppID       string           `json:"app_id" db:"app_id"`
	ResourceID  string           `json:"resource_id" db:"resource_id"` // "type:provider"
	Action      string           `json:"action" db:"action"`
	Status      PermissionStatus `json:"status" db:"status"`
	Constraints Constraints      `json:"constraints"`
	ValidFrom   *time.Time       `json:"valid_from,omitempty" db:"valid_from"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty" db:"expires_at"`
	Window      *TimeWindow      `json:"time_window,omitempty"`
	Rate        *RateLimit       `json:"rate_limit,omitempty"`
	Burst       *Burst           `json:"burst,omitempty"`
	Quota       *Quota           `json:"quota,omitempty"`
	Tokens      *TokenBudget     `json:"token_budget,omitempty"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}
