package model

import "time"

// PairingCodeState is the lifecycle state of a one-time pairing code.
type PairingCodeState string

const (
	PairingIssued   PairingCodeState = "ISSUED"
	PairingConsumed PairingCodeState = "CONSUMED"
	PairingExpired  PairingCodeState = "EXPIRED"
)

// PairingCode is a one-time credential that bootstraps a new app's
// registration. Codes are bound to the gateway URL they were minted for and
// expire ten minutes after issuance. Redemption is single-use: exactly one of
// two concurrent redemption attempts may succeed.
type PairingCode struct {
	Code       string           `json:"code" db:"code"`
	GatewayURL string           `json:"gateway_url" db:"gateway_url"`
	State      PairingCodeState `json:"state" db:"state"`
	ExpiresAt  time.Time        `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}

// IsValid reports whether the code can still be redeemed at time now.
func (p *PairingCode) IsValid(now time.Time) bool {
	return p.State == PairingIssued && now.Before(p.ExpiresAt)
}

// ConnectRequestStatus is the owner-decision state of a redeemed code.
type ConnectRequestStatus string

const (
	ConnectPending  ConnectRequestStatus = "PENDING"
	ConnectApproved ConnectRequestStatus = "APPROVED"
	ConnectDenied   ConnectRequestStatus = "DENIED"
)

// DurationHint is the app's requested permission lifetime. It is a UI
// suggestion for the owner only and is never auto-approved.
type DurationHint struct {
	Preset     string     `json:"preset,omitempty"` // "1h", "24h", "7d", "30d", "forever"
	DurationMs int64      `json:"durationMs,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// RequestedPermission is one permission the installing app asks for.
type RequestedPermission struct {
	ResourceID  string        `json:"resourceId"`
	Action      string        `json:"action"`
	Constraints *Constraints  `json:"constraints,omitempty"`
	Duration    *DurationHint `json:"duration,omitempty"`
}

// ConnectRequest records a redeemed pairing code awaiting the owner's
// decision. Approval creates the App and its granted permissions; denial is
// terminal and creates nothing.
type ConnectRequest struct {
	ID             string                `json:"id" db:"id"`
	Code           string                `json:"code" db:"code"`
	AppName        string                `json:"app_name" db:"app_name"`
	AppDescription string                `json:"app_description" db:"app_description"`
	AppHomepage    string                `json:"app_homepage" db:"app_homepage"`
	PublicKey      string                `json:"public_key" db:"public_key"`
	Requested      []RequestedPermission `json:"requested_permissions"`
	RedirectURI    string                `json:"redirect_uri" db:"redirect_uri"`
	Status         ConnectRequestStatus  `json:"status" db:"status"`
	AppID          *string               `json:"app_id,omitempty" db:"app_id"`
	CreatedAt      time.Time             `json:"created_at" db:"created_at"`
	DecidedAt      *time.Time            `json:"decided_at,omitempty" db:"decided_at"`
}
