package handler

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/pairing"
	"github.com/glueco/keywarden/internal/store"
)

// ConnectHandler implements the app-facing side of the pairing handshake:
// redeeming a one-time code and polling for the owner's decision. These
// endpoints are unauthenticated by design, which is why code redemption is
// single-use and the endpoints sit behind an IP rate limit.
type ConnectHandler struct {
	store      *store.Store
	handles    *pairing.Issuer
	gatewayURL string
}

// NewConnectHandler creates a new ConnectHandler.
func NewConnectHandler(st *store.Store, handles *pairing.Issuer, gatewayURL string) *ConnectHandler {
	return &ConnectHandler{store: st, handles: handles, gatewayURL: gatewayURL}
}

type redeemRequest struct {
	ConnectCode string `json:"connectCode"`
	App         struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Homepage    string `json:"homepage"`
	} `json:"app"`
	PublicKey   string                      `json:"publicKey"` // base64url raw Ed25519
	Permissions []model.RequestedPermission `json:"requestedPermissions"`
	RedirectURI string                      `json:"redirectUri,omitempty"`
}

// Redeem consumes a pairing code and records a pending connect request for
// the owner to decide on. A code redeems exactly once: of two concurrent
// attempts with the same code, one gets the request ID and the other gets
// INVALID_CONNECT_CODE.
// POST /connect
func (h *ConnectHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if req.ConnectCode == "" || req.App.Name == "" || req.PublicKey == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST",
			"connectCode, app.name, and publicKey are required")
		return
	}
	raw, err := base64.RawURLEncoding.DecodeString(req.PublicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST",
			"publicKey must be a base64url raw Ed25519 public key")
		return
	}
	if len(req.Permissions) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST",
			"requestedPermissions must not be empty")
		return
	}

	if err := h.store.ConsumePairingCode(r.Context(), req.ConnectCode); err != nil {
		switch {
		case errors.Is(err, store.ErrCodeExpired):
			writeError(w, r, http.StatusGone, "SESSION_EXPIRED", "Pairing code has expired")
		case errors.Is(err, store.ErrCodeConsumed), errors.Is(err, store.ErrNotFound):
			writeError(w, r, http.StatusBadRequest, "INVALID_CONNECT_CODE", "Invalid pairing code")
		default:
			writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to redeem code")
		}
		return
	}

	cr := &model.ConnectRequest{
		Code:           req.ConnectCode,
		AppName:        req.App.Name,
		AppDescription: req.App.Description,
		AppHomepage:    req.App.Homepage,
		PublicKey:      req.PublicKey,
		Requested:      req.Permissions,
		RedirectURI:    req.RedirectURI,
		Status:         model.ConnectPending,
	}
	if err := h.store.CreateConnectRequest(r.Context(), cr); err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to record connect request")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"requestId": cr.ID,
		"status":    cr.Status,
	})
}

// Poll reports the owner's decision on a connect request. Once approved, the
// response carries the app ID and a signed connection handle the app stores
// alongside its keypair.
// GET /connect/{requestID}
func (h *ConnectHandler) Poll(w http.ResponseWriter, r *http.Request) {
	cr, err := h.store.GetConnectRequest(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "INVALID_CONNECT_CODE", "Unknown connect request")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to load connect request")
		return
	}

	resp := map[string]interface{}{"status": cr.Status}
	if cr.Status == model.ConnectApproved && cr.AppID != nil {
		handle, exp, err := h.handles.Mint(h.gatewayURL, *cr.AppID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to mint handle")
			return
		}
		resp["appId"] = *cr.AppID
		resp["handle"] = handle
		resp["expiresAt"] = exp
	}
	writeJSON(w, http.StatusOK, resp)
}

// decorateRedirect appends the decision outcome to an app-supplied redirect
// URI as status, app_id, and expires_at query parameters.
func decorateRedirect(redirectURI, status, appID string, expiresAt *time.Time) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := u.Query()
	q.Set("status", status)
	if appID != "" {
		q.Set("app_id", appID)
	}
	if expiresAt != nil {
		q.Set("expires_at", strconv.FormatInt(expiresAt.Unix(), 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// latestExpiry returns the furthest-out permission expiry, or nil when any
// granted permission never expires.
func latestExpiry(perms []model.Permission) *time.Time {
	var latest *time.Time
	for i := range perms {
		exp := perms[i].ExpiresAt
		if exp == nil {
			return nil
		}
		if latest == nil || exp.After(*latest) {
			latest = exp
		}
	}
	return latest
}
