package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/pairing"
	"github.com/glueco/keywarden/internal/secret"
	"github.com/glueco/keywarden/internal/service"
	"github.com/glueco/keywarden/internal/store"
)

// SystemHandler manages Keywarden's own configuration: resources, apps,
// permissions, pairing codes, connect requests, and the request log.
type SystemHandler struct {
	store      *store.Store
	authSvc    *service.AuthService
	secrets    *secret.Box
	gatewayURL string
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(st *store.Store, authSvc *service.AuthService, secrets *secret.Box, gatewayURL string) *SystemHandler {
	return &SystemHandler{
		store:      st,
		authSvc:    authSvc,
		secrets:    secrets,
		gatewayURL: gatewayURL,
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   int64  `json:"admin_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an admin and returns a JWT session token.
// POST /api/v1/system/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}

	admin, token, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
		case errors.Is(err, service.ErrAccountDisabled):
			writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Account is disabled")
		default:
			writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Authentication error")
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.authSvc.TTL().Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// Logout invalidates the current session. Since JWTs are stateless, this is
// a no-op on the server side. Clients should discard their token.
// DELETE /api/v1/system/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

// ---------------------------------------------------------------------------
// Resource management
// ---------------------------------------------------------------------------

type resourceRequest struct {
	Name         string            `json:"name"`
	ResourceType string            `json:"resource_type"`
	Provider     string            `json:"provider"`
	Secret       string            `json:"secret"`
	Config       map[string]string `json:"config,omitempty"`
	IsActive     *bool             `json:"is_active,omitempty"`
}

// CreateResource registers a new upstream credential. The plaintext secret is
// sealed before it touches the database and is never returned.
// POST /api/v1/system/resources
func (h *SystemHandler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if req.ResourceType == "" || req.Provider == "" || req.Secret == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST",
			"resource_type, provider, and secret are required")
		return
	}

	sealed, err := h.secrets.Seal(req.Secret)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to seal secret")
		return
	}

	res := &model.Resource{
		Name:         req.Name,
		ResourceType: req.ResourceType,
		Provider:     req.Provider,
		SecretEnc:    sealed,
		Config:       req.Config,
		IsActive:     true,
	}
	if req.IsActive != nil {
		res.IsActive = *req.IsActive
	}
	if err := h.store.CreateResource(r.Context(), res); err != nil {
		writeError(w, r, http.StatusConflict, "INVALID_REQUEST", "Failed to create resource: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListResources returns all configured resources. Secrets stay sealed and
// are excluded from serialization.
// GET /api/v1/system/resources
func (h *SystemHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.store.ListResources(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to list resources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": resources})
}

// GetResource returns one resource by its "type:provider" identifier.
// GET /api/v1/system/resources/{resourceID}
func (h *SystemHandler) GetResource(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.GetResource(r.Context(), chi.URLParam(r, "resourceID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "UNKNOWN_RESOURCE", "Resource not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to load resource")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UpdateResource modifies a resource. An empty secret keeps the stored one;
// a non-empty secret is sealed and replaces it.
// PATCH /api/v1/system/resources/{resourceID}
func (h *SystemHandler) UpdateResource(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")
	existing, err := h.store.GetResource(r.Context(), resourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "UNKNOWN_RESOURCE", "Resource not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to load resource")
		return
	}

	var req resourceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Secret != "" {
		sealed, err := h.secrets.Seal(req.Secret)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to seal secret")
			return
		}
		existing.SecretEnc = sealed
	}
	if req.Config != nil {
		existing.Config = req.Config
	}
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}

	if err := h.store.UpdateResource(r.Context(), existing); err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to update resource")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// DeleteResource removes a resource. Apps holding permissions on it will get
// UNKNOWN_RESOURCE on their next call.
// DELETE /api/v1/system/resources/{resourceID}
func (h *SystemHandler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteResource(r.Context(), chi.URLParam(r, "resourceID")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "UNKNOWN_RESOURCE", "Resource not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to delete resource")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ---------------------------------------------------------------------------
// App management
// ---------------------------------------------------------------------------

// ListApps returns all paired apps.
// GET /api/v1/system/apps
func (h *SystemHandler) ListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.store.ListApps(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to list apps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": apps})
}

// GetApp returns one app with its permissions.
// GET /api/v1/system/apps/{appID}
func (h *SystemHandler) GetApp(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	app, err := h.store.GetApp(r.Context(), appID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "APP_NOT_FOUND", "App not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to load app")
		return
	}
	perms, err := h.store.ListPermissionsByApp(r.Context(), appID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to load permissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"app":         app,
		"permissions": perms,
	})
}

type appStatusRequest struct {
	Status model.AppStatus `json:"status"`
}

// UpdateAppStatus suspends, resumes, or revokes an app. Revocation is
// terminal and cascades to the app's active permissions.
// PATCH /api/v1/system/apps/{appID}
func (h *SystemHandler) UpdateAppStatus(w http.ResponseWriter, r *http.Request) {
	var req appStatusRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	switch req.Status {
	case model.AppActive, model.AppSuspended, model.AppRevoked:
	default:
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST",
			"status must be ACTIVE, SUSPENDED, or REVOKED")
		return
	}

	appID := chi.URLParam(r, "appID")
	if err := h.store.UpdateAppStatus(r.Context(), appID, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "APP_NOT_FOUND", "App not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to update app")
		return
	}
	app, err := h.store.GetApp(r.Context(), appID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to load app")
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// ---------------------------------------------------------------------------
// Permission management
// ---------------------------------------------------------------------------

type grantRequest struct {
	ResourceID  string             `json:"resource_id"`
	Action      string             `json:"action"`
	Constraints *model.Constraints `json:"constraints,omitempty"`
	ValidFrom   *time.Time         `json:"valid_from,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	Window      *model.TimeWindow  `json:"time_window,omitempty"`
	Rate        *model.RateLimit   `json:"rate_limit,omitempty"`
	Burst       *model.Burst       `json:"burst,omitempty"`
	Quota       *model.Quota       `json:"quota,omitempty"`
	Tokens      *model.TokenBudget `json:"token_budget,omitempty"`
}

func (g *grantRequest) toPermission(appID string) *model.Permission {
	p := &model.Permission{
		AppID:      appID,
		ResourceID: g.ResourceID,
		Action:     g.Action,
		Status:     model.PermissionActive,
		ValidFrom:  g.ValidFrom,
		ExpiresAt:  g.ExpiresAt,
		Window:     g.Window,
		Rate:       g.Rate,
		Burst:      g.Burst,
		Quota:      g.Quota,
		Tokens:     g.Tokens,
	}
	if g.Constraints != nil {
		p.Constraints = *g.Constraints
	}
	return p
}

// CreatePermission grants an app a new permission directly, outside the
// connect flow.
// POST /api/v1/system/apps/{appID}/permissions
func (h *SystemHandler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	if _, err := h.store.GetApp(r.Context(), appID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "APP_NOT_FOUND", "App not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to load app")
		return
	}

	var req grantRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if req.ResourceID == "" || req.Action == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "resource_id and action are required")
		return
	}

	perm := req.toPermission(appID)
	if err := h.store.CreatePermission(r.Context(), perm); err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to create permission")
		return
	}
	writeJSON(w, http.StatusCreated, perm)
}

// ListPermissions returns all permissions for an app, revoked ones included.
// GET /api/v1/system/apps/{appID}/permissions
func (h *SystemHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissionsByApp(r.Context(), chi.URLParam(r, "appID"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to list permissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": perms})
}

// UpdatePermission tightens or loosens the policy bundle on an existing
// permission. Takes effect on the app's next request.
// PATCH /api/v1/system/permissions/{permissionID}
func (h *SystemHandler) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	perm, err := h.store.GetPermission(r.Context(), chi.URLParam(r, "permissionID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "PERMISSION_DENIED", "Permission not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to load permission")
		return
	}

	var req grantRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if req.Constraints != nil {
		perm.Constraints = *req.Constraints
	}
	if req.ValidFrom != nil {
		perm.ValidFrom = req.ValidFrom
	}
	if req.ExpiresAt != nil {
		perm.ExpiresAt = req.ExpiresAt
	}
	if req.Window != nil {
		perm.Window = req.Window
	}
	if req.Rate != nil {
		perm.Rate = req.Rate
	}
	if req.Burst != nil {
		perm.Burst = req.Burst
	}
	if req.Quota != nil {
		perm.Quota = req.Quota
	}
	if req.Tokens != nil {
		perm.Tokens = req.Tokens
	}

	if err := h.store.UpdatePermission(r.Context(), perm); err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to update permission")
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

// RevokePermission revokes a single permission immediately.
// DELETE /api/v1/system/permissions/{permissionID}
func (h *SystemHandler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RevokePermission(r.Context(), chi.URLParam(r, "permissionID")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "PERMISSION_DENIED", "Permission not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to revoke permission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ---------------------------------------------------------------------------
// Pairing codes
// ---------------------------------------------------------------------------

// CreatePairingCode mints a one-time pairing code and returns it together
// with the portable pairing string the owner pastes into the target app.
// POST /api/v1/system/pairing-codes
func (h *SystemHandler) CreatePairingCode(w http.ResponseWriter, r *http.Request) {
	code, err := pairing.NewCode()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to mint code")
		return
	}
	pc := &model.PairingCode{
		Code:       code,
		GatewayURL: h.gatewayURL,
		State:      model.PairingIssued,
		ExpiresAt:  time.Now().Add(pairing.CodeTTL),
	}
	if err := h.store.CreatePairingCode(r.Context(), pc); err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to store code")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"code":           pc.Code,
		"pairing_string": pairing.PairingString(h.gatewayURL, pc.Code),
		"expires_at":     pc.ExpiresAt,
	})
}

// ---------------------------------------------------------------------------
// Connect requests
// ---------------------------------------------------------------------------

// ListConnectRequests returns connect requests, optionally filtered by
// status (?status=PENDING).
// GET /api/v1/system/connect-requests
func (h *SystemHandler) ListConnectRequests(w http.ResponseWriter, r *http.Request) {
	status := model.ConnectRequestStatus(queryString(r, "status"))
	crs, err := h.store.ListConnectRequests(r.Context(), status)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to list connect requests")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": crs})
}

// GetConnectRequest returns a single connect request.
// GET /api/v1/system/connect-requests/{requestID}
func (h *SystemHandler) GetConnectRequest(w http.ResponseWriter, r *http.Request) {
	cr, err := h.store.GetConnectRequest(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "INVALID_CONNECT_CODE", "Connect request not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to load connect request")
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

type approveRequest struct {
	// Grants are the permissions the owner actually approves. They may be a
	// subset of what the app asked for, with tighter constraints. Requested
	// duration hints are advisory only: nothing is granted that is not
	// listed here.
	Grants []grantRequest `json:"grants"`
}

// ApproveConnectRequest approves a pending connect request: it creates the
// App from the recorded metadata and public key, creates the granted
// permissions, and marks the request APPROVED. If the app registered a
// redirect URI the response carries the decorated redirect target.
// POST /api/v1/system/connect-requests/{requestID}/approve
func (h *SystemHandler) ApproveConnectRequest(w http.ResponseWriter, r *http.Request) {
	cr, err := h.store.GetConnectRequest(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "INVALID_CONNECT_CODE", "Connect request not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to load connect request")
		return
	}
	if cr.Status != model.ConnectPending {
		writeError(w, r, http.StatusConflict, "INVALID_REQUEST", "Connect request already decided")
		return
	}

	var req approveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if len(req.Grants) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "At least one grant is required")
		return
	}
	for _, g := range req.Grants {
		if g.ResourceID == "" || g.Action == "" {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST",
				"each grant needs resource_id and action")
			return
		}
	}

	app := &model.App{
		Name:        cr.AppName,
		Description: cr.AppDescription,
		Homepage:    cr.AppHomepage,
		Status:      model.AppActive,
		PublicKey:   cr.PublicKey,
	}
	if err := h.store.CreateApp(r.Context(), app); err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to create app")
		return
	}
	perms := make([]model.Permission, 0, len(req.Grants))
	for _, g := range req.Grants {
		perm := g.toPermission(app.ID)
		if err := h.store.CreatePermission(r.Context(), perm); err != nil {
			writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to create permission")
			return
		}
		perms = append(perms, *perm)
	}

	if err := h.store.DecideConnectRequest(r.Context(), cr.ID, model.ConnectApproved, &app.ID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to record decision")
		return
	}

	resp := map[string]interface{}{
		"status":      model.ConnectApproved,
		"app":         app,
		"permissions": perms,
	}
	if cr.RedirectURI != "" {
		resp["redirect"] = decorateRedirect(cr.RedirectURI, string(model.ConnectApproved), app.ID, latestExpiry(perms))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DenyConnectRequest denies a pending connect request. Denial is terminal;
// nothing is created.
// POST /api/v1/system/connect-requests/{requestID}/deny
func (h *SystemHandler) DenyConnectRequest(w http.ResponseWriter, r *http.Request) {
	cr, err := h.store.GetConnectRequest(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "INVALID_CONNECT_CODE", "Connect request not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to load connect request")
		return
	}
	if cr.Status != model.ConnectPending {
		writeError(w, r, http.StatusConflict, "INVALID_REQUEST", "Connect request already decided")
		return
	}
	if err := h.store.DecideConnectRequest(r.Context(), cr.ID, model.ConnectDenied, nil); err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to record decision")
		return
	}
	resp := map[string]interface{}{"status": model.ConnectDenied}
	if cr.RedirectURI != "" {
		resp["redirect"] = decorateRedirect(cr.RedirectURI, string(model.ConnectDenied), "", nil)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Observability
// ---------------------------------------------------------------------------

// ListRequestLogs returns recent request logs, optionally filtered to one
// app (?app_id=) and capped by ?limit= (default 100, max 1000).
// GET /api/v1/system/logs
func (h *SystemHandler) ListRequestLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.store.ListRequestLogs(r.Context(), queryString(r, "app_id"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to list request logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": logs})
}

// GetUsage aggregates usage for one app since a starting instant
// (?since=RFC3339, default 30 days back).
// GET /api/v1/system/apps/{appID}/usage
func (h *SystemHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	since := time.Now().AddDate(0, 0, -30)
	if raw := queryString(r, "since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "since must be RFC3339")
			return
		}
		since = parsed
	}
	summary, err := h.store.SummarizeUsage(r.Context(), chi.URLParam(r, "appID"), since)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Failed to summarize usage")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
