package gateway

import (
	"errors"
	"net/http"

	"github.com/glueco/keywarden/internal/plugin"
	"github.com/glueco/keywarden/internal/policy"
	"github.com/glueco/keywarden/internal/pop"
	"github.com/glueco/keywarden/internal/store"
)

// Wire error codes. Stable strings: apps branch on these, not on messages.
const (
	CodeUnknownResource       = "UNKNOWN_RESOURCE"
	CodeUnsupportedAction     = "UNSUPPORTED_ACTION"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeMissingAuth           = "MISSING_AUTH"
	CodeUnsupportedPOPVersion = "UNSUPPORTED_POP_VERSION"
	CodeExpiredTimestamp      = "EXPIRED_TIMESTAMP"
	CodeInvalidNonce          = "INVALID_NONCE"
	CodeInvalidSignature      = "INVALID_SIGNATURE"
	CodeAppNotFound           = "APP_NOT_FOUND"
	CodeAppDisabled           = "APP_DISABLED"
	CodePermissionDenied      = "PERMISSION_DENIED"
	CodeConstraintViolation   = "CONSTRAINT_VIOLATION"
	CodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	CodeBudgetExceeded        = "BUDGET_EXCEEDED"
	CodeInvalidConnectCode    = "INVALID_CONNECT_CODE"
	CodeSessionExpired        = "SESSION_EXPIRED"
	CodeUpstreamError         = "UPSTREAM_ERROR"
	CodeInternal              = "INTERNAL"
)

// apiError pairs an HTTP status with a taxonomy code and caller-facing
// message.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

func newAPIError(status int, code, message string) *apiError {
	return &apiError{Status: status, Code: code, Message: message}
}

// classify translates the pipeline's sentinel errors into the wire taxonomy.
// Unknown errors become INTERNAL without leaking detail.
func classify(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}

	switch {
	case errors.Is(err, pop.ErrMissingAuth):
		return newAPIError(http.StatusUnauthorized, CodeMissingAuth, "authentication headers are required")
	case errors.Is(err, pop.ErrUnsupportedVersion):
		return newAPIError(http.StatusBadRequest, CodeUnsupportedPOPVersion, "unsupported signature protocol version")
	case errors.Is(err, pop.ErrExpiredTimestamp):
		return newAPIError(http.StatusUnauthorized, CodeExpiredTimestamp, "request timestamp is outside the freshness window")
	case errors.Is(err, pop.ErrInvalidNonce):
		return newAPIError(http.StatusUnauthorized, CodeInvalidNonce, "nonce is invalid or was already used")
	case errors.Is(err, pop.ErrInvalidSignature):
		return newAPIError(http.StatusUnauthorized, CodeInvalidSignature, "signature verification failed")
	case errors.Is(err, pop.ErrAppNotFound):
		return newAPIError(http.StatusUnauthorized, CodeAppNotFound, "app is not registered")
	case errors.Is(err, pop.ErrAppDisabled):
		return newAPIError(http.StatusForbidden, CodeAppDisabled, "app is suspended or revoked")
	case errors.Is(err, policy.ErrPermissionDenied):
		return newAPIError(http.StatusForbidden, CodePermissionDenied, "no permission covers this resource and action")
	case errors.Is(err, policy.ErrRateLimited):
		return newAPIError(http.StatusTooManyRequests, CodeRateLimitExceeded, "rate limit exceeded")
	case errors.Is(err, policy.ErrBudgetExceeded):
		return newAPIError(http.StatusTooManyRequests, CodeBudgetExceeded, "usage budget exceeded")
	case errors.Is(err, store.ErrCodeConsumed):
		return newAPIError(http.StatusBadRequest, CodeInvalidConnectCode, "connect code was already used")
	case errors.Is(err, store.ErrCodeExpired):
		return newAPIError(http.StatusGone, CodeSessionExpired, "connect code has expired")
	}

	var ve *plugin.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, CodeInvalidRequest, ve.Reason)
	}
	var ce *plugin.ConstraintError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusForbidden, CodeConstraintViolation, ce.Reason)
	}
	var ue *plugin.UpstreamError
	if errors.As(err, &ue) {
		return newAPIError(ue.Status, ue.Code, ue.Message)
	}

	return newAPIError(http.StatusInternalServerError, CodeInternal, "internal error")
}
