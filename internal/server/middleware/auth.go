package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/glueco/keywarden/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal represents the authenticated admin identity making the request.
type Principal struct {
	AdminID int64
	Email   string
}

// Authenticate returns an HTTP middleware that validates the admin session
// JWT from the Authorization Bearer header. On success, a Principal is
// attached to the request context. On failure, a 401 JSON error response
// is returned.
//
// App-facing endpoints never pass through this middleware: apps prove their
// identity per request with PoP signatures inside the gateway pipeline.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "MISSING_AUTH",
					"Authentication required. Provide a Bearer token.")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			p, err := authSvc.ValidateJWT(r.Context(), token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "MISSING_AUTH", "Invalid token")
				return
			}

			principal := &Principal{AdminID: p.AdminID, Email: p.Email}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid import cycle with handler package
	w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}`))
}
