package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/store"
)

func newTestAuth(t *testing.T, ttl time.Duration) (*AuthService, *store.Store) {
	t.Helper()
	s, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	auth := NewAuthService(s, "test-secret-key-for-jwt", ttl)
	return auth, s
}

func createAdmin(t *testing.T, s *store.Store, email, password string) *model.Admin {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	admin := &model.Admin{Email: email, PasswordHash: hash, Name: "Owner", IsActive: true}
	if err := s.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	return admin
}

func TestJWTRoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t, time.Hour)
	ctx := context.Background()

	token, err := auth.IssueJWT(ctx, 42, "admin@example.com")
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	principal, err := auth.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if principal.AdminID != 42 {
		t.Errorf("AdminID: got %d, want 42", principal.AdminID)
	}
	if principal.Email != "admin@example.com" {
		t.Errorf("Email: got %q, want %q", principal.Email, "admin@example.com")
	}
}

func TestJWTExpired(t *testing.T) {
	auth, _ := newTestAuth(t, time.Hour)
	ctx := context.Background()

	// An AuthService with a negative TTL issues already-expired tokens.
	expired := NewAuthService(nil, "test-secret-key-for-jwt", time.Hour)
	expired.jwtTTL = -time.Hour
	token, err := expired.IssueJWT(ctx, 1, "test@test.com")
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	if _, err := auth.ValidateJWT(ctx, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTInvalidToken(t *testing.T) {
	auth, _ := newTestAuth(t, time.Hour)

	if _, err := auth.ValidateJWT(context.Background(), "garbage.token.here"); err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestLogin(t *testing.T) {
	auth, s := newTestAuth(t, time.Hour)
	ctx := context.Background()
	createAdmin(t, s, "owner@example.com", "correct horse battery staple")

	admin, token, err := auth.Login(ctx, "owner@example.com", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if admin.Email != "owner@example.com" || token == "" {
		t.Errorf("Login = %+v, token %q", admin, token)
	}

	principal, err := auth.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if principal.AdminID != admin.ID {
		t.Errorf("principal = %+v", principal)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	auth, s := newTestAuth(t, time.Hour)
	ctx := context.Background()
	createAdmin(t, s, "owner@example.com", "right")

	if _, _, err := auth.Login(ctx, "owner@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := auth.Login(ctx, "nobody@example.com", "right"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	auth, s := newTestAuth(t, time.Hour)
	ctx := context.Background()

	hash, _ := HashPassword("pw")
	admin := &model.Admin{Email: "gone@example.com", PasswordHash: hash, IsActive: false}
	if err := s.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}

	if _, _, err := auth.Login(ctx, "gone@example.com", "pw"); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("disabled account: err = %v, want ErrAccountDisabled", err)
	}
}
