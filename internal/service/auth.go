// Package service holds the admin-side application services.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")
)

// JWTPrincipal is the authenticated admin identity carried by a session
// token.
type JWTPrincipal struct {
	AdminID int64
	Email   string
}

// AuthService authenticates admins and issues session JWTs.
type AuthService struct {
	store     *store.Store
	jwtSecret []byte
	jwtTTL    time.Duration
}

// NewAuthService creates an AuthService. ttl <= 0 defaults to one hour.
func NewAuthService(s *store.Store, jwtSecret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthService{store: s, jwtSecret: []byte(jwtSecret), jwtTTL: ttl}
}

// TTL returns the configured session lifetime.
func (s *AuthService) TTL() time.Duration { return s.jwtTTL }

// Login verifies an admin's credentials and returns the admin plus a signed
// session token. Unknown email and wrong password are indistinguishable to
// the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.Admin, string, error) {
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if !admin.IsActive {
		return nil, "", ErrAccountDisabled
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.IssueJWT(ctx, admin.ID, admin.Email)
	if err != nil {
		return nil, "", err
	}

	// Update last login timestamp (fire and forget).
	go s.store.UpdateAdminLastLogin(context.Background(), admin.ID)

	return admin, token, nil
}

// ValidateJWT verifies a session token and returns the admin identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*JWTPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &JWTPrincipal{
		AdminID: claims.AdminID,
		Email:   claims.Email,
	}, nil
}

// IssueJWT creates a new signed session token for the given admin.
func (s *AuthService) IssueJWT(ctx context.Context, adminID int64, email string) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		AdminID: adminID,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtTTL)),
			Issuer:    "keywarden",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type jwtClaims struct {
	AdminID int64  `json:"admin_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// HashPassword returns the bcrypt hash stored for admin accounts.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
