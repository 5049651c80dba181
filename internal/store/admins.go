package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/glueco/keywarden/internal/model"
)

// CreateAdmin inserts a new admin account. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	const q = `INSERT INTO admins (email, password_hash, name, is_active, created_at, updated_at)
		VALUES (:email, :password_hash, :name, :is_active, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, admin)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	admin.ID = lastInsertID(result)
	return nil
}

// GetAdminByEmail returns an admin by email address.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	if err := s.db.GetContext(ctx, &admin, s.q("SELECT * FROM admins WHERE email = ?"), email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	return &admin, nil
}

// HasAnyAdmin reports whether at least one admin account exists. Used for
// first-run detection to trigger the initial setup flow.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admins"); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// UpdateAdminLastLogin sets the last_login_at timestamp for an admin.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE admins SET last_login_at = ?, updated_at = ? WHERE id = ?"), now, now, id)
	if err != nil {
		return fmt.Errorf("update admin last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update admin last login rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSetting returns a settings value, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, s.q("SELECT value FROM settings WHERE key = ?"), key); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`), key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
