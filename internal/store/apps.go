package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glueco/keywarden/internal/model"
)

// CreateApp inserts a new app record. A UUIDv7 ID is assigned when empty so
// app IDs sort by creation time.
func (s *Store) CreateApp(ctx context.Context, app *model.App) error {
	if app.ID == "" {
		app.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	if app.Status == "" {
		app.Status = model.AppActive
	}

	const q = `INSERT INTO apps (id, name, description, homepage, status, public_key, created_at, updated_at)
		VALUES (:id, :name, :description, :homepage, :status, :public_key, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, app); err != nil {
		return fmt.Errorf("insert app: %w", err)
	}
	return nil
}

// GetApp returns an app by ID.
func (s *Store) GetApp(ctx context.Context, id string) (*model.App, error) {
	var app model.App
	if err := s.db.GetContext(ctx, &app, s.q("SELECT * FROM apps WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get app: %w", err)
	}
	return &app, nil
}

// ListApps returns all registered apps, newest first.
func (s *Store) ListApps(ctx context.Context) ([]model.App, error) {
	var apps []model.App
	if err := s.db.SelectContext(ctx, &apps, "SELECT * FROM apps ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	return apps, nil
}

// UpdateAppStatus transitions an app's lifecycle state. Revoking an app also
// revokes all of its active permissions so the grant cannot be resurrected
// by re-activating the app.
func (s *Store) UpdateAppStatus(ctx context.Context, id string, status model.AppStatus) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE apps SET status = ?, updated_at = ? WHERE id = ?"), status, now, id)
	if err != nil {
		return fmt.Errorf("update app status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update app status rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if status == model.AppRevoked {
		if _, err := s.db.ExecContext(ctx,
			s.q("UPDATE permissions SET status = ?, updated_at = ? WHERE app_id = ? AND status = ?"),
			model.PermissionRevoked, now, id, model.PermissionActive); err != nil {
			return fmt.Errorf("revoke app permissions: %w", err)
		}
	}
	return nil
}
