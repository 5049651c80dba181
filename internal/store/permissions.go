package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glueco/keywarden/internal/model"
)

// permissionRow is a flat struct matching the permissions table. The policy
// bundle (constraints, window, rate, burst, quota, tokens) lives in JSON
// columns since enforcement reads the whole bundle at once.
type permissionRow struct {
	ID              string     `db:"id"`
	AppID           string     `db:"app_id"`
	ResourceID      string     `db:"resource_id"`
	Action          string     `db:"action"`
	Status          string     `db:"status"`
	ConstraintsJSON string     `db:"constraints_json"`
	WindowJSON      string     `db:"window_json"`
	RateJSON        string     `db:"rate_json"`
	BurstJSON       string     `db:"burst_json"`
	QuotaJSON       string     `db:"quota_json"`
	TokensJSON      string     `db:"tokens_json"`
	ValidFrom       *time.Time `db:"valid_from"`
	ExpiresAt       *time.Time `db:"expires_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func permissionRowFromModel(p *model.Permission) (permissionRow, error) {
	row := permissionRow{
		ID:         p.ID,
		AppID:      p.AppID,
		ResourceID: p.ResourceID,
		Action:     p.Action,
		Status:     string(p.Status),
		ValidFrom:  p.ValidFrom,
		ExpiresAt:  p.ExpiresAt,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}

	constraintsJSON, err := json.Marshal(p.Constraints)
	if err != nil {
		return permissionRow{}, fmt.Errorf("marshal constraints: %w", err)
	}
	row.ConstraintsJSON = string(constraintsJSON)

	enc := func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	if p.Window != nil {
		if row.WindowJSON, err = enc(p.Window); err != nil {
			return permissionRow{}, fmt.Errorf("marshal time window: %w", err)
		}
	}
	if p.Rate != nil {
		if row.RateJSON, err = enc(p.Rate); err != nil {
			return permissionRow{}, fmt.Errorf("marshal rate limit: %w", err)
		}
	}
	if p.Burst != nil {
		if row.BurstJSON, err = enc(p.Burst); err != nil {
			return permissionRow{}, fmt.Errorf("marshal burst: %w", err)
		}
	}
	if p.Quota != nil {
		if row.QuotaJSON, err = enc(p.Quota); err != nil {
			return permissionRow{}, fmt.Errorf("marshal quota: %w", err)
		}
	}
	if p.Tokens != nil {
		if row.TokensJSON, err = enc(p.Tokens); err != nil {
			return permissionRow{}, fmt.Errorf("marshal token budget: %w", err)
		}
	}
	return row, nil
}

func (r permissionRow) toModel() (model.Permission, error) {
	p := model.Permission{
		ID:         r.ID,
		AppID:      r.AppID,
		ResourceID: r.ResourceID,
		Action:     r.Action,
		Status:     model.PermissionStatus(r.Status),
		ValidFrom:  r.ValidFrom,
		ExpiresAt:  r.ExpiresAt,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}

	if r.ConstraintsJSON != "" {
		if err := json.Unmarshal([]byte(r.ConstraintsJSON), &p.Constraints); err != nil {
			return model.Permission{}, fmt.Errorf("unmarshal constraints: %w", err)
		}
	}
	dec := func(raw string, v interface{}) error {
		if raw == "" {
			return nil
		}
		return json.Unmarshal([]byte(raw), v)
	}
	if r.WindowJSON != "" {
		p.Window = &model.TimeWindow{}
		if err := dec(r.WindowJSON, p.Window); err != nil {
			return model.Permission{}, fmt.Errorf("unmarshal time window: %w", err)
		}
	}
	if r.RateJSON != "" {
		p.Rate = &model.RateLimit{}
		if err := dec(r.RateJSON, p.Rate); err != nil {
			return model.Permission{}, fmt.Errorf("unmarshal rate limit: %w", err)
		}
	}
	if r.BurstJSON != "" {
		p.Burst = &model.Burst{}
		if err := dec(r.BurstJSON, p.Burst); err != nil {
			return model.Permission{}, fmt.Errorf("unmarshal burst: %w", err)
		}
	}
	if r.QuotaJSON != "" {
		p.Quota = &model.Quota{}
		if err := dec(r.QuotaJSON, p.Quota); err != nil {
			return model.Permission{}, fmt.Errorf("unmarshal quota: %w", err)
		}
	}
	if r.TokensJSON != "" {
		p.Tokens = &model.TokenBudget{}
		if err := dec(r.TokensJSON, p.Tokens); err != nil {
			return model.Permission{}, fmt.Errorf("unmarshal token budget: %w", err)
		}
	}
	return p, nil
}

// CreatePermission inserts a new permission grant. A UUIDv7 ID is assigned
// when empty.
func (s *Store) CreatePermission(ctx context.Context, p *model.Permission) error {
	if p.ID == "" {
		p.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = model.PermissionActive
	}

	row, err := permissionRowFromModel(p)
	if err != nil {
		return err
	}

	const q = `INSERT INTO permissions
		(id, app_id, resource_id, action, status, constraints_json, window_json,
		 rate_json, burst_json, quota_json, tokens_json, valid_from, expires_at,
		 created_at, updated_at)
		VALUES
		(:id, :app_id, :resource_id, :action, :status, :constraints_json, :window_json,
		 :rate_json, :burst_json, :quota_json, :tokens_json, :valid_from, :expires_at,
		 :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert permission: %w", err)
	}
	return nil
}

// GetPermission returns a permission by ID.
func (s *Store) GetPermission(ctx context.Context, id string) (*model.Permission, error) {
	var row permissionRow
	if err := s.db.GetContext(ctx, &row, s.q("SELECT * FROM permissions WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get permission: %w", err)
	}
	p, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetActivePermission returns the ACTIVE permission governing the
// (app, resource, action) triple, or (nil, nil) when no grant exists. At
// most one active grant per triple is maintained by CreatePermission's
// callers; the newest wins if that invariant is ever violated.
func (s *Store) GetActivePermission(ctx context.Context, appID, resourceID, action string) (*model.Permission, error) {
	var row permissionRow
	err := s.db.GetContext(ctx, &row, s.q(
		`SELECT * FROM permissions
		 WHERE app_id = ? AND resource_id = ? AND action = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`),
		appID, resourceID, action, model.PermissionActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get active permission: %w", err)
	}
	p, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPermissionsByApp returns all grants for an app, newest first.
func (s *Store) ListPermissionsByApp(ctx context.Context, appID string) ([]model.Permission, error) {
	var rows []permissionRow
	if err := s.db.SelectContext(ctx, &rows, s.q(
		"SELECT * FROM permissions WHERE app_id = ? ORDER BY created_at DESC"), appID); err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}

	perms := make([]model.Permission, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// RevokePermission marks a grant REVOKED. Revocation is immediate: the next
// request under the triple is denied.
func (s *Store) RevokePermission(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE permissions SET status = ?, updated_at = ? WHERE id = ?"),
		model.PermissionRevoked, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke permission rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePermission replaces a grant's policy bundle and validity bounds.
func (s *Store) UpdatePermission(ctx context.Context, p *model.Permission) error {
	p.UpdatedAt = time.Now().UTC()
	row, err := permissionRowFromModel(p)
	if err != nil {
		return err
	}

	const q = `UPDATE permissions SET
		status = :status, constraints_json = :constraints_json, window_json = :window_json,
		rate_json = :rate_json, burst_json = :burst_json, quota_json = :quota_json,
		tokens_json = :tokens_json, valid_from = :valid_from, expires_at = :expires_at,
		updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update permission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update permission rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
