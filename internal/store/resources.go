package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glueco/keywarden/internal/model"
)

// resourceRow is a flat struct matching the resources table. Config lives in
// a JSON column since providers take arbitrary key/value overrides.
type resourceRow struct {
	ID           int64     `db:"id"`
	ResourceID   string    `db:"resource_id"`
	Name         string    `db:"name"`
	ResourceType string    `db:"resource_type"`
	Provider     string    `db:"provider"`
	SecretEnc    string    `db:"secret_enc"`
	ConfigJSON   string    `db:"config_json"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func resourceRowFromModel(res *model.Resource) (resourceRow, error) {
	cfg := res.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return resourceRow{}, fmt.Errorf("marshal resource config: %w", err)
	}
	return resourceRow{
		ID:           res.ID,
		ResourceID:   res.ResourceID,
		Name:         res.Name,
		ResourceType: res.ResourceType,
		Provider:     res.Provider,
		SecretEnc:    res.SecretEnc,
		ConfigJSON:   string(configJSON),
		IsActive:     res.IsActive,
		CreatedAt:    res.CreatedAt,
		UpdatedAt:    res.UpdatedAt,
	}, nil
}

func (r resourceRow) toModel() (model.Resource, error) {
	res := model.Resource{
		ID:           r.ID,
		ResourceID:   r.ResourceID,
		Name:         r.Name,
		ResourceType: r.ResourceType,
		Provider:     r.Provider,
		SecretEnc:    r.SecretEnc,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ConfigJSON != "" && r.ConfigJSON != "{}" {
		if err := json.Unmarshal([]byte(r.ConfigJSON), &res.Config); err != nil {
			return model.Resource{}, fmt.Errorf("unmarshal resource config: %w", err)
		}
	}
	return res, nil
}

// CreateResource inserts a new shared credential. The ResourceID is derived
// from type and provider when empty. SecretEnc must already be sealed.
func (s *Store) CreateResource(ctx context.Context, res *model.Resource) error {
	if res.ResourceID == "" {
		res.ResourceID = res.ResourceType + ":" + res.Provider
	}
	now := time.Now().UTC()
	res.CreatedAt = now
	res.UpdatedAt = now

	row, err := resourceRowFromModel(res)
	if err != nil {
		return err
	}

	const q = `INSERT INTO resources
		(resource_id, name, resource_type, provider, secret_enc, config_json, is_active, created_at, updated_at)
		VALUES
		(:resource_id, :name, :resource_type, :provider, :secret_enc, :config_json, :is_active, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	res.ID = lastInsertID(result)
	return nil
}

// GetResource returns a resource by its "type:provider" resource ID.
func (s *Store) GetResource(ctx context.Context, resourceID string) (*model.Resource, error) {
	var row resourceRow
	if err := s.db.GetContext(ctx, &row, s.q("SELECT * FROM resources WHERE resource_id = ?"), resourceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get resource: %w", err)
	}
	res, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListResources returns all configured resources.
func (s *Store) ListResources(ctx context.Context) ([]model.Resource, error) {
	var rows []resourceRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM resources ORDER BY resource_id"); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	resources := make([]model.Resource, 0, len(rows))
	for _, r := range rows {
		res, err := r.toModel()
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	return resources, nil
}

// UpdateResource updates a resource's metadata, secret, and config.
func (s *Store) UpdateResource(ctx context.Context, res *model.Resource) error {
	res.UpdatedAt = time.Now().UTC()
	row, err := resourceRowFromModel(res)
	if err != nil {
		return err
	}

	const q = `UPDATE resources SET
		name = :name, secret_enc = :secret_enc, config_json = :config_json,
		is_active = :is_active, updated_at = :updated_at
		WHERE resource_id = :resource_id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update resource: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update resource rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteResource removes a resource by its resource ID. Existing permissions
// referencing it become dead grants that deny with UNKNOWN_RESOURCE.
func (s *Store) DeleteResource(ctx context.Context, resourceID string) error {
	result, err := s.db.ExecContext(ctx, s.q("DELETE FROM resources WHERE resource_id = ?"), resourceID)
	if err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete resource rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
